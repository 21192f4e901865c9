package client

import (
	"encoding/json"
	"sync"

	"go.uber.org/zap"

	"github.com/luma/paylink/protocol"
	"github.com/luma/paylink/transport"
)

// device is the slice of the connection manager the transaction
// machinery needs.
type device interface {
	On(method protocol.Method, fn transport.Handler) *transport.Listener
	Once(method protocol.Method, fn transport.Handler) *transport.Listener
	RemoveListeners(ls []*transport.Listener)
	Send(msg *protocol.Message) error
	Builder() *protocol.Builder
}

// transaction drives one sale or refund from TX_START to whichever
// terminal event resolves it first. Every listener it registers is
// torn down on resolution, and the completion callback fires at most
// once no matter how many events arrive afterward.
type transaction struct {
	dev device
	log *zap.Logger

	correlationID string
	request       interface{}
	resultKind    string
	autoSign      bool
	complete      Completion

	resolveOnce sync.Once

	mu        sync.Mutex
	listeners []*transport.Listener
	signature *Signature
}

// startTransaction registers the transient listener set, then
// transmits. A transmission failure resolves immediately without
// waiting for any terminal event.
func startTransaction(dev device, log *zap.Logger, msg *protocol.Message, correlationID string, request interface{}, resultKind string, autoSign bool, complete Completion) {
	tx := &transaction{
		dev:           dev,
		log:           log.Named("tx").With(zap.String("correlationId", correlationID)),
		correlationID: correlationID,
		request:       request,
		resultKind:    resultKind,
		autoSign:      autoSign,
		complete:      complete,
	}

	tx.mu.Lock()
	tx.listeners = []*transport.Listener{
		dev.Once(protocol.FinishOk, tx.onFinishOk),
		dev.Once(protocol.FinishCancel, tx.onFinishCancel),
		dev.On(protocol.VerifySignature, tx.onVerifySignature),
		dev.Once(transport.DeviceError, tx.onConnectionLost),
		dev.Once(transport.ConnectionError, tx.onConnectionLost),
	}
	tx.mu.Unlock()

	if err := dev.Send(msg); err != nil {
		tx.resolve(wrapError(CommunicationError, err, "failed to start transaction"), &Result{
			Code:          ResultError,
			CorrelationID: correlationID,
			Request:       request,
		})
	}
}

func (tx *transaction) onFinishOk(msg *protocol.Message) {
	result := &Result{
		Code:          ResultSuccess,
		CorrelationID: tx.correlationID,
		Request:       tx.request,
		Signature:     tx.capturedSignature(),
	}

	// The finished record arrives as a JSON string nested inside the
	// payload, keyed by the operation kind.
	raw := msg.InnerRecord(tx.resultKind)
	if len(raw) == 0 {
		result.Code = ResultError
		tx.resolve(newError(DeviceError, "terminal reported success without a %s record", tx.resultKind), result)
		return
	}

	switch tx.resultKind {
	case "payment":
		payment := &Payment{Raw: raw}
		if err := json.Unmarshal(raw, payment); err != nil {
			result.Code = ResultError
			tx.resolve(wrapError(DeviceError, err, "malformed payment record"), result)
			return
		}
		result.Payment = payment
	case "credit":
		credit := &Credit{Raw: raw}
		if err := json.Unmarshal(raw, credit); err != nil {
			result.Code = ResultError
			tx.resolve(wrapError(DeviceError, err, "malformed credit record"), result)
			return
		}
		result.Credit = credit
	}

	tx.resolve(nil, result)

	// Return the terminal to its idle display.
	if welcome, err := tx.dev.Builder().BuildShowWelcomeScreen(); err == nil {
		if err := tx.dev.Send(welcome); err != nil {
			tx.log.Warn("Failed to restore welcome screen", zap.Error(err))
		}
	}
}

func (tx *transaction) onFinishCancel(msg *protocol.Message) {
	tx.log.Info("Transaction canceled on terminal")

	tx.resolve(newError(Canceled, "transaction canceled on terminal"), &Result{
		Code:          ResultCancel,
		CorrelationID: tx.correlationID,
		Request:       tx.request,
		Signature:     tx.capturedSignature(),
	})
}

// onVerifySignature is the one non-terminal step. With automatic
// acceptance the reply goes straight back and the transaction keeps
// waiting for its finish event; without it the caller's own listeners
// see the raw event and must answer themselves.
func (tx *transaction) onVerifySignature(msg *protocol.Message) {
	if sigRaw := msg.InnerRecord("signature"); len(sigRaw) > 0 {
		sig := &Signature{}
		if err := json.Unmarshal(sigRaw, sig); err == nil {
			tx.mu.Lock()
			tx.signature = sig
			tx.mu.Unlock()
		}
	}

	if !tx.autoSign {
		return
	}

	payment := msg.InnerRecord("payment")
	if len(payment) == 0 {
		tx.resolve(newError(DeviceError, "signature verification request carried no payment"), &Result{
			Code:          ResultError,
			CorrelationID: tx.correlationID,
			Request:       tx.request,
		})
		return
	}

	accept, err := tx.dev.Builder().BuildSignatureVerified(payment)
	if err != nil {
		tx.resolve(wrapError(DeviceError, err, "failed to build signature acceptance"), nil)
		return
	}
	if err := tx.dev.Send(accept); err != nil {
		tx.resolve(wrapError(CommunicationError, err, "failed to accept signature"), nil)
	}
}

func (tx *transaction) onConnectionLost(msg *protocol.Message) {
	tx.resolve(newError(DeviceError, "connection lost during transaction"), &Result{
		Code:          ResultError,
		CorrelationID: tx.correlationID,
		Request:       tx.request,
	})
}

func (tx *transaction) capturedSignature() *Signature {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	return tx.signature
}

// paymentRefund waits on the terminal's refund flow. A lighter
// lifecycle than a full transaction: one response method, no signature
// step.
type paymentRefund struct {
	dev      device
	request  *PaymentRefundRequest
	complete Completion

	resolveOnce sync.Once

	mu        sync.Mutex
	listeners []*transport.Listener
}

func startPaymentRefund(dev device, msg *protocol.Message, request *PaymentRefundRequest, complete Completion) {
	r := &paymentRefund{
		dev:      dev,
		request:  request,
		complete: complete,
	}

	r.mu.Lock()
	r.listeners = []*transport.Listener{
		dev.Once(protocol.RefundResponse, r.onResponse),
		dev.Once(transport.DeviceError, r.onConnectionLost),
		dev.Once(transport.ConnectionError, r.onConnectionLost),
	}
	r.mu.Unlock()

	if err := dev.Send(msg); err != nil {
		r.resolve(wrapError(CommunicationError, err, "failed to send refund request"), nil)
	}
}

func (r *paymentRefund) onResponse(msg *protocol.Message) {
	result := &Result{Request: r.request}

	if raw := msg.InnerRecord("refund"); len(raw) > 0 {
		refund := &Refund{Raw: raw}
		if err := json.Unmarshal(raw, refund); err == nil {
			result.Refund = refund
		}
	}

	if code := msg.PayloadField("code").String(); code != ResultSuccess {
		result.Code = ResultError
		reason := msg.PayloadField("reason").String()
		if reason == "" {
			reason = "terminal declined the refund"
		}
		r.resolve(newError(DeviceError, "%s", reason), result)
		return
	}

	result.Code = ResultSuccess
	r.resolve(nil, result)
}

func (r *paymentRefund) onConnectionLost(*protocol.Message) {
	r.resolve(newError(DeviceError, "connection lost during refund"), &Result{
		Code:    ResultError,
		Request: r.request,
	})
}

func (r *paymentRefund) resolve(err error, result *Result) {
	r.resolveOnce.Do(func() {
		r.mu.Lock()
		listeners := r.listeners
		r.listeners = nil
		r.mu.Unlock()

		r.dev.RemoveListeners(listeners)

		if r.complete != nil {
			r.complete(err, result)
		}
	})
}

// resolve tears down the transient listener set and completes the
// caller. Removal is idempotent; once-listeners that already fired are
// safe to remove again.
func (tx *transaction) resolve(err error, result *Result) {
	tx.resolveOnce.Do(func() {
		tx.mu.Lock()
		listeners := tx.listeners
		tx.listeners = nil
		tx.mu.Unlock()

		tx.dev.RemoveListeners(listeners)

		if tx.complete != nil {
			tx.complete(err, result)
		}
	})
}
