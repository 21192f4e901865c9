package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/tidwall/sjson"
)

// Builder constructs outbound envelopes for a single protocol dialect.
type Builder struct {
	packageName string
}

// NewBuilder returns a Builder stamping packageName on every message it
// builds. An empty packageName selects the LAN dialect.
func NewBuilder(packageName string) *Builder {
	if packageName == "" {
		packageName = PackageLAN
	}
	return &Builder{packageName: packageName}
}

// PackageName returns the dialect this builder stamps on messages.
func (b *Builder) PackageName() string {
	return b.packageName
}

// Build assembles an envelope.
//
// An empty typ defaults to COMMAND. A nil payload with a non-empty
// method synthesizes a minimal `{"method":...}` payload so every
// command carries a method marker even with no data. A non-empty
// packageName overrides the builder's dialect for this one message.
func (b *Builder) Build(method Method, typ MessageType, payload interface{}, packageName string) (*Message, error) {
	msg := &Message{
		Type:        Command,
		PackageName: b.packageName,
	}
	if method != "" {
		msg.Method = method
	}
	if typ != "" {
		msg.Type = typ
	}
	if packageName != "" {
		msg.PackageName = packageName
	}

	if payload == nil {
		if method != "" {
			msg.Payload = fmt.Sprintf(`{"method":%q}`, string(method))
		}
		return msg, nil
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize %s payload: %w", method, err)
	}
	if method != "" {
		// Some dialect variants require the payload to mirror the
		// envelope method.
		data, err = sjson.SetBytes(data, "method", string(method))
		if err != nil {
			return nil, fmt.Errorf("failed to mirror method into %s payload: %w", method, err)
		}
	}
	msg.Payload = string(data)

	return msg, nil
}

// BuildTxStart starts a transaction. payIntent carries the operation
// specifics (amount, tip, entry methods, transaction type).
func (b *Builder) BuildTxStart(payIntent interface{}) (*Message, error) {
	return b.Build(TxStart, Command, map[string]interface{}{"payIntent": payIntent}, "")
}

func (b *Builder) BuildDiscoveryRequest() (*Message, error) {
	return b.Build(DiscoveryRequest, Command, nil, "")
}

// BuildSignatureVerified accepts a captured signature. payment is the
// raw JSON of the payment object embedded in the VERIFY_SIGNATURE
// event, re-encoded as a string per the wire format.
func (b *Builder) BuildSignatureVerified(payment json.RawMessage) (*Message, error) {
	return b.Build(SignatureVerified, Command, map[string]interface{}{
		"verified": true,
		"payment":  string(payment),
	}, "")
}

// BuildSignatureRejected rejects a captured signature.
func (b *Builder) BuildSignatureRejected(payment json.RawMessage) (*Message, error) {
	return b.Build(SignatureVerified, Command, map[string]interface{}{
		"verified": false,
		"payment":  string(payment),
	}, "")
}

// BuildPaymentVoid voids a previously completed payment.
func (b *Builder) BuildPaymentVoid(payment interface{}, reason string) (*Message, error) {
	return b.Build(VoidPayment, Command, map[string]interface{}{
		"payment":    payment,
		"voidReason": reason,
	}, "")
}

// BuildRefundRequest refunds part or all of a completed payment.
func (b *Builder) BuildRefundRequest(orderID, paymentID string, amount int64) (*Message, error) {
	return b.Build(RefundRequest, Command, map[string]interface{}{
		"orderId":   orderID,
		"paymentId": paymentID,
		"amount":    amount,
	}, "")
}

func (b *Builder) BuildPrintText(lines []string) (*Message, error) {
	return b.Build(PrintText, Command, map[string]interface{}{"textLines": lines}, "")
}

// BuildPrintImage prints a base64-encoded PNG on the terminal's
// receipt printer.
func (b *Builder) BuildPrintImage(base64PNG string) (*Message, error) {
	return b.Build(PrintImage, Command, map[string]interface{}{"png": base64PNG}, "")
}

func (b *Builder) BuildTerminalMessage(text string) (*Message, error) {
	return b.Build(TerminalMessage, Command, map[string]interface{}{"text": text}, "")
}

func (b *Builder) BuildShowWelcomeScreen() (*Message, error) {
	return b.Build(ShowWelcomeScreen, Command, nil, "")
}

func (b *Builder) BuildShowThankYouScreen() (*Message, error) {
	return b.Build(ShowThankYouScreen, Command, nil, "")
}

func (b *Builder) BuildShowReceiptScreen() (*Message, error) {
	return b.Build(ShowReceiptScreen, Command, nil, "")
}

// BuildShowOrderScreen drives the terminal to display an order. order
// is the entire order object.
func (b *Builder) BuildShowOrderScreen(order interface{}) (*Message, error) {
	raw, err := json.Marshal(order)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize order: %w", err)
	}
	return b.Build(ShowOrderScreen, Command, map[string]interface{}{"order": string(raw)}, "")
}

// BuildShowPaymentReceiptOptions shows the receipt-delivery chooser for
// a completed payment.
func (b *Builder) BuildShowPaymentReceiptOptions(orderID, paymentID string) (*Message, error) {
	return b.Build(ShowPaymentReceiptOptions, Command, map[string]interface{}{
		"orderId":   orderID,
		"paymentId": paymentID,
	}, "")
}

func (b *Builder) BuildOpenCashDrawer(reason string) (*Message, error) {
	return b.Build(OpenCashDrawer, Command, map[string]interface{}{"reason": reason}, "")
}

// BuildKeyPress injects a keystroke. keyPress "ESC" cancels whatever
// the terminal is doing.
func (b *Builder) BuildKeyPress(keyPress string) (*Message, error) {
	return b.Build(KeyPress, Command, map[string]interface{}{"keyPress": keyPress}, "")
}

func (b *Builder) BuildShutdown() (*Message, error) {
	return b.Build(Shutdown, Command, nil, "")
}

func (b *Builder) BuildLastMessageRequest() (*Message, error) {
	return b.Build(LastMessageRequest, Command, nil, "")
}

func (b *Builder) BuildFinishCancel() (*Message, error) {
	return b.Build(FinishCancel, Command, nil, "")
}

func (b *Builder) BuildPing() (*Message, error) {
	return b.Build("", Ping, nil, "")
}

func (b *Builder) BuildPong() (*Message, error) {
	return b.Build("", Pong, nil, "")
}
