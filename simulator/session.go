package simulator

import (
	"encoding/json"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"github.com/luma/paylink/protocol"
)

// session is one connected client. Each gets its own script playback
// so concurrent clients cannot see each other's transactions.
type session struct {
	conn    *websocket.Conn
	builder *protocol.Builder
	opts    Options
	log     *zap.Logger

	writeMu sync.Mutex

	mu sync.Mutex
	// pendingIntent holds the payIntent of an in-flight signature
	// script, waiting for the client's SIGNATURE_VERIFIED.
	pendingIntent gjson.Result
}

func newSession(conn *websocket.Conn, builder *protocol.Builder, opts Options, log *zap.Logger) *session {
	return &session{
		conn:    conn,
		builder: builder,
		opts:    opts,
		log:     log.Named("session").With(zap.String("client", conn.RemoteAddr().String())),
	}
}

func (s *session) run() {
	defer s.conn.Close()

	s.log.Info("Client connected")

	for {
		_, raw, err := s.conn.ReadMessage()
		if err != nil {
			s.log.Info("Client gone", zap.Error(err))
			return
		}

		msg, err := protocol.Decode(raw)
		if err != nil {
			s.log.Warn("Discarding malformed message", zap.Error(err))
			continue
		}

		if done := s.handle(msg); done {
			return
		}
	}
}

// handle reacts to one inbound envelope. Returns true when the session
// should end.
func (s *session) handle(msg *protocol.Message) bool {
	// Real terminals acknowledge anything carrying a correlation id.
	if msg.ID != "" {
		s.sendAck(msg.ID)
	}

	if msg.Type == protocol.Ping {
		if pong, err := s.builder.BuildPong(); err == nil {
			s.send(pong)
		}
		return false
	}

	switch msg.Method {
	case protocol.DiscoveryRequest:
		s.sendDiscoveryResponse()

	case protocol.TxStart:
		s.startTransaction(msg)

	case protocol.SignatureVerified:
		s.finishPendingSignature(msg)

	case protocol.Shutdown:
		s.log.Info("Client requested shutdown")
		return true
	}

	return false
}

func (s *session) sendDiscoveryResponse() {
	msg, err := s.builder.Build(protocol.DiscoveryResponse, protocol.Event, map[string]interface{}{
		"ready":  true,
		"serial": s.opts.Serial,
		"model":  s.opts.Model,
		"name":   "Paylink Simulator",
	}, "")
	if err != nil {
		return
	}
	s.send(msg)
}

func (s *session) startTransaction(msg *protocol.Message) {
	intent := msg.PayloadField("payIntent")
	amount := intent.Get("amount").Int()

	s.log.Info("Transaction started",
		zap.Int64("amount", amount),
		zap.String("transactionType", intent.Get("transactionType").String()))

	switch s.opts.Script {
	case ScriptCancel:
		s.sendFinishCancel()

	case ScriptSignature:
		s.mu.Lock()
		s.pendingIntent = intent
		s.mu.Unlock()
		s.sendVerifySignature(intent)

	default:
		s.sendFinishOk(intent)
	}
}

// finishPendingSignature approves the transaction the client just
// signed off on. A SIGNATURE_VERIFIED with no pending transaction is
// ignored.
func (s *session) finishPendingSignature(msg *protocol.Message) {
	if !msg.PayloadField("verified").Bool() {
		s.sendFinishCancel()
		return
	}

	s.mu.Lock()
	intent := s.pendingIntent
	s.pendingIntent = gjson.Result{}
	s.mu.Unlock()

	if !intent.Exists() {
		return
	}
	s.sendFinishOk(intent)
}

func (s *session) sendFinishOk(intent gjson.Result) {
	kind := "payment"
	if intent.Get("transactionType").String() == "CREDIT" {
		kind = "credit"
	}

	record := map[string]interface{}{
		"id":                uuid.NewString(),
		"externalPaymentId": intent.Get("externalPaymentId").String(),
		"amount":            intent.Get("amount").Int(),
		"tipAmount":         intent.Get("tipAmount").Int(),
		"result":            "SUCCESS",
		"order":             map[string]interface{}{"id": uuid.NewString()},
	}

	msg, err := s.builder.Build(protocol.FinishOk, protocol.Event, map[string]interface{}{
		kind: jsonString(record),
	}, "")
	if err != nil {
		return
	}
	s.send(msg)
}

func (s *session) sendFinishCancel() {
	msg, err := s.builder.Build(protocol.FinishCancel, protocol.Event, nil, "")
	if err != nil {
		return
	}
	s.send(msg)
}

func (s *session) sendVerifySignature(intent gjson.Result) {
	payment := map[string]interface{}{
		"id":                uuid.NewString(),
		"externalPaymentId": intent.Get("externalPaymentId").String(),
		"amount":            intent.Get("amount").Int(),
	}
	signature := map[string]interface{}{
		"strokes": []interface{}{
			map[string]interface{}{
				"points": []interface{}{
					map[string]interface{}{"x": 10, "y": 20},
					map[string]interface{}{"x": 30, "y": 25},
				},
			},
		},
	}

	msg, err := s.builder.Build(protocol.VerifySignature, protocol.Event, map[string]interface{}{
		"payment":   jsonString(payment),
		"signature": jsonString(signature),
	}, "")
	if err != nil {
		return
	}
	s.send(msg)
}

func (s *session) sendAck(id string) {
	msg, err := s.builder.Build(protocol.Ack, protocol.Event, nil, "")
	if err != nil {
		return
	}
	s.send(msg.WithID(id))
}

// jsonString re-encodes a record as the string form the wire expects
// for nested objects.
func jsonString(v interface{}) string {
	raw, err := json.Marshal(v)
	if err != nil {
		return "{}"
	}
	return string(raw)
}

func (s *session) send(msg *protocol.Message) {
	raw, err := msg.Encode()
	if err != nil {
		s.log.Warn("Failed to encode message", zap.Error(err))
		return
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if err := s.conn.WriteMessage(websocket.TextMessage, raw); err != nil {
		s.log.Warn("Failed to write message", zap.Error(err))
	}
}
