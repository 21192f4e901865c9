package protocol

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/tidwall/gjson"
)

var (
	ErrMissingType = errors.New("message has no resolvable type")
)

// Message is one wire-level envelope exchanged with the terminal.
//
// Payload is double encoded: the outer message is JSON and Payload is
// itself a JSON-encoded string. See the package documentation for the
// full wire description.
type Message struct {
	Method      Method      `json:"method,omitempty"`
	Type        MessageType `json:"type"`
	PackageName string      `json:"packageName"`
	Payload     string      `json:"payload,omitempty"`
	ID          string      `json:"id,omitempty"`
}

// WithID attaches a correlation token. The terminal echoes it back in
// an ACK-type reply.
func (m *Message) WithID(id string) *Message {
	m.ID = id
	return m
}

// PayloadField extracts a single field from the inner payload without
// decoding the whole object.
func (m *Message) PayloadField(path string) gjson.Result {
	return gjson.Get(m.Payload, path)
}

// InnerRecord extracts a nested record from the inner payload as raw
// JSON. Terminals embed records such as payments one level deeper than
// the payload itself, as a JSON-encoded string field; this peels that
// extra layer. A field that is already an object comes back as is. The
// result is empty when the field is absent.
func (m *Message) InnerRecord(field string) json.RawMessage {
	value := gjson.Get(m.Payload, field)
	switch value.Type {
	case gjson.String:
		return json.RawMessage(value.Str)
	case gjson.JSON:
		return json.RawMessage(value.Raw)
	}
	return nil
}

// UnmarshalPayload decodes the inner payload into v.
func (m *Message) UnmarshalPayload(v interface{}) error {
	if m.Payload == "" {
		return fmt.Errorf("message %s has no payload", m.Method)
	}
	if err := json.Unmarshal([]byte(m.Payload), v); err != nil {
		return fmt.Errorf("failed to decode %s payload: %w", m.Method, err)
	}
	return nil
}

// Encode serializes the envelope for transmission.
func (m *Message) Encode() ([]byte, error) {
	return json.Marshal(m)
}

// Decode parses raw bytes received from the terminal into a Message.
//
// A message without a type field is malformed and rejected. Unknown
// methods are NOT an error here: vocabulary matching happens downstream
// during dispatch.
func Decode(raw []byte) (*Message, error) {
	var msg Message
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil, fmt.Errorf("failed to parse message %q: %w", string(raw), err)
	}

	if msg.Type == "" {
		return nil, ErrMissingType
	}

	return &msg, nil
}
