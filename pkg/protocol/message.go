// Package protocol defines the wire protocol shared by the tunnel, the
// workstation, and clients: the message envelope, the message-type catalog,
// typed payloads, and content blocks.
package protocol

import (
	"encoding/json"
	"time"
)

// Version is the protocol version advertised in handshakes.
const Version = "1.10"

// Message is the envelope for every frame on the wire. Payload carries the
// type-specific fields; Sequence is set on messages that belong to a
// per-session ordered stream. DeviceID is stamped by the tunnel on
// client-to-workstation frames and selects a single recipient on
// workstation-to-client frames (empty means fan-out to every client bound
// to the tunnel).
type Message struct {
	Type      string          `json:"type"`
	ID        string          `json:"id,omitempty"`
	SessionID string          `json:"session_id,omitempty"`
	DeviceID  string          `json:"device_id,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Sequence  int64           `json:"sequence,omitempty"`
	Timestamp int64           `json:"timestamp,omitempty"`
}

// NewMessage creates a message of the given type with a marshaled payload.
func NewMessage(msgType string, payload interface{}) (*Message, error) {
	var data json.RawMessage
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		data = b
	}
	return &Message{
		Type:      msgType,
		Payload:   data,
		Timestamp: time.Now().UnixMilli(),
	}, nil
}

// NewResponse creates a response correlated with a request id.
func NewResponse(id string, payload interface{}) (*Message, error) {
	msg, err := NewMessage(TypeResponse, payload)
	if err != nil {
		return nil, err
	}
	msg.ID = id
	return msg, nil
}

// NewError creates an error message. When id is non-empty the error is
// correlated with the request that caused it.
func NewError(id, code, message string) *Message {
	data, _ := json.Marshal(ErrorPayload{Code: code, Message: message})
	return &Message{
		Type:      TypeError,
		ID:        id,
		Payload:   data,
		Timestamp: time.Now().UnixMilli(),
	}
}

// NewSessionMessage creates a message scoped to a session.
func NewSessionMessage(msgType, sessionID string, payload interface{}) (*Message, error) {
	msg, err := NewMessage(msgType, payload)
	if err != nil {
		return nil, err
	}
	msg.SessionID = sessionID
	return msg, nil
}

// ParsePayload unmarshals the payload into v. A nil payload is not an error.
func (m *Message) ParsePayload(v interface{}) error {
	if m.Payload == nil {
		return nil
	}
	return json.Unmarshal(m.Payload, v)
}

// Encode marshals the message to its wire form.
func (m *Message) Encode() ([]byte, error) {
	return json.Marshal(m)
}

// Decode parses a wire frame into a message.
func Decode(data []byte) (*Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// ErrorPayload is the payload of an error message.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
