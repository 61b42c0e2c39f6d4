// Package monitor serves the live session to observer UIs over
// WebSocket. The tool itself ships no visual layer; anything that can
// speak this small JSON protocol can render the two console views.
package monitor

import (
	"encoding/json"
	"fmt"
	"time"

	"uartlink/internal/session"
)

// Message is the envelope for all WebSocket messages.
type Message struct {
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// NewMessage creates a server-originated message with the current timestamp.
func NewMessage(msgType string, payload interface{}) (*Message, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	return &Message{
		Type:      msgType,
		Payload:   data,
		Timestamp: time.Now().UTC(),
	}, nil
}

// Server → Client message types.
const (
	TypeConsoleLine   = "console.line"
	TypeSessionStatus = "session.status"
	TypeSessionError  = "session.error"
	TypeAuthResult    = "session.authResult"
)

// Client → Server message types.
const (
	TypeConsoleSend  = "console.send"
	TypeSessionLogin = "session.login"
	TypeSessionRetry = "session.retry"
	TypeAuth         = "session.auth"
)

// Error codes.
const (
	ErrInvalidMessage = "INVALID_MESSAGE"
	ErrUnauthorized   = "UNAUTHORIZED"
	ErrSendFailed     = "SEND_FAILED"
	ErrLoginFailed    = "LOGIN_FAILED"
	ErrTransport      = "TRANSPORT"
)

// Server → Client payloads.

// LinePayload carries one classified console line. Kind mirrors
// session.EventKind strings: "log", "command", "echo".
type LinePayload struct {
	Kind string    `json:"kind"`
	Text string    `json:"text"`
	At   time.Time `json:"at"`
}

// StatusPayload is a full connection snapshot, sent on attach and
// whenever the login state machine moves.
type StatusPayload struct {
	session.Info
	At time.Time `json:"at"`
}

type ErrorPayload struct {
	Message string `json:"message"`
	Code    string `json:"code"`
}

type AuthResultPayload struct {
	OK bool `json:"ok"`
}

// Client → Server payloads.

type SendPayload struct {
	Command string `json:"command"`
}

type LoginPayload struct {
	Password string `json:"password"`
}

type AuthPayload struct {
	Password string `json:"password"`
}

// validClientTypes is the set of allowed client→server message types.
var validClientTypes = map[string]bool{
	TypeConsoleSend:  true,
	TypeSessionLogin: true,
	TypeSessionRetry: true,
	TypeAuth:         true,
}

// ValidateClientMessage validates a raw JSON message from a client.
// Returns the parsed Message and any validation error.
func ValidateClientMessage(raw []byte) (*Message, error) {
	var msg Message
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}

	if msg.Type == "" {
		return nil, fmt.Errorf("missing 'type' field")
	}

	if !validClientTypes[msg.Type] {
		return nil, fmt.Errorf("unknown message type: %s", msg.Type)
	}

	switch msg.Type {
	case TypeConsoleSend:
		var p SendPayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			return nil, fmt.Errorf("invalid payload for %s: %w", msg.Type, err)
		}
		if p.Command == "" {
			return nil, fmt.Errorf("missing required field 'command' in %s payload", msg.Type)
		}

	case TypeSessionLogin:
		var p LoginPayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			return nil, fmt.Errorf("invalid payload for %s: %w", msg.Type, err)
		}
		if p.Password == "" {
			return nil, fmt.Errorf("missing required field 'password' in %s payload", msg.Type)
		}

	case TypeAuth:
		var p AuthPayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			return nil, fmt.Errorf("invalid payload for %s: %w", msg.Type, err)
		}
		if p.Password == "" {
			return nil, fmt.Errorf("missing required field 'password' in %s payload", msg.Type)
		}
	}

	return &msg, nil
}

// NewErrorMessage builds a session.error message.
func NewErrorMessage(code, text string) (*Message, error) {
	return NewMessage(TypeSessionError, ErrorPayload{Message: text, Code: code})
}
