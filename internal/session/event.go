// Package session runs the device conversation: a single control flow
// that polls the transport, pushes bytes through the reconstruction and
// classification pipeline, drives the login exchange, and fans the
// resulting events out to however many consumers are watching.
package session

import (
	"encoding/json"
	"time"
)

// EventKind says what an Event carries.
type EventKind uint8

const (
	// EventLog is a line from the device's background logger.
	EventLog EventKind = iota

	// EventCommand is a line answering something that was sent.
	EventCommand

	// EventEcho records a command this side sent.
	EventEcho

	// EventStatus is a login state change.
	EventStatus

	// EventError is a transport failure; the session is over.
	EventError
)

func (k EventKind) String() string {
	switch k {
	case EventCommand:
		return "command"
	case EventEcho:
		return "echo"
	case EventStatus:
		return "status"
	case EventError:
		return "error"
	default:
		return "log"
	}
}

func (k EventKind) MarshalJSON() ([]byte, error) {
	return json.Marshal(k.String())
}

// Event is one item of session output.
type Event struct {
	Kind      EventKind `json:"kind"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}
