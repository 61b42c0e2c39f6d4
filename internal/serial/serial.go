// Package serial provides the byte-level transports the session engine
// polls: a real UART device in raw mode, and a pty-backed subprocess
// that stands in for one during development and tests.
package serial

// Port is the transport contract consumed by the session engine. Reads
// never block: the engine asks whether data is ready on every poll tick
// and drains it when it is. Failures that happen outside a call (device
// unplugged, subprocess exited) arrive on Errors; the engine treats
// anything delivered there as fatal to the session.
type Port interface {
	// Write sends raw bytes, returning the count written.
	Write(p []byte) (int, error)

	// PollAvailable reports whether a read would return data right now.
	PollAvailable() bool

	// ReadAvailable drains whatever is ready without blocking. An empty
	// result with nil error means nothing was pending.
	ReadAvailable() ([]byte, error)

	// Errors delivers asynchronous transport failures.
	Errors() <-chan error

	// Close releases the device.
	Close() error
}

// SupportedBauds are the line rates the device side can be built for.
var SupportedBauds = []int{9600, 19200, 38400, 57600, 115200}

// DefaultBaud matches the firmware's console default.
const DefaultBaud = 115200
