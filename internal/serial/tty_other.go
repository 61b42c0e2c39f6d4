//go:build !linux

package serial

import (
	"fmt"
	"runtime"
)

// TTY is only implemented for Linux hosts.
type TTY struct{}

func OpenTTY(path string, baud int) (*TTY, error) {
	return nil, fmt.Errorf("open %s: serial devices are not supported on %s", path, runtime.GOOS)
}

func (t *TTY) Write(p []byte) (int, error) { return 0, fmt.Errorf("serial: not supported") }

func (t *TTY) PollAvailable() bool { return false }

func (t *TTY) ReadAvailable() ([]byte, error) { return nil, fmt.Errorf("serial: not supported") }

func (t *TTY) Errors() <-chan error { return nil }

func (t *TTY) Close() error { return nil }
