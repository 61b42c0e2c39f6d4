//go:build linux

package serial

import (
	"fmt"

	"golang.org/x/sys/unix"
)

var baudFlags = map[int]uint32{
	9600:   unix.B9600,
	19200:  unix.B19200,
	38400:  unix.B38400,
	57600:  unix.B57600,
	115200: unix.B115200,
}

// TTY is a serial device configured raw 8N1: no echo, no line
// discipline translation, reads return instantly with whatever is
// buffered. All translation the device output needs happens upstream
// in the stream pipeline, not in the kernel.
type TTY struct {
	fd   int
	path string
	errs chan error
}

// OpenTTY opens the device at path and configures it for the given
// baud rate.
func OpenTTY(path string, baud int) (*TTY, error) {
	flag, ok := baudFlags[baud]
	if !ok {
		return nil, fmt.Errorf("open %s: unsupported baud rate %d (supported: %v)", path, baud, SupportedBauds)
	}

	fd, err := unix.Open(path, unix.O_RDWR|unix.O_NOCTTY|unix.O_NONBLOCK, 0)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}

	tio, err := unix.IoctlGetTermios(fd, unix.TCGETS)
	if err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("read termios %s: %w", path, err)
	}

	tio.Iflag &^= unix.IGNBRK | unix.BRKINT | unix.PARMRK | unix.ISTRIP |
		unix.INLCR | unix.IGNCR | unix.ICRNL | unix.IXON
	tio.Oflag &^= unix.OPOST
	tio.Lflag &^= unix.ECHO | unix.ECHONL | unix.ICANON | unix.ISIG | unix.IEXTEN
	tio.Cflag &^= unix.CSIZE | unix.PARENB | unix.CBAUD
	tio.Cflag |= unix.CS8 | unix.CREAD | unix.CLOCAL | flag
	tio.Ispeed = flag
	tio.Ospeed = flag

	// Polling reads: return immediately with whatever is buffered,
	// empty included.
	tio.Cc[unix.VMIN] = 0
	tio.Cc[unix.VTIME] = 0

	if err := unix.IoctlSetTermios(fd, unix.TCSETS, tio); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("configure %s: %w", path, err)
	}

	// Drop whatever accumulated while nobody was listening.
	if err := unix.IoctlSetInt(fd, unix.TCFLSH, unix.TCIOFLUSH); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("flush %s: %w", path, err)
	}

	return &TTY{fd: fd, path: path, errs: make(chan error, 1)}, nil
}

func (t *TTY) Write(p []byte) (int, error) {
	total := 0
	for total < len(p) {
		n, err := unix.Write(t.fd, p[total:])
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return total, fmt.Errorf("write %s: %w", t.path, err)
		}
		total += n
	}
	return total, nil
}

// PollAvailable asks the kernel how many bytes sit in the input queue.
// An ioctl failure here usually means the adapter was pulled; it is
// reported through Errors so the session tears down instead of polling
// a dead descriptor forever.
func (t *TTY) PollAvailable() bool {
	n, err := unix.IoctlGetInt(t.fd, unix.TIOCINQ)
	if err != nil {
		t.fail(fmt.Errorf("poll %s: %w", t.path, err))
		return false
	}
	return n > 0
}

func (t *TTY) ReadAvailable() ([]byte, error) {
	buf := make([]byte, 1024)
	n, err := unix.Read(t.fd, buf)
	if err == unix.EAGAIN || err == unix.EINTR {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", t.path, err)
	}
	return buf[:n], nil
}

func (t *TTY) Errors() <-chan error {
	return t.errs
}

func (t *TTY) Close() error {
	if err := unix.Close(t.fd); err != nil {
		return fmt.Errorf("close %s: %w", t.path, err)
	}
	return nil
}

func (t *TTY) fail(err error) {
	select {
	case t.errs <- err:
	default:
	}
}
