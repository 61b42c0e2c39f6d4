package serial

import (
	"fmt"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/creack/pty"
)

// Exec runs a subprocess under a pty and exposes its stdio as a Port.
// It stands in for a real device: a script that prints firmware-style
// log lines and answers shell commands exercises the whole pipeline
// with no hardware on the desk.
type Exec struct {
	ptmx *os.File
	cmd  *exec.Cmd
	done chan struct{}
	errs chan error

	mu  sync.Mutex
	buf []byte
}

// StartExec launches the command under a fresh pty.
func StartExec(name string, args ...string) (*Exec, error) {
	cmd := exec.Command(name, args...)
	ptmx, err := pty.Start(cmd)
	if err != nil {
		return nil, fmt.Errorf("start %s: %w", name, err)
	}
	e := &Exec{
		ptmx: ptmx,
		cmd:  cmd,
		done: make(chan struct{}),
		errs: make(chan error, 1),
	}
	go e.read()
	return e, nil
}

// read pulls pty output into the pending buffer. The short deadline
// keeps the loop responsive to Close without a blocking read pinning
// the descriptor.
func (e *Exec) read() {
	buf := make([]byte, 8192)
	for {
		select {
		case <-e.done:
			return
		default:
		}

		e.ptmx.SetReadDeadline(time.Now().Add(500 * time.Millisecond))
		n, err := e.ptmx.Read(buf)
		if n > 0 {
			e.mu.Lock()
			e.buf = append(e.buf, buf[:n]...)
			e.mu.Unlock()
		}
		if err != nil {
			if os.IsTimeout(err) {
				continue
			}
			// Child exited or the pty collapsed.
			select {
			case e.errs <- fmt.Errorf("subprocess stream ended: %w", err):
			default:
			}
			return
		}
	}
}

func (e *Exec) Write(p []byte) (int, error) {
	return e.ptmx.Write(p)
}

func (e *Exec) PollAvailable() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.buf) > 0
}

func (e *Exec) ReadAvailable() ([]byte, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := e.buf
	e.buf = nil
	return out, nil
}

func (e *Exec) Errors() <-chan error {
	return e.errs
}

// Close stops the reader and tears the subprocess down, escalating
// from SIGTERM to SIGKILL if it lingers.
func (e *Exec) Close() error {
	select {
	case <-e.done:
	default:
		close(e.done)
	}

	if e.cmd.Process != nil {
		_ = e.cmd.Process.Signal(syscall.SIGTERM)
		time.Sleep(100 * time.Millisecond)
		_ = e.cmd.Process.Kill()
		_ = e.cmd.Wait()
	}
	return e.ptmx.Close()
}
