package session

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"uartlink/internal/login"
)

// mockPort is a scriptable transport: the test queues device output
// with feed and inspects what the engine wrote.
type mockPort struct {
	mu      sync.Mutex
	pending []byte
	wrote   []string
	closed  bool
	errs    chan error
}

func newMockPort() *mockPort {
	return &mockPort{errs: make(chan error, 1)}
}

func (p *mockPort) feed(s string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pending = append(p.pending, s...)
}

func (p *mockPort) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.wrote = append(p.wrote, string(b))
	return len(b), nil
}

func (p *mockPort) PollAvailable() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.pending) > 0
}

func (p *mockPort) ReadAvailable() ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := p.pending
	p.pending = nil
	return out, nil
}

func (p *mockPort) Errors() <-chan error { return p.errs }

func (p *mockPort) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

func (p *mockPort) countWrites(cmd string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, w := range p.wrote {
		if w == cmd {
			n++
		}
	}
	return n
}

func (p *mockPort) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

type rig struct {
	e      *Engine
	events <-chan Event
	done   chan error
	port   *mockPort
	cancel context.CancelFunc
}

func startEngine(t *testing.T) *rig {
	t.Helper()

	port := newMockPort()
	e := New(Config{
		Port:       port,
		Device:     "mock",
		Baud:       115200,
		PollTick:   time.Millisecond,
		FlushDelay: 40 * time.Millisecond,
		Login:      login.Config{RetryDelay: 25 * time.Millisecond},
		Logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	_, events, _ := e.Hub().Subscribe()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- e.Run(ctx) }()

	t.Cleanup(func() {
		cancel()
		select {
		case <-e.stopped:
		case <-time.After(2 * time.Second):
			t.Error("engine did not stop")
		}
	})

	return &rig{e: e, events: events, done: done, port: port, cancel: cancel}
}

func waitEvent(t *testing.T, ch <-chan Event, kind EventKind, contains string) Event {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				t.Fatalf("event channel closed while waiting for %v %q", kind, contains)
			}
			if ev.Kind == kind && strings.Contains(ev.Text, contains) {
				return ev
			}
		case <-deadline:
			t.Fatalf("no %v event containing %q", kind, contains)
		}
	}
}

func waitForWrite(t *testing.T, p *mockPort, cmd string, count int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if p.countWrites(cmd) >= count {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("write %q (x%d) never happened", cmd, count)
}

func TestEngineClassifiesStream(t *testing.T) {
	r := startEngine(t)

	r.port.feed("\x1b[1;33m[12:01:02] <inf> link up\x1b[0m\r\n")
	ev := waitEvent(t, r.events, EventLog, "link up")
	if ev.Text != "[12:01:02] <inf> link up" {
		t.Errorf("log text = %q", ev.Text)
	}

	if err := r.e.Send("help"); err != nil {
		t.Fatalf("Send: %v", err)
	}
	waitForWrite(t, r.port, "help\r\n", 1)
	waitEvent(t, r.events, EventEcho, "help")

	// Device echoes the command and answers; both are responses.
	r.port.feed("help\r\nAvailable commands:\r\n")
	waitEvent(t, r.events, EventCommand, "Available commands:")
}

func TestEngineFlushDebounce(t *testing.T) {
	r := startEngine(t)

	r.port.feed("stat")

	// Within the debounce window the tail is held back.
	select {
	case ev := <-r.events:
		t.Fatalf("emitted before the flush deadline: %+v", ev)
	case <-time.After(15 * time.Millisecond):
	}

	// The deadline forces it out as a command line.
	ev := waitEvent(t, r.events, EventCommand, "stat")
	if ev.Text != "stat" {
		t.Errorf("flushed text = %q", ev.Text)
	}
}

func TestEngineReunitesSplitEscape(t *testing.T) {
	r := startEngine(t)

	r.port.feed("\x1b[1;3")
	time.Sleep(10 * time.Millisecond)
	r.port.feed("3m<inf> boot done\x1b[0m\r\n")

	select {
	case ev := <-r.events:
		if ev.Text != "<inf> boot done" || ev.Kind != EventLog {
			t.Errorf("first event = %v %q, want log %q", ev.Kind, ev.Text, "<inf> boot done")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no event")
	}
}

func TestEngineTransportError(t *testing.T) {
	r := startEngine(t)

	r.port.errs <- errors.New("device unplugged")

	select {
	case err := <-r.done:
		if err == nil || !strings.Contains(err.Error(), "unplugged") {
			t.Fatalf("Run returned %v, want the transport error", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return on transport error")
	}

	// The error event is published before the hub shuts.
	found := false
	for ev := range r.events {
		if ev.Kind == EventError && strings.Contains(ev.Text, "unplugged") {
			found = true
		}
	}
	if !found {
		t.Error("no error event published")
	}
	if !r.port.isClosed() {
		t.Error("port left open after transport failure")
	}
}

func TestEngineLoginFlow(t *testing.T) {
	r := startEngine(t)

	if err := r.e.Login("maker"); err != nil {
		t.Fatalf("Login: %v", err)
	}
	waitForWrite(t, r.port, "\r\n", 1)

	r.port.feed("*** Booting Zephyr OS build v3.5.0 ***\r\n")
	waitForWrite(t, r.port, "login test\r\n", 1)

	r.port.feed("login test\r\nnot logged in\r\nuart:~$ ")
	waitForWrite(t, r.port, "login maker\r\n", 1)

	r.port.feed("login maker\r\nOK\r\nuart:~$ ")
	waitEvent(t, r.events, EventStatus, "authenticated")

	if st := r.e.Status(); st.LoginState != "authenticated" {
		t.Errorf("status login state = %q", st.LoginState)
	}
}

func TestEngineLoginRetryExhaustion(t *testing.T) {
	r := startEngine(t)

	if err := r.e.Login("pw"); err != nil {
		t.Fatalf("Login: %v", err)
	}
	r.port.feed("*** Booting Zephyr OS ***\r\n")
	waitForWrite(t, r.port, "login test\r\n", 1)
	r.port.feed("not logged in\r\nuart:~$ ")
	waitForWrite(t, r.port, "login pw\r\n", 1)

	r.port.feed("not logged in\r\n")
	waitEvent(t, r.events, EventStatus, "attempt 1/3")
	waitForWrite(t, r.port, "login pw\r\n", 2)

	r.port.feed("not logged in\r\n")
	waitEvent(t, r.events, EventStatus, "attempt 2/3")
	waitForWrite(t, r.port, "login pw\r\n", 3)

	r.port.feed("not logged in\r\n")
	waitEvent(t, r.events, EventStatus, "failed")

	// Exhausted: no automatic fourth send however long we wait.
	time.Sleep(80 * time.Millisecond)
	if n := r.port.countWrites("login pw\r\n"); n != 3 {
		t.Fatalf("credential sends after Failed = %d, want 3", n)
	}

	// Manual retry is the only way out.
	if err := r.e.RetryLogin(); err != nil {
		t.Fatalf("RetryLogin: %v", err)
	}
	waitForWrite(t, r.port, "login pw\r\n", 4)
}

func TestEngineRecheckOnlyDuringLogin(t *testing.T) {
	r := startEngine(t)

	// Idle: an untagged line with link vocabulary is still a response.
	r.port.feed("rssi -42 snr 9\r\n")
	waitEvent(t, r.events, EventCommand, "rssi")

	// Mid-login the same line is treated as a torn log.
	if err := r.e.Login("pw"); err != nil {
		t.Fatalf("Login: %v", err)
	}
	r.port.feed("rssi -42 snr 9\r\n")
	waitEvent(t, r.events, EventLog, "rssi")
}

func TestEngineCallsAfterStop(t *testing.T) {
	r := startEngine(t)

	r.cancel()
	select {
	case err := <-r.done:
		if err != nil {
			t.Fatalf("Run returned %v on cancel, want nil", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return")
	}

	if err := r.e.Send("x"); !errors.Is(err, ErrStopped) {
		t.Errorf("Send after stop = %v, want ErrStopped", err)
	}
	if st := r.e.Status(); st.LoginState != "unauthenticated" {
		t.Errorf("status after stop = %q", st.LoginState)
	}
}
