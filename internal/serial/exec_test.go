package serial

import (
	"strings"
	"testing"
	"time"
)

func waitForOutput(t *testing.T, e *Exec, want string) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	var seen []byte
	for time.Now().Before(deadline) {
		if e.PollAvailable() {
			b, err := e.ReadAvailable()
			if err != nil {
				t.Fatalf("ReadAvailable: %v", err)
			}
			seen = append(seen, b...)
			if strings.Contains(string(seen), want) {
				return
			}
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("never saw %q, collected %q", want, seen)
}

func TestExecPortRoundTrip(t *testing.T) {
	e, err := StartExec("/bin/sh", "-c", `echo ready; while read line; do echo "got $line"; done`)
	if err != nil {
		t.Skipf("pty unavailable: %v", err)
	}
	defer e.Close()

	waitForOutput(t, e, "ready")

	if _, err := e.Write([]byte("hello\r\n")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	waitForOutput(t, e, "got hello")
}

func TestExecPortReportsExit(t *testing.T) {
	e, err := StartExec("/bin/sh", "-c", "exit 0")
	if err != nil {
		t.Skipf("pty unavailable: %v", err)
	}
	defer e.Close()

	select {
	case err := <-e.Errors():
		if err == nil {
			t.Fatal("nil error delivered for subprocess exit")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no transport error after subprocess exit")
	}
}
