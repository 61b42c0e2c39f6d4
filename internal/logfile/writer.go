// Package logfile persists the classified session stream to disk, one
// timestamped line per event, so a session can be reviewed after the
// terminal is gone.
package logfile

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"uartlink/internal/session"
)

// Writer appends session events to a per-session log file.
type Writer struct {
	mu   sync.Mutex
	f    *os.File
	path string
}

// New creates the log directory if needed and opens a fresh file named
// after the session start time.
func New(dir string) (*Writer, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("logfile: create %s: %w", dir, err)
	}
	path := filepath.Join(dir, fmt.Sprintf("uartlink-%s.log", time.Now().Format("20060102-150405")))
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("logfile: open %s: %w", path, err)
	}
	return &Writer{f: f, path: path}, nil
}

// Path returns the file this writer appends to.
func (w *Writer) Path() string { return w.path }

// Record appends one event as "HH:MM:SS <tag> text".
func (w *Writer) Record(ev session.Event) error {
	ts := ev.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	line := fmt.Sprintf("%s %s %s\n", ts.Format("15:04:05"), tag(ev.Kind), ev.Text)

	w.mu.Lock()
	defer w.mu.Unlock()
	if _, err := w.f.WriteString(line); err != nil {
		return fmt.Errorf("logfile: append: %w", err)
	}
	return nil
}

// Follow drains a hub subscription into the file. It returns when the
// channel closes, the context ends, or a write fails.
func (w *Writer) Follow(ctx context.Context, events <-chan session.Event) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			if err := w.Record(ev); err != nil {
				return err
			}
		}
	}
}

func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.f.Close()
}

func tag(k session.EventKind) string {
	switch k {
	case session.EventCommand:
		return "[CMD]"
	case session.EventEcho:
		return ">"
	case session.EventStatus:
		return "[SYS]"
	case session.EventError:
		return "[ERR]"
	default:
		return "[LOG]"
	}
}
