// Package keymgmt streams certificate and key material to the device
// shell. Zephyr's keymgmt commands accept one line of PEM text at a
// time, and the UART receive ring on small targets overruns when lines
// arrive back to back, so the uploader paces sends on a fixed interval.
package keymgmt

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"
)

// DefaultInterval is the pause between consecutive upload lines.
const DefaultInterval = 50 * time.Millisecond

// ErrAborted is returned by Upload when Abort cancels it mid-flight.
var ErrAborted = errors.New("keymgmt: upload aborted")

// Config wires an Uploader to its transport.
type Config struct {
	// Send transmits one framed line to the device.
	Send func(cmd string) error

	// Interval is the pause between lines. Zero means DefaultInterval.
	Interval time.Duration

	// Progress, when set, is called after each key line goes out.
	Progress func(sent, total int)
}

// Uploader runs at most one upload at a time.
type Uploader struct {
	cfg Config

	mu    sync.Mutex
	abort chan struct{}
}

func New(cfg Config) *Uploader {
	if cfg.Send == nil {
		cfg.Send = func(string) error { return nil }
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.Progress == nil {
		cfg.Progress = func(int, int) {}
	}
	return &Uploader{cfg: cfg}
}

// Upload reads key material from r and plays it into the device slot:
// "keymgmt import <slot>", one material line per interval, then
// "keymgmt done". Blank lines are dropped and CRLF endings tolerated.
func (u *Uploader) Upload(ctx context.Context, slot string, r io.Reader) error {
	if slot == "" || strings.ContainsAny(slot, " \t") {
		return fmt.Errorf("keymgmt: invalid slot %q", slot)
	}
	lines, err := readLines(r)
	if err != nil {
		return err
	}
	if len(lines) == 0 {
		return errors.New("keymgmt: no key material to upload")
	}

	u.mu.Lock()
	if u.abort != nil {
		u.mu.Unlock()
		return errors.New("keymgmt: upload already in progress")
	}
	ch := make(chan struct{})
	u.abort = ch
	u.mu.Unlock()
	defer func() {
		u.mu.Lock()
		if u.abort == ch {
			u.abort = nil
		}
		u.mu.Unlock()
	}()

	if err := u.cfg.Send("keymgmt import " + slot); err != nil {
		return fmt.Errorf("keymgmt: start import: %w", err)
	}

	tick := time.NewTicker(u.cfg.Interval)
	defer tick.Stop()

	for i, line := range lines {
		if err := u.wait(ctx, ch, tick); err != nil {
			return err
		}
		if err := u.cfg.Send(line); err != nil {
			return fmt.Errorf("keymgmt: send line %d: %w", i+1, err)
		}
		u.cfg.Progress(i+1, len(lines))
	}

	// The last material line needs its settle time too.
	if err := u.wait(ctx, ch, tick); err != nil {
		return err
	}
	if err := u.cfg.Send("keymgmt done"); err != nil {
		return fmt.Errorf("keymgmt: finish import: %w", err)
	}
	return nil
}

// UploadFile is Upload reading from a file on disk.
func (u *Uploader) UploadFile(ctx context.Context, slot, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("keymgmt: %w", err)
	}
	defer f.Close()
	return u.Upload(ctx, slot, f)
}

// Abort cancels an in-flight upload and tells the device to drop any
// partial key material. Safe to call when nothing is running; the
// device treats a stray "keymgmt abort" as a no-op.
func (u *Uploader) Abort() error {
	u.mu.Lock()
	if u.abort != nil {
		close(u.abort)
		u.abort = nil
	}
	u.mu.Unlock()
	return u.cfg.Send("keymgmt abort")
}

// wait blocks for the next pacing tick. Abort wins over the tick, and
// a cancelled context sends the device-side abort on the way out.
func (u *Uploader) wait(ctx context.Context, abort <-chan struct{}, tick *time.Ticker) error {
	select {
	case <-abort:
		return ErrAborted
	case <-ctx.Done():
		_ = u.cfg.Send("keymgmt abort")
		return ctx.Err()
	case <-tick.C:
		return nil
	}
}

func readLines(r io.Reader) ([]string, error) {
	var lines []string
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimRight(sc.Text(), "\r")
		if line == "" {
			continue
		}
		lines = append(lines, line)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("keymgmt: read key material: %w", err)
	}
	return lines, nil
}
