package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"uartlink/internal/classify"
	"uartlink/internal/login"
	"uartlink/internal/serial"
	"uartlink/internal/stream"
)

const (
	// DefaultPollTick is how often the transport is asked for bytes.
	DefaultPollTick = 5 * time.Millisecond

	// DefaultFlushDelay is how long an unterminated tail may sit in the
	// buffer before it is forced out as lines anyway.
	DefaultFlushDelay = 150 * time.Millisecond
)

// lineEnding terminates every outbound command. The device shell wants
// both characters; a bare LF leaves it waiting.
const lineEnding = "\r\n"

// ErrStopped is returned for calls against an engine whose Run has
// ended.
var ErrStopped = errors.New("session: engine stopped")

// Config wires an Engine.
type Config struct {
	// Port is the open transport. The engine owns it from Run onward
	// and closes it during teardown.
	Port serial.Port

	// Device and Baud describe the connection for status reporting.
	Device string
	Baud   int

	// Prompts and Marker define the shell vocabulary. Zero values
	// select the defaults.
	Prompts []string
	Marker  byte

	PollTick   time.Duration
	FlushDelay time.Duration

	// History is the catch-up buffer size in events.
	History int

	// Login configures the handshake. Send and Prompts are wired by
	// the engine; a caller-supplied Notify is chained after the
	// engine's own status events.
	Login login.Config

	Logger *slog.Logger
}

// Engine is the session core. A single goroutine inside Run owns every
// mutable piece: the accumulation buffer, the flush deadline, and the
// login state machine. Calls from other goroutines are marshalled onto
// that goroutine, so no locking exists anywhere in the pipeline.
type Engine struct {
	cfg  Config
	port serial.Port
	log  *slog.Logger

	asm  *stream.Assembler
	frag *stream.Fragmenter
	cls  *classify.Classifier
	hs   *login.Handshake
	hub  *Hub

	ops     chan func()
	stopped chan struct{}

	flushAt time.Time
	fatal   error
}

// New builds an engine around an open port.
func New(cfg Config) *Engine {
	if cfg.PollTick <= 0 {
		cfg.PollTick = DefaultPollTick
	}
	if cfg.FlushDelay <= 0 {
		cfg.FlushDelay = DefaultFlushDelay
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	filter := stream.NewPromptFilter(cfg.Prompts, cfg.Marker)
	e := &Engine{
		cfg:     cfg,
		port:    cfg.Port,
		log:     cfg.Logger,
		asm:     stream.NewAssembler(filter),
		frag:    stream.NewFragmenter(cfg.Marker),
		cls:     classify.New(filter),
		hub:     NewHub(cfg.History),
		ops:     make(chan func(), 16),
		stopped: make(chan struct{}),
	}

	lcfg := cfg.Login
	lcfg.Prompts = filter
	lcfg.Send = e.write
	userNotify := cfg.Login.Notify
	lcfg.Notify = func(st login.Status) {
		e.publishStatus(st)
		if userNotify != nil {
			userNotify(st)
		}
	}
	e.hs = login.New(lcfg)
	return e
}

// Run drives the session until the context is cancelled or the
// transport fails. Must be called exactly once.
func (e *Engine) Run(ctx context.Context) error {
	defer close(e.stopped)
	defer e.teardown()

	e.log.Info("session started", "device", e.cfg.Device, "baud", e.cfg.Baud)

	ticker := time.NewTicker(e.cfg.PollTick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-e.port.Errors():
			e.fail(err)
			return err
		case op := <-e.ops:
			op()
		case now := <-ticker.C:
			e.tick(now)
		}
		if e.fatal != nil {
			e.fail(e.fatal)
			return e.fatal
		}
	}
}

// tick is one poll cycle: drain the transport, run a reconstruction
// pass, fire the flush deadline if it lapsed, advance the handshake
// clock.
func (e *Engine) tick(now time.Time) {
	if e.port.PollAvailable() {
		data, err := e.port.ReadAvailable()
		if err != nil {
			if e.fatal == nil {
				e.fatal = err
			}
			return
		}
		if len(data) > 0 {
			e.ingest(stream.Decode(data), now)
		}
	}

	if !e.flushAt.IsZero() && !now.Before(e.flushAt) {
		e.flushAt = time.Time{}
		e.deliver(e.asm.Flush(), now)
	}

	e.hs.Tick(now)
}

func (e *Engine) ingest(text string, now time.Time) {
	res := e.asm.Feed(text)
	if res.Incomplete {
		// Debounce: released by the terminator arriving or by this
		// deadline firing, whichever is first.
		e.flushAt = now.Add(e.cfg.FlushDelay)
	} else {
		e.flushAt = time.Time{}
	}
	e.deliver(res.Lines, now)
	e.hs.ScanRaw(res.Raw)
}

func (e *Engine) deliver(lines []string, now time.Time) {
	for _, line := range lines {
		for _, frag := range e.frag.Split(line) {
			e.emit(frag, now)
		}
	}
}

// emit classifies one reconstructed line and publishes it. While a
// login exchange is in flight, Command lines get the second-pass
// recheck, and every line is shown to the handshake: the responses it
// waits for are short enough to land in either stream.
func (e *Engine) emit(line string, now time.Time) {
	kind := e.cls.Primary(line)
	active := e.hs.Active()
	if active && kind == classify.Command {
		kind = e.cls.Recheck(line)
	}
	if active {
		e.hs.Observe(line)
	}

	ev := Event{Text: line, Timestamp: now}
	if kind == classify.Command {
		ev.Kind = EventCommand
	}
	e.hub.Publish(ev)
}

// write frames and transmits one command line. A failed write is fatal
// to the session; the loop notices and tears down.
func (e *Engine) write(cmd string) error {
	_, err := e.port.Write([]byte(cmd + lineEnding))
	if err != nil && e.fatal == nil {
		e.fatal = err
	}
	return err
}

func (e *Engine) fail(err error) {
	e.log.Error("transport failed", "device", e.cfg.Device, "error", err)
	e.hub.Publish(Event{Kind: EventError, Text: err.Error(), Timestamp: time.Now()})
}

// teardown discards buffered and session state and releases the
// transport. Pending deadlines die with the loop.
func (e *Engine) teardown() {
	e.hs.Reset()
	e.asm.Reset()
	e.flushAt = time.Time{}
	if err := e.port.Close(); err != nil {
		e.log.Warn("closing port", "error", err)
	}
	e.hub.Close()
	e.log.Info("session closed", "device", e.cfg.Device)
}

func (e *Engine) publishStatus(st login.Status) {
	text := st.State.String()
	if st.State == login.CredentialSubmitted && st.Attempts > 0 {
		text = fmt.Sprintf("%s (attempt %d/%d)", st.State, st.Attempts, st.Max)
	}
	e.log.Info("login status", "state", st.State.String(), "attempts", st.Attempts)
	e.hub.Publish(Event{Kind: EventStatus, Text: text, Timestamp: time.Now()})
}

// do runs f on the engine goroutine and waits for it to finish.
func (e *Engine) do(f func()) error {
	done := make(chan struct{})
	select {
	case e.ops <- func() { f(); close(done) }:
	case <-e.stopped:
		return ErrStopped
	}
	select {
	case <-done:
		return nil
	case <-e.stopped:
		return ErrStopped
	}
}

// Send transmits a user command and refreshes the session activity
// timer.
func (e *Engine) Send(cmd string) error {
	var err error
	if derr := e.do(func() {
		err = e.write(cmd)
		if err == nil {
			e.hs.Touch()
			e.hub.Publish(Event{Kind: EventEcho, Text: cmd, Timestamp: time.Now()})
		}
	}); derr != nil {
		return derr
	}
	return err
}

// Login starts, or restarts, the authentication exchange.
func (e *Engine) Login(password string) error {
	var err error
	if derr := e.do(func() { err = e.hs.Begin(password) }); derr != nil {
		return derr
	}
	return err
}

// RetryLogin re-arms a failed exchange.
func (e *Engine) RetryLogin() error {
	var err error
	if derr := e.do(func() { err = e.hs.Retry() }); derr != nil {
		return derr
	}
	return err
}

// Status returns a point-in-time snapshot.
func (e *Engine) Status() Info {
	var info Info
	if err := e.do(func() {
		info = Info{
			Device:     e.cfg.Device,
			Baud:       e.cfg.Baud,
			LoginState: e.hs.State().String(),
			Attempts:   e.hs.Attempts(),
			Expiry:     e.hs.Expiry(),
		}
	}); err != nil {
		info = Info{
			Device:     e.cfg.Device,
			Baud:       e.cfg.Baud,
			LoginState: login.Unauthenticated.String(),
		}
	}
	return info
}

// Hub returns the event distributor consumers subscribe through.
func (e *Engine) Hub() *Hub { return e.hub }

// Info is a point-in-time session snapshot.
type Info struct {
	Device     string    `json:"device"`
	Baud       int       `json:"baud"`
	LoginState string    `json:"login_state"`
	Attempts   int       `json:"attempts"`
	Expiry     time.Time `json:"session_expiry"`
}
