// Package login drives the authentication exchange with the device
// shell: wait for the link to come up, probe whether a session already
// exists, submit the credential, and keep the resulting session alive.
// The exchange runs entirely on observed output; there is no dedicated
// auth channel, just the same noisy text stream everything else rides.
package login

import (
	"fmt"
	"strings"
	"time"

	"uartlink/internal/classify"
	"uartlink/internal/stream"
)

// State of the exchange.
type State uint8

const (
	Unauthenticated State = iota
	AwaitingReadiness
	ProbingExistingAuth
	CredentialSubmitted
	Authenticated
	Failed
)

func (s State) String() string {
	switch s {
	case AwaitingReadiness:
		return "awaiting-readiness"
	case ProbingExistingAuth:
		return "probing"
	case CredentialSubmitted:
		return "credential-submitted"
	case Authenticated:
		return "authenticated"
	case Failed:
		return "failed"
	default:
		return "unauthenticated"
	}
}

const (
	// DefaultReadySignal is the banner the firmware prints when the
	// link resets. Its appearance means the shell is about to accept
	// input.
	DefaultReadySignal = "*** Booting Zephyr OS"

	DefaultMaxRetries = 3
	DefaultRetryDelay = 2 * time.Second
	DefaultSessionTTL = 5 * time.Minute
)

// Status is pushed to the observer on every change. Observers receive
// updates, never control; delivering the same status twice must be
// harmless to them.
type Status struct {
	State    State
	Attempts int
	Max      int
}

// Config wires a Handshake to its surroundings.
type Config struct {
	// ReadySignal overrides DefaultReadySignal.
	ReadySignal string

	// RequireBanner restricts link readiness to the boot banner. By
	// default a reprinted shell prompt counts too, which lets login
	// proceed on a device that is already up and will never reboot.
	RequireBanner bool

	MaxRetries int
	RetryDelay time.Duration
	SessionTTL time.Duration

	// Prompts detects shell prompts in raw output. Nil selects the
	// default vocabulary.
	Prompts *stream.PromptFilter

	// Send transmits one command line to the device.
	Send func(cmd string) error

	// Notify receives status updates. Optional.
	Notify func(Status)

	// Now is the clock, swappable in tests. Nil means time.Now.
	Now func() time.Time
}

// Handshake is the login state machine. It has no goroutine and no
// internal timers: the owning loop feeds it lines, raw buffer views,
// and clock ticks, and it reacts. Not safe for concurrent use.
type Handshake struct {
	cfg        Config
	state      State
	credential string
	retries    int
	retryAt    time.Time
	expiry     time.Time

	// bannerHeld tracks whether the readiness banner was present in the
	// previous raw view, so a banner lingering in an unterminated buffer
	// only counts once.
	bannerHeld bool
}

func New(cfg Config) *Handshake {
	if cfg.ReadySignal == "" {
		cfg.ReadySignal = DefaultReadySignal
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = DefaultMaxRetries
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = DefaultRetryDelay
	}
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = DefaultSessionTTL
	}
	if cfg.Prompts == nil {
		cfg.Prompts = stream.NewPromptFilter(nil, 0)
	}
	if cfg.Send == nil {
		cfg.Send = func(string) error { return nil }
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Handshake{cfg: cfg}
}

// Begin queues the credential and starts the exchange. A bare line is
// sent to coax the shell into reprinting its prompt, covering the case
// where the device is already up and no boot banner is coming.
func (h *Handshake) Begin(credential string) error {
	h.credential = credential
	h.retries = 0
	h.retryAt = time.Time{}
	h.expiry = time.Time{}
	h.setState(AwaitingReadiness)
	return h.cfg.Send("")
}

// ScanRaw inspects the sanitized accumulation buffer for the signals
// that never survive into reconstructed lines: the boot banner and the
// shell prompt. The buffer holds the same bytes across poll cycles
// until a terminator consumes them, so the one arm that keeps its
// state reacts only to a banner that was absent on the previous scan;
// every other arm changes state and consumes its trigger that way.
func (h *Handshake) ScanRaw(raw string) {
	banner := strings.Contains(raw, h.cfg.ReadySignal)
	fresh := banner && !h.bannerHeld
	h.bannerHeld = banner

	switch h.state {
	case AwaitingReadiness:
		// A banner lingering from before Begin still proves readiness,
		// so this arm deliberately takes the level, not the edge.
		ready := banner
		if !ready && !h.cfg.RequireBanner {
			ready = h.cfg.Prompts.Contains(raw)
		}
		if ready {
			h.setState(ProbingExistingAuth)
			h.send("login test")
		}

	case ProbingExistingAuth:
		if fresh {
			// The device rebooted under the probe. The banner doubles
			// as the readiness signal, so probe again directly.
			h.send("login test")
			return
		}
		if h.credential != "" && h.cfg.Prompts.Contains(raw) {
			h.submitCredential()
		}

	case CredentialSubmitted:
		if banner {
			h.setState(ProbingExistingAuth)
			h.send("login test")
		}

	case Authenticated:
		if banner {
			// Reboot killed the device-side session.
			h.expiry = time.Time{}
			h.setState(Unauthenticated)
		}
	}
}

// Observe inspects one reconstructed line for the responses the
// exchange hinges on. The owning loop feeds it every line while the
// exchange is in flight, whatever stream the line was classified into:
// the interesting responses are short and routinely land in the log
// stream as noise, and losing them would stall the login.
func (h *Handshake) Observe(line string) {
	// Lines still carrying a severity tag are the logger's, however
	// promising their wording. A device under load logs "error"
	// constantly while login waits.
	for _, tag := range classify.DefaultTags {
		if strings.Contains(line, tag) {
			return
		}
	}

	lower := strings.ToLower(line)
	switch h.state {
	case ProbingExistingAuth:
		if strings.Contains(lower, "already authenticated") ||
			strings.Contains(lower, "already logged in") {
			h.authenticated()
		}

	case CredentialSubmitted:
		switch {
		case strings.Contains(line, "OK"),
			strings.Contains(lower, "already logged in"),
			strings.Contains(lower, "already authenticated"):
			h.authenticated()
		case strings.Contains(lower, "not logged in"),
			strings.Contains(lower, "error"),
			strings.Contains(lower, "invalid"):
			h.failure()
		}
	}
}

// Tick advances the time-driven behavior: the automatic credential
// resend after a failed attempt, and session expiry. Called from the
// owning poll loop; there are no internal timers.
func (h *Handshake) Tick(now time.Time) {
	switch h.state {
	case CredentialSubmitted:
		if !h.retryAt.IsZero() && !now.Before(h.retryAt) {
			h.retryAt = time.Time{}
			h.send("login " + h.credential)
		}
	case Authenticated:
		if !h.expiry.IsZero() && !now.Before(h.expiry) {
			h.expiry = time.Time{}
			h.setState(Unauthenticated)
		}
	}
}

// Touch restarts the session-expiry countdown. Called for every
// outgoing user command.
func (h *Handshake) Touch() {
	if h.state == Authenticated {
		h.expiry = h.cfg.Now().Add(h.cfg.SessionTTL)
	}
}

// Retry re-arms the exchange after Failed. Explicit user action only;
// nothing automatic leads out of Failed.
func (h *Handshake) Retry() error {
	if h.state != Failed {
		return fmt.Errorf("login retry: state is %s, not failed", h.state)
	}
	h.retries = 0
	h.setState(CredentialSubmitted)
	return h.cfg.Send("login " + h.credential)
}

// Reset returns to Unauthenticated and forgets everything, including
// the queued credential. Called on disconnect.
func (h *Handshake) Reset() {
	h.credential = ""
	h.retries = 0
	h.retryAt = time.Time{}
	h.expiry = time.Time{}
	h.bannerHeld = false
	h.setState(Unauthenticated)
}

// State returns the current state.
func (h *Handshake) State() State { return h.state }

// Attempts returns the failed-attempt count of the current exchange.
func (h *Handshake) Attempts() int { return h.retries }

// Expiry returns when the session lapses, zero outside Authenticated.
func (h *Handshake) Expiry() time.Time { return h.expiry }

// Active reports whether an exchange is in flight. The owning loop
// widens its response inspection while this holds.
func (h *Handshake) Active() bool {
	switch h.state {
	case AwaitingReadiness, ProbingExistingAuth, CredentialSubmitted:
		return true
	}
	return false
}

func (h *Handshake) authenticated() {
	h.credential = ""
	h.retries = 0
	h.retryAt = time.Time{}
	h.expiry = h.cfg.Now().Add(h.cfg.SessionTTL)
	h.setState(Authenticated)
}

func (h *Handshake) failure() {
	h.retries++
	if h.retries >= h.cfg.MaxRetries {
		h.retryAt = time.Time{}
		h.setState(Failed)
		return
	}
	h.retryAt = h.cfg.Now().Add(h.cfg.RetryDelay)
	h.notify()
}

func (h *Handshake) submitCredential() {
	h.setState(CredentialSubmitted)
	h.send("login " + h.credential)
}

func (h *Handshake) setState(s State) {
	h.state = s
	h.notify()
}

func (h *Handshake) notify() {
	if h.cfg.Notify != nil {
		h.cfg.Notify(Status{State: h.state, Attempts: h.retries, Max: h.cfg.MaxRetries})
	}
}

// send transmits through the configured writer. Write failures surface
// through the transport's own error path and force a disconnect there;
// the exchange has nothing useful to add to that.
func (h *Handshake) send(cmd string) {
	_ = h.cfg.Send(cmd)
}
