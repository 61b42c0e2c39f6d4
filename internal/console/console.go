// Package console renders the classified session stream on the local
// terminal and feeds typed input back to the device. Log traffic is
// muted so command responses stay readable while the device chatters.
package console

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/fatih/color"
	"golang.org/x/term"

	"uartlink/internal/keymgmt"
	"uartlink/internal/session"
)

// Controller is the slice of the session engine the console drives.
type Controller interface {
	Send(cmd string) error
	Login(password string) error
	RetryLogin() error
	Status() session.Info
}

// Config wires a Console to the running session.
type Config struct {
	Controller Controller
	Uploader   *keymgmt.Uploader
	Events     <-chan session.Event

	// In and Out default to stdin and stdout.
	In  io.Reader
	Out io.Writer
}

// Console is the interactive terminal front end.
type Console struct {
	ctrl     Controller
	uploader *keymgmt.Uploader
	events   <-chan session.Event
	in       io.Reader
	out      io.Writer

	mu sync.Mutex

	logColor    *color.Color
	cmdColor    *color.Color
	echoColor   *color.Color
	statusColor *color.Color
	errColor    *color.Color
}

func New(cfg Config) *Console {
	if cfg.In == nil {
		cfg.In = os.Stdin
	}
	if cfg.Out == nil {
		cfg.Out = os.Stdout
	}
	return &Console{
		ctrl:        cfg.Controller,
		uploader:    cfg.Uploader,
		events:      cfg.Events,
		in:          cfg.In,
		out:         cfg.Out,
		logColor:    color.New(color.FgHiBlack),
		cmdColor:    color.New(color.FgHiWhite),
		echoColor:   color.New(color.FgCyan),
		statusColor: color.New(color.FgYellow),
		errColor:    color.New(color.FgRed),
	}
}

// Run renders events and reads input until the context ends, the event
// stream closes, or the user quits.
func (c *Console) Run(ctx context.Context) error {
	quit := make(chan struct{})
	go c.inputLoop(quit)

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-quit:
			return nil
		case ev, ok := <-c.events:
			if !ok {
				return nil
			}
			c.render(ev)
		}
	}
}

func (c *Console) render(ev session.Event) {
	ts := ev.Timestamp.Format("15:04:05")

	c.mu.Lock()
	defer c.mu.Unlock()
	switch ev.Kind {
	case session.EventCommand:
		c.cmdColor.Fprintf(c.out, "%s  %s\n", ts, ev.Text)
	case session.EventEcho:
		c.echoColor.Fprintf(c.out, "%s> %s\n", ts, ev.Text)
	case session.EventStatus:
		c.statusColor.Fprintf(c.out, "%s  [session] %s\n", ts, ev.Text)
	case session.EventError:
		c.errColor.Fprintf(c.out, "%s  [error] %s\n", ts, ev.Text)
	default:
		c.logColor.Fprintf(c.out, "%s  %s\n", ts, ev.Text)
	}
}

func (c *Console) inputLoop(quit chan struct{}) {
	defer close(quit)

	sc := bufio.NewScanner(c.in)
	for sc.Scan() {
		if c.handleLine(sc.Text()) {
			return
		}
	}
}

// handleLine dispatches one line of input. It reports whether the
// console should quit.
func (c *Console) handleLine(line string) bool {
	line = strings.TrimSpace(line)
	if line == "" {
		return false
	}

	if !strings.HasPrefix(line, "/") {
		if err := c.ctrl.Send(line); err != nil {
			c.printf("[error] send: %v\n", err)
		}
		return false
	}

	fields := strings.Fields(line)
	switch fields[0] {
	case "/quit", "/exit":
		return true

	case "/help":
		c.printf("%s", helpText)

	case "/status":
		st := c.ctrl.Status()
		c.printf("device %s @ %d baud, login %s", st.Device, st.Baud, st.LoginState)
		if st.Attempts > 0 {
			c.printf(" (attempt %d)", st.Attempts)
		}
		if !st.Expiry.IsZero() {
			c.printf(", session until %s", st.Expiry.Format("15:04:05"))
		}
		c.printf("\n")

	case "/login":
		password, err := c.credential(fields)
		if err != nil {
			c.printf("[error] %v\n", err)
			return false
		}
		if err := c.ctrl.Login(password); err != nil {
			c.printf("[error] login: %v\n", err)
		}

	case "/retry":
		if err := c.ctrl.RetryLogin(); err != nil {
			c.printf("[error] retry: %v\n", err)
		}

	case "/upload":
		if c.uploader == nil {
			c.printf("[error] uploads are not available\n")
			return false
		}
		if len(fields) != 3 {
			c.printf("usage: /upload <slot> <file>\n")
			return false
		}
		slot, path := fields[1], fields[2]
		go func() {
			if err := c.uploader.UploadFile(context.Background(), slot, path); err != nil {
				c.printf("[error] upload: %v\n", err)
				return
			}
			c.printf("upload of %s into slot %s complete\n", path, slot)
		}()

	case "/abort":
		if c.uploader == nil {
			c.printf("[error] uploads are not available\n")
			return false
		}
		if err := c.uploader.Abort(); err != nil {
			c.printf("[error] abort: %v\n", err)
		}

	default:
		c.printf("unknown command %s (try /help)\n", fields[0])
	}
	return false
}

// credential takes the password from the command line or, on a real
// terminal, prompts for it without echo.
func (c *Console) credential(fields []string) (string, error) {
	if len(fields) > 1 {
		return fields[1], nil
	}

	f, ok := c.in.(*os.File)
	if !ok || !term.IsTerminal(int(f.Fd())) {
		return "", fmt.Errorf("no terminal for the password prompt; use /login <password>")
	}

	c.printf("device password: ")
	password, err := term.ReadPassword(int(f.Fd()))
	c.printf("\n")
	if err != nil {
		return "", fmt.Errorf("read password: %w", err)
	}
	return string(password), nil
}

func (c *Console) printf(format string, args ...interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintf(c.out, format, args...)
}

const helpText = `commands:
  /login [password]      authenticate against the device shell
  /retry                 retry a failed login
  /status                show connection and login state
  /upload <slot> <file>  stream key material into a device slot
  /abort                 cancel a running upload
  /quit                  leave the console
anything else is sent to the device as a shell command
`
