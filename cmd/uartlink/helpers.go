package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"uartlink/internal/config"
	"uartlink/internal/logfile"
	"uartlink/internal/login"
	"uartlink/internal/serial"
	"uartlink/internal/session"
)

// loginTimeout bounds how long a one-shot command waits for the
// handshake. Three retries at the default delay finish well inside it.
const loginTimeout = 30 * time.Second

func firstOf(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// deviceSettings resolves the device path and baud rate, flags winning
// over the configuration file.
func deviceSettings(cmd *cobra.Command, cfg *config.Config) (string, int) {
	device := cfg.Device()
	if v, _ := cmd.Flags().GetString("device"); v != "" {
		device = v
	}
	baud := cfg.Baud()
	if v, _ := cmd.Flags().GetInt("baud"); v > 0 {
		baud = v
	}
	return device, baud
}

// openPort opens the transport behind a device spec. A spec starting
// with "exec:" runs the remainder as a shell command and talks to its
// stdio, which stands in for hardware during development.
func openPort(device string, baud int) (serial.Port, error) {
	if command, ok := strings.CutPrefix(device, "exec:"); ok {
		return serial.StartExec("/bin/sh", "-c", command)
	}
	return serial.OpenTTY(device, baud)
}

// buildEngine opens the transport and assembles a session engine from
// the configuration.
func buildEngine(cfg *config.Config, device string, baud int, logger *slog.Logger) (*session.Engine, error) {
	port, err := openPort(device, baud)
	if err != nil {
		return nil, err
	}
	return session.New(session.Config{
		Port:       port,
		Device:     device,
		Baud:       baud,
		Prompts:    cfg.Prompts(),
		Marker:     cfg.Marker(),
		PollTick:   cfg.PollTick(),
		FlushDelay: cfg.FlushDelay(),
		Login: login.Config{
			ReadySignal:   cfg.ReadySignal(),
			RequireBanner: cfg.RequireBanner(),
			MaxRetries:    cfg.MaxRetries(),
			RetryDelay:    cfg.RetryDelay(),
			SessionTTL:    cfg.SessionTTL(),
		},
		Logger: logger,
	}), nil
}

// startTranscript appends every session event to a timestamped file
// under the log directory. Returns nil when the directory cannot be
// prepared; the session carries on without a recording.
func startTranscript(ctx context.Context, cfg *config.Config, eng *session.Engine, logger *slog.Logger) *logfile.Writer {
	w, err := logfile.New(cfg.LogFileDir())
	if err != nil {
		logger.Warn("session transcript disabled", "error", err)
		return nil
	}
	_, events, _ := eng.Hub().Subscribe()
	go func() {
		if err := w.Follow(ctx, events); err != nil {
			logger.Warn("session transcript stopped", "error", err)
		}
		_ = w.Close()
	}()
	return w
}

// awaitLogin starts the handshake and blocks until it settles. The
// device shell rejects commands before login, so one-shot commands
// have nothing to do until this returns.
func awaitLogin(ctx context.Context, eng *session.Engine, password string) error {
	id, events, _ := eng.Hub().Subscribe()
	defer eng.Hub().Unsubscribe(id)

	if err := eng.Login(password); err != nil {
		return err
	}

	deadline := time.NewTimer(loginTimeout)
	defer deadline.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline.C:
			return fmt.Errorf("login: no result after %s", loginTimeout)
		case ev, ok := <-events:
			if !ok {
				return errors.New("login: session ended")
			}
			if ev.Kind != session.EventStatus {
				continue
			}
			switch eng.Status().LoginState {
			case login.Authenticated.String():
				return nil
			case login.Failed.String():
				return errors.New("login: device rejected the credential")
			}
		}
	}
}
