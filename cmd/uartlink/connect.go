package main

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"uartlink/internal/config"
	"uartlink/internal/console"
	"uartlink/internal/keymgmt"
)

func newConnectCmd() *cobra.Command {
	var noTranscript bool

	cmd := &cobra.Command{
		Use:   "connect",
		Short: "Open the interactive console",
		Long: `Connect to the device and run an interactive console on it.

Device output streams in classified form: log chatter dimmed, command
responses highlighted. Type to send shell commands; slash commands
(/login, /upload, /status, /quit) control the session itself. When a
password is configured, login starts automatically and retries on its
own until the device accepts it.`,
		Example: `  uartlink connect
  uartlink connect --device /dev/ttyUSB0 --baud 115200
  uartlink connect --device "exec:./zephyr-sim.sh"`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load()
			device, baud := deviceSettings(cmd, cfg)
			logger := slog.Default()

			eng, err := buildEngine(cfg, device, baud, logger)
			if err != nil {
				return err
			}

			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			runErr := make(chan error, 1)
			go func() {
				runErr <- eng.Run(ctx)
				cancel()
			}()

			if !noTranscript {
				if w := startTranscript(ctx, cfg, eng, logger); w != nil {
					fmt.Fprintf(cmd.OutOrStdout(), "recording session to %s\n", w.Path())
				}
			}

			uploader := keymgmt.New(keymgmt.Config{
				Send:     eng.Send,
				Interval: cfg.UploadInterval(),
			})

			_, events, _ := eng.Hub().Subscribe()
			con := console.New(console.Config{
				Controller: eng,
				Uploader:   uploader,
				Events:     events,
			})

			if pw := cfg.Password(); pw != "" {
				if err := eng.Login(pw); err != nil {
					logger.Warn("login not started", "error", err)
				}
			}

			conErr := con.Run(ctx)
			cancel()
			if err := <-runErr; err != nil {
				return err
			}
			return conErr
		},
	}

	cmd.Flags().BoolVar(&noTranscript, "no-transcript", false, "Do not record the session to a file")

	return cmd
}
