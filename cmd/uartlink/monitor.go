package main

import (
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"uartlink/internal/config"
	"uartlink/internal/monitor"
)

func newMonitorCmd() *cobra.Command {
	var (
		addr         string
		noTranscript bool
		daemon       bool
		daemonChild  bool
	)

	cmd := &cobra.Command{
		Use:   "monitor",
		Short: "Run headless and serve the session over WebSocket",
		Long: `Keep the device session alive without a local console and serve it to
observers over a WebSocket API.

Clients receive the classified output stream plus login status updates,
and may send commands back. Set monitor.password_hash (see
'uartlink hash-password') to require authentication from clients.

With --daemon the monitor detaches into the background; 'monitor stop'
and 'monitor status' manage it from there.`,
		Example: `  uartlink monitor
  uartlink monitor --addr 0.0.0.0:8762
  uartlink monitor --daemon`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if daemon {
				return spawnDaemon(cmd.OutOrStdout())
			}
			if daemonChild {
				defer cleanupDaemonChild()
			}

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
				startTranscript(ctx, cfg, eng, logger)
			}

			if pw := cfg.Password(); pw != "" {
				if err := eng.Login(pw); err != nil {
					logger.Warn("login not started", "error", err)
				}
			}

			cfg.Watch(func() {
				logger.Info("configuration file changed, new settings apply on restart")
			})

			srv := monitor.New(monitor.Config{
				Controller:   eng,
				Hub:          eng.Hub(),
				PasswordHash: cfg.MonitorPasswordHash(),
				Logger:       logger,
			})

			if addr == "" {
				addr = cfg.MonitorAddr()
			}
			srvErr := srv.Run(ctx, addr)
			cancel()
			if err := <-runErr; err != nil {
				return err
			}
			return srvErr
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (host:port)")
	cmd.Flags().BoolVar(&noTranscript, "no-transcript", false, "Do not record the session to a file")
	cmd.Flags().BoolVar(&daemon, "daemon", false, "Detach and run in the background")
	cmd.Flags().BoolVar(&daemonChild, "daemon-child", false, "")
	_ = cmd.Flags().MarkHidden("daemon-child")

	cmd.AddCommand(newMonitorStopCmd())
	cmd.AddCommand(newMonitorStatusCmd())

	return cmd
}

func newMonitorStopCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Stop a background monitor",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return stopDaemon(cmd.OutOrStdout())
		},
	}
}

func newMonitorStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show whether a background monitor is running",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return daemonStatus(cmd.OutOrStdout())
		},
	}
}
