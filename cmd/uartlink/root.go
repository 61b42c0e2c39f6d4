package main

import (
	"fmt"
	"log/slog"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"uartlink/internal/config"
	"uartlink/internal/observability"
)

func newRootCmd() *cobra.Command {
	var (
		logLevel  string
		logFormat string
		logFile   string
		noColor   bool
		cleanup   func() error
	)

	rootCmd := &cobra.Command{
		Use:   "uartlink",
		Short: "Serial console for embedded Zephyr devices",
		Long: `uartlink connects to a Zephyr device's UART console and turns the raw
byte stream into something usable: escape sequences are stripped, lines
split across reads are reunited, and command responses are told apart
from the log chatter the firmware interleaves with them.

Get started:
  uartlink connect                      Open the interactive console
  uartlink connect --device exec:CMD    Talk to a simulated device
  uartlink monitor                      Run headless with a WebSocket API
  uartlink upload 0 key.pem             Push key material to the device`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if noColor {
				color.NoColor = true
			}

			cfg := config.Load()
			logCfg := observability.Config{
				Level:   firstOf(logLevel, cfg.LogLevel()),
				Format:  firstOf(logFormat, cfg.LogFormat()),
				LogFile: firstOf(logFile, cfg.LogFile()),
				// The interactive console owns the terminal; log
				// records would tear its output apart.
				Quiet:   cmd.Name() == "connect",
				Version: version,
			}

			logger, c, err := observability.NewLogger(logCfg)
			if err != nil {
				return fmt.Errorf("logging setup: %w", err)
			}
			cleanup = c
			slog.SetDefault(logger)
			return nil
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if cleanup != nil {
				return cleanup()
			}
			return nil
		},
	}

	rootCmd.PersistentFlags().String("device", "", "Serial device path, or exec:CMD for a subprocess transport")
	rootCmd.PersistentFlags().Int("baud", 0, "Line rate (9600, 19200, 38400, 57600 or 115200)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level: error, warn, info, debug")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "Log format: text, json")
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", "", "Structured log file path")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "Disable colored output")

	rootCmd.SuggestionsMinimumDistance = 2

	rootCmd.AddCommand(newConnectCmd())
	rootCmd.AddCommand(newMonitorCmd())
	rootCmd.AddCommand(newUploadCmd())
	rootCmd.AddCommand(newHashPasswordCmd())
	rootCmd.AddCommand(newVersionCmd())

	return rootCmd
}
