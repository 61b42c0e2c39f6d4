package main

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"uartlink/internal/config"
	"uartlink/internal/keymgmt"
)

func newUploadCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "upload <slot> <file>",
		Short: "Upload key material to a device slot",
		Long: `Connect, log in, and push the lines of a key material file into the
named device slot.

Lines are paced out one per interval so the device's UART receive
buffer is never overrun; the interval is tunable via upload.interval.
When a password is configured the command waits for login to finish
before sending anything.`,
		Example: `  uartlink upload 0 device-key.pem
  uartlink upload trust-anchor ca.crt --device /dev/ttyUSB0`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			slot, path := args[0], args[1]
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

			if pw := cfg.Password(); pw != "" {
				if err := awaitLogin(ctx, eng, pw); err != nil {
					cancel()
					<-runErr
					return err
				}
			}

			out := cmd.OutOrStdout()
			uploader := keymgmt.New(keymgmt.Config{
				Send:     eng.Send,
				Interval: cfg.UploadInterval(),
				Progress: func(sent, total int) {
					fmt.Fprintf(out, "\rsent %d/%d lines", sent, total)
				},
			})

			upErr := uploader.UploadFile(ctx, slot, path)
			fmt.Fprintln(out)
			cancel()
			if err := <-runErr; err != nil {
				return err
			}
			if upErr != nil {
				return upErr
			}
			fmt.Fprintf(out, "uploaded %s to slot %s\n", path, slot)
			return nil
		},
	}
}
