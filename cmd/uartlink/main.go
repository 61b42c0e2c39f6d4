// Command uartlink talks to an embedded Zephyr device over its serial
// console. It untangles the device's noisy UART output into readable
// lines, drives the shell login exchange, and can serve the live
// session to WebSocket observers.
package main

import (
	"fmt"
	"os"
)

// Version information (set via ldflags during build).
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
