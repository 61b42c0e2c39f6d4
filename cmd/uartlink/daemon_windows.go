//go:build windows

package main

import (
	"errors"
	"io"
)

const daemonChildFlag = "--daemon-child"

var errDaemonUnsupported = errors.New("daemon mode is not supported on Windows; run 'uartlink monitor' under a service manager instead")

func spawnDaemon(io.Writer) error { return errDaemonUnsupported }

func stopDaemon(io.Writer) error { return errDaemonUnsupported }

func daemonStatus(io.Writer) error { return errDaemonUnsupported }

func cleanupDaemonChild() {}
