//go:build !windows

package main

import (
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"uartlink/internal/config"
)

// daemonChildFlag marks the re-executed child of a --daemon launch. The
// parent detaches it from the terminal and records its PID.
const daemonChildFlag = "--daemon-child"

func pidFilePath() string {
	return filepath.Join(config.Dir(), "uartlink.pid")
}

// daemonLogPath is where the detached child's raw stdout and stderr
// land. Structured logs follow log.file as usual.
func daemonLogPath() string {
	return filepath.Join(config.Dir(), "daemon.log")
}

func writePIDFile(path string, pid int) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(strconv.Itoa(pid)), 0o644)
}

func readPIDFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("read PID file: %w", err)
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("invalid PID in %s: %w", path, err)
	}
	return pid, nil
}

// processAlive probes a PID with signal 0.
func processAlive(pid int) bool {
	return syscall.Kill(pid, 0) == nil
}

// spawnDaemon re-executes the current binary detached from the
// terminal, swapping --daemon for the child marker flag, and records
// the child's PID.
func spawnDaemon(out io.Writer) error {
	pidPath := pidFilePath()
	if pid, err := readPIDFile(pidPath); err == nil {
		if processAlive(pid) {
			return fmt.Errorf("monitor already running (PID %d), stop it first", pid)
		}
		os.Remove(pidPath)
	}

	logPath := daemonLogPath()
	if err := os.MkdirAll(filepath.Dir(logPath), 0o700); err != nil {
		return err
	}
	logFile, err := os.OpenFile(logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open daemon log %s: %w", logPath, err)
	}
	defer logFile.Close()

	// The marker flag goes last so command path resolution still sees
	// "monitor" first.
	args := make([]string, 0, len(os.Args))
	for _, arg := range os.Args[1:] {
		if arg == "--daemon" || strings.HasPrefix(arg, "--daemon=") {
			continue
		}
		args = append(args, arg)
	}
	args = append(args, daemonChildFlag)

	cmd := exec.Command(os.Args[0], args...)
	cmd.Stdout = logFile
	cmd.Stderr = logFile
	cmd.Stdin = nil
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setsid: true,
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start daemon: %w", err)
	}

	if err := writePIDFile(pidPath, cmd.Process.Pid); err != nil {
		fmt.Fprintf(out, "warning: cannot write PID file: %v\n", err)
	}

	fmt.Fprintf(out, "monitor started (PID %d)\n", cmd.Process.Pid)
	fmt.Fprintf(out, "  output: %s\n", logPath)
	fmt.Fprintf(out, "  pid:    %s\n", pidPath)
	return nil
}

// stopDaemon sends SIGTERM to the recorded PID and escalates to
// SIGKILL when the process does not exit within five seconds.
func stopDaemon(out io.Writer) error {
	pidPath := pidFilePath()
	pid, err := readPIDFile(pidPath)
	if err != nil {
		fmt.Fprintln(out, "no monitor is running")
		return nil
	}

	if !processAlive(pid) {
		fmt.Fprintf(out, "monitor (PID %d) is not running, removing stale PID file\n", pid)
		os.Remove(pidPath)
		return nil
	}

	if err := syscall.Kill(pid, syscall.SIGTERM); err != nil {
		return fmt.Errorf("signal PID %d: %w", pid, err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if !processAlive(pid) {
			fmt.Fprintln(out, "monitor stopped")
			os.Remove(pidPath)
			return nil
		}
		time.Sleep(200 * time.Millisecond)
	}

	_ = syscall.Kill(pid, syscall.SIGKILL)
	time.Sleep(500 * time.Millisecond)
	os.Remove(pidPath)
	if processAlive(pid) {
		return fmt.Errorf("monitor (PID %d) survived SIGKILL", pid)
	}
	fmt.Fprintln(out, "monitor killed")
	return nil
}

func daemonStatus(out io.Writer) error {
	pidPath := pidFilePath()
	pid, err := readPIDFile(pidPath)
	if err != nil {
		fmt.Fprintln(out, "not running")
		return nil
	}

	if processAlive(pid) {
		fmt.Fprintf(out, "running (PID %d)\n", pid)
		fmt.Fprintf(out, "  output: %s\n", daemonLogPath())
		return nil
	}

	fmt.Fprintf(out, "not running (stale PID %d)\n", pid)
	os.Remove(pidPath)
	return nil
}

// cleanupDaemonChild removes the PID file when the detached child
// exits on its own.
func cleanupDaemonChild() {
	os.Remove(pidFilePath())
}
