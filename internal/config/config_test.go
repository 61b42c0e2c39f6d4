package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"uartlink/internal/login"
	"uartlink/internal/serial"
	"uartlink/internal/session"
)

// unsetEnvForTest unsets an environment variable and registers cleanup to
// restore its original state (including distinguishing "unset" from "set to
// empty string").
func unsetEnvForTest(t *testing.T, key string) {
	t.Helper()
	t.Setenv(key, "")
	os.Unsetenv(key)
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"UARTLINK_SERIAL_DEVICE",
		"UARTLINK_SERIAL_BAUD",
		"UARTLINK_LOGIN_PASSWORD",
		"UARTLINK_LOGIN_RETRY_DELAY",
		"UARTLINK_LOGIN_REQUIRE_BANNER",
		"UARTLINK_CONSOLE_MARKER",
		"UARTLINK_MONITOR_ADDR",
		"UARTLINK_LOG_LEVEL",
		"UARTLINK_LOGFILE_DIR",
	} {
		unsetEnvForTest(t, key)
	}
}

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	clearEnv(t)

	cfg := Load()

	tests := []struct {
		name string
		got  interface{}
		want interface{}
	}{
		{"device", cfg.Device(), DefaultDevice},
		{"baud", cfg.Baud(), serial.DefaultBaud},
		{"poll tick", cfg.PollTick(), session.DefaultPollTick},
		{"flush delay", cfg.FlushDelay(), session.DefaultFlushDelay},
		{"ready signal", cfg.ReadySignal(), login.DefaultReadySignal},
		{"require banner", cfg.RequireBanner(), false},
		{"max retries", cfg.MaxRetries(), login.DefaultMaxRetries},
		{"retry delay", cfg.RetryDelay(), login.DefaultRetryDelay},
		{"session ttl", cfg.SessionTTL(), login.DefaultSessionTTL},
		{"monitor addr", cfg.MonitorAddr(), DefaultMonitorAddr},
		{"marker", cfg.Marker(), byte('#')},
		{"log level", cfg.LogLevel(), "info"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("%s = %v, want %v", tt.name, tt.got, tt.want)
			}
		})
	}
}

func TestLoad_FromEnv(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	clearEnv(t)

	t.Setenv("UARTLINK_SERIAL_DEVICE", "/dev/ttyUSB7")
	t.Setenv("UARTLINK_SERIAL_BAUD", "9600")
	t.Setenv("UARTLINK_LOGIN_PASSWORD", "hunter2")
	t.Setenv("UARTLINK_LOGIN_RETRY_DELAY", "10s")
	t.Setenv("UARTLINK_CONSOLE_MARKER", "%")

	cfg := Load()

	if got := cfg.Device(); got != "/dev/ttyUSB7" {
		t.Errorf("Device() = %q", got)
	}
	if got := cfg.Baud(); got != 9600 {
		t.Errorf("Baud() = %d", got)
	}
	if got := cfg.Password(); got != "hunter2" {
		t.Errorf("Password() = %q", got)
	}
	if got := cfg.RetryDelay(); got != 10*time.Second {
		t.Errorf("RetryDelay() = %v", got)
	}
	if got := cfg.Marker(); got != '%' {
		t.Errorf("Marker() = %q", got)
	}
}

func TestLoad_FromFile(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	clearEnv(t)

	dir := filepath.Join(home, ".config", "uartlink")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	yaml := "serial:\n  device: /dev/ttyS3\n  baud: 57600\nlogin:\n  require_banner: true\n"
	if err := os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg := Load()

	if got := cfg.Device(); got != "/dev/ttyS3" {
		t.Errorf("Device() = %q", got)
	}
	if got := cfg.Baud(); got != 57600 {
		t.Errorf("Baud() = %d", got)
	}
	if !cfg.RequireBanner() {
		t.Error("RequireBanner() = false, want true from file")
	}
}

func TestConfig_SetPersists(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	clearEnv(t)

	cfg := Load()
	if err := cfg.Set("serial.baud", 38400); err != nil {
		t.Fatalf("Set: %v", err)
	}

	if _, err := os.Stat(filepath.Join(home, ".config", "uartlink", "config.yaml")); err != nil {
		t.Fatalf("config file not written: %v", err)
	}

	reloaded := Load()
	if got := reloaded.Baud(); got != 38400 {
		t.Errorf("Baud() after reload = %d, want 38400", got)
	}
}

func TestConfig_LogFileDir(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	clearEnv(t)

	cfg := Load()
	want := filepath.Join(home, ".config", "uartlink", "logs")
	if got := cfg.LogFileDir(); got != want {
		t.Errorf("LogFileDir() = %q, want %q", got, want)
	}

	t.Setenv("UARTLINK_LOGFILE_DIR", "/var/log/uartlink")
	cfg = Load()
	if got := cfg.LogFileDir(); got != "/var/log/uartlink" {
		t.Errorf("LogFileDir() override = %q", got)
	}
}

func TestConfig_Watch(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	clearEnv(t)

	dir := filepath.Join(home, ".config", "uartlink")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("serial:\n  baud: 115200\n"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg := Load()
	changed := make(chan struct{}, 1)
	cfg.Watch(func() {
		select {
		case changed <- struct{}{}:
		default:
		}
	})

	// Give the watcher a moment to arm before rewriting.
	time.Sleep(50 * time.Millisecond)
	if err := os.WriteFile(path, []byte("serial:\n  baud: 9600\n"), 0o600); err != nil {
		t.Fatalf("rewrite config: %v", err)
	}

	select {
	case <-changed:
	case <-time.After(3 * time.Second):
		t.Fatal("config change never observed")
	}

	if got := cfg.Baud(); got != 9600 {
		t.Errorf("Baud() after reload = %d, want 9600", got)
	}
}
