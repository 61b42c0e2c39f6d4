// Package config handles uartlink configuration using Viper.
//
// Configuration sources (in priority order):
//  1. Environment variables (UARTLINK_*)
//  2. Config file (~/.config/uartlink/config.yaml)
//  3. Built-in defaults
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"

	"uartlink/internal/keymgmt"
	"uartlink/internal/login"
	"uartlink/internal/serial"
	"uartlink/internal/session"
	"uartlink/internal/stream"
)

const (
	// DefaultDevice is the serial device most Zephyr dev kits enumerate as.
	DefaultDevice = "/dev/ttyACM0"
	// DefaultMonitorAddr is the default monitor listen address.
	DefaultMonitorAddr = "127.0.0.1:8762"
)

// Config holds the uartlink configuration.
type Config struct {
	v *viper.Viper
}

// Load reads configuration from all sources.
func Load() *Config {
	v := viper.New()

	// Set defaults
	v.SetDefault("serial.device", DefaultDevice)
	v.SetDefault("serial.baud", serial.DefaultBaud)
	v.SetDefault("session.poll_tick", session.DefaultPollTick)
	v.SetDefault("session.flush_delay", session.DefaultFlushDelay)
	v.SetDefault("console.prompts", stream.DefaultPrompts)
	v.SetDefault("console.marker", string(stream.DefaultMarker))
	v.SetDefault("login.password", "")
	v.SetDefault("login.ready_signal", login.DefaultReadySignal)
	v.SetDefault("login.require_banner", false)
	v.SetDefault("login.max_retries", login.DefaultMaxRetries)
	v.SetDefault("login.retry_delay", login.DefaultRetryDelay)
	v.SetDefault("login.session_ttl", login.DefaultSessionTTL)
	v.SetDefault("keymgmt.interval", keymgmt.DefaultInterval)
	v.SetDefault("monitor.addr", DefaultMonitorAddr)
	v.SetDefault("monitor.password_hash", "")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("log.file", "")
	v.SetDefault("logfile.dir", "")

	// Config file location
	if dir := Dir(); dir != "" {
		v.AddConfigPath(dir)
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	// Environment variables
	v.SetEnvPrefix("UARTLINK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Read config file (ignore if not found, but warn on other errors)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			fmt.Fprintf(os.Stderr, "Warning: error reading config file: %v\n", err)
		}
	}

	return &Config{v: v}
}

// Dir returns the configuration directory, empty when the home
// directory cannot be resolved.
func Dir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "uartlink")
}

// Get returns a configuration value.
func (c *Config) Get(key string) interface{} {
	return c.v.Get(key)
}

// GetString returns a configuration value as string.
func (c *Config) GetString(key string) string {
	return c.v.GetString(key)
}

// GetInt returns a configuration value as int.
func (c *Config) GetInt(key string) int {
	return c.v.GetInt(key)
}

// Set sets a configuration value and persists it.
func (c *Config) Set(key string, value interface{}) error {
	c.v.Set(key, value)

	dir := Dir()
	if dir == "" {
		return fmt.Errorf("config: cannot resolve home directory")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}
	return c.v.WriteConfigAs(filepath.Join(dir, "config.yaml"))
}

// All returns all configuration as a map.
func (c *Config) All() map[string]interface{} {
	return c.v.AllSettings()
}

// Watch re-reads the config file whenever it changes on disk and calls
// onChange after each reload.
func (c *Config) Watch(onChange func()) {
	c.v.OnConfigChange(func(fsnotify.Event) {
		if onChange != nil {
			onChange()
		}
	})
	c.v.WatchConfig()
}

// Device returns the serial device path.
func (c *Config) Device() string {
	return c.GetString("serial.device")
}

// Baud returns the serial line speed.
func (c *Config) Baud() int {
	return c.GetInt("serial.baud")
}

// PollTick returns the engine poll interval.
func (c *Config) PollTick() time.Duration {
	return c.v.GetDuration("session.poll_tick")
}

// FlushDelay returns the partial-line debounce window.
func (c *Config) FlushDelay() time.Duration {
	return c.v.GetDuration("session.flush_delay")
}

// Prompts returns the shell prompt vocabulary.
func (c *Config) Prompts() []string {
	return c.v.GetStringSlice("console.prompts")
}

// Marker returns the prompt marker byte.
func (c *Config) Marker() byte {
	s := c.GetString("console.marker")
	if s == "" {
		return stream.DefaultMarker
	}
	return s[0]
}

// Password returns the device login password. Usually supplied via
// UARTLINK_LOGIN_PASSWORD rather than the config file.
func (c *Config) Password() string {
	return c.GetString("login.password")
}

// ReadySignal returns the boot banner the login flow waits for.
func (c *Config) ReadySignal() string {
	return c.GetString("login.ready_signal")
}

// RequireBanner reports whether only the boot banner counts as ready.
func (c *Config) RequireBanner() bool {
	return c.v.GetBool("login.require_banner")
}

// MaxRetries returns the login attempt bound.
func (c *Config) MaxRetries() int {
	return c.GetInt("login.max_retries")
}

// RetryDelay returns the pause before a login resend.
func (c *Config) RetryDelay() time.Duration {
	return c.v.GetDuration("login.retry_delay")
}

// SessionTTL returns the authenticated session lifetime.
func (c *Config) SessionTTL() time.Duration {
	return c.v.GetDuration("login.session_ttl")
}

// UploadInterval returns the keymgmt line pacing interval.
func (c *Config) UploadInterval() time.Duration {
	return c.v.GetDuration("keymgmt.interval")
}

// MonitorAddr returns the monitor listen address.
func (c *Config) MonitorAddr() string {
	return c.GetString("monitor.addr")
}

// MonitorPasswordHash returns the bcrypt hash gating monitor clients,
// empty when the gate is off.
func (c *Config) MonitorPasswordHash() string {
	return c.GetString("monitor.password_hash")
}

// LogLevel returns the structured log level name.
func (c *Config) LogLevel() string {
	return c.GetString("log.level")
}

// LogFormat returns "text" or "json".
func (c *Config) LogFormat() string {
	return c.GetString("log.format")
}

// LogFile returns the structured log sink path, empty for stderr.
func (c *Config) LogFile() string {
	return c.GetString("log.file")
}

// LogFileDir returns the session transcript directory.
func (c *Config) LogFileDir() string {
	if dir := c.GetString("logfile.dir"); dir != "" {
		return dir
	}
	return filepath.Join(Dir(), "logs")
}
