// ABOUTME: Sync configuration management for remote delivery
// ABOUTME: Handles loading, saving, and environment overrides for sync settings

package sync

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
)

// Transport kinds.
const (
	TransportHTTP  = "http"
	TransportCharm = "charm"
)

// Config represents the sync configuration.
type Config struct {
	Server    string `json:"server"`
	Token     string `json:"token,omitempty"`
	DeviceID  string `json:"device_id"`
	Transport string `json:"transport,omitempty"`
	AutoSync  bool   `json:"auto_sync"`

	BatchSize            int `json:"batch_size,omitempty"`
	IntervalSeconds      int `json:"interval_seconds,omitempty"`
	SubmitTimeoutSeconds int `json:"submit_timeout_seconds,omitempty"`
	BackoffBaseSeconds   int `json:"backoff_base_seconds,omitempty"`
	BackoffMaxSeconds    int `json:"backoff_max_seconds,omitempty"`
	MaxAttempts          int `json:"max_attempts,omitempty"`
}

// ConfigPath returns the path to the sync config file.
// Respects XDG_CONFIG_HOME if set, otherwise falls back to ~/.config.
func ConfigPath() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "walktrack", "sync.json")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".walktrack", "sync.json")
	}
	return filepath.Join(home, ".config", "walktrack", "sync.json")
}

// ConfigDir returns the directory containing the config file.
func ConfigDir() string {
	return filepath.Dir(ConfigPath())
}

// EnsureConfigDir creates the config directory if it doesn't exist. A plain
// file in its place is moved aside first.
func EnsureConfigDir() error {
	dir := ConfigDir()
	info, err := os.Stat(dir)
	switch {
	case err == nil && info.IsDir():
		return nil
	case err == nil:
		backup := dir + ".backup." + time.Now().Format("20060102-150405")
		if err := os.Rename(dir, backup); err != nil {
			return fmt.Errorf("config path %s is a file, failed to backup: %w", dir, err)
		}
	case !os.IsNotExist(err):
		return fmt.Errorf("check config dir: %w", err)
	}
	return os.MkdirAll(dir, 0o750)
}

// LoadConfig loads config from file and applies environment variable overrides.
// A corrupt file is moved aside and reported.
func LoadConfig() (*Config, error) {
	cfg := &Config{}
	configPath := ConfigPath()

	info, statErr := os.Stat(configPath)
	if statErr == nil && info.IsDir() {
		return nil, fmt.Errorf("config path %s is a directory, not a file", configPath)
	}

	//#nosec G304 -- configPath is derived from user's home directory
	data, err := os.ReadFile(configPath)
	if err == nil {
		if jsonErr := json.Unmarshal(data, cfg); jsonErr != nil {
			backup := configPath + ".corrupt." + time.Now().Format("20060102-150405")
			if renameErr := os.Rename(configPath, backup); renameErr == nil {
				fmt.Fprintf(os.Stderr, "Warning: corrupted config backed up to %s\n", backup)
			}
			return nil, fmt.Errorf("config file corrupted: %w", jsonErr)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("read config: %w", err)
	}

	applyEnvOverrides(cfg)
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if server := os.Getenv("WALKTRACK_SERVER"); server != "" {
		cfg.Server = server
	}
	if token := os.Getenv("WALKTRACK_TOKEN"); token != "" {
		cfg.Token = token
	}
	if deviceID := os.Getenv("WALKTRACK_DEVICE_ID"); deviceID != "" {
		cfg.DeviceID = deviceID
	}
	if transport := os.Getenv("WALKTRACK_TRANSPORT"); transport != "" {
		cfg.Transport = strings.ToLower(transport)
	}
	if size := os.Getenv("WALKTRACK_BATCH_SIZE"); size != "" {
		if n, err := strconv.Atoi(size); err == nil && n > 0 {
			cfg.BatchSize = n
		}
	}
	if auto := os.Getenv("WALKTRACK_AUTO_SYNC"); auto != "" {
		cfg.AutoSync = auto == "1" || strings.EqualFold(auto, "true")
	}
}

// SaveConfig writes config to file.
func SaveConfig(cfg *Config) error {
	if err := EnsureConfigDir(); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	if err := os.WriteFile(ConfigPath(), data, 0o600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}

	return nil
}

// InitConfig creates a new config with a fresh device ID, keeping any
// server and token already configured. A first init turns auto sync on.
func InitConfig(server string) (*Config, error) {
	cfg, err := LoadConfig()
	if err != nil {
		cfg = &Config{}
	}
	if cfg.DeviceID == "" {
		cfg.AutoSync = true
	}
	cfg.DeviceID = ulid.Make().String()
	if server != "" {
		cfg.Server = server
	}
	if cfg.Transport == "" {
		cfg.Transport = TransportHTTP
	}

	if err := SaveConfig(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ConfigExists returns true if config file exists.
func ConfigExists() bool {
	_, err := os.Stat(ConfigPath())
	return err == nil
}

// TransportKind returns the configured transport, defaulting to HTTP.
func (c *Config) TransportKind() string {
	if c.Transport == "" {
		return TransportHTTP
	}
	return c.Transport
}

// IsConfigured returns true if the configured transport has what it needs.
func (c *Config) IsConfigured() bool {
	switch c.TransportKind() {
	case TransportCharm:
		return c.DeviceID != ""
	case TransportHTTP:
		return c.Server != "" && c.DeviceID != ""
	default:
		return false
	}
}

// Validate reports configuration mistakes.
func (c *Config) Validate() error {
	switch c.TransportKind() {
	case TransportHTTP, TransportCharm:
	default:
		return fmt.Errorf("unknown transport %q (want %s or %s)", c.Transport, TransportHTTP, TransportCharm)
	}
	if !c.IsConfigured() {
		return ErrNotConfigured
	}
	return nil
}

// SchedulerOptions converts the tuning fields into scheduler options.
// Unset fields keep the scheduler defaults.
func (c *Config) SchedulerOptions() Options {
	opts := DefaultOptions()
	opts.DeviceID = c.DeviceID
	if c.BatchSize > 0 {
		opts.BatchSize = c.BatchSize
	}
	if c.IntervalSeconds > 0 {
		opts.Interval = time.Duration(c.IntervalSeconds) * time.Second
	}
	if c.SubmitTimeoutSeconds > 0 {
		opts.SubmitTimeout = time.Duration(c.SubmitTimeoutSeconds) * time.Second
	}
	if c.BackoffBaseSeconds > 0 {
		opts.Backoff.Base = time.Duration(c.BackoffBaseSeconds) * time.Second
	}
	if c.BackoffMaxSeconds > 0 {
		opts.Backoff.Max = time.Duration(c.BackoffMaxSeconds) * time.Second
	}
	if c.MaxAttempts > 0 {
		opts.MaxAttempts = c.MaxAttempts
	}
	return opts
}
