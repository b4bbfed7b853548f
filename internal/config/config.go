// ABOUTME: walktrack configuration management with backend selection
// ABOUTME: Handles data location, validator thresholds, and the storage backend factory

package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/harper/walktrack/internal/session"
	"github.com/harper/walktrack/internal/storage"
	"github.com/harper/walktrack/internal/validate"
)

// Storage backends.
const (
	BackendSQLite = "sqlite"
	BackendBadger = "badger"
)

const (
	// defaultDBFilename is the SQLite database inside the data dir.
	defaultDBFilename = "walktrack.db"
	// badgerDirName is the Badger directory inside the data dir.
	badgerDirName = "badger"
)

// Config stores walktrack configuration.
type Config struct {
	// Backend selects the storage backend: "sqlite" (default) or "badger".
	Backend string `json:"backend,omitempty"`

	// DataDir is the root directory for data storage. Supports ~ expansion.
	// Defaults to ~/.local/share/walktrack.
	DataDir string `json:"data_dir,omitempty"`

	// LogLevel is debug, info, warn or error.
	LogLevel string `json:"log_level,omitempty"`

	// Profile is the default accuracy profile for recording.
	Profile string `json:"profile,omitempty"`

	// Validator thresholds. Zero keeps the default.
	MaxAccuracyMeters   float64 `json:"max_accuracy_meters,omitempty"`
	MaxSpeedKmh         float64 `json:"max_speed_kmh,omitempty"`
	DisableJumpCheck    bool    `json:"disable_jump_check,omitempty"`
	MaxClockSkewSeconds int     `json:"max_clock_skew_seconds,omitempty"`
}

// GetBackend returns the configured backend, defaulting to sqlite.
func (c *Config) GetBackend() string {
	if c.Backend == "" {
		return BackendSQLite
	}
	return strings.ToLower(c.Backend)
}

// GetDataDir returns the configured data directory with ~ expanded,
// defaulting to the standard XDG data directory.
func (c *Config) GetDataDir() string {
	if c.DataDir == "" {
		return storage.DefaultDataDir()
	}
	return ExpandPath(c.DataDir)
}

// GetProfile returns the accuracy profile, defaulting to balanced.
func (c *Config) GetProfile() (session.AccuracyProfile, error) {
	return session.ParseProfile(c.Profile)
}

// ValidatorConfig converts the thresholds into validator settings.
func (c *Config) ValidatorConfig() validate.Config {
	cfg := validate.DefaultConfig()
	if c.MaxAccuracyMeters > 0 {
		cfg.MaxAccuracy = c.MaxAccuracyMeters
	}
	if c.MaxSpeedKmh > 0 {
		cfg.MaxSpeed = c.MaxSpeedKmh / 3.6
	}
	if c.DisableJumpCheck {
		cfg.MaxSpeed = 0
	}
	if c.MaxClockSkewSeconds > 0 {
		cfg.MaxClockSkew = time.Duration(c.MaxClockSkewSeconds) * time.Second
	}
	return cfg
}

// defaultFirstRunConfig returns the default config for a first run. An
// existing Badger directory keeps Badger as the backend.
func defaultFirstRunConfig() *Config {
	dir := filepath.Join(storage.DefaultDataDir(), badgerDirName)
	nonEmpty, err := storage.IsDirNonEmpty(dir)
	switch {
	case err != nil:
		fmt.Fprintf(os.Stderr, "warning: could not check for existing data: %v\n", err)
	case nonEmpty:
		return &Config{Backend: BackendBadger}
	}
	return &Config{Backend: BackendSQLite}
}

// ExpandPath expands a leading ~ to the user's home directory.
func ExpandPath(path string) string {
	if path == "" {
		return ""
	}
	if path == "~" {
		home, _ := os.UserHomeDir()
		return home
	}
	if strings.HasPrefix(path, "~/") {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, path[2:])
	}
	return path
}

// StoragePath returns where the named backend keeps its data.
func (c *Config) StoragePath(backend string) (string, error) {
	switch strings.ToLower(backend) {
	case BackendSQLite:
		return filepath.Join(c.GetDataDir(), defaultDBFilename), nil
	case BackendBadger:
		return filepath.Join(c.GetDataDir(), badgerDirName), nil
	default:
		return "", fmt.Errorf("unknown backend: %q", backend)
	}
}

// OpenStorage opens the configured backend.
func (c *Config) OpenStorage() (storage.Repository, error) {
	return c.OpenBackend(c.GetBackend())
}

// OpenBackend opens a specific backend under the data dir.
func (c *Config) OpenBackend(backend string) (storage.Repository, error) {
	path, err := c.StoragePath(backend)
	if err != nil {
		return nil, err
	}
	switch strings.ToLower(backend) {
	case BackendBadger:
		return storage.NewBadgerQueue(path)
	default:
		return storage.NewSQLiteQueue(path)
	}
}

// Validate reports configuration mistakes.
func (c *Config) Validate() error {
	if _, err := c.StoragePath(c.GetBackend()); err != nil {
		return err
	}
	if _, err := c.GetProfile(); err != nil {
		return err
	}
	if c.MaxAccuracyMeters < 0 || c.MaxSpeedKmh < 0 || c.MaxClockSkewSeconds < 0 {
		return fmt.Errorf("validator thresholds must not be negative")
	}
	return nil
}

// GetConfigPath returns the config file path.
func GetConfigPath() string {
	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, _ := os.UserHomeDir()
		configDir = filepath.Join(homeDir, ".config")
	}
	return filepath.Join(configDir, "walktrack", "config.json")
}

// Load reads config from disk, writing defaults on first run.
func Load() (*Config, error) {
	path := GetConfigPath()
	data, err := os.ReadFile(path) //#nosec G304 -- path is derived from the user's config directory
	if err != nil {
		if os.IsNotExist(err) {
			cfg := defaultFirstRunConfig()
			if saveErr := cfg.Save(); saveErr != nil {
				fmt.Fprintf(os.Stderr, "warning: could not save default config: %v\n", saveErr)
			}
			return cfg, nil
		}
		return nil, err
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return &cfg, nil
}

// Save writes config to disk atomically.
func (c *Config) Save() error {
	path := GetConfigPath()
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	return atomicWrite(path, data)
}

// atomicWrite writes data to a temp file in the target dir and renames it
// into place.
func atomicWrite(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".config-*.json")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return fmt.Errorf("chmod temp file: %w", err)
	}
	return os.Rename(tmpName, path)
}
