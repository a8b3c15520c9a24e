// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"bytes"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/averyhale/trawl-tui/internal/util"
)

// =============================================================================
// CONFIG STRUCTURES
// =============================================================================

// Config represents the complete trawl configuration.
type Config struct {
	Server  ServerConfig  `toml:"server"`
	Polling PollingConfig `toml:"polling"`
	UI      UIConfig      `toml:"ui"`
	Storage StorageConfig `toml:"storage"`
}

// ServerConfig contains backend connection configuration.
type ServerConfig struct {
	// BaseURL is the root URL of the trawl backend.
	BaseURL string `toml:"base_url"`
	// APIToken is the bearer token for authenticated requests.
	APIToken string `toml:"api_token"`
	// TimeoutSecs is the per-request timeout in seconds.
	TimeoutSecs int `toml:"timeout_secs"`
	// MaxRetries caps retries of transient request failures.
	MaxRetries int `toml:"max_retries"`
}

// PollingConfig contains research poll scheduling configuration.
type PollingConfig struct {
	// FastIntervalSecs is the poll interval for young tasks.
	FastIntervalSecs int `toml:"fast_interval_secs"`
	// SlowIntervalSecs applies once a task exceeds SlowAfter polls.
	SlowIntervalSecs int `toml:"slow_interval_secs"`
	// SlowAfter is the poll count past which the slow interval applies.
	SlowAfter int `toml:"slow_after"`
}

// UIConfig contains presentation configuration.
type UIConfig struct {
	// Theme selects the color theme: "dark" or "light".
	Theme string `toml:"theme"`
	// Markdown enables rendered markdown for assistant messages.
	Markdown bool `toml:"markdown"`
}

// StorageConfig contains local cache configuration.
type StorageConfig struct {
	// Enabled controls whether the local sqlite cache is used.
	Enabled bool `toml:"enabled"`
	// Path overrides the cache database location (empty = default
	// ~/.trawl/cache.db).
	Path string `toml:"path"`
}

// Timeout returns the request timeout as a duration.
func (s ServerConfig) Timeout() time.Duration {
	return time.Duration(s.TimeoutSecs) * time.Second
}

// FastInterval returns the fast poll interval as a duration.
func (p PollingConfig) FastInterval() time.Duration {
	return time.Duration(p.FastIntervalSecs) * time.Second
}

// SlowInterval returns the slow poll interval as a duration.
func (p PollingConfig) SlowInterval() time.Duration {
	return time.Duration(p.SlowIntervalSecs) * time.Second
}

// =============================================================================
// DEFAULTS
// =============================================================================

// Default returns a config with built-in defaults.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			BaseURL:     "",
			TimeoutSecs: 30,
			MaxRetries:  3,
		},
		Polling: PollingConfig{
			FastIntervalSecs: 5,
			SlowIntervalSecs: 5,
			SlowAfter:        24,
		},
		UI: UIConfig{
			Theme:    "dark",
			Markdown: true,
		},
		Storage: StorageConfig{
			Enabled: true,
		},
	}
}

// =============================================================================
// FILE PATHS
// =============================================================================

// ConfigDir returns the trawl configuration directory (~/.trawl).
func ConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, ".trawl"), nil
}

// ConfigPath returns the path to the TOML config file.
func ConfigPath() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// CachePath returns the effective sqlite cache location for this config.
func (c *Config) CachePath() (string, error) {
	if c.Storage.Path != "" {
		return c.Storage.Path, nil
	}
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "cache.db"), nil
}

// EnsureConfigDir creates the config directory if it doesn't exist.
func EnsureConfigDir() error {
	dir, err := ConfigDir()
	if err != nil {
		return err
	}
	return os.MkdirAll(dir, 0700)
}

// ensureSecurePermissions tightens the config file to owner-only access;
// it carries the API token.
func ensureSecurePermissions(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if info.Mode().Perm()&0077 != 0 {
		return os.Chmod(path, 0600)
	}
	return nil
}

// =============================================================================
// LOAD FUNCTIONS
// =============================================================================

// Load loads configuration from ~/.trawl/config.toml, falling back to
// defaults when the file is absent. Environment overrides are applied
// last, then the result is validated.
func Load() (*Config, error) {
	path, err := ConfigPath()
	if err != nil {
		return nil, err
	}
	return LoadFromPath(path)
}

// LoadFromPath loads configuration from a specific file path. A missing
// file is not an error; defaults are used.
func LoadFromPath(path string) (*Config, error) {
	cfg := Default()

	if _, err := os.Stat(path); err == nil {
		if err := loadTOML(cfg, path); err != nil {
			return nil, fmt.Errorf("failed to load config from %s: %w", path, err)
		}
	}

	cfg.ApplyEnvOverrides()
	cfg.fillDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func loadTOML(cfg *Config, path string) error {
	if err := ensureSecurePermissions(path); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not ensure secure permissions on %s: %v\n", path, err)
	}
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return fmt.Errorf("failed to decode TOML file: %w", err)
	}
	return nil
}

// fillDefaults fills in any zero values with defaults so a sparse config
// file never produces a zero timeout or interval.
func (c *Config) fillDefaults() {
	defaults := Default()

	if c.Server.TimeoutSecs == 0 {
		c.Server.TimeoutSecs = defaults.Server.TimeoutSecs
	}
	if c.Server.MaxRetries == 0 {
		c.Server.MaxRetries = defaults.Server.MaxRetries
	}
	if c.Polling.FastIntervalSecs == 0 {
		c.Polling.FastIntervalSecs = defaults.Polling.FastIntervalSecs
	}
	if c.Polling.SlowIntervalSecs == 0 {
		c.Polling.SlowIntervalSecs = defaults.Polling.SlowIntervalSecs
	}
	if c.Polling.SlowAfter == 0 {
		c.Polling.SlowAfter = defaults.Polling.SlowAfter
	}
	if c.UI.Theme == "" {
		c.UI.Theme = defaults.UI.Theme
	}
}

// =============================================================================
// SAVE FUNCTIONS
// =============================================================================

// Save writes the config to ~/.trawl/config.toml with owner-only
// permissions.
func Save(cfg *Config) error {
	path, err := ConfigPath()
	if err != nil {
		return err
	}
	return SaveToPath(cfg, path)
}

// SaveToPath writes the config as TOML to a specific path. The write is
// atomic so a crash mid-save never leaves a truncated config behind.
func SaveToPath(cfg *Config, path string) error {
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if err := util.AtomicWriteFile(path, buf.Bytes(), 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// =============================================================================
// VALIDATION
// =============================================================================

// ValidationError describes a single invalid config field.
type ValidationError struct {
	Field   string
	Message string
}

// Error implements the error interface.
func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidateErrors aggregates all validation failures.
type ValidateErrors []ValidationError

// Error implements the error interface.
func (e ValidateErrors) Error() string {
	msgs := make([]string, len(e))
	for i, err := range e {
		msgs[i] = err.Error()
	}
	return strings.Join(msgs, "; ")
}

// Validate checks the config for invalid values. BaseURL may be empty;
// the client reports a not-configured error on first use instead.
func (c *Config) Validate() error {
	var errs ValidateErrors

	if c.Server.BaseURL != "" {
		u, err := url.Parse(c.Server.BaseURL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, ValidationError{
				Field:   "server.base_url",
				Message: fmt.Sprintf("must be an absolute URL, got %q", c.Server.BaseURL),
			})
		} else if u.Scheme != "http" && u.Scheme != "https" {
			errs = append(errs, ValidationError{
				Field:   "server.base_url",
				Message: fmt.Sprintf("scheme must be http or https, got %q", u.Scheme),
			})
		}
	}
	if c.Server.TimeoutSecs < 1 {
		errs = append(errs, ValidationError{
			Field:   "server.timeout_secs",
			Message: "must be at least 1",
		})
	}
	if c.Server.MaxRetries < 0 {
		errs = append(errs, ValidationError{
			Field:   "server.max_retries",
			Message: "must not be negative",
		})
	}
	if c.Polling.FastIntervalSecs < 1 {
		errs = append(errs, ValidationError{
			Field:   "polling.fast_interval_secs",
			Message: "must be at least 1",
		})
	}
	if c.Polling.SlowIntervalSecs < c.Polling.FastIntervalSecs {
		errs = append(errs, ValidationError{
			Field:   "polling.slow_interval_secs",
			Message: "must not be shorter than the fast interval",
		})
	}
	if c.Polling.SlowAfter < 1 {
		errs = append(errs, ValidationError{
			Field:   "polling.slow_after",
			Message: "must be at least 1",
		})
	}
	if c.UI.Theme != "dark" && c.UI.Theme != "light" {
		errs = append(errs, ValidationError{
			Field:   "ui.theme",
			Message: fmt.Sprintf("must be \"dark\" or \"light\", got %q", c.UI.Theme),
		})
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

// =============================================================================
// ENVIRONMENT OVERRIDES
// =============================================================================

// ApplyEnvOverrides applies environment variable overrides to the config.
//
// Supported environment variables:
//   - TRAWL_BASE_URL: overrides server.base_url
//   - TRAWL_API_TOKEN: overrides server.api_token
//   - TRAWL_TIMEOUT_SECS: overrides server.timeout_secs
//   - TRAWL_FAST_POLL_SECS: overrides polling.fast_interval_secs
//   - TRAWL_SLOW_POLL_SECS: overrides polling.slow_interval_secs
//   - TRAWL_THEME: overrides ui.theme
//   - TRAWL_NO_CACHE: set to "1" or "true" to disable the local cache
func (c *Config) ApplyEnvOverrides() {
	if base := os.Getenv("TRAWL_BASE_URL"); base != "" {
		c.Server.BaseURL = base
	}
	if token := os.Getenv("TRAWL_API_TOKEN"); token != "" {
		c.Server.APIToken = token
	}
	if secs := os.Getenv("TRAWL_TIMEOUT_SECS"); secs != "" {
		if n, err := strconv.Atoi(secs); err == nil && n > 0 {
			c.Server.TimeoutSecs = n
		}
	}
	if secs := os.Getenv("TRAWL_FAST_POLL_SECS"); secs != "" {
		if n, err := strconv.Atoi(secs); err == nil && n > 0 {
			c.Polling.FastIntervalSecs = n
		}
	}
	if secs := os.Getenv("TRAWL_SLOW_POLL_SECS"); secs != "" {
		if n, err := strconv.Atoi(secs); err == nil && n > 0 {
			c.Polling.SlowIntervalSecs = n
		}
	}
	if theme := os.Getenv("TRAWL_THEME"); theme != "" {
		c.UI.Theme = theme
	}
	if noCache := os.Getenv("TRAWL_NO_CACHE"); noCache != "" {
		c.Storage.Enabled = !(noCache == "1" || strings.ToLower(noCache) == "true")
	}
}

// =============================================================================
// SINGLETON PATTERN (THREAD-SAFE)
// =============================================================================

var (
	globalConfig     *Config
	globalConfigOnce sync.Once
	globalConfigMu   sync.RWMutex
)

// Global returns the global configuration instance. Loads configuration
// on first access. Thread-safe.
func Global() *Config {
	globalConfigOnce.Do(func() {
		cfg, err := Load()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Warning: %v (using defaults)\n", err)
			cfg = Default()
		}
		globalConfig = cfg
	})

	globalConfigMu.RLock()
	defer globalConfigMu.RUnlock()
	return globalConfig
}

// ReloadGlobal reloads the global configuration from disk. Thread-safe.
func ReloadGlobal() error {
	cfg, err := Load()
	if err != nil {
		return err
	}
	globalConfigMu.Lock()
	defer globalConfigMu.Unlock()
	globalConfig = cfg
	return nil
}

// SetGlobal sets the global configuration instance. Thread-safe.
func SetGlobal(cfg *Config) {
	globalConfigMu.Lock()
	defer globalConfigMu.Unlock()
	globalConfig = cfg
}

// ResetGlobalForTesting resets the global config state for testing.
func ResetGlobalForTesting() {
	globalConfigMu.Lock()
	defer globalConfigMu.Unlock()
	globalConfig = nil
	globalConfigOnce = sync.Once{}
}
