// Package config loads and resolves client configuration from the
// four-layer override chain: defaults -> config file -> environment
// variables -> CLI flags.
package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
)

// appDirName is the per-application directory under the XDG config and
// data roots.
const appDirName = "anonfs"

// Config is the on-disk TOML configuration.
type Config struct {
	// ServerURL is the base URL of the vault API.
	ServerURL string `toml:"server_url"`
	// DataDir holds the token file and the listing cache database.
	DataDir string `toml:"data_dir"`
	// LogLevel is one of debug, info, warn, error.
	LogLevel string `toml:"log_level"`
}

// DefaultConfig returns a Config populated with all default values.
func DefaultConfig() *Config {
	return &Config{
		ServerURL: "http://localhost:8491",
		DataDir:   defaultDataDir(),
		LogLevel:  "info",
	}
}

// DefaultConfigPath returns the default config file location
// (~/.config/anonfs/config.toml on Linux).
func DefaultConfigPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}

	return filepath.Join(dir, appDirName, "config.toml")
}

// defaultDataDir returns the default data directory
// (~/.local/share/anonfs on Linux).
func defaultDataDir() string {
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, appDirName)
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}

	return filepath.Join(home, ".local", "share", appDirName)
}

// TokenPath is where the session token pair is persisted.
func (c *Config) TokenPath() string {
	return filepath.Join(c.DataDir, "tokens.json")
}

// CachePath is the SQLite listing cache database.
func (c *Config) CachePath() string {
	return filepath.Join(c.DataDir, "cache.db")
}

// validLogLevels for Validate error messages.
var validLogLevels = []string{"debug", "info", "warn", "error"}

// Validate checks field values. Called after every load so a typo in the
// config file fails fast instead of producing confusing behavior later.
func Validate(cfg *Config) error {
	if cfg.ServerURL == "" {
		return fmt.Errorf("server_url must not be empty")
	}

	u, err := url.Parse(cfg.ServerURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("server_url %q is not a valid URL", cfg.ServerURL)
	}

	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("server_url scheme must be http or https, got %q", u.Scheme)
	}

	if cfg.DataDir == "" {
		return fmt.Errorf("data_dir must not be empty")
	}

	valid := false

	for _, l := range validLogLevels {
		if cfg.LogLevel == l {
			valid = true
			break
		}
	}

	if !valid {
		return fmt.Errorf("log_level must be one of %s, got %q",
			strings.Join(validLogLevels, ", "), cfg.LogLevel)
	}

	return nil
}
