package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/BurntSushi/toml"
)

// EnvOverrides are configuration values read from the environment.
type EnvOverrides struct {
	ConfigPath string
	ServerURL  string
	DataDir    string
	LogLevel   string
}

// CLIOverrides are configuration values set by command-line flags.
// Flags always win over the environment and the config file.
type CLIOverrides struct {
	ConfigPath string
	ServerURL  string
}

// ReadEnvOverrides reads the ANONFS_* environment variables.
func ReadEnvOverrides() EnvOverrides {
	return EnvOverrides{
		ConfigPath: os.Getenv("ANONFS_CONFIG"),
		ServerURL:  os.Getenv("ANONFS_SERVER_URL"),
		DataDir:    os.Getenv("ANONFS_DATA_DIR"),
		LogLevel:   os.Getenv("ANONFS_LOG_LEVEL"),
	}
}

// Load reads and parses a TOML config file, validates it, and returns the
// resulting Config. Unknown keys are fatal — silently ignoring a typo in
// a config file leads to hard-to-debug behavior.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	md, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, fmt.Errorf("parsing config file %s: %w", path, err)
	}

	if err := checkUnknownKeys(&md); err != nil {
		return nil, err
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// LoadOrDefault reads a TOML config file if it exists, otherwise returns
// a Config populated with all default values. This supports the
// zero-config first-run experience.
func LoadOrDefault(path string) (*Config, error) {
	if path == "" {
		return DefaultConfig(), nil
	}

	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return DefaultConfig(), nil
	}

	return Load(path)
}

// Resolve loads configuration and applies the override chain:
// defaults -> config file -> environment variables -> CLI flags.
func Resolve(env EnvOverrides, cli CLIOverrides) (*Config, error) {
	cfgPath := DefaultConfigPath()
	if env.ConfigPath != "" {
		cfgPath = env.ConfigPath
	}

	if cli.ConfigPath != "" {
		cfgPath = cli.ConfigPath
	}

	cfg, err := LoadOrDefault(cfgPath)
	if err != nil {
		return nil, err
	}

	if env.ServerURL != "" {
		cfg.ServerURL = env.ServerURL
	}

	if env.DataDir != "" {
		cfg.DataDir = env.DataDir
	}

	if env.LogLevel != "" {
		cfg.LogLevel = env.LogLevel
	}

	if cli.ServerURL != "" {
		cfg.ServerURL = cli.ServerURL
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	// Trailing slash on the server URL would double up with request paths.
	cfg.ServerURL = strings.TrimRight(cfg.ServerURL, "/")

	return cfg, nil
}

// checkUnknownKeys rejects config files containing keys that do not map
// to any Config field.
func checkUnknownKeys(md *toml.MetaData) error {
	undecoded := md.Undecoded()
	if len(undecoded) == 0 {
		return nil
	}

	keys := make([]string, 0, len(undecoded))
	for _, k := range undecoded {
		keys = append(keys, k.String())
	}

	return fmt.Errorf("unknown config keys: %s", strings.Join(keys, ", "))
}
