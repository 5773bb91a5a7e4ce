// Package config holds the application configuration and the key-value
// store abstraction used for persisted pricing settings.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Config holds all maestro configuration.
type Config struct {
	General GeneralConfig  `toml:"general"`
	Stats   StatsConfig    `toml:"stats"`
	Remotes []RemoteConfig `toml:"remotes"`
}

// GeneralConfig holds general preferences.
type GeneralConfig struct {
	// ClaudeDir is the local Claude data directory containing journal
	// files under projects/. Defaults to ~/.claude.
	ClaudeDir string `toml:"claude_dir,omitempty"`
	// DefaultModel prices queries whose model is unknown to the registry.
	DefaultModel string `toml:"default_model,omitempty"`
	// IncludeSubagents controls whether subagent journals are scanned.
	IncludeSubagents bool `toml:"include_subagents"`
}

// StatsConfig holds Stats Event Store settings.
type StatsConfig struct {
	// DBPath overrides the default database location.
	DBPath string `toml:"db_path,omitempty"`
}

// RemoteConfig describes an SSH host whose journal files are included in
// historical reconstruction.
type RemoteConfig struct {
	// Host is passed to ssh verbatim (alias or user@host).
	Host string `toml:"host"`
	// ClaudeDir is the remote Claude data directory. Defaults to ~/.claude.
	ClaudeDir string `toml:"claude_dir,omitempty"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		General: GeneralConfig{
			IncludeSubagents: true,
		},
	}
}

// ConfigDir returns the XDG-compliant config directory.
func ConfigDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "maestro")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "maestro")
}

// ConfigPath returns the full path to the config file.
func ConfigPath() string {
	return filepath.Join(ConfigDir(), "config.toml")
}

// SettingsPath returns the path of the key-value settings file holding
// agent and folder pricing configs.
func SettingsPath() string {
	return filepath.Join(ConfigDir(), "settings.toml")
}

// DataDir returns the XDG-compliant data directory for the stats database.
func DataDir() string {
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, "maestro")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".local", "share", "maestro")
}

// ClaudeDir resolves the effective local Claude data directory.
func (c Config) ClaudeDir() string {
	if c.General.ClaudeDir != "" {
		return c.General.ClaudeDir
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".claude")
}

// DBPath resolves the effective stats database path.
func (c Config) DBPath() string {
	if c.Stats.DBPath != "" {
		return c.Stats.DBPath
	}
	return filepath.Join(DataDir(), "stats.db")
}

// Load reads the config file, returning defaults if it doesn't exist.
func Load() (Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(ConfigPath())
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("reading config: %w", err)
	}

	if err := toml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parsing config: %w", err)
	}

	return cfg, nil
}

// Save writes the config to disk.
func Save(cfg Config) error {
	dir := ConfigDir()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating config dir: %w", err)
	}

	f, err := os.OpenFile(ConfigPath(), os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("creating config file: %w", err)
	}
	defer func() { _ = f.Close() }()

	enc := toml.NewEncoder(f)
	return enc.Encode(cfg)
}

// Exists returns true if a config file exists on disk.
func Exists() bool {
	_, err := os.Stat(ConfigPath())
	return err == nil
}
