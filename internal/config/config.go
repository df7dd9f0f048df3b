// Package config loads daemon settings from ~/.clockguard/config.toml and
// owns the filesystem layout of the agent's state directory.
package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// Config holds daemon settings. Zero values are filled from DefaultConfig.
type Config struct {
	APIBaseURL    string `toml:"api_base_url"`
	ClientID      string `toml:"client_id"`
	ClientSecret  string `toml:"client_secret"`
	RedirectURI   string `toml:"redirect_uri"`
	ListenAddr    string `toml:"listen_addr"`
	PollSeconds   int    `toml:"poll_seconds"`
	PlayerCommand string `toml:"player_command"` // external command for custom sound playback, e.g. "aplay -"
}

// DefaultConfig returns settings used when no config file exists.
func DefaultConfig() *Config {
	return &Config{
		APIBaseURL:  "https://rest.tsheets.com/api/v1",
		ListenAddr:  "127.0.0.1:7421",
		PollSeconds: 60,
	}
}

// Dir returns the agent's state directory (~/.clockguard).
func Dir() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(homeDir, ".clockguard"), nil
}

// Path returns the config file path.
func Path() (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// DatabasePath returns the SQLite database path.
func DatabasePath() (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "clockguard.sqlite"), nil
}

// StatusFilePath returns the badge status file path.
func StatusFilePath() (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "badge.json"), nil
}

// SealKeyPath returns the path of the key that seals the stored session.
func SealKeyPath() (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "seal.key"), nil
}

// PairingSecretPath returns the path of the control-API pairing secret.
func PairingSecretPath() (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "pairing.secret"), nil
}

// EnsureDirectories creates the state directory if missing.
func EnsureDirectories() error {
	dir, err := Dir()
	if err != nil {
		return err
	}
	return os.MkdirAll(dir, 0o700)
}

// Load reads the config file, overlaying it on defaults. A missing file is
// not an error.
func Load() (*Config, error) {
	cfg := DefaultConfig()
	path, err := Path()
	if err != nil {
		return nil, err
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	if cfg.PollSeconds <= 0 {
		cfg.PollSeconds = DefaultConfig().PollSeconds
	}
	return cfg, nil
}

// PollInterval returns the polling period as a duration.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.PollSeconds) * time.Second
}
