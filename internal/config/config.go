// Package config stores the collector credentials and identity for this
// installation.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

// DefaultAPIURL is the collector used when none is configured.
const DefaultAPIURL = "https://api.anolog.dev"

// Environment overrides, applied on top of the config file.
const (
	EnvAPIKey = "ANOLOG_API_KEY"
	EnvAPIURL = "ANOLOG_API_URL"
)

// Config holds all configurable settings.
type Config struct {
	APIKey    string `json:"api_key"`
	APIURL    string `json:"api_url"`
	MachineID string `json:"machine_id"` // stable per-installation identity
}

// Defaults returns the configuration used before any file or environment
// values apply.
func Defaults() Config {
	return Config{APIURL: DefaultAPIURL}
}

// Path returns the config file location, ~/.config/anolog/config.json.
func Path() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "anolog", "config.json"), nil
}

// Load reads the config file and applies environment overrides on top.
// A missing file yields the defaults; a malformed one yields a ParseError.
func Load() (Config, error) {
	cfg := Defaults()

	path, err := Path()
	if err != nil {
		return cfg, err
	}
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		// First run; defaults and environment only.
	case err != nil:
		return cfg, err
	default:
		var file Config
		if err := json.Unmarshal(data, &file); err != nil {
			return cfg, &ParseError{Path: path, Err: err}
		}
		if file.APIKey != "" {
			cfg.APIKey = file.APIKey
		}
		if file.APIURL != "" {
			cfg.APIURL = file.APIURL
		}
		if file.MachineID != "" {
			cfg.MachineID = file.MachineID
		}
	}

	if v := os.Getenv(EnvAPIKey); v != "" {
		cfg.APIKey = v
	}
	if v := os.Getenv(EnvAPIURL); v != "" {
		cfg.APIURL = v
	}
	return cfg, nil
}

// Save writes the config atomically, assigning a machine identity on first
// save so the collector can deduplicate per installation.
func (c *Config) Save() error {
	if c.MachineID == "" {
		c.MachineID = uuid.NewString()
	}

	path, err := Path()
	if err != nil {
		return fmt.Errorf("resolving config path: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to save config: %w", err)
	}
	data = append(data, '\n')

	tmp, err := os.CreateTemp(filepath.Dir(path), "config-*.json.tmp")
	if err != nil {
		return fmt.Errorf("failed to save config: %w", err)
	}
	tmpName := tmp.Name()

	defer func() {
		if err != nil {
			os.Remove(tmpName)
		}
	}()

	if _, err = tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to save config: %w", err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("failed to save config: %w", err)
	}

	if err = os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("failed to save config: %w", err)
	}
	return nil
}

// ParseError is returned when a config file exists but cannot be parsed.
type ParseError struct {
	Path string
	Err  error
}

func (e *ParseError) Error() string {
	return "failed to parse config file " + e.Path + ": " + e.Err.Error()
}

func (e *ParseError) Unwrap() error {
	return e.Err
}
