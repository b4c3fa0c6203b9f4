// ABOUTME: Configuration loading for the parley terminal client
// ABOUTME: Loads TOML config from XDG path with environment variable expansion

package main

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/BurntSushi/toml"
)

type Config struct {
	Server ServerConfig `toml:"server"`
	Chat   ChatConfig   `toml:"chat"`
}

type ServerConfig struct {
	URL string `toml:"url"`
}

type ChatConfig struct {
	DefaultChatID string `toml:"default_chat_id"`
	Label         string `toml:"label"`
	Plain         bool   `toml:"plain"`
}

// defaultConfigPath returns the CLI config location.
// Priority: PARLEY_CLI_CONFIG env var > XDG_CONFIG_HOME/parley/cli.toml > ~/.config/parley/cli.toml
func defaultConfigPath() string {
	if envPath := os.Getenv("PARLEY_CLI_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "cli.toml"
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "parley", "cli.toml")
}

// loadConfig reads the TOML config, expanding ${VAR} references. A missing
// file is not an error; the zero config falls back to flag defaults.
func loadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &Config{}, nil
		}
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	expanded := expandEnvVars(string(data))

	var cfg Config
	if _, err := toml.Decode(expanded, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// expandEnvVars replaces ${VAR} with environment variable values.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)
	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := strings.TrimSuffix(strings.TrimPrefix(match, "${"), "}")
		return os.Getenv(varName)
	})
}

// Validate checks the configured fields. Empty values are allowed; they fall
// back to flag defaults.
func (c *Config) Validate() error {
	if c.Server.URL != "" {
		u, err := url.Parse(c.Server.URL)
		if err != nil {
			return fmt.Errorf("server.url is not a valid URL: %w", err)
		}
		if u.Scheme != "http" && u.Scheme != "https" {
			return fmt.Errorf("server.url must use http or https scheme")
		}
	}
	return nil
}
