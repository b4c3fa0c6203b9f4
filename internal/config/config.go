// ABOUTME: Configuration loading and parsing for parleyd
// ABOUTME: Supports YAML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete parleyd configuration
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Tailscale TailscaleConfig `yaml:"tailscale"`
	Database  DatabaseConfig  `yaml:"database"`
	Runtime   RuntimeConfig   `yaml:"runtime"`
	Session   SessionConfig   `yaml:"session"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	HTTPAddr       string   `yaml:"http_addr"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// TailscaleConfig holds Tailscale tsnet configuration
type TailscaleConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Hostname  string `yaml:"hostname"`
	AuthKey   string `yaml:"auth_key"`
	StateDir  string `yaml:"state_dir"`
	Ephemeral bool   `yaml:"ephemeral"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// RuntimeConfig holds agent runtime configuration
type RuntimeConfig struct {
	// Kind selects the runtime implementation. "dev" is the only built-in;
	// real model runtimes plug in through the agent.Runtime interface.
	Kind           string   `yaml:"kind"`
	SystemPrompt   string   `yaml:"system_prompt"`
	MaxTurns       int      `yaml:"max_turns"`
	PermissionMode string   `yaml:"permission_mode"`
	AllowedTools   []string `yaml:"allowed_tools"`
	MCPConfig      string   `yaml:"mcp_config"`

	StreamInterval time.Duration `yaml:"-"`

	// Raw string value for YAML unmarshaling
	StreamIntervalRaw string `yaml:"stream_interval"`
}

// SessionConfig holds per-conversation session timing configuration
type SessionConfig struct {
	InterruptTimeout time.Duration `yaml:"-"`
	IdleGrace        time.Duration `yaml:"-"`

	// SubscriberBuffer is the per-connection outbox size; a subscriber that
	// falls this far behind is evicted and must reconnect.
	SubscriberBuffer int `yaml:"subscriber_buffer"`

	// Raw string values for YAML unmarshaling
	InterruptTimeoutRaw string `yaml:"interrupt_timeout"`
	IdleGraceRaw        string `yaml:"idle_grace"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Defaults applied by Load when the file leaves fields unset.
const (
	DefaultInterruptTimeout = 5 * time.Second
	DefaultIdleGrace        = 5 * time.Minute
	DefaultSubscriberBuffer = 256
	DefaultStreamInterval   = 30 * time.Millisecond
	DefaultMaxTurns         = 100
)

// Load reads a configuration file from the given path and returns a parsed Config.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables in the raw YAML content
	expandedData := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	// Parse duration fields
	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	cfg.applyDefaults()

	// Validate required fields
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	// Match ${VAR_NAME} pattern
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		// Extract variable name from ${VAR_NAME}
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// applyDefaults fills in zero-valued fields that have documented defaults.
func (c *Config) applyDefaults() {
	if c.Runtime.Kind == "" {
		c.Runtime.Kind = "dev"
	}
	if c.Runtime.MaxTurns == 0 {
		c.Runtime.MaxTurns = DefaultMaxTurns
	}
	if c.Runtime.PermissionMode == "" {
		c.Runtime.PermissionMode = "acceptEdits"
	}
	if c.Runtime.StreamInterval == 0 {
		c.Runtime.StreamInterval = DefaultStreamInterval
	}
	if c.Session.InterruptTimeout == 0 {
		c.Session.InterruptTimeout = DefaultInterruptTimeout
	}
	if c.Session.IdleGrace == 0 {
		c.Session.IdleGrace = DefaultIdleGrace
	}
	if c.Session.SubscriberBuffer == 0 {
		c.Session.SubscriberBuffer = DefaultSubscriberBuffer
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	// The HTTP address is required unless Tailscale provides the listener
	if !c.Tailscale.Enabled && c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required (or enable tailscale)")
	}

	// Tailscale requires a hostname
	if c.Tailscale.Enabled && c.Tailscale.Hostname == "" {
		return fmt.Errorf("tailscale.hostname is required when tailscale is enabled")
	}

	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}

	switch c.Runtime.Kind {
	case "dev":
	default:
		return fmt.Errorf("runtime.kind %q is not supported (want \"dev\")", c.Runtime.Kind)
	}

	if c.Session.InterruptTimeout < 0 {
		return fmt.Errorf("session.interrupt_timeout must not be negative")
	}
	if c.Session.IdleGrace < 0 {
		return fmt.Errorf("session.idle_grace must not be negative")
	}

	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format %q is not supported (want \"text\" or \"json\")", c.Logging.Format)
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	var err error

	if cfg.Session.InterruptTimeoutRaw != "" {
		cfg.Session.InterruptTimeout, err = time.ParseDuration(cfg.Session.InterruptTimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing interrupt_timeout %q: %w", cfg.Session.InterruptTimeoutRaw, err)
		}
	}

	if cfg.Session.IdleGraceRaw != "" {
		cfg.Session.IdleGrace, err = time.ParseDuration(cfg.Session.IdleGraceRaw)
		if err != nil {
			return fmt.Errorf("parsing idle_grace %q: %w", cfg.Session.IdleGraceRaw, err)
		}
	}

	if cfg.Runtime.StreamIntervalRaw != "" {
		cfg.Runtime.StreamInterval, err = time.ParseDuration(cfg.Runtime.StreamIntervalRaw)
		if err != nil {
			return fmt.Errorf("parsing stream_interval %q: %w", cfg.Runtime.StreamIntervalRaw, err)
		}
	}

	return nil
}
