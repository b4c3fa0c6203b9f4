// Package config handles configuration loading for parleyd.
//
// # Overview
//
// Configuration is loaded from YAML files with environment variable expansion.
// The package provides validation and sensible defaults.
//
// # Configuration File
//
// Default locations (in order):
//
//  1. Path from PARLEY_CONFIG environment variable
//  2. $XDG_CONFIG_HOME/parley/config.yaml
//  3. ~/.config/parley/config.yaml
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	tailscale:
//	  auth_key: "${TS_AUTHKEY}"
//
// Syntax: ${VAR_NAME}
//
// # Duration Parsing
//
// Duration values use Go's time.ParseDuration syntax:
//
//	session:
//	  interrupt_timeout: "5s"
//	  idle_grace: "5m"
//
// Supported units: ns, us, ms, s, m, h
//
// # Configuration Sections
//
// Server settings:
//
//	server:
//	  http_addr: "0.0.0.0:3001"   # API and WebSocket endpoint
//	  allowed_origins:
//	    - "http://localhost:5173"
//
// Database:
//
//	database:
//	  path: "/var/lib/parley/parley.db"
//
// Agent runtime:
//
//	runtime:
//	  kind: "dev"
//	  system_prompt: "You are a helpful assistant."
//	  max_turns: 100
//	  permission_mode: "acceptEdits"
//	  allowed_tools: ["Bash", "Read", "Write"]
//	  mcp_config: "./mcp_servers.json"
//	  stream_interval: "30ms"
//
// Session lifecycle:
//
//	session:
//	  interrupt_timeout: "5s"    # Bounded wait for a superseded query to wind down
//	  idle_grace: "5m"           # Keep-alive after the last observer detaches
//	  subscriber_buffer: 256     # Per-connection outbound frame buffer
//
// Tailscale:
//
//	tailscale:
//	  enabled: false
//	  hostname: "parley"
//	  auth_key: "${TS_AUTHKEY}"
//	  state_dir: "/var/lib/parley/tsnet"
//	  ephemeral: false
//
// Logging:
//
//	logging:
//	  level: "info"   # debug, info, warn, error
//	  format: "text"  # text, json
//
// # Validation
//
// Load() validates:
//
//   - HTTP address presence (unless Tailscale provides the listener)
//   - Database path presence
//   - Runtime kind values
//   - Duration format validity and non-negativity
//
// # Usage
//
// Load configuration:
//
//	cfg, err := config.Load("/etc/parley/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
package config
