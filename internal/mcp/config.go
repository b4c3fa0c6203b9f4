// ABOUTME: MCP server configuration parsed from mcp_servers.json.
// ABOUTME: Formats allowed tool names as mcp__<server>__<tool> for the runtime.

package mcp

import (
	"fmt"
	"log/slog"
	"sort"
)

// Config is the parsed contents of an mcp_servers.json file.
type Config struct {
	Servers map[string]ServerConfig `json:"mcpServers"`
}

// ServerConfig describes one MCP server entry. Stdio servers launch a local
// command; http and sse servers connect to a URL.
type ServerConfig struct {
	Type         string            `json:"type,omitempty"` // stdio (default), http, sse
	Command      string            `json:"command,omitempty"`
	Args         []string          `json:"args,omitempty"`
	Env          map[string]string `json:"env,omitempty"`
	URL          string            `json:"url,omitempty"`
	Headers      map[string]string `json:"headers,omitempty"`
	AllowedTools []string          `json:"allowedTools,omitempty"`
}

// AllowedTools returns the fully qualified tool names from every server,
// formatted mcp__<server>__<tool>, in stable server-name order.
func (c Config) AllowedTools() []string {
	names := make([]string, 0, len(c.Servers))
	for name := range c.Servers {
		names = append(names, name)
	}
	sort.Strings(names)

	var tools []string
	for _, name := range names {
		for _, tool := range c.Servers[name].AllowedTools {
			tools = append(tools, fmt.Sprintf("mcp__%s__%s", name, tool))
		}
	}
	return tools
}

// normalize drops server entries that cannot work, logging each one, and
// fills in the default transport type.
func (c Config) normalize(logger *slog.Logger) Config {
	if len(c.Servers) == 0 {
		return Config{}
	}

	out := Config{Servers: make(map[string]ServerConfig, len(c.Servers))}
	for name, sc := range c.Servers {
		switch sc.Type {
		case "", "stdio":
			if sc.Command == "" {
				logger.Warn("skipping MCP server without command", "server", name)
				continue
			}
			sc.Type = "stdio"
		case "http", "sse":
			if sc.URL == "" {
				logger.Warn("skipping MCP server without url", "server", name, "type", sc.Type)
				continue
			}
		default:
			logger.Warn("skipping MCP server with unknown type", "server", name, "type", sc.Type)
			continue
		}
		out.Servers[name] = sc
	}
	return out
}
