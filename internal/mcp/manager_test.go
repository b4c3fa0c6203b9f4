// ABOUTME: Tests for MCP config loading, validation, and hot reload.
// ABOUTME: Covers tool name formatting and degradation on bad config files.

package mcp

import (
	"log/slog"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"
)

func writeMCPConfig(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, "mcp_servers.json")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return path
}

func TestManagerLoad(t *testing.T) {
	t.Run("parses a valid config", func(t *testing.T) {
		path := writeMCPConfig(t, t.TempDir(), `{
			"mcpServers": {
				"files": {
					"command": "mcp-files",
					"args": ["--root", "/data"],
					"allowedTools": ["read", "write"]
				},
				"search": {
					"type": "http",
					"url": "http://localhost:8900/mcp",
					"allowedTools": ["query"]
				}
			}
		}`)

		m := NewManager(path, slog.Default())
		defer m.Close()

		cfg := m.Config()
		if len(cfg.Servers) != 2 {
			t.Fatalf("expected 2 servers, got %d", len(cfg.Servers))
		}
		if cfg.Servers["files"].Type != "stdio" {
			t.Errorf("expected stdio default type, got %q", cfg.Servers["files"].Type)
		}
		if cfg.Servers["files"].Command != "mcp-files" {
			t.Errorf("expected command mcp-files, got %q", cfg.Servers["files"].Command)
		}
		if cfg.Servers["search"].URL != "http://localhost:8900/mcp" {
			t.Errorf("unexpected url %q", cfg.Servers["search"].URL)
		}
	})

	t.Run("missing file degrades to empty config", func(t *testing.T) {
		m := NewManager(filepath.Join(t.TempDir(), "nope.json"), slog.Default())
		defer m.Close()

		if len(m.Config().Servers) != 0 {
			t.Error("expected empty config for missing file")
		}
		if len(m.AllowedTools()) != 0 {
			t.Error("expected no tools for missing file")
		}
	})

	t.Run("malformed file degrades to empty config", func(t *testing.T) {
		path := writeMCPConfig(t, t.TempDir(), `{"mcpServers": {`)

		m := NewManager(path, slog.Default())
		defer m.Close()

		if len(m.Config().Servers) != 0 {
			t.Error("expected empty config for malformed file")
		}
	})

	t.Run("empty path means unconfigured", func(t *testing.T) {
		m := NewManager("", slog.Default())
		defer m.Close()

		if len(m.Config().Servers) != 0 {
			t.Error("expected empty config for empty path")
		}
		if err := m.Watch(); err != nil {
			t.Errorf("watch on empty path should be a no-op, got %v", err)
		}
	})

	t.Run("drops unusable server entries", func(t *testing.T) {
		path := writeMCPConfig(t, t.TempDir(), `{
			"mcpServers": {
				"ok": {"command": "mcp-ok"},
				"no-command": {"type": "stdio"},
				"no-url": {"type": "http"},
				"weird": {"type": "carrier-pigeon", "command": "x"}
			}
		}`)

		m := NewManager(path, slog.Default())
		defer m.Close()

		cfg := m.Config()
		if len(cfg.Servers) != 1 {
			t.Fatalf("expected 1 surviving server, got %d", len(cfg.Servers))
		}
		if _, ok := cfg.Servers["ok"]; !ok {
			t.Error("expected the valid server to survive")
		}
	})
}

func TestConfigAllowedTools(t *testing.T) {
	t.Run("formats and orders tool names", func(t *testing.T) {
		cfg := Config{Servers: map[string]ServerConfig{
			"zeta":  {Command: "z", AllowedTools: []string{"go"}},
			"alpha": {Command: "a", AllowedTools: []string{"read", "write"}},
		}}

		got := cfg.AllowedTools()
		want := []string{"mcp__alpha__read", "mcp__alpha__write", "mcp__zeta__go"}
		if !reflect.DeepEqual(got, want) {
			t.Errorf("AllowedTools() = %v, want %v", got, want)
		}
	})

	t.Run("servers without allowed tools contribute nothing", func(t *testing.T) {
		cfg := Config{Servers: map[string]ServerConfig{
			"files": {Command: "mcp-files"},
		}}

		if got := cfg.AllowedTools(); len(got) != 0 {
			t.Errorf("expected no tools, got %v", got)
		}
	})
}

func TestManagerReload(t *testing.T) {
	t.Run("swaps config on reload", func(t *testing.T) {
		dir := t.TempDir()
		path := writeMCPConfig(t, dir, `{"mcpServers": {"one": {"command": "a", "allowedTools": ["x"]}}}`)

		m := NewManager(path, slog.Default())
		defer m.Close()

		if got := m.AllowedTools(); len(got) != 1 {
			t.Fatalf("expected 1 tool, got %v", got)
		}

		writeMCPConfig(t, dir, `{"mcpServers": {"one": {"command": "a", "allowedTools": ["x", "y"]}}}`)
		m.Reload()

		if got := m.AllowedTools(); len(got) != 2 {
			t.Errorf("expected 2 tools after reload, got %v", got)
		}
	})

	t.Run("reload after delete degrades to empty", func(t *testing.T) {
		dir := t.TempDir()
		path := writeMCPConfig(t, dir, `{"mcpServers": {"one": {"command": "a"}}}`)

		m := NewManager(path, slog.Default())
		defer m.Close()

		if err := os.Remove(path); err != nil {
			t.Fatal(err)
		}
		m.Reload()

		if len(m.Config().Servers) != 0 {
			t.Error("expected empty config after delete")
		}
	})
}

func TestManagerWatch(t *testing.T) {
	t.Run("picks up file changes", func(t *testing.T) {
		dir := t.TempDir()
		path := writeMCPConfig(t, dir, `{"mcpServers": {"one": {"command": "a", "allowedTools": ["x"]}}}`)

		m := NewManager(path, slog.Default())
		defer m.Close()

		if err := m.Watch(); err != nil {
			t.Fatalf("watch error: %v", err)
		}

		writeMCPConfig(t, dir, `{"mcpServers": {"one": {"command": "a", "allowedTools": ["x", "y", "z"]}}}`)

		deadline := time.After(5 * time.Second)
		for {
			if len(m.AllowedTools()) == 3 {
				return
			}
			select {
			case <-deadline:
				t.Fatalf("config not reloaded in time, tools = %v", m.AllowedTools())
			case <-time.After(10 * time.Millisecond):
			}
		}
	})

	t.Run("close stops the watcher", func(t *testing.T) {
		dir := t.TempDir()
		path := writeMCPConfig(t, dir, `{"mcpServers": {}}`)

		m := NewManager(path, slog.Default())
		if err := m.Watch(); err != nil {
			t.Fatalf("watch error: %v", err)
		}
		if err := m.Close(); err != nil {
			t.Errorf("close error: %v", err)
		}
	})
}
