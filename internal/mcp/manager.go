// ABOUTME: Manages the MCP server configuration file with hot reload.
// ABOUTME: Watches the file via fsnotify and swaps the parsed config atomically.

package mcp

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
)

// Manager holds the current MCP configuration and keeps it fresh while the
// server runs. A missing or malformed file degrades to an empty config with
// a logged error; the server keeps working without MCP tools.
type Manager struct {
	path   string
	logger *slog.Logger

	current atomic.Value // Config

	mu      sync.Mutex
	watcher *fsnotify.Watcher
	stopCh  chan struct{}
	doneCh  chan struct{}
	started bool
}

// NewManager creates a manager and performs the initial load. An empty path
// means MCP is unconfigured; the manager serves an empty config and Watch
// is a no-op.
func NewManager(path string, logger *slog.Logger) *Manager {
	m := &Manager{
		path:   path,
		logger: logger.With("component", "mcp"),
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
	m.current.Store(Config{})
	if path != "" {
		m.Reload()
	}
	return m
}

// Config returns the current configuration. Safe for concurrent use.
func (m *Manager) Config() Config {
	cfg, _ := m.current.Load().(Config)
	return cfg
}

// AllowedTools returns the qualified tool names of the current config.
func (m *Manager) AllowedTools() []string {
	return m.Config().AllowedTools()
}

// Reload re-reads the config file and swaps in the result. Errors degrade
// to an empty config so a bad edit never takes tools hostage.
func (m *Manager) Reload() {
	cfg, err := loadConfig(m.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			m.logger.Info("no MCP config file, using empty config", "path", m.path)
		} else {
			m.logger.Error("failed to load MCP config, using empty config", "path", m.path, "error", err)
		}
		m.current.Store(Config{})
		return
	}

	cfg = cfg.normalize(m.logger)
	m.current.Store(cfg)
	m.logger.Info("MCP config loaded",
		"path", m.path,
		"servers", len(cfg.Servers),
		"tools", len(cfg.AllowedTools()),
	)
}

// Watch starts watching the config file for changes. The parent directory
// is watched rather than the file itself, which survives editors that
// replace the file on save.
func (m *Manager) Watch() error {
	if m.path == "" {
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.started {
		return nil
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}
	if err := w.Add(filepath.Dir(m.path)); err != nil {
		w.Close()
		return fmt.Errorf("watching %s: %w", filepath.Dir(m.path), err)
	}

	m.watcher = w
	m.started = true
	go m.run()
	return nil
}

func (m *Manager) run() {
	defer close(m.doneCh)

	base := filepath.Base(m.path)
	for {
		select {
		case <-m.stopCh:
			return
		case ev, ok := <-m.watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(ev.Name) != base {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) != 0 {
				m.logger.Debug("MCP config changed, reloading", "op", ev.Op.String())
				m.Reload()
			}
		case err, ok := <-m.watcher.Errors:
			if !ok {
				return
			}
			m.logger.Error("MCP config watcher error", "error", err)
		}
	}
}

// Close stops the watcher, waiting for the watch loop to exit.
func (m *Manager) Close() error {
	m.mu.Lock()
	started := m.started
	m.mu.Unlock()
	if !started {
		return nil
	}

	select {
	case <-m.stopCh:
		// already stopped
	default:
		close(m.stopCh)
	}
	<-m.doneCh
	return m.watcher.Close()
}

func loadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parsing %s: %w", path, err)
	}
	return cfg, nil
}
