// ABOUTME: Tests for Gateway construction, lifecycle, and health endpoints
// ABOUTME: Runs real HTTP servers on ephemeral ports to exercise startup and shutdown

package gateway

import (
	"context"
	"io"
	"log/slog"
	"net"
	"net/http"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/parleyhq/parley/internal/config"
)

// testConfig creates a minimal config for testing with an available port.
func testConfig(t *testing.T) *config.Config {
	t.Helper()

	// Find an available port
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to find available HTTP port: %v", err)
	}
	httpAddr := ln.Addr().String()
	ln.Close()

	return &config.Config{
		Server: config.ServerConfig{
			HTTPAddr: httpAddr,
		},
		Database: config.DatabaseConfig{
			Path: filepath.Join(t.TempDir(), "parley.db"),
		},
		Runtime: config.RuntimeConfig{
			Kind:           "dev",
			StreamInterval: time.Millisecond,
		},
		Session: config.SessionConfig{
			InterruptTimeout: 2 * time.Second,
			IdleGrace:        time.Minute,
			SubscriberBuffer: 64,
		},
	}
}

// testLogger creates a silent logger for tests.
func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// startGateway creates a gateway, runs it on its configured address, and
// tears it down when the test ends.
func startGateway(t *testing.T, cfg *config.Config) *Gateway {
	t.Helper()

	gw, err := New(cfg, testLogger())
	if err != nil {
		t.Fatalf("failed to create gateway: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- gw.Run(ctx)
	}()

	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			if err != nil {
				t.Errorf("Run() returned unexpected error: %v", err)
			}
		case <-time.After(10 * time.Second):
			t.Error("gateway did not shut down in time")
		}
	})

	waitForServer(t, cfg.Server.HTTPAddr)
	return gw
}

// waitForServer polls until the server accepts connections.
func waitForServer(t *testing.T, addr string) {
	t.Helper()

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		conn, err := net.Dial("tcp", addr)
		if err == nil {
			conn.Close()
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("server at %s did not start", addr)
}

func TestGatewayNew(t *testing.T) {
	cfg := testConfig(t)

	gw, err := New(cfg, testLogger())
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	defer gw.Shutdown(context.Background())

	if gw.config != cfg {
		t.Error("gateway config mismatch")
	}
	if gw.store == nil {
		t.Error("store should not be nil")
	}
	if gw.registry == nil {
		t.Error("registry should not be nil")
	}
	if gw.conversation == nil {
		t.Error("conversation service should not be nil")
	}
	if gw.httpServer == nil {
		t.Error("http server should not be nil")
	}
}

func TestGatewayNewUnknownRuntime(t *testing.T) {
	cfg := testConfig(t)
	cfg.Runtime.Kind = "quantum"

	_, err := New(cfg, testLogger())
	if err == nil {
		t.Fatal("New() should fail for an unknown runtime kind")
	}
	if !strings.Contains(err.Error(), "not supported") {
		t.Errorf("error = %v, want runtime kind complaint", err)
	}
}

func TestGatewayRunAndShutdown(t *testing.T) {
	cfg := testConfig(t)

	gw, err := New(cfg, testLogger())
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	// Run gateway in background
	errCh := make(chan error, 1)
	go func() {
		errCh <- gw.Run(ctx)
	}()

	waitForServer(t, cfg.Server.HTTPAddr)

	// Shutdown via context cancel
	cancel()

	select {
	case err := <-errCh:
		if err != nil {
			t.Errorf("Run() returned unexpected error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Error("gateway did not shutdown in time")
	}
}

func TestHealthEndpoint(t *testing.T) {
	cfg := testConfig(t)
	startGateway(t, cfg)

	resp, err := http.Get("http://" + cfg.Server.HTTPAddr + "/health")
	if err != nil {
		t.Fatalf("health request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("health status = %d, want %d", resp.StatusCode, http.StatusOK)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("failed to read health body: %v", err)
	}
	if string(body) != "OK" {
		t.Errorf("health body = %q, want %q", body, "OK")
	}
}

func TestReadyEndpoint(t *testing.T) {
	cfg := testConfig(t)
	startGateway(t, cfg)

	resp, err := http.Get("http://" + cfg.Server.HTTPAddr + "/ready")
	if err != nil {
		t.Fatalf("ready request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("ready status = %d, want %d", resp.StatusCode, http.StatusOK)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("failed to read ready body: %v", err)
	}
	if string(body) != "ready (0 live sessions)" {
		t.Errorf("ready body = %q, want %q", body, "ready (0 live sessions)")
	}
}
