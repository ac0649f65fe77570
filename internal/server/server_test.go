package server

import (
	"context"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/houx15fork/agentbridge/internal/broker"
	"github.com/houx15fork/agentbridge/internal/config"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	agentsDir := filepath.Join(dir, "agents")
	if err := os.MkdirAll(agentsDir, 0o755); err != nil {
		t.Fatalf("mkdir agents dir: %v", err)
	}
	return &config.Config{
		Port:               0,
		Token:              "test-token",
		DefaultDir:         dir,
		DBPath:             filepath.Join(dir, "agentbridge.db"),
		AgentsDir:          agentsDir,
		DefaultCols:        120,
		DefaultRows:        30,
		MaxConcurrentPTYs:  4,
		OutboundQueueBytes: 4 * 1024 * 1024,
		InboundQueueFrames: 256,
		HookMarkerDir:      filepath.Join(dir, "markers"),
	}
}

func TestHealthzRespondsOK(t *testing.T) {
	cfg := testConfig(t)
	cfg.Port = 18765

	b, err := broker.New(context.Background(), cfg)
	if err != nil {
		t.Fatalf("broker.New: %v", err)
	}
	defer b.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go b.Gateway.Run(ctx)

	srv := New(b)
	go srv.Start(ctx)

	// Give ListenAndServe a moment to bind.
	var resp *http.Response
	var getErr error
	for i := 0; i < 20; i++ {
		resp, getErr = http.Get("http://127.0.0.1:18765/healthz")
		if getErr == nil {
			break
		}
		time.Sleep(50 * time.Millisecond)
	}
	if getErr != nil {
		t.Fatalf("GET /healthz: %v", getErr)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	body, _ := io.ReadAll(resp.Body)
	if string(body) != "ok" {
		t.Fatalf("body = %q, want %q", body, "ok")
	}
}
