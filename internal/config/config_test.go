package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestConfigLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config")
	contents := "Port=9001\nToken=abc123\nMaxConcurrentPTYs=8\nOutboundQueueBytes=1024\n"
	if err := os.WriteFile(path, []byte(contents), 0600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg := &Config{ConfigPath: path}
	if err := cfg.loadFromFile(); err != nil {
		t.Fatalf("loadFromFile: %v", err)
	}
	if cfg.Port != 9001 {
		t.Errorf("Port = %d, want 9001", cfg.Port)
	}
	if cfg.Token != "abc123" {
		t.Errorf("Token = %q, want abc123", cfg.Token)
	}
	if cfg.MaxConcurrentPTYs != 8 {
		t.Errorf("MaxConcurrentPTYs = %d, want 8", cfg.MaxConcurrentPTYs)
	}
	if cfg.OutboundQueueBytes != 1024 {
		t.Errorf("OutboundQueueBytes = %d, want 1024", cfg.OutboundQueueBytes)
	}
}

func TestConfigLoadFromFileMissing(t *testing.T) {
	cfg := &Config{ConfigPath: filepath.Join(t.TempDir(), "missing")}
	if err := cfg.loadFromFile(); !os.IsNotExist(err) {
		t.Fatalf("expected not-exist error, got %v", err)
	}
}

func TestConfigSaveAndReload(t *testing.T) {
	dir := t.TempDir()
	cfg := &Config{
		ConfigPath:         filepath.Join(dir, "config"),
		Port:               7000,
		Token:              "tok",
		DefaultDir:         "/tmp/proj",
		DBPath:             "/tmp/db",
		AgentsDir:          "/tmp/agents",
		HookMarkerDir:      "/tmp/markers",
		MaxConcurrentPTYs:  64,
		OutboundQueueBytes: 2048,
	}
	if err := cfg.saveToFile(); err != nil {
		t.Fatalf("saveToFile: %v", err)
	}

	reloaded := &Config{ConfigPath: cfg.ConfigPath}
	if err := reloaded.loadFromFile(); err != nil {
		t.Fatalf("loadFromFile: %v", err)
	}
	if reloaded.Port != cfg.Port || reloaded.Token != cfg.Token {
		t.Errorf("reloaded config mismatch: %+v", reloaded)
	}
}
