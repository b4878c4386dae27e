package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfigFillsPipeDefaults(t *testing.T) {
	cfg := defaultConfig()

	if cfg.Pipe.Path != "/tmp/claudeminer_pipe" {
		t.Errorf("Pipe.Path = %q, want /tmp/claudeminer_pipe", cfg.Pipe.Path)
	}
	if cfg.Pipe.MaxReconnects != 5 {
		t.Errorf("Pipe.MaxReconnects = %d, want 5", cfg.Pipe.MaxReconnects)
	}
	if cfg.Pipe.ReadTimeout != 60*time.Second {
		t.Errorf("Pipe.ReadTimeout = %s, want 60s", cfg.Pipe.ReadTimeout)
	}
}

func TestDefaultConfigScannerCadence(t *testing.T) {
	cfg := defaultConfig()
	if cfg.Scanner.HighCPUCadence != 500*time.Millisecond {
		t.Errorf("HighCPUCadence = %s, want 500ms", cfg.Scanner.HighCPUCadence)
	}
	if cfg.Scanner.HighCPUThreshold != 20.0 || cfg.Scanner.MidCPUThreshold != 5.0 {
		t.Errorf("unexpected scanner thresholds: %+v", cfg.Scanner)
	}
}

func TestLoadOrDefaultMissingFileReturnsDefault(t *testing.T) {
	cfg, err := LoadOrDefault(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.Port != 7890 {
		t.Errorf("expected default port, got %d", cfg.Server.Port)
	}
}

func TestLoadPartialYAMLFillsRemainingDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	yamlContent := "server:\n  port: 9001\n"
	if err := os.WriteFile(path, []byte(yamlContent), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.Port != 9001 {
		t.Errorf("Server.Port = %d, want 9001 (from file)", cfg.Server.Port)
	}
	if cfg.Pipe.Path != "/tmp/claudeminer_pipe" {
		t.Errorf("Pipe.Path should fall back to default, got %q", cfg.Pipe.Path)
	}
	if cfg.Cleaner.TimerInterval != 15*time.Second {
		t.Errorf("Cleaner.TimerInterval should fall back to default, got %s", cfg.Cleaner.TimerInterval)
	}
}

func TestLoadMalformedYAMLReturnsError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("server: [this is not valid: yaml"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Error("expected an error for malformed YAML")
	}
}

func TestDiffDetectsScannerChange(t *testing.T) {
	old := defaultConfig()
	updated := defaultConfig()
	updated.Scanner.HighCPUThreshold = 50

	changes := Diff(old, updated)
	if len(changes) == 0 {
		t.Error("expected Diff to report the scanner threshold change")
	}
}

func TestDiffNoChanges(t *testing.T) {
	old := defaultConfig()
	same := defaultConfig()
	if changes := Diff(old, same); len(changes) != 0 {
		t.Errorf("expected no changes, got %v", changes)
	}
}
