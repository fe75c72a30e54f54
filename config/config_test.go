package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.Server.Addr != ":9090" {
		t.Errorf("Server.Addr = %q, want :9090", cfg.Server.Addr)
	}
	if cfg.Provider.Name != "anthropic" {
		t.Errorf("Provider.Name = %q, want anthropic", cfg.Provider.Name)
	}
	if cfg.Provider.MaxRetryAttempts != 5 {
		t.Errorf("MaxRetryAttempts = %d, want 5", cfg.Provider.MaxRetryAttempts)
	}
	if cfg.Agent.MaxCycles != 25 {
		t.Errorf("Agent.MaxCycles = %d, want 25", cfg.Agent.MaxCycles)
	}
	if cfg.Agent.SystemPrompt == "" {
		t.Error("Agent.SystemPrompt is empty")
	}
}

func TestLoadOverlaysDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "pilot.yaml")
	content := `
server:
  addr: ":8080"
provider:
  name: mock
  max_retry_attempts: 3
  fallback_to_mock: true
agent:
  max_cycles: 10
executor:
  name: browser
  options:
    headless: "false"
sandbox:
  enabled: true
  image: my/desktop:latest
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Addr != ":8080" {
		t.Errorf("Server.Addr = %q, want :8080", cfg.Server.Addr)
	}
	if cfg.Provider.Name != "mock" {
		t.Errorf("Provider.Name = %q, want mock", cfg.Provider.Name)
	}
	if cfg.Provider.MaxRetryAttempts != 3 {
		t.Errorf("MaxRetryAttempts = %d, want 3", cfg.Provider.MaxRetryAttempts)
	}
	if !cfg.Provider.FallbackToMock {
		t.Error("FallbackToMock = false, want true")
	}
	if cfg.Agent.MaxCycles != 10 {
		t.Errorf("Agent.MaxCycles = %d, want 10", cfg.Agent.MaxCycles)
	}
	if cfg.Executor.Options["headless"] != "false" {
		t.Errorf("Executor.Options[headless] = %q, want false", cfg.Executor.Options["headless"])
	}
	if !cfg.Sandbox.Enabled || cfg.Sandbox.Image != "my/desktop:latest" {
		t.Errorf("Sandbox = %+v, want enabled with custom image", cfg.Sandbox)
	}

	// Untouched fields keep their defaults.
	if cfg.Provider.BaseBackoffMs != 2000 {
		t.Errorf("BaseBackoffMs = %d, want default 2000", cfg.Provider.BaseBackoffMs)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("LogLevel = %q, want default info", cfg.LogLevel)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load("/nonexistent/pilot.yaml"); err == nil {
		t.Error("Load() error = nil, want read error")
	}
}
