package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	Reset()
	defer Reset()

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Gateway.Port != 18788 {
		t.Errorf("gateway.port = %d, want 18788", cfg.Gateway.Port)
	}
	if cfg.Gateway.Host != "127.0.0.1" {
		t.Errorf("gateway.host = %q, want 127.0.0.1", cfg.Gateway.Host)
	}
	if cfg.Gateway.Mode != "dev" {
		t.Errorf("gateway.mode = %q, want dev", cfg.Gateway.Mode)
	}
	if cfg.Log.Level != "info" {
		t.Errorf("log.level = %q, want info", cfg.Log.Level)
	}
	if cfg.Log.Format != "console" {
		t.Errorf("log.format = %q, want console", cfg.Log.Format)
	}
	if cfg.Diligence.MaxBudget != 0 {
		t.Errorf("diligence.max_budget = %d, want 0", cfg.Diligence.MaxBudget)
	}
	if cfg.Auth.Key != "" {
		t.Errorf("auth.key = %q, want empty", cfg.Auth.Key)
	}
}

func TestLoadFromFile(t *testing.T) {
	Reset()
	defer Reset()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
gateway:
  port: 9090
  host: 0.0.0.0
  mode: prod
diligence:
  max_budget: 5
auth:
  key: testkey123
`
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Gateway.Port != 9090 {
		t.Errorf("gateway.port = %d, want 9090", cfg.Gateway.Port)
	}
	if cfg.Gateway.Host != "0.0.0.0" {
		t.Errorf("gateway.host = %q, want 0.0.0.0", cfg.Gateway.Host)
	}
	if cfg.Diligence.MaxBudget != 5 {
		t.Errorf("diligence.max_budget = %d, want 5", cfg.Diligence.MaxBudget)
	}
	if cfg.Auth.Key != "testkey123" {
		t.Errorf("auth.key = %q, want testkey123", cfg.Auth.Key)
	}
}

func TestLoadMissingFileIgnored(t *testing.T) {
	Reset()
	defer Reset()

	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	if err != nil {
		t.Fatalf("Load should tolerate a missing file, got: %v", err)
	}
	if cfg.Gateway.Port != 18788 {
		t.Errorf("gateway.port = %d, want default 18788", cfg.Gateway.Port)
	}
}

func TestGetConfigAndSetTestConfig(t *testing.T) {
	Reset()
	defer Reset()

	if GetConfig() != nil {
		t.Error("GetConfig() should be nil before any Load/SetTestConfig")
	}

	custom := &Config{Gateway: GatewayConfig{Port: 1234}}
	SetTestConfig(custom)

	if got := GetConfig(); got != custom {
		t.Error("GetConfig() did not return the config installed via SetTestConfig")
	}
}
