package app

import (
	"context"
	"errors"
	"testing"

	"dominds/internal/config"
	"dominds/internal/provider"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		Storage: config.StorageConfig{WorkspaceRoot: t.TempDir()},
		Gateway: config.GatewayConfig{Host: "127.0.0.1", Port: 19999},
		Log:     config.LogConfig{Level: "error", Format: "console"},
	}
}

func TestNewAssemblesRuntime(t *testing.T) {
	a, err := New(testConfig(t))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if a.httpServer == nil {
		t.Fatal("httpServer not built")
	}
	if a.httpServer.Addr != "127.0.0.1:19999" {
		t.Errorf("httpServer.Addr = %q, want 127.0.0.1:19999", a.httpServer.Addr)
	}
}

func TestNewDefaultsPortWhenUnset(t *testing.T) {
	cfg := testConfig(t)
	cfg.Gateway.Port = 0
	a, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if a.httpServer.Addr != "127.0.0.1:18788" {
		t.Errorf("httpServer.Addr = %q, want default port 18788", a.httpServer.Addr)
	}
}

func TestBootstrapOnEmptyWorkspace(t *testing.T) {
	a, err := New(testConfig(t))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	reconciled, err := a.Bootstrap()
	if err != nil {
		t.Fatalf("Bootstrap: %v", err)
	}
	if reconciled != 0 {
		t.Errorf("reconciled = %d, want 0 for an empty workspace", reconciled)
	}
}

type fakeProvider struct{ name string }

func (p *fakeProvider) Name() string     { return p.name }
func (p *fakeProvider) Models() []string { return []string{"fake-model"} }
func (p *fakeProvider) Chat(ctx context.Context, req provider.ChatRequest) (*provider.ChatResponse, error) {
	return nil, errors.New("not implemented in test")
}
func (p *fakeProvider) Stream(ctx context.Context, req provider.ChatRequest) (<-chan provider.ChatEvent, error) {
	return nil, errors.New("not implemented in test")
}

func TestRegisterProviderFallbackResolvesForAnyAgent(t *testing.T) {
	a, err := New(testConfig(t))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	prov := &fakeProvider{name: "fake"}
	a.RegisterProvider("", prov)

	resolved, err := a.providers.Resolve("any-agent")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if resolved.Name() != "fake" {
		t.Errorf("Resolve().Name() = %q, want fake", resolved.Name())
	}
}

func TestProviderRegistryUnregisteredAgentErrors(t *testing.T) {
	a, err := New(testConfig(t))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := a.providers.Resolve("nobody"); err == nil {
		t.Error("expected error resolving an unregistered agent with no fallback")
	}
}
