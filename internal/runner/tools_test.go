package runner

import (
	"context"
	"testing"

	"github.com/tamias-daemon/tamias/internal/config"
	"github.com/tamias-daemon/tamias/internal/providers"
	"github.com/tamias-daemon/tamias/internal/session"
	"github.com/tamias-daemon/tamias/internal/tools"
)

func TestNewToolRegistryWiresSessionStore(t *testing.T) {
	cfg := config.Default()
	store := session.New(t.TempDir(), nil, nil)
	reg := NewToolRegistry(cfg, store, t.TempDir(), true, providers.NewRegistry(), tools.WebFetchConfig{}, tools.WebSearchConfig{})

	tool, ok := reg.Get("sessions_list")
	if !ok {
		t.Fatal("sessions_list not registered")
	}
	res := tool.Execute(context.Background(), map[string]interface{}{})
	if res.IsError {
		t.Fatalf("sessions_list execute with wired store failed: %s", res.ForLLM)
	}
}

func TestNewToolRegistryRespectsDisabledCategory(t *testing.T) {
	cfg := config.Default()
	cfg.InternalTools = map[string]config.InternalToolConfig{
		"runtime": {Enabled: false},
	}
	store := session.New(t.TempDir(), nil, nil)
	reg := NewToolRegistry(cfg, store, t.TempDir(), true, providers.NewRegistry(), tools.WebFetchConfig{}, tools.WebSearchConfig{})

	if _, ok := reg.Get("exec"); ok {
		t.Fatal("exec should be excluded when the runtime category is disabled")
	}
	if _, ok := reg.Get("read_file"); !ok {
		t.Fatal("read_file should still be registered; only runtime was disabled")
	}
}

func TestNewToolRegistryAllowlistScopesCategory(t *testing.T) {
	cfg := config.Default()
	cfg.InternalTools = map[string]config.InternalToolConfig{
		"filesystem": {Enabled: true, Allowlist: config.FlexibleStringSlice{"read_file"}},
	}
	store := session.New(t.TempDir(), nil, nil)
	reg := NewToolRegistry(cfg, store, t.TempDir(), true, providers.NewRegistry(), tools.WebFetchConfig{}, tools.WebSearchConfig{})

	if _, ok := reg.Get("read_file"); !ok {
		t.Fatal("read_file should be allowed by the allowlist")
	}
	if _, ok := reg.Get("write_file"); ok {
		t.Fatal("write_file should be excluded; not in the allowlist")
	}
}
