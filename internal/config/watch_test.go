package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestWatcherReloadsOnFileWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")

	if err := os.WriteFile(path, []byte(`{"daemon":{"host":"127.0.0.1","port":9001}}`), 0o644); err != nil {
		t.Fatalf("write initial config: %v", err)
	}

	live, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if live.Daemon.Port != 9001 {
		t.Fatalf("expected initial port 9001, got %d", live.Daemon.Port)
	}

	w, err := NewWatcher(path, live)
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}

	reloaded := make(chan struct{}, 1)
	w.SetOnReload(func(*Config) {
		select {
		case reloaded <- struct{}{}:
		default:
		}
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	w.Start(ctx)

	if err := os.WriteFile(path, []byte(`{"daemon":{"host":"127.0.0.1","port":9002}}`), 0o644); err != nil {
		t.Fatalf("rewrite config: %v", err)
	}

	select {
	case <-reloaded:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for config reload")
	}

	if got := live.Daemon.Port; got != 9002 {
		t.Fatalf("expected live config to pick up port 9002 after reload, got %d", got)
	}
}
