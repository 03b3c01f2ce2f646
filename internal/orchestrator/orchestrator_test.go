package orchestrator

import (
	"testing"

	"github.com/tamias-daemon/tamias/internal/config"
	"github.com/tamias-daemon/tamias/internal/session"
)

func newTestStore(t *testing.T) *session.Store {
	t.Helper()
	return session.New(t.TempDir(), func() (string, error) { return "local/test-model", nil }, nil)
}

func TestResolveAgentModelChainFiltersEmpty(t *testing.T) {
	chain := ResolveAgentModelChain(config.AgentSpec{
		Model:          "local/big",
		ModelFallbacks: config.FlexibleStringSlice{"", "local/small", ""},
	})
	if len(chain) != 2 || chain[0] != "local/big" || chain[1] != "local/small" {
		t.Fatalf("unexpected chain: %v", chain)
	}
}

func TestHandoffSessionRebindsChannelAndMarksOldInactive(t *testing.T) {
	cfg := config.Default()
	cfg.Agents.List = map[string]config.AgentSpec{
		"support": {Slug: "support", Enabled: true},
	}
	store := newTestStore(t)

	orig, err := store.CreateSession(session.CreateOptions{
		ChannelID: "discord:bot1", ChannelUserID: "user1", AgentID: "default",
	})
	if err != nil {
		t.Fatalf("create original session: %v", err)
	}
	o := New(cfg, store)
	next, err := o.HandoffSession(orig.ID, "support", "user asked about billing", "prior summary")
	if err != nil {
		t.Fatalf("handoff: %v", err)
	}
	if next.AgentID != "support" {
		t.Fatalf("expected new session bound to support, got %q", next.AgentID)
	}

	bound, ok := store.GetSessionForBridge("discord:bot1", "user1")
	if !ok || bound.ID != next.ID {
		t.Fatalf("channel index was not rebound to the new session")
	}

	origAfter, _ := store.GetSession(orig.ID)
	if origAfter.Active {
		t.Fatal("old session should be marked inactive after handoff")
	}

	if len(next.Messages) != 1 {
		t.Fatalf("expected exactly one system note on the new session, got %d", len(next.Messages))
	}
}

func TestHandoffSessionRejectsDisabledAgent(t *testing.T) {
	cfg := config.Default()
	cfg.Agents.List = map[string]config.AgentSpec{
		"support": {Slug: "support", Enabled: false},
	}
	store := newTestStore(t)
	orig, _ := store.CreateSession(session.CreateOptions{ChannelID: "discord:bot1", ChannelUserID: "user1"})

	o := New(cfg, store)
	if _, err := o.HandoffSession(orig.ID, "support", "reason", ""); err != ErrAgentDisabled {
		t.Fatalf("expected ErrAgentDisabled, got %v", err)
	}
}
