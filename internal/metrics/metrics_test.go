package metrics

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/tamias-daemon/tamias/internal/config"
	"github.com/tamias-daemon/tamias/internal/providers"
)

func TestDisabledCollectorIsSafeNoOp(t *testing.T) {
	c, err := New(config.TelemetryConfig{Enabled: false})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	c.RecordTurn(context.Background(), "sess_1", "openai/gpt-4o", &providers.Usage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15})

	if err := c.Close(context.Background()); err != nil {
		t.Fatalf("Close on a disabled collector should be a no-op: %v", err)
	}
}

func TestEnabledCollectorRecordsUsageRow(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "usage.db")
	c, err := New(config.TelemetryConfig{Enabled: true, SqlitePath: dbPath})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer c.Close(context.Background())

	c.RecordTurn(context.Background(), "sess_1", "openai/gpt-4o", &providers.Usage{PromptTokens: 100, CompletionTokens: 40, TotalTokens: 140})

	var count int
	row := c.db.QueryRow(`SELECT COUNT(*) FROM turn_usage WHERE session_id = ?`, "sess_1")
	if err := row.Scan(&count); err != nil {
		t.Fatalf("query usage row: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected exactly one usage row for sess_1, got %d", count)
	}
}

func TestRecordTurnWithNilUsageIsNoOp(t *testing.T) {
	c, err := New(config.TelemetryConfig{Enabled: true})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer c.Close(context.Background())

	c.RecordTurn(context.Background(), "sess_1", "openai/gpt-4o", nil)
}
