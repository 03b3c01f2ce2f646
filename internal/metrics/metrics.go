// Package metrics records per-turn token usage: in-process otel counters for
// live observability, plus a durable SQLite usage log for historical queries.
// It records token counts only; no cost estimate is computed or stored.
package metrics

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	_ "modernc.org/sqlite"

	"github.com/tamias-daemon/tamias/internal/config"
	"github.com/tamias-daemon/tamias/internal/providers"
)

// Collector records token usage per turn, both as live otel counters and as
// durable rows in a SQLite usage log.
type Collector struct {
	enabled bool

	meterProvider *sdkmetric.MeterProvider
	promptTokens  metric.Int64Counter
	completionTokens metric.Int64Counter
	turnCount     metric.Int64Counter

	db *sql.DB
}

// New builds a Collector from TelemetryConfig. When disabled, every method
// is a safe no-op so callers never need to check cfg.Enabled themselves.
func New(cfg config.TelemetryConfig) (*Collector, error) {
	if !cfg.Enabled {
		return &Collector{enabled: false}, nil
	}

	mp := sdkmetric.NewMeterProvider()
	otel.SetMeterProvider(mp)
	meter := mp.Meter(serviceName(cfg))

	promptTokens, err := meter.Int64Counter("tamias.tokens.prompt")
	if err != nil {
		return nil, fmt.Errorf("metrics: create prompt token counter: %w", err)
	}
	completionTokens, err := meter.Int64Counter("tamias.tokens.completion")
	if err != nil {
		return nil, fmt.Errorf("metrics: create completion token counter: %w", err)
	}
	turnCount, err := meter.Int64Counter("tamias.turns.count")
	if err != nil {
		return nil, fmt.Errorf("metrics: create turn counter: %w", err)
	}

	c := &Collector{
		enabled:          true,
		meterProvider:    mp,
		promptTokens:     promptTokens,
		completionTokens: completionTokens,
		turnCount:        turnCount,
	}

	if cfg.SqlitePath != "" {
		db, err := openUsageDB(cfg.SqlitePath)
		if err != nil {
			return nil, err
		}
		c.db = db
	}

	return c, nil
}

func serviceName(cfg config.TelemetryConfig) string {
	if cfg.ServiceName != "" {
		return cfg.ServiceName
	}
	return "tamias"
}

func openUsageDB(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("metrics: open usage db: %w", err)
	}
	db.SetMaxOpenConns(1)

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS turn_usage (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id TEXT NOT NULL,
			model TEXT NOT NULL,
			prompt_tokens INTEGER NOT NULL,
			completion_tokens INTEGER NOT NULL,
			total_tokens INTEGER NOT NULL,
			recorded_at TIMESTAMP NOT NULL
		)
	`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("metrics: create usage table: %w", err)
	}
	return db, nil
}

// RecordTurn records one completed turn's token usage against a session and
// model. Safe to call on a disabled Collector.
func (c *Collector) RecordTurn(ctx context.Context, sessionID, model string, usage *providers.Usage) {
	if !c.enabled || usage == nil {
		return
	}

	attrs := metric.WithAttributes()
	c.promptTokens.Add(ctx, int64(usage.PromptTokens), attrs)
	c.completionTokens.Add(ctx, int64(usage.CompletionTokens), attrs)
	c.turnCount.Add(ctx, 1, attrs)

	if c.db == nil {
		return
	}
	_, err := c.db.ExecContext(ctx,
		`INSERT INTO turn_usage (session_id, model, prompt_tokens, completion_tokens, total_tokens, recorded_at) VALUES (?, ?, ?, ?, ?, ?)`,
		sessionID, model, usage.PromptTokens, usage.CompletionTokens, usage.TotalTokens, time.Now(),
	)
	if err != nil {
		slog.Warn("metrics: usage log insert failed", "session", sessionID, "err", err)
	}
}

// Close releases the usage database handle and shuts down the meter
// provider, if either was opened.
func (c *Collector) Close(ctx context.Context) error {
	if !c.enabled {
		return nil
	}
	if c.db != nil {
		if err := c.db.Close(); err != nil {
			return err
		}
	}
	return c.meterProvider.Shutdown(ctx)
}
