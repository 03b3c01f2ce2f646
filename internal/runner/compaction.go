package runner

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/tamias-daemon/tamias/internal/providers"
	"github.com/tamias-daemon/tamias/internal/session"
)

const compactionSystemPrompt = `Summarize the conversation so far for your own later reference. ` +
	`Respond with only a JSON object: {"summary": "...", "sessionName": "...", "insights": "..."}. ` +
	`summary should capture what has happened and what still needs doing; sessionName is a short ` +
	`human-readable title (omit to leave the existing name); insights is optional durable context ` +
	"worth remembering across many future turns."

type compactionResult struct {
	Summary     string `json:"summary"`
	SessionName string `json:"sessionName"`
	Insights    string `json:"insights"`
}

// compact asks the model for a structured summary of everything but the
// last KeepLastMessages messages, then truncates the in-memory history to
// that summary plus the tail. Failures are swallowed —
// compaction is a housekeeping pass, never allowed to break the session.
func (r *Runner) compact(ctx context.Context, s *session.Session) {
	cc := r.cfg.ResolveCompaction(s.AgentID)

	s.Lock()
	if len(s.Messages) <= cc.KeepLastMessages {
		s.Unlock()
		return
	}
	toSummarize := append([]providers.Message{}, s.Messages[:len(s.Messages)-cc.KeepLastMessages]...)
	tail := append([]providers.Message{}, s.Messages[len(s.Messages)-cc.KeepLastMessages:]...)
	model := s.Model
	s.Unlock()

	providerName, modelID, err := splitModelRef(model)
	if err != nil {
		slog.Warn("compaction: malformed model ref, skipping", "session", s.ID, "model", model)
		return
	}
	conn, ok := r.cfg.GetConnection(providerName)
	if !ok {
		return
	}
	apiKey, err := r.cfg.ResolveAPIKey(providerName)
	if err != nil {
		return
	}
	provider, err := providers.New(conn.Provider, apiKey, conn.BaseURL, modelID)
	if err != nil {
		return
	}

	var transcript strings.Builder
	for _, m := range toSummarize {
		if m.Content == "" {
			continue
		}
		fmt.Fprintf(&transcript, "%s: %s\n", m.Role, m.Content)
	}

	resp, err := provider.Chat(ctx, providers.ChatRequest{
		Messages: []providers.Message{
			{Role: "system", Content: compactionSystemPrompt},
			{Role: "user", Content: transcript.String()},
		},
		Model: modelID,
	})
	if err != nil {
		slog.Warn("compaction: model call failed, skipping", "session", s.ID, "err", err)
		return
	}

	var parsed compactionResult
	if err := json.Unmarshal([]byte(extractJSONObject(resp.Content)), &parsed); err != nil {
		slog.Warn("compaction: malformed summary response, skipping", "session", s.ID, "err", err)
		return
	}

	s.Lock()
	if parsed.Summary != "" {
		if s.Summary != "" {
			s.Summary = s.Summary + "\n" + parsed.Summary
		} else {
			s.Summary = parsed.Summary
		}
	}
	if parsed.SessionName != "" {
		s.Name = parsed.SessionName
	}
	s.Messages = tail
	s.Unlock()

	if err := r.store.Save(s); err != nil {
		slog.Warn("compaction: persist failed", "session", s.ID, "err", err)
	}
}

// extractJSONObject returns the substring between the first "{" and the
// last "}", tolerating a model that wraps its JSON in prose or fences.
func extractJSONObject(s string) string {
	start := strings.IndexByte(s, '{')
	end := strings.LastIndexByte(s, '}')
	if start < 0 || end < start {
		return "{}"
	}
	return s[start : end+1]
}
