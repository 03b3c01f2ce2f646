package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"unicode/utf8"

	"github.com/tamias-daemon/tamias/internal/providers"
	"github.com/tamias-daemon/tamias/internal/session"
)

// ============================================================
// sessions_history
// ============================================================

const (
	historyMaxCharsPerMessage = 4000
	historyMaxTotalBytes      = 80 * 1024
)

type SessionsHistoryTool struct {
	sessions *session.Store
}

func NewSessionsHistoryTool() *SessionsHistoryTool { return &SessionsHistoryTool{} }

func (t *SessionsHistoryTool) SetSessionStore(s *session.Store) { t.sessions = s }

func (t *SessionsHistoryTool) Name() string { return "sessions_history" }
func (t *SessionsHistoryTool) Description() string {
	return "Fetch message history for a session."
}

func (t *SessionsHistoryTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"session_id": map[string]interface{}{
				"type":        "string",
				"description": "Session id to fetch history from",
			},
			"limit": map[string]interface{}{
				"type":        "number",
				"description": "Max messages to return (default 20)",
			},
			"include_tools": map[string]interface{}{
				"type":        "boolean",
				"description": "Include tool call/result messages (default false)",
			},
		},
		"required": []string{"session_id"},
	}
}

func (t *SessionsHistoryTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	if t.sessions == nil {
		return ErrorResult("session store not available")
	}

	id, _ := args["session_id"].(string)
	if id == "" {
		return ErrorResult("session_id is required")
	}

	limit := 20
	if v, ok := args["limit"].(float64); ok && int(v) > 0 {
		limit = int(v)
	}
	includeTools, _ := args["include_tools"].(bool)

	s, ok := t.sessions.GetSession(id)
	if !ok {
		return ErrorResult("session not found")
	}
	if agentID := ToolAgentIDFromCtx(ctx); agentID != "" && s.AgentID != agentID {
		return ErrorResult("access denied: session belongs to a different agent")
	}

	s.Lock()
	history := append([]providers.Message{}, s.Messages...)
	s.Unlock()

	type msgEntry struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	}
	var entries []msgEntry
	for _, m := range history {
		if !includeTools && m.Role == "tool" {
			continue
		}
		if !includeTools && m.Role == "assistant" && len(m.ToolCalls) > 0 && m.Content == "" {
			continue
		}

		content := m.Content
		if utf8.RuneCountInString(content) > historyMaxCharsPerMessage {
			runes := []rune(content)
			content = string(runes[:historyMaxCharsPerMessage]) + "... [truncated]"
		}
		entries = append(entries, msgEntry{Role: m.Role, Content: content})
	}

	if len(entries) > limit {
		entries = entries[len(entries)-limit:]
	}

	out, _ := json.Marshal(map[string]interface{}{
		"session_id": id,
		"messages":   entries,
		"count":      len(entries),
	})

	if len(out) > historyMaxTotalBytes {
		return SilentResult(fmt.Sprintf(
			`{"session_id":"%s","error":"history too large (%d bytes), use smaller limit","count":%d}`,
			id, len(out), len(entries),
		))
	}

	return SilentResult(string(out))
}
