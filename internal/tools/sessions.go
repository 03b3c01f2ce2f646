package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/tamias-daemon/tamias/internal/session"
)

// ============================================================
// sessions_list
// ============================================================

type SessionsListTool struct {
	sessions *session.Store
}

func NewSessionsListTool() *SessionsListTool { return &SessionsListTool{} }

func (t *SessionsListTool) SetSessionStore(s *session.Store) { t.sessions = s }

func (t *SessionsListTool) Name() string { return "sessions_list" }
func (t *SessionsListTool) Description() string {
	return "List sessions for this agent with optional filters."
}

func (t *SessionsListTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"limit": map[string]interface{}{
				"type":        "number",
				"description": "Max sessions to return (default 20)",
			},
			"active_minutes": map[string]interface{}{
				"type":        "number",
				"description": "Only show sessions active in the last N minutes",
			},
		},
	}
}

func (t *SessionsListTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	if t.sessions == nil {
		return ErrorResult("session store not available")
	}

	limit := 20
	if v, ok := args["limit"].(float64); ok && int(v) > 0 {
		limit = int(v)
	}

	var activeMinutes int
	if v, ok := args["active_minutes"].(float64); ok && int(v) > 0 {
		activeMinutes = int(v)
	}

	agentID := ToolAgentIDFromCtx(ctx)
	infos := filterByAgent(t.sessions.List(), agentID)

	if activeMinutes > 0 {
		cutoff := time.Now().Add(-time.Duration(activeMinutes) * time.Minute)
		filtered := infos[:0]
		for _, s := range infos {
			if s.UpdatedAt.After(cutoff) {
				filtered = append(filtered, s)
			}
		}
		infos = filtered
	}

	if len(infos) > limit {
		infos = infos[:limit]
	}

	out, _ := json.Marshal(map[string]interface{}{
		"count":    len(infos),
		"sessions": infos,
	})
	return SilentResult(string(out))
}

// filterByAgent belongs to this file because it is only meaningful in the
// context of sessions_list/sessions_send scoping a lookup to one agent's
// own sessions; an empty agentID (standalone, non-multi-agent mode) means
// "no filter".
func filterByAgent(infos []session.Info, agentID string) []session.Info {
	if agentID == "" {
		return infos
	}
	out := make([]session.Info, 0, len(infos))
	for _, s := range infos {
		if s.AgentID == agentID {
			out = append(out, s)
		}
	}
	return out
}

// ============================================================
// session_status
// ============================================================

type SessionStatusTool struct {
	sessions *session.Store
}

func NewSessionStatusTool() *SessionStatusTool { return &SessionStatusTool{} }

func (t *SessionStatusTool) SetSessionStore(s *session.Store) { t.sessions = s }

func (t *SessionStatusTool) Name() string { return "session_status" }
func (t *SessionStatusTool) Description() string {
	return "Show session status: model, channel, queue length, subagent progress."
}

func (t *SessionStatusTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"session_id": map[string]interface{}{
				"type":        "string",
				"description": "Session id to inspect (default: current session)",
			},
		},
	}
}

func (t *SessionStatusTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	if t.sessions == nil {
		return ErrorResult("session store not available")
	}

	id, _ := args["session_id"].(string)
	if id == "" {
		id = ToolSessionIDFromCtx(ctx)
	}
	if id == "" {
		return ErrorResult("session_id is required (could not detect current session)")
	}

	s, ok := t.sessions.GetSession(id)
	if !ok {
		return ErrorResult("session not found")
	}

	if agentID := ToolAgentIDFromCtx(ctx); agentID != "" && s.AgentID != agentID {
		return ErrorResult("access denied: session belongs to a different agent")
	}

	info := s.ToInfo()
	var lines []string
	lines = append(lines, fmt.Sprintf("Session: %s", info.ID))
	if info.Name != "" {
		lines = append(lines, fmt.Sprintf("Name: %s", info.Name))
	}
	lines = append(lines, fmt.Sprintf("Model: %s", info.Model))
	lines = append(lines, fmt.Sprintf("Queue length: %d", info.QueueLength))
	if info.IsSubagent {
		lines = append(lines, fmt.Sprintf("Subagent status: %s", info.SubagentStatus))
		if info.Progress != "" {
			lines = append(lines, fmt.Sprintf("Progress: %s", info.Progress))
		}
		lines = append(lines, fmt.Sprintf("Task: %s", info.Task))
		lines = append(lines, fmt.Sprintf("Parent session: %s", info.ParentSessionID))
	}
	if info.Summary != "" {
		lines = append(lines, fmt.Sprintf("Has summary: yes (%d chars)", len(info.Summary)))
	}
	lines = append(lines, fmt.Sprintf("Updated: %s", info.UpdatedAt.Format(time.RFC3339)))

	return SilentResult(strings.Join(lines, "\n"))
}
