package tools

import (
	"context"
	"fmt"

	"github.com/tamias-daemon/tamias/internal/session"
)

// ============================================================
// sessions_send
// ============================================================

type SessionsSendTool struct {
	sessions *session.Store
}

func NewSessionsSendTool() *SessionsSendTool { return &SessionsSendTool{} }

func (t *SessionsSendTool) SetSessionStore(s *session.Store) { t.sessions = s }

func (t *SessionsSendTool) Name() string { return "sessions_send" }
func (t *SessionsSendTool) Description() string {
	return "Send a message into another session. Use session_id or name to identify the target."
}

func (t *SessionsSendTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"session_id": map[string]interface{}{
				"type":        "string",
				"description": "Target session id",
			},
			"name": map[string]interface{}{
				"type":        "string",
				"description": "Target session name (alternative to session_id)",
			},
			"message": map[string]interface{}{
				"type":        "string",
				"description": "Message to send",
			},
		},
		"required": []string{"message"},
	}
}

func (t *SessionsSendTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	if t.sessions == nil {
		return ErrorResult("session store not available")
	}

	id, _ := args["session_id"].(string)
	name, _ := args["name"].(string)
	message, _ := args["message"].(string)

	if message == "" {
		return ErrorResult("message is required")
	}
	if id == "" && name == "" {
		return ErrorResult("either session_id or name is required")
	}

	agentID := ToolAgentIDFromCtx(ctx)

	if id == "" {
		for _, s := range filterByAgent(t.sessions.List(), agentID) {
			if s.Name == name {
				id = s.ID
				break
			}
		}
		if id == "" {
			return ErrorResult(fmt.Sprintf("no session found with name: %s", name))
		}
	}

	s, ok := t.sessions.GetSession(id)
	if !ok {
		return ErrorResult("session not found")
	}
	if agentID != "" && s.AgentID != agentID {
		return ErrorResult("access denied: target session belongs to a different agent")
	}

	if err := t.sessions.EnqueueMessage(id, message, "sessions_send"); err != nil {
		return ErrorResult(fmt.Sprintf("enqueue failed: %v", err))
	}

	return SilentResult(fmt.Sprintf(`{"status":"accepted","session_id":"%s"}`, id))
}
