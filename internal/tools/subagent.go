// Package tools provides the spawn tool that lets an agent delegate a task
// to a sub-agent session.
//
// Subagent lifecycle and state (depth limits, status, progress) live on the
// session itself (internal/session.Session), not in a parallel tracker here —
// spawning is a thin request forwarded to whichever callback the session
// runner registered in context, keeping this package free of a dependency on
// the runner.
package tools

import (
	"context"
	"fmt"
)

// AsyncCallback requests that the session runner create and kick off a new
// subagent session bound to the caller's current session, returning the new
// session's id. Depth and concurrency limits are enforced by the runner,
// which is the only component that knows every session's current state.
type AsyncCallback func(ctx context.Context, task, label, modelOverride string) (sessionID string, err error)

// CallbackFunc reports a subagent's terminal outcome back to the runner,
// which records it on the subagent session and relays it to the parent
// session at once, without waiting for the subagent's next "done".
// Only meaningful when the current session is itself a subagent.
type CallbackFunc func(ctx context.Context, status, reason, outcome, taskContext string) error

// ProgressFunc reports an interim subagent progress message directly to the
// parent session's emitter, without altering subagent session state.
type ProgressFunc func(ctx context.Context, message string) error

// SubagentDenyAlways is the list of tools always denied to subagent sessions.
var SubagentDenyAlways = []string{
	"gateway",
	"agents_list",
	"whatsapp_login",
	"session_status",
	"memory_search",
	"memory_get",
	"sessions_send",
}

// SubagentDenyLeaf is the additional deny list applied once a subagent has
// reached the configured spawn depth limit and cannot spawn further children.
var SubagentDenyLeaf = []string{
	"sessions_list",
	"sessions_history",
	"spawn",
}

// SpawnTool lets an agent delegate a task to a new subagent session.
type SpawnTool struct{}

// NewSpawnTool creates the spawn tool.
func NewSpawnTool() *SpawnTool { return &SpawnTool{} }

func (t *SpawnTool) Name() string        { return "spawn" }
func (t *SpawnTool) Description() string {
	return "Spawn a subagent session to work on a task in the background, then report its result back to you"
}

func (t *SpawnTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"task": map[string]interface{}{
				"type":        "string",
				"description": "The task for the subagent to complete",
			},
			"label": map[string]interface{}{
				"type":        "string",
				"description": "Short human-readable label for this subagent (default: derived from task)",
			},
			"model": map[string]interface{}{
				"type":        "string",
				"description": "Optional model override for the subagent (default: inherit from parent)",
			},
		},
		"required": []string{"task"},
	}
}

func (t *SpawnTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	task, _ := args["task"].(string)
	if task == "" {
		return ErrorResult("task is required")
	}
	label, _ := args["label"].(string)
	model, _ := args["model"].(string)

	cb := ToolAsyncCBFromCtx(ctx)
	if cb == nil {
		return ErrorResult("subagent spawning is not available in this context")
	}

	id, err := cb(ctx, task, label, model)
	if err != nil {
		return ErrorResult(fmt.Sprintf("spawn failed: %v", err))
	}

	return SilentResult(fmt.Sprintf("spawned subagent session %s for task: %s", id, truncate(task, 100)))
}

// CallbackTool lets a subagent report its terminal outcome to its parent
// instead of relying on the runner's fallback report from its final text.
type CallbackTool struct{}

func NewCallbackTool() *CallbackTool { return &CallbackTool{} }

func (t *CallbackTool) Name() string        { return "subagent_callback" }
func (t *CallbackTool) Description() string { return "Report this subagent's final outcome to its parent" }
func (t *CallbackTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"status": map[string]interface{}{
				"type":        "string",
				"description": "completed or failed",
				"enum":        []string{"completed", "failed"},
			},
			"outcome": map[string]interface{}{
				"type":        "string",
				"description": "Result summary to report, on success",
			},
			"reason": map[string]interface{}{
				"type":        "string",
				"description": "Failure reason, on failure",
			},
			"context": map[string]interface{}{
				"type":        "string",
				"description": "Optional compressed context to carry back to the parent",
			},
		},
		"required": []string{"status"},
	}
}

func (t *CallbackTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	status, _ := args["status"].(string)
	if status != "completed" && status != "failed" {
		return ErrorResult("status must be \"completed\" or \"failed\"")
	}
	reason, _ := args["reason"].(string)
	outcome, _ := args["outcome"].(string)
	taskContext, _ := args["context"].(string)

	cb := ToolCallbackCBFromCtx(ctx)
	if cb == nil {
		return ErrorResult("subagent callback is not available in this context (not a subagent session)")
	}
	if err := cb(ctx, status, reason, outcome, taskContext); err != nil {
		return ErrorResult(fmt.Sprintf("callback failed: %v", err))
	}
	return SilentResult("outcome reported")
}

// ProgressTool lets a subagent push an interim status update to its parent
// without ending the task.
type ProgressTool struct{}

func NewProgressTool() *ProgressTool { return &ProgressTool{} }

func (t *ProgressTool) Name() string        { return "subagent_progress" }
func (t *ProgressTool) Description() string { return "Report interim progress to this subagent's parent" }
func (t *ProgressTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"message": map[string]interface{}{
				"type":        "string",
				"description": "Progress update to report",
			},
		},
		"required": []string{"message"},
	}
}

func (t *ProgressTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	message, _ := args["message"].(string)
	if message == "" {
		return ErrorResult("message is required")
	}
	cb := ToolProgressCBFromCtx(ctx)
	if cb == nil {
		return ErrorResult("subagent progress reporting is not available in this context (not a subagent session)")
	}
	if err := cb(ctx, message); err != nil {
		return ErrorResult(fmt.Sprintf("progress report failed: %v", err))
	}
	return SilentResult("progress reported")
}

// truncate shortens s to at most n runes, appending an ellipsis marker when
// it does.
func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
