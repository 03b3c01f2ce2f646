package runner

import (
	"context"
	"fmt"
	"time"

	"github.com/tamias-daemon/tamias/internal/bus"
	"github.com/tamias-daemon/tamias/internal/session"
	"github.com/tamias-daemon/tamias/internal/tools"
)

// spawnSubagent implements the subagent.spawn primitive: create a new
// session bound to the same agent, parented to s, and kick its first
// turn. Depth and concurrency limits are enforced here since the runner is
// the only component that can see every session's current state.
func (r *Runner) spawnSubagent(s *session.Session) tools.AsyncCallback {
	return func(ctx context.Context, task, label, modelOverride string) (string, error) {
		limits := r.cfg.SubagentsConfig()

		depth := 0
		for cur := s; ; {
			cur.Lock()
			isSub, parentID := cur.IsSubagent, cur.ParentSessionID
			cur.Unlock()
			if !isSub {
				break
			}
			depth++
			parent, ok := r.store.GetSession(parentID)
			if !ok {
				break
			}
			cur = parent
		}
		if depth+1 > limits.MaxSpawnDepth {
			return "", fmt.Errorf("subagent spawn depth limit (%d) reached", limits.MaxSpawnDepth)
		}

		if r.countRunningChildren(s.ID) >= limits.MaxChildrenPerAgent {
			return "", fmt.Errorf("subagent concurrency limit (%d) reached for this session", limits.MaxChildrenPerAgent)
		}

		model := modelOverride
		if model == "" {
			model = limits.Model
		}

		child, err := r.store.CreateSession(session.CreateOptions{
			Model:           model,
			ParentSessionID: s.ID,
			IsSubagent:      true,
			Task:            task,
			AgentID:         s.AgentID,
			AgentSlug:       s.AgentSlug,
			AgentDir:        s.AgentDir,
			ProjectSlug:     s.ProjectSlug,
			TenantID:        s.TenantID,
		})
		if err != nil {
			return "", err
		}
		if label != "" {
			child.Lock()
			child.Name = label
			child.Unlock()
		}

		s.Emitter.Publish(bus.SubagentStatusEvent(child.ID, s.ID, task, child.TaskSlug, session.SubagentStatusRunning, ""))

		if err := r.store.EnqueueMessage(child.ID, task, "spawn"); err != nil {
			return "", err
		}
		return child.ID, nil
	}
}

// countRunningChildren counts this session's direct subagent children that
// have not yet reached a terminal status.
func (r *Runner) countRunningChildren(parentID string) int {
	n := 0
	for _, info := range r.store.List() {
		if info.ParentSessionID == parentID && info.SubagentStatus == session.SubagentStatusRunning {
			n++
		}
	}
	return n
}

// subagentCallback implements subagent.callback: record the terminal
// outcome on the subagent session itself, then wake its parent with the
// report so the parent's next turn can act on it.
func (r *Runner) subagentCallback(s *session.Session) tools.CallbackFunc {
	return func(ctx context.Context, status, reason, outcome, taskContext string) error {
		now := time.Now()
		s.Lock()
		s.SubagentStatus = status
		s.CompletedAt = &now
		s.SubagentCallbackCalled = true
		if outcome != "" {
			s.Progress = outcome
		} else {
			s.Progress = reason
		}
		parentID := s.ParentSessionID
		task := s.Task
		taskSlug := s.TaskSlug
		s.Unlock()

		if err := r.store.Save(s); err != nil {
			return err
		}

		parent, ok := r.store.GetSession(parentID)
		if !ok {
			return nil
		}

		message := fmt.Sprintf("subagent %s (%s) reported %s: %s", s.ID, task, status, outcome)
		if status != session.SubagentStatusCompleted {
			message = fmt.Sprintf("subagent %s (%s) reported %s: %s", s.ID, task, status, reason)
		}
		if taskContext != "" {
			message += "\ncontext: " + taskContext
		}

		parent.Emitter.Publish(bus.SubagentStatusEvent(s.ID, parentID, task, taskSlug, status, outcome))
		return r.store.EnqueueMessage(parentID, message, "subagent_callback")
	}
}

// subagentProgress implements subagent.progress: relay an interim status
// line to the parent's subscribers without altering session state or
// enqueuing a new parent turn.
func (r *Runner) subagentProgress(s *session.Session) tools.ProgressFunc {
	return func(ctx context.Context, message string) error {
		s.Lock()
		parentID := s.ParentSessionID
		task := s.Task
		taskSlug := s.TaskSlug
		id := s.ID
		s.Unlock()

		parent, ok := r.store.GetSession(parentID)
		if !ok {
			return nil
		}
		parent.Emitter.Publish(bus.SubagentStatusEvent(id, parentID, task, taskSlug, session.SubagentStatusRunning, message))
		return nil
	}
}
