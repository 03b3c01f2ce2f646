// Package orchestrator implements the AgentOrchestrator: model-chain
// resolution for an agent and runtime hand-off of a live channel binding
// from one agent to another.
package orchestrator

import (
	"errors"
	"fmt"

	"github.com/tamias-daemon/tamias/internal/bus"
	"github.com/tamias-daemon/tamias/internal/config"
	"github.com/tamias-daemon/tamias/internal/providers"
	"github.com/tamias-daemon/tamias/internal/session"
)

var (
	ErrUnknownAgent  = errors.New("unknown target agent")
	ErrAgentDisabled = errors.New("target agent is disabled")
	ErrNoBinding     = errors.New("session has no channel binding to hand off")
)

// Orchestrator resolves agent model chains and performs handoffSession.
type Orchestrator struct {
	cfg   *config.Config
	store *session.Store
}

func New(cfg *config.Config, store *session.Store) *Orchestrator {
	return &Orchestrator{cfg: cfg, store: store}
}

// ResolveAgentModelChain returns [agent.model, ...agent.modelFallbacks],
// filtering out empty entries. Appending the global default chain is left to
// the caller; the runner does not call this function and builds its own chain
// in Runner.modelChain.
func ResolveAgentModelChain(agent config.AgentSpec) []string {
	var chain []string
	if agent.Model != "" {
		chain = append(chain, agent.Model)
	}
	for _, m := range agent.ModelFallbacks {
		if m != "" {
			chain = append(chain, m)
		}
	}
	return chain
}

// HandoffSession moves a live channel binding from its current session to a
// fresh session bound to targetAgentID:
//  1. the target agent must exist and be enabled
//  2. the (channelId, channelUserId) index is atomically rebound
//  3. the new session is pre-populated with a system-visible note, never the
//     prior session's raw messages
//  4. an agent-handoff event is emitted on the new session, and the old one
//     is marked inactive
func (o *Orchestrator) HandoffSession(sessionID, targetAgentID, reason, handoffContext string) (*session.Session, error) {
	target, ok := o.cfg.GetAgentSpec(targetAgentID)
	if !ok {
		return nil, ErrUnknownAgent
	}
	if !target.Enabled {
		return nil, ErrAgentDisabled
	}

	current, ok := o.store.GetSession(sessionID)
	if !ok {
		return nil, session.ErrSessionNotFound
	}
	if current.ChannelID == "" {
		return nil, ErrNoBinding
	}

	fromAgent := current.AgentID

	next, err := o.store.CreateSession(session.CreateOptions{
		ChannelID:     current.ChannelID,
		ChannelUserID: current.ChannelUserID,
		ChannelName:   current.ChannelName,
		AgentID:       targetAgentID,
		AgentSlug:     target.Slug,
		ProjectSlug:   current.ProjectSlug,
		TenantID:      current.TenantID,
	})
	if err != nil {
		return nil, fmt.Errorf("handoff: create target session: %w", err)
	}

	note := handoffNote(reason, handoffContext)
	next.Lock()
	next.Messages = append(next.Messages, systemMessage(note))
	next.Unlock()

	o.store.RebindChannel(current.ChannelID, current.ChannelUserID, next.ID)

	next.Emitter.Publish(bus.AgentHandoffEvent(fromAgent, targetAgentID, reason))

	if err := o.store.Save(next); err != nil {
		return next, fmt.Errorf("handoff: persist target session: %w", err)
	}
	return next, nil
}

func systemMessage(content string) providers.Message {
	return providers.Message{Role: "system", Content: content}
}

func handoffNote(reason, handoffContext string) string {
	note := "handed off from a prior agent"
	if reason != "" {
		note = fmt.Sprintf("handed off from a prior agent: %s", reason)
	}
	if handoffContext != "" {
		note += "\n\ncontext:\n" + handoffContext
	}
	return note
}
