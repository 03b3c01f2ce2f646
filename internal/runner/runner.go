// Package runner implements the SessionRunner: the turn loop that drains a
// session's message queue, calls the bound model, executes any requested
// tools, and emits the DaemonEvent stream a session's subscribers consume.
package runner

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/tamias-daemon/tamias/internal/bus"
	"github.com/tamias-daemon/tamias/internal/config"
	"github.com/tamias-daemon/tamias/internal/metrics"
	"github.com/tamias-daemon/tamias/internal/providers"
	"github.com/tamias-daemon/tamias/internal/session"
	"github.com/tamias-daemon/tamias/internal/tools"
)

// MaxSteps bounds a single turn's model/tool round-trips, preventing a
// tool-call loop from running forever.
const MaxSteps = 20

// TurnTimeout bounds a single turn's total wall-clock time.
const TurnTimeout = 10 * time.Minute

const heartbeatOK = "HEARTBEAT_OK"

// Runner drives turns for every session in a Store. One Runner serves the
// whole daemon; Session-specific state lives on the Session itself.
type Runner struct {
	store    *session.Store
	cfg      *config.Config
	registry *tools.Registry
	provReg  *providers.Registry
	debug    bool
	metrics  *metrics.Collector

	shuttingDown func() bool
}

// New creates a Runner. SetOnEnqueue/SetOnDispatch on store should be wired
// to Kick/dispatch callbacks by the caller once both sides exist.
func New(store *session.Store, cfg *config.Config, registry *tools.Registry, provReg *providers.Registry, debug bool) *Runner {
	return &Runner{store: store, cfg: cfg, registry: registry, provReg: provReg, debug: debug}
}

// SetMetrics attaches a usage Collector. Recording is skipped entirely when
// unset, so wiring this is optional.
func (r *Runner) SetMetrics(m *metrics.Collector) { r.metrics = m }

// SetShutdownCheck wires a callback the runner polls between tool-call
// steps; it should report whether the daemon has been asked to shut down.
// A nil or unset check never interrupts a turn.
func (r *Runner) SetShutdownCheck(fn func() bool) { r.shuttingDown = fn }

// Kick is the onEnqueue callback: it starts a turn for the session if one
// isn't already processing. Safe to call repeatedly; a turn already running
// will pick up the freshly enqueued job itself.
func (r *Runner) Kick(s *session.Session) {
	s.Lock()
	if s.Processing {
		s.Unlock()
		return
	}
	if len(s.Queue) == 0 {
		s.Unlock()
		return
	}
	s.Processing = true
	s.Unlock()

	go r.runTurns(context.Background(), s)
}

// runTurns drains the queue one turn at a time, looping while more jobs
// arrive during processing.
func (r *Runner) runTurns(ctx context.Context, s *session.Session) {
	for {
		s.Lock()
		job, ok := s.PopJob()
		if !ok {
			s.Processing = false
			s.Unlock()
			return
		}
		s.Unlock()

		r.runTurn(ctx, s, job)

		s.Lock()
		again := len(s.Queue) > 0
		if !again {
			s.Processing = false
		}
		s.Unlock()
		if !again {
			return
		}
	}
}

// runTurn executes the turn algorithm for a single dequeued job: resolve
// the model chain, build the system prompt, run the model/tool step loop,
// then persist and emit the result.
func (r *Runner) runTurn(parent context.Context, s *session.Session, job session.MessageJob) {
	ctx, cancel := context.WithTimeout(parent, TurnTimeout)
	defer cancel()

	s.Lock()
	s.Messages = append(s.Messages, providers.Message{Role: "user", Content: job.Content})
	s.Unlock()

	s.Emitter.Publish(bus.StartEvent(s.ID))

	chain := r.modelChain(s)
	if len(chain) == 0 {
		s.Emitter.Publish(bus.ErrorEvent("no model configured for this session"))
		r.synthesizeSubagentReport(s, session.SubagentStatusFailed, "", "no model configured for this session")
		return
	}

	system := r.buildSystemPrompt(s)
	defs := r.toolDefs(s)

	var lastErr error
	for i, modelRef := range chain {
		if i > 0 {
			s.Emitter.Publish(bus.ChunkEvent(fmt.Sprintf("[falling back to %s after a provider error]\n", modelRef)))
		}
		resp, err := r.runModelSteps(ctx, s, modelRef, system, defs)
		if err == nil {
			r.finishTurn(s, modelRef, resp)
			return
		}
		lastErr = err
		slog.Warn("turn: model step failed, trying next in chain", "session", s.ID, "model", modelRef, "err", err)
	}

	s.Emitter.Publish(bus.ErrorEvent(fmt.Sprintf("all models in the fallback chain failed: %v", lastErr)))
	r.synthesizeSubagentReport(s, session.SubagentStatusFailed, "", fmt.Sprintf("all models in the fallback chain failed: %v", lastErr))
}

// runModelSteps drives the step-bounded model/tool loop against one
// provider binding and returns the final assistant text once the model
// stops requesting tool calls.
func (r *Runner) runModelSteps(ctx context.Context, s *session.Session, modelRef, system string, defs []providers.ToolDefinition) (string, error) {
	providerName, modelID, err := splitModelRef(modelRef)
	if err != nil {
		return "", err
	}
	conn, ok := r.cfg.GetConnection(providerName)
	if !ok {
		return "", fmt.Errorf("unknown connection %q", providerName)
	}
	apiKey, err := r.cfg.ResolveAPIKey(providerName)
	if err != nil {
		return "", err
	}
	provider, err := providers.New(conn.Provider, apiKey, conn.BaseURL, modelID)
	if err != nil {
		return "", err
	}

	var fullResponse strings.Builder
	toolCtx := r.withToolContext(ctx, s)

	s.Lock()
	messages := append([]providers.Message{{Role: "system", Content: system}}, s.Messages...)
	s.Unlock()

	for step := 0; step < MaxSteps; step++ {
		if r.shuttingDown != nil && r.shuttingDown() {
			return fullResponse.String(), fmt.Errorf("shutdown")
		}

		req := providers.ChatRequest{Messages: messages, Tools: defs, Model: modelID}

		resp, err := provider.ChatStream(ctx, req, func(chunk providers.StreamChunk) {
			if chunk.Content != "" {
				fullResponse.WriteString(chunk.Content)
				s.Emitter.Publish(bus.ChunkEvent(chunk.Content))
			}
		})
		if err != nil {
			return "", err
		}

		if len(resp.ToolCalls) == 0 {
			if r.metrics != nil {
				r.metrics.RecordTurn(ctx, s.ID, modelRef, resp.Usage)
			}
			return fullResponse.String(), nil
		}

		assistantMsg := providers.Message{Role: "assistant", Content: resp.Content, ToolCalls: resp.ToolCalls}
		messages = append(messages, assistantMsg)

		for _, call := range resp.ToolCalls {
			inputJSON := fmt.Sprintf("%v", call.Arguments)
			s.Emitter.Publish(bus.ToolCallEvent(call.Name, inputJSON))

			result := r.executeTool(toolCtx, call)

			if r.debug {
				s.Emitter.Publish(bus.ToolResultEvent(call.Name, result.ForLLM))
			}

			messages = append(messages, providers.Message{
				Role:       "tool",
				Content:    result.ForLLM,
				ToolCallID: call.ID,
			})
		}
	}

	return fullResponse.String(), fmt.Errorf("exceeded %d tool-call steps without a final answer", MaxSteps)
}

// withToolContext attaches the context values tool Execute() implementations
// read: session/agent identity, workspace, and the subagent callbacks when
// this session is itself a subagent.
func (r *Runner) withToolContext(ctx context.Context, s *session.Session) context.Context {
	s.Lock()
	workspace := r.cfg.ResolveAgent(s.AgentID).Workspace
	agentID := s.AgentID
	isSubagent := s.IsSubagent
	s.Unlock()

	ctx = tools.WithToolSessionID(ctx, s.ID)
	ctx = tools.WithToolAgentID(ctx, agentID)
	ctx = tools.WithToolWorkspace(ctx, config.ExpandHome(workspace))
	ctx = tools.WithToolAsyncCB(ctx, r.spawnSubagent(s))

	if isSubagent {
		ctx = tools.WithToolCallbackCB(ctx, r.subagentCallback(s))
		ctx = tools.WithToolProgressCB(ctx, r.subagentProgress(s))
	}
	return ctx
}

// toolDefs resolves the tool policy pipeline for a session's bound agent
// into provider-ready tool schemas.
func (r *Runner) toolDefs(s *session.Session) []providers.ToolDefinition {
	pe := tools.NewPolicyEngine(&r.cfg.Tools)

	var agentPolicy *config.ToolPolicySpec
	providerName := ""
	if s.AgentID != "" {
		if spec, ok := r.cfg.GetAgentSpec(s.AgentID); ok {
			agentPolicy = spec.Tools
		}
	}
	if chain := r.modelChain(s); len(chain) > 0 {
		providerName, _, _ = splitModelRef(chain[0])
		if conn, ok := r.cfg.GetConnection(providerName); ok {
			providerName = conn.Provider
		}
	}

	isLeaf := s.IsSubagent && r.cfg.SubagentsConfig().MaxSpawnDepth <= 1

	return pe.FilterTools(r.registry, s.AgentID, providerName, agentPolicy, nil, s.IsSubagent, isLeaf)
}

func (r *Runner) executeTool(ctx context.Context, call providers.ToolCall) *tools.Result {
	t, ok := r.registry.Get(call.Name)
	if !ok {
		return tools.ErrorResult(fmt.Sprintf("unknown tool %q", call.Name))
	}
	return t.Execute(ctx, call.Arguments)
}

// finishTurn handles heartbeat suppression, message append, persistence,
// and the terminal done event.
func (r *Runner) finishTurn(s *session.Session, modelRef, fullResponse string) {
	suppressed := strings.TrimSpace(fullResponse) == heartbeatOK

	s.Lock()
	if !suppressed {
		s.Messages = append(s.Messages, providers.Message{Role: "assistant", Content: fullResponse})
	}
	s.Model = modelRef
	s.UpdatedAt = time.Now()
	msgCount := len(s.Messages)
	s.Unlock()

	if err := r.store.Save(s); err != nil {
		slog.Warn("turn: session persist failed", "session", s.ID, "err", err)
	}

	s.Emitter.Publish(bus.DoneEvent(s.ID, suppressed))

	r.synthesizeSubagentReport(s, session.SubagentStatusCompleted, fullResponse, "")

	threshold := r.compactionThreshold(s)
	if threshold > 0 && msgCount >= threshold {
		go r.compact(context.Background(), s)
	}
}

// synthesizeSubagentReport covers a subagent session that finishes a turn
// without ever calling subagent_callback: it records the terminal status
// itself and wakes the parent with a report built from the turn's own
// result, so every subagent session still reaches exactly one of
// {completed, failed} and the parent still receives a terminal
// subagent-status event. A no-op for non-subagent sessions or once the
// subagent has already reported through the callback tool.
func (r *Runner) synthesizeSubagentReport(s *session.Session, status, outcome, reason string) {
	s.Lock()
	if !s.IsSubagent || s.SubagentCallbackCalled {
		s.Unlock()
		return
	}
	now := time.Now()
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
		slog.Warn("turn: subagent persist failed", "session", s.ID, "err", err)
	}

	parent, ok := r.store.GetSession(parentID)
	if !ok {
		return
	}

	message := fmt.Sprintf("subagent %s (%s) reported %s: %s", s.ID, task, status, outcome)
	if status != session.SubagentStatusCompleted {
		message = fmt.Sprintf("subagent %s (%s) reported %s: %s", s.ID, task, status, reason)
	}

	parent.Emitter.Publish(bus.SubagentStatusEvent(s.ID, parentID, task, taskSlug, status, outcome))
	if err := r.store.EnqueueMessage(parentID, message, "subagent_callback"); err != nil {
		slog.Warn("turn: subagent fallback report enqueue failed", "session", s.ID, "parent", parentID, "err", err)
	}
}

// modelChain resolves the session's bound agent's [model, ...modelFallbacks]
// followed by the global default chain, filtered to connections that still
// exist. The session's own Model field is used only when that chain is
// empty (no agent model, no fallbacks and no default chain).
func (r *Runner) modelChain(s *session.Session) []string {
	var chain []string
	if s.AgentID != "" {
		if spec, ok := r.cfg.GetAgentSpec(s.AgentID); ok {
			if spec.Model != "" {
				chain = append(chain, spec.Model)
			}
			chain = append(chain, spec.ModelFallbacks...)
		}
	}
	chain = append(chain, r.cfg.DefaultModelChain()...)
	if len(chain) == 0 && s.Model != "" {
		chain = append(chain, s.Model)
	}

	out := chain[:0:0]
	for _, ref := range chain {
		name, _, err := splitModelRef(ref)
		if err != nil {
			continue
		}
		if r.cfg.ConnectionExists(name) {
			out = append(out, ref)
		}
	}
	return dedupe(out)
}

func (r *Runner) compactionThreshold(s *session.Session) int {
	return r.cfg.ResolveCompaction(s.AgentID).MessageThreshold
}

// splitModelRef parses a "{connectionNickname}/{modelId}" reference.
func splitModelRef(ref string) (nickname, modelID string, err error) {
	idx := strings.IndexByte(ref, '/')
	if idx < 0 {
		return "", "", fmt.Errorf("malformed model reference %q (want \"connection/model\")", ref)
	}
	return ref[:idx], ref[idx+1:], nil
}

func dedupe(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := in[:0]
	for _, v := range in {
		if seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	return out
}
