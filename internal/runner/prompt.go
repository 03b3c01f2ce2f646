package runner

import (
	"fmt"
	"strings"

	"github.com/tamias-daemon/tamias/internal/session"
	"github.com/tamias-daemon/tamias/internal/tools"
)

// buildSystemPrompt assembles the out-of-band system prompt attached to
// every turn: identity, agent persona, subagent framing, and a rolling
// summary produced by the last compaction pass.
func (r *Runner) buildSystemPrompt(s *session.Session) string {
	var b strings.Builder

	name := "tamias"
	if s.AgentID != "" {
		name = r.cfg.ResolveDisplayName(s.AgentID)
	}
	fmt.Fprintf(&b, "You are %s, an assistant bridged into a chat channel.\n", name)

	if spec, ok := r.cfg.GetAgentSpec(s.AgentID); ok && spec.Instructions != "" {
		b.WriteString("\n")
		b.WriteString(spec.Instructions)
		b.WriteString("\n")
	}

	if s.IsSubagent {
		canSpawn := r.cfg.SubagentsConfig().MaxSpawnDepth > 1
		b.WriteString("\n")
		b.WriteString(tools.BuildSubagentSystemPrompt(s.Task, s.TaskSlug, canSpawn))
	}

	if s.Summary != "" {
		fmt.Fprintf(&b, "\n# Earlier in this conversation\n%s\n", s.Summary)
	}

	return b.String()
}
