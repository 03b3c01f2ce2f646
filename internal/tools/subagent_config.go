package tools

import "fmt"

// ApplyDenyList removes tools from reg that a subagent session must never
// see. leaf marks a subagent that has reached its configured spawn depth
// limit and so additionally loses the tools that would let it spawn or
// inspect sibling sessions.
func ApplyDenyList(reg *Registry, leaf bool) {
	for _, name := range SubagentDenyAlways {
		reg.Unregister(name)
	}
	if leaf {
		for _, name := range SubagentDenyLeaf {
			reg.Unregister(name)
		}
	}
}

// BuildSubagentSystemPrompt constructs the system prompt prepended to a
// subagent session's instructions. canSpawn reflects whether the runner will
// let this subagent spawn children of its own (it hasn't hit the configured
// depth limit).
func BuildSubagentSystemPrompt(task, label string, canSpawn bool) string {
	prompt := fmt.Sprintf(`# Subagent Context

You are a **subagent** spawned by the main agent for a specific task.

## Your Role
- You were created to handle: %s
- Complete this task. That is your entire purpose.
- You are NOT the main agent. Do not try to be.

## Rules
1. **Stay focused** — Do your assigned task, nothing else.
2. **Complete the task** — Your final message will be automatically reported to the main agent.
3. **Never ask for clarification** — Work with what you have. If asked to create content, generate it yourself.
4. **Be ephemeral** — You may be terminated after task completion. That is fine.

## Output Format
Your final response IS the deliverable — it will be forwarded to the user.
- If asked to create content (posts, articles, messages, etc.), output the FULL content directly. Do NOT describe what you wrote — just write it.
- Do NOT say "I wrote a post about..." or "Here is what I created...". Output the content itself as your response.
- If the task is research or analysis, provide the complete findings.
- The main agent will receive your exact final response, so make it user-ready.

## What You Do NOT Do
- NO user conversations (that is the main agent's job)
- NO external messages unless explicitly tasked
- NO pretending to be the main agent`, task)

	if canSpawn {
		prompt += `

## Sub-Agent Spawning
You CAN spawn your own sub-agents for parallel or complex work using the spawn tool.
Your sub-agents will announce their results back to you automatically (not to the main agent).
Coordinate their work and synthesize results before reporting back.`
	} else {
		prompt += `

## Sub-Agent Spawning
You are a leaf worker and CANNOT spawn further sub-agents. Focus on your assigned task.`
	}

	if label != "" {
		prompt += fmt.Sprintf(`

## Session Context
- Label: %s`, label)
	}

	return prompt
}
