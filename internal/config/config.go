package config

import (
	"encoding/json"
	"fmt"
	"sync"
)

// DefaultAgentID is used when no agent in AgentsConfig.List is marked Default.
const DefaultAgentID = "default"

// FlexibleStringSlice accepts both ["str"] and [123] in JSON.
type FlexibleStringSlice []string

func (f *FlexibleStringSlice) UnmarshalJSON(data []byte) error {
	var ss []string
	if err := json.Unmarshal(data, &ss); err == nil {
		*f = ss
		return nil
	}
	var raw []interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	result := make([]string, 0, len(raw))
	for _, v := range raw {
		switch val := v.(type) {
		case string:
			result = append(result, val)
		case float64:
			result = append(result, fmt.Sprintf("%.0f", val))
		default:
			result = append(result, fmt.Sprintf("%v", val))
		}
	}
	*f = result
	return nil
}

// Config is the root configuration for the tamias daemon, loaded from
// config.json (tolerant JSON5) and hot-swappable via ReplaceFrom.
type Config struct {
	ConfigVersion int                       `json:"_configVersion"`
	Connections   map[string]Connection     `json:"connections"`
	DefaultModels FlexibleStringSlice       `json:"defaultModels,omitempty"`

	Agents   AgentsConfig   `json:"agents"`
	Bridges  BridgesConfig  `json:"bridges"`
	Bindings []AgentBinding `json:"bindings,omitempty"`

	InternalTools map[string]InternalToolConfig `json:"internalTools,omitempty"`
	McpServers    map[string]McpServerConfig    `json:"mcpServers,omitempty"`
	Tools         ToolsConfig                   `json:"tools,omitempty"`

	Daemon    DaemonConfig    `json:"daemon"`
	Telemetry TelemetryConfig `json:"telemetry,omitempty"`
	Tailscale TailscaleConfig `json:"tailscale,omitempty"`
	Skills    SkillsConfig    `json:"skills,omitempty"`

	WorkspacePath string `json:"workspacePath,omitempty"`
	Debug         bool   `json:"debug,omitempty"`

	mu sync.RWMutex
}

// Connection is a named provider credential reference:
// {nickname, provider, envKeyName, baseUrl?, selectedModels[]}.
// The actual secret is never stored here, only the name of the environment
// variable that holds it.
type Connection struct {
	Nickname       string              `json:"nickname"`
	Provider       string              `json:"provider"` // "openai", "anthropic", "google", "openrouter", "ollama"
	EnvKeyName     string              `json:"envKeyName,omitempty"`
	BaseURL        string              `json:"baseUrl,omitempty"`
	SelectedModels FlexibleStringSlice `json:"selectedModels,omitempty"`
}

// InternalToolConfig toggles one built-in tool category on or off and scopes
// its per-function allowlist.
type InternalToolConfig struct {
	Enabled   bool                `json:"enabled"`
	Allowlist FlexibleStringSlice `json:"allowlist,omitempty"`
}

// McpServerConfig configures one external MCP server connection, resolved
// into tools named "server__tool" by internal/mcp.
type McpServerConfig struct {
	Transport  string            `json:"transport"` // "stdio", "sse", "streamable-http"
	Command    string            `json:"command,omitempty"`
	Args       []string          `json:"args,omitempty"`
	Env        map[string]string `json:"env,omitempty"`
	URL        string            `json:"url,omitempty"`
	Headers    map[string]string `json:"headers,omitempty"`
	Enabled    *bool             `json:"enabled,omitempty"`
	TimeoutSec int               `json:"timeoutSec,omitempty"`
}

// IsEnabled returns whether this MCP server is enabled (default true).
func (c *McpServerConfig) IsEnabled() bool {
	return c.Enabled == nil || *c.Enabled
}

// TailscaleConfig configures the optional Tailscale tsnet listener that
// serves the Daemon API over a private tailnet in addition to loopback.
type TailscaleConfig struct {
	Enabled   bool   `json:"enabled,omitempty"`
	Hostname  string `json:"hostname,omitempty"`
	StateDir  string `json:"stateDir,omitempty"`
	AuthKey   string `json:"-"` // from env TAMIAS_TSNET_AUTH_KEY only
	Ephemeral bool   `json:"ephemeral,omitempty"`
}

// SkillsConfig configures the on-disk skills directory referenced by an
// agent's extraSkills.
type SkillsConfig struct {
	StorageDir string `json:"storageDir,omitempty"`
}

// BridgesConfig holds the per-transport bridge instance registries, each
// keyed by a user-chosen instance name.
type BridgesConfig struct {
	Discord  map[string]BridgeInstanceConfig `json:"discord,omitempty"`
	Telegram map[string]BridgeInstanceConfig `json:"telegram,omitempty"`
	WhatsApp map[string]BridgeInstanceConfig `json:"whatsapp,omitempty"`
}

// BridgeMode gates which inbound messages a bridge instance accepts.
type BridgeMode string

const (
	BridgeModeFull        BridgeMode = "full"
	BridgeModeMentionOnly BridgeMode = "mention-only"
	BridgeModeListenOnly  BridgeMode = "listen-only"
)

// BridgeInstanceConfig is one configured bridge instance:
// {enabled, envKeyName, allowedChannels[]/allowedChats[], mode}.
type BridgeInstanceConfig struct {
	Enabled         bool                `json:"enabled"`
	EnvKeyName      string              `json:"envKeyName,omitempty"`
	AllowedChannels FlexibleStringSlice `json:"allowedChannels,omitempty"`
	AllowedChats    FlexibleStringSlice `json:"allowedChats,omitempty"`
	Mode            BridgeMode          `json:"mode,omitempty"`

	// BridgeURL is the WhatsApp bridge's WebSocket endpoint; unused by
	// Discord/Telegram, which talk to their own platform APIs directly.
	BridgeURL string `json:"bridgeUrl,omitempty"`

	// AgentID routes every message from this instance to a fixed agent,
	// bypassing AgentBinding resolution. Empty uses normal routing.
	AgentID string `json:"agentId,omitempty"`
}

// EffectiveMode returns the instance's gating mode, defaulting to full.
func (b BridgeInstanceConfig) EffectiveMode() BridgeMode {
	if b.Mode == "" {
		return BridgeModeFull
	}
	return b.Mode
}

// AgentBinding maps a channel/peer pattern to a specific agent, used by
// AgentOrchestrator to pick the initial agent for a new session.
type AgentBinding struct {
	AgentID string       `json:"agentId"`
	Match   BindingMatch `json:"match"`
}

// BindingMatch specifies what inbound messages this binding applies to.
type BindingMatch struct {
	Channel   string       `json:"channel"` // "telegram", "discord", "whatsapp", "terminal"
	AccountID string       `json:"accountId,omitempty"`
	Peer      *BindingPeer `json:"peer,omitempty"`
}

// BindingPeer specifies a specific DM or group target.
type BindingPeer struct {
	Kind string `json:"kind"` // "direct" or "group"
	ID   string `json:"id"`
}

// AgentsConfig contains agent defaults and the named agent registry.
type AgentsConfig struct {
	Defaults AgentDefaults        `json:"defaults"`
	List     map[string]AgentSpec `json:"list,omitempty"`
}

// AgentDefaults are settings every agent inherits unless overridden.
type AgentDefaults struct {
	Workspace         string           `json:"workspace"`
	MaxTokens         int              `json:"maxTokens"`
	Temperature       float64          `json:"temperature"`
	MaxToolIterations int              `json:"maxToolIterations"`
	ContextWindow     int              `json:"contextWindow"`
	Subagents         *SubagentsConfig `json:"subagents,omitempty"`
	Compaction        *CompactionConfig `json:"compaction,omitempty"`
	Heartbeat         *HeartbeatConfig  `json:"heartbeat,omitempty"`
}

// CompactionConfig configures session compaction behaviour.
type CompactionConfig struct {
	MessageThreshold int                `json:"messageThreshold,omitempty"` // trigger compaction past this many messages (default 20)
	KeepLastMessages int                `json:"keepLastMessages,omitempty"` // messages kept verbatim after compaction (default 4)
	MemoryFlush      *MemoryFlushConfig `json:"memoryFlush,omitempty"`
}

// MemoryFlushConfig configures an optional pre-compaction summarization pass.
type MemoryFlushConfig struct {
	Enabled      *bool  `json:"enabled,omitempty"` // default true
	Prompt       string `json:"prompt,omitempty"`
	SystemPrompt string `json:"systemPrompt,omitempty"`
}

// HeartbeatConfig configures periodic agent heartbeats and HEARTBEAT_OK
// suppression, per the glossary entry for Heartbeat.
type HeartbeatConfig struct {
	Every       string             `json:"every,omitempty"` // duration string, "0m" disables
	ActiveHours *ActiveHoursConfig `json:"activeHours,omitempty"`
	Target      string             `json:"target,omitempty"` // "last" (default), "none", or a channel ID
	Prompt      string             `json:"prompt,omitempty"`
}

// ActiveHoursConfig restricts heartbeats to a time window.
type ActiveHoursConfig struct {
	Start    string `json:"start,omitempty"` // "HH:MM" inclusive
	End      string `json:"end,omitempty"`   // "HH:MM" exclusive
	Timezone string `json:"timezone,omitempty"`
}

// TelemetryConfig configures the token-usage/cost metrics collaborator.
type TelemetryConfig struct {
	Enabled     bool   `json:"enabled,omitempty"`
	ServiceName string `json:"serviceName,omitempty"`
	SqlitePath  string `json:"sqlitePath,omitempty"` // path to the auxiliary usage-log database
}

// SubagentsConfig configures the sub-agent spawn system.
type SubagentsConfig struct {
	MaxConcurrent       int    `json:"maxConcurrent,omitempty"`       // default 8
	MaxSpawnDepth       int    `json:"maxSpawnDepth,omitempty"`       // default 1, range 1-5
	MaxChildrenPerAgent int    `json:"maxChildrenPerAgent,omitempty"` // default 5
	ArchiveAfterMinutes int    `json:"archiveAfterMinutes,omitempty"` // default 60
	Model               string `json:"model,omitempty"`
}

// AgentSpec is a named agent: {id, slug, name, instructions, model?,
// modelFallbacks[], enabled, channels[], extraSkills[], allowedTools[],
// allowedMcpServers[]}.
type AgentSpec struct {
	Slug              string              `json:"slug"`
	Name              string              `json:"name"`
	Instructions      string              `json:"instructions,omitempty"`
	Model             string              `json:"model,omitempty"`
	ModelFallbacks    FlexibleStringSlice `json:"modelFallbacks,omitempty"`
	Enabled           bool                `json:"enabled"`
	Channels          FlexibleStringSlice `json:"channels,omitempty"`
	ExtraSkills       FlexibleStringSlice `json:"extraSkills,omitempty"`
	AllowedTools      FlexibleStringSlice `json:"allowedTools,omitempty"`
	AllowedMcpServers FlexibleStringSlice `json:"allowedMcpServers,omitempty"`

	MaxTokens         int     `json:"maxTokens,omitempty"`
	Temperature       float64 `json:"temperature,omitempty"`
	MaxToolIterations int     `json:"maxToolIterations,omitempty"`
	ContextWindow     int     `json:"contextWindow,omitempty"`
	Workspace         string  `json:"workspace,omitempty"`
	Default           bool    `json:"default,omitempty"`

	Tools    *ToolPolicySpec `json:"tools,omitempty"`
	Identity *IdentityConfig `json:"identity,omitempty"`
}

// ToolPolicySpec defines a tool allow/deny policy at any level (global,
// per-agent, per-provider).
type ToolPolicySpec struct {
	Profile    string                     `json:"profile,omitempty"`
	Allow      []string                   `json:"allow,omitempty"`
	Deny       []string                   `json:"deny,omitempty"`
	AlsoAllow  []string                   `json:"alsoAllow,omitempty"`
	ByProvider map[string]*ToolPolicySpec `json:"byProvider,omitempty"`
}

// ToolsConfig is the global tool policy: a ToolPolicySpec plus a resolved-tool
// rate limit, evaluated first in the ToolRegistry's resolution pipeline.
type ToolsConfig struct {
	ToolPolicySpec
	RateLimitPerHour int `json:"rateLimitPerHour,omitempty"` // max tool executions per hour per session (0 = disabled)
}

// IdentityConfig defines an agent's persona/display identity.
type IdentityConfig struct {
	Name  string `json:"name,omitempty"`
	Emoji string `json:"emoji,omitempty"`
}

// DaemonConfig controls the Daemon API HTTP/SSE listener.
type DaemonConfig struct {
	Host              string `json:"host"`
	Port              int    `json:"port"`
	MaxMessageChars   int    `json:"maxMessageChars,omitempty"`
	RateLimitRPM      int    `json:"rateLimitRpm,omitempty"`
	InboundDebounceMs int    `json:"inboundDebounceMs,omitempty"`
}

// ReplaceFrom copies all data fields from src into c, preserving c's mutex.
// Used by the fsnotify-driven hot reload to atomically swap configuration.
func (c *Config) ReplaceFrom(src *Config) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ConfigVersion = src.ConfigVersion
	c.Connections = src.Connections
	c.DefaultModels = src.DefaultModels
	c.Agents = src.Agents
	c.Bridges = src.Bridges
	c.Bindings = src.Bindings
	c.InternalTools = src.InternalTools
	c.McpServers = src.McpServers
	c.Tools = src.Tools
	c.Daemon = src.Daemon
	c.Telemetry = src.Telemetry
	c.Tailscale = src.Tailscale
	c.Skills = src.Skills
	c.WorkspacePath = src.WorkspacePath
	c.Debug = src.Debug
}
