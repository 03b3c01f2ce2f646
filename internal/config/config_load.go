package config

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/titanous/json5"
)

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		ConfigVersion: 1,
		Connections:   map[string]Connection{},
		Agents: AgentsConfig{
			Defaults: AgentDefaults{
				Workspace:         "~/.tamias/workspace",
				MaxTokens:         8192,
				Temperature:       0.7,
				MaxToolIterations: 20,
				ContextWindow:     200000,
				Subagents: &SubagentsConfig{
					MaxConcurrent: 8,
					MaxSpawnDepth: 1,
				},
				Compaction: &CompactionConfig{
					MessageThreshold: 20,
					KeepLastMessages: 4,
				},
			},
		},
		Daemon: DaemonConfig{
			Host:            "127.0.0.1",
			Port:            0, // 0 = pick a free port at startup
			MaxMessageChars: 32000,
			RateLimitRPM:    20,
		},
		WorkspacePath: "~/.tamias",
	}
}

// Load reads config from a JSON5 file, then overlays env vars. A missing
// file is not an error: it returns Default() with env overrides applied.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := json5.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// applyEnvOverrides overlays env vars onto the config. Env vars take
// precedence over file values, and are the only source for secrets — no
// credential ever lives in config.json itself.
func (c *Config) applyEnvOverrides() {
	envStr := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}

	envStr("TAMIAS_HOST", &c.Daemon.Host)
	if v := os.Getenv("TAMIAS_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil && port > 0 {
			c.Daemon.Port = port
		}
	}

	envStr("TAMIAS_WORKSPACE", &c.WorkspacePath)

	envStr("TAMIAS_TELEMETRY_SERVICE_NAME", &c.Telemetry.ServiceName)
	if v := os.Getenv("TAMIAS_TELEMETRY_ENABLED"); v != "" {
		c.Telemetry.Enabled = v == "true" || v == "1"
	}

	envStr("TAMIAS_TSNET_HOSTNAME", &c.Tailscale.Hostname)
	envStr("TAMIAS_TSNET_AUTH_KEY", &c.Tailscale.AuthKey)
	envStr("TAMIAS_TSNET_DIR", &c.Tailscale.StateDir)
	if v := os.Getenv("TAMIAS_TSNET_ENABLED"); v != "" {
		c.Tailscale.Enabled = v == "true" || v == "1"
	}
}

// ResolveEnvKey reads a named environment variable, used for bridge bot
// tokens addressed by BridgeInstanceConfig.EnvKeyName rather than by a
// connection nickname.
func ResolveEnvKey(envKeyName string) (string, error) {
	if envKeyName == "" {
		return "", fmt.Errorf("no envKeyName configured")
	}
	v := os.Getenv(envKeyName)
	if v == "" {
		return "", fmt.Errorf("environment variable %s is not set", envKeyName)
	}
	return v, nil
}

// ResolveAPIKey looks up the secret for a named connection via its
// envKeyName. Connections never carry a literal credential.
func (c *Config) ResolveAPIKey(nickname string) (string, error) {
	c.mu.RLock()
	conn, ok := c.Connections[nickname]
	c.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("unknown connection %q", nickname)
	}
	if conn.EnvKeyName == "" {
		return "", fmt.Errorf("connection %q has no envKeyName configured", nickname)
	}
	key := os.Getenv(conn.EnvKeyName)
	if key == "" {
		return "", fmt.Errorf("connection %q: environment variable %s is not set", nickname, conn.EnvKeyName)
	}
	return key, nil
}

// Save writes the config to a JSON file.
func Save(path string, cfg *Config) error {
	cfg.mu.RLock()
	defer cfg.mu.RUnlock()

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	return os.WriteFile(path, data, 0600)
}

// Hash returns a SHA-256 hash prefix of the config, used by the daemon to
// detect whether a hot-reloaded file actually changed.
func (c *Config) Hash() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	data, _ := json.Marshal(c)
	h := sha256.Sum256(data)
	return fmt.Sprintf("%x", h[:8])
}

// ResolvedWorkspacePath returns the expanded workspace path.
func (c *Config) ResolvedWorkspacePath() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return ExpandHome(c.WorkspacePath)
}

// ResolveAgent returns the effective settings for a given agent ID, merging
// defaults with the per-agent AgentSpec override.
func (c *Config) ResolveAgent(agentID string) AgentDefaults {
	c.mu.RLock()
	defer c.mu.RUnlock()

	d := c.Agents.Defaults
	if spec, ok := c.Agents.List[agentID]; ok {
		if spec.MaxTokens > 0 {
			d.MaxTokens = spec.MaxTokens
		}
		if spec.Temperature > 0 {
			d.Temperature = spec.Temperature
		}
		if spec.MaxToolIterations > 0 {
			d.MaxToolIterations = spec.MaxToolIterations
		}
		if spec.ContextWindow > 0 {
			d.ContextWindow = spec.ContextWindow
		}
		if spec.Workspace != "" {
			d.Workspace = spec.Workspace
		}
	}

	return d
}

// GetAgentSpec returns the named agent's full spec (model, fallbacks, tool
// policy, identity, …), for callers that need more than ResolveAgent's
// merged-defaults view.
func (c *Config) GetAgentSpec(agentID string) (AgentSpec, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	spec, ok := c.Agents.List[agentID]
	return spec, ok
}

// DefaultModelChain returns the global default model degradation chain.
func (c *Config) DefaultModelChain() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]string{}, c.DefaultModels...)
}

// ConnectionExists reports whether nickname refers to a configured
// connection, used to filter a model chain down to connections that still
// exist.
func (c *Config) ConnectionExists(nickname string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.Connections[nickname]
	return ok
}

// GetConnection returns the named connection.
func (c *Config) GetConnection(nickname string) (Connection, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	conn, ok := c.Connections[nickname]
	return conn, ok
}

// AllConnections returns every configured connection, in no particular order.
func (c *Config) AllConnections() []Connection {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Connection, 0, len(c.Connections))
	for _, conn := range c.Connections {
		out = append(out, conn)
	}
	return out
}

// InternalToolConfigFor returns the named built-in tool category's config,
// if one was explicitly set.
func (c *Config) InternalToolConfigFor(category string) (InternalToolConfig, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ic, ok := c.InternalTools[category]
	return ic, ok
}

// ResolveCompaction returns the effective compaction settings for an agent,
// falling back to the global defaults (and their own built-in defaults) when
// nothing is configured.
func (c *Config) ResolveCompaction(agentID string) CompactionConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := CompactionConfig{MessageThreshold: 20, KeepLastMessages: 4}
	if cc := c.Agents.Defaults.Compaction; cc != nil {
		if cc.MessageThreshold > 0 {
			out.MessageThreshold = cc.MessageThreshold
		}
		if cc.KeepLastMessages > 0 {
			out.KeepLastMessages = cc.KeepLastMessages
		}
		out.MemoryFlush = cc.MemoryFlush
	}
	return out
}

// SubagentsConfig returns the global sub-agent spawn limits.
func (c *Config) SubagentsConfig() SubagentsConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if sc := c.Agents.Defaults.Subagents; sc != nil {
		return *sc
	}
	return SubagentsConfig{MaxConcurrent: 8, MaxSpawnDepth: 1, MaxChildrenPerAgent: 5, ArchiveAfterMinutes: 60}
}

// ResolveDefaultAgentID returns the ID of the agent marked Default, or
// DefaultAgentID if none is explicitly marked.
func (c *Config) ResolveDefaultAgentID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	for id, spec := range c.Agents.List {
		if spec.Default {
			return id
		}
	}
	return DefaultAgentID
}

// ResolveDisplayName returns the display name for an agent, falling back to
// its slug and finally "tamias".
func (c *Config) ResolveDisplayName(agentID string) string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if spec, ok := c.Agents.List[agentID]; ok {
		if spec.Identity != nil && spec.Identity.Name != "" {
			return spec.Identity.Name
		}
		if spec.Name != "" {
			return spec.Name
		}
	}
	return "tamias"
}

// ApplyEnvOverrides re-applies environment variable overrides onto the
// config. Called after a hot reload to restore runtime secrets that never
// round-trip through the file on disk.
func (c *Config) ApplyEnvOverrides() {
	c.applyEnvOverrides()
}

// ExpandHome replaces a leading "~" with the user home directory.
func ExpandHome(path string) string {
	if path == "" || path[0] != '~' {
		return path
	}
	home, _ := os.UserHomeDir()
	if len(path) > 1 && path[1] == '/' {
		return home + path[1:]
	}
	return home
}
