package runner

import (
	"github.com/tamias-daemon/tamias/internal/config"
	"github.com/tamias-daemon/tamias/internal/providers"
	"github.com/tamias-daemon/tamias/internal/session"
	"github.com/tamias-daemon/tamias/internal/tools"
)

// sessionStoreSetter is implemented by every tool that needs to look up or
// enumerate sessions (sessions_list, session_status, sessions_history,
// sessions_send).
type sessionStoreSetter interface {
	SetSessionStore(*session.Store)
}

// builtinToolCategories maps each InternalToolConfig key to the concrete
// tool names it gates. A category absent from config.InternalTools defaults
// to enabled; one present with Enabled=false is skipped entirely.
var builtinToolCategories = map[string][]string{
	"filesystem": {"read_file", "write_file", "list_files", "edit_file", "search", "glob"},
	"runtime":    {"exec"},
	"web":        {"web_search", "web_fetch"},
	"media":      {"read_image", "create_image"},
	"sessions":   {"sessions_list", "session_status", "sessions_history", "sessions_send"},
	"subagents":  {"spawn", "subagent_callback", "subagent_progress"},
}

// NewToolRegistry builds the base ToolRegistry shared by every session:
// built-in tools filtered by config.InternalTools allowlists. MCP tools are
// added on top by the caller once the MCP
// manager has connected (internal/mcp.Manager.Start registers directly into
// this same *tools.Registry).
func NewToolRegistry(cfg *config.Config, store *session.Store, workspace string, restrict bool, providerRegistry *providers.Registry, webFetch tools.WebFetchConfig, webSearch tools.WebSearchConfig) *tools.Registry {
	reg := tools.NewRegistry()

	allowed := func(category, name string) bool {
		ic, ok := cfg.InternalToolConfigFor(category)
		if !ok {
			return true
		}
		if !ic.Enabled {
			return false
		}
		if len(ic.Allowlist) == 0 {
			return true
		}
		for _, a := range ic.Allowlist {
			if a == name {
				return true
			}
		}
		return false
	}

	register := func(category string, t tools.Tool) {
		if !allowed(category, t.Name()) {
			return
		}
		if setter, ok := t.(sessionStoreSetter); ok {
			setter.SetSessionStore(store)
		}
		reg.Register(t)
	}

	register("filesystem", tools.NewReadFileTool(workspace, restrict))
	register("filesystem", tools.NewWriteFileTool(workspace, restrict))
	register("filesystem", tools.NewListFilesTool(workspace, restrict))
	register("filesystem", tools.NewEditFileTool(workspace, restrict))
	register("filesystem", tools.NewSearchTool(workspace, restrict))
	register("filesystem", tools.NewGlobTool(workspace, restrict))

	register("runtime", tools.NewExecTool(workspace, restrict))

	register("web", tools.NewWebSearchTool(webSearch))
	register("web", tools.NewWebFetchTool(webFetch))

	register("media", tools.NewReadImageTool(providerRegistry))
	register("media", tools.NewCreateImageTool(providerRegistry))

	register("sessions", tools.NewSessionsListTool())
	register("sessions", tools.NewSessionStatusTool())
	register("sessions", tools.NewSessionsHistoryTool())
	register("sessions", tools.NewSessionsSendTool())

	register("subagents", tools.NewSpawnTool())
	register("subagents", tools.NewCallbackTool())
	register("subagents", tools.NewProgressTool())

	return reg
}

// NewProviderRegistry builds the provider.Registry from configured
// connections, one Provider instance per distinct provider name (when several
// connections share a provider, which one is kept is not defined, since
// AllConnections returns them in no particular order; read_image/create_image
// select by provider family, not by connection nickname).
func NewProviderRegistry(cfg *config.Config) *providers.Registry {
	reg := providers.NewRegistry()
	for _, conn := range cfg.AllConnections() {
		apiKey, err := cfg.ResolveAPIKey(conn.Nickname)
		if err != nil {
			continue
		}
		p, err := providers.New(conn.Provider, apiKey, conn.BaseURL, "")
		if err != nil {
			continue
		}
		reg.Set(conn.Provider, p)
	}
	return reg
}
