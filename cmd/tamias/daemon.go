package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/tamias-daemon/tamias/internal/bridge"
	"github.com/tamias-daemon/tamias/internal/bridge/discord"
	"github.com/tamias-daemon/tamias/internal/bridge/telegram"
	"github.com/tamias-daemon/tamias/internal/bridge/terminal"
	"github.com/tamias-daemon/tamias/internal/bridge/whatsapp"
	"github.com/tamias-daemon/tamias/internal/config"
	"github.com/tamias-daemon/tamias/internal/daemonapi"
	"github.com/tamias-daemon/tamias/internal/mcp"
	"github.com/tamias-daemon/tamias/internal/metrics"
	"github.com/tamias-daemon/tamias/internal/runner"
	"github.com/tamias-daemon/tamias/internal/session"
	"github.com/tamias-daemon/tamias/internal/tools"
	"tailscale.com/tsnet"
)

func runDaemon() {
	logLevel := slog.LevelInfo
	if verbose {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})))

	cfgPath := resolveConfigPath()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	cfg.Debug = cfg.Debug || verbose

	workspace := cfg.ResolvedWorkspacePath()
	if err := os.MkdirAll(workspace, 0o755); err != nil {
		slog.Error("failed to create workspace", "path", workspace, "error", err)
		os.Exit(1)
	}

	store := session.New(workspace, modelResolver(cfg), modelValidator(cfg))

	providerRegistry := runner.NewProviderRegistry(cfg)
	agentWorkspace := config.ExpandHome(cfg.Agents.Defaults.Workspace)
	if !filepath.IsAbs(agentWorkspace) {
		agentWorkspace, _ = filepath.Abs(agentWorkspace)
	}
	os.MkdirAll(agentWorkspace, 0o755)

	toolRegistry := runner.NewToolRegistry(cfg, store, agentWorkspace, true, providerRegistry, toolsWebFetchConfig(cfg), toolsWebSearchConfig(cfg))

	mcpMgr := mcp.NewManager(toolRegistry, cfg.McpServers)

	r := runner.New(store, cfg, toolRegistry, providerRegistry, cfg.Debug)

	collector, err := metrics.New(cfg.Telemetry)
	if err != nil {
		slog.Warn("metrics disabled: setup failed", "error", err)
	} else {
		r.SetMetrics(collector)
	}

	store.SetOnEnqueue(r.Kick)

	bridgeMgr := bridge.New(cfg, store)
	store.SetOnDispatch(func(s *session.Session, _ string) {
		bridgeMgr.Dispatch(context.Background(), s, s.ChannelID)
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	registerBridges(bridgeMgr, cfg, store, cfg.Debug)

	if err := mcpMgr.Start(ctx); err != nil {
		slog.Warn("mcp manager: one or more servers failed to connect", "error", err)
	}
	defer mcpMgr.Stop()

	if err := bridgeMgr.StartAll(ctx); err != nil {
		slog.Error("failed to start bridges", "error", err)
	}

	watcher, err := config.NewWatcher(cfgPath, cfg)
	if err != nil {
		slog.Warn("config hot reload unavailable", "error", err)
	} else {
		watcher.Start(ctx)
	}

	execPath, _ := os.Executable()
	apiServer := daemonapi.New(cfg, store, r, execPath)
	daemonapi.Version = Version
	r.SetShutdownCheck(apiServer.ShuttingDown)

	addr := fmt.Sprintf("%s:%d", cfg.Daemon.Host, cfg.Daemon.Port)
	httpServer := &http.Server{Addr: addr, Handler: apiServer.Mux()}

	tsServer := setupTailscale(cfg)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		slog.Info("graceful shutdown initiated", "signal", sig)

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		bridgeMgr.StopAll(shutdownCtx)
		mcpMgr.Stop()
		if collector != nil {
			_ = collector.Close(shutdownCtx)
		}
		_ = httpServer.Shutdown(shutdownCtx)
		if tsServer != nil {
			_ = tsServer.Close()
		}
		cancel()
	}()

	if tsServer != nil {
		go func() {
			tsln, err := tsServer.Listen("tcp", fmt.Sprintf(":%d", cfg.Daemon.Port))
			if err != nil {
				slog.Error("tailnet listener failed", "error", err)
				return
			}
			slog.Info("tailnet listener active", "hostname", cfg.Tailscale.Hostname, "port", cfg.Daemon.Port)
			if err := httpServer.Serve(tsln); err != nil && err != http.ErrServerClosed {
				slog.Error("daemon api server error (tailnet)", "error", err)
			}
		}()
	}

	slog.Info("tamias daemon starting", "version", Version, "addr", addr, "workspace", workspace)

	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("daemon api server error", "error", err)
		os.Exit(1)
	}
}

// setupTailscale constructs the optional tsnet server that exposes the daemon
// API on the operator's tailnet in addition to its local listener. tsnet joins
// the tailnet lazily on first Listen/Dial, so construction here is cheap and
// safe to skip entirely when disabled.
func setupTailscale(cfg *config.Config) *tsnet.Server {
	if !cfg.Tailscale.Enabled {
		return nil
	}
	return &tsnet.Server{
		Dir:       cfg.Tailscale.StateDir,
		Hostname:  cfg.Tailscale.Hostname,
		AuthKey:   cfg.Tailscale.AuthKey,
		Ephemeral: cfg.Tailscale.Ephemeral,
		Logf: func(format string, args ...interface{}) {
			slog.Debug(fmt.Sprintf(format, args...))
		},
	}
}

// registerBridges constructs and registers every enabled bridge instance from
// cfg.Bridges, plus the always-on terminal bridge, resolving each instance's
// token through its configured env var indirection so no credential lives in
// config.json itself.
func registerBridges(mgr *bridge.Manager, cfg *config.Config, store *session.Store, debug bool) {
	for name, inst := range cfg.Bridges.Discord {
		if !inst.Enabled {
			continue
		}
		token, err := config.ResolveEnvKey(inst.EnvKeyName)
		if err != nil {
			slog.Warn("discord bridge: token unresolved, skipping", "instance", name, "err", err)
			continue
		}
		b, err := discord.New(name, inst, token)
		if err != nil {
			slog.Warn("discord bridge: construction failed, skipping", "instance", name, "err", err)
			continue
		}
		mgr.Register(b)
	}

	for name, inst := range cfg.Bridges.Telegram {
		if !inst.Enabled {
			continue
		}
		token, err := config.ResolveEnvKey(inst.EnvKeyName)
		if err != nil {
			slog.Warn("telegram bridge: token unresolved, skipping", "instance", name, "err", err)
			continue
		}
		b, err := telegram.New(name, inst, token)
		if err != nil {
			slog.Warn("telegram bridge: construction failed, skipping", "instance", name, "err", err)
			continue
		}
		mgr.Register(b)
	}

	for name, inst := range cfg.Bridges.WhatsApp {
		if !inst.Enabled {
			continue
		}
		b, err := whatsapp.New(name, inst)
		if err != nil {
			slog.Warn("whatsapp bridge: construction failed, skipping", "instance", name, "err", err)
			continue
		}
		mgr.Register(b)
	}

	mgr.Register(terminal.New(store, debug))
}

// toolsWebFetchConfig returns the web fetch tool's zero-value (default)
// settings. toolsWebSearchConfig resolves the web search settings from
// environment variables, following the same env-var indirection used for
// provider API keys: no credential is persisted in config.json.
func toolsWebFetchConfig(cfg *config.Config) tools.WebFetchConfig {
	return tools.WebFetchConfig{}
}

func toolsWebSearchConfig(cfg *config.Config) tools.WebSearchConfig {
	braveKey := os.Getenv("BRAVE_API_KEY")
	return tools.WebSearchConfig{
		BraveEnabled: braveKey != "",
		BraveAPIKey:  braveKey,
		DDGEnabled:   true,
	}
}

func modelResolver(cfg *config.Config) session.ModelResolver {
	return func() (string, error) {
		chain := cfg.DefaultModelChain()
		for _, ref := range chain {
			return ref, nil
		}
		return "", session.ErrNoModelConfigured
	}
}

func modelValidator(cfg *config.Config) session.ModelValidator {
	return func(model string) error {
		idx := strings.IndexByte(model, '/')
		if idx < 0 {
			return fmt.Errorf("malformed model reference %q (want \"connection/model\")", model)
		}
		if !cfg.ConnectionExists(model[:idx]) {
			return fmt.Errorf("unknown connection %q", model[:idx])
		}
		return nil
	}
}
