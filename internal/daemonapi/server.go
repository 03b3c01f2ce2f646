// Package daemonapi implements the Daemon API: the loopback HTTP surface
// for health, session CRUD, chat/session SSE streams, debug introspection,
// and graceful shutdown.
package daemonapi

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/tamias-daemon/tamias/internal/config"
	"github.com/tamias-daemon/tamias/internal/runner"
	"github.com/tamias-daemon/tamias/internal/session"
)

// Version is set at build time via -ldflags, mirroring cmd.Version.
var Version = "dev"

// Server owns the daemon's HTTP mux and the session-event Dispatcher.
type Server struct {
	cfg        *config.Config
	store      *session.Store
	runner     *runner.Runner
	dispatcher *Dispatcher
	execPath   string

	shuttingDown atomic.Bool
}

// New creates a Server bound to the daemon's core components.
func New(cfg *config.Config, store *session.Store, r *runner.Runner, execPath string) *Server {
	return &Server{
		cfg:        cfg,
		store:      store,
		runner:     r,
		dispatcher: NewDispatcher(),
		execPath:   execPath,
	}
}

// Mux builds the http.ServeMux serving every Daemon API route.
func (s *Server) Mux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /debug", s.handleDebug)
	mux.HandleFunc("GET /sessions", s.handleListSessions)
	mux.HandleFunc("POST /sessions", s.handleCreateSession)
	mux.HandleFunc("GET /sessions/{id}", s.handleGetSession)
	mux.HandleFunc("DELETE /sessions/{id}", s.handleDeleteSession)
	mux.HandleFunc("POST /chat", s.handleChat)
	mux.HandleFunc("GET /session/{id}/stream", s.handleSessionStream)
	mux.HandleFunc("DELETE /daemon", s.handleShutdown)
	return mux
}

// ShuttingDown reports whether a graceful shutdown has been requested; the
// runner checks this after each turn step.
func (s *Server) ShuttingDown() bool { return s.shuttingDown.Load() }

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleShutdown(w http.ResponseWriter, r *http.Request) {
	s.shuttingDown.Store(true)
	slog.Info("daemon: graceful shutdown requested")
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// shutdownContext returns a context cancelled once ShuttingDown flips true,
// for handlers that need to abort an in-flight stream early. Not wired to an
// OS signal; the caller's DELETE /daemon handler owns the flag.
func (s *Server) shutdownContext(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	go func() {
		ticker := time.NewTicker(100 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if s.ShuttingDown() {
					cancel()
					return
				}
			}
		}
	}()
	return ctx, cancel
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

// debugConnection mirrors one entry of GET /debug's connections[].
type debugConnection struct {
	Nickname string `json:"nickname"`
	Provider string `json:"provider"`
}

// debugSession mirrors one entry of GET /debug's sessions[].
type debugSession struct {
	ID                      string `json:"id"`
	ConnectionNickname      string `json:"connectionNickname,omitempty"`
	ConnectionExistsInConfig bool  `json:"connectionExistsInConfig"`
}

func (s *Server) handleDebug(w http.ResponseWriter, r *http.Request) {
	conns := s.cfg.AllConnections()
	connsOut := make([]debugConnection, 0, len(conns))
	for _, c := range conns {
		connsOut = append(connsOut, debugConnection{Nickname: c.Nickname, Provider: c.Provider})
	}

	infos := s.store.List()
	sessOut := make([]debugSession, 0, len(infos))
	for _, info := range infos {
		nickname, _ := splitModelRef(info.Model)
		sessOut = append(sessOut, debugSession{
			ID:                       info.ID,
			ConnectionNickname:       nickname,
			ConnectionExistsInConfig: nickname != "" && s.cfg.ConnectionExists(nickname),
		})
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"version":       Version,
		"execPath":      s.execPath,
		"verboseMode":   s.cfg.Debug,
		"connections":   connsOut,
		"defaultModels": s.cfg.DefaultModelChain(),
		"sessions":      sessOut,
	})
}

// splitModelRef parses a "{connectionNickname}/{modelId}" reference for
// debug display only; malformed refs just report no nickname.
func splitModelRef(ref string) (nickname, modelID string) {
	idx := strings.IndexByte(ref, '/')
	if idx < 0 {
		return "", ref
	}
	return ref[:idx], ref[idx+1:]
}
