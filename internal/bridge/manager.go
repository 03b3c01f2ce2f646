package bridge

import (
	"context"
	"log/slog"
	"strings"
	"sync"

	"github.com/tamias-daemon/tamias/internal/bus"
	"github.com/tamias-daemon/tamias/internal/config"
	"github.com/tamias-daemon/tamias/internal/session"
)

// Manager owns every running Bridge instance, routes each session's
// DaemonEvent stream back to its originating bridge (for any channelId
// other than "terminal", registering an event listener that forwards
// each event to the Dispatcher), and builds the onMessage adapter each bridge
// uses to resolve or create sessions.
type Manager struct {
	cfg   *config.Config
	store *session.Store

	mu       sync.RWMutex
	bridges  map[string]Bridge
}

// New creates a Manager bound to the given config and session store.
func New(cfg *config.Config, store *session.Store) *Manager {
	return &Manager{cfg: cfg, store: store, bridges: make(map[string]Bridge)}
}

// Register adds a running bridge instance to the manager, keyed by its
// Name(). Call before Initialize.
func (m *Manager) Register(b Bridge) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bridges[b.Name()] = b
}

// StartAll initializes every registered bridge with the manager's onMessage
// adapter.
func (m *Manager) StartAll(ctx context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for name, b := range m.bridges {
		if err := b.Initialize(ctx, m.onMessage(name)); err != nil {
			return err
		}
	}
	return nil
}

// StopAll destroys every registered bridge.
func (m *Manager) StopAll(ctx context.Context) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for name, b := range m.bridges {
		if err := b.Destroy(ctx); err != nil {
			slog.Warn("bridge destroy failed", "bridge", name, "err", err)
		}
	}
}

// Dispatch is wired to session.Store's onDispatch callback: it subscribes
// to the newly created session's emitter and forwards every event to the
// bridge matching channelID for the lifetime of ctx.
func (m *Manager) Dispatch(ctx context.Context, s *session.Session, channelID string) {
	m.mu.RLock()
	b, ok := m.bridges[channelID]
	m.mu.RUnlock()
	if !ok {
		slog.Warn("dispatch: no bridge registered for channel", "channel", channelID)
		return
	}

	subID := "dispatch:" + s.ID
	ch := s.Emitter.Subscribe(subID, 64)
	channelUserID := s.ChannelUserID

	go func() {
		defer s.Emitter.Unsubscribe(subID)
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-ch:
				if !ok {
					return
				}
				func() {
					defer func() {
						if r := recover(); r != nil {
							slog.Error("bridge event handler panicked", "bridge", channelID, "session", s.ID, "panic", r)
						}
					}()
					b.HandleDaemonEvent(ctx, s.ID, channelUserID, ev)
				}()
			}
		}
	}()
}

// onMessage builds the OnMessage adapter a bridge instance calls once per
// accepted inbound message: resolve the existing session for this sender or
// create one, then enqueue.
func (m *Manager) onMessage(channelID string) OnMessage {
	return func(ctx context.Context, msg bus.InboundMessage) bool {
		sess, ok := m.store.GetSessionForBridge(msg.ChannelID, msg.ChannelUserID)
		if !ok {
			agentID := m.resolveAgentID(msg)
			created, err := m.store.CreateSession(session.CreateOptions{
				ChannelID:     msg.ChannelID,
				ChannelUserID: msg.ChannelUserID,
				ChannelName:   msg.ChannelName,
				AgentID:       agentID,
			})
			if err != nil {
				slog.Warn("bridge: session create failed", "channel", channelID, "err", err)
				return false
			}
			sess = created
		}

		if err := m.store.EnqueueMessage(sess.ID, msg.Content, msg.AuthorName); err != nil {
			slog.Warn("bridge: enqueue failed", "channel", channelID, "session", sess.ID, "err", err)
			return false
		}
		return true
	}
}

// resolveAgentID implements the relevant slice of AgentOrchestrator's
// routing: a bridge instance's fixed AgentID wins, then the inbound message
// is matched against configured bindings, falling back to the default agent.
func (m *Manager) resolveAgentID(msg bus.InboundMessage) string {
	kind, instName, _ := strings.Cut(msg.ChannelID, ":")
	var instances map[string]config.BridgeInstanceConfig
	switch kind {
	case "discord":
		instances = m.cfg.Bridges.Discord
	case "telegram":
		instances = m.cfg.Bridges.Telegram
	case "whatsapp":
		instances = m.cfg.Bridges.WhatsApp
	}
	if inst, ok := instances[instName]; ok && inst.AgentID != "" {
		return inst.AgentID
	}
	for _, b := range m.cfg.Bindings {
		if b.Match.Channel != "" && b.Match.Channel != msg.ChannelID && b.Match.Channel != kind {
			continue
		}
		if b.Match.Peer != nil && b.Match.Peer.ID != "" && b.Match.Peer.ID != msg.ChannelUserID {
			continue
		}
		return b.AgentID
	}
	return m.cfg.ResolveDefaultAgentID()
}
