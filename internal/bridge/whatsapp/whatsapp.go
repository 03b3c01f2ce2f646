// Package whatsapp implements the WhatsApp bridge over a WebSocket
// connection to an external bridge process (e.g. a whatsapp-web.js
// gateway): mode gating and chunk-buffer-then-flush delivery.
package whatsapp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tamias-daemon/tamias/internal/bridge"
	"github.com/tamias-daemon/tamias/internal/bus"
	"github.com/tamias-daemon/tamias/internal/config"
)

const maxMessageLen = 4000

// Bridge connects one configured WhatsApp bridge-process instance to the
// daemon over its WebSocket relay.
type Bridge struct {
	name      string
	cfg       config.BridgeInstanceConfig
	onMessage bridge.OnMessage
	limiter   *bridge.Limiter
	buffers   sync.Map // channelUserId -> *bridge.ChunkBuffer
	chatIDs   sync.Map // channelUserId -> whatsapp chat ID

	mu     sync.Mutex
	conn   *websocket.Conn
	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a WhatsApp bridge instance.
func New(name string, cfg config.BridgeInstanceConfig) (*Bridge, error) {
	if cfg.BridgeURL == "" {
		return nil, fmt.Errorf("whatsapp bridge %q: bridgeUrl is required", name)
	}
	return &Bridge{name: name, cfg: cfg, limiter: bridge.NewLimiter(1, 5)}, nil
}

func (b *Bridge) Name() string { return "whatsapp:" + b.name }

func (b *Bridge) Initialize(ctx context.Context, onMessage bridge.OnMessage) error {
	b.onMessage = onMessage
	b.ctx, b.cancel = context.WithCancel(ctx)

	if err := b.connect(); err != nil {
		slog.Warn("whatsapp bridge initial connect failed, will retry", "instance", b.name, "error", err)
	}
	go b.listenLoop()
	return nil
}

func (b *Bridge) Destroy(_ context.Context) error {
	if b.cancel != nil {
		b.cancel()
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.conn != nil {
		_ = b.conn.Close()
		b.conn = nil
	}
	return nil
}

func (b *Bridge) connect() error {
	dialer := websocket.DefaultDialer
	dialer.HandshakeTimeout = 10 * time.Second

	conn, _, err := dialer.Dial(b.cfg.BridgeURL, nil)
	if err != nil {
		return fmt.Errorf("dial whatsapp bridge %s: %w", b.cfg.BridgeURL, err)
	}
	b.mu.Lock()
	b.conn = conn
	b.mu.Unlock()
	slog.Info("whatsapp bridge connected", "instance", b.name, "url", b.cfg.BridgeURL)
	return nil
}

func (b *Bridge) listenLoop() {
	backoff := time.Second
	for {
		select {
		case <-b.ctx.Done():
			return
		default:
		}

		b.mu.Lock()
		conn := b.conn
		b.mu.Unlock()

		if conn == nil {
			select {
			case <-b.ctx.Done():
				return
			case <-time.After(backoff):
			}
			if err := b.connect(); err != nil {
				backoff = min(backoff*2, 30*time.Second)
				continue
			}
			backoff = time.Second
			continue
		}

		_, data, err := conn.ReadMessage()
		if err != nil {
			slog.Warn("whatsapp read error, reconnecting", "instance", b.name, "error", err)
			b.mu.Lock()
			if b.conn != nil {
				_ = b.conn.Close()
				b.conn = nil
			}
			b.mu.Unlock()
			continue
		}

		var raw map[string]interface{}
		if err := json.Unmarshal(data, &raw); err != nil {
			continue
		}
		if t, _ := raw["type"].(string); t == "message" {
			b.handleIncoming(raw)
		}
	}
}

func (b *Bridge) handleIncoming(raw map[string]interface{}) {
	senderID, _ := raw["from"].(string)
	if senderID == "" {
		return
	}
	chatID, _ := raw["chat"].(string)
	if chatID == "" {
		chatID = senderID
	}
	isGroup := strings.HasSuffix(chatID, "@g.us")

	if !b.chatAllowed(chatID) {
		return
	}

	text, _ := raw["content"].(string)
	if text == "" {
		text = "[empty message]"
	}

	mentioned := isGroup && strings.HasPrefix(strings.TrimSpace(text), "@"+b.name)
	if isGroup && !bridge.Accepts(b.cfg.EffectiveMode(), mentioned) {
		return
	}

	b.chatIDs.Store(senderID, chatID)

	name, _ := raw["from_name"].(string)
	metadata := map[string]string{"whatsapp_chat_id": chatID}
	if id, ok := raw["id"].(string); ok {
		metadata["message_id"] = id
	}

	msg := bus.InboundMessage{
		ChannelID:     b.Name(),
		ChannelUserID: senderID,
		ChannelName:   name,
		AuthorID:      senderID,
		AuthorName:    name,
		Content:       text,
		Metadata:      metadata,
	}

	_ = b.onMessage(context.Background(), msg)
}

func (b *Bridge) chatAllowed(chatID string) bool {
	if len(b.cfg.AllowedChats) == 0 {
		return true
	}
	for _, c := range b.cfg.AllowedChats {
		if c == chatID {
			return true
		}
	}
	return false
}

func (b *Bridge) HandleDaemonEvent(ctx context.Context, sessionID, channelUserID string, ev bus.DaemonEvent) {
	chatIDv, ok := b.chatIDs.Load(channelUserID)
	if !ok {
		return
	}
	chatID := chatIDv.(string)

	switch ev.Type {
	case bus.EventChunk:
		buf, _ := b.buffers.LoadOrStore(channelUserID, &bridge.ChunkBuffer{})
		buf.(*bridge.ChunkBuffer).Write(ev.Text)

	case bus.EventDone:
		b.flush(chatID, channelUserID, ev.Suppressed)

	case bus.EventError:
		if buf, ok := b.buffers.LoadAndDelete(channelUserID); ok {
			buf.(*bridge.ChunkBuffer).Reset()
		}
		_ = b.send(chatID, fmt.Sprintf("⚠️ Error: %s", ev.Message))

	case bus.EventSubagentStatus:
		_ = b.send(chatID, fmt.Sprintf("subagent %s (%s): %s", ev.SubagentID, ev.Task, ev.Status))

	case bus.EventAgentHandoff:
		_ = b.send(chatID, fmt.Sprintf("handed off from %s to %s: %s", ev.FromAgent, ev.ToAgent, ev.Reason))
	}
}

func (b *Bridge) flush(chatID, channelUserID string, suppressed bool) {
	buf, ok := b.buffers.LoadAndDelete(channelUserID)
	if !ok {
		return
	}
	text := buf.(*bridge.ChunkBuffer).String()
	if suppressed || strings.TrimSpace(text) == "" {
		return
	}
	for _, chunk := range bridge.SplitChunks(text, maxMessageLen) {
		if err := b.send(chatID, chunk); err != nil {
			slog.Warn("whatsapp: send failed", "instance", b.name, "error", err)
			return
		}
	}
}

func (b *Bridge) send(chatID, content string) error {
	return b.limiter.Send(context.Background(), func() error {
		b.mu.Lock()
		conn := b.conn
		b.mu.Unlock()
		if conn == nil {
			return fmt.Errorf("whatsapp bridge %q not connected", b.name)
		}
		payload, err := json.Marshal(map[string]interface{}{"type": "message", "to": chatID, "content": content})
		if err != nil {
			return err
		}
		return conn.WriteMessage(websocket.TextMessage, payload)
	})
}
