// Package discord implements the Discord bridge over the gateway API:
// mode gating, per-channel queueing, and chunk-buffer-then-flush delivery.
package discord

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/tamias-daemon/tamias/internal/bridge"
	"github.com/tamias-daemon/tamias/internal/bridge/typing"
	"github.com/tamias-daemon/tamias/internal/bus"
	"github.com/tamias-daemon/tamias/internal/config"
)

const (
	maxMessageLen       = 1900
	typingKeepalive     = 7 * time.Second
	typingMaxDuration   = 60 * time.Second
)

// Bridge connects one configured Discord bot instance to the daemon.
type Bridge struct {
	name      string
	cfg       config.BridgeInstanceConfig
	session   *discordgo.Session
	botUserID string
	onMessage bridge.OnMessage
	limiter   *bridge.Limiter
	queue     *bridge.Queue

	chatIDs      sync.Map // channelUserId -> discord channel ID
	msgChannels  sync.Map // discord message ID -> discord channel ID (for reaction lookups)
	placeholders sync.Map // channelUserId -> placeholder message ID
	typingCtrls  sync.Map // channelUserId -> *typing.Controller
	buffers      sync.Map // channelUserId -> *bridge.ChunkBuffer
}

// New creates a Discord bridge instance. token is resolved by the caller
// from cfg.EnvKeyName.
func New(name string, cfg config.BridgeInstanceConfig, token string) (*Bridge, error) {
	sess, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("create discord session: %w", err)
	}
	sess.Identify.Intents = discordgo.IntentsGuildMessages |
		discordgo.IntentsDirectMessages |
		discordgo.IntentsMessageContent

	b := &Bridge{
		name:    name,
		cfg:     cfg,
		session: sess,
		limiter: bridge.NewLimiter(1, 5),
	}
	b.queue = bridge.NewQueue(b)
	return b, nil
}

func (b *Bridge) Name() string { return "discord:" + b.name }

func (b *Bridge) Initialize(ctx context.Context, onMessage bridge.OnMessage) error {
	b.onMessage = onMessage
	b.session.AddHandler(b.handleMessage)

	if err := b.session.Open(); err != nil {
		return fmt.Errorf("open discord session: %w", err)
	}
	user, err := b.session.User("@me")
	if err != nil {
		_ = b.session.Close()
		return fmt.Errorf("fetch discord bot identity: %w", err)
	}
	b.botUserID = user.ID
	slog.Info("discord bridge connected", "instance", b.name, "username", user.Username)
	return nil
}

func (b *Bridge) Destroy(_ context.Context) error {
	return b.session.Close()
}

func (b *Bridge) handleMessage(_ *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author == nil || m.Author.ID == b.botUserID || m.Author.Bot {
		return
	}
	if !b.channelAllowed(m.ChannelID) {
		return
	}

	mentioned := false
	for _, u := range m.Mentions {
		if u.ID == b.botUserID {
			mentioned = true
			break
		}
	}
	if !bridge.Accepts(b.cfg.EffectiveMode(), mentioned) {
		return
	}

	senderID := m.Author.ID
	content := m.Content
	for _, att := range m.Attachments {
		if content != "" {
			content += "\n"
		}
		content += fmt.Sprintf("[attachment: %s]", att.URL)
	}
	if content == "" {
		content = "[empty message]"
	}

	b.chatIDs.Store(senderID, m.ChannelID)
	b.msgChannels.Store(m.ID, m.ChannelID)

	msg := bus.InboundMessage{
		ChannelID:     b.Name(),
		ChannelUserID: senderID,
		ChannelName:   resolveDisplayName(m),
		AuthorID:      senderID,
		AuthorName:    resolveDisplayName(m),
		Content:       content,
		Metadata:      map[string]string{"discord_channel_id": m.ChannelID, "message_id": m.ID},
	}

	b.queue.Accept(context.Background(), senderID, m.ID, msg)

	if accepted := b.onMessage(context.Background(), msg); !accepted {
		b.queue.Release(context.Background(), senderID)
	}
}

func (b *Bridge) channelAllowed(channelID string) bool {
	if len(b.cfg.AllowedChannels) == 0 {
		return true
	}
	for _, c := range b.cfg.AllowedChannels {
		if c == channelID {
			return true
		}
	}
	return false
}

// SetReaction implements bridge.ReactionSetter. msgKey is the Discord
// message ID the reaction was set/cleared against.
func (b *Bridge) SetReaction(_ context.Context, msgKey string, state bridge.ReactionState) {
	chatID, ok := b.msgChannels.Load(msgKey)
	if !ok {
		return
	}
	if state == bridge.ReactionNone {
		_ = b.session.MessageReactionsRemoveAll(chatID.(string), msgKey)
		return
	}
	emoji := "👀"
	if state == bridge.ReactionHourglass {
		emoji = "⏳"
	}
	_ = b.session.MessageReactionAdd(chatID.(string), msgKey, emoji)
}

func (b *Bridge) HandleDaemonEvent(ctx context.Context, sessionID, channelUserID string, ev bus.DaemonEvent) {
	chatIDv, ok := b.chatIDs.Load(channelUserID)
	if !ok {
		return
	}
	chatID := chatIDv.(string)

	switch ev.Type {
	case bus.EventStart:
		ctrl := typing.New(typing.Options{
			MaxDuration:       typingMaxDuration,
			KeepaliveInterval: typingKeepalive,
			StartFn:           func() error { return b.session.ChannelTyping(chatID) },
		})
		if prev, ok := b.typingCtrls.LoadAndDelete(channelUserID); ok {
			prev.(*typing.Controller).Stop()
		}
		b.typingCtrls.Store(channelUserID, ctrl)
		ctrl.Start()

	case bus.EventChunk:
		buf, _ := b.buffers.LoadOrStore(channelUserID, &bridge.ChunkBuffer{})
		buf.(*bridge.ChunkBuffer).Write(ev.Text)

	case bus.EventDone:
		b.stopTyping(channelUserID)
		b.flush(chatID, channelUserID, ev.Suppressed)
		b.queue.Release(ctx, channelUserID)

	case bus.EventError:
		b.stopTyping(channelUserID)
		if buf, ok := b.buffers.LoadAndDelete(channelUserID); ok {
			buf.(*bridge.ChunkBuffer).Reset()
		}
		_ = b.send(chatID, fmt.Sprintf("⚠️ Error: %s", ev.Message))
		b.queue.Release(ctx, channelUserID)

	case bus.EventFile:
		_, _ = b.session.ChannelFileSend(chatID, ev.FileName, strings.NewReader(string(ev.Buffer)))

	case bus.EventSubagentStatus:
		_ = b.send(chatID, fmt.Sprintf("subagent `%s` (%s): %s", ev.SubagentID, ev.Task, ev.Status))

	case bus.EventAgentHandoff:
		_ = b.send(chatID, fmt.Sprintf("handed off from `%s` to `%s`: %s", ev.FromAgent, ev.ToAgent, ev.Reason))
	}
}

func (b *Bridge) stopTyping(channelUserID string) {
	if ctrl, ok := b.typingCtrls.LoadAndDelete(channelUserID); ok {
		ctrl.(*typing.Controller).Stop()
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
			slog.Warn("discord: send failed", "instance", b.name, "error", err)
			return
		}
	}
}

func (b *Bridge) send(chatID, content string) error {
	ctx := context.Background()
	return b.limiter.Send(ctx, func() error {
		_, err := b.session.ChannelMessageSend(chatID, content)
		if err != nil && strings.Contains(err.Error(), "429") {
			return &bridge.RateLimited{}
		}
		return err
	})
}

func resolveDisplayName(m *discordgo.MessageCreate) string {
	if m.Member != nil && m.Member.Nick != "" {
		return m.Member.Nick
	}
	if m.Author.GlobalName != "" {
		return m.Author.GlobalName
	}
	return m.Author.Username
}
