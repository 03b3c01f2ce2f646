// Package telegram implements the Telegram bridge via long polling: mode
// gating, per-chat queueing, and chunk-buffer-then-flush delivery.
package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"

	"github.com/tamias-daemon/tamias/internal/bridge"
	"github.com/tamias-daemon/tamias/internal/bridge/typing"
	"github.com/tamias-daemon/tamias/internal/bus"
	"github.com/tamias-daemon/tamias/internal/config"
)

const (
	maxMessageLen     = 4000
	typingKeepalive   = 4 * time.Second
	typingMaxDuration = 60 * time.Second
)

// Bridge connects one configured Telegram bot instance to the daemon.
type Bridge struct {
	name         string
	cfg          config.BridgeInstanceConfig
	bot          *telego.Bot
	botUsername  string
	onMessage    bridge.OnMessage
	limiter      *bridge.Limiter
	queue        *bridge.Queue
	pollCancel   context.CancelFunc
	pollDone     chan struct{}

	chatIDs      sync.Map // channelUserId -> int64 chat ID
	placeholders sync.Map // channelUserId -> telegram message ID
	typingCtrls  sync.Map // channelUserId -> *typing.Controller
	buffers      sync.Map // channelUserId -> *bridge.ChunkBuffer
}

// New creates a Telegram bridge instance. token is resolved by the caller
// from cfg.EnvKeyName.
func New(name string, cfg config.BridgeInstanceConfig, token string) (*Bridge, error) {
	bot, err := telego.NewBot(token)
	if err != nil {
		return nil, fmt.Errorf("create telegram bot: %w", err)
	}
	b := &Bridge{
		name:    name,
		cfg:     cfg,
		bot:     bot,
		limiter: bridge.NewLimiter(1, 5),
	}
	b.queue = bridge.NewQueue(b)
	return b, nil
}

func (b *Bridge) Name() string { return "telegram:" + b.name }

func (b *Bridge) Initialize(ctx context.Context, onMessage bridge.OnMessage) error {
	b.onMessage = onMessage

	me, err := b.bot.GetMe(ctx)
	if err != nil {
		return fmt.Errorf("fetch telegram bot identity: %w", err)
	}
	b.botUsername = me.Username

	pollCtx, cancel := context.WithCancel(ctx)
	b.pollCancel = cancel
	b.pollDone = make(chan struct{})

	updates, err := b.bot.UpdatesViaLongPolling(pollCtx, &telego.GetUpdatesParams{Timeout: 30})
	if err != nil {
		cancel()
		return fmt.Errorf("start telegram long polling: %w", err)
	}

	go func() {
		defer close(b.pollDone)
		for {
			select {
			case <-pollCtx.Done():
				return
			case update, ok := <-updates:
				if !ok {
					return
				}
				if update.Message != nil {
					b.handleMessage(pollCtx, update.Message)
				}
			}
		}
	}()

	slog.Info("telegram bridge connected", "instance", b.name, "username", b.botUsername)
	return nil
}

func (b *Bridge) Destroy(_ context.Context) error {
	if b.pollCancel != nil {
		b.pollCancel()
	}
	if b.pollDone != nil {
		select {
		case <-b.pollDone:
		case <-time.After(10 * time.Second):
		}
	}
	return nil
}

func (b *Bridge) handleMessage(ctx context.Context, m *telego.Message) {
	if m.From == nil || m.From.IsBot {
		return
	}
	chatID := m.Chat.ID
	chatIDStr := strconv.FormatInt(chatID, 10)
	if !b.chatAllowed(chatIDStr) {
		return
	}

	isGroup := m.Chat.Type == telego.ChatTypeGroup || m.Chat.Type == telego.ChatTypeSupergroup
	mentioned := bridge.IsMentionedByUsername(b.botUsername, m.Text)
	if isGroup && !bridge.Accepts(b.cfg.EffectiveMode(), mentioned) {
		return
	}

	senderID := strconv.FormatInt(m.From.ID, 10)
	content := m.Text
	if content == "" {
		content = m.Caption
	}
	if content == "" {
		content = "[empty message]"
	}

	b.chatIDs.Store(senderID, chatID)

	msg := bus.InboundMessage{
		ChannelID:     b.Name(),
		ChannelUserID: senderID,
		ChannelName:   displayName(m),
		AuthorID:      senderID,
		AuthorName:    displayName(m),
		Content:       content,
		Metadata:      map[string]string{"telegram_chat_id": chatIDStr, "message_id": strconv.Itoa(m.MessageID)},
	}

	b.queue.Accept(ctx, senderID, strconv.Itoa(m.MessageID), msg)

	if accepted := b.onMessage(ctx, msg); !accepted {
		b.queue.Release(ctx, senderID)
	}
}

func (b *Bridge) chatAllowed(chatIDStr string) bool {
	if len(b.cfg.AllowedChats) == 0 {
		return true
	}
	for _, c := range b.cfg.AllowedChats {
		if c == chatIDStr {
			return true
		}
	}
	return false
}

// SetReaction implements bridge.ReactionSetter as a no-op: Telegram messages
// get no eye/hourglass status reaction and no placeholder is updated; the
// queue still orders messages per sender.
func (b *Bridge) SetReaction(context.Context, string, bridge.ReactionState) {}

func (b *Bridge) HandleDaemonEvent(ctx context.Context, sessionID, channelUserID string, ev bus.DaemonEvent) {
	chatIDv, ok := b.chatIDs.Load(channelUserID)
	if !ok {
		return
	}
	chatID := chatIDv.(int64)
	chatIDObj := tu.ID(chatID)

	switch ev.Type {
	case bus.EventStart:
		ctrl := typing.New(typing.Options{
			MaxDuration:       typingMaxDuration,
			KeepaliveInterval: typingKeepalive,
			StartFn: func() error {
				return b.bot.SendChatAction(ctx, tu.ChatAction(chatIDObj, telego.ChatActionTyping))
			},
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
		b.flush(ctx, chatIDObj, channelUserID, ev.Suppressed)
		b.queue.Release(ctx, channelUserID)

	case bus.EventError:
		b.stopTyping(channelUserID)
		if buf, ok := b.buffers.LoadAndDelete(channelUserID); ok {
			buf.(*bridge.ChunkBuffer).Reset()
		}
		b.sendMarkdown(ctx, chatIDObj, escapeMarkdownV2(fmt.Sprintf("⚠️ Error: %s", ev.Message)))
		b.queue.Release(ctx, channelUserID)

	case bus.EventSubagentStatus:
		text := fmt.Sprintf("subagent `%s` \\(%s\\): %s", escapeMarkdownV2(ev.SubagentID), escapeMarkdownV2(ev.Task), escapeMarkdownV2(ev.Status))
		b.sendMarkdown(ctx, chatIDObj, text)

	case bus.EventAgentHandoff:
		text := fmt.Sprintf("handed off from `%s` to `%s`: %s", escapeMarkdownV2(ev.FromAgent), escapeMarkdownV2(ev.ToAgent), escapeMarkdownV2(ev.Reason))
		b.sendMarkdown(ctx, chatIDObj, text)
	}
}

func (b *Bridge) stopTyping(channelUserID string) {
	if ctrl, ok := b.typingCtrls.LoadAndDelete(channelUserID); ok {
		ctrl.(*typing.Controller).Stop()
	}
}

func (b *Bridge) flush(ctx context.Context, chatIDObj telego.ChatID, channelUserID string, suppressed bool) {
	buf, ok := b.buffers.LoadAndDelete(channelUserID)
	if !ok {
		return
	}
	text := buf.(*bridge.ChunkBuffer).String()
	if suppressed || strings.TrimSpace(text) == "" {
		return
	}
	for _, chunk := range bridge.SplitChunks(text, maxMessageLen) {
		if err := b.sendPlain(ctx, chatIDObj, chunk); err != nil {
			slog.Warn("telegram: send failed", "instance", b.name, "error", err)
			return
		}
	}
}

// sendMarkdown attempts MarkdownV2 delivery, falling back to plain text on
// a parser error.
func (b *Bridge) sendMarkdown(ctx context.Context, chatIDObj telego.ChatID, text string) {
	msg := tu.Message(chatIDObj, text).WithParseMode(telego.ModeMarkdownV2)
	if err := b.limiter.Send(ctx, func() error {
		_, sendErr := b.bot.SendMessage(ctx, msg)
		return classifyErr(sendErr)
	}); err != nil {
		_ = b.sendPlain(ctx, chatIDObj, text)
	}
}

func (b *Bridge) sendPlain(ctx context.Context, chatIDObj telego.ChatID, text string) error {
	return b.limiter.Send(ctx, func() error {
		_, err := b.bot.SendMessage(ctx, tu.Message(chatIDObj, text))
		return classifyErr(err)
	})
}

func classifyErr(err error) error {
	if err != nil && strings.Contains(err.Error(), "429") {
		return &bridge.RateLimited{}
	}
	return err
}

func displayName(m *telego.Message) string {
	if m.From.Username != "" {
		return m.From.Username
	}
	return m.From.FirstName
}

var markdownV2Escaper = strings.NewReplacer(
	"_", "\\_", "*", "\\*", "[", "\\[", "]", "\\]", "(", "\\(", ")", "\\)",
	"~", "\\~", "`", "\\`", ">", "\\>", "#", "\\#", "+", "\\+", "-", "\\-",
	"=", "\\=", "|", "\\|", "{", "\\{", "}", "\\}", ".", "\\.", "!", "\\!",
)

func escapeMarkdownV2(s string) string { return markdownV2Escaper.Replace(s) }
