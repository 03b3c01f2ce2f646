// Package bridge defines the transport-adapter contract and the pieces
// every concrete bridge shares: mode gating, per-channel reaction
// queueing, and chunk-buffer-then-flush delivery.
package bridge

import (
	"context"
	"strings"

	"github.com/tamias-daemon/tamias/internal/bus"
	"github.com/tamias-daemon/tamias/internal/config"
)

// OnMessage is supplied by the daemon bootstrap; a bridge calls it exactly
// once per inbound message it decides to accept. The bool result means
// true for accepted and enqueued, false to tell the bridge it should
// roll back any optimistic UI hint it set.
type OnMessage func(ctx context.Context, msg bus.InboundMessage) bool

// Bridge is the capability set every transport adapter implements.
type Bridge interface {
	// Name identifies the bridge instance, e.g. "discord:main".
	Name() string

	// Initialize begins listening for inbound events and stores onMessage
	// for later calls. Must return once listening has started.
	Initialize(ctx context.Context, onMessage OnMessage) error

	// HandleDaemonEvent renders one outgoing DaemonEvent for the given
	// session/channel pair back onto the transport.
	HandleDaemonEvent(ctx context.Context, sessionID, channelUserID string, ev bus.DaemonEvent)

	// Destroy shuts the bridge down.
	Destroy(ctx context.Context) error
}

// ReactionState is the emoji state a queueing bridge shows on an inbound
// message while it's waiting or being actively answered.
type ReactionState string

const (
	ReactionEye      ReactionState = "eye"      // 👀 — at the head of the queue, not yet started
	ReactionHourglass ReactionState = "hourglass" // ⏳ — queued behind a currently-processing message
	ReactionNone     ReactionState = ""
)

// ReactionSetter is implemented by bridges that can show a per-message
// status reaction (Discord, Telegram).
type ReactionSetter interface {
	SetReaction(ctx context.Context, msgKey string, state ReactionState)
}

// pendingMessage is one accepted-but-not-yet-started inbound message sitting
// in a per-channelUserId queue.
type pendingMessage struct {
	key string // bridge-specific message identifier, for reaction lookup
	msg bus.InboundMessage
}

// Queue implements a per-channelUserId FIFO plus single currentContext: at
// most one message per sender is "in flight" at a time, with the rest
// waiting their turn and showing the hourglass reaction.
type Queue struct {
	reactions ReactionSetter
	pending   map[string][]pendingMessage // channelUserId -> FIFO
	current   map[string]string           // channelUserId -> in-flight message key
}

// NewQueue creates an empty per-channel queue. reactions may be nil for
// bridges that don't support message reactions.
func NewQueue(reactions ReactionSetter) *Queue {
	return &Queue{
		reactions: reactions,
		pending:   make(map[string][]pendingMessage),
		current:   make(map[string]string),
	}
}

// Accept records msg as accepted for channelUserId, keyed by msgKey (e.g.
// the platform message ID). It sets the eye reaction if nothing is
// currently in flight for this sender, hourglass otherwise.
func (q *Queue) Accept(ctx context.Context, channelUserID, msgKey string, msg bus.InboundMessage) {
	if _, busy := q.current[channelUserID]; busy {
		q.pending[channelUserID] = append(q.pending[channelUserID], pendingMessage{key: msgKey, msg: msg})
		q.setReaction(ctx, msgKey, ReactionHourglass)
		return
	}
	q.current[channelUserID] = msgKey
	q.setReaction(ctx, msgKey, ReactionEye)
}

// Release clears the in-flight slot for channelUserId (called on done/
// error) and promotes the next queued message, if any, to the eye state.
// It returns the promoted message key and whether one was promoted.
func (q *Queue) Release(ctx context.Context, channelUserID string) (string, bool) {
	if key, ok := q.current[channelUserID]; ok {
		q.setReaction(ctx, key, ReactionNone)
	}
	delete(q.current, channelUserID)

	fifo := q.pending[channelUserID]
	if len(fifo) == 0 {
		return "", false
	}
	next := fifo[0]
	q.pending[channelUserID] = fifo[1:]
	q.current[channelUserID] = next.key
	q.setReaction(ctx, next.key, ReactionEye)
	return next.key, true
}

func (q *Queue) setReaction(ctx context.Context, key string, state ReactionState) {
	if q.reactions == nil || key == "" {
		return
	}
	q.reactions.SetReaction(ctx, key, state)
}

// ChunkBuffer accumulates streamed chunk text for delivery on "done":
// bridges don't deliver per-chunk, they flush once.
type ChunkBuffer struct {
	b strings.Builder
}

func (c *ChunkBuffer) Write(text string) { c.b.WriteString(text) }
func (c *ChunkBuffer) String() string    { return c.b.String() }
func (c *ChunkBuffer) Reset()            { c.b.Reset() }
func (c *ChunkBuffer) Empty() bool       { return c.b.Len() == 0 }

// SplitChunks splits text at newline boundaries into pieces no longer than
// limit, preferring to cut on a "\n" near the limit over a hard cut.
func SplitChunks(text string, limit int) []string {
	var out []string
	for len(text) > 0 {
		if len(text) <= limit {
			out = append(out, text)
			break
		}
		cut := limit
		if idx := strings.LastIndexByte(text[:limit], '\n'); idx > limit/2 {
			cut = idx + 1
		}
		out = append(out, text[:cut])
		text = text[cut:]
	}
	return out
}

// IsMentioned reports whether botID appears among mentionIDs, used by
// mention-only mode gating for platforms that expose a structured mention
// list (Discord).
func IsMentioned(botID string, mentionIDs []string) bool {
	for _, id := range mentionIDs {
		if id == botID {
			return true
		}
	}
	return false
}

// IsMentionedByUsername reports whether a bot's @username literally appears
// in text, used by mention-only gating for platforms that only expose raw
// text (Telegram).
func IsMentionedByUsername(botUsername, text string) bool {
	if botUsername == "" {
		return false
	}
	return strings.Contains(text, "@"+botUsername)
}

// Accepts applies the mode gating rule given whether the inbound message
// was mentioned/addressed (ignored for "full" and "listen-only").
func Accepts(mode config.BridgeMode, mentioned bool) bool {
	switch mode {
	case config.BridgeModeListenOnly:
		return false
	case config.BridgeModeMentionOnly:
		return mentioned
	default: // full
		return true
	}
}
