// Package terminal implements the terminal bridge: a stdin line reader and
// stdout streamer in one process, the only bridge that delivers chunk
// events live instead of buffering them to "done".
package terminal

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"

	"github.com/mattn/go-runewidth"

	"github.com/tamias-daemon/tamias/internal/bridge"
	"github.com/tamias-daemon/tamias/internal/bus"
	"github.com/tamias-daemon/tamias/internal/session"
)

// ChannelID and ChannelUserID are fixed: a single local operator session
// per process, matching the Store's "never auto-dispatch for terminal"
// carve-out.
const (
	ChannelID     = "terminal"
	ChannelUserID = "local"
)

const toolPreviewWidth = 100

// Bridge is the terminal adapter. Unlike the other bridges it holds the
// Store directly and manages its own emitter subscription, since the Store
// never wires a dispatcher listener for the terminal channel.
type Bridge struct {
	store      *session.Store
	debug      bool
	in         io.Reader
	out        io.Writer
	onMessage  bridge.OnMessage
	subscribed bool
}

// New creates the terminal bridge over os.Stdin/os.Stdout.
func New(store *session.Store, debug bool) *Bridge {
	return &Bridge{store: store, debug: debug, in: os.Stdin, out: os.Stdout}
}

func (b *Bridge) Name() string { return ChannelID }

// Initialize starts the stdin read loop. It returns immediately; reading
// continues on a background goroutine until ctx is cancelled.
func (b *Bridge) Initialize(ctx context.Context, onMessage bridge.OnMessage) error {
	b.onMessage = onMessage
	go b.readLoop(ctx)
	return nil
}

func (b *Bridge) readLoop(ctx context.Context) {
	scanner := bufio.NewScanner(b.in)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	fmt.Fprint(b.out, "> ")
	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return
		default:
		}

		line := scanner.Text()
		if line == "" {
			fmt.Fprint(b.out, "> ")
			continue
		}

		msg := bus.InboundMessage{
			ChannelID:     ChannelID,
			ChannelUserID: ChannelUserID,
			ChannelName:   "terminal",
			Content:       line,
		}

		accepted := b.onMessage(ctx, msg)
		if !accepted {
			fmt.Fprintln(b.out, "[message rejected]")
			fmt.Fprint(b.out, "> ")
			continue
		}

		if !b.subscribed {
			if sess, ok := b.store.GetSessionForBridge(ChannelID, ChannelUserID); ok {
				b.subscribe(ctx, sess)
			}
		}
	}
}

func (b *Bridge) subscribe(ctx context.Context, sess *session.Session) {
	b.subscribed = true
	ch := sess.Emitter.Subscribe(ChannelUserID, 64)
	go func() {
		defer sess.Emitter.Unsubscribe(ChannelUserID)
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-ch:
				if !ok {
					return
				}
				b.render(ev)
			}
		}
	}()
}

// HandleDaemonEvent satisfies the Bridge interface; the terminal bridge
// renders events from its own subscription goroutine instead, so this is
// only exercised if a caller drives it directly (e.g. tests).
func (b *Bridge) HandleDaemonEvent(_ context.Context, _, _ string, ev bus.DaemonEvent) {
	b.render(ev)
}

func (b *Bridge) render(ev bus.DaemonEvent) {
	switch ev.Type {
	case bus.EventChunk:
		fmt.Fprint(b.out, ev.Text)
	case bus.EventToolCall:
		if b.debug {
			fmt.Fprintf(b.out, "\n[tool: %s(%s)]\n", ev.ToolName, runewidth.Truncate(ev.ToolInput, toolPreviewWidth, "..."))
		}
	case bus.EventToolResult:
		if b.debug {
			fmt.Fprintf(b.out, "[result: %s]\n", runewidth.Truncate(ev.ToolOutput, toolPreviewWidth, "..."))
		}
	case bus.EventDone:
		fmt.Fprint(b.out, "\n> ")
	case bus.EventError:
		fmt.Fprintf(b.out, "\n[error] %s\n> ", ev.Message)
	case bus.EventSubagentStatus:
		fmt.Fprintf(b.out, "\n[subagent %s] %s: %s\n", ev.SubagentID, ev.Status, ev.Task)
	case bus.EventAgentHandoff:
		fmt.Fprintf(b.out, "\n[handoff %s -> %s] %s\n", ev.FromAgent, ev.ToAgent, ev.Reason)
	case bus.EventFile:
		fmt.Fprintf(b.out, "\n[file: %s (%s, %d bytes)]\n", ev.FileName, ev.MimeType, len(ev.Buffer))
	}
}

// Destroy is a no-op: stdin can't be cancelled cleanly, so the read loop
// exits only when the process does or ctx passed to Initialize is done.
func (b *Bridge) Destroy(_ context.Context) error { return nil }
