package bridge

import (
	"context"
	"testing"

	"github.com/tamias-daemon/tamias/internal/bus"
	"github.com/tamias-daemon/tamias/internal/config"
)

type fakeReactions struct {
	calls []string
}

func (f *fakeReactions) SetReaction(ctx context.Context, msgKey string, state ReactionState) {
	f.calls = append(f.calls, msgKey+":"+string(state))
}

func TestQueueAcceptFirstMessageGetsEye(t *testing.T) {
	reactions := &fakeReactions{}
	q := NewQueue(reactions)

	q.Accept(context.Background(), "user1", "msg1", bus.InboundMessage{})

	if len(reactions.calls) != 1 || reactions.calls[0] != "msg1:eye" {
		t.Fatalf("expected msg1 to get the eye reaction, got %v", reactions.calls)
	}
}

func TestQueueAcceptSecondMessageGetsHourglassThenPromotedOnRelease(t *testing.T) {
	reactions := &fakeReactions{}
	q := NewQueue(reactions)

	q.Accept(context.Background(), "user1", "msg1", bus.InboundMessage{})
	q.Accept(context.Background(), "user1", "msg2", bus.InboundMessage{})

	if reactions.calls[len(reactions.calls)-1] != "msg2:hourglass" {
		t.Fatalf("expected msg2 to get the hourglass reaction, got %v", reactions.calls)
	}

	promoted, ok := q.Release(context.Background(), "user1")
	if !ok || promoted != "msg2" {
		t.Fatalf("expected msg2 to be promoted on release, got %q, %v", promoted, ok)
	}

	last := reactions.calls[len(reactions.calls)-1]
	if last != "msg2:eye" {
		t.Fatalf("expected msg2 to be promoted to eye, got %v", reactions.calls)
	}
}

func TestQueueReleaseWithNothingPendingReturnsFalse(t *testing.T) {
	q := NewQueue(nil)
	q.Accept(context.Background(), "user1", "msg1", bus.InboundMessage{})

	_, ok := q.Release(context.Background(), "user1")
	if ok {
		t.Fatal("expected no promotion when nothing is queued behind the in-flight message")
	}
}

func TestSplitChunksPrefersNewlineBoundary(t *testing.T) {
	text := "line one\nline two\nline three"
	chunks := SplitChunks(text, 12)

	for _, c := range chunks {
		if len(c) > 12 {
			t.Fatalf("chunk exceeds limit: %q (%d bytes)", c, len(c))
		}
	}

	joined := ""
	for _, c := range chunks {
		joined += c
	}
	if joined != text {
		t.Fatalf("chunks don't reassemble to the original text: %q", joined)
	}
}

func TestSplitChunksHardCutsWhenNoNearbyNewline(t *testing.T) {
	text := "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"
	chunks := SplitChunks(text, 10)

	if len(chunks) != 5 {
		t.Fatalf("expected 5 ten-byte chunks, got %d: %v", len(chunks), chunks)
	}
	for _, c := range chunks {
		if len(c) != 10 {
			t.Fatalf("expected a hard 10-byte cut, got %q", c)
		}
	}
}

func TestChunkBuffer(t *testing.T) {
	var buf ChunkBuffer
	if !buf.Empty() {
		t.Fatal("new ChunkBuffer should be empty")
	}
	buf.Write("hello ")
	buf.Write("world")
	if buf.Empty() {
		t.Fatal("ChunkBuffer with writes should not be empty")
	}
	if buf.String() != "hello world" {
		t.Fatalf("unexpected buffer content: %q", buf.String())
	}
	buf.Reset()
	if !buf.Empty() {
		t.Fatal("ChunkBuffer should be empty after Reset")
	}
}

func TestIsMentioned(t *testing.T) {
	if !IsMentioned("bot1", []string{"user2", "bot1"}) {
		t.Fatal("expected bot1 to be found among mention IDs")
	}
	if IsMentioned("bot1", []string{"user2"}) {
		t.Fatal("expected bot1 to not be found")
	}
}

func TestIsMentionedByUsername(t *testing.T) {
	if !IsMentionedByUsername("tamiasbot", "hey @tamiasbot can you help") {
		t.Fatal("expected username mention to be found")
	}
	if IsMentionedByUsername("tamiasbot", "no mention here") {
		t.Fatal("expected no match")
	}
	if IsMentionedByUsername("", "anything @tamiasbot") {
		t.Fatal("expected empty username to never match")
	}
}

func TestAcceptsModeGating(t *testing.T) {
	cases := []struct {
		mode      config.BridgeMode
		mentioned bool
		want      bool
	}{
		{config.BridgeModeFull, false, true},
		{config.BridgeModeFull, true, true},
		{config.BridgeModeListenOnly, true, false},
		{config.BridgeModeListenOnly, false, false},
		{config.BridgeModeMentionOnly, true, true},
		{config.BridgeModeMentionOnly, false, false},
	}
	for _, c := range cases {
		got := Accepts(c.mode, c.mentioned)
		if got != c.want {
			t.Errorf("Accepts(%v, %v) = %v, want %v", c.mode, c.mentioned, got, c.want)
		}
	}
}
