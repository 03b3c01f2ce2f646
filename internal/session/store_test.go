package session

import (
	"path/filepath"
	"testing"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	root := t.TempDir()
	return New(root, func() (string, error) { return "openai/gpt-4o", nil }, nil)
}

func TestCreateAndGetSession(t *testing.T) {
	st := testStore(t)
	s, err := st.CreateSession(CreateOptions{ChannelID: "discord", ChannelUserID: "u1"})
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if s.Model != "openai/gpt-4o" {
		t.Fatalf("expected resolved default model, got %q", s.Model)
	}
	got, ok := st.GetSession(s.ID)
	if !ok || got.ID != s.ID {
		t.Fatalf("GetSession did not return the created session")
	}
	byBridge, ok := st.GetSessionForBridge("discord", "u1")
	if !ok || byBridge.ID != s.ID {
		t.Fatalf("GetSessionForBridge did not resolve the index")
	}
}

func TestCreateSessionNoModelConfigured(t *testing.T) {
	root := t.TempDir()
	st := New(root, nil, nil)
	if _, err := st.CreateSession(CreateOptions{}); err != ErrNoModelConfigured {
		t.Fatalf("expected ErrNoModelConfigured, got %v", err)
	}
}

func TestEnqueueMessageNotifiesRunner(t *testing.T) {
	st := testStore(t)
	s, _ := st.CreateSession(CreateOptions{})

	notified := make(chan string, 1)
	st.SetOnEnqueue(func(s *Session) { notified <- s.ID })

	if err := st.EnqueueMessage(s.ID, "hello", ""); err != nil {
		t.Fatalf("EnqueueMessage: %v", err)
	}

	select {
	case id := <-notified:
		if id != s.ID {
			t.Fatalf("notified wrong session id: %s", id)
		}
	default:
		t.Fatal("onEnqueue callback was not invoked")
	}

	s.Lock()
	job, ok := s.PopJob()
	s.Unlock()
	if !ok || job.Content != "hello" {
		t.Fatalf("expected queued job with content 'hello', got %+v ok=%v", job, ok)
	}
}

func TestOnlyOneChannelIndexEntryAtATime(t *testing.T) {
	st := testStore(t)
	a, _ := st.CreateSession(CreateOptions{ChannelID: "discord", ChannelUserID: "u1"})
	b, _ := st.CreateSession(CreateOptions{})

	old := st.RebindChannel("discord", "u1", b.ID)
	if old != a.ID {
		t.Fatalf("expected old session id %s, got %s", a.ID, old)
	}

	got, ok := st.GetSessionForBridge("discord", "u1")
	if !ok || got.ID != b.ID {
		t.Fatalf("expected index to point at new session %s, got %+v", b.ID, got)
	}

	oldSession, _ := st.GetSession(a.ID)
	if oldSession.Active {
		t.Fatal("old session should be marked inactive after rebind")
	}
}

func TestSaveAndReloadRoundTrip(t *testing.T) {
	root := t.TempDir()
	st := New(root, func() (string, error) { return "openai/gpt-4o", nil }, nil)
	s, _ := st.CreateSession(CreateOptions{ChannelID: "discord", ChannelUserID: "u1"})
	s.Name = "test session"
	s.Summary = "a summary"

	if err := st.Save(s); err != nil {
		t.Fatalf("Save: %v", err)
	}

	reloaded := New(root, func() (string, error) { return "openai/gpt-4o", nil }, nil)
	got, ok := reloaded.GetSession(s.ID)
	if !ok {
		t.Fatal("session not found after reload")
	}
	if got.Name != s.Name || got.Summary != s.Summary || got.Model != s.Model {
		t.Fatalf("round trip mismatch: got %+v", got)
	}
	if _, ok := reloaded.GetSessionForBridge("discord", "u1"); !ok {
		t.Fatal("channel index not rebuilt on reload")
	}

	expectedDir := filepath.Join(root, "projects", "default", s.CreatedAt.Format("2006-01"))
	if _, err := filepath.Glob(filepath.Join(expectedDir, s.ID+".json")); err != nil {
		t.Fatalf("unexpected glob error: %v", err)
	}
}
