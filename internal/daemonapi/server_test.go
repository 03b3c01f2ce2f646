package daemonapi

import (
	"bufio"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/tamias-daemon/tamias/internal/bus"
	"github.com/tamias-daemon/tamias/internal/config"
	"github.com/tamias-daemon/tamias/internal/session"
)

func newTestServer(t *testing.T) (*Server, *session.Store) {
	t.Helper()
	cfg := config.Default()
	store := session.New(t.TempDir(), func() (string, error) { return "local/test-model", nil }, nil)
	return New(cfg, store, nil, "/bin/tamias"), store
}

func TestHandleHealth(t *testing.T) {
	srv, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	srv.Mux().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"ok":true`) {
		t.Fatalf("unexpected body: %s", rec.Body.String())
	}
}

func TestHandleCreateAndGetSession(t *testing.T) {
	srv, _ := newTestServer(t)

	createReq := httptest.NewRequest(http.MethodPost, "/sessions", strings.NewReader(`{}`))
	createRec := httptest.NewRecorder()
	srv.Mux().ServeHTTP(createRec, createReq)
	if createRec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", createRec.Code, createRec.Body.String())
	}

	missingReq := httptest.NewRequest(http.MethodGet, "/sessions/sess_doesnotexist", nil)
	missingRec := httptest.NewRecorder()
	srv.Mux().ServeHTTP(missingRec, missingReq)
	if missingRec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown session, got %d", missingRec.Code)
	}
}

func TestHandleSessionStreamForwardsEmittedEvents(t *testing.T) {
	srv, store := newTestServer(t)
	sess, err := store.CreateSession(session.CreateOptions{})
	if err != nil {
		t.Fatalf("create session: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	req := httptest.NewRequest(http.MethodGet, "/session/"+sess.ID+"/stream", nil).WithContext(ctx)
	rec := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		srv.Mux().ServeHTTP(rec, req)
		close(done)
	}()

	// Give the handler a moment to subscribe before publishing.
	time.Sleep(20 * time.Millisecond)
	sess.Emitter.Publish(bus.StartEvent(sess.ID))

	time.Sleep(20 * time.Millisecond)
	cancel()
	<-done

	reader := bufio.NewReader(strings.NewReader(rec.Body.String()))
	line, _ := reader.ReadString('\n')
	if !strings.HasPrefix(line, "event: start") {
		t.Fatalf("expected a start event line first, got %q", line)
	}
}
