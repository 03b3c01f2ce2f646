package daemonapi

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/google/uuid"

	"github.com/tamias-daemon/tamias/internal/bus"
	"github.com/tamias-daemon/tamias/internal/session"
)

// handleChat implements POST /chat?sessionId=...: enqueue one message and
// stream the resulting DaemonEvents back over SSE until done/error.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("sessionId")
	sess, ok := s.store.GetSession(sessionID)
	if !ok {
		writeError(w, http.StatusNotFound, session.ErrSessionNotFound)
		return
	}

	var body struct {
		Message    string `json:"message"`
		AuthorName string `json:"authorName,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, fmt.Errorf("streaming unsupported"))
		return
	}

	subID := "chat:" + uuid.NewString()
	ch := sess.Emitter.Subscribe(subID, 64)
	s.dispatcher.Register(sessionID, subID)
	defer func() {
		sess.Emitter.Unsubscribe(subID)
		s.dispatcher.Unregister(sessionID, subID)
	}()

	prepareSSE(w)

	if err := s.store.EnqueueMessage(sessionID, body.Message, body.AuthorName); err != nil {
		writeSSEEvent(w, flusher, bus.ErrorEvent(err.Error()))
		return
	}

	forwardUntilDone(ch, func(ev bus.DaemonEvent) bool {
		writeSSEEvent(w, flusher, ev)
		return true
	})
}

// handleSessionStream implements GET /session/{id}/stream: an SSE stream of
// every subsequent event on a session, with no enqueue side effect.
func (s *Server) handleSessionStream(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("id")
	sess, ok := s.store.GetSession(sessionID)
	if !ok {
		writeError(w, http.StatusNotFound, session.ErrSessionNotFound)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, fmt.Errorf("streaming unsupported"))
		return
	}

	subID := "stream:" + uuid.NewString()
	ch := sess.Emitter.Subscribe(subID, 64)
	s.dispatcher.Register(sessionID, subID)
	defer func() {
		sess.Emitter.Unsubscribe(subID)
		s.dispatcher.Unregister(sessionID, subID)
	}()

	prepareSSE(w)

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			writeSSEEvent(w, flusher, ev)
		}
	}
}

func prepareSSE(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
}

func writeSSEEvent(w http.ResponseWriter, flusher http.Flusher, ev bus.DaemonEvent) {
	data, err := json.Marshal(ev)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, data)
	flusher.Flush()
}
