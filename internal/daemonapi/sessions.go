package daemonapi

import (
	"encoding/json"
	"net/http"

	"github.com/tamias-daemon/tamias/internal/session"
)

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.store.List())
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.store.GetSession(r.PathValue("id"))
	if !ok {
		writeError(w, http.StatusNotFound, session.ErrSessionNotFound)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

type createSessionRequest struct {
	Model         string `json:"model,omitempty"`
	ChannelID     string `json:"channelId,omitempty"`
	ChannelUserID string `json:"channelUserId,omitempty"`
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&req)
	}

	sess, err := s.store.CreateSession(session.CreateOptions{
		Model:         req.Model,
		ChannelID:     req.ChannelID,
		ChannelUserID: req.ChannelUserID,
	})
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusCreated, sess.ToInfo())
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	if err := s.store.DeleteSession(r.PathValue("id")); err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}
