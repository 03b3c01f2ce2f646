// Package session owns the in-memory Session objects, their durable
// representation on disk, and the (channelId, channelUserId) lookup index.
// It is the SessionStore component of the daemon.
package session

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/tamias-daemon/tamias/internal/bus"
	"github.com/tamias-daemon/tamias/internal/providers"
)

// Subagent status values. Progresses monotonically: running -> completed|failed.
const (
	SubagentStatusRunning   = "running"
	SubagentStatusCompleted = "completed"
	SubagentStatusFailed    = "failed"
)

// MessageJob is one pending inbound message waiting to be folded into a turn.
type MessageJob struct {
	Content     string
	AuthorName  string
	Attachments []bus.Attachment
}

// Session is a conversation: message history, queue, bridge binding, and
// (optionally) agent and sub-agent binding. Every field here is mirrored by
// the on-disk snapshot except Queue, Processing, and Emitter, which are
// in-memory-only and are rebuilt fresh whenever a session is loaded.
type Session struct {
	ID        string    `json:"id"`
	Name      string    `json:"name,omitempty"`
	Summary   string    `json:"summary,omitempty"`
	Model     string    `json:"model"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`

	Messages []providers.Message `json:"messages"`

	ChannelID     string `json:"channelId,omitempty"`
	ChannelUserID string `json:"channelUserId,omitempty"`
	ChannelName   string `json:"channelName,omitempty"`

	ParentSessionID        string     `json:"parentSessionId,omitempty"`
	IsSubagent             bool       `json:"isSubagent,omitempty"`
	Task                   string     `json:"task,omitempty"`
	TaskSlug               string     `json:"taskSlug,omitempty"`
	SubagentStatus         string     `json:"subagentStatus,omitempty"`
	SpawnedAt              *time.Time `json:"spawnedAt,omitempty"`
	CompletedAt            *time.Time `json:"completedAt,omitempty"`
	Progress               string     `json:"progress,omitempty"`
	SubagentCallbackCalled bool       `json:"subagentCallbackCalled,omitempty"`

	AgentID   string `json:"agentId,omitempty"`
	AgentSlug string `json:"agentSlug,omitempty"`
	AgentDir  string `json:"agentDir,omitempty"`

	ProjectSlug string `json:"projectSlug,omitempty"`
	TenantID    string `json:"tenantId,omitempty"`

	// Active marks whether this session still receives bridge input and
	// index lookups. A handed-off session is set inactive, not deleted.
	Active bool `json:"active"`

	mu         sync.Mutex
	Queue      []MessageJob `json:"-"`
	Processing bool         `json:"-"`
	Emitter    *bus.Emitter `json:"-"`
}

// Lock/Unlock guard Queue and Processing mutation: a lightweight
// per-session lock protects queue and processing state.
func (s *Session) Lock()   { s.mu.Lock() }
func (s *Session) Unlock() { s.mu.Unlock() }

// PushJob appends a job to the queue. Caller must hold the session lock.
func (s *Session) PushJob(job MessageJob) {
	s.Queue = append(s.Queue, job)
}

// PopJob removes and returns the head of the queue. Caller must hold the lock.
func (s *Session) PopJob() (MessageJob, bool) {
	if len(s.Queue) == 0 {
		return MessageJob{}, false
	}
	job := s.Queue[0]
	s.Queue = s.Queue[1:]
	return job, true
}

// NewID generates an opaque short session identifier: prefix "sess_" plus a
// random hex suffix (not a UUID).
func NewID() string {
	buf := make([]byte, 8)
	_, _ = rand.Read(buf)
	return "sess_" + hex.EncodeToString(buf)
}

func newSession(id string) *Session {
	now := time.Now()
	return &Session{
		ID:        id,
		CreatedAt: now,
		UpdatedAt: now,
		Messages:  []providers.Message{},
		Active:    true,
		Emitter:   bus.NewEmitter(),
	}
}

// Info is the lightweight descriptor returned by List/GET /sessions.
type Info struct {
	ID              string  `json:"id"`
	Name            string  `json:"name,omitempty"`
	Summary         string  `json:"summary,omitempty"`
	Model           string  `json:"model"`
	AgentID         string  `json:"agentId,omitempty"`
	ChannelID       string  `json:"channelId,omitempty"`
	QueueLength     int     `json:"queueLength"`
	UpdatedAt       time.Time `json:"updatedAt"`
	IsSubagent      bool    `json:"isSubagent,omitempty"`
	ParentSessionID string  `json:"parentSessionId,omitempty"`
	Task            string  `json:"task,omitempty"`
	SubagentStatus  string  `json:"subagentStatus,omitempty"`
	SpawnedAt       *time.Time `json:"spawnedAt,omitempty"`
	Progress        string  `json:"progress,omitempty"`
}

func (s *Session) info() Info {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Info{
		ID: s.ID, Name: s.Name, Summary: s.Summary, Model: s.Model,
		AgentID: s.AgentID, ChannelID: s.ChannelID,
		QueueLength: len(s.Queue), UpdatedAt: s.UpdatedAt,
		IsSubagent: s.IsSubagent, ParentSessionID: s.ParentSessionID,
		Task: s.Task, SubagentStatus: s.SubagentStatus,
		SpawnedAt: s.SpawnedAt, Progress: s.Progress,
	}
}

// ToInfo returns this session's lightweight descriptor. Exported for callers
// outside the package (e.g. tool implementations) that already hold a
// *Session and need its Info shape without going through the Store.
func (s *Session) ToInfo() Info { return s.info() }

func channelIndexKey(channelID, channelUserID string) string {
	return fmt.Sprintf("%s\x00%s", channelID, channelUserID)
}
