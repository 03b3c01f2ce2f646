package session

import (
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/tamias-daemon/tamias/internal/bus"
	"github.com/tamias-daemon/tamias/internal/providers"
)

// Sentinel errors surfaced to callers as DaemonEvent{error}; never fatal
// to the daemon process itself.
var (
	ErrNoModelConfigured = errors.New("no model configured")
	ErrUnknownConnection = errors.New("unknown connection")
	ErrSessionNotFound   = errors.New("session not found")
	ErrAgentDisabled     = errors.New("target agent is disabled or unknown")
)

// ModelResolver picks the model string for a new session when the caller
// does not specify one explicitly, following the global default-model chain
// and connection table. It is implemented in cmd/tamias (modelResolver) on top
// of internal/config; the store depends only on this function type to avoid
// an import cycle.
type ModelResolver func() (model string, err error)

// ModelValidator confirms that a "{nickname}/{modelId}" string refers to a
// configured connection.
type ModelValidator func(model string) error

// CreateOptions is the argument bag for creating a new session.
type CreateOptions struct {
	Model           string
	ChannelID       string
	ChannelUserID   string
	ChannelName     string
	ParentSessionID string
	IsSubagent      bool
	Task            string
	AgentID         string
	AgentSlug       string
	AgentDir        string
	ProjectSlug     string
	TenantID        string
}

// Store is the SessionStore: it owns every Session, the on-disk snapshot
// under <root>/projects/<slug>/<YYYY-MM>/<id>.json, and the
// (channelId, channelUserId) -> id index.
type Store struct {
	mu          sync.RWMutex
	sessions    map[string]*Session
	byChannel   map[string]string
	root        string
	resolveModel ModelResolver
	validateModel ModelValidator

	// onEnqueue is invoked after EnqueueMessage appends a job; the runner
	// registers itself here to avoid session -> runner -> session cycles.
	onEnqueue func(*Session)
	// onDispatch forwards every emitted event to the Dispatcher for
	// non-terminal (non-"terminal") channel sessions.
	onDispatch func(*Session, string)
}

// New creates a store rooted at root (typically ~/.tamias or a tenant root)
// and loads every persisted session from disk, rebuilding the index.
func New(root string, resolveModel ModelResolver, validateModel ModelValidator) *Store {
	st := &Store{
		sessions:      make(map[string]*Session),
		byChannel:     make(map[string]string),
		root:          root,
		resolveModel:  resolveModel,
		validateModel: validateModel,
	}
	st.loadAll()
	return st
}

// SetOnEnqueue registers the callback invoked after EnqueueMessage.
func (st *Store) SetOnEnqueue(fn func(*Session)) { st.onEnqueue = fn }

// SetOnDispatch registers the callback that forwards emitted events for a
// non-terminal session to the Dispatcher.
func (st *Store) SetOnDispatch(fn func(*Session, string)) { st.onDispatch = fn }

// GetSession looks up a session by id.
func (st *Store) GetSession(id string) (*Session, bool) {
	st.mu.RLock()
	defer st.mu.RUnlock()
	s, ok := st.sessions[id]
	return s, ok
}

// GetSessionForBridge resolves the session currently bound to a
// (channelId, channelUserId) pair.
func (st *Store) GetSessionForBridge(channelID, channelUserID string) (*Session, bool) {
	st.mu.RLock()
	defer st.mu.RUnlock()
	id, ok := st.byChannel[channelIndexKey(channelID, channelUserID)]
	if !ok {
		return nil, false
	}
	s, ok := st.sessions[id]
	return s, ok
}

// CreateSession creates and registers a new session.
func (st *Store) CreateSession(opts CreateOptions) (*Session, error) {
	model := opts.Model
	if model == "" {
		if st.resolveModel == nil {
			return nil, ErrNoModelConfigured
		}
		m, err := st.resolveModel()
		if err != nil {
			return nil, err
		}
		model = m
	}
	if st.validateModel != nil {
		if err := st.validateModel(model); err != nil {
			return nil, err
		}
	}

	id := NewID()
	s := newSession(id)
	s.Model = model
	s.ChannelID = opts.ChannelID
	s.ChannelUserID = opts.ChannelUserID
	s.ChannelName = opts.ChannelName
	s.ParentSessionID = opts.ParentSessionID
	s.IsSubagent = opts.IsSubagent
	s.Task = opts.Task
	s.TaskSlug = slugify(opts.Task)
	s.AgentID = opts.AgentID
	s.AgentSlug = opts.AgentSlug
	s.AgentDir = opts.AgentDir
	s.ProjectSlug = opts.ProjectSlug
	s.TenantID = opts.TenantID
	if opts.IsSubagent {
		s.SubagentStatus = SubagentStatusRunning
		now := time.Now()
		s.SpawnedAt = &now
	}

	st.mu.Lock()
	st.sessions[id] = s
	if opts.ChannelID != "" {
		st.byChannel[channelIndexKey(opts.ChannelID, opts.ChannelUserID)] = id
	}
	st.mu.Unlock()

	if opts.ChannelID != "" && opts.ChannelID != "terminal" && st.onDispatch != nil {
		st.onDispatch(s, id)
	}

	slog.Info("session created", "id", id, "model", model, "channel", opts.ChannelID, "subagent", opts.IsSubagent)
	return s, nil
}

// DeleteSession removes a session from the index and memory, then persists a
// final snapshot.
func (st *Store) DeleteSession(id string) error {
	st.mu.Lock()
	s, ok := st.sessions[id]
	if !ok {
		st.mu.Unlock()
		return ErrSessionNotFound
	}
	delete(st.sessions, id)
	for k, v := range st.byChannel {
		if v == id {
			delete(st.byChannel, k)
		}
	}
	st.mu.Unlock()

	s.Emitter.Close()
	return st.Save(s)
}

// List returns lightweight descriptors for every known session.
func (st *Store) List() []Info {
	st.mu.RLock()
	defer st.mu.RUnlock()
	out := make([]Info, 0, len(st.sessions))
	for _, s := range st.sessions {
		out = append(out, s.info())
	}
	return out
}

// EnqueueMessage appends a MessageJob to a session's queue and notifies the
// runner. It returns immediately.
func (st *Store) EnqueueMessage(sessionID, content, authorName string) error {
	s, ok := st.GetSession(sessionID)
	if !ok {
		return ErrSessionNotFound
	}
	s.Lock()
	s.PushJob(MessageJob{Content: content, AuthorName: authorName})
	s.Unlock()

	if st.onEnqueue != nil {
		st.onEnqueue(s)
	}
	return nil
}

// RebindChannel atomically moves a (channelId, channelUserId) index entry
// from whatever session currently holds it to newSessionID, marking the old
// session inactive. Used by AgentOrchestrator.handoffSession.
func (st *Store) RebindChannel(channelID, channelUserID, newSessionID string) (oldSessionID string) {
	st.mu.Lock()
	defer st.mu.Unlock()
	key := channelIndexKey(channelID, channelUserID)
	oldID := st.byChannel[key]
	if old, ok := st.sessions[oldID]; ok {
		old.mu.Lock()
		old.Active = false
		old.mu.Unlock()
	}
	st.byChannel[key] = newSessionID
	return oldID
}

// Save persists a session snapshot atomically (write-tmp, rename).
func (st *Store) Save(s *Session) error {
	s.mu.Lock()
	snapshot := Session{
		ID: s.ID, Name: s.Name, Summary: s.Summary, Model: s.Model,
		CreatedAt: s.CreatedAt, UpdatedAt: s.UpdatedAt,
		Messages:               append([]providers.Message{}, s.Messages...),
		ChannelID:               s.ChannelID,
		ChannelUserID:           s.ChannelUserID,
		ChannelName:             s.ChannelName,
		ParentSessionID:         s.ParentSessionID,
		IsSubagent:              s.IsSubagent,
		Task:                    s.Task,
		TaskSlug:                s.TaskSlug,
		SubagentStatus:          s.SubagentStatus,
		SpawnedAt:               s.SpawnedAt,
		CompletedAt:             s.CompletedAt,
		Progress:                s.Progress,
		SubagentCallbackCalled:  s.SubagentCallbackCalled,
		AgentID:                 s.AgentID,
		AgentSlug:               s.AgentSlug,
		AgentDir:                s.AgentDir,
		ProjectSlug:             s.ProjectSlug,
		TenantID:                s.TenantID,
		Active:                  s.Active,
	}
	s.mu.Unlock()

	dir := st.projectDir(snapshot.ProjectSlug, snapshot.CreatedAt)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		slog.Warn("session persist: mkdir failed", "id", s.ID, "err", err)
		return err
	}

	data, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return err
	}

	final := filepath.Join(dir, snapshot.ID+".json")
	tmp, err := os.CreateTemp(dir, "session-*.tmp")
	if err != nil {
		slog.Warn("session persist: tmp create failed", "id", s.ID, "err", err)
		return err
	}
	tmpPath := tmp.Name()
	ok := false
	defer func() {
		if !ok {
			os.Remove(tmpPath)
		}
	}()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	tmp.Close()
	if err := os.Rename(tmpPath, final); err != nil {
		return err
	}
	ok = true
	return nil
}

func (st *Store) projectDir(projectSlug string, created time.Time) string {
	slug := projectSlug
	if slug == "" {
		slug = "default"
	}
	return filepath.Join(st.root, "projects", slug, created.Format("2006-01"))
}

// loadAll walks <root>/projects/*/*/*.json at startup. Missing or malformed
// files are logged and skipped — never fatal.
func (st *Store) loadAll() {
	base := filepath.Join(st.root, "projects")
	entries, err := os.ReadDir(base)
	if err != nil {
		return
	}
	for _, slugEntry := range entries {
		if !slugEntry.IsDir() {
			continue
		}
		slugDir := filepath.Join(base, slugEntry.Name())
		months, err := os.ReadDir(slugDir)
		if err != nil {
			continue
		}
		for _, monthEntry := range months {
			if !monthEntry.IsDir() {
				continue
			}
			monthDir := filepath.Join(slugDir, monthEntry.Name())
			files, err := os.ReadDir(monthDir)
			if err != nil {
				continue
			}
			for _, f := range files {
				if f.IsDir() || filepath.Ext(f.Name()) != ".json" {
					continue
				}
				st.loadOne(filepath.Join(monthDir, f.Name()))
			}
		}
	}
	slog.Info("sessions loaded", "count", len(st.sessions))
}

func (st *Store) loadOne(path string) {
	data, err := os.ReadFile(path)
	if err != nil {
		slog.Warn("session load: read failed", "path", path, "err", err)
		return
	}
	var s Session
	if err := json.Unmarshal(data, &s); err != nil {
		slog.Warn("session load: malformed json, skipping", "path", path, "err", err)
		return
	}
	s.Emitter = bus.NewEmitter()
	st.sessions[s.ID] = &s
	if s.ChannelID != "" && s.Active {
		st.byChannel[channelIndexKey(s.ChannelID, s.ChannelUserID)] = s.ID
	}
}

func slugify(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return ""
	}
	var b strings.Builder
	lastDash := false
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z' || r >= '0' && r <= '9':
			b.WriteRune(r)
			lastDash = false
		default:
			if !lastDash {
				b.WriteByte('-')
				lastDash = true
			}
		}
	}
	out := strings.Trim(b.String(), "-")
	if len(out) > 40 {
		out = out[:40]
	}
	return out
}
