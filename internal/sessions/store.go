package sessions

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Session is the lifecycle record bound to one SessionKey. A session is
// rotated, not deleted, by /new: the key
// persists but SessionID changes and the prior transcript is cleared.
type Session struct {
	SessionID             string    `json:"sessionId"`
	Key                   string    `json:"key"`
	Channel               string    `json:"channel,omitempty"`
	CreatedAt             time.Time `json:"createdAt"`
	LastActiveAt          time.Time `json:"lastActiveAt"`
	MessageCount          int       `json:"messageCount"`
	PrimaryModelRefOverride string  `json:"primaryModelRefOverride,omitempty"`
}

// Meta is session-creation metadata supplied by the caller on first
// inbound for a key.
type Meta struct {
	Channel     string
	ChatType    string
	GroupID     string
	DisplayName string
}

// Manager owns the key → current-Session mapping. It never owns message
// content; that lives in the Transcript store keyed by SessionID.
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	storage  string // optional directory for JSON snapshots, empty = in-memory only
}

// NewManager builds a Manager, optionally backed by a directory of JSON
// session snapshots (one file per key) loaded at startup.
func NewManager(storage string) *Manager {
	m := &Manager{sessions: make(map[string]*Session), storage: storage}
	if storage != "" {
		os.MkdirAll(storage, 0o755)
		m.loadAll()
	}
	return m
}

// GetOrCreate returns the current session for key, minting a fresh
// SessionID if key has never been seen.
func (m *Manager) GetOrCreate(key string, meta Meta) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[key]; ok {
		return s
	}
	now := time.Now()
	s := &Session{
		SessionID:    uuid.NewString(),
		Key:          key,
		Channel:      meta.Channel,
		CreatedAt:    now,
		LastActiveAt: now,
	}
	m.sessions[key] = s
	return s
}

// Get returns the current session for key without creating one.
func (m *Manager) Get(key string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[key]
	return s, ok
}

// Rotate mints a new SessionID for key, keeping the key itself. The caller
// is responsible for clearing the prior SessionID's transcript (the
// pipeline does this via Transcript.Clear before calling Rotate's return
// value's SessionID is put to use). After Rotate returns, a subsequent
// GetOrCreate(key, ...) is guaranteed to observe the new SessionID.
func (m *Manager) Rotate(key string) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	s, ok := m.sessions[key]
	if !ok {
		s = &Session{Key: key, CreatedAt: now}
		m.sessions[key] = s
	}
	s.SessionID = uuid.NewString()
	s.LastActiveAt = now
	s.MessageCount = 0
	return s
}

// Touch bumps LastActiveAt and MessageCount after an append.
func (m *Manager) Touch(key string, messageCount int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[key]; ok {
		s.LastActiveAt = time.Now()
		s.MessageCount = messageCount
	}
}

// SetModelOverride pins a session to a specific model regardless of the
// agent's default.
func (m *Manager) SetModelOverride(key, modelRef string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[key]; ok {
		s.PrimaryModelRefOverride = modelRef
	}
}

// List returns every session whose key carries the given agent prefix
// ("" = all agents).
func (m *Manager) List(agentID string) []Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	prefix := ""
	if agentID != "" {
		prefix = "agent:" + agentID + ":"
	}
	var out []Session
	for key, s := range m.sessions {
		if prefix != "" && !strings.HasPrefix(key, prefix) {
			continue
		}
		out = append(out, *s)
	}
	return out
}

// Save persists one session's metadata to disk atomically (temp file,
// fsync, rename), mirroring the atomic-write idiom used for OAuth
// credentials.
func (m *Manager) Save(key string) error {
	if m.storage == "" {
		return nil
	}
	m.mu.RLock()
	s, ok := m.sessions[key]
	if !ok {
		m.mu.RUnlock()
		return nil
	}
	snapshot := *s
	m.mu.RUnlock()

	data, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return err
	}

	filename := sanitizeFilename(key)
	path := filepath.Join(m.storage, filename+".json")

	tmp, err := os.CreateTemp(m.storage, "session-*.tmp")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	cleanup := true
	defer func() {
		if cleanup {
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

	if err := os.Rename(tmpPath, path); err != nil {
		return err
	}
	cleanup = false
	return nil
}

func (m *Manager) loadAll() {
	entries, err := os.ReadDir(m.storage)
	if err != nil {
		return
	}
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".json" {
			continue
		}
		data, err := os.ReadFile(filepath.Join(m.storage, e.Name()))
		if err != nil {
			continue
		}
		var s Session
		if err := json.Unmarshal(data, &s); err != nil {
			continue
		}
		m.sessions[s.Key] = &s
	}
}

func sanitizeFilename(key string) string {
	return strings.ReplaceAll(key, ":", "_")
}
