package config

// SessionsConfig configures the transcript store, mirroring
// internal/sessions.Manager's single storage-directory constructor.
type SessionsConfig struct {
	Storage        string `json:"storage,omitempty"` // directory for per-session transcript JSON (default "~/.owliabot/sessions")
	MaxHistoryTurns int   `json:"max_history_turns,omitempty"` // default 200
}
