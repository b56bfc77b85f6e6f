package sessions

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"github.com/owliabot/owliabot/internal/messages"
)

// Transcript is the append-only per-sessionId message log. Optionally
// persisted as JSON-lines, one message per line.
type Transcript struct {
	mu      sync.RWMutex
	byID    map[string][]messages.Message
	storage string // optional directory, one <sessionId>.jsonl file per session
}

// NewTranscript builds a Transcript, optionally backed by a directory of
// per-session JSON-lines files.
func NewTranscript(storage string) *Transcript {
	if storage != "" {
		os.MkdirAll(storage, 0o755)
	}
	return &Transcript{byID: make(map[string][]messages.Message), storage: storage}
}

// Append adds one message to sessionId's transcript and, if persistence is
// enabled, appends its JSON encoding as a line to disk.
func (t *Transcript) Append(sessionID string, msg messages.Message) error {
	t.mu.Lock()
	t.byID[sessionID] = append(t.byID[sessionID], msg)
	t.mu.Unlock()

	if t.storage == "" {
		return nil
	}
	line, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	f, err := os.OpenFile(filepath.Join(t.storage, sessionID+".jsonl"), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = f.Write(append(line, '\n'))
	return err
}

// Clear removes sessionId's transcript from memory and disk.
func (t *Transcript) Clear(sessionID string) error {
	t.mu.Lock()
	delete(t.byID, sessionID)
	t.mu.Unlock()
	if t.storage == "" {
		return nil
	}
	err := os.Remove(filepath.Join(t.storage, sessionID+".jsonl"))
	if err != nil && os.IsNotExist(err) {
		return nil
	}
	return err
}

// GetHistory returns up to maxTurns turns of history, oldest first. A turn
// ends at each assistant message; an incomplete trailing turn (messages
// after the last assistant message) is included in full.
func (t *Transcript) GetHistory(sessionID string, maxTurns int) []messages.Message {
	t.mu.RLock()
	all := append([]messages.Message{}, t.byID[sessionID]...)
	t.mu.RUnlock()

	if maxTurns <= 0 || len(all) == 0 {
		return all
	}

	turnBoundaries := make([]int, 0) // index just past each completed turn
	for i, m := range all {
		if m.Role == messages.RoleAssistant {
			turnBoundaries = append(turnBoundaries, i+1)
		}
	}
	if len(turnBoundaries) <= maxTurns {
		return all
	}
	startTurn := len(turnBoundaries) - maxTurns
	start := turnBoundaries[startTurn-1]
	return all[start:]
}

// loadFromDisk reads a session's JSON-lines transcript into memory.
// Nothing calls it: GetHistory reads only the in-memory copy that Append
// keeps current, so transcripts persisted by an earlier process are not
// loaded back.
func (t *Transcript) loadFromDisk(sessionID string) ([]messages.Message, error) {
	path := filepath.Join(t.storage, sessionID+".jsonl")
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	var out []messages.Message
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		var m messages.Message
		if err := json.Unmarshal(scanner.Bytes(), &m); err != nil {
			continue
		}
		out = append(out, m)
	}
	return out, scanner.Err()
}
