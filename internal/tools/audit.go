package tools

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// AuditStatus is the terminal status recorded for every tool call.
type AuditStatus string

const (
	StatusSuccess      AuditStatus = "success"
	StatusError        AuditStatus = "error"
	StatusDenied       AuditStatus = "denied"
	StatusToolNotFound AuditStatus = "tool_not_found"
	StatusRateLimited  AuditStatus = "rate_limited"
	StatusCooldown     AuditStatus = "cooldown"
)

// AuditEntry is pre-logged at call start and finalized exactly once.
type AuditEntry struct {
	ID         string
	ToolName   string
	SessionKey string
	AgentID    string
	Channel    string
	UserID     string
	Arguments  string // truncated to 100 chars
	StartedAt  time.Time

	FinishedAt time.Time
	DurationMs int64
	Status     AuditStatus
	Result     string
	Gate       string
	GateDecision string
}

// AuditLogger records one entry per tool call. The in-memory
// implementation here is the default; a durable implementation can wrap
// the infra store's event log (internal/infra) by satisfying the same
// interface shape used by the executor.
type AuditLogger struct {
	mu      sync.Mutex
	entries map[string]*AuditEntry
	sink    func(AuditEntry)
}

// NewAuditLogger builds a logger. sink, if non-nil, receives every
// finalized entry (e.g. to persist it via the infra store).
func NewAuditLogger(sink func(AuditEntry)) *AuditLogger {
	return &AuditLogger{entries: make(map[string]*AuditEntry), sink: sink}
}

// PreLog captures the start of a call and returns its audit id.
func (a *AuditLogger) PreLog(toolName, sessionKey, agentID, channel, userID string, args json.RawMessage) string {
	id := uuid.NewString()
	argStr := string(args)
	if len(argStr) > 100 {
		argStr = argStr[:100]
	}
	entry := &AuditEntry{
		ID:         id,
		ToolName:   toolName,
		SessionKey: sessionKey,
		AgentID:    agentID,
		Channel:    channel,
		UserID:     userID,
		Arguments:  argStr,
		StartedAt:  time.Now(),
	}
	a.mu.Lock()
	a.entries[id] = entry
	a.mu.Unlock()
	return id
}

// Finalize records the terminal status of a call exactly once.
func (a *AuditLogger) Finalize(auditID string, status AuditStatus, durationMs int64, result, gate, gateDecision string) {
	a.mu.Lock()
	entry, ok := a.entries[auditID]
	if ok {
		delete(a.entries, auditID)
	}
	a.mu.Unlock()
	if !ok {
		slog.Warn("tools: finalize called for unknown audit id", "auditId", auditID)
		return
	}
	entry.FinishedAt = time.Now()
	entry.DurationMs = durationMs
	entry.Status = status
	entry.Result = result
	entry.Gate = gate
	entry.GateDecision = gateDecision

	slog.Info("tool call audited",
		"auditId", entry.ID, "tool", entry.ToolName, "status", status,
		"durationMs", durationMs, "sessionKey", entry.SessionKey)

	if a.sink != nil {
		a.sink(*entry)
	}
}
