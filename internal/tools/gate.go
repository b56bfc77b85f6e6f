package tools

import "context"

// ConfirmRequest is what the executor asks a WriteGate to mediate for one
// write/sign tool call awaiting human confirmation.
type ConfirmRequest struct {
	ToolName   string
	Channel    string
	SessionKey string
	FromUserID string
	Prompt     string
}

// ConfirmDecision is the WriteGate's answer.
type ConfirmDecision struct {
	Approved     bool
	GateDecision string // e.g. "approved", "rejected", "timeout", "not_in_allowlist", "confirmation_disabled_allow"
}

// WriteGate is the narrow interface the executor depends on for step 5 of
// its pipeline (confirmation). The concrete out-of-band implementation
// lives in internal/writegate and is handed in at wiring time; the
// executor never imports channel adapters directly.
type WriteGate interface {
	Check(ctx context.Context, req ConfirmRequest) (ConfirmDecision, error)
}
