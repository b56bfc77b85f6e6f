package tools

import (
	"context"
	"encoding/json"

	"github.com/owliabot/owliabot/pkg/protocol"
)

// Security is the tiered-access declaration on a ToolDefinition.
type Security struct {
	Level            protocol.SecurityLevel
	ConfirmRequired  bool
	MaxValue         float64 // optional cap (e.g. transfer amount) consulted by policy
}

// ToolContext is the borrowed, immutable handle passed into Execute. Tools
// never own the registry or the executor; they only read this context and
// call RequestConfirmation/Signer when their security level demands it.
type ToolContext struct {
	Context              context.Context
	SessionKey            string
	AgentID               string
	Channel               string
	UserID                string
	WorkspacePath         string
	Config                map[string]any

	// RequestConfirmation, when non-nil, lets a tool ask the WriteGate
	// directly for an ad-hoc confirmation beyond the executor's own
	// pipeline (rarely used; most tools rely on the executor's step 5).
	RequestConfirmation func(ctx context.Context, prompt string) (bool, error)

	// Signer, when non-nil, is the tier-1 signer routed in for sign-level
	// tools; nil for read/write tools.
	Signer any
}

// ExecuteFunc is a tool's implementation. It must not panic for recoverable
// errors and must itself respect ctx.Context's deadline/cancellation.
type ExecuteFunc func(ctx ToolContext, args json.RawMessage) *Result

// ToolDefinition is a named, schema-described, security-leveled tool
// registered in the process-wide Registry.
type ToolDefinition struct {
	Name        string
	Description string
	Parameters  json.RawMessage // JSON-Schema object
	Security    Security
	Execute     ExecuteFunc
}
