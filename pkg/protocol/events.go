// Package protocol defines the wire-level constants shared between the
// gateway core and its channel adapters, HTTP clients, and MCP callers.
package protocol

// ProtocolVersion is bumped whenever a breaking change is made to the
// HTTP envelope or the event log schema.
const ProtocolVersion = 1

// Event types recorded in the infra store's event log (internal/infra)
// and surfaced to devices via GET /events/poll.
const (
	EventMessageProcessed = "message.processed"
	EventRateLimit        = "rate_limit"
	EventToolCall         = "tool.call"
	EventToolResult       = "tool.result"
	EventRunStarted       = "run.started"
	EventRunCompleted     = "run.completed"
	EventRunFailed        = "run.failed"
	EventDevicePaired     = "device.paired"
	EventDeviceRevoked    = "device.revoked"
)

// Agent-loop telemetry event types recorded in the loop's RunResult.Events
// (internal/agent). These are never required for correctness; no channel
// carries them while the loop runs.
const (
	LoopEventTurnStart       = "turn_start"
	LoopEventToolExecStart   = "tool_execution_start"
	LoopEventToolExecEnd     = "tool_execution_end"
	LoopEventMessageStart    = "message_start"
)
