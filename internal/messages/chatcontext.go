package messages

import "encoding/json"

// ToolParameterSchema is a JSON-Schema object describing a tool's
// arguments, as advertised to providers.
type ToolParameterSchema = json.RawMessage

// ToolSchema is the provider-agnostic shape of one callable tool, built
// from a tools.ToolDefinition by internal/tools without importing it here
// (avoids an import cycle: tools depends on messages, not vice versa).
type ToolSchema struct {
	Name        string              `json:"name"`
	Description string              `json:"description"`
	Parameters  ToolParameterSchema `json:"parameters"`
}

// ChatContext is the provider-agnostic shape consumed by provider
// adapters (internal/providers): a system prompt, the message history,
// and the tool schemas available this turn.
type ChatContext struct {
	SystemPrompt string
	Messages     []Message
	Tools        []ToolSchema
}

// WireMessage is one message in the native chat-context wire shape (a
// plain JSON-serializable struct); provider adapters translate this
// further into their own request bodies. It carries no timestamp.
type WireMessage struct {
	Role        string          `json:"role"`
	Content     string          `json:"content,omitempty"`
	ToolCalls   []ToolCall      `json:"tool_calls,omitempty"`
	ToolResults []ToolResult    `json:"tool_results,omitempty"`
}

type WireContext struct {
	System   string        `json:"system,omitempty"`
	Messages []WireMessage `json:"messages"`
}

// ToWire converts a ChatContext's messages into the wire shape. It
// reorders nothing and drops only each message's Timestamp, which the
// wire shape does not carry: toWire ∘ fromWire is the identity for the
// native context shape.
func ToWire(ctx ChatContext) WireContext {
	out := WireContext{System: ctx.SystemPrompt, Messages: make([]WireMessage, 0, len(ctx.Messages))}
	for _, m := range ctx.Messages {
		out.Messages = append(out.Messages, WireMessage{
			Role:        string(m.Role),
			Content:     m.Content,
			ToolCalls:   m.ToolCalls,
			ToolResults: m.ToolResults,
		})
	}
	return out
}

// FromWire is the inverse of ToWire.
func FromWire(w WireContext) ChatContext {
	ctx := ChatContext{SystemPrompt: w.System, Messages: make([]Message, 0, len(w.Messages))}
	for _, wm := range w.Messages {
		ctx.Messages = append(ctx.Messages, Message{
			Role:        Role(wm.Role),
			Content:     wm.Content,
			ToolCalls:   wm.ToolCalls,
			ToolResults: wm.ToolResults,
		})
	}
	return ctx
}
