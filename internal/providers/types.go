// Package providers implements the provider runner: native API,
// OAuth-refreshable, OpenAI-compatible, and sub-process CLI
// provider variants behind one interface, plus the failover Runner that
// sequences them.
package providers

import (
	"context"

	"github.com/owliabot/owliabot/internal/messages"
)

// FinishReason is the normalized stop reason every provider variant maps
// its native response onto.
type FinishReason string

const (
	FinishStop    FinishReason = "stop"
	FinishToolUse FinishReason = "toolUse"
	FinishLength  FinishReason = "length"
	FinishAborted FinishReason = "aborted"
	FinishError   FinishReason = "error"
)

// Usage tracks token consumption for accounting on the session.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// ChatRequest is the input to one provider call.
type ChatRequest struct {
	SystemPrompt string
	Messages     []messages.Message
	Tools        []messages.ToolSchema
	Model        string
	MaxTokens    int
	Temperature  float64
	Reasoning    string

	// CLISessionID carries the caller's CLI session id. CLIRunner does not
	// read it; it resumes from its own internal-session-key map instead.
	CLISessionID  string
	IsFirstMessage bool
}

// ChatResponse is a normalized provider result.
type ChatResponse struct {
	Content      string
	ToolCalls    []messages.ToolCall
	FinishReason FinishReason
	Usage        *Usage
	Truncated    bool
	ErrorMessage string

	// Provider/Model echo which concrete backend actually served the
	// request, filled in by the Runner after a provider succeeds.
	Provider string
	Model    string

	// CLISessionID is populated by CLI-backed providers so later turns on
	// the same logical session can resume it.
	CLISessionID string
}

// StreamChunk is one piece of a streamed response.
type StreamChunk struct {
	Content  string
	Thinking string
	Done     bool
}

// Provider is the interface the HTTP-backed variants (native,
// OpenAI-compatible) implement. CLI entries do not implement it; the
// Runner runs them through CLIRunner.
type Provider interface {
	Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error)
	ChatStream(ctx context.Context, req ChatRequest, onChunk func(StreamChunk)) (*ChatResponse, error)
	Name() string
	DefaultModel() string
}

// Kind distinguishes the three provider variants; it drives which branch
// of the Runner's dispatch is used.
type Kind string

const (
	KindNative         Kind = "native"
	KindOpenAICompat   Kind = "openai-compatible"
	KindCLI            Kind = "cli"
)

// Config describes one entry in the ordered failover list.
type Config struct {
	ID       string
	Kind     Kind
	Model    string
	BaseURL  string
	APIKey   string
	Priority int // lower = preferred
}
