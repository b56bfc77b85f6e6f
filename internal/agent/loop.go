// Package agent implements the agentic loop: the alternation of LLM
// turns and tool executions that drives one inbound message to a
// terminal assistant reply.
package agent

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/owliabot/owliabot/internal/contextguard"
	"github.com/owliabot/owliabot/internal/messages"
	"github.com/owliabot/owliabot/internal/providers"
	"github.com/owliabot/owliabot/internal/tools"
	"github.com/owliabot/owliabot/pkg/protocol"
)

const (
	defaultMaxIterations = 25
	defaultTimeout       = 120 * time.Second
)

// LoopEvent is a telemetry-only observation recorded in RunResult.Events.
// The loop appends events to a slice as it runs and returns them with the
// result; no channel is offered for observing them while the loop runs.
type LoopEvent struct {
	Type      string
	Iteration int
	ToolName  string
	At        time.Time
}

// Config wires the loop's collaborators.
type Config struct {
	Runner        *providers.Runner
	Registry      *tools.Registry
	Policy        *tools.PolicyEngine
	Executor      *tools.Executor
	MaxIterations int
	Timeout       time.Duration
	ContextWindow int
	MaxTokens     int
}

func (c Config) withDefaults() Config {
	if c.MaxIterations <= 0 {
		c.MaxIterations = defaultMaxIterations
	}
	if c.Timeout <= 0 {
		c.Timeout = defaultTimeout
	}
	if c.ContextWindow <= 0 {
		c.ContextWindow = 200_000
	}
	return c
}

// Loop drives the LLM↔tool alternation for one conversation turn.
type Loop struct {
	cfg Config
}

// NewLoop builds a Loop over cfg, filling in documented defaults.
func NewLoop(cfg Config) *Loop {
	return &Loop{cfg: cfg.withDefaults()}
}

// RunRequest is one invocation of the loop.
type RunRequest struct {
	SystemPrompt string
	History      []messages.Message // prior transcript, oldest first
	UserMessage  messages.Message    // the new inbound message to append
	Escalation   tools.EscalationContext
	ToolContext  tools.ToolContext
	AgentAllow   []string // per-agent tool allow list, empty = no restriction beyond global policy
	IsSubagent   bool
	Model        string
	CLISessionID string
}

// RunResult is what the loop returns; the caller (gateway pipeline)
// appends Content as the final assistant message to the transcript.
type RunResult struct {
	Content              string
	Silent               bool // true if the model asked to suppress a user-visible reply (NO_REPLY)
	Iterations           int
	ToolCallsCount        int
	MaxIterationsReached bool
	TimedOut             bool
	Error                error
	Events               []LoopEvent        // sampled events observed during the run, for the caller's telemetry
	NewMessages          []messages.Message // assistant + tool-result messages appended this run, to persist atomically
}

// Run executes the loop to completion or until its iteration/timeout
// guard trips. Cancellation of ctx propagates into the current provider
// call and any in-flight tool via their own context derivation.
func (l *Loop) Run(ctx context.Context, req RunRequest) RunResult {
	runCtx, cancel := context.WithTimeout(ctx, l.cfg.Timeout)
	defer cancel()

	result := RunResult{}
	var events []LoopEvent
	emit := func(t string, iter int, toolName string) {
		events = append(events, LoopEvent{Type: t, Iteration: iter, ToolName: toolName, At: time.Now()})
	}

	history := append([]messages.Message{}, req.History...)
	if req.UserMessage.Content != "" || len(req.UserMessage.ToolResults) > 0 {
		history = append(history, req.UserMessage)
	}

	var pending []messages.Message
	isFirstMessage := len(req.History) == 0

	for iteration := 1; iteration <= l.cfg.MaxIterations; iteration++ {
		emit(protocol.LoopEventTurnStart, iteration, "")

		if runCtx.Err() != nil {
			result.TimedOut = true
			result.Iterations = iteration - 1
			result.Content = ""
			result.Events = events
			result.NewMessages = pending
			return result
		}

		toolSchemas := l.cfg.Policy.FilterTools(l.cfg.Registry, req.AgentAllow, req.IsSubagent)

		guarded := contextguard.Guard(history, contextguard.Limits{
			ContextWindow: l.cfg.ContextWindow,
			MaxTokens:     l.cfg.MaxTokens,
		})
		history = guarded.Messages

		resp, err := l.cfg.Runner.Complete(runCtx, providers.ChatRequest{
			SystemPrompt:   req.SystemPrompt,
			Messages:       history,
			Tools:          toolSchemas,
			Model:          req.Model,
			CLISessionID:   req.CLISessionID,
			IsFirstMessage: isFirstMessage,
		}, providers.CompleteOptions{
			ContextWindow:      l.cfg.ContextWindow,
			MaxTokens:          l.cfg.MaxTokens,
			InternalSessionKey: req.ToolContext.SessionKey,
		})
		isFirstMessage = false

		if err != nil {
			if errors.Is(err, providers.ErrContextOverflowExhausted) {
				result.Content = "I couldn't fit this conversation into the model's context window. Please start a new session with /new."
				result.Iterations = iteration
				result.Events = events
				result.NewMessages = append(pending, messages.NewAssistant(result.Content, nil))
				return result
			}
			result.Error = err
			result.Content = fmt.Sprintf("⚠️ processing failed: %v", err)
			result.Iterations = iteration
			result.Events = events
			result.NewMessages = append(pending, messages.NewAssistant(result.Content, nil))
			return result
		}

		assistantMsg := messages.NewAssistant(resp.Content, resp.ToolCalls)
		history = append(history, assistantMsg)
		pending = append(pending, assistantMsg)

		if len(resp.ToolCalls) == 0 || resp.FinishReason == providers.FinishStop || resp.FinishReason == providers.FinishLength {
			content := SanitizeAssistantContent(extractFinalContent(resp))
			result.Content = content
			result.Silent = IsSilentReply(content)
			result.Iterations = iteration
			result.Events = events
			result.NewMessages = pending
			return result
		}

		emit(protocol.LoopEventToolExecStart, iteration, "")
		results := l.cfg.Executor.ExecuteMany(runCtx, resp.ToolCalls, req.ToolContext, req.Escalation)
		emit(protocol.LoopEventToolExecEnd, iteration, "")

		toolResults := make([]messages.ToolResult, 0, len(resp.ToolCalls))
		for _, call := range resp.ToolCalls {
			r := results[call.ID]
			tr := messages.ToolResult{ToolCallID: call.ID, ToolName: call.Name}
			if r == nil {
				tr.Success = false
				tr.Error = "tool produced no result"
			} else {
				tr.Success = r.Success
				tr.Data = r.Data
				tr.Error = r.Error
			}
			toolResults = append(toolResults, tr)
			result.ToolCallsCount++
		}
		resultMsg := messages.NewToolResults(toolResults)
		history = append(history, resultMsg)
		pending = append(pending, resultMsg)
	}

	result.MaxIterationsReached = true
	result.Iterations = l.cfg.MaxIterations
	result.Content = "I've reached the maximum number of steps for this turn. Please try again or start a new session with /new."
	result.Events = events
	result.NewMessages = append(pending, messages.NewAssistant(result.Content, nil))
	return result
}

// extractFinalContent prefers the assistant's content; on an empty
// content with an error/length stop reason it synthesizes a user-visible
// message per the final-content extraction rule.
func extractFinalContent(resp *providers.ChatResponse) string {
	if resp.Content != "" {
		return resp.Content
	}
	switch resp.FinishReason {
	case providers.FinishError:
		return fmt.Sprintf("⚠️ %s", resp.ErrorMessage)
	case providers.FinishLength:
		return "The response was too long to finish. Please start a new session with /new."
	default:
		return ""
	}
}
