// Package pipeline orchestrates one inbound channel message end to end:
// idempotency, activation, typing indicator, rate limiting, session
// lookup, slash commands, the agentic loop, sending the reply, and
// recording the event log entry.
//
// Every inbound message from any channel adapter runs through the same
// ordered stages as a single per-message function call, rather than a
// websocket/HTTP route registrar fronting a long-lived RPC connection.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/owliabot/owliabot/internal/activation"
	"github.com/owliabot/owliabot/internal/agent"
	"github.com/owliabot/owliabot/internal/messages"
	"github.com/owliabot/owliabot/internal/sessions"
	"github.com/owliabot/owliabot/internal/tools"
)

// IdempotencyStore reports whether a channel-scoped message id has already
// been processed, marking it seen atomically. Backed by internal/infra in
// production; a fake in tests.
type IdempotencyStore interface {
	SeenOrMark(ctx context.Context, key string) (alreadySeen bool, err error)
}

// RateLimiter reports whether the caller identified by key may proceed.
// Satisfied in cmd/start.go by the fixed-window in-memory
// WebhookRateLimiter from internal/channels.
type RateLimiter interface {
	Allow(key string) bool
}

// TypingIndicator starts a channel-specific "typing…" presence signal and
// returns a function that stops it. Optional: a nil TypingIndicator in
// Deps skips this stage entirely.
type TypingIndicator interface {
	StartTyping(ctx context.Context, channel, chatID string) (stop func())
}

// Sender delivers the final reply text back to the channel.
type Sender interface {
	Send(ctx context.Context, channel, chatID, text string) error
}

// EventLog records one terminal outcome, used by device pollers and
// observability. Optional: a nil EventLog in Deps skips this stage.
type EventLog interface {
	Append(ctx context.Context, eventType string, payload map[string]any) error
}

// Deps wires the pipeline's collaborators. Idempotency, RateLimit, Typing,
// and EventLog are all optional and degrade gracefully when nil; Sessions,
// Transcripts, and Loop are required.
type Deps struct {
	Idempotency IdempotencyStore
	RateLimit   RateLimiter
	Typing      TypingIndicator
	Sender      Sender
	EventLog    EventLog

	Sessions    *sessions.Manager
	Transcripts *sessions.Transcript
	Loop        *agent.Loop

	// SystemPrompt renders the system prompt for a run; takes the agent id
	// so multi-agent deployments can vary persona per agent.
	SystemPrompt func(agentID string) string

	// SummarizeOnReset mirrors the agent-level config consulted by /new.
	SummarizeOnReset bool
	// Summarize performs the one-shot pre-rotate summarization named in
	// the /new handler contract; optional.
	Summarize func(ctx context.Context, sessionID string) (string, error)

	MaxHistoryTurns int
}

// Inbound is one channel-adapter-normalized message.
type Inbound struct {
	AgentID     string
	Channel     string
	MessageID   string // channel-native id, used for idempotency keying
	ChatID      string // where to send the reply
	ChatType    activation.ChatType
	SenderID    string
	Username    string
	GroupID     string
	Text        string
	AllowList   []string
	MentionPatterns  []string
	GroupOverrides   map[string]activation.GroupOverride
	ChannelAllowList []string
	GlobalActivation activation.GroupActivation
}

// Outcome summarizes what the pipeline did with one inbound message, for
// callers that want to log or assert on it (scenario tests).
type Outcome struct {
	Handled      bool // false if activation rejected the message outright
	Idempotent   bool // true if this message id was already processed
	RateLimited  bool
	CommandReply string // non-empty if a slash command answered instead of the loop
	LoopResult   *agent.RunResult
	Sent         bool
	Error        error
}

// HandleMessage runs the full pipeline for one inbound message.
func (d *Deps) HandleMessage(ctx context.Context, in Inbound) Outcome {
	if d.Idempotency != nil && in.MessageID != "" {
		key := fmt.Sprintf("%s:%s:%s", in.AgentID, in.Channel, in.MessageID)
		seen, err := d.Idempotency.SeenOrMark(ctx, key)
		if err != nil {
			slog.Warn("pipeline.idempotency_check_failed", "err", err)
		} else if seen {
			return Outcome{Idempotent: true}
		}
	}

	if !activation.ShouldHandleMessage(activation.Config{
		AllowList:        in.AllowList,
		ChatType:         in.ChatType,
		SenderID:         in.SenderID,
		Username:         in.Username,
		GroupID:          in.GroupID,
		MessageBody:      in.Text,
		MentionPatterns:  in.MentionPatterns,
		GroupOverrides:   in.GroupOverrides,
		ChannelAllowList: in.ChannelAllowList,
		GlobalActivation: in.GlobalActivation,
	}) {
		return Outcome{Handled: false}
	}

	var stopTyping func()
	if d.Typing != nil {
		stopTyping = d.Typing.StartTyping(ctx, in.Channel, in.ChatID)
	}
	if stopTyping != nil {
		defer stopTyping()
	}

	if d.RateLimit != nil && !d.RateLimit.Allow(rateLimitKey(in)) {
		d.emitEvent(ctx, "rate_limit", map[string]any{"agent": in.AgentID, "channel": in.Channel, "sender": in.SenderID})
		return Outcome{Handled: true, RateLimited: true}
	}

	sessionKey := sessions.BuildSessionKey(in.AgentID, in.Channel, sessions.PeerKindFromGroup(in.ChatType == activation.ChatGroup), in.GroupID)
	session := d.Sessions.GetOrCreate(sessionKey, sessions.Meta{
		Channel:  in.Channel,
		ChatType: string(in.ChatType),
		GroupID:  in.GroupID,
	})

	if cmd, ok := activation.ParseCommand(in.Text); ok {
		result, handled, err := activation.Dispatch(ctx, cmd, d.commandContext(session, in))
		if err != nil {
			return Outcome{Handled: true, Error: err}
		}
		if handled {
			sent := d.deliver(ctx, in, result.Reply)
			return Outcome{Handled: true, CommandReply: result.Reply, Sent: sent}
		}
		// handled==false: fall through to the agentic loop (e.g. "/start").
	}

	history := d.Transcripts.GetHistory(session.SessionID, d.maxHistoryTurns())
	userMsg := messages.NewUser(in.Text)

	runReq := agent.RunRequest{
		SystemPrompt: d.systemPrompt(in.AgentID),
		History:      history,
		UserMessage:  userMsg,
		Escalation: tools.EscalationContext{
			AgentID:    in.AgentID,
			Channel:    in.Channel,
			UserID:     in.SenderID,
			SessionKey: sessionKey,
		},
		ToolContext: tools.ToolContext{
			Context:    ctx,
			SessionKey: sessionKey,
			AgentID:    in.AgentID,
			Channel:    in.Channel,
			UserID:     in.SenderID,
		},
	}

	result := d.Loop.Run(ctx, runReq)

	if err := d.Transcripts.Append(session.SessionID, userMsg); err != nil {
		slog.Warn("pipeline.transcript_append_failed", "err", err)
	}
	for _, m := range result.NewMessages {
		if err := d.Transcripts.Append(session.SessionID, m); err != nil {
			slog.Warn("pipeline.transcript_append_failed", "err", err)
		}
	}
	d.Sessions.Touch(sessionKey, session.MessageCount+1+len(result.NewMessages))

	out := Outcome{Handled: true, LoopResult: &result}
	if !result.Silent && result.Content != "" {
		out.Sent = d.deliver(ctx, in, result.Content)
	}

	d.emitEvent(ctx, "message.processed", map[string]any{
		"agent":      in.AgentID,
		"channel":    in.Channel,
		"iterations": result.Iterations,
		"silent":     result.Silent,
	})
	return out
}

func (d *Deps) deliver(ctx context.Context, in Inbound, text string) bool {
	if d.Sender == nil || text == "" {
		return false
	}
	if err := d.Sender.Send(ctx, in.Channel, in.ChatID, text); err != nil {
		slog.Warn("pipeline.send_failed", "channel", in.Channel, "err", err)
		return false
	}
	return true
}

func (d *Deps) emitEvent(ctx context.Context, eventType string, payload map[string]any) {
	if d.EventLog == nil {
		return
	}
	if err := d.EventLog.Append(ctx, eventType, payload); err != nil {
		slog.Warn("pipeline.event_log_append_failed", "err", err)
	}
}

func (d *Deps) commandContext(session *sessions.Session, in Inbound) activation.CommandContext {
	sessionKey := session.Key
	return activation.CommandContext{
		SessionKey:           sessionKey,
		Channel:              in.Channel,
		UserID:               in.SenderID,
		RealUserMessageCount: session.MessageCount,
		SummarizeOnReset:     d.SummarizeOnReset,
		Summarize: func(ctx context.Context) (string, error) {
			if d.Summarize == nil {
				return "", nil
			}
			return d.Summarize(ctx, session.SessionID)
		},
		Rotate: func(ctx context.Context) error {
			oldID := session.SessionID
			d.Sessions.Rotate(sessionKey)
			return d.Transcripts.Clear(oldID)
		},
		HistoryText: func(ctx context.Context) (string, error) {
			hist := d.Transcripts.GetHistory(session.SessionID, d.maxHistoryTurns())
			return renderHistory(hist), nil
		},
	}
}

func (d *Deps) systemPrompt(agentID string) string {
	if d.SystemPrompt == nil {
		return ""
	}
	return d.SystemPrompt(agentID)
}

func (d *Deps) maxHistoryTurns() int {
	if d.MaxHistoryTurns <= 0 {
		return 20
	}
	return d.MaxHistoryTurns
}

func rateLimitKey(in Inbound) string {
	return fmt.Sprintf("%s:%s", in.Channel, in.SenderID)
}

func renderHistory(hist []messages.Message) string {
	if len(hist) == 0 {
		return "No history yet."
	}
	out := ""
	for _, m := range hist {
		if m.Content == "" {
			continue
		}
		out += fmt.Sprintf("%s: %s\n", m.Role, m.Content)
	}
	return out
}
