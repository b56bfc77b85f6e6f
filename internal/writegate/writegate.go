// Package writegate implements the out-of-band confirmation mediator for
// write/sign tool calls: it sends a human-readable prompt to the origin
// chat channel and waits for a matching reply before the executor is
// allowed to proceed, satisfying tools.WriteGate.
package writegate

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/owliabot/owliabot/internal/tools"
)

// Sender delivers a confirmation prompt to the origin of a pending call:
// the user directly for a DM, or the chat/channel for a group.
type Sender interface {
	Send(ctx context.Context, channel, target, text string) error
}

var (
	approveWords = map[string]bool{"yes": true, "y": true, "ok": true, "approve": true}
	denyWords    = map[string]bool{"no": true, "n": true, "deny": true, "cancel": true}
)

// pendingConfirm is a single in-flight confirmation awaiting a reply.
type pendingConfirm struct {
	fromUserID string
	allowlist  map[string]bool
	resultCh   chan tools.ConfirmDecision
}

// Gate mediates write/sign confirmations over a chat channel. One Gate
// instance is shared across all sessions; pending confirmations are keyed
// by SessionKey since only one confirmation can be outstanding per session
// at a time (the executor blocks the calling goroutine on Check).
type Gate struct {
	sender Sender

	confirmationEnabled bool
	timeout              time.Duration
	allowlist            []string // users permitted to approve; empty = anyone

	// target resolves a SessionKey to the (channel, target, peerKind)
	// the confirmation prompt and reply should be routed through.
	target func(sessionKey string) (channel, target, peerKind string)

	mu      sync.Mutex
	pending map[string]*pendingConfirm
}

// New builds a Gate. target must resolve a session key to the channel and
// chat/user id a confirmation prompt is sent to and replies are read from.
func New(sender Sender, confirmationEnabled bool, timeout time.Duration, allowlist []string, target func(sessionKey string) (channel, target, peerKind string)) *Gate {
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	return &Gate{
		sender:               sender,
		confirmationEnabled:  confirmationEnabled,
		timeout:              timeout,
		allowlist:            allowlist,
		target:               target,
		pending:              make(map[string]*pendingConfirm),
	}
}

// Check implements tools.WriteGate.
func (g *Gate) Check(ctx context.Context, req tools.ConfirmRequest) (tools.ConfirmDecision, error) {
	if !g.confirmationEnabled {
		return tools.ConfirmDecision{Approved: true, GateDecision: "confirmation_disabled_allow"}, nil
	}

	channel, target, _ := g.target(req.SessionKey)
	prompt := req.Prompt
	if prompt == "" {
		prompt = fmt.Sprintf("Approve %s? (yes/no)", req.ToolName)
	}

	pc := &pendingConfirm{
		fromUserID: req.FromUserID,
		resultCh:   make(chan tools.ConfirmDecision, 1),
	}
	if len(g.allowlist) > 0 {
		pc.allowlist = make(map[string]bool, len(g.allowlist))
		for _, u := range g.allowlist {
			pc.allowlist[u] = true
		}
	}

	g.mu.Lock()
	g.pending[req.SessionKey] = pc
	g.mu.Unlock()
	defer func() {
		g.mu.Lock()
		delete(g.pending, req.SessionKey)
		g.mu.Unlock()
	}()

	if err := g.sender.Send(ctx, channel, target, prompt); err != nil {
		return tools.ConfirmDecision{}, fmt.Errorf("writegate: send prompt: %w", err)
	}

	timeoutCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	select {
	case decision := <-pc.resultCh:
		return decision, nil
	case <-timeoutCtx.Done():
		return tools.ConfirmDecision{Approved: false, GateDecision: "timeout"}, nil
	}
}

// HandleReply is called by the channel adapter when a message arrives from
// a user that might be answering a pending confirmation for sessionKey.
// Returns true if the reply was consumed as a confirmation answer.
func (g *Gate) HandleReply(sessionKey, fromUserID, text string) bool {
	g.mu.Lock()
	pc, ok := g.pending[sessionKey]
	g.mu.Unlock()
	if !ok {
		return false
	}

	word := strings.ToLower(strings.TrimSpace(text))
	approved, isAnswer := false, false
	switch {
	case approveWords[word]:
		approved, isAnswer = true, true
	case denyWords[word]:
		approved, isAnswer = false, true
	}
	if !isAnswer {
		return false
	}

	if pc.allowlist == nil && fromUserID != pc.fromUserID {
		// Without an allowlist only the originating user can answer; a
		// reply from anyone else is not consumed.
		return false
	}
	permitted := fromUserID == pc.fromUserID
	if pc.allowlist != nil {
		permitted = pc.allowlist[fromUserID]
	}
	if !permitted {
		pc.resultCh <- tools.ConfirmDecision{Approved: false, GateDecision: "not_in_allowlist"}
		return true
	}

	decision := "rejected"
	if approved {
		decision = "approved"
	}
	pc.resultCh <- tools.ConfirmDecision{Approved: approved, GateDecision: decision}
	return true
}
