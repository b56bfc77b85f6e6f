package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/owliabot/owliabot/internal/messages"
)

// ExecutorDeps bundles the per-call collaborators the tool-invocation
// pipeline needs. Only Registry and Policy are required; the rest are
// optional and degrade gracefully (no cooldown tracking, no audit sink,
// no confirmation gate).
type ExecutorDeps struct {
	Registry        *Registry
	Policy          *PolicyEngine
	Audit           *AuditLogger
	Cooldown        *CooldownTracker
	RateLimit       *CallRateLimiter
	WriteGate       WriteGate
	DefaultTimeout  time.Duration // per-call timeout if the tool doesn't need longer
	ConfirmTimeout  time.Duration
}

// Executor runs the policy→allowlist→cooldown→confirmation→invoke→audit
// pipeline for one or many tool calls.
type Executor struct {
	deps ExecutorDeps
}

// NewExecutor builds an Executor over the given collaborators.
func NewExecutor(deps ExecutorDeps) *Executor {
	if deps.DefaultTimeout <= 0 {
		deps.DefaultTimeout = 30 * time.Second
	}
	if deps.ConfirmTimeout <= 0 {
		deps.ConfirmTimeout = 2 * time.Minute
	}
	return &Executor{deps: deps}
}

// CallResult pairs a ToolCall's id with its outcome for fan-out callers.
type CallResult struct {
	ToolCallID string
	Result     *Result
}

// Execute runs the 9-step pipeline for a single call.
func (e *Executor) Execute(ctx context.Context, call messages.ToolCall, tc ToolContext, escalation EscalationContext) *Result {
	start := time.Now()

	// 1. Lookup
	def, ok := e.deps.Registry.Get(call.Name)
	if !ok {
		e.audit(call, tc, start, StatusToolNotFound, "", "", "")
		return Fail(fmt.Sprintf("Tool not found: %s", call.Name))
	}

	// 2. Policy
	decision := e.deps.Policy.Decide(def, escalation)
	switch decision.Action {
	case ActionDeny:
		e.audit(call, tc, start, StatusDenied, "", "policy", decision.Reason)
		return Fail(fmt.Sprintf("denied: %s", orDefault(decision.Reason, "not permitted by policy")))
	case ActionEscalate:
		e.audit(call, tc, start, StatusDenied, "", "signer", string(decision.SignerTier))
		return Fail(fmt.Sprintf("denied: escalated to %s, no execution performed", decision.SignerTier))
	}

	// 3. Cooldown
	if e.deps.Cooldown != nil && !e.deps.Cooldown.Check(def.Name, tc.SessionKey, time.Now()) {
		e.audit(call, tc, start, StatusCooldown, "", "cooldown", "cooldown active")
		return Fail("denied: tool is on cooldown, try again shortly")
	}

	// 4. Rate limit
	if e.deps.RateLimit != nil && !e.deps.RateLimit.Allow(tc.SessionKey, time.Now()) {
		e.audit(call, tc, start, StatusRateLimited, "", "rate_limit", "hourly cap reached")
		return Fail("denied: tool execution rate limit reached for this session, try again later")
	}

	// 5. Confirmation
	needsConfirm := decision.Action == ActionConfirm
	if needsConfirm {
		gateDecision, approved, err := e.confirm(ctx, def, call, tc, decision)
		if err != nil {
			e.audit(call, tc, start, StatusDenied, "", "writegate", gateDecision)
			return Fail(fmt.Sprintf("denied: confirmation failed: %v", err))
		}
		if !approved {
			e.audit(call, tc, start, StatusDenied, "", "writegate", gateDecision)
			return Fail("denied: not approved")
		}
	}

	// 6. Pre-log
	auditID := ""
	if e.deps.Audit != nil {
		auditID = e.deps.Audit.PreLog(def.Name, tc.SessionKey, tc.AgentID, tc.Channel, tc.UserID, call.Arguments)
	}

	// 7. Invoke (with timeout, and a catch-all for panics mapped to an error result)
	result := e.invoke(ctx, def, tc, call.Arguments)

	// 8. Cooldown record
	if result.Success && e.deps.Cooldown != nil {
		e.deps.Cooldown.Record(def.Name, tc.SessionKey, time.Now())
	}

	// 9. Finalize
	status := StatusSuccess
	if !result.Success {
		status = StatusError
	}
	if auditID != "" {
		e.deps.Audit.Finalize(auditID, status, time.Since(start).Milliseconds(), resultSummary(result), "", "")
	}

	return result
}

func (e *Executor) confirm(ctx context.Context, def ToolDefinition, call messages.ToolCall, tc ToolContext, decision PolicyDecision) (string, bool, error) {
	if e.deps.WriteGate == nil {
		return "confirmation_disabled_allow", true, nil
	}
	confirmCtx, cancel := context.WithTimeout(ctx, e.deps.ConfirmTimeout)
	defer cancel()
	req := ConfirmRequest{
		ToolName:   def.Name,
		Channel:    tc.Channel,
		SessionKey: tc.SessionKey,
		FromUserID: tc.UserID,
		Prompt:     fmt.Sprintf("Approve %s? %s", def.Name, string(call.Arguments)),
	}
	decisionResult, err := e.deps.WriteGate.Check(confirmCtx, req)
	if err != nil {
		return "timeout", false, err
	}
	return decisionResult.GateDecision, decisionResult.Approved, nil
}

func (e *Executor) invoke(ctx context.Context, def ToolDefinition, tc ToolContext, args json.RawMessage) (result *Result) {
	callCtx, cancel := context.WithTimeout(ctx, e.deps.DefaultTimeout)
	defer cancel()
	tc.Context = callCtx

	defer func() {
		if r := recover(); r != nil {
			result = Fail(fmt.Sprintf("tool panicked: %v", r))
		}
	}()

	done := make(chan *Result, 1)
	go func() {
		done <- def.Execute(tc, args)
	}()

	select {
	case res := <-done:
		if res == nil {
			return Fail("tool returned no result")
		}
		return res
	case <-callCtx.Done():
		return Fail("tool timed out")
	}
}

func (e *Executor) audit(call messages.ToolCall, tc ToolContext, start time.Time, status AuditStatus, gate, gateName, gateDecision string) {
	if e.deps.Audit == nil {
		return
	}
	id := e.deps.Audit.PreLog(call.Name, tc.SessionKey, tc.AgentID, tc.Channel, tc.UserID, call.Arguments)
	e.deps.Audit.Finalize(id, status, time.Since(start).Milliseconds(), "", gateName, gateDecision)
}

// ExecuteMany runs the pipeline concurrently for every call and returns a
// callId → Result mapping. All results complete before this returns; the
// agentic loop must not issue the next turn until this returns.
func (e *Executor) ExecuteMany(ctx context.Context, calls []messages.ToolCall, tc ToolContext, escalation EscalationContext) map[string]*Result {
	type indexed struct {
		idx int
		res CallResult
	}
	out := make(chan indexed, len(calls))
	var wg sync.WaitGroup
	for i, call := range calls {
		wg.Add(1)
		go func(i int, call messages.ToolCall) {
			defer wg.Done()
			res := e.Execute(ctx, call, tc, escalation)
			out <- indexed{idx: i, res: CallResult{ToolCallID: call.ID, Result: res}}
		}(i, call)
	}
	go func() {
		wg.Wait()
		close(out)
	}()

	collected := make([]indexed, 0, len(calls))
	for r := range out {
		collected = append(collected, r)
	}
	sort.Slice(collected, func(i, j int) bool { return collected[i].idx < collected[j].idx })

	results := make(map[string]*Result, len(collected))
	for _, r := range collected {
		results[r.res.ToolCallID] = r.res.Result
	}
	return results
}

func resultSummary(r *Result) string {
	if r.Success {
		return "ok"
	}
	return r.Error
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
