package tools

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/owliabot/owliabot/internal/messages"
	"github.com/owliabot/owliabot/pkg/protocol"
)

func newTestRegistry() *Registry {
	r := NewRegistry()
	r.Register(ToolDefinition{
		Name:        "echo",
		Description: "echoes input",
		Security:    Security{Level: protocol.SecurityRead},
		Execute: func(tc ToolContext, args json.RawMessage) *Result {
			return OkText(string(args))
		},
	})
	r.Register(ToolDefinition{
		Name:        "todo__add",
		Description: "adds a todo",
		Security:    Security{Level: protocol.SecurityWrite},
		Execute: func(tc ToolContext, args json.RawMessage) *Result {
			return OkText("added")
		},
	})
	return r
}

type fakeGate struct {
	approve bool
	decision string
	err     error
}

func (f fakeGate) Check(ctx context.Context, req ConfirmRequest) (ConfirmDecision, error) {
	if f.err != nil {
		return ConfirmDecision{}, f.err
	}
	return ConfirmDecision{Approved: f.approve, GateDecision: f.decision}, nil
}

func TestExecuteToolNotFound(t *testing.T) {
	var finalized []AuditEntry
	audit := NewAuditLogger(func(e AuditEntry) { finalized = append(finalized, e) })
	exec := NewExecutor(ExecutorDeps{
		Registry: newTestRegistry(),
		Policy:   NewPolicyEngine(GlobalPolicy{}),
		Audit:    audit,
	})

	call := messages.ToolCall{ID: "1", Name: "nope", Arguments: json.RawMessage(`{}`)}
	res := exec.Execute(context.Background(), call, ToolContext{SessionKey: "s"}, EscalationContext{})
	if res.Success {
		t.Fatal("expected failure for unknown tool")
	}
	if len(finalized) != 1 {
		t.Fatalf("expected exactly one audit record, got %d", len(finalized))
	}
	if finalized[0].Status != StatusToolNotFound {
		t.Errorf("expected tool_not_found status, got %s", finalized[0].Status)
	}
}

func TestExecuteReadToolAllowed(t *testing.T) {
	exec := NewExecutor(ExecutorDeps{
		Registry: newTestRegistry(),
		Policy:   NewPolicyEngine(GlobalPolicy{}),
	})
	call := messages.ToolCall{ID: "1", Name: "echo", Arguments: json.RawMessage(`"hi"`)}
	res := exec.Execute(context.Background(), call, ToolContext{SessionKey: "s"}, EscalationContext{})
	if !res.Success {
		t.Fatalf("expected success, got error: %s", res.Error)
	}
}

func TestExecuteWriteToolDeniedByGate(t *testing.T) {
	var finalized []AuditEntry
	audit := NewAuditLogger(func(e AuditEntry) { finalized = append(finalized, e) })
	exec := NewExecutor(ExecutorDeps{
		Registry:  newTestRegistry(),
		Policy:    NewPolicyEngine(GlobalPolicy{}),
		Audit:     audit,
		WriteGate: fakeGate{approve: false, decision: "not_in_allowlist"},
	})
	call := messages.ToolCall{ID: "1", Name: "todo__add", Arguments: json.RawMessage(`{}`)}
	res := exec.Execute(context.Background(), call, ToolContext{SessionKey: "s", UserID: "attacker"}, EscalationContext{})
	if res.Success {
		t.Fatal("expected denial")
	}
	if len(finalized) != 1 || finalized[0].Status != StatusDenied {
		t.Fatalf("expected one denied audit record, got %+v", finalized)
	}
	if finalized[0].GateDecision != "not_in_allowlist" {
		t.Errorf("expected gateDecision not_in_allowlist, got %s", finalized[0].GateDecision)
	}
}

func TestExecuteWriteToolApproved(t *testing.T) {
	exec := NewExecutor(ExecutorDeps{
		Registry:  newTestRegistry(),
		Policy:    NewPolicyEngine(GlobalPolicy{}),
		WriteGate: fakeGate{approve: true, decision: "approved"},
	})
	call := messages.ToolCall{ID: "1", Name: "todo__add", Arguments: json.RawMessage(`{}`)}
	res := exec.Execute(context.Background(), call, ToolContext{SessionKey: "s"}, EscalationContext{})
	if !res.Success {
		t.Fatalf("expected success after approval, got %s", res.Error)
	}
}

func TestExecuteManyFanOutCompletesBeforeReturn(t *testing.T) {
	exec := NewExecutor(ExecutorDeps{
		Registry: newTestRegistry(),
		Policy:   NewPolicyEngine(GlobalPolicy{}),
	})
	calls := []messages.ToolCall{
		{ID: "a", Name: "echo", Arguments: json.RawMessage(`"1"`)},
		{ID: "b", Name: "echo", Arguments: json.RawMessage(`"2"`)},
		{ID: "c", Name: "nope", Arguments: json.RawMessage(`{}`)},
	}
	results := exec.ExecuteMany(context.Background(), calls, ToolContext{SessionKey: "s"}, EscalationContext{})
	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}
	if !results["a"].Success || !results["b"].Success {
		t.Error("expected echo calls to succeed")
	}
	if results["c"].Success {
		t.Error("expected unknown tool call to fail")
	}
}

func TestCooldownBlocksRepeatedCalls(t *testing.T) {
	tracker := NewCooldownTracker(time.Hour)
	now := time.Now()
	if !tracker.Check("echo", "s", now) {
		t.Fatal("first call should be allowed")
	}
	tracker.Record("echo", "s", now)
	if tracker.Check("echo", "s", now.Add(time.Minute)) {
		t.Fatal("second call within cooldown should be blocked")
	}
	if !tracker.Check("echo", "s", now.Add(2*time.Hour)) {
		t.Fatal("call after cooldown window should be allowed")
	}
}

func TestCallRateLimiterCapsPerHour(t *testing.T) {
	limiter := NewCallRateLimiter(2)
	now := time.Now()
	if !limiter.Allow("s", now) {
		t.Fatal("first call should be allowed")
	}
	if !limiter.Allow("s", now.Add(time.Minute)) {
		t.Fatal("second call should be allowed")
	}
	if limiter.Allow("s", now.Add(2*time.Minute)) {
		t.Fatal("third call within the hour should be blocked")
	}
	if !limiter.Allow("s", now.Add(2*time.Hour)) {
		t.Fatal("call in a fresh hour window should be allowed")
	}
}

func TestExecuteDeniesWhenRateLimitReached(t *testing.T) {
	var finalized []AuditEntry
	audit := NewAuditLogger(func(e AuditEntry) { finalized = append(finalized, e) })
	exec := NewExecutor(ExecutorDeps{
		Registry:  newTestRegistry(),
		Policy:    NewPolicyEngine(GlobalPolicy{}),
		Audit:     audit,
		RateLimit: NewCallRateLimiter(1),
	})

	call := messages.ToolCall{ID: "1", Name: "echo", Arguments: json.RawMessage(`{}`)}
	tc := ToolContext{SessionKey: "s", Context: context.Background()}

	first := exec.Execute(context.Background(), call, tc, EscalationContext{})
	if !first.Success {
		t.Fatalf("expected first call to succeed, got %+v", first)
	}

	second := exec.Execute(context.Background(), call, tc, EscalationContext{})
	if second.Success {
		t.Fatal("expected second call to be denied by the rate limiter")
	}

	if len(finalized) != 2 || finalized[1].Status != StatusRateLimited {
		t.Fatalf("expected second audit entry to be rate_limited, got %+v", finalized)
	}
}
