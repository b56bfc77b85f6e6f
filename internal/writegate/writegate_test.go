package writegate

import (
	"context"
	"testing"
	"time"

	"github.com/owliabot/owliabot/internal/tools"
)

type fakeSender struct {
	sent []string
}

func (f *fakeSender) Send(ctx context.Context, channel, target, text string) error {
	f.sent = append(f.sent, text)
	return nil
}

func staticTarget(channel, target, peerKind string) func(string) (string, string, string) {
	return func(string) (string, string, string) { return channel, target, peerKind }
}

func TestConfirmationDisabledAllowsImmediately(t *testing.T) {
	sender := &fakeSender{}
	g := New(sender, false, time.Second, nil, staticTarget("telegram", "u1", "dm"))

	decision, err := g.Check(context.Background(), tools.ConfirmRequest{ToolName: "wallet_transfer", SessionKey: "s1", FromUserID: "u1"})
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if !decision.Approved || decision.GateDecision != "confirmation_disabled_allow" {
		t.Fatalf("expected open gate, got %+v", decision)
	}
	if len(sender.sent) != 0 {
		t.Fatal("expected no prompt sent when confirmation is disabled")
	}
}

func TestApprovalFromOriginatingUserIsAccepted(t *testing.T) {
	sender := &fakeSender{}
	g := New(sender, true, time.Second, nil, staticTarget("telegram", "u1", "dm"))

	resultCh := make(chan tools.ConfirmDecision, 1)
	go func() {
		decision, err := g.Check(context.Background(), tools.ConfirmRequest{ToolName: "wallet_transfer", SessionKey: "s1", FromUserID: "u1"})
		if err != nil {
			t.Errorf("check: %v", err)
		}
		resultCh <- decision
	}()

	waitForPending(t, g, "s1")
	if !g.HandleReply("s1", "u1", "yes") {
		t.Fatal("expected reply to be consumed")
	}

	decision := <-resultCh
	if !decision.Approved || decision.GateDecision != "approved" {
		t.Fatalf("expected approved, got %+v", decision)
	}
}

func TestDenyWordRejects(t *testing.T) {
	sender := &fakeSender{}
	g := New(sender, true, time.Second, nil, staticTarget("telegram", "u1", "dm"))

	resultCh := make(chan tools.ConfirmDecision, 1)
	go func() {
		decision, _ := g.Check(context.Background(), tools.ConfirmRequest{ToolName: "x", SessionKey: "s1", FromUserID: "u1"})
		resultCh <- decision
	}()
	waitForPending(t, g, "s1")
	g.HandleReply("s1", "u1", "no")

	decision := <-resultCh
	if decision.Approved || decision.GateDecision != "rejected" {
		t.Fatalf("expected rejected, got %+v", decision)
	}
}

func TestReplyFromNonOriginatingUserWithoutAllowlistIgnored(t *testing.T) {
	sender := &fakeSender{}
	g := New(sender, true, time.Second, nil, staticTarget("telegram", "group1", "group"))

	resultCh := make(chan tools.ConfirmDecision, 1)
	go func() {
		decision, _ := g.Check(context.Background(), tools.ConfirmRequest{ToolName: "x", SessionKey: "s1", FromUserID: "u1"})
		resultCh <- decision
	}()
	waitForPending(t, g, "s1")

	if g.HandleReply("s1", "u2", "yes") {
		t.Fatal("expected reply from non-originating user to be ignored when no allowlist is set")
	}

	select {
	case decision := <-resultCh:
		t.Fatalf("expected no decision yet, got %+v", decision)
	case <-time.After(20 * time.Millisecond):
	}

	if !g.HandleReply("s1", "u1", "yes") {
		t.Fatal("expected the originating user's reply to be consumed")
	}
	decision := <-resultCh
	if !decision.Approved {
		t.Fatalf("expected originating user's approval to win, got %+v", decision)
	}
}

func TestAllowlistRestrictsApprovalToListedUsers(t *testing.T) {
	sender := &fakeSender{}
	g := New(sender, true, time.Second, []string{"admin1"}, staticTarget("telegram", "group1", "group"))

	resultCh := make(chan tools.ConfirmDecision, 1)
	go func() {
		decision, _ := g.Check(context.Background(), tools.ConfirmRequest{ToolName: "x", SessionKey: "s1", FromUserID: "u1"})
		resultCh <- decision
	}()
	waitForPending(t, g, "s1")

	if !g.HandleReply("s1", "u1", "yes") {
		t.Fatal("expected reply to be consumed even when not permitted")
	}
	decision := <-resultCh
	if decision.Approved || decision.GateDecision != "not_in_allowlist" {
		t.Fatalf("expected not_in_allowlist for a non-allowlisted approver, got %+v", decision)
	}
}

func TestTimeoutDeniesWithoutReply(t *testing.T) {
	sender := &fakeSender{}
	g := New(sender, true, 15*time.Millisecond, nil, staticTarget("telegram", "u1", "dm"))

	decision, err := g.Check(context.Background(), tools.ConfirmRequest{ToolName: "x", SessionKey: "s1", FromUserID: "u1"})
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if decision.Approved || decision.GateDecision != "timeout" {
		t.Fatalf("expected timeout denial, got %+v", decision)
	}
}

func waitForPending(t *testing.T, g *Gate, sessionKey string) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		g.mu.Lock()
		_, ok := g.pending[sessionKey]
		g.mu.Unlock()
		if ok {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("confirmation for %s never became pending", sessionKey)
}
