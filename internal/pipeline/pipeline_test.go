package pipeline

import (
	"context"
	"testing"

	"github.com/owliabot/owliabot/internal/activation"
	"github.com/owliabot/owliabot/internal/agent"
	"github.com/owliabot/owliabot/internal/messages"
	"github.com/owliabot/owliabot/internal/providers"
	"github.com/owliabot/owliabot/internal/sessions"
	"github.com/owliabot/owliabot/internal/tools"
)

type fakeIdempotency struct{ seen map[string]bool }

func newFakeIdempotency() *fakeIdempotency { return &fakeIdempotency{seen: map[string]bool{}} }

func (f *fakeIdempotency) SeenOrMark(ctx context.Context, key string) (bool, error) {
	if f.seen[key] {
		return true, nil
	}
	f.seen[key] = true
	return false, nil
}

type fakeSender struct{ sent []string }

func (f *fakeSender) Send(ctx context.Context, channel, chatID, text string) error {
	f.sent = append(f.sent, text)
	return nil
}

type scriptedProvider struct {
	responses []*providers.ChatResponse
	i         int
}

func (p *scriptedProvider) Chat(ctx context.Context, req providers.ChatRequest) (*providers.ChatResponse, error) {
	if p.i >= len(p.responses) {
		return &providers.ChatResponse{Content: "done", FinishReason: providers.FinishStop}, nil
	}
	r := p.responses[p.i]
	p.i++
	return r, nil
}

func (p *scriptedProvider) ChatStream(ctx context.Context, req providers.ChatRequest, onChunk func(providers.StreamChunk)) (*providers.ChatResponse, error) {
	return p.Chat(ctx, req)
}

func (p *scriptedProvider) Name() string         { return "scripted" }
func (p *scriptedProvider) DefaultModel() string { return "scripted-model" }

func newTestDeps(t *testing.T, replies ...string) (*Deps, *fakeSender) {
	t.Helper()
	var resps []*providers.ChatResponse
	for _, r := range replies {
		resps = append(resps, &providers.ChatResponse{Content: r, FinishReason: providers.FinishStop})
	}
	prov := &scriptedProvider{responses: resps}
	reg := tools.NewRegistry()
	policy := tools.NewPolicyEngine(tools.GlobalPolicy{})
	exec := tools.NewExecutor(tools.ExecutorDeps{Registry: reg, Policy: policy})
	runner := providers.NewRunner([]providers.RunnerEntry{
		{Config: providers.Config{ID: "test", Kind: providers.KindNative, Priority: 1}, Provider: prov},
	})
	loop := agent.NewLoop(agent.Config{Runner: runner, Registry: reg, Policy: policy, Executor: exec, MaxIterations: 5})
	sender := &fakeSender{}
	deps := &Deps{
		Idempotency: newFakeIdempotency(),
		Sessions:    sessions.NewManager(""),
		Transcripts: sessions.NewTranscript(""),
		Loop:        loop,
		Sender:      sender,
	}
	return deps, sender
}

func TestActivationAndDuplicateMessageDropped(t *testing.T) {
	deps, sender := newTestDeps(t, "hi there")

	in := Inbound{
		AgentID:   "a",
		Channel:   "telegram",
		MessageID: "m1",
		ChatID:    "c1",
		ChatType:  activation.ChatDirect,
		SenderID:  "u1",
		AllowList: []string{"u1"},
		Text:      "hello",
	}

	out1 := deps.HandleMessage(context.Background(), in)
	if !out1.Handled || out1.Idempotent {
		t.Fatalf("expected first call to be processed, got %+v", out1)
	}
	if len(sender.sent) != 1 {
		t.Fatalf("expected exactly one reply sent, got %d", len(sender.sent))
	}

	out2 := deps.HandleMessage(context.Background(), in)
	if !out2.Idempotent {
		t.Fatal("expected duplicate messageId to be dropped as idempotent")
	}
	if len(sender.sent) != 1 {
		t.Fatalf("expected no additional reply sent on duplicate, got %d total", len(sender.sent))
	}
}

func TestActivationRejectsNonAllowlistedSender(t *testing.T) {
	deps, sender := newTestDeps(t, "hi there")
	in := Inbound{
		AgentID:   "a",
		Channel:   "telegram",
		MessageID: "m1",
		ChatType:  activation.ChatDirect,
		SenderID:  "intruder",
		AllowList: []string{"u1"},
		Text:      "hello",
	}
	out := deps.HandleMessage(context.Background(), in)
	if out.Handled {
		t.Fatal("expected activation to reject a non-allowlisted sender")
	}
	if len(sender.sent) != 0 {
		t.Fatal("expected no reply sent for a rejected sender")
	}
}

func TestNewCommandSummarizesAfterFiveExchangesThenRotatesAndClears(t *testing.T) {
	deps, _ := newTestDeps(t)
	var summarizedPrompt string
	deps.SummarizeOnReset = true
	deps.Summarize = func(ctx context.Context, sessionID string) (string, error) {
		for _, m := range deps.Transcripts.GetHistory(sessionID, 20) {
			if m.Role == messages.RoleUser {
				summarizedPrompt += m.Content + "\n"
			}
		}
		return "summary", nil
	}

	in := Inbound{AgentID: "a", Channel: "telegram", ChatType: activation.ChatDirect, SenderID: "u1"}
	key := sessions.BuildSessionKey(in.AgentID, in.Channel, sessions.PeerDirect, "")
	session := deps.Sessions.GetOrCreate(key, sessions.Meta{Channel: in.Channel})

	for i := 0; i < 5; i++ {
		deps.Transcripts.Append(session.SessionID, messages.NewUser("hi"))
		deps.Transcripts.Append(session.SessionID, messages.NewAssistant("hello", nil))
	}
	deps.Sessions.Touch(key, 10)

	oldID := session.SessionID
	in.Text = "/new"
	out := deps.HandleMessage(context.Background(), in)
	if out.CommandReply == "" {
		t.Fatalf("expected /new to produce a reply, got %+v", out)
	}
	if summarizedPrompt == "" {
		t.Fatal("expected summarize to run over the prior transcript before rotation")
	}

	if got, _ := deps.Sessions.Get(key); got.SessionID == oldID {
		t.Fatal("expected /new to rotate the session id")
	}
	if hist := deps.Transcripts.GetHistory(oldID, 20); len(hist) != 0 {
		t.Fatalf("expected old transcript cleared after /new, got %d messages", len(hist))
	}
}

func TestFinalContentSurfacesInLoopResultAndIsSent(t *testing.T) {
	deps, sender := newTestDeps(t, "final answer")
	in := Inbound{
		AgentID:  "a",
		Channel:  "telegram",
		ChatType: activation.ChatDirect,
		SenderID: "u1",
		Text:     "what's up",
	}
	out := deps.HandleMessage(context.Background(), in)
	if out.LoopResult == nil || out.LoopResult.Content != "final answer" {
		t.Fatalf("expected loop result with final content, got %+v", out.LoopResult)
	}
	if len(sender.sent) != 1 || sender.sent[0] != "final answer" {
		t.Fatalf("expected the final content delivered to the sender, got %+v", sender.sent)
	}
}
