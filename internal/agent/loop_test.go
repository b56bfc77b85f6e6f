package agent

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/owliabot/owliabot/internal/messages"
	"github.com/owliabot/owliabot/internal/providers"
	"github.com/owliabot/owliabot/internal/tools"
	"github.com/owliabot/owliabot/pkg/protocol"
)

// scriptedProvider replays a fixed sequence of responses, one per Chat
// call, to drive the loop through a deterministic number of iterations.
type scriptedProvider struct {
	responses []*providers.ChatResponse
	calls     int
}

func (p *scriptedProvider) Name() string         { return "scripted" }
func (p *scriptedProvider) DefaultModel() string { return "scripted-model" }
func (p *scriptedProvider) Chat(ctx context.Context, req providers.ChatRequest) (*providers.ChatResponse, error) {
	if p.calls >= len(p.responses) {
		return &providers.ChatResponse{Content: "done", FinishReason: providers.FinishStop}, nil
	}
	resp := p.responses[p.calls]
	p.calls++
	return resp, nil
}
func (p *scriptedProvider) ChatStream(ctx context.Context, req providers.ChatRequest, onChunk func(providers.StreamChunk)) (*providers.ChatResponse, error) {
	return p.Chat(ctx, req)
}

func newTestLoop(t *testing.T, provider providers.Provider, maxIterations int) (*Loop, *tools.Registry) {
	t.Helper()
	registry := tools.NewRegistry()
	if err := registry.Register(tools.ToolDefinition{
		Name:     "echo",
		Security: tools.Security{Level: protocol.SecurityRead},
		Execute: func(tc tools.ToolContext, args json.RawMessage) *tools.Result {
			return tools.Ok(map[string]string{"echoed": string(args)})
		},
	}); err != nil {
		t.Fatalf("register echo: %v", err)
	}

	policy := tools.NewPolicyEngine(tools.GlobalPolicy{})
	executor := tools.NewExecutor(tools.ExecutorDeps{Registry: registry, Policy: policy})
	runner := providers.NewRunner([]providers.RunnerEntry{
		{Config: providers.Config{ID: "test", Kind: providers.KindNative, Priority: 1}, Provider: provider},
	})

	loop := NewLoop(Config{
		Runner:        runner,
		Registry:      registry,
		Policy:        policy,
		Executor:      executor,
		MaxIterations: maxIterations,
		ContextWindow: 8000,
	})
	return loop, registry
}

func TestLoopFinishesOnFirstTurnWithNoToolCalls(t *testing.T) {
	provider := &scriptedProvider{responses: []*providers.ChatResponse{
		{Content: "hello there", FinishReason: providers.FinishStop},
	}}
	loop, _ := newTestLoop(t, provider, 5)

	result := loop.Run(context.Background(), RunRequest{
		UserMessage: messages.NewUser("hi"),
		ToolContext: tools.ToolContext{Context: context.Background(), SessionKey: "s1"},
	})

	if result.Content != "hello there" {
		t.Fatalf("expected content %q, got %q", "hello there", result.Content)
	}
	if result.Iterations != 1 {
		t.Fatalf("expected 1 iteration, got %d", result.Iterations)
	}
	if result.MaxIterationsReached || result.TimedOut {
		t.Fatalf("unexpected terminal flags: %+v", result)
	}
}

func TestLoopExecutesToolCallsThenFinalizes(t *testing.T) {
	toolCallArgs, _ := json.Marshal(map[string]string{"x": "1"})
	provider := &scriptedProvider{responses: []*providers.ChatResponse{
		{
			ToolCalls:    []messages.ToolCall{{ID: "call-1", Name: "echo", Arguments: toolCallArgs}},
			FinishReason: providers.FinishToolUse,
		},
		{Content: "all done", FinishReason: providers.FinishStop},
	}}
	loop, _ := newTestLoop(t, provider, 5)

	result := loop.Run(context.Background(), RunRequest{
		UserMessage: messages.NewUser("run echo"),
		ToolContext: tools.ToolContext{Context: context.Background(), SessionKey: "s1"},
	})

	if result.Content != "all done" {
		t.Fatalf("expected final content 'all done', got %q", result.Content)
	}
	if result.Iterations != 2 {
		t.Fatalf("expected 2 iterations, got %d", result.Iterations)
	}
	if result.ToolCallsCount != 1 {
		t.Fatalf("expected 1 tool call recorded, got %d", result.ToolCallsCount)
	}
	foundToolResultMsg := false
	for _, m := range result.NewMessages {
		if m.IsToolResultMessage() {
			foundToolResultMsg = true
		}
	}
	if !foundToolResultMsg {
		t.Fatal("expected a tool-result message among NewMessages")
	}
}

func TestLoopStopsAtMaxIterations(t *testing.T) {
	toolCallArgs, _ := json.Marshal(map[string]string{})
	// Every response demands another tool call, never finishing on its own.
	responses := make([]*providers.ChatResponse, 0, 10)
	for i := 0; i < 10; i++ {
		responses = append(responses, &providers.ChatResponse{
			ToolCalls:    []messages.ToolCall{{ID: "call", Name: "echo", Arguments: toolCallArgs}},
			FinishReason: providers.FinishToolUse,
		})
	}
	provider := &scriptedProvider{responses: responses}
	loop, _ := newTestLoop(t, provider, 3)

	result := loop.Run(context.Background(), RunRequest{
		UserMessage: messages.NewUser("loop forever"),
		ToolContext: tools.ToolContext{Context: context.Background(), SessionKey: "s1"},
	})

	if !result.MaxIterationsReached {
		t.Fatal("expected MaxIterationsReached to be true")
	}
	if result.Iterations != 3 {
		t.Fatalf("expected 3 iterations, got %d", result.Iterations)
	}
}

func TestLoopTimesOutWhenContextAlreadyExpired(t *testing.T) {
	provider := &scriptedProvider{responses: []*providers.ChatResponse{
		{Content: "should not be reached", FinishReason: providers.FinishStop},
	}}
	loop, _ := newTestLoop(t, provider, 5)
	loop.cfg.Timeout = time.Millisecond

	ctx, cancel := context.WithTimeout(context.Background(), time.Millisecond)
	defer cancel()
	time.Sleep(5 * time.Millisecond)

	result := loop.Run(ctx, RunRequest{
		UserMessage: messages.NewUser("hi"),
		ToolContext: tools.ToolContext{Context: ctx, SessionKey: "s1"},
	})

	if !result.TimedOut {
		t.Fatalf("expected TimedOut, got result %+v", result)
	}
}

func TestLoopMapsContextOverflowToNewGuidance(t *testing.T) {
	provider := &alwaysOverflowProvider{}
	loop, _ := newTestLoop(t, provider, 5)

	result := loop.Run(context.Background(), RunRequest{
		UserMessage: messages.NewUser("a very long message"),
		ToolContext: tools.ToolContext{Context: context.Background(), SessionKey: "s1"},
	})

	if result.Content == "" {
		t.Fatal("expected guidance content on context overflow")
	}
}

type alwaysOverflowProvider struct{}

func (p *alwaysOverflowProvider) Name() string         { return "overflow" }
func (p *alwaysOverflowProvider) DefaultModel() string { return "m" }
func (p *alwaysOverflowProvider) Chat(ctx context.Context, req providers.ChatRequest) (*providers.ChatResponse, error) {
	return nil, errOverflow
}
func (p *alwaysOverflowProvider) ChatStream(ctx context.Context, req providers.ChatRequest, onChunk func(providers.StreamChunk)) (*providers.ChatResponse, error) {
	return p.Chat(ctx, req)
}

var errOverflow = &overflowErr{}

type overflowErr struct{}

func (e *overflowErr) Error() string { return "prompt is too long for the model's context window" }

func TestSanitizeAndSilentReplyWiredIntoLoop(t *testing.T) {
	provider := &scriptedProvider{responses: []*providers.ChatResponse{
		{Content: "<think>internal</think>NO_REPLY", FinishReason: providers.FinishStop},
	}}
	loop, _ := newTestLoop(t, provider, 5)

	result := loop.Run(context.Background(), RunRequest{
		UserMessage: messages.NewUser("hi"),
		ToolContext: tools.ToolContext{Context: context.Background(), SessionKey: "s1"},
	})

	if result.Content != "NO_REPLY" {
		t.Fatalf("expected sanitized content 'NO_REPLY', got %q", result.Content)
	}
	if !result.Silent {
		t.Fatal("expected Silent to be true for NO_REPLY content")
	}
}
