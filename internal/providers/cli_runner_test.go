package providers

import (
	"strings"
	"testing"

	"github.com/owliabot/owliabot/internal/messages"
)

func TestBuildArgsResumeModelSystemPrompt(t *testing.T) {
	r := NewCLIRunner()
	r.setCLISessionID("sess-1", "cli-sess-42")

	cfg := CLIConfig{
		BaseArgs:         []string{"chat"},
		ResumeArgs:       []string{"--resume", "{sessionId}"},
		ModelFlag:        "--model",
		ModelAliases:     map[string]string{"gpt-5": "gpt-5-cli"},
		SystemPromptFlag: "--system",
		SystemPromptWhen: SystemPromptAlways,
	}.withDefaults()

	req := ChatRequest{Model: "gpt-5", SystemPrompt: "be terse"}
	args := r.buildArgs(cfg, req, "be terse", "sess-1")

	want := []string{"chat", "--resume", "cli-sess-42", "--model", "gpt-5-cli", "--system", "be terse"}
	if strings.Join(args, "|") != strings.Join(want, "|") {
		t.Fatalf("got args %v, want %v", args, want)
	}
}

func TestBuildArgsSystemPromptOnlyOnFirstMessage(t *testing.T) {
	r := NewCLIRunner()
	cfg := CLIConfig{SystemPromptFlag: "--system", SystemPromptWhen: SystemPromptFirst}.withDefaults()

	args := r.buildArgs(cfg, ChatRequest{IsFirstMessage: false}, "sys", "s")
	for _, a := range args {
		if a == "--system" {
			t.Fatal("system prompt flag should be omitted on non-first messages")
		}
	}

	args = r.buildArgs(cfg, ChatRequest{IsFirstMessage: true}, "sys", "s")
	found := false
	for _, a := range args {
		if a == "--system" {
			found = true
		}
	}
	if !found {
		t.Fatal("expected system prompt flag on first message")
	}
}

func TestPromptArgVsStdinBoundary(t *testing.T) {
	cfg := CLIConfig{MaxPromptArgChars: 10}.withDefaults()
	exact := strings.Repeat("a", 10)
	over := strings.Repeat("a", 11)

	if len(exact) > cfg.MaxPromptArgChars {
		t.Fatal("exact-length prompt should still fit on argv")
	}
	if len(over) <= cfg.MaxPromptArgChars {
		t.Fatal("over-length prompt should require stdin")
	}
}

func TestFilterEnvStripsClearedKeys(t *testing.T) {
	env := []string{"ANTHROPIC_API_KEY=secret", "PATH=/bin", "HOME=/root"}
	filtered := filterEnv(env, []string{"ANTHROPIC_API_KEY"})
	for _, kv := range filtered {
		if strings.HasPrefix(kv, "ANTHROPIC_API_KEY=") {
			t.Fatal("expected ANTHROPIC_API_KEY to be stripped")
		}
	}
	if len(filtered) != 2 {
		t.Fatalf("expected 2 remaining env vars, got %d", len(filtered))
	}
}

func TestParseOutputJSON(t *testing.T) {
	cfg := CLIConfig{OutputFormat: OutputJSON, SessionIDFields: []string{"session_id"}}.withDefaults()
	raw := []byte(`{"data":{"result":"hello there"},"session_id":"abc123"}`)
	text, sessionID, err := parseOutput(cfg, raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if text != "hello there" {
		t.Fatalf("expected extracted text, got %q", text)
	}
	if sessionID != "abc123" {
		t.Fatalf("expected session id abc123, got %q", sessionID)
	}
}

func TestParseOutputJSONL(t *testing.T) {
	cfg := CLIConfig{OutputFormat: OutputJSONL}.withDefaults()
	raw := []byte("{\"text\":\"a\"}\n{\"content\":\"b\"}\n{\"delta\":{\"text\":\"c\"}}\n")
	text, _, err := parseOutput(cfg, raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if text != "abc" {
		t.Fatalf("expected concatenated jsonl text 'abc', got %q", text)
	}
}

func TestLastUserMessagePicksMostRecentUserText(t *testing.T) {
	msgs := []messages.Message{
		messages.NewUser("first"),
		messages.NewAssistant("reply", nil),
		messages.NewUser("second"),
	}
	if got := lastUserMessage(msgs); got != "second" {
		t.Fatalf("expected 'second', got %q", got)
	}
}
