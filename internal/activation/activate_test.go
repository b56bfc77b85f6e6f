package activation

import (
	"context"
	"testing"
)

func TestShouldHandleMessageAllowlistBlocksRegardlessOfMention(t *testing.T) {
	cfg := Config{
		AllowList:       []string{"u1"},
		ChatType:        ChatGroup,
		SenderID:        "u2",
		GroupID:         "g1",
		MessageBody:     "@bot hello",
		MentionPatterns: []string{`@bot\b`},
	}
	if ShouldHandleMessage(cfg) {
		t.Fatal("expected message from non-allowlisted sender to be dropped regardless of mention")
	}
}

func TestShouldHandleMessageDirectAlwaysPassesAfterAllowlist(t *testing.T) {
	cfg := Config{AllowList: []string{"u1"}, ChatType: ChatDirect, SenderID: "u1", MessageBody: "hi"}
	if !ShouldHandleMessage(cfg) {
		t.Fatal("expected allowlisted DM sender to pass")
	}
}

func TestShouldHandleMessageGroupRequiresMentionByDefault(t *testing.T) {
	cfg := Config{
		ChatType:         ChatGroup,
		SenderID:         "u1",
		GroupID:          "g1",
		MessageBody:      "just chatting",
		MentionPatterns:  []string{`@bot\b`},
		GlobalActivation: GroupActivationMention,
	}
	if ShouldHandleMessage(cfg) {
		t.Fatal("expected unmentioned group message to be dropped under mention policy")
	}

	cfg.MessageBody = "@bot help me"
	if !ShouldHandleMessage(cfg) {
		t.Fatal("expected mentioned group message to pass")
	}
}

func TestShouldHandleMessageGroupOverrideRequireMention(t *testing.T) {
	cfg := Config{
		ChatType:    ChatGroup,
		SenderID:    "u1",
		GroupID:     "g1",
		MessageBody: "no mention here",
		GroupOverrides: map[string]GroupOverride{
			"g1": {Enabled: true, RequireMention: true},
		},
	}
	if ShouldHandleMessage(cfg) {
		t.Fatal("expected group override requiring mention to block unmentioned message")
	}
}

func TestShouldHandleMessageGroupOverrideDisabled(t *testing.T) {
	cfg := Config{
		ChatType: ChatGroup,
		SenderID: "u1",
		GroupID:  "g1",
		GroupOverrides: map[string]GroupOverride{
			"g1": {Enabled: false},
		},
	}
	if ShouldHandleMessage(cfg) {
		t.Fatal("expected disabled group override to block")
	}
}

func TestParseCommandStripsBotnameSuffix(t *testing.T) {
	cmd, ok := ParseCommand("/new@mybot arg")
	if !ok || cmd != "/new" {
		t.Fatalf("expected /new, got %q ok=%v", cmd, ok)
	}
}

func TestParseCommandNonCommand(t *testing.T) {
	if _, ok := ParseCommand("hello"); ok {
		t.Fatal("expected non-command text to not parse as a command")
	}
}

func TestDispatchNewTriggersSummarizeThenRotate(t *testing.T) {
	var summarized, rotated bool
	cc := CommandContext{
		RealUserMessageCount: 2,
		SummarizeOnReset:     true,
		Summarize: func(ctx context.Context) (string, error) {
			summarized = true
			return "summary", nil
		},
		Rotate: func(ctx context.Context) error {
			rotated = true
			return nil
		},
	}
	res, ok, err := Dispatch(context.Background(), "/new", cc)
	if err != nil || !ok {
		t.Fatalf("unexpected dispatch failure: ok=%v err=%v", ok, err)
	}
	if !res.Handled {
		t.Fatal("expected /new to be marked handled")
	}
	if !summarized || !rotated {
		t.Fatalf("expected both summarize and rotate to run, got summarized=%v rotated=%v", summarized, rotated)
	}
}

func TestDispatchNewSkipsSummarizeUnderTwoMessages(t *testing.T) {
	var summarized bool
	cc := CommandContext{
		RealUserMessageCount: 1,
		SummarizeOnReset:     true,
		Summarize: func(ctx context.Context) (string, error) {
			summarized = true
			return "summary", nil
		},
		Rotate: func(ctx context.Context) error { return nil },
	}
	if _, _, err := Dispatch(context.Background(), "/new", cc); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if summarized {
		t.Fatal("expected summarize to be skipped with fewer than 2 real user messages")
	}
}

func TestDispatchUnknownCommandFallsThrough(t *testing.T) {
	_, ok, err := Dispatch(context.Background(), "/start", CommandContext{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Fatal("expected /start to not be handled, letting it reach the agentic loop")
	}
}
