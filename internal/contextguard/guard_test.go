package contextguard

import (
	"strings"
	"testing"

	"github.com/owliabot/owliabot/internal/messages"
)

func TestApplyL1TruncatesOversizedToolResult(t *testing.T) {
	big := strings.Repeat("x", 20*1024)
	msgs := []messages.Message{
		messages.NewToolResults([]messages.ToolResult{{ToolCallID: "1", ToolName: "t", Success: true, Data: []byte(`"` + big + `"`)}}),
	}
	out := Guard(msgs, Limits{ContextWindow: 1_000_000, MaxTokens: 1})
	data := string(out.Messages[0].ToolResults[0].Data)
	if len(data) >= len(big) {
		t.Fatalf("expected truncation, got length %d", len(data))
	}
	if !strings.Contains(data, "…truncated…") {
		t.Error("expected truncation marker in output")
	}
}

func TestApplyL2NeverDropsSystemMessages(t *testing.T) {
	msgs := []messages.Message{
		messages.NewSystem("system prompt"),
		messages.NewUser(strings.Repeat("a", 100)),
		messages.NewAssistant(strings.Repeat("b", 100), nil),
	}
	out := Guard(msgs, Limits{ContextWindow: 10, MaxTokens: 1, ReserveTokens: 1})
	for _, m := range out.Messages {
		if m.Role == messages.RoleSystem {
			return
		}
	}
	t.Fatal("expected the system message to survive L2 trimming")
}

func TestApplyL2DropsOldestFirst(t *testing.T) {
	msgs := []messages.Message{
		messages.NewSystem("sys"),
		messages.NewUser("oldest " + strings.Repeat("a", 200)),
		messages.NewAssistant("newer "+strings.Repeat("b", 200), nil),
	}
	out := Guard(msgs, Limits{ContextWindow: 70, MaxTokens: 1, ReserveTokens: 1})
	if out.Dropped == 0 {
		t.Fatal("expected at least one message dropped")
	}
	for _, m := range out.Messages {
		if strings.Contains(m.Content, "oldest") {
			t.Fatal("expected the oldest user message to be dropped first")
		}
	}
}

func TestApplyL2DropsToolResultsWithCallingAssistantMessage(t *testing.T) {
	msgs := []messages.Message{
		messages.NewSystem("sys"),
		messages.NewAssistant(strings.Repeat("a", 300), []messages.ToolCall{{ID: "1", Name: "t"}}),
		messages.NewToolResults([]messages.ToolResult{{ToolCallID: "1", ToolName: "t", Success: true, Data: []byte(`"ok"`)}}),
		messages.NewAssistant("final", nil),
	}
	out := Guard(msgs, Limits{ContextWindow: 20, MaxTokens: 1, ReserveTokens: 1})
	for _, m := range out.Messages {
		if m.IsToolResultMessage() {
			t.Fatal("expected tool-result message to be dropped along with its calling assistant message")
		}
	}
}

func TestApplyL2FallsBackToFloorWhenBudgetIsNonPositive(t *testing.T) {
	msgs := []messages.Message{
		messages.NewSystem("sys"),
		messages.NewUser("oldest " + strings.Repeat("a", 50)),
		messages.NewAssistant("middle "+strings.Repeat("b", 50), nil),
		messages.NewUser("newest " + strings.Repeat("c", 50)),
	}
	// ContextWindow - MaxTokens - ReserveTokens is non-positive here, the
	// same shape as a small context window paired with the default
	// reserve; the guard must still shrink to a floor instead of
	// no-op'ing through the whole un-trimmed backlog.
	out := Guard(msgs, Limits{ContextWindow: 8000, MaxTokens: 4000})
	if out.Dropped == 0 {
		t.Fatal("expected messages to be dropped when the budget is non-positive")
	}

	sawSystem := false
	nonSystem := 0
	for _, m := range out.Messages {
		if m.Role == messages.RoleSystem {
			sawSystem = true
			continue
		}
		nonSystem++
		if strings.Contains(m.Content, "oldest") || strings.Contains(m.Content, "middle") {
			t.Fatal("expected only the most recent turn to survive the floor")
		}
	}
	if !sawSystem {
		t.Fatal("expected the system message to survive the floor")
	}
	if nonSystem != 1 {
		t.Fatalf("expected exactly one surviving non-system message, got %d", nonSystem)
	}
}

func TestGuardIsIdempotent(t *testing.T) {
	msgs := []messages.Message{
		messages.NewSystem("sys"),
		messages.NewUser(strings.Repeat("a", 500)),
		messages.NewAssistant(strings.Repeat("b", 500), nil),
	}
	limits := Limits{ContextWindow: 50, MaxTokens: 1, ReserveTokens: 1}
	first := Guard(msgs, limits)
	second := Guard(first.Messages, limits)
	if len(second.Messages) != len(first.Messages) {
		t.Fatalf("expected idempotent guard, got %d then %d messages", len(first.Messages), len(second.Messages))
	}
}
