package messages

import "testing"

func TestValidateUserContentXorToolResults(t *testing.T) {
	m := Message{Role: RoleUser, Content: "hi", ToolResults: []ToolResult{{ToolCallID: "1"}}}
	if err := m.Validate(); err == nil {
		t.Fatal("expected error when both content and toolResults are set")
	}

	if err := NewUser("hi").Validate(); err != nil {
		t.Fatalf("plain user message should validate: %v", err)
	}

	tr := NewToolResults([]ToolResult{{ToolCallID: "1", ToolName: "x", Success: true}})
	if err := tr.Validate(); err != nil {
		t.Fatalf("tool-result message should validate: %v", err)
	}
	if !tr.IsToolResultMessage() {
		t.Fatal("expected IsToolResultMessage to be true")
	}
}

func TestWireRoundTrip(t *testing.T) {
	ctx := ChatContext{
		SystemPrompt: "be helpful",
		Messages: []Message{
			NewUser("hello"),
			NewAssistant("", []ToolCall{{ID: "1", Name: "search", Arguments: []byte(`{"q":"go"}`)}}),
			NewToolResults([]ToolResult{{ToolCallID: "1", ToolName: "search", Success: true, Data: []byte(`{"r":[]}`)}}),
			NewAssistant("done", nil),
		},
	}

	wire := ToWire(ctx)
	back := FromWire(wire)

	if len(back.Messages) != len(ctx.Messages) {
		t.Fatalf("round trip changed message count: got %d want %d", len(back.Messages), len(ctx.Messages))
	}
	for i := range ctx.Messages {
		if back.Messages[i].Role != ctx.Messages[i].Role {
			t.Errorf("message %d: role mismatch after round trip", i)
		}
		if back.Messages[i].Content != ctx.Messages[i].Content {
			t.Errorf("message %d: content mismatch after round trip", i)
		}
	}
	if back.SystemPrompt != ctx.SystemPrompt {
		t.Errorf("system prompt mismatch after round trip")
	}
}
