package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/owliabot/owliabot/internal/messages"
)

// OpenAICompatProvider speaks the OpenAI chat-completions wire format
// against any compatible endpoint (self-hosted or third-party).
type OpenAICompatProvider struct {
	baseURL      string
	apiKey       string
	defaultModel string
	client       *http.Client
	retryConfig  RetryConfig
}

func NewOpenAICompatProvider(baseURL, apiKey, defaultModel string) *OpenAICompatProvider {
	return &OpenAICompatProvider{
		baseURL:      strings.TrimRight(baseURL, "/"),
		apiKey:       apiKey,
		defaultModel: defaultModel,
		client:       &http.Client{Timeout: 120 * time.Second},
		retryConfig:  DefaultRetryConfig(),
	}
}

func (p *OpenAICompatProvider) Name() string        { return "openai-compatible" }
func (p *OpenAICompatProvider) DefaultModel() string { return p.defaultModel }

type oaMessage struct {
	Role      string          `json:"role"`
	Content   string          `json:"content"`
	ToolCalls []oaToolCall    `json:"tool_calls,omitempty"`
}

type oaToolCall struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Function struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	} `json:"function"`
}

type oaTool struct {
	Type     string `json:"type"`
	Function struct {
		Name        string          `json:"name"`
		Description string          `json:"description"`
		Parameters  json.RawMessage `json:"parameters"`
	} `json:"function"`
}

type oaRequest struct {
	Model       string      `json:"model"`
	Messages    []oaMessage `json:"messages"`
	Tools       []oaTool    `json:"tools,omitempty"`
	MaxTokens   int         `json:"max_tokens,omitempty"`
	Temperature float64     `json:"temperature,omitempty"`
}

type oaChoice struct {
	Message      oaMessage `json:"message"`
	FinishReason string    `json:"finish_reason"`
}

type oaResponse struct {
	Choices []oaChoice `json:"choices"`
	Usage   struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

func (p *OpenAICompatProvider) translate(req ChatRequest) oaRequest {
	wire := make([]oaMessage, 0, len(req.Messages)+1)
	if req.SystemPrompt != "" {
		wire = append(wire, oaMessage{Role: "system", Content: req.SystemPrompt})
	}
	for _, m := range req.Messages {
		switch m.Role {
		case "assistant":
			calls := make([]oaToolCall, 0, len(m.ToolCalls))
			for _, tc := range m.ToolCalls {
				var oc oaToolCall
				oc.ID = tc.ID
				oc.Type = "function"
				oc.Function.Name = tc.Name
				oc.Function.Arguments = string(tc.Arguments)
				calls = append(calls, oc)
			}
			wire = append(wire, oaMessage{Role: "assistant", Content: m.Content, ToolCalls: calls})
		default:
			for _, tr := range m.ToolResults {
				content := tr.Error
				if tr.Success {
					content = string(tr.Data)
				}
				wire = append(wire, oaMessage{Role: "tool", Content: content})
			}
			if m.Content != "" {
				wire = append(wire, oaMessage{Role: string(m.Role), Content: m.Content})
			}
		}
	}

	tools := make([]oaTool, 0, len(req.Tools))
	for _, t := range req.Tools {
		var ot oaTool
		ot.Type = "function"
		ot.Function.Name = t.Name
		ot.Function.Description = t.Description
		ot.Function.Parameters = t.Parameters
		tools = append(tools, ot)
	}

	model := req.Model
	if model == "" {
		model = p.defaultModel
	}
	return oaRequest{Model: model, Messages: wire, Tools: tools, MaxTokens: req.MaxTokens, Temperature: req.Temperature}
}

func (p *OpenAICompatProvider) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	body := p.translate(req)
	return RetryDo(ctx, p.retryConfig, func() (*ChatResponse, error) {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("openai-compatible: marshal request: %w", err)
		}
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/chat/completions", bytes.NewReader(payload))
		if err != nil {
			return nil, fmt.Errorf("openai-compatible: build request: %w", err)
		}
		httpReq.Header.Set("Content-Type", "application/json")
		if p.apiKey != "" {
			httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)
		}

		resp, err := p.client.Do(httpReq)
		if err != nil {
			return nil, fmt.Errorf("openai-compatible: request failed: %w", err)
		}
		defer resp.Body.Close()

		raw, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("openai-compatible: read response: %w", err)
		}
		if resp.StatusCode >= 300 {
			return nil, &HTTPStatusError{StatusCode: resp.StatusCode, Body: string(raw)}
		}

		var parsed oaResponse
		if err := json.Unmarshal(raw, &parsed); err != nil {
			return nil, fmt.Errorf("openai-compatible: decode response: %w", err)
		}
		return p.normalize(&parsed), nil
	})
}

func (p *OpenAICompatProvider) ChatStream(ctx context.Context, req ChatRequest, onChunk func(StreamChunk)) (*ChatResponse, error) {
	resp, err := p.Chat(ctx, req)
	if err != nil {
		return nil, err
	}
	if onChunk != nil {
		onChunk(StreamChunk{Content: resp.Content, Done: true})
	}
	return resp, nil
}

func toolCallFromOA(tc oaToolCall) messages.ToolCall {
	return messages.ToolCall{ID: tc.ID, Name: tc.Function.Name, Arguments: json.RawMessage(tc.Function.Arguments)}
}

func (p *OpenAICompatProvider) normalize(resp *oaResponse) *ChatResponse {
	out := &ChatResponse{Provider: p.Name()}
	if len(resp.Choices) == 0 {
		out.FinishReason = FinishError
		out.ErrorMessage = "openai-compatible: empty choices"
		return out
	}
	choice := resp.Choices[0]
	out.Content = choice.Message.Content
	for _, tc := range choice.Message.ToolCalls {
		out.ToolCalls = append(out.ToolCalls, toolCallFromOA(tc))
	}
	out.Usage = &Usage{
		PromptTokens:     resp.Usage.PromptTokens,
		CompletionTokens: resp.Usage.CompletionTokens,
		TotalTokens:      resp.Usage.TotalTokens,
	}
	switch choice.FinishReason {
	case "tool_calls":
		out.FinishReason = FinishToolUse
	case "length":
		out.FinishReason = FinishLength
		out.Truncated = true
	default:
		out.FinishReason = FinishStop
	}
	return out
}
