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

// NativeProvider calls a first-party LLM HTTP API directly over bare
// net/http (no SDK). The exact request/response wire schema of any given
// vendor is out of
// scope for the core (we specify only the model abstraction); this type
// implements just enough of a generic "native chat" shape to exercise key
// resolution, context guarding, and failover end to end.
type NativeProvider struct {
	name         string
	apiKey       string
	baseURL      string
	defaultModel string
	authHeader   string // e.g. "x-api-key" or "Authorization"
	client       *http.Client
	retryConfig  RetryConfig
}

// NativeOption configures a NativeProvider.
type NativeOption func(*NativeProvider)

func WithNativeModel(model string) NativeOption {
	return func(p *NativeProvider) { p.defaultModel = model }
}

func WithNativeBaseURL(baseURL string) NativeOption {
	return func(p *NativeProvider) {
		if baseURL != "" {
			p.baseURL = strings.TrimRight(baseURL, "/")
		}
	}
}

func WithNativeAuthHeader(header string) NativeOption {
	return func(p *NativeProvider) { p.authHeader = header }
}

// NewNativeProvider builds a native provider bound to one vendor's base
// URL and auth convention.
func NewNativeProvider(name, apiKey, baseURL, defaultModel string, opts ...NativeOption) *NativeProvider {
	p := &NativeProvider{
		name:         name,
		apiKey:       apiKey,
		baseURL:      strings.TrimRight(baseURL, "/"),
		defaultModel: defaultModel,
		authHeader:   "Authorization",
		client:       &http.Client{Timeout: 120 * time.Second},
		retryConfig:  DefaultRetryConfig(),
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

func (p *NativeProvider) Name() string        { return p.name }
func (p *NativeProvider) DefaultModel() string { return p.defaultModel }

type nativeWireMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type nativeRequestBody struct {
	Model       string              `json:"model"`
	System      string              `json:"system,omitempty"`
	Messages    []nativeWireMessage `json:"messages"`
	MaxTokens   int                 `json:"max_tokens,omitempty"`
	Temperature float64             `json:"temperature,omitempty"`
	Tools       []messages.ToolSchema `json:"tools,omitempty"`
}

type nativeResponseBody struct {
	Content      string `json:"content"`
	StopReason   string `json:"stop_reason"`
	ToolCalls    []messages.ToolCall `json:"tool_calls,omitempty"`
	Usage        Usage  `json:"usage"`
}

func (p *NativeProvider) buildBody(model string, req ChatRequest) nativeRequestBody {
	wire := make([]nativeWireMessage, 0, len(req.Messages))
	for _, m := range req.Messages {
		wire = append(wire, nativeWireMessage{Role: string(m.Role), Content: m.Content})
	}
	return nativeRequestBody{
		Model:       model,
		System:      req.SystemPrompt,
		Messages:    wire,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
		Tools:       req.Tools,
	}
}

func (p *NativeProvider) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	model := req.Model
	if model == "" {
		model = p.defaultModel
	}
	body := p.buildBody(model, req)

	return RetryDo(ctx, p.retryConfig, func() (*ChatResponse, error) {
		raw, err := p.do(ctx, body)
		if err != nil {
			return nil, err
		}
		var resp nativeResponseBody
		if err := json.Unmarshal(raw, &resp); err != nil {
			return nil, fmt.Errorf("%s: decode response: %w", p.name, err)
		}
		return p.normalize(&resp), nil
	})
}

// ChatStream is implemented as a non-streaming call followed by a single
// synthetic chunk; the core's agentic loop does not require incremental
// streaming, only the final ChatResponse.
func (p *NativeProvider) ChatStream(ctx context.Context, req ChatRequest, onChunk func(StreamChunk)) (*ChatResponse, error) {
	resp, err := p.Chat(ctx, req)
	if err != nil {
		return nil, err
	}
	if onChunk != nil {
		onChunk(StreamChunk{Content: resp.Content, Done: true})
	}
	return resp, nil
}

func (p *NativeProvider) do(ctx context.Context, body nativeRequestBody) ([]byte, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("%s: marshal request: %w", p.name, err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("%s: build request: %w", p.name, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if p.apiKey != "" {
		if p.authHeader == "Authorization" {
			httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)
		} else {
			httpReq.Header.Set(p.authHeader, p.apiKey)
		}
	}

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%s: request failed: %w", p.name, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%s: read response: %w", p.name, err)
	}
	if resp.StatusCode >= 300 {
		return nil, &HTTPStatusError{StatusCode: resp.StatusCode, Body: string(raw)}
	}
	return raw, nil
}

func (p *NativeProvider) normalize(resp *nativeResponseBody) *ChatResponse {
	out := &ChatResponse{
		Content:   resp.Content,
		ToolCalls: resp.ToolCalls,
		Usage:     &resp.Usage,
		Provider:  p.name,
	}
	switch resp.StopReason {
	case "tool_use", "tool_calls":
		out.FinishReason = FinishToolUse
	case "max_tokens", "length":
		out.FinishReason = FinishLength
		out.Truncated = true
	case "", "stop", "end_turn":
		out.FinishReason = FinishStop
	default:
		out.FinishReason = FinishStop
	}
	return out
}
