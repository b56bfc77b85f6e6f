package tools

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
)

const (
	defaultBrowserTimeoutSeconds = 30
	defaultBrowserMaxChars       = defaultFetchMaxChars
)

// BrowserFetchTool renders a URL in a headless Chrome instance and
// returns the post-render text, a fallback for pages web_fetch's plain
// HTML GET can't read because the content is assembled by JavaScript.
type BrowserFetchTool struct {
	chromePath string
	timeout    time.Duration
	maxChars   int
}

// BrowserFetchConfig mirrors config.BrowserToolConfig.
type BrowserFetchConfig struct {
	ChromePath     string
	TimeoutSeconds int
}

func NewBrowserFetchTool(cfg BrowserFetchConfig) *BrowserFetchTool {
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = defaultBrowserTimeoutSeconds * time.Second
	}
	return &BrowserFetchTool{
		chromePath: cfg.ChromePath,
		timeout:    timeout,
		maxChars:   defaultBrowserMaxChars,
	}
}

func (t *BrowserFetchTool) Name() string { return "browser_fetch" }

func (t *BrowserFetchTool) Description() string {
	return "Render a URL in a headless browser and return the visible text. Use only when web_fetch returns an empty or JavaScript-shell page."
}

func (t *BrowserFetchTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"url": map[string]interface{}{
				"type":        "string",
				"description": "HTTP or HTTPS URL to render.",
			},
			"waitSelector": map[string]interface{}{
				"type":        "string",
				"description": "Optional CSS selector to wait for before extracting text.",
			},
		},
		"required": []string{"url"},
	}
}

func (t *BrowserFetchTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	rawURL, _ := args["url"].(string)
	if rawURL == "" {
		return ErrorResult("url is required")
	}
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return ErrorResult(fmt.Sprintf("invalid URL: %v", err))
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return ErrorResult("only http and https URLs are supported")
	}
	if err := checkSSRF(rawURL); err != nil {
		return ErrorResult(fmt.Sprintf("SSRF protection: %v", err))
	}
	waitSelector, _ := args["waitSelector"].(string)

	renderCtx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	text, err := t.render(renderCtx, rawURL, waitSelector)
	if err != nil {
		return ErrorResult(fmt.Sprintf("browser fetch failed: %s", truncateStr(err.Error(), defaultErrorMaxChars)))
	}
	if len(text) > t.maxChars {
		text = text[:t.maxChars]
	}

	wrapped := wrapExternalContent(fmt.Sprintf("URL: %s\n\n<web_content source=\"external\" url=%q>\n%s\n</web_content>\n", rawURL, rawURL, text), "Browser Fetch", true)
	return NewResult(wrapped)
}

func (t *BrowserFetchTool) render(ctx context.Context, rawURL, waitSelector string) (string, error) {
	l := launcher.New()
	if t.chromePath != "" {
		l = l.Bin(t.chromePath)
	}
	controlURL, err := l.Launch()
	if err != nil {
		return "", fmt.Errorf("launch chrome: %w", err)
	}
	defer l.Cleanup()

	browser := rod.New().ControlURL(controlURL).Context(ctx)
	if err := browser.Connect(); err != nil {
		return "", fmt.Errorf("connect to chrome: %w", err)
	}
	defer browser.Close()

	page, err := browser.Page(proto.TargetCreateTarget{URL: "about:blank"})
	if err != nil {
		return "", fmt.Errorf("open page: %w", err)
	}
	if err := page.Navigate(rawURL); err != nil {
		return "", fmt.Errorf("navigate: %w", err)
	}
	if err := page.WaitLoad(); err != nil {
		return "", fmt.Errorf("wait load: %w", err)
	}
	if waitSelector != "" {
		if _, err := page.Element(waitSelector); err != nil {
			return "", fmt.Errorf("wait for selector %q: %w", waitSelector, err)
		}
	}

	body, err := page.Element("body")
	if err != nil {
		return "", fmt.Errorf("find body: %w", err)
	}
	text, err := body.Text()
	if err != nil {
		return "", fmt.Errorf("extract text: %w", err)
	}
	return text, nil
}
