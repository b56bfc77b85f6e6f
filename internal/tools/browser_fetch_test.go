package tools

import (
	"context"
	"testing"
)

func TestBrowserFetchRequiresURL(t *testing.T) {
	tool := NewBrowserFetchTool(BrowserFetchConfig{})
	res := tool.Execute(context.Background(), map[string]interface{}{})
	if res.Success {
		t.Fatal("expected failure when url is missing")
	}
}

func TestBrowserFetchRejectsNonHTTPScheme(t *testing.T) {
	tool := NewBrowserFetchTool(BrowserFetchConfig{})
	res := tool.Execute(context.Background(), map[string]interface{}{"url": "file:///etc/passwd"})
	if res.Success {
		t.Fatal("expected failure for a non-http(s) scheme")
	}
}

func TestBrowserFetchDefaultsTimeout(t *testing.T) {
	tool := NewBrowserFetchTool(BrowserFetchConfig{})
	if tool.timeout <= 0 {
		t.Fatal("expected a positive default timeout")
	}
}
