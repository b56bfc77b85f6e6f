package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/owliabot/owliabot/internal/infra/sqlite"
	"github.com/owliabot/owliabot/internal/tools"
	"github.com/owliabot/owliabot/pkg/protocol"
)

func newTestServer(t *testing.T) (*Server, DeviceStore) {
	t.Helper()
	store, err := sqlite.Open(":memory:")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	registry := tools.NewRegistry()
	registry.Register(tools.ToolDefinition{
		Name:        "echo",
		Description: "echoes input",
		Security:    tools.Security{Level: protocol.SecurityRead},
		Execute: func(tc tools.ToolContext, args json.RawMessage) *tools.Result {
			return tools.OkText(string(args))
		},
	})
	registry.Register(tools.ToolDefinition{
		Name:        "todo__add",
		Description: "adds a todo",
		Security:    tools.Security{Level: protocol.SecurityWrite},
		Execute: func(tc tools.ToolContext, args json.RawMessage) *tools.Result {
			return tools.OkText("added")
		},
	})
	executor := tools.NewExecutor(tools.ExecutorDeps{
		Registry: registry,
		Policy:   tools.NewPolicyEngine(tools.GlobalPolicy{}),
	})

	devices := NewMemoryDeviceStore()
	srv, err := NewServer(Config{Host: "127.0.0.1", Port: 0, GatewayToken: "admin-secret"}, devices, store, registry, executor)
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	return srv, devices
}

func pairDevice(t *testing.T, devices DeviceStore, deviceID string, scope Scope) string {
	t.Helper()
	ctx := context.Background()
	if _, err := devices.EnqueuePending(ctx, deviceID, time.Now()); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	token, err := devices.Approve(ctx, deviceID, scope, time.Now())
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	return token
}

func doRequest(mux http.Handler, method, path string, body []byte, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func decodeEnvelope(t *testing.T, rec *httptest.ResponseRecorder) envelope {
	t.Helper()
	var env envelope
	if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode envelope: %v (body=%s)", err, rec.Body.String())
	}
	return env
}

func TestHealthIsPublic(t *testing.T) {
	srv, _ := newTestServer(t)
	mux := srv.BuildMux()
	rec := doRequest(mux, "GET", "/health", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestStatusRequiresGatewayToken(t *testing.T) {
	srv, _ := newTestServer(t)
	mux := srv.BuildMux()

	rec := doRequest(mux, "GET", "/status", nil, nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", rec.Code)
	}

	rec = doRequest(mux, "GET", "/status", nil, map[string]string{"X-Gateway-Token": "admin-secret"})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 with token, got %d", rec.Code)
	}
}

func TestDeviceAutoEnrollsOnUnknownID(t *testing.T) {
	srv, devices := newTestServer(t)
	mux := srv.BuildMux()

	rec := doRequest(mux, "POST", "/command/tool", []byte(`{"calls":[]}`), map[string]string{
		"X-Device-Id":    "dev-new",
		"X-Device-Token": "whatever",
	})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 not-paired, got %d", rec.Code)
	}
	env := decodeEnvelope(t, rec)
	if env.Error == nil || env.Error.Code != protocol.ErrDeviceNotPaired {
		t.Fatalf("expected ERR_DEVICE_NOT_PAIRED, got %+v", env.Error)
	}

	d, err := devices.Get(context.Background(), "dev-new")
	if err != nil || d == nil {
		t.Fatalf("expected device auto-enrolled as pending, got %+v err=%v", d, err)
	}
	if d.Status != DevicePending {
		t.Fatalf("expected pending status, got %s", d.Status)
	}
}

func TestCommandToolWithReadScopeSucceeds(t *testing.T) {
	srv, devices := newTestServer(t)
	mux := srv.BuildMux()
	token := pairDevice(t, devices, "dev-1", Scope{ReadAllowed: true})

	body := []byte(`{"calls":[{"id":"1","name":"echo","arguments":"\"hi\""}]}`)
	rec := doRequest(mux, "POST", "/command/tool", body, map[string]string{
		"X-Device-Id":    "dev-1",
		"X-Device-Token": token,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%s", rec.Code, rec.Body.String())
	}
}

func TestCommandToolWithoutWriteScopeIsForbidden(t *testing.T) {
	srv, devices := newTestServer(t)
	mux := srv.BuildMux()
	token := pairDevice(t, devices, "dev-2", Scope{ReadAllowed: true})

	body := []byte(`{"calls":[{"id":"1","name":"todo__add","arguments":"{}"}]}`)
	rec := doRequest(mux, "POST", "/command/tool", body, map[string]string{
		"X-Device-Id":    "dev-2",
		"X-Device-Token": token,
	})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d body=%s", rec.Code, rec.Body.String())
	}
}

func TestCommandToolUnknownToolIsForbidden(t *testing.T) {
	srv, devices := newTestServer(t)
	mux := srv.BuildMux()
	token := pairDevice(t, devices, "dev-3", Scope{ReadAllowed: true, WriteAllowed: true})

	body := []byte(`{"calls":[{"id":"1","name":"nope","arguments":"{}"}]}`)
	rec := doRequest(mux, "POST", "/command/tool", body, map[string]string{
		"X-Device-Id":    "dev-3",
		"X-Device-Token": token,
	})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}
	env := decodeEnvelope(t, rec)
	if env.Error == nil || env.Error.Code != protocol.ErrUnknownTool {
		t.Fatalf("expected ERR_UNKNOWN_TOOL, got %+v", env.Error)
	}
}

func TestDunderToolRequiresMCPScope(t *testing.T) {
	srv, devices := newTestServer(t)
	mux := srv.BuildMux()
	token := pairDevice(t, devices, "dev-4", Scope{WriteAllowed: true}) // no MCP bit

	body := []byte(`{"calls":[{"id":"1","name":"todo__add","arguments":"{}"}]}`)
	rec := doRequest(mux, "POST", "/command/tool", body, map[string]string{
		"X-Device-Id":    "dev-4",
		"X-Device-Token": token,
	})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 without mcp scope, got %d", rec.Code)
	}
}

func TestIdempotentReplayReturnsCachedResponse(t *testing.T) {
	srv, devices := newTestServer(t)
	mux := srv.BuildMux()
	token := pairDevice(t, devices, "dev-5", Scope{ReadAllowed: true})
	headers := map[string]string{
		"X-Device-Id":      "dev-5",
		"X-Device-Token":   token,
		"Idempotency-Key":  "fixed-key",
	}
	body := []byte(`{"calls":[{"id":"1","name":"echo","arguments":"\"hi\""}]}`)

	first := doRequest(mux, "POST", "/command/tool", body, headers)
	second := doRequest(mux, "POST", "/command/tool", body, headers)

	if first.Code != http.StatusOK || second.Code != http.StatusOK {
		t.Fatalf("expected both 200, got %d and %d", first.Code, second.Code)
	}
	if first.Body.String() != second.Body.String() {
		t.Fatalf("expected identical replayed body, got %q vs %q", first.Body.String(), second.Body.String())
	}
}

func TestRateLimitBlocksAfterMax(t *testing.T) {
	srv, devices := newTestServer(t)
	srv.cfg.RateLimitMax = 1
	srv.cfg.RateLimitWindow = time.Minute
	mux := srv.BuildMux()
	token := pairDevice(t, devices, "dev-6", Scope{ReadAllowed: true})
	headers := map[string]string{"X-Device-Id": "dev-6", "X-Device-Token": token}
	body := []byte(`{"calls":[{"id":"1","name":"echo","arguments":"\"hi\""}]}`)

	first := doRequest(mux, "POST", "/command/tool", body, headers)
	if first.Code != http.StatusOK {
		t.Fatalf("expected first call to succeed, got %d", first.Code)
	}
	second := doRequest(mux, "POST", "/command/tool", body, headers)
	if second.Code != http.StatusTooManyRequests {
		t.Fatalf("expected second call rate-limited, got %d", second.Code)
	}
}

func TestCommandSystemRequiresSystemScope(t *testing.T) {
	srv, devices := newTestServer(t)
	mux := srv.BuildMux()
	token := pairDevice(t, devices, "dev-7", Scope{ReadAllowed: true})

	rec := doRequest(mux, "POST", "/command/system", []byte(`{"action":"ping"}`), map[string]string{
		"X-Device-Id":    "dev-7",
		"X-Device-Token": token,
	})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 without system scope, got %d", rec.Code)
	}

	tokenSys := pairDevice(t, devices, "dev-8", Scope{System: true})
	rec = doRequest(mux, "POST", "/command/system", []byte(`{"action":"ping"}`), map[string]string{
		"X-Device-Id":    "dev-8",
		"X-Device-Token": tokenSys,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 with system scope, got %d body=%s", rec.Code, rec.Body.String())
	}
}

func TestEventsPollReturnsEmittedEvent(t *testing.T) {
	srv, devices := newTestServer(t)
	mux := srv.BuildMux()
	token := pairDevice(t, devices, "dev-9", Scope{ReadAllowed: true})
	headers := map[string]string{"X-Device-Id": "dev-9", "X-Device-Token": token}

	// emit an event via /command/tool's side effect
	body := []byte(`{"calls":[{"id":"1","name":"echo","arguments":"\"hi\""}]}`)
	doRequest(mux, "POST", "/command/tool", body, headers)

	rec := doRequest(mux, "GET", "/events/poll?since=0", nil, headers)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%s", rec.Code, rec.Body.String())
	}
	env := decodeEnvelope(t, rec)
	data, ok := env.Data.(map[string]any)
	if !ok {
		t.Fatalf("expected data object, got %T", env.Data)
	}
	events, ok := data["events"].([]any)
	if !ok || len(events) == 0 {
		t.Fatalf("expected at least one event, got %+v", data["events"])
	}
}

func TestMCPToolsListFiltersbyScope(t *testing.T) {
	srv, devices := newTestServer(t)
	mux := srv.BuildMux()
	token := pairDevice(t, devices, "dev-10", Scope{ReadAllowed: true})

	rpcBody := []byte(`{"jsonrpc":"2.0","id":1,"method":"tools/list"}`)
	rec := doRequest(mux, "POST", "/mcp", rpcBody, map[string]string{
		"X-Device-Id":    "dev-10",
		"X-Device-Token": token,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%s", rec.Code, rec.Body.String())
	}
	var resp rpcResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Error != nil {
		t.Fatalf("unexpected rpc error: %+v", resp.Error)
	}
	result, ok := resp.Result.(map[string]any)
	if !ok {
		t.Fatalf("expected result object, got %T", resp.Result)
	}
	toolList, ok := result["tools"].([]any)
	if !ok {
		t.Fatalf("expected tools array, got %T", result["tools"])
	}
	for _, item := range toolList {
		toolMap := item.(map[string]any)
		if toolMap["name"] == "todo__add" {
			t.Fatalf("expected write-only tool to be filtered out for read-only device")
		}
	}
}

func TestMCPUnknownMethodReturnsMethodNotFound(t *testing.T) {
	srv, devices := newTestServer(t)
	mux := srv.BuildMux()
	token := pairDevice(t, devices, "dev-11", Scope{ReadAllowed: true})

	rpcBody := []byte(`{"jsonrpc":"2.0","id":1,"method":"nope/nope"}`)
	rec := doRequest(mux, "POST", "/mcp", rpcBody, map[string]string{
		"X-Device-Id":    "dev-11",
		"X-Device-Token": token,
	})
	var resp rpcResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Error == nil || resp.Error.Code != protocol.RPCMethodNotFound {
		t.Fatalf("expected method-not-found error, got %+v", resp.Error)
	}
}

func TestIPAllowlistBlocksPairing(t *testing.T) {
	srv, _ := newTestServer(t)
	srv.ipAllowlist, _ = ParseCIDRList([]string{"10.0.0.0/8"})
	mux := srv.BuildMux()

	req := httptest.NewRequest("POST", "/pair/request", bytes.NewReader([]byte(`{"deviceId":"x"}`)))
	req.RemoteAddr = "192.168.1.5:1234"
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 outside allowlist, got %d", rec.Code)
	}
}
