package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/coder/websocket"
	"github.com/mark3labs/mcp-go/mcp"
)

// wsTransport implements transport.Interface over a raw websocket
// connection (github.com/coder/websocket), for MCP servers that expose a
// bidirectional JSON-RPC stream instead of SSE or streamable-HTTP.
// Modeled on the teacher's WSClient (internal/channels/zalo/personal/
// protocol/ws_client.go): a thin dial/read/write wrapper, read loop run
// on its own goroutine, writes serialized through a mutex.
type wsTransport struct {
	url     string
	headers map[string]string

	mu   sync.Mutex // guards conn writes
	conn *websocket.Conn

	pendingMu sync.Mutex
	pending   map[string]chan *mcp.JSONRPCResponse

	notifyMu sync.RWMutex
	notify   func(mcp.JSONRPCNotification)
}

func newWSTransport(url string, headers map[string]string) *wsTransport {
	return &wsTransport{
		url:     url,
		headers: headers,
		pending: make(map[string]chan *mcp.JSONRPCResponse),
	}
}

// idKey renders a JSON-RPC id (string or number, per the spec) to a
// comparable map key without assuming which concrete type mcp.RequestId
// wraps.
func idKey(id any) string {
	b, err := json.Marshal(id)
	if err != nil {
		return ""
	}
	return string(b)
}

func (t *wsTransport) Start(ctx context.Context) error {
	hdr := toHTTPHeader(t.headers)
	conn, _, err := websocket.Dial(ctx, t.url, &websocket.DialOptions{HTTPHeader: hdr})
	if err != nil {
		return fmt.Errorf("mcp: websocket dial: %w", err)
	}
	conn.SetReadLimit(4 << 20) // 4MB, generous for tool-list/tool-result payloads
	t.conn = conn
	go t.readLoop(context.Background())
	return nil
}

func (t *wsTransport) readLoop(ctx context.Context) {
	for {
		_, data, err := t.conn.Read(ctx)
		if err != nil {
			return
		}
		t.dispatch(data)
	}
}

// dispatch routes an inbound frame to a waiting SendRequest caller (by
// id) or to the notification handler (no id).
func (t *wsTransport) dispatch(data []byte) {
	var probe struct {
		ID *json.RawMessage `json:"id"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return
	}
	if probe.ID == nil {
		var n mcp.JSONRPCNotification
		if err := json.Unmarshal(data, &n); err != nil {
			return
		}
		t.notifyMu.RLock()
		h := t.notify
		t.notifyMu.RUnlock()
		if h != nil {
			h(n)
		}
		return
	}

	var resp mcp.JSONRPCResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return
	}
	key := string(*probe.ID)
	t.pendingMu.Lock()
	ch, ok := t.pending[key]
	if ok {
		delete(t.pending, key)
	}
	t.pendingMu.Unlock()
	if ok {
		ch <- &resp
	}
}

// SendRequest sends request, which already carries the id the mcp-go
// client assigned it, and waits for the matching response frame.
func (t *wsTransport) SendRequest(ctx context.Context, request mcp.JSONRPCRequest) (*mcp.JSONRPCResponse, error) {
	key := idKey(request.ID)

	ch := make(chan *mcp.JSONRPCResponse, 1)
	t.pendingMu.Lock()
	t.pending[key] = ch
	t.pendingMu.Unlock()

	payload, err := json.Marshal(request)
	if err != nil {
		return nil, fmt.Errorf("mcp: marshal request: %w", err)
	}
	if err := t.write(ctx, payload); err != nil {
		t.pendingMu.Lock()
		delete(t.pending, key)
		t.pendingMu.Unlock()
		return nil, err
	}

	select {
	case resp := <-ch:
		return resp, nil
	case <-ctx.Done():
		t.pendingMu.Lock()
		delete(t.pending, key)
		t.pendingMu.Unlock()
		return nil, ctx.Err()
	}
}

func (t *wsTransport) SendNotification(ctx context.Context, notification mcp.JSONRPCNotification) error {
	payload, err := json.Marshal(notification)
	if err != nil {
		return fmt.Errorf("mcp: marshal notification: %w", err)
	}
	return t.write(ctx, payload)
}

func (t *wsTransport) SetNotificationHandler(handler func(notification mcp.JSONRPCNotification)) {
	t.notifyMu.Lock()
	t.notify = handler
	t.notifyMu.Unlock()
}

func (t *wsTransport) write(ctx context.Context, payload []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.conn.Write(ctx, websocket.MessageText, payload)
}

func (t *wsTransport) Close() error {
	if t.conn == nil {
		return nil
	}
	return t.conn.Close(websocket.StatusNormalClosure, "closing")
}

func toHTTPHeader(headers map[string]string) http.Header {
	if len(headers) == 0 {
		return nil
	}
	out := make(http.Header, len(headers))
	for k, v := range headers {
		out.Set(k, v)
	}
	return out
}
