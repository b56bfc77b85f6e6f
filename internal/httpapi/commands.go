package httpapi

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/owliabot/owliabot/internal/infra"
	"github.com/owliabot/owliabot/internal/messages"
	"github.com/owliabot/owliabot/internal/tools"
	"github.com/owliabot/owliabot/pkg/protocol"
)

type toolCallRequest struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

type commandToolRequest struct {
	Calls []toolCallRequest `json:"calls"`
}

// handleCommandTool implements POST /command/tool: idempotency replay,
// per-device rate limiting, a scope check per call, and fan-out through
// the shared tool executor.
func (s *Server) handleCommandTool(w http.ResponseWriter, r *http.Request) {
	device := deviceFromContext(r.Context())
	body, ok := readBody(w, r)
	if !ok {
		return
	}

	if replayed, done := s.replayIdempotent(w, r, device.DeviceID, body); done {
		_ = replayed
		return
	}

	if !s.checkRateLimit(w, r, device.DeviceID) {
		return
	}

	var req commandToolRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeErrCode(w, protocol.ErrInvalidRequest, "invalid JSON body: "+err.Error())
		return
	}
	if len(req.Calls) == 0 {
		writeErrCode(w, protocol.ErrInvalidRequest, "calls must be non-empty")
		return
	}

	calls := make([]messages.ToolCall, 0, len(req.Calls))
	for _, c := range req.Calls {
		def, ok := s.registry.Get(c.Name)
		if !ok {
			writeErrCode(w, protocol.ErrUnknownTool, fmt.Sprintf("unknown tool: %s", c.Name))
			return
		}
		tier := protocol.TierFor(def.Security.Level)
		if !tierAllowed(device.Scope, c.Name, tier) {
			writeErrCode(w, protocol.ErrForbidden, fmt.Sprintf("device scope does not permit %s", c.Name))
			return
		}
		calls = append(calls, messages.ToolCall{ID: c.ID, Name: c.Name, Arguments: c.Arguments})
	}

	tc := tools.ToolContext{Channel: "http", UserID: device.DeviceID, SessionKey: "device:" + device.DeviceID}
	escalation := tools.EscalationContext{Channel: "http", UserID: device.DeviceID, SessionKey: tc.SessionKey}
	results := s.executor.ExecuteMany(r.Context(), calls, tc, escalation)

	s.emitDeviceEvent(r.Context(), protocol.EventToolResult, device.DeviceID)
	data := map[string]any{"results": results}
	s.finishIdempotent(r, device.DeviceID, body, data)
	writeData(w, http.StatusOK, data)
}

type commandSystemRequest struct {
	Action string          `json:"action"`
	Params json.RawMessage `json:"params,omitempty"`
}

// systemActions is the dispatch table for /command/system, parallel in
// shape to internal/activation's slash-command table but gated by the
// device's system scope bit instead of activation policy.
var systemActions = map[string]func(*Server, *http.Request, json.RawMessage) (any, error){
	"ping": func(s *Server, r *http.Request, params json.RawMessage) (any, error) {
		return map[string]any{"pong": true, "time": time.Now()}, nil
	},
	"cleanup": func(s *Server, r *http.Request, params json.RawMessage) (any, error) {
		if err := s.infra.Cleanup(r.Context(), time.Now()); err != nil {
			return nil, err
		}
		return map[string]any{"status": "cleaned"}, nil
	},
}

func (s *Server) handleCommandSystem(w http.ResponseWriter, r *http.Request) {
	device := deviceFromContext(r.Context())
	if !device.Scope.System {
		writeErrCode(w, protocol.ErrForbidden, "device scope does not permit system actions")
		return
	}

	body, ok := readBody(w, r)
	if !ok {
		return
	}
	if _, done := s.replayIdempotent(w, r, device.DeviceID, body); done {
		return
	}
	if !s.checkRateLimit(w, r, device.DeviceID) {
		return
	}

	var req commandSystemRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeErrCode(w, protocol.ErrInvalidRequest, "invalid JSON body: "+err.Error())
		return
	}
	handler, ok := systemActions[req.Action]
	if !ok {
		writeErrCode(w, protocol.ErrInvalidRequest, fmt.Sprintf("unknown system action: %s", req.Action))
		return
	}
	result, err := handler(s, r, req.Params)
	if err != nil {
		writeErrCode(w, protocol.ErrInvalidRequest, err.Error())
		return
	}
	s.finishIdempotent(r, device.DeviceID, body, result)
	writeData(w, http.StatusOK, result)
}

func readBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	defer r.Body.Close()
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
	if err != nil {
		writeErrCode(w, protocol.ErrInvalidRequest, "request body exceeds 1MB or could not be read")
		return nil, false
	}
	return body, true
}

// idempotencyHash derives hash(method|path|body|deviceId) for binding an
// Idempotency-Key to the request it was issued for.
func idempotencyHash(method, path string, body []byte, deviceID string) string {
	h := sha256.New()
	h.Write([]byte(method))
	h.Write([]byte{'|'})
	h.Write([]byte(path))
	h.Write([]byte{'|'})
	h.Write(body)
	h.Write([]byte{'|'})
	h.Write([]byte(deviceID))
	return hex.EncodeToString(h.Sum(nil))
}

// replayIdempotent checks for a cached response under the request's
// Idempotency-Key header and, if present and matching, writes it verbatim
// and returns done=true. A key present with a different request hash is
// treated as a fresh request (the old record is simply overwritten when
// finishIdempotent runs).
func (s *Server) replayIdempotent(w http.ResponseWriter, r *http.Request, deviceID string, body []byte) (replayed bool, done bool) {
	key := r.Header.Get("Idempotency-Key")
	if key == "" {
		return false, false
	}
	hash := idempotencyHash(r.Method, r.URL.Path, body, deviceID)
	rec, err := s.infra.GetIdempotency(r.Context(), key)
	if err != nil {
		writeErrCode(w, protocol.ErrInvalidRequest, err.Error())
		return false, true
	}
	if rec == nil || rec.RequestHash != hash {
		return false, false
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(rec.Response)
	return true, true
}

func (s *Server) finishIdempotent(r *http.Request, deviceID string, body []byte, data any) {
	key := r.Header.Get("Idempotency-Key")
	if key == "" {
		return
	}
	hash := idempotencyHash(r.Method, r.URL.Path, body, deviceID)
	response, err := json.Marshal(envelope{OK: true, Data: data})
	if err != nil {
		return
	}
	s.infra.SaveIdempotency(r.Context(), key, hash, response, time.Now().Add(s.cfg.IdempotencyTTL))
}

func (s *Server) checkRateLimit(w http.ResponseWriter, r *http.Request, deviceID string) bool {
	bucket := "device:" + deviceID
	res, err := s.infra.CheckRateLimit(r.Context(), bucket, s.cfg.RateLimitWindow.Milliseconds(), s.cfg.RateLimitMax, time.Now())
	if err != nil {
		writeErrCode(w, protocol.ErrInvalidRequest, err.Error())
		return false
	}
	if !res.Allowed {
		writeErrCode(w, protocol.ErrRateLimit, "rate limit exceeded")
		return false
	}
	return true
}

func (s *Server) emitDeviceEvent(ctx context.Context, eventType, deviceID string) {
	now := time.Now()
	ev := infra.Event{
		Type:      eventType,
		Time:      now,
		Status:    "ok",
		Source:    deviceID,
		ExpiresAt: now.Add(24 * time.Hour),
	}
	id, err := s.infra.InsertEvent(ctx, ev)
	if err != nil {
		return
	}
	ev.ID = id
	s.streamHub.push(deviceID, ev)
}
