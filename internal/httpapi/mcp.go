package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/owliabot/owliabot/internal/messages"
	"github.com/owliabot/owliabot/internal/tools"
	"github.com/owliabot/owliabot/pkg/protocol"
)

// rpcRequest/rpcResponse are the hand-rolled JSON-RPC 2.0 envelope types
// for the inbound /mcp surface. mark3labs/mcp-go (used by internal/mcp's
// outbound client manager) targets the client side of the protocol and
// doesn't export matching server-side request/response types, so these
// are written directly against the JSON-RPC 2.0 spec instead of reusing
// that library.
type rpcRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  interface{}     `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func writeRPCResult(w http.ResponseWriter, id json.RawMessage, result interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(rpcResponse{JSONRPC: "2.0", ID: id, Result: result})
}

func writeRPCError(w http.ResponseWriter, id json.RawMessage, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK) // JSON-RPC errors are carried in the body, not the status line
	json.NewEncoder(w).Encode(rpcResponse{JSONRPC: "2.0", ID: id, Error: &rpcError{Code: code, Message: message}})
}

// handleMCP implements the JSON-RPC 2.0 surface at POST /mcp: tools/list,
// tools/call, servers/list, each scope-checked the same way as
// /command/tool.
func (s *Server) handleMCP(w http.ResponseWriter, r *http.Request) {
	device := deviceFromContext(r.Context())

	body, ok := readBody(w, r)
	if !ok {
		return
	}

	var req rpcRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeRPCError(w, nil, protocol.RPCParseError, "invalid JSON-RPC request: "+err.Error())
		return
	}
	if req.JSONRPC != "2.0" || req.Method == "" {
		writeRPCError(w, req.ID, protocol.RPCInvalidRequest, "jsonrpc must be \"2.0\" and method must be set")
		return
	}

	switch req.Method {
	case protocol.MCPMethodToolsList:
		s.rpcToolsList(w, req, device)
	case protocol.MCPMethodToolsCall:
		s.rpcToolsCall(w, r, req, device)
	case protocol.MCPMethodServersList:
		s.rpcServersList(w, req)
	default:
		writeRPCError(w, req.ID, protocol.RPCMethodNotFound, "unknown method: "+req.Method)
	}
}

func (s *Server) rpcToolsList(w http.ResponseWriter, req rpcRequest, device *Device) {
	var out []messages.ToolSchema
	for _, name := range s.registry.List() {
		def, ok := s.registry.Get(name)
		if !ok {
			continue
		}
		tier := protocol.TierFor(def.Security.Level)
		if !tierAllowed(device.Scope, def.Name, tier) {
			continue
		}
		out = append(out, tools.ToProviderSchema(def))
	}
	writeRPCResult(w, req.ID, map[string]any{"tools": out})
}

type rpcToolCallParams struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

func (s *Server) rpcToolsCall(w http.ResponseWriter, r *http.Request, req rpcRequest, device *Device) {
	var params rpcToolCallParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		writeRPCError(w, req.ID, protocol.RPCInvalidParams, "invalid params: "+err.Error())
		return
	}
	if params.Name == "" {
		writeRPCError(w, req.ID, protocol.RPCInvalidParams, "name is required")
		return
	}
	def, ok := s.registry.Get(params.Name)
	if !ok {
		writeRPCError(w, req.ID, protocol.RPCMethodNotFound, "unknown tool: "+params.Name)
		return
	}
	tier := protocol.TierFor(def.Security.Level)
	if !tierAllowed(device.Scope, params.Name, tier) {
		writeRPCError(w, req.ID, protocol.RPCInvalidRequest, "device scope does not permit "+params.Name)
		return
	}

	call := messages.ToolCall{ID: "mcp", Name: params.Name, Arguments: params.Arguments}
	tc := tools.ToolContext{Channel: "mcp", UserID: device.DeviceID, SessionKey: "device:" + device.DeviceID}
	escalation := tools.EscalationContext{Channel: "mcp", UserID: device.DeviceID, SessionKey: tc.SessionKey}
	result := s.executor.Execute(r.Context(), call, tc, escalation)

	s.emitDeviceEvent(r.Context(), protocol.EventToolResult, device.DeviceID)
	writeRPCResult(w, req.ID, result)
}

func (s *Server) rpcServersList(w http.ResponseWriter, req rpcRequest) {
	if s.mcpManager == nil {
		writeRPCResult(w, req.ID, map[string]any{"servers": []any{}})
		return
	}
	writeRPCResult(w, req.ID, map[string]any{"servers": s.mcpManager.ServerStatus()})
}
