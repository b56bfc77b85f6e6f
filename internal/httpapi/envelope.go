package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/owliabot/owliabot/pkg/protocol"
)

// envelope is the response shape for every non-MCP endpoint:
// {ok, data?, error?: {code, message}}.
type envelope struct {
	OK    bool        `json:"ok"`
	Data  interface{} `json:"data,omitempty"`
	Error *envErr     `json:"error,omitempty"`
}

type envErr struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeData(w http.ResponseWriter, status int, data interface{}) {
	writeEnvelope(w, status, envelope{OK: true, Data: data})
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeEnvelope(w, status, envelope{OK: false, Error: &envErr{Code: code, Message: message}})
}

func writeEnvelope(w http.ResponseWriter, status int, env envelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(env)
}

func statusForCode(code string) int {
	switch code {
	case protocol.ErrUnauthorized, protocol.ErrDeviceNotPaired:
		return http.StatusUnauthorized
	case protocol.ErrForbidden, protocol.ErrUnknownTool:
		return http.StatusForbidden
	case protocol.ErrInvalidRequest:
		return http.StatusBadRequest
	case protocol.ErrNotFound:
		return http.StatusNotFound
	case protocol.ErrRateLimit:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

func writeErrCode(w http.ResponseWriter, code, message string) {
	writeError(w, statusForCode(code), code, message)
}
