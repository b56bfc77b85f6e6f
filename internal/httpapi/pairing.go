package httpapi

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/owliabot/owliabot/pkg/protocol"
)

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	defer r.Body.Close()
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(v); err != nil {
		writeErrCode(w, protocol.ErrInvalidRequest, "invalid JSON body: "+err.Error())
		return false
	}
	return true
}

func (s *Server) handlePairRequest(w http.ResponseWriter, r *http.Request) {
	if !s.checkIPAllowlist(w, r) {
		return
	}
	var req struct {
		DeviceID string `json:"deviceId"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.DeviceID == "" {
		writeErrCode(w, protocol.ErrInvalidRequest, "deviceId is required")
		return
	}
	if _, err := s.devices.EnqueuePending(r.Context(), req.DeviceID, time.Now()); err != nil {
		writeErrCode(w, protocol.ErrInvalidRequest, err.Error())
		return
	}
	writeData(w, http.StatusOK, map[string]any{"status": "pending"})
}

func (s *Server) handlePairStatus(w http.ResponseWriter, r *http.Request) {
	if !s.checkIPAllowlist(w, r) {
		return
	}
	deviceID := r.URL.Query().Get("deviceId")
	if deviceID == "" {
		writeErrCode(w, protocol.ErrInvalidRequest, "deviceId is required")
		return
	}
	d, err := s.devices.Get(r.Context(), deviceID)
	if err != nil {
		writeErrCode(w, protocol.ErrInvalidRequest, err.Error())
		return
	}
	if d == nil {
		writeData(w, http.StatusOK, map[string]any{"status": DeviceUnknown})
		return
	}
	writeData(w, http.StatusOK, map[string]any{"status": d.Status})
}

func (s *Server) handleAdminApprove(w http.ResponseWriter, r *http.Request) {
	var req struct {
		DeviceID string `json:"deviceId"`
		Scope    Scope  `json:"scope"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	token, err := s.devices.Approve(r.Context(), req.DeviceID, req.Scope, time.Now())
	if err != nil {
		if err == ErrDeviceNotFound {
			writeErrCode(w, protocol.ErrNotFound, "device not found")
			return
		}
		writeErrCode(w, protocol.ErrInvalidRequest, err.Error())
		return
	}
	writeData(w, http.StatusOK, map[string]any{"token": token})
}

func (s *Server) handleAdminReject(w http.ResponseWriter, r *http.Request) {
	var req struct {
		DeviceID string `json:"deviceId"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := s.devices.Reject(r.Context(), req.DeviceID); err != nil {
		writeErrCode(w, protocol.ErrInvalidRequest, err.Error())
		return
	}
	writeData(w, http.StatusOK, map[string]any{"status": "rejected"})
}

func (s *Server) handleAdminRevoke(w http.ResponseWriter, r *http.Request) {
	var req struct {
		DeviceID string `json:"deviceId"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := s.devices.Revoke(r.Context(), req.DeviceID, time.Now()); err != nil {
		if err == ErrDeviceNotFound {
			writeErrCode(w, protocol.ErrNotFound, "device not found")
			return
		}
		writeErrCode(w, protocol.ErrInvalidRequest, err.Error())
		return
	}
	writeData(w, http.StatusOK, map[string]any{"status": "revoked"})
}

func (s *Server) handleAdminScope(w http.ResponseWriter, r *http.Request) {
	var req struct {
		DeviceID string `json:"deviceId"`
		Scope    Scope  `json:"scope"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := s.devices.SetScope(r.Context(), req.DeviceID, req.Scope); err != nil {
		if err == ErrDeviceNotFound {
			writeErrCode(w, protocol.ErrNotFound, "device not found")
			return
		}
		writeErrCode(w, protocol.ErrInvalidRequest, err.Error())
		return
	}
	writeData(w, http.StatusOK, map[string]any{"status": "updated"})
}

func (s *Server) handleAdminRotateToken(w http.ResponseWriter, r *http.Request) {
	var req struct {
		DeviceID string `json:"deviceId"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	token, err := s.devices.RotateToken(r.Context(), req.DeviceID, time.Now())
	if err != nil {
		if err == ErrDeviceNotFound {
			writeErrCode(w, protocol.ErrNotFound, "device not found")
			return
		}
		writeErrCode(w, protocol.ErrInvalidRequest, err.Error())
		return
	}
	writeData(w, http.StatusOK, map[string]any{"token": token})
}

func (s *Server) handleCreateAPIKey(w http.ResponseWriter, r *http.Request) {
	var req struct {
		DeviceID string `json:"deviceId"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	apiKey, err := s.devices.CreateAPIKey(r.Context(), req.DeviceID, time.Now())
	if err != nil {
		if err == ErrDeviceNotFound {
			writeErrCode(w, protocol.ErrNotFound, "device not found")
			return
		}
		writeErrCode(w, protocol.ErrInvalidRequest, err.Error())
		return
	}
	writeData(w, http.StatusCreated, map[string]any{"apiKey": apiKey})
}

func (s *Server) handleListAPIKeys(w http.ResponseWriter, r *http.Request) {
	deviceID := r.URL.Query().Get("deviceId")
	keys, err := s.devices.ListAPIKeys(r.Context(), deviceID)
	if err != nil {
		writeErrCode(w, protocol.ErrInvalidRequest, err.Error())
		return
	}
	writeData(w, http.StatusOK, map[string]any{"apiKeys": keys})
}

func (s *Server) handleRevokeAPIKey(w http.ResponseWriter, r *http.Request) {
	apiKey := r.URL.Query().Get("apiKey")
	if apiKey == "" {
		writeErrCode(w, protocol.ErrInvalidRequest, "apiKey is required")
		return
	}
	if err := s.devices.RevokeAPIKey(r.Context(), apiKey); err != nil {
		writeErrCode(w, protocol.ErrInvalidRequest, err.Error())
		return
	}
	writeData(w, http.StatusOK, map[string]any{"status": "revoked"})
}
