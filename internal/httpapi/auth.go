package httpapi

import (
	"context"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/owliabot/owliabot/pkg/protocol"
)

type deviceCtxKey struct{}

// deviceFromContext returns the authenticated device attached by
// requireDevice, if any.
func deviceFromContext(ctx context.Context) *Device {
	d, _ := ctx.Value(deviceCtxKey{}).(*Device)
	return d
}

// normalizeRemoteAddr strips the IPv4-mapped-IPv6 prefix and collapses
// the loopback form for consistent IP-allowlist comparison.
func normalizeRemoteAddr(addr string) string {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		host = addr
	}
	host = strings.TrimPrefix(host, "::ffff:")
	if host == "::1" {
		host = "127.0.0.1"
	}
	return host
}

// ipAllowed reports whether remoteAddr is permitted by allowlist. An empty
// allowlist means no IP restriction is configured.
func ipAllowed(remoteAddr string, allowlist []*net.IPNet) bool {
	if len(allowlist) == 0 {
		return true
	}
	ip := net.ParseIP(normalizeRemoteAddr(remoteAddr))
	if ip == nil {
		return false
	}
	for _, cidr := range allowlist {
		if cidr.Contains(ip) {
			return true
		}
	}
	return false
}

// ParseCIDRList parses a list of CIDR strings (or bare IPs, treated as
// /32 or /128) into the form ipAllowed consumes.
func ParseCIDRList(entries []string) ([]*net.IPNet, error) {
	out := make([]*net.IPNet, 0, len(entries))
	for _, e := range entries {
		if !strings.Contains(e, "/") {
			if ip := net.ParseIP(e); ip != nil && ip.To4() != nil {
				e += "/32"
			} else {
				e += "/128"
			}
		}
		_, ipNet, err := net.ParseCIDR(e)
		if err != nil {
			return nil, err
		}
		out = append(out, ipNet)
	}
	return out, nil
}

func (s *Server) checkIPAllowlist(w http.ResponseWriter, r *http.Request) bool {
	if ipAllowed(r.RemoteAddr, s.ipAllowlist) {
		return true
	}
	writeErrCode(w, protocol.ErrForbidden, "ip not allowed")
	return false
}

// requireGatewayToken enforces the static X-Gateway-Token header for admin
// routes.
func (s *Server) requireGatewayToken(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.checkIPAllowlist(w, r) {
			return
		}
		if s.gatewayToken == "" || r.Header.Get("X-Gateway-Token") != s.gatewayToken {
			writeErrCode(w, protocol.ErrUnauthorized, "invalid gateway token")
			return
		}
		next(w, r)
	}
}

// requireDevice enforces device auth (API key or device id + token),
// auto-enrolling unknown device ids into the pending queue, and touches
// lastSeenAt on success.
func (s *Server) requireDevice(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.checkIPAllowlist(w, r) {
			return
		}

		now := time.Now()
		var device *Device

		if apiKey, ok := extractBearer(r); ok {
			d, err := s.devices.AuthenticateByAPIKey(r.Context(), apiKey)
			if err != nil {
				writeErrCode(w, protocol.ErrUnauthorized, "auth lookup failed")
				return
			}
			device = d
		} else if deviceID := r.Header.Get("X-Device-Id"); deviceID != "" {
			token := r.Header.Get("X-Device-Token")
			d, err := s.devices.AuthenticateByToken(r.Context(), deviceID, token)
			if err != nil {
				writeErrCode(w, protocol.ErrUnauthorized, "auth lookup failed")
				return
			}
			if d == nil {
				s.devices.EnqueuePending(r.Context(), deviceID, now)
				writeErrCode(w, protocol.ErrDeviceNotPaired, "device is not paired")
				return
			}
			device = d
		}

		if device == nil {
			writeErrCode(w, protocol.ErrUnauthorized, "missing device credentials")
			return
		}
		if device.Status == DeviceRevoked {
			writeErrCode(w, protocol.ErrUnauthorized, "device has been revoked")
			return
		}
		if device.Status != DevicePaired {
			writeErrCode(w, protocol.ErrDeviceNotPaired, "device is not paired")
			return
		}

		s.devices.TouchLastSeen(r.Context(), device.DeviceID, now)
		ctx := context.WithValue(r.Context(), deviceCtxKey{}, device)
		next(w, r.WithContext(ctx))
	}
}

func extractBearer(r *http.Request) (string, bool) {
	auth := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(auth, prefix) {
		return "", false
	}
	key := strings.TrimPrefix(auth, prefix)
	if !strings.HasPrefix(key, "owk_") {
		return "", false
	}
	return key, true
}

// tierAllowed checks a device's scope against a tool call: the tool's
// tier bit must be set, any allowlist must contain the name (if set), the
// denylist must not contain it, and "__" in the name additionally
// requires mcp scope.
func tierAllowed(scope Scope, toolName string, tier protocol.Tier) bool {
	switch tier {
	case protocol.TierNone:
		if !scope.ReadAllowed {
			return false
		}
	case protocol.TierWrite:
		if !scope.WriteAllowed {
			return false
		}
	case protocol.TierSign:
		if !scope.SignAllowed {
			return false
		}
	default:
		return false
	}
	if strings.Contains(toolName, "__") && !scope.MCP {
		return false
	}
	if len(scope.Allowlist) > 0 && !containsStr(scope.Allowlist, toolName) {
		return false
	}
	if containsStr(scope.Denylist, toolName) {
		return false
	}
	return true
}

func containsStr(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
