// Package httpapi implements the HTTP channel server: device pairing,
// scope-checked tool/system command endpoints, idempotency, rate
// limiting, event polling with ACK, and the JSON-RPC MCP surface, in a
// handler-per-concern layout behind a single BuildMux/http.Server
// lifecycle.
package httpapi

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/owliabot/owliabot/internal/infra"
	"github.com/owliabot/owliabot/internal/mcp"
	"github.com/owliabot/owliabot/internal/tools"
	"github.com/owliabot/owliabot/pkg/protocol"
)

// Config bundles the Server's tunables.
type Config struct {
	Host              string
	Port              int
	GatewayToken      string
	IPAllowlist       []string // CIDR or bare IP entries; empty = no restriction
	IdempotencyTTL    time.Duration
	RateLimitWindow   time.Duration
	RateLimitMax      int
	PollBatchSize     int
}

// Server is the single HTTP server bound to (host, port).
type Server struct {
	cfg          Config
	gatewayToken string
	ipAllowlist  []*net.IPNet

	devices    DeviceStore
	infra      infra.Store
	registry   *tools.Registry
	executor   *tools.Executor
	mcpManager *mcp.Manager // optional; nil means servers/list reports no servers
	streamHub  *eventStreamHub

	startedAt time.Time

	httpServer *http.Server
	mux        *http.ServeMux
}

// NewServer builds a Server. devices and infraStore are required
// collaborators; registry/executor are required for /command/tool. Call
// WithMCPManager afterward to enable servers/list on the /mcp surface.
func NewServer(cfg Config, devices DeviceStore, infraStore infra.Store, registry *tools.Registry, executor *tools.Executor) (*Server, error) {
	allowlist, err := ParseCIDRList(cfg.IPAllowlist)
	if err != nil {
		return nil, fmt.Errorf("httpapi: parse ip allowlist: %w", err)
	}
	if cfg.IdempotencyTTL <= 0 {
		cfg.IdempotencyTTL = 5 * time.Minute
	}
	if cfg.RateLimitWindow <= 0 {
		cfg.RateLimitWindow = time.Minute
	}
	if cfg.RateLimitMax <= 0 {
		cfg.RateLimitMax = 60
	}
	if cfg.PollBatchSize <= 0 {
		cfg.PollBatchSize = 100
	}
	return &Server{
		cfg:          cfg,
		gatewayToken: cfg.GatewayToken,
		ipAllowlist:  allowlist,
		devices:      devices,
		infra:        infraStore,
		registry:     registry,
		executor:     executor,
		streamHub:    newEventStreamHub(),
		startedAt:    time.Now(),
	}, nil
}

// WithMCPManager attaches the outbound MCP server manager so servers/list
// can report live connection status. Optional; without it servers/list
// always returns an empty list.
func (s *Server) WithMCPManager(m *mcp.Manager) *Server {
	s.mcpManager = m
	return s
}

// BuildMux creates and caches the HTTP mux with every route registered.
func (s *Server) BuildMux() *http.ServeMux {
	if s.mux != nil {
		return s.mux
	}
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /status", s.requireGatewayToken(s.handleStatus))

	mux.HandleFunc("POST /pair/request", s.handlePairRequest)
	mux.HandleFunc("GET /pair/status", s.handlePairStatus)

	mux.HandleFunc("POST /admin/approve", s.requireGatewayToken(s.handleAdminApprove))
	mux.HandleFunc("POST /admin/reject", s.requireGatewayToken(s.handleAdminReject))
	mux.HandleFunc("POST /admin/revoke", s.requireGatewayToken(s.handleAdminRevoke))
	mux.HandleFunc("POST /admin/scope", s.requireGatewayToken(s.handleAdminScope))
	mux.HandleFunc("POST /admin/rotate-token", s.requireGatewayToken(s.handleAdminRotateToken))
	mux.HandleFunc("POST /admin/api-keys", s.requireGatewayToken(s.handleCreateAPIKey))
	mux.HandleFunc("GET /admin/api-keys", s.requireGatewayToken(s.handleListAPIKeys))
	mux.HandleFunc("DELETE /admin/api-keys", s.requireGatewayToken(s.handleRevokeAPIKey))

	mux.HandleFunc("GET /events/poll", s.requireDevice(s.handleEventsPoll))
	mux.HandleFunc("GET /events/stream", s.requireDevice(s.handleEventsStream))
	mux.HandleFunc("POST /command/tool", s.requireDevice(s.handleCommandTool))
	mux.HandleFunc("POST /command/system", s.requireDevice(s.handleCommandSystem))
	mux.HandleFunc("POST /mcp", s.requireDevice(s.handleMCP))

	s.mux = mux
	return mux
}

// Start begins listening, blocking until ctx is cancelled (or the listener
// fails), then runs a graceful Shutdown.
func (s *Server) Start(ctx context.Context) error {
	mux := s.BuildMux()
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	s.httpServer = &http.Server{Addr: addr, Handler: mux}

	slog.Info("httpapi starting", "addr", addr)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.httpServer.Shutdown(shutdownCtx)
	}()

	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("httpapi: serve: %w", err)
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeData(w, http.StatusOK, map[string]any{
		"ok":      true,
		"version": protocol.ProtocolVersion,
		"uptime":  time.Since(s.startedAt).Seconds(),
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	pending, err := s.devices.ListPending(r.Context())
	if err != nil {
		writeErrCode(w, protocol.ErrInvalidRequest, err.Error())
		return
	}
	writeData(w, http.StatusOK, map[string]any{
		"pendingCount": len(pending),
		"pending":      deviceIDs(pending),
	})
}

func deviceIDs(devices []*Device) []string {
	out := make([]string, 0, len(devices))
	for _, d := range devices {
		out = append(out, d.DeviceID)
	}
	return out
}
