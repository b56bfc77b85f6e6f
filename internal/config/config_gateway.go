package config

// GatewayConfig maps straight onto httpapi.Config: the HTTP server's bind
// address, the gateway-level bearer token, the IP allowlist, and the
// idempotency/rate-limit/poll tunables.
type GatewayConfig struct {
	Host              string   `json:"host,omitempty"` // default "0.0.0.0"
	Port              int      `json:"port,omitempty"` // default 8765
	Token             string   `json:"-"`               // from env OWLIABOT_GATEWAY_TOKEN only
	OwnerIDs          []string `json:"owner_ids,omitempty"`
	IPAllowlist       []string `json:"ip_allowlist,omitempty"`
	IdempotencyTTLSec int      `json:"idempotency_ttl_seconds,omitempty"` // default 300
	RateLimitWindowSec int     `json:"rate_limit_window_seconds,omitempty"` // default 60
	RateLimitMax      int      `json:"rate_limit_max,omitempty"`          // default 60
	PollBatchSize     int      `json:"poll_batch_size,omitempty"`         // default 100
	MaxMessageChars   int      `json:"max_message_chars,omitempty"`       // default 4000
}
