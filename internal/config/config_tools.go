package config

// ToolsConfig gates the optional built-in tools, mirroring the field
// shapes of tools.WebFetchConfig/WebSearchConfig/ExecApprovalCfg so the
// startup wiring can pass these structs straight through.
type ToolsConfig struct {
	WebFetch         WebToolsConfig    `json:"web_fetch"`
	WebSearch        WebToolsConfig    `json:"web_search"`
	Exec             ExecApprovalCfg   `json:"exec"`
	Browser          BrowserToolConfig `json:"browser"`
	RateLimitPerHour int               `json:"rate_limit_per_hour,omitempty"` // max tool executions per hour per session (0 = disabled)
}

// WebToolsConfig covers both the fetch and search tools; unused fields
// for a given tool are ignored (e.g. DuckDuckGo has no key).
type WebToolsConfig struct {
	Enabled        bool              `json:"enabled"`
	MaxChars       int               `json:"max_chars,omitempty"`
	CacheTTLSec    int               `json:"cache_ttl_seconds,omitempty"`
	Brave          DuckDuckGoConfig  `json:"brave,omitempty"`
	DuckDuckGo     DuckDuckGoConfig  `json:"duckduckgo,omitempty"`
}

// DuckDuckGoConfig is reused for any search backend: APIKey is ignored by
// providers that don't need one (DuckDuckGo).
type DuckDuckGoConfig struct {
	Enabled    bool   `json:"enabled"`
	APIKey     string `json:"-"` // from env OWLIABOT_BRAVE_API_KEY for the brave backend
	MaxResults int    `json:"max_results,omitempty"`
}

// ExecApprovalCfg gates the shell-exec tool's confirmation requirement
// beyond the default tools.Security.ConfirmRequired set on the tool
// definition itself.
type ExecApprovalCfg struct {
	Enabled         bool     `json:"enabled"`
	AllowedCommands []string `json:"allowed_commands,omitempty"` // empty = no allowlist restriction
	RequireConfirm  bool     `json:"require_confirm"`
	TimeoutSeconds  int      `json:"timeout_seconds,omitempty"`
}

// BrowserToolConfig gates the optional go-rod-backed browser fetch tool,
// a headless-render fallback for JS-heavy pages web_fetch can't read as
// plain HTML.
type BrowserToolConfig struct {
	Enabled        bool   `json:"enabled"`
	ChromePath     string `json:"chrome_path,omitempty"`
	TimeoutSeconds int    `json:"timeout_seconds,omitempty"`
}
