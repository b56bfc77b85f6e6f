package config

// ChannelsConfig contains per-channel configuration. Only Telegram and
// Discord are wired; Slack/WhatsApp/Zalo/Feishu adapters are out of scope
// here.
type ChannelsConfig struct {
	Telegram TelegramConfig `json:"telegram"`
	Discord  DiscordConfig  `json:"discord"`
}

type TelegramConfig struct {
	Enabled        bool                `json:"enabled"`
	Token          string              `json:"-"` // from env OWLIABOT_TELEGRAM_TOKEN only
	Proxy          string              `json:"proxy,omitempty"`
	AllowFrom      FlexibleStringSlice `json:"allow_from"`
	DMPolicy       string              `json:"dm_policy,omitempty"`       // "allowlist" (default), "open", "disabled"
	GroupPolicy    string              `json:"group_policy,omitempty"`    // "open" (default), "allowlist", "disabled"
	RequireMention *bool               `json:"require_mention,omitempty"` // require @bot mention in groups (default true)
	HistoryLimit   int                 `json:"history_limit,omitempty"`   // max pending group messages for context (default 50; 0 uses the default)
	StreamMode     string              `json:"stream_mode,omitempty"`     // "off" (default), "partial"
	ReactionLevel  string              `json:"reaction_level,omitempty"`  // "off" (default), "minimal", "full"
	MediaMaxBytes  int64               `json:"media_max_bytes,omitempty"` // default 20MB
	LinkPreview    *bool               `json:"link_preview,omitempty"`    // default true
}

type DiscordConfig struct {
	Enabled        bool                `json:"enabled"`
	Token          string              `json:"-"` // from env OWLIABOT_DISCORD_TOKEN only
	AllowFrom      FlexibleStringSlice `json:"allow_from"`
	DMPolicy       string              `json:"dm_policy,omitempty"`       // "allowlist" (default), "open", "disabled"
	GroupPolicy    string              `json:"group_policy,omitempty"`    // "open" (default), "allowlist", "disabled"
	RequireMention *bool               `json:"require_mention,omitempty"` // require @bot mention in groups (default true)
	HistoryLimit   int                 `json:"history_limit,omitempty"`   // default 50; 0 uses the default
}
