package config

// ProvidersConfig is the ordered failover list the runner builds from,
// mirroring internal/providers.Config/CLIConfig's generic, brand-agnostic
// shape: every vendor is just an entry with a kind and a priority, not a
// hardcoded struct per brand.
type ProvidersConfig struct {
	Entries []ProviderEntry `json:"entries"`
}

// ProviderEntry configures one failover candidate. APIKey is never read
// from the config file; config loading fills it from the provider's
// <ID>_API_KEY env var (applyEnvOverrides). The stored OAuth credential
// lookup in providers.ResolveAPIKey is not used on this path.
type ProviderEntry struct {
	ID       string `json:"id"`
	Kind     string `json:"kind"` // "native", "openai-compatible", "cli"
	Model    string `json:"model"`
	BaseURL  string `json:"base_url,omitempty"`
	APIKey   string `json:"-"`
	Priority int    `json:"priority"`

	// CLI-only fields; ignored for native/openai-compatible entries.
	Command           string            `json:"command,omitempty"`
	BaseArgs          []string          `json:"base_args,omitempty"`
	ResumeArgs        []string          `json:"resume_args,omitempty"`
	SessionMode       string            `json:"session_mode,omitempty"`
	ModelFlag         string            `json:"model_flag,omitempty"`
	ModelAliases      map[string]string `json:"model_aliases,omitempty"`
	SystemPromptFlag  string            `json:"system_prompt_flag,omitempty"`
	MaxPromptArgChars int               `json:"max_prompt_arg_chars,omitempty"`
}
