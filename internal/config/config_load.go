package config

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Agents: AgentsConfig{
			Defaults: AgentDefaults{
				Workspace:           "~/.owliabot/workspace",
				RestrictToWorkspace: true,
				Provider:            "anthropic",
				Model:               "claude-sonnet-4-5-20250929",
				MaxTokens:           8192,
				Temperature:         0.7,
				MaxToolIterations:   20,
				ContextWindow:       200000,
			},
		},
		Channels: ChannelsConfig{
			Telegram: TelegramConfig{
				StreamMode:    "off",
				ReactionLevel: "off",
			},
		},
		Gateway: GatewayConfig{
			Host:               "0.0.0.0",
			Port:               8765,
			MaxMessageChars:    4000,
			IdempotencyTTLSec:  300,
			RateLimitWindowSec: 60,
			RateLimitMax:       60,
			PollBatchSize:      100,
		},
		Tools: ToolsConfig{
			WebSearch: WebToolsConfig{
				DuckDuckGo: DuckDuckGoConfig{Enabled: true, MaxResults: 5},
			},
			Exec: ExecApprovalCfg{
				RequireConfirm: true,
			},
		},
		Sessions: SessionsConfig{
			Storage:         "~/.owliabot/sessions",
			MaxHistoryTurns: 200,
		},
		Database: DatabaseConfig{
			Mode:       "sqlite",
			SQLitePath: "~/.owliabot/owliabot.db",
		},
	}
}

// Load reads config from a JSON file, then overlays env vars.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// applyEnvOverrides overlays env vars onto the config. Env vars take
// precedence over file values and are the only source for every secret
// field (those marked json:"-" throughout this package).
func (c *Config) applyEnvOverrides() {
	envStr := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}

	for i := range c.Providers.Entries {
		entry := &c.Providers.Entries[i]
		envKey := strings.ToUpper(strings.ReplaceAll(entry.ID, "-", "_")) + "_API_KEY"
		envStr(envKey, &entry.APIKey)
	}

	envStr("OWLIABOT_GATEWAY_TOKEN", &c.Gateway.Token)
	envStr("OWLIABOT_TELEGRAM_TOKEN", &c.Channels.Telegram.Token)
	envStr("OWLIABOT_DISCORD_TOKEN", &c.Channels.Discord.Token)
	envStr("OWLIABOT_BRAVE_API_KEY", &c.Tools.WebSearch.Brave.APIKey)

	if c.Channels.Telegram.Token != "" {
		c.Channels.Telegram.Enabled = true
	}
	if c.Channels.Discord.Token != "" {
		c.Channels.Discord.Enabled = true
	}

	envStr("OWLIABOT_PROVIDER", &c.Agents.Defaults.Provider)
	envStr("OWLIABOT_MODEL", &c.Agents.Defaults.Model)
	envStr("OWLIABOT_WORKSPACE", &c.Agents.Defaults.Workspace)
	envStr("OWLIABOT_SESSIONS_STORAGE", &c.Sessions.Storage)

	envStr("OWLIABOT_HOST", &c.Gateway.Host)
	if v := os.Getenv("OWLIABOT_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil && port > 0 {
			c.Gateway.Port = port
		}
	}
	if v := os.Getenv("OWLIABOT_OWNER_IDS"); v != "" {
		c.Gateway.OwnerIDs = strings.Split(v, ",")
	}

	envStr("OWLIABOT_POSTGRES_DSN", &c.Database.PostgresDSN)
	envStr("OWLIABOT_MODE", &c.Database.Mode)

	envStr("OWLIABOT_TELEMETRY_ENDPOINT", &c.Telemetry.Endpoint)
	envStr("OWLIABOT_TELEMETRY_PROTOCOL", &c.Telemetry.Protocol)
	envStr("OWLIABOT_TELEMETRY_SERVICE_NAME", &c.Telemetry.ServiceName)
	if v := os.Getenv("OWLIABOT_TELEMETRY_ENABLED"); v != "" {
		c.Telemetry.Enabled = v == "true" || v == "1"
	}
	if v := os.Getenv("OWLIABOT_TELEMETRY_INSECURE"); v != "" {
		c.Telemetry.Insecure = v == "true" || v == "1"
	}
}

// Save writes the config to a JSON file.
func Save(path string, cfg *Config) error {
	cfg.mu.RLock()
	defer cfg.mu.RUnlock()

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	return os.WriteFile(path, data, 0600)
}

// Hash returns a SHA-256 hash of the config for optimistic concurrency.
func (c *Config) Hash() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	data, _ := json.Marshal(c)
	h := sha256.Sum256(data)
	return fmt.Sprintf("%x", h[:8])
}

// WorkspacePath returns the expanded workspace path.
func (c *Config) WorkspacePath() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return ExpandHome(c.Agents.Defaults.Workspace)
}

// ResolveAgent returns the effective config for a given agent ID,
// merging defaults with per-agent overrides.
func (c *Config) ResolveAgent(agentID string) AgentDefaults {
	c.mu.RLock()
	defer c.mu.RUnlock()

	d := c.Agents.Defaults
	if spec, ok := c.Agents.List[agentID]; ok {
		if spec.Provider != "" {
			d.Provider = spec.Provider
		}
		if spec.Model != "" {
			d.Model = spec.Model
		}
		if spec.MaxTokens > 0 {
			d.MaxTokens = spec.MaxTokens
		}
		if spec.Temperature > 0 {
			d.Temperature = spec.Temperature
		}
		if spec.MaxToolIterations > 0 {
			d.MaxToolIterations = spec.MaxToolIterations
		}
		if spec.ContextWindow > 0 {
			d.ContextWindow = spec.ContextWindow
		}
		if spec.Workspace != "" {
			d.Workspace = spec.Workspace
		}
	}

	return d
}

// ResolveDefaultAgentID returns the ID of the agent marked as default, or
// "default" if none is explicitly marked.
func (c *Config) ResolveDefaultAgentID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	for id, spec := range c.Agents.List {
		if spec.Default {
			return id
		}
	}
	return "default"
}

// ResolveDisplayName returns the display name for an agent, falling back
// to "OwliaBot" if not configured.
func (c *Config) ResolveDisplayName(agentID string) string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if spec, ok := c.Agents.List[agentID]; ok && spec.DisplayName != "" {
		return spec.DisplayName
	}
	return "OwliaBot"
}

// ApplyEnvOverrides re-applies environment variable overrides onto the
// config. Call this after modifying config to restore runtime secrets
// from env vars.
func (c *Config) ApplyEnvOverrides() {
	c.applyEnvOverrides()
}

// ExpandHome replaces a leading ~ with the user's home directory.
func ExpandHome(path string) string {
	if path == "" || path[0] != '~' {
		return path
	}
	home, _ := os.UserHomeDir()
	if len(path) > 1 && path[1] == '/' {
		return home + path[1:]
	}
	return home
}

// Watch starts an fsnotify watch on path's directory and calls onChange
// with a freshly loaded Config whenever the file is written or recreated
// (editors commonly replace a file via rename rather than in-place
// write). It runs until caller shutdown via the returned stop func, a
// simple channel-driven background loop rather than a context.Context
// plumbed all the way through fsnotify's own blocking Events channel.
func Watch(path string, onChange func(*Config)) (stop func() error, err error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("config: new watcher: %w", err)
	}
	dir := filepath.Dir(path)
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("config: watch %s: %w", dir, err)
	}
	abs, _ := filepath.Abs(path)

	go func() {
		var debounce *time.Timer
		for {
			select {
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				evAbs, _ := filepath.Abs(ev.Name)
				if evAbs != abs {
					continue
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
					continue
				}
				if debounce != nil {
					debounce.Stop()
				}
				debounce = time.AfterFunc(150*time.Millisecond, func() {
					cfg, err := Load(path)
					if err != nil {
						slog.Warn("config: reload failed", "path", path, "error", err)
						return
					}
					onChange(cfg)
				})
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				slog.Warn("config: watcher error", "error", err)
			}
		}
	}()

	return watcher.Close, nil
}
