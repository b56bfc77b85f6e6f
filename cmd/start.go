package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/owliabot/owliabot/internal/activation"
	"github.com/owliabot/owliabot/internal/agent"
	"github.com/owliabot/owliabot/internal/bus"
	"github.com/owliabot/owliabot/internal/channels/discord"
	"github.com/owliabot/owliabot/internal/channels/ratelimit"
	"github.com/owliabot/owliabot/internal/channels/telegram"
	"github.com/owliabot/owliabot/internal/config"
	"github.com/owliabot/owliabot/internal/httpapi"
	"github.com/owliabot/owliabot/internal/infra"
	"github.com/owliabot/owliabot/internal/infra/pg"
	"github.com/owliabot/owliabot/internal/infra/sqlite"
	"github.com/owliabot/owliabot/internal/mcp"
	"github.com/owliabot/owliabot/internal/pipeline"
	"github.com/owliabot/owliabot/internal/providers"
	"github.com/owliabot/owliabot/internal/scheduler"
	"github.com/owliabot/owliabot/internal/sessions"
	"github.com/owliabot/owliabot/internal/tools"
	"github.com/owliabot/owliabot/internal/writegate"
	"github.com/owliabot/owliabot/pkg/protocol"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Run the gateway: channel adapters, agent loop, and HTTP control plane",
	Run: func(cmd *cobra.Command, args []string) {
		runStart()
	},
}

func runStart() {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level})))

	cfgPath := resolveConfigPath()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		slog.Error("failed to load config", "path", cfgPath, "error", err)
		os.Exit(1)
	}

	workspace := config.ExpandHome(cfg.Agents.Defaults.Workspace)
	if !filepath.IsAbs(workspace) {
		workspace, _ = filepath.Abs(workspace)
	}
	if err := os.MkdirAll(workspace, 0o755); err != nil {
		slog.Error("failed to create workspace", "path", workspace, "error", err)
		os.Exit(1)
	}

	infraStore, err := openInfra(cfg)
	if err != nil {
		slog.Error("failed to open infra store", "error", err)
		os.Exit(1)
	}
	defer infraStore.Close()

	registry := tools.NewRegistry()
	registerBuiltinTools(registry, cfg)

	policy := tools.NewPolicyEngine(tools.GlobalPolicy{
		Profile: "full",
	})

	auditLogger := tools.NewAuditLogger(func(entry tools.AuditEntry) {
		slog.Info("tool call audited", "tool", entry.ToolName, "status", entry.Status)
	})
	cooldown := tools.NewCooldownTracker(5 * time.Second)
	rateLimit := tools.NewCallRateLimiter(cfg.Tools.RateLimitPerHour)

	sessMgr := sessions.NewManager(config.ExpandHome(cfg.Sessions.Storage))
	transcripts := sessions.NewTranscript(config.ExpandHome(cfg.Sessions.Storage))

	msgBus := bus.New()
	sender := &busSender{bus: msgBus}

	gate := writegate.New(sender, true, 2*time.Minute, nil, func(sessionKey string) (string, string, string) {
		return "", sessionKey, ""
	})

	executor := tools.NewExecutor(tools.ExecutorDeps{
		Registry:  registry,
		Policy:    policy,
		Audit:     auditLogger,
		Cooldown:  cooldown,
		RateLimit: rateLimit,
		WriteGate: gate,
	})

	runner, err := buildProviderRunner(cfg)
	if err != nil {
		slog.Error("failed to build provider runner", "error", err)
		os.Exit(1)
	}

	loop := agent.NewLoop(agent.Config{
		Runner:        runner,
		Registry:      registry,
		Policy:        policy,
		Executor:      executor,
		MaxIterations: cfg.Agents.Defaults.MaxToolIterations,
		ContextWindow: cfg.Agents.Defaults.ContextWindow,
		MaxTokens:     cfg.Agents.Defaults.MaxTokens,
	})

	mcpMgr := mcp.NewManager(registry, mcp.WithConfigs(cfg.MCP))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := mcpMgr.Start(ctx); err != nil {
		slog.Warn("one or more MCP servers failed to connect", "error", err)
	}

	var channelAdapters []channelAdapter

	if cfg.Channels.Telegram.Enabled {
		ch, err := telegram.New(cfg.Channels.Telegram, msgBus)
		if err != nil {
			slog.Error("failed to start telegram channel", "error", err)
			os.Exit(1)
		}
		channelAdapters = append(channelAdapters, ch)
	}
	if cfg.Channels.Discord.Enabled {
		ch, err := discord.New(cfg.Channels.Discord, msgBus)
		if err != nil {
			slog.Error("failed to start discord channel", "error", err)
			os.Exit(1)
		}
		channelAdapters = append(channelAdapters, ch)
	}
	if len(channelAdapters) == 0 {
		slog.Warn("no channels enabled; gateway will only serve the HTTP control plane")
	}

	deps := &pipeline.Deps{
		Idempotency: &infraIdempotency{store: infraStore},
		RateLimit:   ratelimit.NewWebhookRateLimiter(),
		Sender:      sender,
		Sessions:    sessMgr,
		Transcripts: transcripts,
		Loop:        loop,
		SystemPrompt: func(agentID string) string {
			return defaultSystemPrompt(cfg, agentID)
		},
		MaxHistoryTurns: cfg.Sessions.MaxHistoryTurns,
	}

	go pumpInbound(ctx, msgBus, deps)
	go pumpOutbound(ctx, msgBus, channelAdapters)

	sched, err := scheduler.New(scheduler.Job{
		Name: "infra_cleanup",
		Expr: cfg.Scheduler.CleanupCron,
		Run: func(jobCtx context.Context, now time.Time) error {
			return infraStore.Cleanup(jobCtx, now)
		},
	})
	if err != nil {
		slog.Error("failed to build scheduler", "error", err)
		os.Exit(1)
	}
	go sched.Run(ctx)

	for _, ch := range channelAdapters {
		if err := ch.Start(ctx); err != nil {
			slog.Error("channel failed to start", "channel", ch.Name(), "error", err)
		}
	}

	httpSrv, err := httpapi.NewServer(httpapi.Config{
		Host:             cfg.Gateway.Host,
		Port:             cfg.Gateway.Port,
		GatewayToken:     cfg.Gateway.Token,
		IdempotencyTTL:   time.Duration(cfg.Gateway.IdempotencyTTLSec) * time.Second,
		RateLimitWindow:  time.Duration(cfg.Gateway.RateLimitWindowSec) * time.Second,
		RateLimitMax:     cfg.Gateway.RateLimitMax,
		PollBatchSize:    cfg.Gateway.PollBatchSize,
	}, httpapi.NewMemoryDeviceStore(), infraStore, registry, executor)
	if err != nil {
		slog.Error("failed to build http server", "error", err)
		os.Exit(1)
	}
	httpSrv = httpSrv.WithMCPManager(mcpMgr)

	go func() {
		if err := httpSrv.Start(ctx); err != nil {
			slog.Error("http server stopped", "error", err)
		}
	}()

	slog.Info("owliabot started", "workspace", workspace, "channels", len(channelAdapters))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	slog.Info("shutting down")
	cancel()
}

// channelAdapter is the surface runStart needs from a channel package;
// telegram.Channel and discord.Channel both satisfy it.
type channelAdapter interface {
	Name() string
	Start(ctx context.Context) error
	Send(ctx context.Context, msg bus.OutboundMessage) error
}

// pumpOutbound drains the message bus's outbound side and dispatches each
// message to the channel adapter whose Name() matches msg.Channel.
func pumpOutbound(ctx context.Context, b *bus.MessageBus, channelAdapters []channelAdapter) {
	byName := make(map[string]channelAdapter, len(channelAdapters))
	for _, ch := range channelAdapters {
		byName[ch.Name()] = ch
	}
	for {
		msg, ok := b.SubscribeOutbound(ctx)
		if !ok {
			return
		}
		ch, found := byName[msg.Channel]
		if !found {
			slog.Warn("outbound message for unknown channel", "channel", msg.Channel)
			continue
		}
		if err := ch.Send(ctx, msg); err != nil {
			slog.Error("failed to send outbound message", "channel", msg.Channel, "error", err)
		}
	}
}

func openInfra(cfg *config.Config) (infra.Store, error) {
	if cfg.IsPostgresMode() {
		return pg.Open(cfg.Database.PostgresDSN)
	}
	return sqlite.Open(config.ExpandHome(cfg.Database.SQLitePath))
}

func buildProviderRunner(cfg *config.Config) (*providers.Runner, error) {
	var entries []providers.RunnerEntry
	for _, e := range cfg.Providers.Entries {
		pcfg := providers.Config{
			ID:       e.ID,
			Kind:     providers.Kind(e.Kind),
			Model:    e.Model,
			BaseURL:  e.BaseURL,
			APIKey:   e.APIKey,
			Priority: e.Priority,
		}
		entry := providers.RunnerEntry{Config: pcfg}
		switch pcfg.Kind {
		case providers.KindNative:
			entry.Provider = providers.NewNativeProvider(e.ID, e.APIKey, e.BaseURL, e.Model)
		case providers.KindOpenAICompat:
			entry.Provider = providers.NewOpenAICompatProvider(e.BaseURL, e.APIKey, e.Model)
		case providers.KindCLI:
			entry.CLI = providers.NewCLIRunner()
			entry.CLIConfig = providers.CLIConfig{
				ID:                e.ID,
				Command:           e.Command,
				BaseArgs:          e.BaseArgs,
				ResumeArgs:        e.ResumeArgs,
				SessionMode:       e.SessionMode,
				ModelFlag:         e.ModelFlag,
				ModelAliases:      e.ModelAliases,
				SystemPromptFlag:  e.SystemPromptFlag,
				MaxPromptArgChars: e.MaxPromptArgChars,
			}
		default:
			return nil, fmt.Errorf("cmd: unknown provider kind %q for entry %q", e.Kind, e.ID)
		}
		entries = append(entries, entry)
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("cmd: no providers configured; run `owliabot onboard`")
	}
	return providers.NewRunner(entries), nil
}

func registerBuiltinTools(registry *tools.Registry, cfg *config.Config) {
	if cfg.Tools.Exec.Enabled {
		exec := tools.NewExecTool(workspaceOrCwd(cfg), cfg.Tools.Exec.RequireConfirm)
		mustRegister(registry, "exec", exec.Description(), exec.Parameters(), adaptLegacyTool(exec))
	}
	readFile := tools.NewReadFileTool(workspaceOrCwd(cfg), cfg.Agents.Defaults.RestrictToWorkspace)
	mustRegister(registry, "read_file", readFile.Description(), readFile.Parameters(), adaptLegacyTool(readFile))

	if cfg.Tools.WebFetch.Enabled {
		fetch := tools.NewWebFetchTool(tools.WebFetchConfig{
			MaxChars: cfg.Tools.WebFetch.MaxChars,
			CacheTTL: time.Duration(cfg.Tools.WebFetch.CacheTTLSec) * time.Second,
		})
		mustRegister(registry, "web_fetch", fetch.Description(), fetch.Parameters(), adaptLegacyTool(fetch))
	}

	if cfg.Tools.Browser.Enabled {
		browser := tools.NewBrowserFetchTool(tools.BrowserFetchConfig{
			ChromePath:     cfg.Tools.Browser.ChromePath,
			TimeoutSeconds: cfg.Tools.Browser.TimeoutSeconds,
		})
		mustRegister(registry, "browser_fetch", browser.Description(), browser.Parameters(), adaptLegacyTool(browser))
	}

	if cfg.Tools.WebSearch.Enabled {
		search := tools.NewWebSearchTool(tools.WebSearchConfig{
			BraveAPIKey:     cfg.Tools.WebSearch.Brave.APIKey,
			BraveEnabled:    cfg.Tools.WebSearch.Brave.Enabled,
			BraveMaxResults: cfg.Tools.WebSearch.Brave.MaxResults,
			DDGEnabled:      cfg.Tools.WebSearch.DuckDuckGo.Enabled,
			DDGMaxResults:   cfg.Tools.WebSearch.DuckDuckGo.MaxResults,
			CacheTTL:        time.Duration(cfg.Tools.WebSearch.CacheTTLSec) * time.Second,
		})
		if search != nil {
			mustRegister(registry, "web_search", search.Description(), search.Parameters(), adaptLegacyTool(search))
		}
	}
}

func workspaceOrCwd(cfg *config.Config) string {
	ws := config.ExpandHome(cfg.Agents.Defaults.Workspace)
	if ws == "" {
		wd, _ := os.Getwd()
		return wd
	}
	return ws
}

// legacyTool is the Name/Description/Parameters/Execute shape shared by
// the built-in tools; registerBuiltinTools bridges it onto ToolDefinition.
type legacyTool interface {
	Name() string
	Description() string
	Parameters() map[string]interface{}
	Execute(ctx context.Context, args map[string]interface{}) *tools.Result
}

func adaptLegacyTool(t legacyTool) tools.ExecuteFunc {
	return func(tc tools.ToolContext, raw json.RawMessage) *tools.Result {
		var args map[string]interface{}
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, &args); err != nil {
				return tools.ErrorResult(fmt.Sprintf("invalid arguments: %v", err))
			}
		}
		return t.Execute(tc.Context, args)
	}
}

func mustRegister(registry *tools.Registry, name, desc string, params map[string]interface{}, fn tools.ExecuteFunc) {
	err := registry.Register(tools.ToolDefinition{
		Name:        name,
		Description: desc,
		Parameters:  params,
		Execute:     fn,
		Security:    tools.Security{Level: protocol.SecurityRead},
	})
	if err != nil {
		slog.Error("failed to register tool", "name", name, "error", err)
	}
}

func defaultSystemPrompt(cfg *config.Config, agentID string) string {
	return fmt.Sprintf("You are %s, an AI assistant.", cfg.ResolveDisplayName(agentID))
}

// infraIdempotency adapts infra.Store onto pipeline.IdempotencyStore.
type infraIdempotency struct {
	store infra.Store
}

func (i *infraIdempotency) SeenOrMark(ctx context.Context, key string) (bool, error) {
	rec, err := i.store.GetIdempotency(ctx, key)
	if err != nil {
		return false, err
	}
	if rec != nil {
		return true, nil
	}
	if err := i.store.SaveIdempotency(ctx, key, "", nil, time.Now().Add(5*time.Minute)); err != nil {
		return false, err
	}
	return false, nil
}

// busSender adapts bus.MessageBus onto pipeline.Sender.
type busSender struct {
	bus *bus.MessageBus
}

func (s *busSender) Send(ctx context.Context, channel, chatID, text string) error {
	s.bus.PublishOutbound(bus.OutboundMessage{Channel: channel, ChatID: chatID, Content: text})
	return nil
}

// pumpInbound drains the message bus and feeds each message through the
// pipeline until ctx is cancelled.
func pumpInbound(ctx context.Context, b *bus.MessageBus, deps *pipeline.Deps) {
	for {
		msg, ok := b.ConsumeInbound(ctx)
		if !ok {
			return
		}
		messageID := ""
		if id := msg.Metadata["message_id"]; id != "" {
			messageID = msg.ChatID + ":" + id
		}
		in := pipeline.Inbound{
			AgentID:   msg.AgentID,
			Channel:   msg.Channel,
			MessageID: messageID,
			ChatID:    msg.ChatID,
			ChatType:  activation.ChatDirect,
			SenderID:  msg.SenderID,
			Text:      msg.Content,
		}
		if msg.PeerKind == "group" {
			in.ChatType = activation.ChatGroup
			in.GroupID = msg.ChatID
		}
		deps.HandleMessage(ctx, in)
	}
}
