package providers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/owliabot/owliabot/internal/contextguard"
)

// ErrContextOverflowExhausted is returned when a provider keeps rejecting
// the prompt as too long even after the shrinking-window retries are
// exhausted. The agentic loop maps this to the /new guidance reply.
var ErrContextOverflowExhausted = errors.New("providers: context window exhausted after retries")

// ErrAllProvidersFailed is returned when every provider in the failover
// list has been tried and failed.
var ErrAllProvidersFailed = errors.New("providers: all providers failed")

// maxContextRetries bounds the context-overflow shrinking-window retries.
const maxContextRetries = 2

// contextShrinkFactors are applied in order on successive context-overflow
// retries against the same provider.
var contextShrinkFactors = []float64{0.8, 0.6}

// Runner sequences an ordered list of providers (ascending priority) and
// applies the context guard and context-overflow retry policy around each.
type Runner struct {
	entries []RunnerEntry
}

// RunnerEntry binds one Config to its resolved Provider implementation
// plus, for CLI entries, the CLIRunner collaborator.
type RunnerEntry struct {
	Config    Config
	Provider  Provider // nil for CLI entries
	CLI       *CLIRunner
	CLIConfig CLIConfig
}

// NewRunner builds a Runner over entries, sorting them by ascending
// priority (lower runs first).
func NewRunner(entries []RunnerEntry) *Runner {
	sorted := append([]RunnerEntry{}, entries...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Config.Priority < sorted[j].Config.Priority })
	return &Runner{entries: sorted}
}

// CompleteOptions carries the per-call tuning the pipeline/loop supplies.
type CompleteOptions struct {
	ContextWindow      int
	MaxTokens          int
	InternalSessionKey string
}

// Complete tries each provider in priority order until one succeeds.
func (r *Runner) Complete(ctx context.Context, req ChatRequest, opts CompleteOptions) (*ChatResponse, error) {
	var lastErr error
	for _, entry := range r.entries {
		resp, err := r.tryEntry(ctx, entry, req, opts)
		if err == nil {
			return resp, nil
		}
		slog.Warn("provider failed, trying next", "provider", entry.Config.ID, "error", err)
		lastErr = err
		if errors.Is(err, ErrContextOverflowExhausted) {
			// Still move to the next provider; only when every provider
			// is exhausted does the caller surface the /new guidance.
			continue
		}
	}
	if lastErr != nil {
		return nil, fmt.Errorf("%w: %w", ErrAllProvidersFailed, lastErr)
	}
	return nil, ErrAllProvidersFailed
}

func (r *Runner) tryEntry(ctx context.Context, entry RunnerEntry, req ChatRequest, opts CompleteOptions) (*ChatResponse, error) {
	if entry.Config.Kind == KindCLI {
		return entry.CLI.Run(ctx, entry.CLIConfig, req, opts.InternalSessionKey)
	}

	window := opts.ContextWindow
	if window <= 0 {
		window = 200_000
	}

	var lastErr error
	for attempt := 0; attempt <= maxContextRetries; attempt++ {
		guarded := contextguard.Guard(req.Messages, contextguard.Limits{
			ContextWindow: window,
			MaxTokens:     opts.MaxTokens,
		})
		attemptReq := req
		attemptReq.Messages = guarded.Messages

		resp, err := entry.Provider.Chat(ctx, attemptReq)
		if err == nil {
			resp.Provider = entry.Config.ID
			if resp.Model == "" {
				resp.Model = entry.Provider.DefaultModel()
			}
			return resp, nil
		}

		if IsContextOverflowError(err) && attempt < len(contextShrinkFactors) {
			window = int(float64(window) * contextShrinkFactors[attempt])
			lastErr = err
			continue
		}
		if IsContextOverflowError(err) {
			return nil, fmt.Errorf("%w: %v", ErrContextOverflowExhausted, err)
		}
		return nil, err
	}
	return nil, lastErr
}
