package agent

import (
	"context"

	"go.opentelemetry.io/otel/attribute"

	"github.com/owliabot/owliabot/internal/tracing"
)

// RunTraced wraps Run with a root span covering the whole invocation and
// records the result's counters as span attributes; it creates no child
// spans for the loop events in the result. Call sites that
// don't care about tracing can call Run directly; Tracer may be nil, in
// which case RunTraced degrades to Run.
func (l *Loop) RunTraced(ctx context.Context, tracer *tracing.Tracer, req RunRequest) RunResult {
	if tracer == nil {
		return l.Run(ctx, req)
	}

	ctx, span := tracer.RunSpan(ctx, req.Escalation.SessionKey, req.Escalation.Channel)
	defer span.End()

	result := l.Run(ctx, req)

	span.SetAttributes(
		attribute.Int("agent.iterations", result.Iterations),
		attribute.Int("agent.tool_calls", result.ToolCallsCount),
		attribute.Bool("agent.max_iterations_reached", result.MaxIterationsReached),
		attribute.Bool("agent.timed_out", result.TimedOut),
	)
	tracing.End(span, result.Error)
	return result
}
