package scheduler

import (
	"context"
	"testing"
	"time"
)

func TestNewRejectsInvalidCronExpression(t *testing.T) {
	_, err := New(Job{Name: "bad", Expr: "not a cron expr", Run: func(context.Context, time.Time) error { return nil }})
	if err == nil {
		t.Fatal("expected an error for an invalid cron expression")
	}
}

func TestNewFillsInDefaultExpr(t *testing.T) {
	s, err := New(Job{Name: "cleanup", Run: func(context.Context, time.Time) error { return nil }})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.jobs[0].Expr != defaultCleanupCron {
		t.Fatalf("expected default expr %q, got %q", defaultCleanupCron, s.jobs[0].Expr)
	}
}

func TestRunDueFiresOnlyMatchingJobs(t *testing.T) {
	var everyMinuteRuns, neverRuns int
	s, err := New(
		Job{Name: "every-minute", Expr: "* * * * *", Run: func(context.Context, time.Time) error { everyMinuteRuns++; return nil }},
		Job{Name: "never", Expr: "0 0 29 2 *", Run: func(context.Context, time.Time) error { neverRuns++; return nil }}, // Feb 29
	)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	now := time.Date(2026, 8, 1, 12, 30, 0, 0, time.UTC)
	s.runDue(context.Background(), now)

	if everyMinuteRuns != 1 {
		t.Fatalf("expected the every-minute job to run once, ran %d times", everyMinuteRuns)
	}
	if neverRuns != 0 {
		t.Fatalf("expected the Feb-29 job not to run on %s, ran %d times", now, neverRuns)
	}
}
