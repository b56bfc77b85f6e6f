// Package scheduler runs cron-scheduled maintenance jobs in-process,
// checking a configured expression against the clock once a minute
// instead of opening a new goroutine per job (there is exactly one job
// today: the infra store cleanup sweep).
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/adhocore/gronx"
)

const defaultCleanupCron = "*/15 * * * *"

// Job is one cron-scheduled unit of work.
type Job struct {
	Name string
	Expr string
	Run  func(ctx context.Context, now time.Time) error
}

// Scheduler evaluates each registered Job's cron expression once per
// tick and runs it when due.
type Scheduler struct {
	gronx gronx.Gronx
	jobs  []Job
	tick  time.Duration
}

// New validates expr for each job up front (a malformed cron expression
// is a startup-time config error, not a runtime surprise) and returns a
// Scheduler ticking once a minute, cron's own resolution floor.
func New(jobs ...Job) (*Scheduler, error) {
	g := gronx.New()
	for i := range jobs {
		j := &jobs[i]
		if j.Expr == "" {
			j.Expr = defaultCleanupCron
		}
		if !g.IsValid(j.Expr) {
			return nil, fmt.Errorf("scheduler: job %q has invalid cron expression %q", j.Name, j.Expr)
		}
	}
	return &Scheduler{gronx: g, jobs: jobs, tick: time.Minute}, nil
}

// Run blocks, firing due jobs every tick until ctx is cancelled. Jobs run
// synchronously in registration order; a slow job delays the next tick's
// check for later jobs but never drops a due run silently — it just logs
// and continues.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			s.runDue(ctx, now)
		}
	}
}

func (s *Scheduler) runDue(ctx context.Context, now time.Time) {
	for _, j := range s.jobs {
		due, err := s.gronx.IsDue(j.Expr, now)
		if err != nil {
			slog.Warn("scheduler.job.expr_error", "job", j.Name, "error", err)
			continue
		}
		if !due {
			continue
		}
		slog.Info("scheduler.job.run", "job", j.Name)
		if err := j.Run(ctx, now); err != nil {
			slog.Error("scheduler.job.failed", "job", j.Name, "error", err)
		}
	}
}
