package config

// SchedulerConfig controls the background maintenance ticker that sweeps
// the infra store (expired idempotency records and expired events;
// rate-limit windows are not swept) on a cron schedule instead of a fixed
// interval, so operators can push cleanup to off-peak hours.
type SchedulerConfig struct {
	CleanupCron string `json:"cleanup_cron,omitempty"` // cron expression, default "*/15 * * * *"
}
