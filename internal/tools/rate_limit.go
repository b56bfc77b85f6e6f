package tools

import (
	"sync"
	"time"
)

// CallRateLimiter enforces a max-executions-per-hour cap per session,
// a separate policy dimension from CooldownTracker's minimum-interval
// check: cooldown prevents back-to-back calls, this prevents a session
// from running a tool an unbounded number of times within the hour even
// if each call is individually spaced out.
type CallRateLimiter struct {
	mu          sync.Mutex
	windowStart map[string]time.Time
	count       map[string]int
	MaxPerHour  int // 0 disables the check
}

// NewCallRateLimiter builds a limiter with the given hourly cap per
// session (0 disables enforcement).
func NewCallRateLimiter(maxPerHour int) *CallRateLimiter {
	return &CallRateLimiter{
		windowStart: make(map[string]time.Time),
		count:       make(map[string]int),
		MaxPerHour:  maxPerHour,
	}
}

// Allow reports whether sessionKey may run another tool call now, and
// records the call if so. The window is a fixed one-hour bucket per
// session that resets once an hour has elapsed since it started.
func (r *CallRateLimiter) Allow(sessionKey string, now time.Time) bool {
	if r.MaxPerHour <= 0 {
		return true
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	start, seen := r.windowStart[sessionKey]
	if !seen || now.Sub(start) >= time.Hour {
		r.windowStart[sessionKey] = now
		r.count[sessionKey] = 1
		return true
	}
	if r.count[sessionKey] >= r.MaxPerHour {
		return false
	}
	r.count[sessionKey]++
	return true
}
