package providers

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"
)

// RetryConfig bounds the HTTP-transport retry applied inside one provider
// call (distinct from the Runner's cross-provider failover).
type RetryConfig struct {
	MaxAttempts int
	BaseDelay   time.Duration
}

// DefaultRetryConfig disables retries by default; callers opt in.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{MaxAttempts: 1, BaseDelay: 0}
}

// RetryDo runs fn, retrying transient HTTP statuses and timeouts. Retry
// here is transport-level (a dropped connection); cross-provider failover
// and context-overflow shrinking are handled one layer up by the Runner.
func RetryDo[T any](ctx context.Context, cfg RetryConfig, fn func() (T, error)) (T, error) {
	var zero T
	var lastErr error
	attempts := cfg.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}
	for i := 0; i < attempts; i++ {
		if ctx.Err() != nil {
			return zero, ctx.Err()
		}
		result, err := fn()
		if err == nil {
			return result, nil
		}
		lastErr = err
		if !IsTransientError(err) {
			return zero, err
		}
		if cfg.BaseDelay > 0 && i < attempts-1 {
			select {
			case <-time.After(cfg.BaseDelay):
			case <-ctx.Done():
				return zero, ctx.Err()
			}
		}
	}
	return zero, lastErr
}

// transientStatuses are the HTTP status codes IsTransientError reports as
// transient, which RetryDo retries within one provider call. The Runner
// moves to the next provider on any error, transient or not.
var transientStatuses = map[int]bool{
	http.StatusTooManyRequests:     true,
	http.StatusInternalServerError: true,
	http.StatusBadGateway:          true,
	http.StatusServiceUnavailable:  true,
	http.StatusGatewayTimeout:      true,
}

// IsTransientError reports whether err represents a transient upstream
// failure: HTTP 429/5xx or a timeout.
func IsTransientError(err error) bool {
	if err == nil {
		return false
	}
	var statusErr *HTTPStatusError
	if errors.As(err, &statusErr) {
		return transientStatuses[statusErr.StatusCode]
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	return strings.Contains(err.Error(), "timeout")
}

// contextOverflowPhrases are well-known provider wordings for "prompt too
// long" errors, matched by substring.
var contextOverflowPhrases = []string{
	"prompt is too long",
	"maximum context length",
	"context_length_exceeded",
	"input is too long",
	"exceeds the model's context window",
}

// IsContextOverflowError reports whether err looks like a context-window
// overflow from the upstream provider.
func IsContextOverflowError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, phrase := range contextOverflowPhrases {
		if strings.Contains(msg, phrase) {
			return true
		}
	}
	return false
}

// HTTPStatusError wraps a non-2xx HTTP response so callers can recover
// the status code for the transient-error check above.
type HTTPStatusError struct {
	StatusCode int
	Body       string
}

func (e *HTTPStatusError) Error() string {
	return "provider http error: status " + http.StatusText(e.StatusCode) + ": " + e.Body
}
