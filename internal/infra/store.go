// Package infra defines the relational infra store: fixed-window rate
// limiting, idempotency record caching, and the device event log with
// cursor+ACK semantics, with sqlite (internal/infra/sqlite) and Postgres
// (internal/infra/pg) backends sharing one schema driven by
// internal/infra/migrations.
//
// The device store itself (pairing, tokens, scopes) is an opaque
// collaborator — internal/httpapi defines the DeviceStore interface it
// needs and a concrete in-memory implementation.
package infra

import (
	"context"
	"time"
)

// RateLimitResult is the outcome of one fixed-window rate-limit check.
type RateLimitResult struct {
	Allowed   bool
	ResetAt   time.Time
	Remaining int
}

// IdempotencyRecord is a cached response for a previously-seen
// (key, requestHash) pair, replayed verbatim on a matching retry.
type IdempotencyRecord struct {
	Key         string
	RequestHash string
	Response    []byte
	ExpiresAt   time.Time
}

// Event is one entry in the append-only event log, polled by devices via
// GET /events/poll and ACKed up to a watermark id.
type Event struct {
	ID        int64
	Type      string
	Time      time.Time
	Status    string
	Source    string
	Message   string
	Metadata  []byte // JSON, optional
	ExpiresAt time.Time
}

// PollResult is one page of events for a device. Dropped counts events
// dropped by a per-device retention cap; neither backend imposes such a
// cap, so it is always 0.
type PollResult struct {
	Cursor  int64
	Events  []Event
	Dropped int
}

// Store is the persistence surface shared by the gateway pipeline
// (idempotency), the HTTP channel server (rate limiting, event log), and
// the cleanup sweep run by the scheduler job and the system cleanup
// command.
type Store interface {
	// CheckRateLimit applies the fixed-window algorithm to bucket:
	// windowMs-wide windows, max calls per window.
	CheckRateLimit(ctx context.Context, bucket string, windowMs int64, max int, now time.Time) (RateLimitResult, error)

	// GetIdempotency returns the cached record for key, if any and
	// unexpired.
	GetIdempotency(ctx context.Context, key string) (*IdempotencyRecord, error)
	// SaveIdempotency stores response under key+requestHash. A call with
	// the same key and requestHash overwrites the expiry (replay-safe);
	// the caller is responsible for detecting key-with-different-hash
	// collisions if that distinction matters to it.
	SaveIdempotency(ctx context.Context, key, requestHash string, response []byte, expiresAt time.Time) error

	// InsertEvent appends ev to the log and returns its assigned id.
	InsertEvent(ctx context.Context, ev Event) (int64, error)
	// AckEvents marks every event up to and including uptoID as
	// acknowledged for deviceID.
	AckEvents(ctx context.Context, deviceID string, uptoID int64, now time.Time) error
	// PollEventsForDevice first applies any pending ack (handled by the
	// caller via AckEvents before calling this), then returns up to limit
	// events strictly after since for deviceID, along with a cursor set
	// to the last returned event's id. No retention cap is applied, so
	// the result's Dropped is 0.
	PollEventsForDevice(ctx context.Context, deviceID string, since int64, limit int, now time.Time) (PollResult, error)

	// Cleanup removes expired idempotency records and events past their
	// ExpiresAt. Rate-limit windows are not removed; CheckRateLimit resets
	// an expired window in place.
	Cleanup(ctx context.Context, now time.Time) error

	// Close releases the underlying connection/handle.
	Close() error
}
