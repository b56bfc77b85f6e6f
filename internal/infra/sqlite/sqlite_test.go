package sqlite

import (
	"context"
	"testing"
	"time"

	"github.com/owliabot/owliabot/internal/infra"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func infraEvent(eventType string, expiresAt time.Time) infra.Event {
	return infra.Event{Type: eventType, Status: "ok", Source: "test", Message: "m", ExpiresAt: expiresAt}
}

func TestIdempotencySaveThenGet(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Now()

	rec, err := s.GetIdempotency(ctx, "k1")
	if err != nil || rec != nil {
		t.Fatalf("expected no record, got %+v err=%v", rec, err)
	}

	if err := s.SaveIdempotency(ctx, "k1", "hash-1", []byte(`{"ok":true}`), now.Add(time.Minute)); err != nil {
		t.Fatalf("save: %v", err)
	}

	rec, err = s.GetIdempotency(ctx, "k1")
	if err != nil || rec == nil {
		t.Fatalf("expected record after save, got %+v err=%v", rec, err)
	}
	if rec.RequestHash != "hash-1" || string(rec.Response) != `{"ok":true}` {
		t.Fatalf("unexpected record contents: %+v", rec)
	}
}

func TestIdempotencyReplaySameKeyUpdatesResponse(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Now()

	if err := s.SaveIdempotency(ctx, "k1", "hash-1", []byte(`"first"`), now.Add(time.Minute)); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := s.SaveIdempotency(ctx, "k1", "hash-2", []byte(`"second"`), now.Add(time.Minute)); err != nil {
		t.Fatalf("save: %v", err)
	}
	rec, err := s.GetIdempotency(ctx, "k1")
	if err != nil || rec == nil {
		t.Fatalf("get: %+v err=%v", rec, err)
	}
	if rec.RequestHash != "hash-2" || string(rec.Response) != `"second"` {
		t.Fatalf("expected latest save to win, got %+v", rec)
	}
}

func TestIdempotencyExpires(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.SaveIdempotency(ctx, "k1", "hash", []byte(`{}`), time.Now().Add(-time.Second)); err != nil {
		t.Fatalf("save: %v", err)
	}
	rec, err := s.GetIdempotency(ctx, "k1")
	if err != nil || rec != nil {
		t.Fatalf("expected expired key to read as absent, got %+v err=%v", rec, err)
	}
}

func TestRateLimitAllowsUpToMaxThenBlocks(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Now()

	for i := 0; i < 3; i++ {
		res, err := s.CheckRateLimit(ctx, "bucket-1", 60_000, 3, now)
		if err != nil || !res.Allowed {
			t.Fatalf("call %d: expected allowed, got %+v err=%v", i, res, err)
		}
	}
	res, err := s.CheckRateLimit(ctx, "bucket-1", 60_000, 3, now)
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if res.Allowed {
		t.Fatal("expected the 4th call within the window to be blocked")
	}
	if res.Remaining != 0 {
		t.Fatalf("expected 0 remaining when blocked, got %d", res.Remaining)
	}
}

func TestRateLimitResetsAfterWindow(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Now()

	res, err := s.CheckRateLimit(ctx, "bucket-1", 1, 1, now)
	if err != nil || !res.Allowed {
		t.Fatalf("first call: %+v err=%v", res, err)
	}
	later := now.Add(10 * time.Millisecond)
	res, err = s.CheckRateLimit(ctx, "bucket-1", 1, 1, later)
	if err != nil || !res.Allowed {
		t.Fatalf("expected window reset to allow again, got %+v err=%v", res, err)
	}
}

func TestEventPollIsCursorBasedAndAckIsPerDeviceWatermark(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Now()
	future := now.Add(time.Hour)

	id1, err := s.InsertEvent(ctx, infraEvent("message.processed", future))
	if err != nil {
		t.Fatalf("insert 1: %v", err)
	}
	id2, err := s.InsertEvent(ctx, infraEvent("message.processed", future))
	if err != nil {
		t.Fatalf("insert 2: %v", err)
	}

	res, err := s.PollEventsForDevice(ctx, "dev1", 0, 10, now)
	if err != nil {
		t.Fatalf("poll: %v", err)
	}
	if len(res.Events) != 2 || res.Cursor != id2 {
		t.Fatalf("expected both events and cursor at %d, got %d events cursor=%d", id2, len(res.Events), res.Cursor)
	}

	if err := s.AckEvents(ctx, "dev1", id1, now); err != nil {
		t.Fatalf("ack: %v", err)
	}

	// A second device's watermark is independent.
	res2, err := s.PollEventsForDevice(ctx, "dev2", 0, 10, now)
	if err != nil {
		t.Fatalf("poll dev2: %v", err)
	}
	if len(res2.Events) != 2 {
		t.Fatalf("expected dev2 to see both events regardless of dev1's ack, got %d", len(res2.Events))
	}

	resAfterAck, err := s.PollEventsForDevice(ctx, "dev1", id1, 10, now)
	if err != nil {
		t.Fatalf("poll after ack: %v", err)
	}
	if len(resAfterAck.Events) != 1 || resAfterAck.Events[0].ID != id2 {
		t.Fatalf("expected only the unacked event, got %+v", resAfterAck.Events)
	}
}

func TestPollWithoutSinceFallsBackToAckWatermark(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Now()
	future := now.Add(time.Hour)

	id1, err := s.InsertEvent(ctx, infraEvent("message.processed", future))
	if err != nil {
		t.Fatalf("insert 1: %v", err)
	}
	if _, err := s.InsertEvent(ctx, infraEvent("message.processed", future)); err != nil {
		t.Fatalf("insert 2: %v", err)
	}

	if err := s.AckEvents(ctx, "dev1", id1, now); err != nil {
		t.Fatalf("ack: %v", err)
	}

	// Polling again with no explicit since (the common re-poll case) must
	// resume from the ack watermark, not replay the whole un-expired backlog.
	res, err := s.PollEventsForDevice(ctx, "dev1", 0, 10, now)
	if err != nil {
		t.Fatalf("poll: %v", err)
	}
	if len(res.Events) != 1 || res.Events[0].ID == id1 {
		t.Fatalf("expected only the event after the watermark, got %+v", res.Events)
	}
}

func TestPollRespectsLimitAndExpiry(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Now()

	if _, err := s.InsertEvent(ctx, infraEvent("x", now.Add(-time.Minute))); err != nil {
		t.Fatalf("insert expired: %v", err)
	}
	if _, err := s.InsertEvent(ctx, infraEvent("x", now.Add(time.Hour))); err != nil {
		t.Fatalf("insert live: %v", err)
	}

	res, err := s.PollEventsForDevice(ctx, "dev1", 0, 10, now)
	if err != nil {
		t.Fatalf("poll: %v", err)
	}
	if len(res.Events) != 1 {
		t.Fatalf("expected the expired event excluded, got %d events", len(res.Events))
	}
}

func TestCleanupPurgesExpiredIdempotencyAndEvents(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Now()

	if err := s.SaveIdempotency(ctx, "expired", "h", []byte(`{}`), now.Add(-time.Minute)); err != nil {
		t.Fatalf("save: %v", err)
	}
	if _, err := s.InsertEvent(ctx, infraEvent("x", now.Add(-time.Minute))); err != nil {
		t.Fatalf("insert: %v", err)
	}

	if err := s.Cleanup(ctx, now); err != nil {
		t.Fatalf("cleanup: %v", err)
	}

	rec, err := s.GetIdempotency(ctx, "expired")
	if err != nil || rec != nil {
		t.Fatalf("expected purged idempotency record, got %+v err=%v", rec, err)
	}
	res, err := s.PollEventsForDevice(ctx, "dev1", 0, 10, now.Add(time.Hour))
	if err != nil {
		t.Fatalf("poll: %v", err)
	}
	if len(res.Events) != 0 {
		t.Fatalf("expected expired event purged, got %d remaining", len(res.Events))
	}
}
