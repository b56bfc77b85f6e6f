// Package pg implements internal/infra.Store over Postgres using
// database/sql with $N-placeholder queries.
package pg

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/owliabot/owliabot/internal/infra"
	"github.com/owliabot/owliabot/internal/infra/migrations"
)

// Store is the Postgres-backed infra.Store.
type Store struct {
	db *sql.DB
}

// Open connects to dsn and applies pending migrations.
func Open(dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("infra/pg: open: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("infra/pg: ping: %w", err)
	}
	if err := migrations.MigratePostgres(db); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) CheckRateLimit(ctx context.Context, bucket string, windowMs int64, max int, now time.Time) (infra.RateLimitResult, error) {
	window := time.Duration(windowMs) * time.Millisecond
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return infra.RateLimitResult{}, err
	}
	defer tx.Rollback()

	var count int
	var windowFrom time.Time
	err = tx.QueryRowContext(ctx, `SELECT count, window_from FROM rate_limit_windows WHERE bucket = $1 FOR UPDATE`, bucket).Scan(&count, &windowFrom)
	switch {
	case err == sql.ErrNoRows:
		if _, err := tx.ExecContext(ctx, `INSERT INTO rate_limit_windows (bucket, count, window_from) VALUES ($1, 1, $2)`, bucket, now); err != nil {
			return infra.RateLimitResult{}, err
		}
		return infra.RateLimitResult{Allowed: true, ResetAt: now.Add(window), Remaining: max - 1}, tx.Commit()
	case err != nil:
		return infra.RateLimitResult{}, err
	}

	resetAt := windowFrom.Add(window)
	if now.Sub(windowFrom) >= window {
		if _, err := tx.ExecContext(ctx, `UPDATE rate_limit_windows SET count = 1, window_from = $2 WHERE bucket = $1`, bucket, now); err != nil {
			return infra.RateLimitResult{}, err
		}
		return infra.RateLimitResult{Allowed: true, ResetAt: now.Add(window), Remaining: max - 1}, tx.Commit()
	}

	if count >= max {
		return infra.RateLimitResult{Allowed: false, ResetAt: resetAt, Remaining: 0}, tx.Commit()
	}
	if _, err := tx.ExecContext(ctx, `UPDATE rate_limit_windows SET count = count + 1 WHERE bucket = $1`, bucket); err != nil {
		return infra.RateLimitResult{}, err
	}
	return infra.RateLimitResult{Allowed: true, ResetAt: resetAt, Remaining: max - count - 1}, tx.Commit()
}

func (s *Store) GetIdempotency(ctx context.Context, key string) (*infra.IdempotencyRecord, error) {
	var rec infra.IdempotencyRecord
	rec.Key = key
	err := s.db.QueryRowContext(ctx, `SELECT request_hash, response, expires_at FROM idempotency_keys WHERE key = $1`, key).
		Scan(&rec.RequestHash, &rec.Response, &rec.ExpiresAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if time.Now().After(rec.ExpiresAt) {
		return nil, nil
	}
	return &rec, nil
}

func (s *Store) SaveIdempotency(ctx context.Context, key, requestHash string, response []byte, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO idempotency_keys (key, request_hash, response, expires_at) VALUES ($1, $2, $3, $4)
		 ON CONFLICT (key) DO UPDATE SET request_hash = excluded.request_hash, response = excluded.response, expires_at = excluded.expires_at`,
		key, requestHash, response, expiresAt)
	return err
}

func (s *Store) InsertEvent(ctx context.Context, ev infra.Event) (int64, error) {
	var id int64
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO events (event_type, status, source, message, metadata, expires_at) VALUES ($1, $2, $3, $4, $5, $6) RETURNING id`,
		ev.Type, ev.Status, ev.Source, ev.Message, nullableMetadata(ev.Metadata), ev.ExpiresAt).Scan(&id)
	return id, err
}

func (s *Store) AckEvents(ctx context.Context, deviceID string, uptoID int64, now time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO device_watermarks (device_id, acked_upto) VALUES ($1, $2)
		 ON CONFLICT (device_id) DO UPDATE SET acked_upto = GREATEST(device_watermarks.acked_upto, excluded.acked_upto)`,
		deviceID, uptoID)
	return err
}

func (s *Store) PollEventsForDevice(ctx context.Context, deviceID string, since int64, limit int, now time.Time) (infra.PollResult, error) {
	if limit <= 0 {
		limit = 100
	}
	if since <= 0 {
		var watermark int64
		err := s.db.QueryRowContext(ctx, `SELECT acked_upto FROM device_watermarks WHERE device_id = $1`, deviceID).Scan(&watermark)
		if err != nil && err != sql.ErrNoRows {
			return infra.PollResult{}, err
		}
		since = watermark
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, event_type, status, source, message, metadata, created_at, expires_at FROM events
		 WHERE id > $1 AND expires_at > $2 ORDER BY id ASC LIMIT $3`, since, now, limit)
	if err != nil {
		return infra.PollResult{}, err
	}
	defer rows.Close()

	var out infra.PollResult
	for rows.Next() {
		var e infra.Event
		var metadata sql.NullString
		if err := rows.Scan(&e.ID, &e.Type, &e.Status, &e.Source, &e.Message, &metadata, &e.Time, &e.ExpiresAt); err != nil {
			return infra.PollResult{}, err
		}
		if metadata.Valid {
			e.Metadata = []byte(metadata.String)
		}
		out.Events = append(out.Events, e)
		out.Cursor = e.ID
	}
	if out.Cursor == 0 {
		out.Cursor = since
	}
	return out, rows.Err()
}

func (s *Store) Cleanup(ctx context.Context, now time.Time) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM idempotency_keys WHERE expires_at < $1`, now); err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM events WHERE expires_at < $1`, now); err != nil {
		return err
	}
	return nil
}

func nullableMetadata(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}
