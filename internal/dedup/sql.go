package dedup

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
)

const (
	isProcessedQuery = `SELECT EXISTS (SELECT 1 FROM webhook_events WHERE event_key = $1 AND expires_at > $2)`

	markProcessedQuery = `INSERT INTO webhook_events (event_key, processed_at, expires_at)
VALUES ($1, $2, $3)
ON CONFLICT (event_key) DO UPDATE SET processed_at = EXCLUDED.processed_at, expires_at = EXCLUDED.expires_at`

	purgeQuery = `DELETE FROM webhook_events WHERE expires_at <= $1`
)

// SQLStore keeps processed keys in the webhook_events table.
type SQLStore struct {
	db  *sqlx.DB
	ttl time.Duration
	now func() time.Time
}

func NewSQLStore(db *sqlx.DB, ttl time.Duration) *SQLStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &SQLStore{db: db, ttl: ttl, now: time.Now}
}

// SetClock replaces the time source. Used by tests.
func (s *SQLStore) SetClock(now func() time.Time) {
	s.now = now
}

func (s *SQLStore) IsProcessed(ctx context.Context, key string) (bool, error) {
	var exists bool
	if err := s.db.GetContext(ctx, &exists, isProcessedQuery, key, s.now().UTC()); err != nil {
		return false, fmt.Errorf("check webhook event %s: %w", key, err)
	}
	return exists, nil
}

func (s *SQLStore) MarkProcessed(ctx context.Context, key string) error {
	now := s.now().UTC()
	if _, err := s.db.ExecContext(ctx, markProcessedQuery, key, now, now.Add(s.ttl)); err != nil {
		return fmt.Errorf("mark webhook event %s: %w", key, err)
	}
	return nil
}

// Purge deletes expired rows and returns how many were removed.
func (s *SQLStore) Purge(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, purgeQuery, s.now().UTC())
	if err != nil {
		return 0, fmt.Errorf("purge webhook events: %w", err)
	}
	return res.RowsAffected()
}
