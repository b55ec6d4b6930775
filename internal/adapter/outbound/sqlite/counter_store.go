package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/Tobbiloba/actiongate/internal/domain/quota"
)

// CounterStore implements quota.CounterStore over a SQLite counters table,
// applying the same drop-expired-then-sum-then-conditionally-admit
// algorithm as the in-memory adapter, with the three steps serialized in
// one transaction per key so concurrent callers on the same key still
// observe a single order.
type CounterStore struct {
	db *sql.DB
}

// NewCounterStore wraps an already-opened database connection.
func NewCounterStore(db *sql.DB) *CounterStore {
	return &CounterStore{db: db}
}

// SlidingIncrement implements the sliding window check: expired rows for
// key are deleted, the remaining weights are summed, and a new row is
// inserted (admitting the request) only if the sum plus weight would not
// exceed max.
func (s *CounterStore) SlidingIncrement(ctx context.Context, key string, weight float64, window time.Duration, max float64, now time.Time) (quota.SlidingResult, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return quota.SlidingResult{}, fmt.Errorf("sqlite counter store: begin transaction: %w", err)
	}
	defer tx.Rollback()

	cutoff := now.Add(-window).Format(time.RFC3339Nano)
	if _, err := tx.ExecContext(ctx, `DELETE FROM counters WHERE key = ? AND at <= ?`, key, cutoff); err != nil {
		return quota.SlidingResult{}, fmt.Errorf("sqlite counter store: drop expired: %w", err)
	}

	var sum sql.NullFloat64
	if err := tx.QueryRowContext(ctx, `SELECT SUM(weight) FROM counters WHERE key = ?`, key).Scan(&sum); err != nil {
		return quota.SlidingResult{}, fmt.Errorf("sqlite counter store: sum: %w", err)
	}
	current := sum.Float64

	if current+weight > max {
		if err := tx.Commit(); err != nil {
			return quota.SlidingResult{}, fmt.Errorf("sqlite counter store: commit: %w", err)
		}
		return quota.SlidingResult{Admitted: false, Current: current}, nil
	}

	_, err = tx.ExecContext(ctx, `INSERT INTO counters (key, at, weight) VALUES (?, ?, ?)`,
		key, now.Format(time.RFC3339Nano), weight)
	if err != nil {
		return quota.SlidingResult{}, fmt.Errorf("sqlite counter store: insert: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return quota.SlidingResult{}, fmt.Errorf("sqlite counter store: commit: %w", err)
	}
	return quota.SlidingResult{Admitted: true, Current: current + weight}, nil
}

// Rollback removes one row recorded at exactly now with the given weight.
// Best-effort: used to undo an admitted request-counter increment when a
// downstream aggregate check subsequently refuses.
func (s *CounterStore) Rollback(ctx context.Context, key string, weight float64, now time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM counters WHERE rowid IN (
			SELECT rowid FROM counters WHERE key = ? AND weight = ? AND at = ? LIMIT 1
		)
	`, key, weight, now.Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("sqlite counter store: rollback: %w", err)
	}
	return nil
}

// Sweep deletes every counter row older than cutoff, independent of key,
// bounding table growth from keys that have gone idle. Intended to be
// called periodically by a caller-owned ticker; unlike the in-memory
// adapter's per-shard cleanup, a single DELETE covers every key at once.
func (s *CounterStore) Sweep(ctx context.Context, cutoff time.Time) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM counters WHERE at <= ?`, cutoff.Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("sqlite counter store: sweep: %w", err)
	}
	return nil
}

var _ quota.CounterStore = (*CounterStore)(nil)
