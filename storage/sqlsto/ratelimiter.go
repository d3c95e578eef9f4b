package sqlsto

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/uptrace/bun"
)

// executionModel records a single admitted job start, used by
// RateLimiterStore to reconstruct sliding-window counts across processes.
type executionModel struct {
	bun.BaseModel `bun:"table:execution_tracking"`

	ID         int64     `bun:"id,pk,autoincrement"`
	Queue      string    `bun:"queue,notnull"`
	ExecutedAt time.Time `bun:"executed_at,notnull"`
}

// nextAvailableModel holds the durable, monotonic next-available-time
// watermark per queue, written by limiter.Rate's backoff and by
// SetNextAvailableTime nudges.
type nextAvailableModel struct {
	bun.BaseModel `bun:"table:next_available"`

	Queue       string    `bun:"queue,pk"`
	AvailableAt time.Time `bun:"available_at,notnull"`
}

// RateLimiterStore is a bun-backed implementation of limiter.Store,
// giving limiter.Rate a durable side table so that multiple processes
// serving the same queue observe the same sliding window and the same
// backoff watermark.
type RateLimiterStore struct {
	db *bun.DB
}

// NewRateLimiterStore creates a RateLimiterStore over db. The schema
// must already have been created via InitDB.
func NewRateLimiterStore(db *bun.DB) *RateLimiterStore {
	return &RateLimiterStore{db: db}
}

func (s *RateLimiterStore) RecordExecution(ctx context.Context, queue string, at time.Time) error {
	_, err := s.db.NewInsert().
		Model(&executionModel{Queue: queue, ExecutedAt: at}).
		Exec(ctx)
	return err
}

func (s *RateLimiterStore) CountSince(ctx context.Context, queue string, since time.Time) (int, error) {
	n, err := s.db.NewSelect().
		Model((*executionModel)(nil)).
		Where("queue = ?", queue).
		Where("executed_at >= ?", since).
		Count(ctx)
	return n, err
}

func (s *RateLimiterStore) OldestSince(ctx context.Context, queue string, since time.Time) (time.Time, bool, error) {
	m := new(executionModel)
	err := s.db.NewSelect().
		Model(m).
		Where("queue = ?", queue).
		Where("executed_at >= ?", since).
		Order("executed_at ASC").
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return time.Time{}, false, nil
		}
		return time.Time{}, false, err
	}
	return m.ExecutedAt, true, nil
}

func (s *RateLimiterStore) GetNextAvailable(ctx context.Context, queue string) (time.Time, error) {
	m := new(nextAvailableModel)
	err := s.db.NewSelect().
		Model(m).
		Where("queue = ?", queue).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return time.Time{}, nil
		}
		return time.Time{}, err
	}
	return m.AvailableAt, nil
}

// SetNextAvailable upserts the watermark, applying max(stored, t)
// monotonicity directly in SQL so concurrent writers from different
// processes can never regress the watermark.
func (s *RateLimiterStore) SetNextAvailable(ctx context.Context, queue string, t time.Time) error {
	_, err := s.db.NewInsert().
		Model(&nextAvailableModel{Queue: queue, AvailableAt: t}).
		On("CONFLICT (queue) DO UPDATE").
		Set("available_at = CASE WHEN excluded.available_at > next_available.available_at THEN excluded.available_at ELSE next_available.available_at END").
		Exec(ctx)
	return err
}

func (s *RateLimiterStore) Clear(ctx context.Context, queue string) error {
	if _, err := s.db.NewDelete().Model((*executionModel)(nil)).Where("queue = ?", queue).Exec(ctx); err != nil {
		return err
	}
	_, err := s.db.NewDelete().Model((*nextAvailableModel)(nil)).Where("queue = ?", queue).Exec(ctx)
	return err
}
