package sqlsto

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kaelbridge/duraq/job"
	"github.com/kaelbridge/duraq/storage"
	"github.com/uptrace/bun"
)

// Store is a bun-backed implementation of storage.Storage. It merges the
// teacher's separate Puller/Pusher/Observer/Cleaner roles into a single
// type, since the spec's Storage port is one interface rather than four.
//
// A single *bun.DB may back any number of queues; all queries are scoped
// by the queue column.
type Store struct {
	db *bun.DB

	mu        sync.Mutex
	listeners map[string][]storage.Listener
}

// New creates a Store over db. The schema must already have been created
// via InitDB.
func New(db *bun.DB) *Store {
	return &Store{
		db:        db,
		listeners: make(map[string][]storage.Listener),
	}
}

func (s *Store) notify(queue string, change storage.Change) {
	s.mu.Lock()
	ls := append([]storage.Listener(nil), s.listeners[queue]...)
	s.mu.Unlock()
	for _, l := range ls {
		if l != nil {
			l(change)
		}
	}
}

// Add inserts a new job in the Pending state.
func (s *Store) Add(ctx context.Context, j *job.Job) (uuid.UUID, error) {
	if j.ID == uuid.Nil {
		j.ID = uuid.New()
	}
	if j.CreatedAt.IsZero() {
		j.CreatedAt = time.Now()
	}
	if j.Status == job.Unknown {
		j.Status = job.Pending
	}
	model, err := fromJob(j)
	if err != nil {
		return uuid.Nil, err
	}
	if _, err := s.db.NewInsert().Model(model).Exec(ctx); err != nil {
		return uuid.Nil, err
	}
	s.notify(j.Queue, storage.Change{Type: storage.Insert, New: j})
	return j.ID, nil
}

// Get retrieves a job by id, scoped to queue. It returns (nil, nil) if no
// such job exists.
func (s *Store) Get(ctx context.Context, queue string, id uuid.UUID) (*job.Job, error) {
	model := new(jobModel)
	err := s.db.NewSelect().
		Model(model).
		Where("queue = ?", queue).
		Where("id = ?", id).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return model.toJob()
}

// Next atomically claims the earliest-eligible Pending job via a single
// UPDATE ... WHERE id IN (subquery) RETURNING statement, avoiding a
// separate SELECT-then-UPDATE race between concurrent workers.
func (s *Store) Next(ctx context.Context, queue, workerID string) (*job.Job, error) {
	now := time.Now()
	subQuery := s.db.NewSelect().
		Model((*jobModel)(nil)).
		Column("id").
		Where("queue = ?", queue).
		Where("status = ?", job.Pending).
		Where("run_after <= ?", now).
		Order("run_after ASC").
		Limit(1)

	var models []jobModel
	err := s.db.NewUpdate().
		Model((*jobModel)(nil)).
		Set("status = ?", job.Processing).
		Set("run_attempts = run_attempts + 1").
		Set("last_ran_at = ?", now).
		Set("worker_id = ?", workerID).
		Where("queue = ?", queue).
		Where("id IN (?)", subQuery).
		Returning("*").
		Scan(ctx, &models)
	if err != nil {
		return nil, err
	}
	if len(models) == 0 {
		return nil, nil
	}
	claimed, err := models[0].toJob()
	if err != nil {
		return nil, err
	}
	s.notify(queue, storage.Change{Type: storage.Update, New: claimed})
	return claimed, nil
}

// Peek returns up to limit jobs in queue matching status (job.Unknown
// matches any status), ordered by run_after ascending.
func (s *Store) Peek(ctx context.Context, queue string, status job.Status, limit int) ([]*job.Job, error) {
	var models []jobModel
	query := s.db.NewSelect().
		Model(&models).
		Where("queue = ?", queue).
		Order("run_after ASC")
	if status != job.Unknown {
		query = query.Where("status = ?", status)
	}
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Scan(ctx); err != nil {
		return nil, err
	}
	out := make([]*job.Job, 0, len(models))
	for i := range models {
		j, err := models[i].toJob()
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, nil
}

// Size counts jobs in queue matching status (job.Unknown matches any).
func (s *Store) Size(ctx context.Context, queue string, status job.Status) (int64, error) {
	query := s.db.NewSelect().Model((*jobModel)(nil)).Where("queue = ?", queue)
	if status != job.Unknown {
		query = query.Where("status = ?", status)
	}
	n, err := query.Count(ctx)
	return int64(n), err
}

// Complete persists the final state of a job (Completed, Failed,
// Disabled, or rescheduled back to Pending for a retry).
func (s *Store) Complete(ctx context.Context, j *job.Job) error {
	model, err := fromJob(j)
	if err != nil {
		return err
	}
	_, err = s.db.NewUpdate().
		Model(model).
		WherePK().
		Exec(ctx)
	if err != nil {
		return err
	}
	s.notify(j.Queue, storage.Change{Type: storage.Update, New: j})
	return nil
}

// Abort requests cooperative cancellation by moving a non-terminal job
// to Aborting. Terminal jobs are left untouched (absorbing state).
func (s *Store) Abort(ctx context.Context, queue string, id uuid.UUID) error {
	res, err := s.db.NewUpdate().
		Model((*jobModel)(nil)).
		Set("status = ?", job.Aborting).
		Where("queue = ?", queue).
		Where("id = ?", id).
		Where("status NOT IN (?, ?, ?)", job.Completed, job.Failed, job.Disabled).
		Exec(ctx)
	if err != nil {
		return err
	}
	if isAffected(res) {
		j, gErr := s.Get(ctx, queue, id)
		if gErr == nil && j != nil {
			s.notify(queue, storage.Change{Type: storage.Update, New: j})
		}
		return nil
	}
	existing, err := s.Get(ctx, queue, id)
	if err != nil {
		return err
	}
	if existing == nil {
		return storage.ErrNotFound
	}
	return nil
}

// SaveProgress updates the progress fields of a non-terminal job.
func (s *Store) SaveProgress(ctx context.Context, queue string, id uuid.UUID, progress float64, message string, details any) error {
	encoded, err := encodeAny(details)
	if err != nil {
		return err
	}
	res, err := s.db.NewUpdate().
		Model((*jobModel)(nil)).
		Set("progress = ?", progress).
		Set("progress_message = ?", message).
		Set("progress_details = ?", encoded).
		Where("queue = ?", queue).
		Where("id = ?", id).
		Where("status NOT IN (?, ?, ?)", job.Completed, job.Failed, job.Disabled).
		Exec(ctx)
	if err != nil {
		return err
	}
	if isAffected(res) {
		j, gErr := s.Get(ctx, queue, id)
		if gErr == nil && j != nil {
			s.notify(queue, storage.Change{Type: storage.Update, New: j})
		}
	}
	return nil
}

// Delete removes a single job.
func (s *Store) Delete(ctx context.Context, queue string, id uuid.UUID) error {
	old, err := s.Get(ctx, queue, id)
	if err != nil {
		return err
	}
	_, err = s.db.NewDelete().
		Model((*jobModel)(nil)).
		Where("queue = ?", queue).
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return err
	}
	if old != nil {
		s.notify(queue, storage.Change{Type: storage.Delete, Old: old})
	}
	return nil
}

// DeleteAll removes every job belonging to queue.
func (s *Store) DeleteAll(ctx context.Context, queue string) error {
	models, err := s.Peek(ctx, queue, job.Unknown, 0)
	if err != nil {
		return err
	}
	_, err = s.db.NewDelete().
		Model((*jobModel)(nil)).
		Where("queue = ?", queue).
		Exec(ctx)
	if err != nil {
		return err
	}
	for _, j := range models {
		s.notify(queue, storage.Change{Type: storage.Delete, Old: j})
	}
	return nil
}

// DeleteJobsByStatusAndAge removes jobs in a terminal status whose
// CompletedAt is older than age. It is the primitive behind the
// server's periodic TTL sweep.
func (s *Store) DeleteJobsByStatusAndAge(ctx context.Context, queue string, status job.Status, age time.Duration) (int64, error) {
	cutoff := time.Now().Add(-age)
	res, err := s.db.NewDelete().
		Model((*jobModel)(nil)).
		Where("queue = ?", queue).
		Where("status = ?", status).
		Where("completed_at IS NOT NULL").
		Where("completed_at <= ?", cutoff).
		Exec(ctx)
	if err != nil {
		return 0, err
	}
	return getAffected(res), nil
}

// GetByRunID returns every job sharing jobRunID within queue.
func (s *Store) GetByRunID(ctx context.Context, queue, jobRunID string) ([]*job.Job, error) {
	var models []jobModel
	err := s.db.NewSelect().
		Model(&models).
		Where("queue = ?", queue).
		Where("job_run_id = ?", jobRunID).
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]*job.Job, 0, len(models))
	for i := range models {
		j, err := models[i].toJob()
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, nil
}

// OutputForInput looks up the cached output of the most recent Completed
// job sharing fingerprint within queue.
func (s *Store) OutputForInput(ctx context.Context, queue, fingerprint string) (any, bool, error) {
	model := new(jobModel)
	err := s.db.NewSelect().
		Model(model).
		Where("queue = ?", queue).
		Where("fingerprint = ?", fingerprint).
		Where("status = ?", job.Completed).
		Order("completed_at DESC").
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, err
	}
	out, err := decodeAny(model.Output)
	if err != nil {
		return nil, false, err
	}
	return out, true, nil
}

// SubscribeToChanges registers an in-process listener. This backend has
// no LISTEN/NOTIFY-style transport, so it only observes mutations made
// through this Store instance; see the package doc for details.
func (s *Store) SubscribeToChanges(queue string, listener storage.Listener) (storage.Unsubscribe, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners[queue] = append(s.listeners[queue], listener)
	idx := len(s.listeners[queue]) - 1
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		ls := s.listeners[queue]
		if idx < len(ls) {
			ls[idx] = nil
		}
	}, nil
}

var _ storage.Storage = (*Store)(nil)
