// Package memsto is the reference in-memory Storage implementation
// required by spec §2's size budget ("Storage port (interface + one
// reference in-memory impl)"). It backs the atomic Next dequeue with a
// mutex around a scan-and-mark operation, the approach spec §6 prescribes
// for "backends without row-level locking (in-memory, browser key-value
// stores)".
package memsto

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kaelbridge/duraq/job"
	"github.com/kaelbridge/duraq/storage"
)

// Store is a process-local, mutex-guarded Storage implementation. It is
// suitable for tests and single-process deployments; it has no
// cross-process change-stream (SubscribeToChanges only sees mutations
// made through this same Store instance).
type Store struct {
	mu        sync.Mutex
	jobs      map[string]map[uuid.UUID]*job.Job
	listeners map[string][]storage.Listener
}

// New creates an empty in-memory Store.
func New() *Store {
	return &Store{
		jobs:      make(map[string]map[uuid.UUID]*job.Job),
		listeners: make(map[string][]storage.Listener),
	}
}

func (s *Store) queueMap(queue string) map[uuid.UUID]*job.Job {
	m, ok := s.jobs[queue]
	if !ok {
		m = make(map[uuid.UUID]*job.Job)
		s.jobs[queue] = m
	}
	return m
}

func clone(j *job.Job) *job.Job {
	if j == nil {
		return nil
	}
	cp := *j
	return &cp
}

func (s *Store) notify(queue string, change storage.Change) {
	for _, l := range s.listeners[queue] {
		if l != nil {
			l(change)
		}
	}
}

func (s *Store) Add(_ context.Context, j *job.Job) (uuid.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if j.ID == uuid.Nil {
		j.ID = uuid.New()
	}
	if j.CreatedAt.IsZero() {
		j.CreatedAt = time.Now()
	}
	if j.Status == job.Unknown {
		j.Status = job.Pending
	}
	stored := clone(j)
	s.queueMap(j.Queue)[j.ID] = stored
	s.notify(j.Queue, storage.Change{Type: storage.Insert, New: clone(stored)})
	return j.ID, nil
}

func (s *Store) Get(_ context.Context, queue string, id uuid.UUID) (*job.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.queueMap(queue)[id]
	if !ok {
		return nil, nil
	}
	return clone(j), nil
}

// Next implements the atomic dequeue: holding the store-wide mutex for
// the whole scan-and-mark, select the earliest-eligible Pending row and
// flip it to Processing before releasing the lock. No other goroutine can
// observe or claim the same row in between.
func (s *Store) Next(_ context.Context, queue, workerID string) (*job.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	var best *job.Job
	for _, j := range s.queueMap(queue) {
		if j.Status != job.Pending {
			continue
		}
		if j.RunAfter.After(now) {
			continue
		}
		if best == nil || j.RunAfter.Before(best.RunAfter) {
			best = j
		}
	}
	if best == nil {
		return nil, nil
	}

	old := clone(best)
	best.Status = job.Processing
	best.RunAttempts++
	best.LastRanAt = &now
	best.WorkerID = workerID
	s.notify(queue, storage.Change{Type: storage.Update, Old: old, New: clone(best)})
	return clone(best), nil
}

func (s *Store) Peek(_ context.Context, queue string, status job.Status, limit int) ([]*job.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*job.Job
	for _, j := range s.queueMap(queue) {
		if status != job.Unknown && j.Status != status {
			continue
		}
		out = append(out, clone(j))
	}
	sort.Slice(out, func(i, k int) bool { return out[i].RunAfter.Before(out[k].RunAfter) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) Size(_ context.Context, queue string, status job.Status) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, j := range s.queueMap(queue) {
		if status == job.Unknown || j.Status == status {
			n++
		}
	}
	return n, nil
}

func (s *Store) Complete(_ context.Context, j *job.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	qm := s.queueMap(j.Queue)
	old := clone(qm[j.ID])
	stored := clone(j)
	qm[j.ID] = stored
	s.notify(j.Queue, storage.Change{Type: storage.Update, Old: old, New: clone(stored)})
	return nil
}

func (s *Store) Abort(_ context.Context, queue string, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.queueMap(queue)[id]
	if !ok {
		return storage.ErrNotFound
	}
	if j.Status.Terminal() {
		return nil // absorbing: abort requests on terminal jobs are ignored
	}
	old := clone(j)
	j.Status = job.Aborting
	s.notify(queue, storage.Change{Type: storage.Update, Old: old, New: clone(j)})
	return nil
}

func (s *Store) SaveProgress(_ context.Context, queue string, id uuid.UUID, progress float64, message string, details any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.queueMap(queue)[id]
	if !ok {
		return storage.ErrNotFound
	}
	if j.Status.Terminal() {
		return nil
	}
	old := clone(j)
	j.Progress = progress
	j.ProgressMessage = message
	j.ProgressDetails = details
	s.notify(queue, storage.Change{Type: storage.Update, Old: old, New: clone(j)})
	return nil
}

func (s *Store) Delete(_ context.Context, queue string, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	qm := s.queueMap(queue)
	old, ok := qm[id]
	if !ok {
		return nil
	}
	delete(qm, id)
	s.notify(queue, storage.Change{Type: storage.Delete, Old: clone(old)})
	return nil
}

func (s *Store) DeleteAll(_ context.Context, queue string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	qm := s.queueMap(queue)
	for id, j := range qm {
		delete(qm, id)
		s.notify(queue, storage.Change{Type: storage.Delete, Old: clone(j)})
	}
	return nil
}

func (s *Store) DeleteJobsByStatusAndAge(_ context.Context, queue string, status job.Status, age time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	qm := s.queueMap(queue)
	cutoff := time.Now().Add(-age)
	var n int64
	for id, j := range qm {
		if j.Status != status || j.CompletedAt == nil || j.CompletedAt.After(cutoff) {
			continue
		}
		delete(qm, id)
		n++
		s.notify(queue, storage.Change{Type: storage.Delete, Old: clone(j)})
	}
	return n, nil
}

func (s *Store) GetByRunID(_ context.Context, queue, jobRunID string) ([]*job.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*job.Job
	for _, j := range s.queueMap(queue) {
		if j.JobRunID == jobRunID {
			out = append(out, clone(j))
		}
	}
	return out, nil
}

func (s *Store) OutputForInput(_ context.Context, queue, fingerprint string) (any, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, j := range s.queueMap(queue) {
		if j.Status == job.Completed && j.Fingerprint == fingerprint {
			return j.Output, true, nil
		}
	}
	return nil, false, nil
}

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
