package limiter

import (
	"context"
	"sync"
	"time"
)

// Store is the durable side-table contract a Rate limiter may be backed
// by, so that multiple processes sharing one queue observe the same
// admission decisions (spec §4.2 "queue-scoped durable table"). The
// in-process variant of Rate does not use a Store; sqlsto.RateLimiterStore
// is the reference durable implementation.
type Store interface {
	// RecordExecution appends an execution timestamp for queue.
	RecordExecution(ctx context.Context, queue string, at time.Time) error

	// CountSince returns the number of executions recorded for queue at
	// or after since.
	CountSince(ctx context.Context, queue string, since time.Time) (int, error)

	// OldestSince returns the oldest execution timestamp at or after
	// since, if any.
	OldestSince(ctx context.Context, queue string, since time.Time) (t time.Time, ok bool, err error)

	// GetNextAvailable returns the queue's stored next-available time,
	// the zero time if none has been set.
	GetNextAvailable(ctx context.Context, queue string) (time.Time, error)

	// SetNextAvailable stores queue's next-available time. Implementations
	// must apply max(stored, t) to preserve monotonicity.
	SetNextAvailable(ctx context.Context, queue string, t time.Time) error

	// Clear removes all execution-tracking and next-available state for
	// queue.
	Clear(ctx context.Context, queue string) error
}

// Rate implements a sliding-window execution cap with adaptive full-jitter
// backoff (spec §4.2). With no Store, state is process-local arrays;
// with WithStore, state lives in a durable side table shared by every
// process serving the same queue name.
type Rate struct {
	queue          string
	maxExecutions  int
	windowSize     time.Duration
	store          Store
	backoff        *backoffState

	mu          sync.Mutex
	executions  []time.Time // process-local only
	nextAvail   time.Time   // process-local only
}

// Option configures a Rate limiter.
type Option func(*Rate)

// WithStore backs the limiter with a durable Store, scoped to queue, so
// that concurrent processes share admission state.
func WithStore(store Store, queue string) Option {
	return func(r *Rate) {
		r.store = store
		r.queue = queue
	}
}

// NewRate creates an adaptive-backoff sliding-window rate limiter.
// initialBackoff/maxBackoff/multiplier configure the backoff applied each
// time the window is saturated; multiplier must be > 1.
func NewRate(maxExecutions int, windowSize, initialBackoff, maxBackoff time.Duration, multiplier float64, opts ...Option) *Rate {
	r := &Rate{
		maxExecutions: maxExecutions,
		windowSize:    windowSize,
		backoff:       newBackoffState(initialBackoff, maxBackoff, multiplier),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Rate) countSince(ctx context.Context, since time.Time) (int, error) {
	if r.store != nil {
		return r.store.CountSince(ctx, r.queue, since)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	kept := r.executions[:0]
	for _, t := range r.executions {
		if !t.Before(since) {
			kept = append(kept, t)
			n++
		}
	}
	r.executions = kept
	return n, nil
}

func (r *Rate) oldestSince(ctx context.Context, since time.Time) (time.Time, bool, error) {
	if r.store != nil {
		return r.store.OldestSince(ctx, r.queue, since)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	var oldest time.Time
	found := false
	for _, t := range r.executions {
		if t.Before(since) {
			continue
		}
		if !found || t.Before(oldest) {
			oldest = t
			found = true
		}
	}
	return oldest, found, nil
}

func (r *Rate) getNextAvailable(ctx context.Context) (time.Time, error) {
	if r.store != nil {
		return r.store.GetNextAvailable(ctx, r.queue)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.nextAvail, nil
}

func (r *Rate) setNextAvailable(ctx context.Context, t time.Time) error {
	if r.store != nil {
		return r.store.SetNextAvailable(ctx, r.queue, t)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if t.After(r.nextAvail) {
		r.nextAvail = t
	}
	return nil
}

// CanProceed implements Limiter.
func (r *Rate) CanProceed(ctx context.Context) (bool, error) {
	now := time.Now()
	since := now.Add(-r.windowSize)
	count, err := r.countSince(ctx, since)
	if err != nil {
		return false, err
	}
	stored, err := r.getNextAvailable(ctx)
	if err != nil {
		return false, err
	}
	if count < r.maxExecutions && !now.Before(stored) {
		r.mu.Lock()
		r.backoff.reset()
		r.mu.Unlock()
		return true, nil
	}
	r.mu.Lock()
	r.backoff.grow()
	r.mu.Unlock()
	return false, nil
}

// RecordJobStart implements Limiter.
func (r *Rate) RecordJobStart(ctx context.Context) error {
	now := time.Now()
	if r.store != nil {
		if err := r.store.RecordExecution(ctx, r.queue, now); err != nil {
			return err
		}
	} else {
		r.mu.Lock()
		r.executions = append(r.executions, now)
		r.mu.Unlock()
	}
	since := now.Add(-r.windowSize)
	count, err := r.countSince(ctx, since)
	if err != nil {
		return err
	}
	if count >= r.maxExecutions {
		r.mu.Lock()
		delay := jitter(r.backoff.current)
		r.mu.Unlock()
		return r.setNextAvailable(ctx, now.Add(delay))
	}
	return nil
}

// RecordJobCompletion is a no-op for Rate: admission depends only on
// start times within the window, not on completion.
func (r *Rate) RecordJobCompletion(context.Context) error { return nil }

// NextAvailableTime implements Limiter: max(storedNextAvailable,
// windowOldestStart + windowSize) per spec §4.2.
func (r *Rate) NextAvailableTime(ctx context.Context) (time.Time, error) {
	now := time.Now()
	stored, err := r.getNextAvailable(ctx)
	if err != nil {
		return time.Time{}, err
	}
	oldest, ok, err := r.oldestSince(ctx, now.Add(-r.windowSize))
	if err != nil {
		return time.Time{}, err
	}
	candidate := stored
	if ok {
		windowExpiry := oldest.Add(r.windowSize)
		if windowExpiry.After(candidate) {
			candidate = windowExpiry
		}
	}
	if candidate.Before(now) {
		candidate = now
	}
	return candidate, nil
}

// SetNextAvailableTime implements Limiter with max(stored, t) semantics.
func (r *Rate) SetNextAvailableTime(ctx context.Context, t time.Time) error {
	return r.setNextAvailable(ctx, t)
}

// Clear implements Limiter.
func (r *Rate) Clear(ctx context.Context) error {
	if r.store != nil {
		if err := r.store.Clear(ctx, r.queue); err != nil {
			return err
		}
	} else {
		r.mu.Lock()
		r.executions = nil
		r.nextAvail = time.Time{}
		r.mu.Unlock()
	}
	r.mu.Lock()
	r.backoff.reset()
	r.mu.Unlock()
	return nil
}
