// Package storage defines the narrow, queue-scoped contract the worker
// and server talk to storage through (spec §4.3), and the change-event
// shape used for cross-process observation (spec §4.6).
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/kaelbridge/duraq/job"
)

// Sentinel errors returned by Storage implementations, following the
// teacher's convention of package-level sentinel errors for expected
// failure modes rather than ad-hoc strings.
var (
	// ErrNotFound is returned by Abort (and by memsto's SaveProgress) when
	// no row matches the given queue/id. Get reports a missing row as
	// (nil, nil) instead.
	ErrNotFound = errors.New("storage: job not found")

	// ErrNotClaimed names the case where a mutating operation expects the
	// caller to hold the claim (be the recorded workerId) but the row's
	// current state disagrees. Neither bundled backend (memsto, sqlsto)
	// returns it: their Complete persists the given row unconditionally.
	ErrNotClaimed = errors.New("storage: job not claimed by caller")
)

// ChangeType classifies a row-level mutation emitted by SubscribeToChanges.
type ChangeType uint8

const (
	Insert ChangeType = iota
	Update
	Delete
)

func (c ChangeType) String() string {
	switch c {
	case Insert:
		return "INSERT"
	case Update:
		return "UPDATE"
	case Delete:
		return "DELETE"
	default:
		return "UNKNOWN"
	}
}

// Change is the delta emitted on the change-stream: Old is nil for
// Insert, New is nil for Delete.
type Change struct {
	Type ChangeType
	Old  *job.Job
	New  *job.Job
}

// Listener receives every Change for the queue(s) it subscribed to.
type Listener func(Change)

// Unsubscribe detaches a previously registered Listener.
type Unsubscribe func()

// Storage is the abstract, queue-scoped contract every concrete backend
// implements (spec §4.3). Next is the system's sole atomicity anchor: if
// two workers race to claim the same row, at most one may succeed.
type Storage interface {
	// Add inserts a new Pending job and returns its assigned id.
	Add(ctx context.Context, j *job.Job) (uuid.UUID, error)

	// Get returns the job identified by (queue, id), or (nil, nil) if no
	// such job exists.
	Get(ctx context.Context, queue string, id uuid.UUID) (*job.Job, error)

	// Next atomically selects one Pending, eligible (RunAfter <= now) row
	// ordered by RunAfter ascending, transitions it to Processing with
	// LastRanAt := now and WorkerID := workerID, and returns it. Returns
	// (nil, nil) if no eligible row exists.
	Next(ctx context.Context, queue, workerID string) (*job.Job, error)

	// Peek performs a non-destructive read of up to limit jobs in the
	// given status. status == job.Unknown means "any status". limit <= 0
	// means "no limit".
	Peek(ctx context.Context, queue string, status job.Status, limit int) ([]*job.Job, error)

	// Size counts jobs in the given status (job.Unknown for "any").
	Size(ctx context.Context, queue string, status job.Status) (int64, error)

	// Complete persists the full current state of j — used for every
	// state transition a worker makes: settlement, retry reschedule, or
	// disable. The caller is expected to have already set j.Status and
	// the fields relevant to that transition.
	Complete(ctx context.Context, j *job.Job) error

	// Abort requests cancellation of a job: sets status to Aborting, but
	// only if the job is currently Pending or Processing (terminal
	// statuses are absorbing). Returns ErrNotFound if no such row exists.
	Abort(ctx context.Context, queue string, id uuid.UUID) error

	// SaveProgress partially updates progress fields without touching
	// Status. It is a no-op (but not an error) for jobs already in a
	// terminal state.
	SaveProgress(ctx context.Context, queue string, id uuid.UUID, progress float64, message string, details any) error

	// Delete removes a single job row.
	Delete(ctx context.Context, queue string, id uuid.UUID) error

	// DeleteAll removes every row for queue.
	DeleteAll(ctx context.Context, queue string) error

	// DeleteJobsByStatusAndAge deletes rows in status whose CompletedAt
	// is older than now - age, returning the number of rows removed.
	DeleteJobsByStatusAndAge(ctx context.Context, queue string, status job.Status, age time.Duration) (int64, error)

	// GetByRunID returns every job sharing the given JobRunID, used for
	// batch abort by run id.
	GetByRunID(ctx context.Context, queue, jobRunID string) ([]*job.Job, error)

	// OutputForInput returns the output of a Completed job whose
	// Fingerprint matches, for result-caching lookups by input identity.
	OutputForInput(ctx context.Context, queue, fingerprint string) (output any, ok bool, err error)

	// SubscribeToChanges registers listener for every Change on queue.
	// Implementations that cannot support a change-stream (no durable
	// notification mechanism) may return a non-nil error; callers that
	// depend on cross-process observation should treat that as fatal to
	// the Connected Client mode, not to the Storage implementation as a
	// whole.
	SubscribeToChanges(queue string, listener Listener) (Unsubscribe, error)
}
