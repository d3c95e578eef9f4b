package job

import (
	"time"

	"github.com/google/uuid"
)

// Job is the unit of persistence and the system's single source of truth
// (spec §3). It carries a typed input, an eventual typed output, and the
// full delivery/scheduling state a Storage implementation must maintain.
//
// Job values returned by a Storage implementation are snapshots: mutating
// fields directly does not change underlying storage state. Transitions
// happen only through the Storage contract (Add, Next, Complete, Abort,
// SaveProgress).
type Job struct {
	ID uuid.UUID

	// Queue segregates namespaces; every storage operation is queue-scoped.
	Queue string

	// JobRunID optionally groups related jobs for batch abort
	// (see abortJobRun scenarios in spec §8).
	JobRunID string

	// Fingerprint is a stable hash of Input used for dedup/caching lookup
	// by input identity (OutputForInput).
	Fingerprint string

	// Input is the user-supplied, opaque payload. See the Input/SetInput
	// generic helpers for type-safe access.
	Input any

	// Output is present only once Status is Completed.
	Output any

	Status Status

	// Error and ErrorCode are populated on any non-Completed terminal
	// transition. ErrorCode carries the wire variant tag (job.CodeRetryable,
	// job.CodePermanent, ...).
	Error     string
	ErrorCode string

	// RunAttempts increments on every Pending->Processing transition.
	// MaxRetries bounds retries: once RunAttempts > MaxRetries a retryable
	// error is treated as permanent.
	RunAttempts uint32
	MaxRetries  uint32

	CreatedAt time.Time

	// RunAfter gates dispatch: a job is not eligible until now >= RunAfter.
	RunAfter time.Time

	// DeadlineAt, if set, causes a permanent failure if now > DeadlineAt
	// at claim time.
	DeadlineAt *time.Time

	// LastRanAt is set on every Pending->Processing transition.
	LastRanAt *time.Time

	// CompletedAt is set on any terminal transition.
	CompletedAt *time.Time

	// Progress is monotonically non-decreasing within one Processing
	// episode (invariant I4); it resets to 0 on each retry.
	Progress        float64
	ProgressMessage string
	ProgressDetails any

	// WorkerID identifies the worker currently holding the claim, set
	// while Status is Processing or Aborting.
	WorkerID string
}

// Input attempts to cast j.Input to T, mirroring the teacher's generic
// metadata accessor idiom. It returns the zero value and false if Input
// is nil or not assignable to T.
func Input[T any](j *Job) (T, bool) {
	var zero T
	if j == nil || j.Input == nil {
		return zero, false
	}
	v, ok := j.Input.(T)
	if !ok {
		return zero, false
	}
	return v, true
}

// SetInput stores a type-safe input value on the job.
func SetInput[T any](j *Job, v T) {
	j.Input = v
}

// Output attempts to cast j.Output to T; see Input.
func Output[T any](j *Job) (T, bool) {
	var zero T
	if j == nil || j.Output == nil {
		return zero, false
	}
	v, ok := j.Output.(T)
	if !ok {
		return zero, false
	}
	return v, true
}
