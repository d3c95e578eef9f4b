// Package limiter provides the admission-control policy objects a Worker
// consults before claiming another job (spec §4.2).
//
// A Limiter gates whether a new job may begin right now, and reports the
// earliest time at which it expects to allow one. Implementations may be
// process-local (in-memory counters) or durable (backed by a side table
// shared across processes within a queue); both share the same contract
// so a Worker never needs to know which kind it holds.
package limiter

import (
	"context"
	"time"
)

// Limiter is the pluggable admission-control contract (spec §4.2).
//
// Every method takes a context because durable implementations perform
// I/O; process-local implementations (Null, Concurrency) simply ignore
// it, following the teacher's convention of threading ctx through every
// storage-adjacent call even when a given backend doesn't need to block.
type Limiter interface {
	// CanProceed reports whether a new job may start now.
	CanProceed(ctx context.Context) (bool, error)

	// RecordJobStart accounts for a newly started job.
	RecordJobStart(ctx context.Context) error

	// RecordJobCompletion accounts for a job's completion. May be a
	// no-op for limiters that only gate starts.
	RecordJobCompletion(ctx context.Context) error

	// NextAvailableTime returns the earliest time CanProceed is expected
	// to return true.
	NextAvailableTime(ctx context.Context) (time.Time, error)

	// SetNextAvailableTime nudges the limiter's earliest-start estimate
	// (e.g. from a 429 Retry-After hint). Implementations must apply
	// max(stored, t): later times override earlier ones, never the
	// reverse (spec §9 Open Questions — monotonicity is required
	// everywhere, not just in the durable rate limiter).
	SetNextAvailableTime(ctx context.Context, t time.Time) error

	// Clear resets the limiter's internal state.
	Clear(ctx context.Context) error
}
