package server

import (
	"time"

	"github.com/kaelbridge/duraq/limiter"
)

// Options configures a Server (spec §6 "Configuration options").
//
// DeleteAfterCompletion, DeleteAfterFailure and DeleteAfterDisabled use
// a *time.Duration to distinguish the three states the spec requires:
// nil means never delete, a pointer to 0 means delete immediately on
// settlement, and a pointer to a positive duration means sweep jobs
// older than that age every CleanupInterval.
type Options struct {
	// Queue names the job queue this server owns.
	Queue string
	// WorkerCount is the initial worker pool size. Default 1.
	WorkerCount int
	// Limiter gates job admission across all of this server's workers.
	// Default limiter.Null (always proceed).
	Limiter limiter.Limiter
	// PollInterval is each worker's loop pause. Default 100ms.
	PollInterval time.Duration
	// CleanupInterval is the TTL-sweep cadence. Default 10s.
	CleanupInterval time.Duration

	DeleteAfterCompletion *time.Duration
	DeleteAfterFailure    *time.Duration
	DeleteAfterDisabled   *time.Duration
}

func (o Options) withDefaults() Options {
	if o.WorkerCount <= 0 {
		o.WorkerCount = 1
	}
	if o.Limiter == nil {
		o.Limiter = limiter.NewNull()
	}
	if o.PollInterval <= 0 {
		o.PollInterval = 100 * time.Millisecond
	}
	if o.CleanupInterval <= 0 {
		o.CleanupInterval = 10 * time.Second
	}
	return o
}

// Immediate is a convenience constant for DeleteAfter* fields meaning
// "delete on settlement" (the zero-duration sentinel).
var Immediate = durationPtr(0)

func durationPtr(d time.Duration) *time.Duration { return &d }

// After returns a *time.Duration suitable for a DeleteAfter* field,
// meaning "sweep once older than d".
func After(d time.Duration) *time.Duration { return durationPtr(d) }
