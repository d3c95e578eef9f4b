package limiter

import (
	"context"
	"sync"
	"time"

	"github.com/kaelbridge/duraq/internal"
)

// EvenlySpaced is the optional variant from spec §4.2: rather than
// allowing bursts up to maxExecutions and then backing off, it targets an
// even inter-start interval (windowSize / maxExecutions), adjusted down
// by the rolling average observed execution duration so that long-running
// jobs don't compound with the scheduling gap.
type EvenlySpaced struct {
	idealInterval time.Duration
	avg           *internal.RollingAverage

	mu        sync.Mutex
	nextAvail time.Time
}

// NewEvenlySpaced creates an EvenlySpaced limiter targeting maxExecutions
// starts per windowSize.
func NewEvenlySpaced(maxExecutions int, windowSize time.Duration) *EvenlySpaced {
	ideal := windowSize
	if maxExecutions > 0 {
		ideal = windowSize / time.Duration(maxExecutions)
	}
	return &EvenlySpaced{
		idealInterval: ideal,
		avg:           internal.NewRollingAverage(0.3),
	}
}

func (e *EvenlySpaced) CanProceed(context.Context) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return !time.Now().Before(e.nextAvail), nil
}

func (e *EvenlySpaced) RecordJobStart(context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	gap := e.idealInterval - e.avg.Value()
	if gap < 0 {
		gap = 0
	}
	e.nextAvail = time.Now().Add(gap)
	return nil
}

// RecordJobCompletion is a no-op: EvenlySpaced derives its duration
// average from ObserveDuration, called explicitly by the worker once a
// job finishes (it, unlike the other limiters, needs elapsed time, not
// just a completion signal).
func (e *EvenlySpaced) RecordJobCompletion(context.Context) error { return nil }

// ObserveDuration feeds an observed execution duration into the rolling
// average used to compute future gaps.
func (e *EvenlySpaced) ObserveDuration(d time.Duration) {
	e.avg.Observe(d)
}

func (e *EvenlySpaced) NextAvailableTime(context.Context) (time.Time, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.nextAvail, nil
}

func (e *EvenlySpaced) SetNextAvailableTime(_ context.Context, t time.Time) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if t.After(e.nextAvail) {
		e.nextAvail = t
	}
	return nil
}

func (e *EvenlySpaced) Clear(context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.nextAvail = time.Time{}
	return nil
}
