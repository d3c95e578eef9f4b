package limiter

import (
	"math/rand/v2"
	"time"
)

// backoffState tracks an adaptively growing delay, used internally by
// Rate when its sliding window saturates. It generalizes the teacher's
// attempt-indexed exponential backoff (gqs.BackoffConfig/backoffCounter)
// into a saturation-indexed one: instead of growing with a job's retry
// attempt number, it grows each time CanProceed refuses because the
// window is full, and resets the moment a start is admitted.
type backoffState struct {
	initial    time.Duration
	max        time.Duration
	multiplier float64

	current time.Duration
}

func newBackoffState(initial, max time.Duration, multiplier float64) *backoffState {
	if multiplier <= 1 {
		multiplier = 2
	}
	return &backoffState{initial: initial, max: max, multiplier: multiplier, current: initial}
}

// grow multiplies the current backoff and caps it at max, returning the
// new value. Mirrors backoffCounter.next's exponential math without the
// attempt parameter.
func (b *backoffState) grow() time.Duration {
	next := time.Duration(float64(b.current) * b.multiplier)
	if next > b.max {
		next = b.max
	}
	if next < b.initial {
		next = b.initial
	}
	b.current = next
	return b.current
}

func (b *backoffState) reset() {
	b.current = b.initial
}

// jitter applies full-jitter (spec §4.2: jitter(x) = x + random(0, x)).
func jitter(d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	return d + time.Duration(rand.Int64N(int64(d)+1))
}
