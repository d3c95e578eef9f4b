package internal

import (
	"sync"
	"time"
)

// RollingAverage maintains a simple exponentially-weighted moving average
// of observed durations. It is used both by Worker (per-worker average
// processing time, fed into Server stats) and by limiter.EvenlySpaced
// (average execution duration feeding the next scheduled start).
type RollingAverage struct {
	mu     sync.Mutex
	value  time.Duration
	alpha  float64
	seeded bool
}

// NewRollingAverage creates a rolling average with the given smoothing
// factor. alpha must lie in (0, 1]; any other value is replaced with 0.2.
// Smaller values weigh history more heavily.
func NewRollingAverage(alpha float64) *RollingAverage {
	if alpha <= 0 || alpha > 1 {
		alpha = 0.2
	}
	return &RollingAverage{alpha: alpha}
}

// Observe folds d into the running average.
func (r *RollingAverage) Observe(d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.seeded {
		r.value = d
		r.seeded = true
		return
	}
	r.value = time.Duration(r.alpha*float64(d) + (1-r.alpha)*float64(r.value))
}

// Value returns the current average, or zero if nothing has been
// observed yet.
func (r *RollingAverage) Value() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.value
}
