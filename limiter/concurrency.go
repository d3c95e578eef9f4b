package limiter

import (
	"context"
	"sync"
	"time"
)

// Concurrency enforces both "no more than N jobs in flight at once" and
// "no bursts faster than one start per timeSlice" (spec §4.2).
type Concurrency struct {
	maxConcurrent int
	timeSlice     time.Duration

	mu               sync.Mutex
	running          int
	nextAllowedStart time.Time
}

// NewConcurrency creates a Concurrency limiter. timeSlice enforces a
// minimum spacing between starts in addition to the in-flight cap.
func NewConcurrency(maxConcurrent int, timeSlice time.Duration) *Concurrency {
	return &Concurrency{maxConcurrent: maxConcurrent, timeSlice: timeSlice}
}

func (c *Concurrency) CanProceed(context.Context) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running < c.maxConcurrent && !time.Now().Before(c.nextAllowedStart), nil
}

func (c *Concurrency) RecordJobStart(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.running++
	c.nextAllowedStart = time.Now().Add(c.timeSlice)
	return nil
}

func (c *Concurrency) RecordJobCompletion(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running > 0 {
		c.running--
	}
	return nil
}

func (c *Concurrency) NextAvailableTime(context.Context) (time.Time, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running < c.maxConcurrent {
		return c.nextAllowedStart, nil
	}
	// All slots occupied: caller has no better estimate than "now",
	// since completion time is not tracked per in-flight job.
	return time.Now(), nil
}

func (c *Concurrency) SetNextAvailableTime(_ context.Context, t time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if t.After(c.nextAllowedStart) {
		c.nextAllowedStart = t
	}
	return nil
}

func (c *Concurrency) Clear(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.running = 0
	c.nextAllowedStart = time.Time{}
	return nil
}
