package limiter

import (
	"context"
	"time"
)

// Composite combines several limiters with a logical AND: CanProceed
// requires every child to agree, NextAvailableTime is the max across
// children, and the mutating operations fan out to all of them (spec
// §4.2).
type Composite struct {
	children []Limiter
}

// NewComposite builds a Composite over the given limiters.
func NewComposite(children ...Limiter) *Composite {
	return &Composite{children: children}
}

func (c *Composite) CanProceed(ctx context.Context) (bool, error) {
	for _, child := range c.children {
		ok, err := child.CanProceed(ctx)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}

func (c *Composite) RecordJobStart(ctx context.Context) error {
	for _, child := range c.children {
		if err := child.RecordJobStart(ctx); err != nil {
			return err
		}
	}
	return nil
}

func (c *Composite) RecordJobCompletion(ctx context.Context) error {
	for _, child := range c.children {
		if err := child.RecordJobCompletion(ctx); err != nil {
			return err
		}
	}
	return nil
}

func (c *Composite) NextAvailableTime(ctx context.Context) (time.Time, error) {
	var max time.Time
	for _, child := range c.children {
		t, err := child.NextAvailableTime(ctx)
		if err != nil {
			return time.Time{}, err
		}
		if t.After(max) {
			max = t
		}
	}
	return max, nil
}

func (c *Composite) SetNextAvailableTime(ctx context.Context, t time.Time) error {
	for _, child := range c.children {
		if err := child.SetNextAvailableTime(ctx, t); err != nil {
			return err
		}
	}
	return nil
}

func (c *Composite) Clear(ctx context.Context) error {
	for _, child := range c.children {
		if err := child.Clear(ctx); err != nil {
			return err
		}
	}
	return nil
}
