package limiter

import (
	"context"
	"time"
)

// Null always proceeds; it is used when the caller wants to run work
// inline with no admission control (spec §4.2).
type Null struct{}

// NewNull returns a Limiter that never refuses.
func NewNull() *Null { return &Null{} }

func (*Null) CanProceed(context.Context) (bool, error)    { return true, nil }
func (*Null) RecordJobStart(context.Context) error        { return nil }
func (*Null) RecordJobCompletion(context.Context) error   { return nil }
func (*Null) NextAvailableTime(context.Context) (time.Time, error) {
	return time.Now(), nil
}
func (*Null) SetNextAvailableTime(context.Context, time.Time) error { return nil }
func (*Null) Clear(context.Context) error                          { return nil }
