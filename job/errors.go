package job

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Wire error-code tags (spec §6 "Error taxonomy and wire form"). Every
// terminal error is persisted as Job.Error (message) + Job.ErrorCode
// (one of these tags).
const (
	CodeGeneric   = "JobError"
	CodePermanent = "PermanentJobError"
	CodeRetryable = "RetryableJobError"
	CodeAbort     = "AbortSignalJobError"
	CodeDisabled  = "JobDisabledError"
	CodeNotFound  = "JobNotFoundError"
)

// RetryableError marks a failure that should be retried, subject to the
// job's MaxRetries budget. RetryAt, if set, is folded into the job's
// RunAfter before being dropped (spec §6); otherwise the worker asks the
// limiter for its next available time.
type RetryableError struct {
	Err     error
	RetryAt *time.Time
}

func (e *RetryableError) Error() string {
	if e.Err == nil {
		return "job: retryable error"
	}
	return e.Err.Error()
}

func (e *RetryableError) Code() string { return CodeRetryable }
func (e *RetryableError) Unwrap() error { return e.Err }

// NewRetryable wraps err as a RetryableError with no explicit retry time.
func NewRetryable(err error) *RetryableError {
	return &RetryableError{Err: err}
}

// NewRetryableAt wraps err as a RetryableError that should not be retried
// before at.
func NewRetryableAt(err error, at time.Time) *RetryableError {
	return &RetryableError{Err: err, RetryAt: &at}
}

// PermanentError marks a failure that settles the job as Failed without
// consuming a retry. Any error raised by user code that is not one of the
// other four known variants is treated as permanent (the CodeGeneric
// fallback from spec §6/§7).
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string {
	if e.Err == nil {
		return "job: permanent error"
	}
	return e.Err.Error()
}

func (e *PermanentError) Code() string  { return CodePermanent }
func (e *PermanentError) Unwrap() error { return e.Err }

// NewPermanent wraps err as a PermanentError.
func NewPermanent(err error) *PermanentError {
	return &PermanentError{Err: err}
}

// AbortError marks a job settlement caused by an honored cancellation
// request (Status transitioned through Aborting).
type AbortError struct {
	Err error
}

func (e *AbortError) Error() string {
	if e.Err == nil {
		return "job: aborted"
	}
	return e.Err.Error()
}

func (e *AbortError) Code() string  { return CodeAbort }
func (e *AbortError) Unwrap() error { return e.Err }

// ErrAborted is the canonical AbortError instance raised by the worker
// when it observes a job's Aborting request.
var ErrAborted = &AbortError{Err: errors.New("job: aborted by request")}

// DisabledError marks an administrative disable: the job settles to
// Disabled rather than Failed and is never retried.
type DisabledError struct {
	Err error
}

func (e *DisabledError) Error() string {
	if e.Err == nil {
		return "job: disabled"
	}
	return e.Err.Error()
}

func (e *DisabledError) Code() string  { return CodeDisabled }
func (e *DisabledError) Unwrap() error { return e.Err }

// NewDisabled wraps err (or a default message if nil) as a DisabledError.
func NewDisabled(err error) *DisabledError {
	if err == nil {
		err = errors.New("job: disabled")
	}
	return &DisabledError{Err: err}
}

// NotFoundError is surfaced to callers (e.g. from JobHandle.WaitFor when
// the job does not exist); it is not a settlement outcome.
type NotFoundError struct {
	ID    uuid.UUID
	Queue string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("job: %s/%s not found", e.Queue, e.ID)
}

func (e *NotFoundError) Code() string { return CodeNotFound }

// Coded is implemented by every typed job error; Classify uses it to
// recover the wire error-code tag.
type Coded interface {
	error
	Code() string
}

// Classify normalizes an arbitrary error raised by user code into a wire
// (message, code, retryAt) triple per spec §6/§7. Any error that is not
// one of the four raised variants is treated as permanent with the
// generic CodeGeneric tag, matching the source's "any other throw is
// treated as permanent" rule.
func Classify(err error) (message string, code string, retryAt *time.Time) {
	if err == nil {
		return "", "", nil
	}
	var retryable *RetryableError
	if errors.As(err, &retryable) {
		return retryable.Error(), CodeRetryable, retryable.RetryAt
	}
	var permanent *PermanentError
	if errors.As(err, &permanent) {
		return permanent.Error(), CodePermanent, nil
	}
	var abort *AbortError
	if errors.As(err, &abort) {
		return abort.Error(), CodeAbort, nil
	}
	var disabled *DisabledError
	if errors.As(err, &disabled) {
		return disabled.Error(), CodeDisabled, nil
	}
	// Unrecognized error: generic JobError, treated as permanent for
	// settlement purposes by the caller.
	return err.Error(), CodeGeneric, nil
}

// Rehydrate reconstructs a typed error from a persisted (message, code)
// pair, used by Client.WaitFor to hand callers back a typed error rather
// than a bare string (spec §4.6 "Errors rehydrate from errorCode").
func Rehydrate(message string, code string) error {
	base := errors.New(message)
	switch code {
	case CodeRetryable:
		return &RetryableError{Err: base}
	case CodePermanent, CodeGeneric:
		return &PermanentError{Err: base}
	case CodeAbort:
		return &AbortError{Err: base}
	case CodeDisabled:
		return &DisabledError{Err: base}
	case CodeNotFound:
		return base
	default:
		return base
	}
}
