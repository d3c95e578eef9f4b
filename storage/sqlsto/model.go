package sqlsto

import (
	"time"

	"github.com/google/uuid"
	"github.com/kaelbridge/duraq/job"
	"github.com/uptrace/bun"
)

type jobModel struct {
	bun.BaseModel `bun:"table:jobs"`

	ID    uuid.UUID `bun:"id,pk,type:uuid"`
	Queue string    `bun:"queue,pk"`

	JobRunID    string `bun:"job_run_id,nullzero"`
	Fingerprint string `bun:"fingerprint,nullzero"`

	Input  []byte `bun:"input,type:jsonb"`
	Output []byte `bun:"output,type:jsonb"`

	Status      job.Status `bun:"status,notnull,default:0"`
	Error       string     `bun:"error,nullzero"`
	ErrorCode   string     `bun:"error_code,nullzero"`
	RunAttempts uint32     `bun:"run_attempts,notnull,default:0"`
	MaxRetries  uint32     `bun:"max_retries,notnull,default:0"`

	CreatedAt   time.Time  `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	RunAfter    time.Time  `bun:"run_after,notnull"`
	DeadlineAt  *time.Time `bun:"deadline_at,nullzero"`
	LastRanAt   *time.Time `bun:"last_ran_at,nullzero"`
	CompletedAt *time.Time `bun:"completed_at,nullzero"`

	Progress        float64 `bun:"progress,notnull,default:0"`
	ProgressMessage string  `bun:"progress_message,nullzero"`
	ProgressDetails []byte  `bun:"progress_details,type:jsonb"`

	WorkerID string `bun:"worker_id,nullzero"`
}

func (jm *jobModel) toJob() (*job.Job, error) {
	input, err := decodeAny(jm.Input)
	if err != nil {
		return nil, err
	}
	output, err := decodeAny(jm.Output)
	if err != nil {
		return nil, err
	}
	details, err := decodeAny(jm.ProgressDetails)
	if err != nil {
		return nil, err
	}
	return &job.Job{
		ID:              jm.ID,
		Queue:           jm.Queue,
		JobRunID:        jm.JobRunID,
		Fingerprint:     jm.Fingerprint,
		Input:           input,
		Output:          output,
		Status:          jm.Status,
		Error:           jm.Error,
		ErrorCode:       jm.ErrorCode,
		RunAttempts:     jm.RunAttempts,
		MaxRetries:      jm.MaxRetries,
		CreatedAt:       jm.CreatedAt,
		RunAfter:        jm.RunAfter,
		DeadlineAt:      jm.DeadlineAt,
		LastRanAt:       jm.LastRanAt,
		CompletedAt:     jm.CompletedAt,
		Progress:        jm.Progress,
		ProgressMessage: jm.ProgressMessage,
		ProgressDetails: details,
		WorkerID:        jm.WorkerID,
	}, nil
}

func fromJob(j *job.Job) (*jobModel, error) {
	input, err := encodeAny(j.Input)
	if err != nil {
		return nil, err
	}
	output, err := encodeAny(j.Output)
	if err != nil {
		return nil, err
	}
	details, err := encodeAny(j.ProgressDetails)
	if err != nil {
		return nil, err
	}
	return &jobModel{
		ID:              j.ID,
		Queue:           j.Queue,
		JobRunID:        j.JobRunID,
		Fingerprint:     j.Fingerprint,
		Input:           input,
		Output:          output,
		Status:          j.Status,
		Error:           j.Error,
		ErrorCode:       j.ErrorCode,
		RunAttempts:     j.RunAttempts,
		MaxRetries:      j.MaxRetries,
		CreatedAt:       j.CreatedAt,
		RunAfter:        j.RunAfter,
		DeadlineAt:      j.DeadlineAt,
		LastRanAt:       j.LastRanAt,
		CompletedAt:     j.CompletedAt,
		Progress:        j.Progress,
		ProgressMessage: j.ProgressMessage,
		ProgressDetails: details,
		WorkerID:        j.WorkerID,
	}, nil
}
