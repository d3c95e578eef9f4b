// Package events defines the lifecycle event vocabulary emitted by
// workers and servers, and a small pub-sub Emitter workers/servers/
// clients use to fan events out to listeners within one process.
package events

import "time"

// Kind names one of the event vocabulary members of spec §6.
type Kind string

const (
	QueueStart       Kind = "queue_start"
	QueueStop        Kind = "queue_stop"
	JobStart         Kind = "job_start"
	JobAborting      Kind = "job_aborting"
	JobComplete      Kind = "job_complete"
	JobError         Kind = "job_error"
	JobDisabled      Kind = "job_disabled"
	JobRetry         Kind = "job_retry"
	JobProgress      Kind = "job_progress"
	QueueStatsUpdate Kind = "queue_stats_update"
)

// Event is the envelope delivered to listeners. Only the fields relevant
// to Kind are populated; the rest stay zero.
type Event struct {
	Kind      Kind
	Queue     string
	ID        string
	Output    any
	Message   string
	ErrorCode string
	RunAfter  time.Time
	Progress  float64
	Details   any
	Stats     Stats
}

// Stats mirrors the per-queue counters of spec §4.5.
type Stats struct {
	TotalJobs            int64
	CompletedJobs        int64
	FailedJobs           int64
	AbortedJobs          int64
	RetriedJobs          int64
	DisabledJobs         int64
	AverageProcessingTime time.Duration
	LastUpdateTime        time.Time
}

// Listener receives events fanned out by an Emitter.
type Listener func(Event)

// Unsubscribe removes a previously registered Listener.
type Unsubscribe func()
