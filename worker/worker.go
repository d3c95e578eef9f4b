package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kaelbridge/duraq/events"
	"github.com/kaelbridge/duraq/internal"
	"github.com/kaelbridge/duraq/job"
	"github.com/kaelbridge/duraq/limiter"
	"github.com/kaelbridge/duraq/storage"
)

// Config defines the runtime behavior of a Worker.
type Config struct {
	// Queue names the job queue this worker pulls from.
	Queue string
	// WorkerID is this worker's identity written to Job.WorkerID. A
	// fresh uuid is generated if empty.
	WorkerID string
	// PollInterval is the pause between loop iterations. Default 100ms.
	PollInterval time.Duration
}

// Worker binds one queue, a storage handle, a limiter and a Handler,
// and runs the single-threaded cooperative pull loop of spec §4.4: it
// claims at most one job per iteration (subject to the limiter) and
// dispatches its execution without awaiting, so multiple jobs can be
// in flight as suspended goroutines rather than behind a fixed-size
// pool. This is a deliberate departure from the teacher's old
// WorkerPool[T] (a compile-time-bounded goroutine pool, since removed):
// admission is gated purely through the limiter, so a second,
// independent concurrency cap would be redundant and could silently
// starve the limiter's own accounting. The pool's one useful trait,
// recovering a panicking handler so one bad job can't take down the
// worker, is kept inline in the dispatch goroutine below.
type Worker struct {
	internal.Lifecycle

	queue        string
	workerID     string
	pollInterval time.Duration

	storage storage.Storage
	limiter limiter.Limiter
	handler Handler
	log     *slog.Logger
	events  *events.Emitter
	avg     *internal.RollingAverage

	pullTask internal.TimerTask

	mu            sync.Mutex
	activeAborts  map[uuid.UUID]context.CancelFunc
	abortNotified map[uuid.UUID]bool
	wg            sync.WaitGroup
	processing    int
}

// New creates a Worker. emitter may be shared across workers of the
// same server so that Server can aggregate stats from all of them.
func New(st storage.Storage, lim limiter.Limiter, handler Handler, cfg Config, emitter *events.Emitter, log *slog.Logger) *Worker {
	id := cfg.WorkerID
	if id == "" {
		id = uuid.NewString()
	}
	interval := cfg.PollInterval
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}
	if lim == nil {
		lim = limiter.NewNull()
	}
	return &Worker{
		queue:         cfg.Queue,
		workerID:      id,
		pollInterval:  interval,
		storage:       st,
		limiter:       lim,
		handler:       handler,
		log:           log,
		events:        emitter,
		avg:           internal.NewRollingAverage(0.2),
		activeAborts:  make(map[uuid.UUID]context.CancelFunc),
		abortNotified: make(map[uuid.UUID]bool),
	}
}

// ID returns this worker's identity.
func (w *Worker) ID() string { return w.workerID }

// AverageProcessingTime returns this worker's rolling average job
// execution time, used by Server to compute averageProcessingTime.
func (w *Worker) AverageProcessingTime() time.Duration {
	return w.avg.Value()
}

// Start begins the pull loop. Start returns internal.ErrDoubleStarted if
// the worker is already running.
func (w *Worker) Start(ctx context.Context) error {
	if err := w.TryStart(); err != nil {
		return err
	}
	w.pullTask.Start(ctx, w.tick, w.pollInterval)
	return nil
}

// Stop performs the worker's stop sequence (spec §5 Stop semantics):
// stop the pull loop, wait for in-flight jobs, trigger every active
// abort token, then wait again.
func (w *Worker) Stop(timeout time.Duration) error {
	return w.TryStop(timeout, w.doStop)
}

func (w *Worker) doStop() internal.DoneChan {
	done := make(internal.DoneChan)
	go func() {
		defer close(done)
		<-w.pullTask.Stop()

		w.mu.Lock()
		n := w.processing
		w.mu.Unlock()
		wait := 100 * time.Millisecond
		if spin := time.Duration(n) * 2 * time.Millisecond; spin > wait {
			wait = spin
		}
		time.Sleep(wait)

		w.mu.Lock()
		for _, cancel := range w.activeAborts {
			cancel()
		}
		w.mu.Unlock()

		w.wg.Wait()
	}()
	return done
}

func (w *Worker) tick(ctx context.Context) {
	w.checkAborts(ctx)

	proceed, err := w.limiter.CanProceed(ctx)
	if err != nil {
		w.log.Error("limiter check failed", "queue", w.queue, "err", err)
		return
	}
	if !proceed {
		return
	}

	j, err := w.storage.Next(ctx, w.queue, w.workerID)
	if err != nil {
		w.log.Error("claim failed", "queue", w.queue, "err", err)
		return
	}
	if j == nil {
		return
	}

	w.mu.Lock()
	w.processing++
	w.mu.Unlock()
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		defer func() {
			w.mu.Lock()
			w.processing--
			w.mu.Unlock()
		}()
		defer func() {
			if r := recover(); r != nil {
				w.log.Error("job handler panicked", "queue", w.queue, "id", j.ID, "err", r)
			}
		}()
		w.execute(ctx, j)
	}()
}

// checkAborts polls for rows the client has marked Aborting and
// triggers the matching cancellation token, per spec §4.4 step 2. The
// first time a given job's abort is observed it emits JobAborting, so
// an in-flight abort produces exactly one job_aborting event followed
// later by one job_error event at FAILED settlement (spec §8 scenario 4).
func (w *Worker) checkAborts(ctx context.Context) {
	aborting, err := w.storage.Peek(ctx, w.queue, job.Aborting, 0)
	if err != nil {
		w.log.Error("peek aborting failed", "queue", w.queue, "err", err)
		return
	}
	if len(aborting) == 0 {
		return
	}
	w.mu.Lock()
	var notify []uuid.UUID
	for _, aj := range aborting {
		if cancel, ok := w.activeAborts[aj.ID]; ok {
			cancel()
			if !w.abortNotified[aj.ID] {
				w.abortNotified[aj.ID] = true
				notify = append(notify, aj.ID)
			}
		}
	}
	w.mu.Unlock()
	for _, id := range notify {
		w.emit(events.Event{Kind: events.JobAborting, Queue: w.queue, ID: id.String()})
	}
}

func (w *Worker) preValidate(j *job.Job) error {
	switch j.Status {
	case job.Completed, job.Failed:
		return job.NewPermanent(errors.New("job already terminal"))
	case job.Aborting:
		return job.ErrAborted
	case job.Disabled:
		return job.NewDisabled(errors.New("job disabled"))
	}
	if j.DeadlineAt != nil && j.DeadlineAt.Before(time.Now()) {
		return job.NewPermanent(errors.New("exceeded deadline"))
	}
	return nil
}

func (w *Worker) execute(ctx context.Context, j *job.Job) {
	started := time.Now()

	if err := w.preValidate(j); err != nil {
		w.settle(ctx, j, err)
		return
	}

	if err := w.limiter.RecordJobStart(ctx); err != nil {
		w.log.Error("record job start failed", "queue", w.queue, "err", err)
	}

	jobCtx, cancel := context.WithCancel(ctx)
	w.mu.Lock()
	w.activeAborts[j.ID] = cancel
	w.mu.Unlock()
	defer func() {
		w.mu.Lock()
		delete(w.activeAborts, j.ID)
		delete(w.abortNotified, j.ID)
		w.mu.Unlock()
		cancel()
	}()

	w.emit(events.Event{Kind: events.JobStart, Queue: w.queue, ID: j.ID.String()})

	progress := func(p float64, message string, details any) {
		if p < 0 {
			p = 0
		}
		if p > 100 {
			p = 100
		}
		if err := w.storage.SaveProgress(ctx, w.queue, j.ID, p, message, details); err != nil {
			w.log.Error("save progress failed", "queue", w.queue, "id", j.ID, "err", err)
		}
		w.emit(events.Event{Kind: events.JobProgress, Queue: w.queue, ID: j.ID.String(), Progress: p, Message: message, Details: details})
	}

	output, err := w.handler.Execute(jobCtx, j.Input, progress)
	if err == nil {
		w.settleSuccess(ctx, j, output)
	} else {
		w.settle(ctx, j, err)
	}

	if err := w.limiter.RecordJobCompletion(ctx); err != nil {
		w.log.Error("record job completion failed", "queue", w.queue, "err", err)
	}
	elapsed := time.Since(started)
	w.avg.Observe(elapsed)
	if o, ok := w.limiter.(interface{ ObserveDuration(time.Duration) }); ok {
		o.ObserveDuration(elapsed)
	}
}

func (w *Worker) settleSuccess(ctx context.Context, j *job.Job, output any) {
	now := time.Now()
	j.Status = job.Completed
	j.Progress = 100
	j.ProgressMessage = ""
	j.ProgressDetails = nil
	j.CompletedAt = &now
	j.Output = output
	if err := w.storage.Complete(ctx, j); err != nil {
		w.log.Error("complete failed", "queue", w.queue, "id", j.ID, "err", err)
	}
	w.emit(events.Event{Kind: events.JobComplete, Queue: w.queue, ID: j.ID.String(), Output: output})
}

func (w *Worker) settle(ctx context.Context, j *job.Job, cause error) {
	message, code, retryAt := job.Classify(cause)

	if code == job.CodeRetryable && j.RunAttempts <= j.MaxRetries {
		runAfter := time.Now()
		if retryAt != nil {
			runAfter = *retryAt
		} else if next, err := w.limiter.NextAvailableTime(ctx); err == nil {
			runAfter = next
		}
		j.Status = job.Pending
		j.Progress = 0
		j.ProgressMessage = ""
		j.ProgressDetails = nil
		j.RunAfter = runAfter
		j.Error = message
		j.ErrorCode = code
		if err := w.storage.Complete(ctx, j); err != nil {
			w.log.Error("retry reschedule failed", "queue", w.queue, "id", j.ID, "err", err)
		}
		w.emit(events.Event{Kind: events.JobRetry, Queue: w.queue, ID: j.ID.String(), RunAfter: runAfter})
		return
	}

	if code == job.CodeDisabled {
		now := time.Now()
		j.Status = job.Disabled
		j.CompletedAt = &now
		j.Error = message
		j.ErrorCode = code
		if err := w.storage.Complete(ctx, j); err != nil {
			w.log.Error("disable settlement failed", "queue", w.queue, "id", j.ID, "err", err)
		}
		w.emit(events.Event{Kind: events.JobDisabled, Queue: w.queue, ID: j.ID.String()})
		return
	}

	// Retryable-but-exhausted, Permanent, Abort, or generic: settle FAILED.
	now := time.Now()
	j.Status = job.Failed
	j.CompletedAt = &now
	j.Error = message
	j.ErrorCode = code
	if err := w.storage.Complete(ctx, j); err != nil {
		w.log.Error("fail settlement failed", "queue", w.queue, "id", j.ID, "err", err)
	}
	w.emit(events.Event{Kind: events.JobError, Queue: w.queue, ID: j.ID.String(), Message: message, ErrorCode: code})
}

func (w *Worker) emit(ev events.Event) {
	if w.events != nil {
		w.events.Emit(ev)
	}
}
