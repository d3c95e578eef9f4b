package client

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kaelbridge/duraq/events"
	"github.com/kaelbridge/duraq/job"
	"github.com/kaelbridge/duraq/storage"
)

// ErrStopped is returned from a pending WaitFor when Client.Stop is
// called (spec §5 Stop semantics).
var ErrStopped = errors.New("client: stopped")

// ProgressListener receives progress updates for one job.
type ProgressListener func(progress float64, message string, details any)

// Unsubscribe removes a previously registered ProgressListener.
type Unsubscribe func()

type waitResult struct {
	output any
	err    error
}

// Client submits jobs and observes their outcomes. It never pulls jobs
// itself. It operates in one of two modes, transparent to the caller
// (spec §4.6):
//
//   - Attach: co-located with a Server, receiving lifecycle events via
//     direct subscription to the server's event bus.
//   - Connect: subscribes to storage.SubscribeToChanges and translates
//     row deltas into the same event shape.
type Client struct {
	queue   string
	storage storage.Storage
	log     *slog.Logger

	mu       sync.Mutex
	stopped  bool
	waiters  map[uuid.UUID][]chan waitResult
	progress map[uuid.UUID]map[int]ProgressListener
	nextID   int
	unsub    func()
}

func newClient(st storage.Storage, queue string, log *slog.Logger) *Client {
	return &Client{
		queue:    queue,
		storage:  st,
		log:      log,
		waiters:  make(map[uuid.UUID][]chan waitResult),
		progress: make(map[uuid.UUID]map[int]ProgressListener),
	}
}

// Attach creates a Client in attached mode, subscribing directly to
// emitter (typically a Server's Events()) for lifecycle updates.
func Attach(st storage.Storage, queue string, emitter *events.Emitter, log *slog.Logger) *Client {
	c := newClient(st, queue, log)
	c.unsub = emitter.Subscribe(c.onEvent)
	return c
}

// Connect creates a Client in storage-subscribed mode: it has no
// co-located Server and instead derives lifecycle events from storage's
// change-stream.
func Connect(st storage.Storage, queue string, log *slog.Logger) (*Client, error) {
	c := newClient(st, queue, log)
	unsub, err := st.SubscribeToChanges(queue, c.onChange)
	if err != nil {
		return nil, err
	}
	c.unsub = unsub
	return c, nil
}

// SubmitOptions carries the per-submission fields of spec §4.6 "Submit".
type SubmitOptions struct {
	JobRunID    string
	Fingerprint string
	MaxRetries  uint32
	RunAfter    time.Time
	DeadlineAt  *time.Time
}

// Submit inserts a new job in the Pending state and returns a handle to
// observe and control it.
func (c *Client) Submit(ctx context.Context, input any, opts SubmitOptions) (*JobHandle, error) {
	runAfter := opts.RunAfter
	if runAfter.IsZero() {
		runAfter = time.Now()
	}
	j := &job.Job{
		Queue:       c.queue,
		JobRunID:    opts.JobRunID,
		Fingerprint: opts.Fingerprint,
		Input:       input,
		MaxRetries:  opts.MaxRetries,
		RunAfter:    runAfter,
		DeadlineAt:  opts.DeadlineAt,
	}
	id, err := c.storage.Add(ctx, j)
	if err != nil {
		return nil, err
	}
	return &JobHandle{id: id, client: c}, nil
}

// Stop rejects every pending WaitFor with ErrStopped and clears all
// local listener state (spec §5 Stop semantics). It does not touch
// storage.
func (c *Client) Stop() {
	c.mu.Lock()
	c.stopped = true
	waiters := c.waiters
	c.waiters = make(map[uuid.UUID][]chan waitResult)
	c.progress = make(map[uuid.UUID]map[int]ProgressListener)
	c.mu.Unlock()

	for _, chans := range waiters {
		for _, ch := range chans {
			ch <- waitResult{err: ErrStopped}
		}
	}
	if c.unsub != nil {
		c.unsub()
	}
}

func (c *Client) waitFor(ctx context.Context, id uuid.UUID) (any, error) {
	j, err := c.storage.Get(ctx, c.queue, id)
	if err != nil {
		return nil, err
	}
	if j == nil {
		return nil, &job.NotFoundError{ID: id, Queue: c.queue}
	}
	switch j.Status {
	case job.Completed:
		return j.Output, nil
	case job.Failed:
		return nil, job.Rehydrate(j.Error, j.ErrorCode)
	case job.Disabled:
		return nil, job.Rehydrate(j.Error, job.CodeDisabled)
	}

	ch := make(chan waitResult, 1)
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return nil, ErrStopped
	}
	c.waiters[id] = append(c.waiters[id], ch)
	c.mu.Unlock()

	select {
	case res := <-ch:
		return res.output, res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *Client) abort(ctx context.Context, id uuid.UUID) error {
	return c.storage.Abort(ctx, c.queue, id)
}

// AbortJobRun requests cooperative cancellation of every job sharing
// runID (spec §3 JobRunID, §4.3 GetByRunID "used for batch abort by run
// id"). It aborts every job it can and joins any per-job failures
// rather than stopping at the first one.
func (c *Client) AbortJobRun(ctx context.Context, runID string) error {
	jobs, err := c.storage.GetByRunID(ctx, c.queue, runID)
	if err != nil {
		return err
	}
	var errs []error
	for _, j := range jobs {
		if err := c.storage.Abort(ctx, c.queue, j.ID); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (c *Client) onProgress(id uuid.UUID, listener ProgressListener) Unsubscribe {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.progress[id] == nil {
		c.progress[id] = make(map[int]ProgressListener)
	}
	lid := c.nextID
	c.nextID++
	c.progress[id][lid] = listener
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.progress[id], lid)
	}
}

func (c *Client) notifyProgress(id uuid.UUID, progress float64, message string, details any) {
	c.mu.Lock()
	listeners := make([]ProgressListener, 0, len(c.progress[id]))
	for _, l := range c.progress[id] {
		listeners = append(listeners, l)
	}
	c.mu.Unlock()
	for _, l := range listeners {
		l(progress, message, details)
	}
}

func (c *Client) settle(id uuid.UUID, res waitResult) {
	c.mu.Lock()
	chans := c.waiters[id]
	delete(c.waiters, id)
	c.mu.Unlock()
	for _, ch := range chans {
		ch <- res
	}
}

// onEvent translates a lifecycle events.Event (attached mode) into a
// waitFor settlement or progress notification.
func (c *Client) onEvent(ev events.Event) {
	if ev.Queue != c.queue {
		return
	}
	id, err := uuid.Parse(ev.ID)
	if err != nil {
		return
	}
	switch ev.Kind {
	case events.JobComplete:
		c.settle(id, waitResult{output: ev.Output})
	case events.JobError:
		c.settle(id, waitResult{err: job.Rehydrate(ev.Message, ev.ErrorCode)})
	case events.JobAborting:
		c.settle(id, waitResult{err: job.Rehydrate(ev.Message, job.CodeAbort)})
	case events.JobDisabled:
		c.settle(id, waitResult{err: job.Rehydrate("", job.CodeDisabled)})
	case events.JobProgress:
		c.notifyProgress(id, ev.Progress, ev.Message, ev.Details)
	}
}

// onChange translates a storage.Change (storage-subscribed mode) into
// the same event shape as onEvent, per spec §4.6's translation table.
func (c *Client) onChange(change storage.Change) {
	if change.Type != storage.Update || change.New == nil {
		return
	}
	newJob := change.New
	switch newJob.Status {
	case job.Completed:
		c.settle(newJob.ID, waitResult{output: newJob.Output})
	case job.Failed:
		c.settle(newJob.ID, waitResult{err: job.Rehydrate(newJob.Error, newJob.ErrorCode)})
	case job.Disabled:
		c.settle(newJob.ID, waitResult{err: job.Rehydrate(newJob.Error, job.CodeDisabled)})
	}

	progressed := change.Old == nil ||
		change.Old.Progress != newJob.Progress ||
		change.Old.ProgressMessage != newJob.ProgressMessage
	if progressed {
		c.notifyProgress(newJob.ID, newJob.Progress, newJob.ProgressMessage, newJob.ProgressDetails)
	}
}
