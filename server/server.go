package server

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kaelbridge/duraq/events"
	"github.com/kaelbridge/duraq/internal"
	"github.com/kaelbridge/duraq/job"
	"github.com/kaelbridge/duraq/storage"
	"github.com/kaelbridge/duraq/worker"
	"golang.org/x/sync/errgroup"
	"oss.nandlabs.io/golly/errutils"
)

// Server owns one queue plus one storage handle, spawns a pool of
// workers and adds the three supervisor concerns of spec §4.5: startup
// fix-up, a periodic cleanup sweep, and stat aggregation from worker
// events. It generalizes the teacher's single Worker + CleanWorker pair
// into a multi-worker supervisor.
type Server struct {
	internal.Lifecycle

	queue   string
	storage storage.Storage
	handler worker.Handler
	options Options
	log     *slog.Logger
	emitter *events.Emitter

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	workers []*worker.Worker

	cleanupTask internal.TimerTask

	statsMu sync.Mutex
	stats   events.Stats
}

// New creates a Server. The schema/queue must already exist in st;
// Server performs no migrations.
func New(st storage.Storage, handler worker.Handler, opts Options, log *slog.Logger) *Server {
	opts = opts.withDefaults()
	return &Server{
		queue:   opts.Queue,
		storage: st,
		handler: handler,
		options: opts,
		log:     log,
		emitter: events.NewEmitter(),
	}
}

// Events returns the Server's event bus. Clients attach to it directly
// instead of subscribing to the storage change-stream (spec §4.6
// "Attached" mode), bypassing serialization entirely.
func (s *Server) Events() *events.Emitter { return s.emitter }

// Start performs the startup fix-up sweep, spawns the configured worker
// pool, and begins the cleanup loop.
func (s *Server) Start(ctx context.Context) error {
	if err := s.TryStart(); err != nil {
		return err
	}
	s.ctx, s.cancel = context.WithCancel(ctx)

	if err := s.fixUp(s.ctx); err != nil {
		s.log.Error("startup fix-up failed", "queue", s.queue, "err", err)
	}

	unsub := s.emitter.Subscribe(s.onEvent)
	_ = unsub // kept alive for the server's lifetime; released on process exit

	s.mu.Lock()
	for i := 0; i < s.options.WorkerCount; i++ {
		s.spawnLocked()
	}
	s.mu.Unlock()

	s.cleanupTask.Start(s.ctx, s.sweep, s.options.CleanupInterval)

	s.emitter.Emit(events.Event{Kind: events.QueueStart, Queue: s.queue})
	return nil
}

// spawnLocked creates and starts one new worker. Caller must hold s.mu.
func (s *Server) spawnLocked() *worker.Worker {
	w := worker.New(s.storage, s.options.Limiter, s.handler, worker.Config{
		Queue:        s.queue,
		WorkerID:     uuid.NewString(),
		PollInterval: s.options.PollInterval,
	}, s.emitter, s.log)
	if err := w.Start(s.ctx); err != nil {
		s.log.Error("worker start failed", "queue", s.queue, "err", err)
	}
	s.workers = append(s.workers, w)
	return w
}

// ScaleWorkers grows or shrinks the worker pool to count. New workers
// start immediately; removed workers are stopped cleanly, draining
// their in-flight jobs.
func (s *Server) ScaleWorkers(count int) error {
	if count < 0 {
		count = 0
	}
	s.mu.Lock()
	current := len(s.workers)
	if count == current {
		s.mu.Unlock()
		return nil
	}
	if count > current {
		for i := current; i < count; i++ {
			s.spawnLocked()
		}
		s.mu.Unlock()
		return nil
	}
	removed := append([]*worker.Worker(nil), s.workers[count:]...)
	s.workers = s.workers[:count]
	s.mu.Unlock()

	group, _ := errgroup.WithContext(context.Background())
	for _, w := range removed {
		w := w
		group.Go(func() error { return w.Stop(5 * time.Second) })
	}
	return group.Wait()
}

// Stop stops the cleanup loop and every worker in parallel, aggregating
// any failures with golly/errutils.MultiError rather than returning only
// the first one (spec.md's Non-goals never exclude error-handling
// thoroughness — see SPEC_FULL.md §4.5).
func (s *Server) Stop(timeout time.Duration) error {
	merr := &errutils.MultiError{}
	if err := s.TryStop(timeout, func() internal.DoneChan { return s.doStop(timeout, merr) }); err != nil {
		return err
	}
	if merr.HasErrors() {
		return merr
	}
	return nil
}

func (s *Server) doStop(timeout time.Duration, merr *errutils.MultiError) internal.DoneChan {
	done := make(internal.DoneChan)
	go func() {
		defer close(done)
		<-s.cleanupTask.Stop()

		s.mu.Lock()
		workers := append([]*worker.Worker(nil), s.workers...)
		s.mu.Unlock()

		group, _ := errgroup.WithContext(context.Background())
		for _, w := range workers {
			w := w
			group.Go(func() error {
				if err := w.Stop(timeout); err != nil {
					merr.Add(err)
				}
				return nil
			})
		}
		_ = group.Wait()
		if merr.HasErrors() {
			s.log.Error("one or more workers failed to stop cleanly", "queue", s.queue, "err", merr)
		}

		s.cancel()
		s.emitter.Emit(events.Event{Kind: events.QueueStop, Queue: s.queue})
	}()
	return done
}

// fixUp sweeps every PROCESSING/ABORTING row back to PENDING, restoring
// claim eligibility after a crash without losing history (spec §4.5
// step 1).
func (s *Server) fixUp(ctx context.Context) error {
	merr := &errutils.MultiError{}
	for _, status := range []job.Status{job.Processing, job.Aborting} {
		rows, err := s.storage.Peek(ctx, s.queue, status, 0)
		if err != nil {
			merr.Add(err)
			continue
		}
		for _, j := range rows {
			runAfter := time.Now()
			if j.LastRanAt != nil {
				runAfter = *j.LastRanAt
			}
			j.Status = job.Pending
			j.RunAfter = runAfter
			j.Progress = 0
			j.Error = "Server restarted"
			if err := s.storage.Complete(ctx, j); err != nil {
				merr.Add(err)
			}
		}
	}
	if merr.HasErrors() {
		return merr
	}
	return nil
}

// sweep runs the periodic cleanup loop (spec §4.5 step 2): for each
// terminal status whose DeleteAfter* option is a positive duration,
// delete jobs older than that age.
func (s *Server) sweep(ctx context.Context) {
	classes := []struct {
		status job.Status
		after  *time.Duration
	}{
		{job.Completed, s.options.DeleteAfterCompletion},
		{job.Failed, s.options.DeleteAfterFailure},
		{job.Disabled, s.options.DeleteAfterDisabled},
	}
	for _, c := range classes {
		if c.after == nil || *c.after <= 0 {
			continue
		}
		if _, err := s.storage.DeleteJobsByStatusAndAge(ctx, s.queue, c.status, *c.after); err != nil {
			s.log.Error("cleanup sweep failed", "queue", s.queue, "status", c.status, "err", err)
		}
	}
}

// onEvent aggregates worker lifecycle events into stats and performs
// immediate deletion for any DeleteAfter* option set to 0.
func (s *Server) onEvent(ev events.Event) {
	if ev.Queue != s.queue {
		return
	}

	s.statsMu.Lock()
	switch ev.Kind {
	case events.JobStart:
		s.stats.TotalJobs++
	case events.JobComplete:
		s.stats.CompletedJobs++
	case events.JobError:
		s.stats.FailedJobs++
	case events.JobAborting:
		s.stats.AbortedJobs++
	case events.JobRetry:
		s.stats.RetriedJobs++
	case events.JobDisabled:
		s.stats.DisabledJobs++
	}
	if ev.Kind == events.JobComplete || ev.Kind == events.JobError || ev.Kind == events.JobAborting || ev.Kind == events.JobDisabled || ev.Kind == events.JobRetry {
		s.stats.AverageProcessingTime = s.averageProcessingTimeLocked()
		s.stats.LastUpdateTime = time.Now()
	}
	stats := s.stats
	s.statsMu.Unlock()

	switch ev.Kind {
	case events.JobComplete:
		s.maybeDeleteImmediately(ev.ID, s.options.DeleteAfterCompletion)
	case events.JobError:
		s.maybeDeleteImmediately(ev.ID, s.options.DeleteAfterFailure)
	case events.JobDisabled:
		s.maybeDeleteImmediately(ev.ID, s.options.DeleteAfterDisabled)
	}

	if ev.Kind != events.QueueStart && ev.Kind != events.QueueStop && ev.Kind != events.QueueStatsUpdate {
		s.emitter.Emit(events.Event{Kind: events.QueueStatsUpdate, Queue: s.queue, Stats: stats})
	}
}

func (s *Server) averageProcessingTimeLocked() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.workers) == 0 {
		return 0
	}
	var total time.Duration
	for _, w := range s.workers {
		total += w.AverageProcessingTime()
	}
	return total / time.Duration(len(s.workers))
}

func (s *Server) maybeDeleteImmediately(idStr string, after *time.Duration) {
	if after == nil || *after != 0 {
		return
	}
	id, err := uuid.Parse(idStr)
	if err != nil {
		return
	}
	if err := s.storage.Delete(s.ctx, s.queue, id); err != nil {
		s.log.Error("immediate delete failed", "queue", s.queue, "id", idStr, "err", err)
	}
}

// Stats returns a snapshot of the server's aggregated counters.
func (s *Server) Stats() events.Stats {
	s.statsMu.Lock()
	defer s.statsMu.Unlock()
	return s.stats
}
