package worker_test

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/kaelbridge/duraq/events"
	"github.com/kaelbridge/duraq/job"
	"github.com/kaelbridge/duraq/limiter"
	"github.com/kaelbridge/duraq/storage"
	"github.com/kaelbridge/duraq/storage/memsto"
	"github.com/kaelbridge/duraq/worker"
)

func newWorker(t *testing.T, st storage.Storage, handler worker.Handler, emitter *events.Emitter) *worker.Worker {
	t.Helper()
	return worker.New(st, limiter.NewNull(), handler, worker.Config{
		Queue:        "q",
		PollInterval: 10 * time.Millisecond,
	}, emitter, slog.Default())
}

func TestWorkerCompletesJob(t *testing.T) {
	st := memsto.New()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	called := make(chan struct{}, 1)
	handler := worker.HandlerFunc(func(ctx context.Context, input any, progress worker.ProgressFunc) (any, error) {
		called <- struct{}{}
		return "ok", nil
	})

	w := newWorker(t, st, handler, nil)
	if err := w.Start(ctx); err != nil {
		t.Fatal(err)
	}
	defer w.Stop(time.Second)

	id, err := st.Add(ctx, &job.Job{Queue: "q", Input: 1, RunAfter: time.Now()})
	if err != nil {
		t.Fatal(err)
	}

	select {
	case <-called:
	case <-time.After(time.Second):
		t.Fatal("handler not invoked")
	}

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		j, err := st.Get(ctx, "q", id)
		if err != nil {
			t.Fatal(err)
		}
		if j.Status == job.Completed {
			if j.Output != "ok" {
				t.Fatalf("expected output=ok, got %v", j.Output)
			}
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("job never settled to Completed")
}

func TestWorkerRetriesRetryableError(t *testing.T) {
	st := memsto.New()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	attempts := make(chan struct{}, 10)
	handler := worker.HandlerFunc(func(ctx context.Context, input any, progress worker.ProgressFunc) (any, error) {
		attempts <- struct{}{}
		return nil, job.NewRetryable(errors.New("transient"))
	})

	w := newWorker(t, st, handler, nil)
	if err := w.Start(ctx); err != nil {
		t.Fatal(err)
	}
	defer w.Stop(time.Second)

	id, err := st.Add(ctx, &job.Job{Queue: "q", RunAfter: time.Now(), MaxRetries: 2})
	if err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(2 * time.Second)
	seen := 0
	for time.Now().Before(deadline) {
		select {
		case <-attempts:
			seen++
		default:
		}
		if seen >= 3 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	if seen < 3 {
		t.Fatalf("expected at least 3 attempts, saw %d", seen)
	}

	j, err := st.Get(ctx, "q", id)
	if err != nil {
		t.Fatal(err)
	}
	if j.Status != job.Failed {
		t.Fatalf("expected Failed after exhausting retries, got %v", j.Status)
	}
	if j.ErrorCode != job.CodeRetryable {
		t.Fatalf("expected errorCode=%s, got %s", job.CodeRetryable, j.ErrorCode)
	}
}

func TestWorkerDisablesJob(t *testing.T) {
	st := memsto.New()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	handler := worker.HandlerFunc(func(ctx context.Context, input any, progress worker.ProgressFunc) (any, error) {
		return nil, job.NewDisabled(errors.New("account suspended"))
	})

	w := newWorker(t, st, handler, nil)
	if err := w.Start(ctx); err != nil {
		t.Fatal(err)
	}
	defer w.Stop(time.Second)

	id, err := st.Add(ctx, &job.Job{Queue: "q", RunAfter: time.Now()})
	if err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		j, err := st.Get(ctx, "q", id)
		if err != nil {
			t.Fatal(err)
		}
		if j.Status == job.Disabled {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("job never settled to Disabled")
}

func TestWorkerRejectsPastDeadline(t *testing.T) {
	st := memsto.New()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	handler := worker.HandlerFunc(func(ctx context.Context, input any, progress worker.ProgressFunc) (any, error) {
		t.Fatal("handler should not run for a job past its deadline")
		return nil, nil
	})

	w := newWorker(t, st, handler, nil)
	if err := w.Start(ctx); err != nil {
		t.Fatal(err)
	}
	defer w.Stop(time.Second)

	past := time.Now().Add(-time.Hour)
	id, err := st.Add(ctx, &job.Job{Queue: "q", RunAfter: time.Now(), DeadlineAt: &past})
	if err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		j, err := st.Get(ctx, "q", id)
		if err != nil {
			t.Fatal(err)
		}
		if j.Status == job.Failed {
			if j.ErrorCode != job.CodePermanent {
				t.Fatalf("expected errorCode=%s, got %s", job.CodePermanent, j.ErrorCode)
			}
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("job never settled to Failed")
}

func TestWorkerAbortHandling(t *testing.T) {
	st := memsto.New()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	started := make(chan struct{})
	handler := worker.HandlerFunc(func(ctx context.Context, input any, progress worker.ProgressFunc) (any, error) {
		close(started)
		<-ctx.Done()
		return nil, job.ErrAborted
	})

	w := newWorker(t, st, handler, nil)
	if err := w.Start(ctx); err != nil {
		t.Fatal(err)
	}
	defer w.Stop(time.Second)

	id, err := st.Add(ctx, &job.Job{Queue: "q", RunAfter: time.Now()})
	if err != nil {
		t.Fatal(err)
	}

	<-started
	if err := st.Abort(ctx, "q", id); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		j, err := st.Get(ctx, "q", id)
		if err != nil {
			t.Fatal(err)
		}
		if j.Status == job.Failed {
			if j.ErrorCode != job.CodeAbort {
				t.Fatalf("expected errorCode=%s, got %s", job.CodeAbort, j.ErrorCode)
			}
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("job never settled to Failed after abort")
}
