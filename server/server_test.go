package server_test

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/kaelbridge/duraq/job"
	"github.com/kaelbridge/duraq/server"
	"github.com/kaelbridge/duraq/storage/memsto"
	"github.com/kaelbridge/duraq/worker"
)

func TestServerProcessesAndAggregatesStats(t *testing.T) {
	st := memsto.New()
	handler := worker.HandlerFunc(func(ctx context.Context, input any, progress worker.ProgressFunc) (any, error) {
		return "ok", nil
	})

	s := server.New(st, handler, server.Options{
		Queue:        "q",
		WorkerCount:  2,
		PollInterval: 10 * time.Millisecond,
	}, slog.Default())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := s.Start(ctx); err != nil {
		t.Fatal(err)
	}
	defer s.Stop(time.Second)

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
		if j.Status == job.Completed {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	stats := s.Stats()
	if stats.CompletedJobs != 1 {
		t.Fatalf("expected 1 completed job in stats, got %+v", stats)
	}
}

func TestServerFixUpResetsOrphanedProcessing(t *testing.T) {
	st := memsto.New()
	ctx := context.Background()

	id, err := st.Add(ctx, &job.Job{Queue: "q", RunAfter: time.Now()})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := st.Next(ctx, "q", "crashed-worker"); err != nil {
		t.Fatal(err)
	}

	called := make(chan struct{}, 1)
	handler := worker.HandlerFunc(func(ctx context.Context, input any, progress worker.ProgressFunc) (any, error) {
		select {
		case called <- struct{}{}:
		default:
		}
		return "ok", nil
	})

	s := server.New(st, handler, server.Options{
		Queue:        "q",
		WorkerCount:  1,
		PollInterval: 10 * time.Millisecond,
	}, slog.Default())

	runCtx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := s.Start(runCtx); err != nil {
		t.Fatal(err)
	}
	defer s.Stop(time.Second)

	select {
	case <-called:
	case <-time.After(time.Second):
		t.Fatal("orphaned job was never reclaimed after fix-up")
	}

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		j, err := st.Get(ctx, "q", id)
		if err != nil {
			t.Fatal(err)
		}
		if j.Status == job.Completed {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("job never settled after fix-up")
}

func TestServerImmediateDeleteOnCompletion(t *testing.T) {
	st := memsto.New()
	handler := worker.HandlerFunc(func(ctx context.Context, input any, progress worker.ProgressFunc) (any, error) {
		return "ok", nil
	})

	s := server.New(st, handler, server.Options{
		Queue:                 "q",
		WorkerCount:           1,
		PollInterval:          10 * time.Millisecond,
		DeleteAfterCompletion: server.Immediate,
	}, slog.Default())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := s.Start(ctx); err != nil {
		t.Fatal(err)
	}
	defer s.Stop(time.Second)

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
		if j == nil {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("completed job was never deleted")
}

func TestServerScaleWorkers(t *testing.T) {
	st := memsto.New()
	handler := worker.HandlerFunc(func(ctx context.Context, input any, progress worker.ProgressFunc) (any, error) {
		return "ok", nil
	})
	s := server.New(st, handler, server.Options{Queue: "q", WorkerCount: 1}, slog.Default())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := s.Start(ctx); err != nil {
		t.Fatal(err)
	}
	defer s.Stop(time.Second)

	if err := s.ScaleWorkers(3); err != nil {
		t.Fatal(err)
	}
	if err := s.ScaleWorkers(1); err != nil {
		t.Fatal(err)
	}
}
