package client_test

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/kaelbridge/duraq/client"
	"github.com/kaelbridge/duraq/job"
	"github.com/kaelbridge/duraq/server"
	"github.com/kaelbridge/duraq/storage/memsto"
	"github.com/kaelbridge/duraq/worker"
)

func TestClientAttachedSubmitAndWaitFor(t *testing.T) {
	st := memsto.New()
	handler := worker.HandlerFunc(func(ctx context.Context, input any, progress worker.ProgressFunc) (any, error) {
		progress(50, "halfway", nil)
		return input, nil
	})

	s := server.New(st, handler, server.Options{
		Queue:        "q",
		WorkerCount:  1,
		PollInterval: 10 * time.Millisecond,
	}, slog.Default())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := s.Start(ctx); err != nil {
		t.Fatal(err)
	}
	defer s.Stop(time.Second)

	c := client.Attach(st, "q", s.Events(), slog.Default())
	defer c.Stop()

	var progressSeen float64
	handle, err := c.Submit(ctx, "payload", client.SubmitOptions{})
	if err != nil {
		t.Fatal(err)
	}
	unsub := handle.OnProgress(func(progress float64, message string, details any) {
		progressSeen = progress
	})
	defer unsub()

	waitCtx, waitCancel := context.WithTimeout(ctx, time.Second)
	defer waitCancel()
	out, err := handle.WaitFor(waitCtx)
	if err != nil {
		t.Fatal(err)
	}
	if out != "payload" {
		t.Fatalf("expected output=payload, got %v", out)
	}
	if progressSeen != 50 {
		t.Fatalf("expected to observe progress=50, got %v", progressSeen)
	}
}

func TestClientAttachedWaitForRejectsOnFailure(t *testing.T) {
	st := memsto.New()
	handler := worker.HandlerFunc(func(ctx context.Context, input any, progress worker.ProgressFunc) (any, error) {
		return nil, job.NewPermanent(nil)
	})

	s := server.New(st, handler, server.Options{
		Queue:        "q",
		WorkerCount:  1,
		PollInterval: 10 * time.Millisecond,
	}, slog.Default())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := s.Start(ctx); err != nil {
		t.Fatal(err)
	}
	defer s.Stop(time.Second)

	c := client.Attach(st, "q", s.Events(), slog.Default())
	defer c.Stop()

	handle, err := c.Submit(ctx, "payload", client.SubmitOptions{})
	if err != nil {
		t.Fatal(err)
	}

	waitCtx, waitCancel := context.WithTimeout(ctx, time.Second)
	defer waitCancel()
	_, err = handle.WaitFor(waitCtx)
	if err == nil {
		t.Fatal("expected WaitFor to reject")
	}
	var permanent *job.PermanentError
	if !asPermanent(err, &permanent) {
		t.Fatalf("expected a rehydrated PermanentError, got %T: %v", err, err)
	}
}

func asPermanent(err error, target **job.PermanentError) bool {
	if pe, ok := err.(*job.PermanentError); ok {
		*target = pe
		return true
	}
	return false
}

func TestClientConnectedTranslatesStorageChanges(t *testing.T) {
	st := memsto.New()
	handler := worker.HandlerFunc(func(ctx context.Context, input any, progress worker.ProgressFunc) (any, error) {
		return "ok", nil
	})

	s := server.New(st, handler, server.Options{
		Queue:        "q",
		WorkerCount:  1,
		PollInterval: 10 * time.Millisecond,
	}, slog.Default())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := s.Start(ctx); err != nil {
		t.Fatal(err)
	}
	defer s.Stop(time.Second)

	c, err := client.Connect(st, "q", slog.Default())
	if err != nil {
		t.Fatal(err)
	}
	defer c.Stop()

	handle, err := c.Submit(ctx, "payload", client.SubmitOptions{})
	if err != nil {
		t.Fatal(err)
	}

	waitCtx, waitCancel := context.WithTimeout(ctx, time.Second)
	defer waitCancel()
	out, err := handle.WaitFor(waitCtx)
	if err != nil {
		t.Fatal(err)
	}
	if out != "ok" {
		t.Fatalf("expected output=ok, got %v", out)
	}
}

func TestClientStopRejectsPendingWaits(t *testing.T) {
	st := memsto.New()
	c, err := client.Connect(st, "q", slog.Default())
	if err != nil {
		t.Fatal(err)
	}

	handle, err := c.Submit(context.Background(), "payload", client.SubmitOptions{})
	if err != nil {
		t.Fatal(err)
	}

	done := make(chan error, 1)
	go func() {
		_, waitErr := handle.WaitFor(context.Background())
		done <- waitErr
	}()

	time.Sleep(20 * time.Millisecond)
	c.Stop()

	select {
	case err := <-done:
		if err != client.ErrStopped {
			t.Fatalf("expected ErrStopped, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("WaitFor never settled after Stop")
	}
}

func TestClientAbortJobRun(t *testing.T) {
	st := memsto.New()
	c, err := client.Connect(st, "q", slog.Default())
	if err != nil {
		t.Fatal(err)
	}
	defer c.Stop()

	ctx := context.Background()
	const runID = "run-A"
	var handles []*client.JobHandle
	for i := 0; i < 3; i++ {
		h, err := c.Submit(ctx, i, client.SubmitOptions{JobRunID: runID})
		if err != nil {
			t.Fatal(err)
		}
		handles = append(handles, h)
	}
	other, err := c.Submit(ctx, "unrelated", client.SubmitOptions{JobRunID: "run-B"})
	if err != nil {
		t.Fatal(err)
	}

	if err := c.AbortJobRun(ctx, runID); err != nil {
		t.Fatal(err)
	}

	for _, h := range handles {
		j, err := st.Get(ctx, "q", h.ID())
		if err != nil {
			t.Fatal(err)
		}
		if j.Status != job.Aborting {
			t.Fatalf("expected job %s to be Aborting, got %v", h.ID(), j.Status)
		}
	}

	oj, err := st.Get(ctx, "q", other.ID())
	if err != nil {
		t.Fatal(err)
	}
	if oj.Status != job.Pending {
		t.Fatalf("expected unrelated job run to remain Pending, got %v", oj.Status)
	}
}
