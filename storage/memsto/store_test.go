package memsto_test

import (
	"context"
	"testing"
	"time"

	"github.com/kaelbridge/duraq/job"
	"github.com/kaelbridge/duraq/storage"
	"github.com/kaelbridge/duraq/storage/memsto"
)

func TestAddAndNext(t *testing.T) {
	ctx := context.Background()
	s := memsto.New()

	id, err := s.Add(ctx, &job.Job{Queue: "q", Input: 1, RunAfter: time.Now()})
	if err != nil {
		t.Fatal(err)
	}

	j, err := s.Next(ctx, "q", "worker-1")
	if err != nil {
		t.Fatal(err)
	}
	if j == nil || j.ID != id {
		t.Fatalf("expected to claim job %v, got %+v", id, j)
	}
	if j.Status != job.Processing {
		t.Fatalf("expected Processing, got %v", j.Status)
	}
	if j.RunAttempts != 1 {
		t.Fatalf("expected RunAttempts=1, got %d", j.RunAttempts)
	}

	again, err := s.Next(ctx, "q", "worker-2")
	if err != nil {
		t.Fatal(err)
	}
	if again != nil {
		t.Fatal("expected no second job to be claimable")
	}
}

func TestFutureRunAfterNotEligible(t *testing.T) {
	ctx := context.Background()
	s := memsto.New()
	_, _ = s.Add(ctx, &job.Job{Queue: "q", RunAfter: time.Now().Add(time.Hour)})

	j, err := s.Next(ctx, "q", "w")
	if err != nil {
		t.Fatal(err)
	}
	if j != nil {
		t.Fatal("expected future-scheduled job to not be claimable yet")
	}
}

func TestAbortIsIdempotentAndTerminalIsAbsorbing(t *testing.T) {
	ctx := context.Background()
	s := memsto.New()
	id, _ := s.Add(ctx, &job.Job{Queue: "q", RunAfter: time.Now()})

	if err := s.Abort(ctx, "q", id); err != nil {
		t.Fatal(err)
	}
	if err := s.Abort(ctx, "q", id); err != nil {
		t.Fatal(err)
	}
	j, _ := s.Get(ctx, "q", id)
	if j.Status != job.Aborting {
		t.Fatalf("expected Aborting, got %v", j.Status)
	}

	j.Status = job.Completed
	now := time.Now()
	j.CompletedAt = &now
	_ = s.Complete(ctx, j)

	if err := s.Abort(ctx, "q", id); err != nil {
		t.Fatal(err)
	}
	j, _ = s.Get(ctx, "q", id)
	if j.Status != job.Completed {
		t.Fatal("expected terminal status to stay absorbing after Abort")
	}
}

func TestOutputForInputCacheLookup(t *testing.T) {
	ctx := context.Background()
	s := memsto.New()
	id, _ := s.Add(ctx, &job.Job{Queue: "q", Fingerprint: "fp-1", RunAfter: time.Now()})
	j, _ := s.Get(ctx, "q", id)
	j.Status = job.Completed
	j.Output = "result"
	_ = s.Complete(ctx, j)

	out, ok, err := s.OutputForInput(ctx, "q", "fp-1")
	if err != nil {
		t.Fatal(err)
	}
	if !ok || out != "result" {
		t.Fatalf("expected cached output, got ok=%v out=%v", ok, out)
	}
}

func TestSubscribeToChanges(t *testing.T) {
	ctx := context.Background()
	s := memsto.New()

	var changes []storage.Change
	unsub, err := s.SubscribeToChanges("q", func(c storage.Change) {
		changes = append(changes, c)
	})
	if err != nil {
		t.Fatal(err)
	}
	defer unsub()

	id, _ := s.Add(ctx, &job.Job{Queue: "q", RunAfter: time.Now()})
	_, _ = s.Next(ctx, "q", "w")
	_ = s.Delete(ctx, "q", id)

	if len(changes) != 3 {
		t.Fatalf("expected 3 change events, got %d", len(changes))
	}
	if changes[0].Type != storage.Insert || changes[1].Type != storage.Update || changes[2].Type != storage.Delete {
		t.Fatalf("unexpected change sequence: %+v", changes)
	}
}

func TestDeleteJobsByStatusAndAge(t *testing.T) {
	ctx := context.Background()
	s := memsto.New()
	id, _ := s.Add(ctx, &job.Job{Queue: "q", RunAfter: time.Now()})
	j, _ := s.Get(ctx, "q", id)
	old := time.Now().Add(-time.Hour)
	j.Status = job.Completed
	j.CompletedAt = &old
	_ = s.Complete(ctx, j)

	n, err := s.DeleteJobsByStatusAndAge(ctx, "q", job.Completed, time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("expected 1 deleted row, got %d", n)
	}
	size, _ := s.Size(ctx, "q", job.Unknown)
	if size != 0 {
		t.Fatalf("expected queue to be empty, got size=%d", size)
	}
}
