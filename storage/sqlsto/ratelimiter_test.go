package sqlsto_test

import (
	"context"
	"testing"
	"time"

	"github.com/kaelbridge/duraq/storage/sqlsto"
)

func TestRateLimiterStoreCountAndOldest(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	store := sqlsto.NewRateLimiterStore(db)

	base := time.Now().Add(-time.Minute)
	for i := 0; i < 3; i++ {
		if err := store.RecordExecution(ctx, "q", base.Add(time.Duration(i)*time.Second)); err != nil {
			t.Fatal(err)
		}
	}

	n, err := store.CountSince(ctx, "q", base.Add(-time.Second))
	if err != nil {
		t.Fatal(err)
	}
	if n != 3 {
		t.Fatalf("expected 3 executions, got %d", n)
	}

	oldest, ok, err := store.OldestSince(ctx, "q", base.Add(-time.Second))
	if err != nil {
		t.Fatal(err)
	}
	if !ok || !oldest.Equal(base) {
		t.Fatalf("expected oldest=%v, got %v (ok=%v)", base, oldest, ok)
	}
}

func TestRateLimiterStoreNextAvailableIsMonotonic(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	store := sqlsto.NewRateLimiterStore(db)

	later := time.Now().Add(time.Hour)
	earlier := time.Now()

	if err := store.SetNextAvailable(ctx, "q", later); err != nil {
		t.Fatal(err)
	}
	if err := store.SetNextAvailable(ctx, "q", earlier); err != nil {
		t.Fatal(err)
	}

	got, err := store.GetNextAvailable(ctx, "q")
	if err != nil {
		t.Fatal(err)
	}
	if !got.Equal(later) {
		t.Fatalf("expected watermark to stay at %v, got %v", later, got)
	}
}

func TestRateLimiterStoreClear(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	store := sqlsto.NewRateLimiterStore(db)

	if err := store.RecordExecution(ctx, "q", time.Now()); err != nil {
		t.Fatal(err)
	}
	if err := store.SetNextAvailable(ctx, "q", time.Now().Add(time.Minute)); err != nil {
		t.Fatal(err)
	}
	if err := store.Clear(ctx, "q"); err != nil {
		t.Fatal(err)
	}

	n, err := store.CountSince(ctx, "q", time.Now().Add(-time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Fatalf("expected 0 executions after Clear, got %d", n)
	}
	got, err := store.GetNextAvailable(ctx, "q")
	if err != nil {
		t.Fatal(err)
	}
	if !got.IsZero() {
		t.Fatalf("expected zero watermark after Clear, got %v", got)
	}
}
