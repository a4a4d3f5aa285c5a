package memory

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"
)

func TestLatestStore_EmptyPeek(t *testing.T) {
	t.Parallel()

	got, err := NewLatestStore().Peek(context.Background())
	if err != nil {
		t.Fatalf("Peek() error: %v", err)
	}
	if !got.Empty() || got.ScannedAt != nil {
		t.Errorf("Peek() = %+v, want empty", got)
	}
}

func TestLatestStore_RecordOverwrites(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewLatestStore()
	t0 := time.Date(2026, 2, 2, 10, 0, 0, 0, time.UTC)

	_, _ = store.Record(ctx, "FIRST", t0)
	rec, err := store.Record(ctx, "SECOND", t0.Add(time.Second))
	if err != nil {
		t.Fatalf("Record() error: %v", err)
	}
	if *rec.CardID != "SECOND" {
		t.Errorf("Record() CardID = %q, want SECOND", *rec.CardID)
	}

	got, _ := store.Peek(ctx)
	if *got.CardID != "SECOND" || !got.ScannedAt.Equal(t0.Add(time.Second)) {
		t.Errorf("Peek() = %q at %v, want SECOND at %v", *got.CardID, got.ScannedAt, t0.Add(time.Second))
	}
}

func TestLatestStore_TimestampNeverDecreases(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewLatestStore()
	t0 := time.Date(2026, 2, 2, 10, 0, 0, 0, time.UTC)

	_, _ = store.Record(ctx, "A", t0)
	_, _ = store.Record(ctx, "B", t0.Add(-5*time.Minute))

	got, _ := store.Peek(ctx)
	if *got.CardID != "B" {
		t.Errorf("CardID = %q, want B", *got.CardID)
	}
	if got.ScannedAt.Before(t0) {
		t.Errorf("ScannedAt = %v went backwards from %v", got.ScannedAt, t0)
	}
}

func TestLatestStore_PeekReturnsCopy(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewLatestStore()
	_, _ = store.Record(ctx, "KEEP", time.Now())

	got, _ := store.Peek(ctx)
	*got.CardID = "CHANGED"

	again, _ := store.Peek(ctx)
	if *again.CardID != "KEEP" {
		t.Errorf("stored CardID = %q, want KEEP", *again.CardID)
	}
}

func TestLatestStore_ConcurrentRecordMonotonic(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewLatestStore()
	base := time.Now().UTC()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			var prev time.Time
			for j := 0; j < 100; j++ {
				_, _ = store.Record(ctx, fmt.Sprintf("c-%d-%d", idx, j), base.Add(time.Duration(j)*time.Millisecond))
				got, _ := store.Peek(ctx)
				if got.ScannedAt.Before(prev) {
					t.Errorf("ScannedAt decreased: %v < %v", got.ScannedAt, prev)
					return
				}
				prev = *got.ScannedAt
			}
		}(i)
	}
	wg.Wait()
}
