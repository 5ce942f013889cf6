package memory

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/roadlabs/roadpay/internal/domain"
)

func TestEventStore_InsertIfNew(t *testing.T) {
	ctx := context.Background()
	store := NewEventStore()

	ev := domain.Event{
		ID:                "evt_1",
		Type:              domain.EventPaymentIntentSucceeded,
		ProviderCreatedAt: time.Now().UTC(),
		ReceivedAt:        time.Now().UTC(),
	}

	res, err := store.InsertIfNew(ctx, ev)
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	if res != domain.Inserted {
		t.Errorf("result = %v, want Inserted", res)
	}

	res, err = store.InsertIfNew(ctx, ev)
	if err != nil {
		t.Fatalf("re-insert: %v", err)
	}
	if res != domain.Duplicate {
		t.Errorf("result = %v, want Duplicate", res)
	}
}

func TestEventStore_ConcurrentInsertYieldsOneWinner(t *testing.T) {
	ctx := context.Background()
	store := NewEventStore()

	ev := domain.Event{
		ID:         "evt_race",
		Type:       domain.EventPaymentIntentSucceeded,
		ReceivedAt: time.Now().UTC(),
	}

	const workers = 50
	var inserted atomic.Int64
	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			res, err := store.InsertIfNew(ctx, ev)
			if err != nil {
				t.Errorf("insert: %v", err)
				return
			}
			if res == domain.Inserted {
				inserted.Add(1)
			}
		}()
	}
	wg.Wait()

	if got := inserted.Load(); got != 1 {
		t.Errorf("inserted count = %d, want exactly 1", got)
	}
}

func TestEventStore_MarkProcessedIsIdempotent(t *testing.T) {
	ctx := context.Background()
	store := NewEventStore()

	ev := domain.Event{ID: "evt_1", Type: domain.EventInvoicePaid, ReceivedAt: time.Now().UTC()}
	if _, err := store.InsertIfNew(ctx, ev); err != nil {
		t.Fatalf("insert: %v", err)
	}

	first := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	if err := store.MarkProcessed(ctx, "evt_1", first); err != nil {
		t.Fatalf("mark: %v", err)
	}
	// The first stamp wins.
	if err := store.MarkProcessed(ctx, "evt_1", first.Add(time.Hour)); err != nil {
		t.Fatalf("re-mark: %v", err)
	}

	got, err := store.GetEvent(ctx, "evt_1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.ProcessedAt == nil || !got.ProcessedAt.Equal(first) {
		t.Errorf("processed_at = %v, want %v", got.ProcessedAt, first)
	}
}

func TestEventStore_MarkProcessedUnknownEvent(t *testing.T) {
	store := NewEventStore()
	err := store.MarkProcessed(context.Background(), "evt_missing", time.Now())
	if !domain.IsCode(err, domain.ENOTFOUND) {
		t.Errorf("error code = %s, want %s", domain.ErrorCode(err), domain.ENOTFOUND)
	}
}

func TestEventStore_UnprocessedSince(t *testing.T) {
	ctx := context.Background()
	store := NewEventStore()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	events := []domain.Event{
		{ID: "evt_old_done", Type: domain.EventInvoicePaid, ReceivedAt: base},
		{ID: "evt_old_stuck", Type: domain.EventInvoicePaid, ReceivedAt: base.Add(time.Minute)},
		{ID: "evt_fresh", Type: domain.EventInvoicePaid, ReceivedAt: base.Add(time.Hour)},
	}
	for _, ev := range events {
		if _, err := store.InsertIfNew(ctx, ev); err != nil {
			t.Fatalf("insert %s: %v", ev.ID, err)
		}
	}
	if err := store.MarkProcessed(ctx, "evt_old_done", base.Add(time.Second)); err != nil {
		t.Fatalf("mark: %v", err)
	}

	got, err := store.UnprocessedSince(ctx, base.Add(30*time.Minute))
	if err != nil {
		t.Fatalf("unprocessed: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("got %d events, want 1", len(got))
	}
	if got[0].ID != "evt_old_stuck" {
		t.Errorf("event = %s, want evt_old_stuck", got[0].ID)
	}
}

func TestEventStore_Stats(t *testing.T) {
	ctx := context.Background()
	store := NewEventStore()

	if got, err := store.Stats(ctx); err != nil || got != (domain.EventStats{}) {
		t.Fatalf("empty stats = %+v (err=%v), want zero", got, err)
	}

	for _, id := range []string{"evt_1", "evt_2", "evt_3"} {
		ev := domain.Event{ID: id, Type: domain.EventInvoicePaid, ReceivedAt: time.Now().UTC()}
		if _, err := store.InsertIfNew(ctx, ev); err != nil {
			t.Fatalf("insert %s: %v", id, err)
		}
	}
	if err := store.MarkProcessed(ctx, "evt_1", time.Now().UTC()); err != nil {
		t.Fatalf("mark: %v", err)
	}

	got, err := store.Stats(ctx)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	want := domain.EventStats{Total: 3, Processed: 1, Unprocessed: 2}
	if got != want {
		t.Errorf("stats = %+v, want %+v", got, want)
	}
}

func TestEventStore_GetEventReturnsNilWhenUnknown(t *testing.T) {
	store := NewEventStore()
	got, err := store.GetEvent(context.Background(), "evt_missing")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got != nil {
		t.Errorf("expected nil, got %+v", got)
	}
}
