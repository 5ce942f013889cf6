package memory

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/roadlabs/roadpay/internal/domain"
)

func TestPaymentStore_CreateAndGet(t *testing.T) {
	ctx := context.Background()
	store := NewPaymentStore()

	rec := &domain.PaymentRecord{
		ID:       "pi_1",
		Amount:   4200,
		Currency: "usd",
		Status:   domain.PaymentCreated,
	}
	if err := store.CreatePayment(ctx, rec); err != nil {
		t.Fatalf("create: %v", err)
	}
	if rec.Version != 1 {
		t.Errorf("version = %d, want 1", rec.Version)
	}

	got, err := store.GetPayment(ctx, "pi_1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got == nil || got.Status != domain.PaymentCreated {
		t.Fatalf("got %+v", got)
	}

	// Mutating the returned copy must not leak into the store.
	got.Status = domain.PaymentSucceeded
	again, _ := store.GetPayment(ctx, "pi_1")
	if again.Status != domain.PaymentCreated {
		t.Error("store returned a shared reference")
	}
}

func TestPaymentStore_DuplicateCreateConflicts(t *testing.T) {
	ctx := context.Background()
	store := NewPaymentStore()

	if err := store.CreatePayment(ctx, &domain.PaymentRecord{ID: "pi_1"}); err != nil {
		t.Fatalf("create: %v", err)
	}
	err := store.CreatePayment(ctx, &domain.PaymentRecord{ID: "pi_1"})
	if !errors.Is(err, domain.ErrVersionConflict) {
		t.Errorf("error = %v, want ErrVersionConflict", err)
	}
}

func TestPaymentStore_UpdateRequiresCurrentVersion(t *testing.T) {
	ctx := context.Background()
	store := NewPaymentStore()

	rec := &domain.PaymentRecord{ID: "pi_1", Status: domain.PaymentCreated}
	if err := store.CreatePayment(ctx, rec); err != nil {
		t.Fatalf("create: %v", err)
	}

	rec.Status = domain.PaymentProcessing
	if err := store.UpdatePayment(ctx, rec, 1); err != nil {
		t.Fatalf("update: %v", err)
	}
	if rec.Version != 2 {
		t.Errorf("version = %d, want 2", rec.Version)
	}

	// Replaying the old version must fail.
	stale := &domain.PaymentRecord{ID: "pi_1", Status: domain.PaymentFailed}
	err := store.UpdatePayment(ctx, stale, 1)
	if !errors.Is(err, domain.ErrVersionConflict) {
		t.Errorf("error = %v, want ErrVersionConflict", err)
	}
}

func TestPaymentStore_ConcurrentUpdatesOneWins(t *testing.T) {
	ctx := context.Background()
	store := NewPaymentStore()

	if err := store.CreatePayment(ctx, &domain.PaymentRecord{ID: "pi_1", Status: domain.PaymentProcessing}); err != nil {
		t.Fatalf("create: %v", err)
	}

	const workers = 20
	var wins atomic.Int64
	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			rec := &domain.PaymentRecord{ID: "pi_1", Status: domain.PaymentSucceeded}
			if err := store.UpdatePayment(ctx, rec, 1); err == nil {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()

	if got := wins.Load(); got != 1 {
		t.Errorf("winning updates = %d, want exactly 1", got)
	}
	final, _ := store.GetPayment(ctx, "pi_1")
	if final.Version != 2 {
		t.Errorf("final version = %d, want 2", final.Version)
	}
}

func TestPaymentStore_ListStalePayments(t *testing.T) {
	ctx := context.Background()
	store := NewPaymentStore()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	seed := []domain.PaymentRecord{
		{ID: "pi_stale", Status: domain.PaymentProcessing, UpdatedAt: base},
		{ID: "pi_terminal", Status: domain.PaymentSucceeded, UpdatedAt: base},
		{ID: "pi_fresh", Status: domain.PaymentProcessing, UpdatedAt: base.Add(2 * time.Hour)},
	}
	for i := range seed {
		rec := seed[i]
		if err := store.CreatePayment(ctx, &rec); err != nil {
			t.Fatalf("create %s: %v", rec.ID, err)
		}
		// CreatePayment stores the given UpdatedAt as-is.
	}

	got, err := store.ListStalePayments(ctx, base.Add(time.Hour), 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 1 || got[0].ID != "pi_stale" {
		t.Fatalf("got %+v, want only pi_stale", got)
	}
}
