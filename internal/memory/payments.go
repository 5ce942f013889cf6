package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/roadlabs/roadpay/internal/domain"
)

// PaymentStore is an in-memory domain.PaymentStore.
type PaymentStore struct {
	mu       sync.Mutex
	payments map[string]domain.PaymentRecord
}

var _ domain.PaymentStore = (*PaymentStore)(nil)

func NewPaymentStore() *PaymentStore {
	return &PaymentStore{
		payments: make(map[string]domain.PaymentRecord),
	}
}

func (s *PaymentStore) GetPayment(ctx context.Context, id string) (*domain.PaymentRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.payments[id]
	if !ok {
		return nil, nil
	}
	copied := rec
	return &copied, nil
}

func (s *PaymentStore) CreatePayment(ctx context.Context, record *domain.PaymentRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.payments[record.ID]; ok {
		return domain.ErrVersionConflict
	}
	stored := *record
	stored.Version = 1
	s.payments[record.ID] = stored
	record.Version = 1
	return nil
}

func (s *PaymentStore) UpdatePayment(ctx context.Context, record *domain.PaymentRecord, expectedVersion int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.payments[record.ID]
	if !ok || current.Version != expectedVersion {
		return domain.ErrVersionConflict
	}
	stored := *record
	stored.Version = expectedVersion + 1
	s.payments[record.ID] = stored
	record.Version = stored.Version
	return nil
}

func (s *PaymentStore) ListStalePayments(ctx context.Context, cutoff time.Time, limit int) ([]domain.PaymentRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []domain.PaymentRecord
	for _, rec := range s.payments {
		if !rec.Status.Terminal() && !rec.UpdatedAt.After(cutoff) {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].UpdatedAt.Before(out[j].UpdatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
