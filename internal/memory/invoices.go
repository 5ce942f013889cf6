package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/roadlabs/roadpay/internal/domain"
)

// InvoiceStore is an in-memory domain.InvoiceStore.
type InvoiceStore struct {
	mu       sync.Mutex
	invoices map[string]domain.InvoiceRecord
}

var _ domain.InvoiceStore = (*InvoiceStore)(nil)

func NewInvoiceStore() *InvoiceStore {
	return &InvoiceStore{
		invoices: make(map[string]domain.InvoiceRecord),
	}
}

func (s *InvoiceStore) GetInvoice(ctx context.Context, id string) (*domain.InvoiceRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.invoices[id]
	if !ok {
		return nil, nil
	}
	copied := rec
	return &copied, nil
}

func (s *InvoiceStore) CreateInvoice(ctx context.Context, record *domain.InvoiceRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.invoices[record.ID]; ok {
		return domain.ErrVersionConflict
	}
	stored := *record
	stored.Version = 1
	s.invoices[record.ID] = stored
	record.Version = 1
	return nil
}

func (s *InvoiceStore) UpdateInvoice(ctx context.Context, record *domain.InvoiceRecord, expectedVersion int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.invoices[record.ID]
	if !ok || current.Version != expectedVersion {
		return domain.ErrVersionConflict
	}
	stored := *record
	stored.Version = expectedVersion + 1
	s.invoices[record.ID] = stored
	record.Version = stored.Version
	return nil
}

func (s *InvoiceStore) ListStaleInvoices(ctx context.Context, cutoff time.Time, limit int) ([]domain.InvoiceRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []domain.InvoiceRecord
	for _, rec := range s.invoices {
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
