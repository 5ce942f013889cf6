package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/roadlabs/roadpay/internal/domain"
)

// SubscriptionStore is an in-memory domain.SubscriptionStore.
type SubscriptionStore struct {
	mu   sync.Mutex
	subs map[string]domain.SubscriptionRecord
}

var _ domain.SubscriptionStore = (*SubscriptionStore)(nil)

func NewSubscriptionStore() *SubscriptionStore {
	return &SubscriptionStore{
		subs: make(map[string]domain.SubscriptionRecord),
	}
}

func (s *SubscriptionStore) GetSubscription(ctx context.Context, id string) (*domain.SubscriptionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.subs[id]
	if !ok {
		return nil, nil
	}
	copied := rec
	return &copied, nil
}

func (s *SubscriptionStore) CreateSubscription(ctx context.Context, record *domain.SubscriptionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.subs[record.ID]; ok {
		return domain.ErrVersionConflict
	}
	stored := *record
	stored.Version = 1
	s.subs[record.ID] = stored
	record.Version = 1
	return nil
}

func (s *SubscriptionStore) UpdateSubscription(ctx context.Context, record *domain.SubscriptionRecord, expectedVersion int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.subs[record.ID]
	if !ok || current.Version != expectedVersion {
		return domain.ErrVersionConflict
	}
	stored := *record
	stored.Version = expectedVersion + 1
	s.subs[record.ID] = stored
	record.Version = stored.Version
	return nil
}

func (s *SubscriptionStore) ListStaleSubscriptions(ctx context.Context, cutoff time.Time, limit int) ([]domain.SubscriptionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []domain.SubscriptionRecord
	for _, rec := range s.subs {
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
