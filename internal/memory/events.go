// Package memory provides mutex-guarded in-memory implementations of
// the domain store interfaces. Tests and the no-database dev profile
// share these; the postgres package carries the production versions.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/roadlabs/roadpay/internal/domain"
)

// EventStore is an in-memory domain.EventStore.
type EventStore struct {
	mu     sync.Mutex
	events map[string]domain.Event
}

var _ domain.EventStore = (*EventStore)(nil)

func NewEventStore() *EventStore {
	return &EventStore{
		events: make(map[string]domain.Event),
	}
}

func (s *EventStore) InsertIfNew(ctx context.Context, event domain.Event) (domain.InsertResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.events[event.ID]; ok {
		return domain.Duplicate, nil
	}

	if event.ReceivedAt.IsZero() {
		event.ReceivedAt = time.Now().UTC()
	}
	s.events[event.ID] = event
	return domain.Inserted, nil
}

func (s *EventStore) MarkProcessed(ctx context.Context, eventID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ev, ok := s.events[eventID]
	if !ok {
		return domain.NotFound("events.mark_processed", "event", eventID)
	}
	if ev.ProcessedAt != nil {
		return nil
	}
	at = at.UTC()
	ev.ProcessedAt = &at
	s.events[eventID] = ev
	return nil
}

func (s *EventStore) UnprocessedSince(ctx context.Context, cutoff time.Time) ([]domain.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []domain.Event
	for _, ev := range s.events {
		if ev.ProcessedAt == nil && !ev.ReceivedAt.After(cutoff) {
			out = append(out, ev)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].ReceivedAt.Before(out[j].ReceivedAt)
	})
	return out, nil
}

func (s *EventStore) Stats(ctx context.Context) (domain.EventStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stats := domain.EventStats{Total: int64(len(s.events))}
	for _, ev := range s.events {
		if ev.ProcessedAt != nil {
			stats.Processed++
		}
	}
	stats.Unprocessed = stats.Total - stats.Processed
	return stats, nil
}

func (s *EventStore) GetEvent(ctx context.Context, eventID string) (*domain.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ev, ok := s.events[eventID]
	if !ok {
		return nil, nil
	}
	copied := ev
	return &copied, nil
}
