// Package postgres implements the domain store interfaces on
// PostgreSQL via pgx. Idempotency and optimistic concurrency are
// enforced in SQL: inserts dedupe with ON CONFLICT DO NOTHING, updates
// carry a version precondition in the WHERE clause.
package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/roadlabs/roadpay/internal/domain"
)

// EventStore implements domain.EventStore on PostgreSQL.
type EventStore struct {
	pool *pgxpool.Pool
}

var _ domain.EventStore = (*EventStore)(nil)

func NewEventStore(pool *pgxpool.Pool) *EventStore {
	return &EventStore{pool: pool}
}

func (s *EventStore) InsertIfNew(ctx context.Context, event domain.Event) (domain.InsertResult, error) {
	if event.ReceivedAt.IsZero() {
		event.ReceivedAt = time.Now().UTC()
	}

	tag, err := s.pool.Exec(ctx, `
		INSERT INTO events (id, type, payload, provider_created_at, received_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO NOTHING`,
		event.ID, event.Type, event.Payload, event.ProviderCreatedAt, event.ReceivedAt)
	if err != nil {
		return 0, domain.Internal(err, "events.insert", "failed to insert event")
	}
	if tag.RowsAffected() == 0 {
		return domain.Duplicate, nil
	}
	return domain.Inserted, nil
}

func (s *EventStore) MarkProcessed(ctx context.Context, eventID string, at time.Time) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE events
		SET processed_at = COALESCE(processed_at, $2)
		WHERE id = $1`,
		eventID, at.UTC())
	if err != nil {
		return domain.Internal(err, "events.mark_processed", "failed to mark event processed")
	}
	if tag.RowsAffected() == 0 {
		return domain.NotFound("events.mark_processed", "event", eventID)
	}
	return nil
}

func (s *EventStore) UnprocessedSince(ctx context.Context, cutoff time.Time) ([]domain.Event, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, type, payload, provider_created_at, received_at, processed_at
		FROM events
		WHERE processed_at IS NULL AND received_at <= $1
		ORDER BY received_at`,
		cutoff)
	if err != nil {
		return nil, domain.Internal(err, "events.unprocessed", "failed to list unprocessed events")
	}
	defer rows.Close()

	var out []domain.Event
	for rows.Next() {
		var ev domain.Event
		if err := rows.Scan(&ev.ID, &ev.Type, &ev.Payload,
			&ev.ProviderCreatedAt, &ev.ReceivedAt, &ev.ProcessedAt); err != nil {
			return nil, domain.Internal(err, "events.unprocessed", "failed to scan event")
		}
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.Internal(err, "events.unprocessed", "failed to read events")
	}
	return out, nil
}

func (s *EventStore) Stats(ctx context.Context) (domain.EventStats, error) {
	var stats domain.EventStats
	err := s.pool.QueryRow(ctx, `
		SELECT COUNT(*), COUNT(processed_at)
		FROM events`).Scan(&stats.Total, &stats.Processed)
	if err != nil {
		return domain.EventStats{}, domain.Internal(err, "events.stats", "failed to count events")
	}
	stats.Unprocessed = stats.Total - stats.Processed
	return stats, nil
}

func (s *EventStore) GetEvent(ctx context.Context, eventID string) (*domain.Event, error) {
	var ev domain.Event
	err := s.pool.QueryRow(ctx, `
		SELECT id, type, payload, provider_created_at, received_at, processed_at
		FROM events
		WHERE id = $1`,
		eventID).Scan(&ev.ID, &ev.Type, &ev.Payload,
		&ev.ProviderCreatedAt, &ev.ReceivedAt, &ev.ProcessedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, domain.Internal(err, "events.get", "failed to get event")
	}
	return &ev, nil
}
