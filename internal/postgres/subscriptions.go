package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/roadlabs/roadpay/internal/domain"
)

// SubscriptionStore implements domain.SubscriptionStore on PostgreSQL.
type SubscriptionStore struct {
	pool *pgxpool.Pool
}

var _ domain.SubscriptionStore = (*SubscriptionStore)(nil)

func NewSubscriptionStore(pool *pgxpool.Pool) *SubscriptionStore {
	return &SubscriptionStore{pool: pool}
}

func (s *SubscriptionStore) GetSubscription(ctx context.Context, id string) (*domain.SubscriptionRecord, error) {
	var rec domain.SubscriptionRecord
	err := s.pool.QueryRow(ctx, `
		SELECT id, customer_id, status, current_period_end, last_event_id,
		       last_event_at, version, created_at, updated_at
		FROM subscriptions
		WHERE id = $1`,
		id).Scan(&rec.ID, &rec.CustomerID, &rec.Status, &rec.CurrentPeriodEnd,
		&rec.LastEventID, &rec.LastEventAt, &rec.Version, &rec.CreatedAt, &rec.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, domain.Internal(err, "subscriptions.get", "failed to get subscription")
	}
	return &rec, nil
}

func (s *SubscriptionStore) CreateSubscription(ctx context.Context, record *domain.SubscriptionRecord) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO subscriptions (id, customer_id, status, current_period_end,
		                           last_event_id, last_event_at, version,
		                           created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, 1, $7, $8)`,
		record.ID, record.CustomerID, record.Status, record.CurrentPeriodEnd,
		record.LastEventID, record.LastEventAt, record.CreatedAt, record.UpdatedAt)
	if isUniqueViolation(err) {
		return domain.ErrVersionConflict
	}
	if err != nil {
		return domain.Internal(err, "subscriptions.create", "failed to create subscription")
	}
	record.Version = 1
	return nil
}

func (s *SubscriptionStore) UpdateSubscription(ctx context.Context, record *domain.SubscriptionRecord, expectedVersion int64) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE subscriptions
		SET customer_id = $2, status = $3, current_period_end = $4,
		    last_event_id = $5, last_event_at = $6, updated_at = $7,
		    version = version + 1
		WHERE id = $1 AND version = $8`,
		record.ID, record.CustomerID, record.Status, record.CurrentPeriodEnd,
		record.LastEventID, record.LastEventAt, record.UpdatedAt, expectedVersion)
	if err != nil {
		return domain.Internal(err, "subscriptions.update", "failed to update subscription")
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrVersionConflict
	}
	record.Version = expectedVersion + 1
	return nil
}

func (s *SubscriptionStore) ListStaleSubscriptions(ctx context.Context, cutoff time.Time, limit int) ([]domain.SubscriptionRecord, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, customer_id, status, current_period_end, last_event_id,
		       last_event_at, version, created_at, updated_at
		FROM subscriptions
		WHERE status NOT IN ('canceled', 'unpaid')
		  AND updated_at <= $1
		ORDER BY updated_at
		LIMIT $2`,
		cutoff, limit)
	if err != nil {
		return nil, domain.Internal(err, "subscriptions.list_stale", "failed to list stale subscriptions")
	}
	defer rows.Close()

	var out []domain.SubscriptionRecord
	for rows.Next() {
		var rec domain.SubscriptionRecord
		if err := rows.Scan(&rec.ID, &rec.CustomerID, &rec.Status, &rec.CurrentPeriodEnd,
			&rec.LastEventID, &rec.LastEventAt, &rec.Version, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
			return nil, domain.Internal(err, "subscriptions.list_stale", "failed to scan subscription")
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.Internal(err, "subscriptions.list_stale", "failed to read subscriptions")
	}
	return out, nil
}
