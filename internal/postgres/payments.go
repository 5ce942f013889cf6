package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/roadlabs/roadpay/internal/domain"
)

// uniqueViolation is the PostgreSQL error code for a unique constraint
// violation. A concurrent create racing on the same primary key
// surfaces as this and is reported as a version conflict.
const uniqueViolation = "23505"

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

// PaymentStore implements domain.PaymentStore on PostgreSQL.
type PaymentStore struct {
	pool *pgxpool.Pool
}

var _ domain.PaymentStore = (*PaymentStore)(nil)

func NewPaymentStore(pool *pgxpool.Pool) *PaymentStore {
	return &PaymentStore{pool: pool}
}

func (s *PaymentStore) GetPayment(ctx context.Context, id string) (*domain.PaymentRecord, error) {
	var rec domain.PaymentRecord
	err := s.pool.QueryRow(ctx, `
		SELECT id, amount, currency, status, last_event_id, last_event_at,
		       version, created_at, updated_at
		FROM payments
		WHERE id = $1`,
		id).Scan(&rec.ID, &rec.Amount, &rec.Currency, &rec.Status,
		&rec.LastEventID, &rec.LastEventAt, &rec.Version, &rec.CreatedAt, &rec.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, domain.Internal(err, "payments.get", "failed to get payment")
	}
	return &rec, nil
}

func (s *PaymentStore) CreatePayment(ctx context.Context, record *domain.PaymentRecord) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO payments (id, amount, currency, status, last_event_id,
		                      last_event_at, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, 1, $7, $8)`,
		record.ID, record.Amount, record.Currency, record.Status,
		record.LastEventID, record.LastEventAt, record.CreatedAt, record.UpdatedAt)
	if isUniqueViolation(err) {
		return domain.ErrVersionConflict
	}
	if err != nil {
		return domain.Internal(err, "payments.create", "failed to create payment")
	}
	record.Version = 1
	return nil
}

func (s *PaymentStore) UpdatePayment(ctx context.Context, record *domain.PaymentRecord, expectedVersion int64) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE payments
		SET amount = $2, currency = $3, status = $4, last_event_id = $5,
		    last_event_at = $6, updated_at = $7, version = version + 1
		WHERE id = $1 AND version = $8`,
		record.ID, record.Amount, record.Currency, record.Status,
		record.LastEventID, record.LastEventAt, record.UpdatedAt, expectedVersion)
	if err != nil {
		return domain.Internal(err, "payments.update", "failed to update payment")
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrVersionConflict
	}
	record.Version = expectedVersion + 1
	return nil
}

func (s *PaymentStore) ListStalePayments(ctx context.Context, cutoff time.Time, limit int) ([]domain.PaymentRecord, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, amount, currency, status, last_event_id, last_event_at,
		       version, created_at, updated_at
		FROM payments
		WHERE status NOT IN ('succeeded', 'failed', 'canceled')
		  AND updated_at <= $1
		ORDER BY updated_at
		LIMIT $2`,
		cutoff, limit)
	if err != nil {
		return nil, domain.Internal(err, "payments.list_stale", "failed to list stale payments")
	}
	defer rows.Close()

	var out []domain.PaymentRecord
	for rows.Next() {
		var rec domain.PaymentRecord
		if err := rows.Scan(&rec.ID, &rec.Amount, &rec.Currency, &rec.Status,
			&rec.LastEventID, &rec.LastEventAt, &rec.Version, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
			return nil, domain.Internal(err, "payments.list_stale", "failed to scan payment")
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.Internal(err, "payments.list_stale", "failed to read payments")
	}
	return out, nil
}
