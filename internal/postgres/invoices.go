package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/roadlabs/roadpay/internal/domain"
)

// InvoiceStore implements domain.InvoiceStore on PostgreSQL.
type InvoiceStore struct {
	pool *pgxpool.Pool
}

var _ domain.InvoiceStore = (*InvoiceStore)(nil)

func NewInvoiceStore(pool *pgxpool.Pool) *InvoiceStore {
	return &InvoiceStore{pool: pool}
}

func (s *InvoiceStore) GetInvoice(ctx context.Context, id string) (*domain.InvoiceRecord, error) {
	var rec domain.InvoiceRecord
	err := s.pool.QueryRow(ctx, `
		SELECT id, subscription_id, status, amount_due, amount_paid, currency,
		       last_event_id, last_event_at, version, created_at, updated_at
		FROM invoices
		WHERE id = $1`,
		id).Scan(&rec.ID, &rec.SubscriptionID, &rec.Status, &rec.AmountDue,
		&rec.AmountPaid, &rec.Currency, &rec.LastEventID, &rec.LastEventAt,
		&rec.Version, &rec.CreatedAt, &rec.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, domain.Internal(err, "invoices.get", "failed to get invoice")
	}
	return &rec, nil
}

func (s *InvoiceStore) CreateInvoice(ctx context.Context, record *domain.InvoiceRecord) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO invoices (id, subscription_id, status, amount_due, amount_paid,
		                      currency, last_event_id, last_event_at, version,
		                      created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, 1, $9, $10)`,
		record.ID, record.SubscriptionID, record.Status, record.AmountDue,
		record.AmountPaid, record.Currency, record.LastEventID, record.LastEventAt,
		record.CreatedAt, record.UpdatedAt)
	if isUniqueViolation(err) {
		return domain.ErrVersionConflict
	}
	if err != nil {
		return domain.Internal(err, "invoices.create", "failed to create invoice")
	}
	record.Version = 1
	return nil
}

func (s *InvoiceStore) UpdateInvoice(ctx context.Context, record *domain.InvoiceRecord, expectedVersion int64) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE invoices
		SET subscription_id = $2, status = $3, amount_due = $4, amount_paid = $5,
		    currency = $6, last_event_id = $7, last_event_at = $8, updated_at = $9,
		    version = version + 1
		WHERE id = $1 AND version = $10`,
		record.ID, record.SubscriptionID, record.Status, record.AmountDue,
		record.AmountPaid, record.Currency, record.LastEventID, record.LastEventAt,
		record.UpdatedAt, expectedVersion)
	if err != nil {
		return domain.Internal(err, "invoices.update", "failed to update invoice")
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrVersionConflict
	}
	record.Version = expectedVersion + 1
	return nil
}

func (s *InvoiceStore) ListStaleInvoices(ctx context.Context, cutoff time.Time, limit int) ([]domain.InvoiceRecord, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, subscription_id, status, amount_due, amount_paid, currency,
		       last_event_id, last_event_at, version, created_at, updated_at
		FROM invoices
		WHERE status NOT IN ('paid', 'void', 'uncollectible')
		  AND updated_at <= $1
		ORDER BY updated_at
		LIMIT $2`,
		cutoff, limit)
	if err != nil {
		return nil, domain.Internal(err, "invoices.list_stale", "failed to list stale invoices")
	}
	defer rows.Close()

	var out []domain.InvoiceRecord
	for rows.Next() {
		var rec domain.InvoiceRecord
		if err := rows.Scan(&rec.ID, &rec.SubscriptionID, &rec.Status, &rec.AmountDue,
			&rec.AmountPaid, &rec.Currency, &rec.LastEventID, &rec.LastEventAt,
			&rec.Version, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
			return nil, domain.Internal(err, "invoices.list_stale", "failed to scan invoice")
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.Internal(err, "invoices.list_stale", "failed to read invoices")
	}
	return out, nil
}
