package domain

import (
	"context"
	"time"
)

// PaymentStatus is the local payment lifecycle state.
type PaymentStatus string

const (
	PaymentCreated        PaymentStatus = "created"
	PaymentRequiresAction PaymentStatus = "requires_action"
	PaymentProcessing     PaymentStatus = "processing"
	PaymentSucceeded      PaymentStatus = "succeeded"
	PaymentFailed         PaymentStatus = "failed"
	PaymentCanceled       PaymentStatus = "canceled"
)

// Terminal reports whether the status is final. Terminal payments never
// transition again, which protects against double-crediting on provider
// re-notification.
func (s PaymentStatus) Terminal() bool {
	switch s {
	case PaymentSucceeded, PaymentFailed, PaymentCanceled:
		return true
	}
	return false
}

// PaymentRecord is the local projection of one provider payment intent.
// It is keyed by the provider-assigned payment intent ID; the provider
// decides when a transition occurs, this record is what the application
// observes.
type PaymentRecord struct {
	ID          string        `json:"id"`
	Amount      int64         `json:"amount"`
	Currency    string        `json:"currency"`
	Status      PaymentStatus `json:"status"`
	LastEventID string        `json:"last_event_id"`
	LastEventAt time.Time     `json:"last_event_at"`

	// Version increments on every accepted transition and is the
	// optimistic-concurrency precondition for updates.
	Version   int64     `json:"version"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// PaymentStore persists payment projections with optimistic versioning.
type PaymentStore interface {
	// GetPayment returns the record, or nil if no projection exists yet.
	GetPayment(ctx context.Context, id string) (*PaymentRecord, error)

	// CreatePayment inserts a new projection at version 1. A concurrent
	// create of the same ID fails with ErrVersionConflict so the caller
	// reloads and retries.
	CreatePayment(ctx context.Context, record *PaymentRecord) error

	// UpdatePayment persists the record if the stored version still equals
	// expectedVersion, bumping the version by one. A stale version fails
	// with ErrVersionConflict.
	UpdatePayment(ctx context.Context, record *PaymentRecord, expectedVersion int64) error

	// ListStalePayments returns non-terminal payments not updated since
	// cutoff, oldest first. Candidates for reconciliation.
	ListStalePayments(ctx context.Context, cutoff time.Time, limit int) ([]PaymentRecord, error)
}
