package domain

import (
	"context"
	"time"
)

// InvoiceStatus is the local invoice lifecycle state.
type InvoiceStatus string

const (
	InvoiceDraft         InvoiceStatus = "draft"
	InvoiceOpen          InvoiceStatus = "open"
	InvoicePaid          InvoiceStatus = "paid"
	InvoiceVoid          InvoiceStatus = "void"
	InvoiceUncollectible InvoiceStatus = "uncollectible"
)

// Terminal reports whether the status is final.
func (s InvoiceStatus) Terminal() bool {
	switch s {
	case InvoicePaid, InvoiceVoid, InvoiceUncollectible:
		return true
	}
	return false
}

// InvoiceRecord is the local projection of one provider invoice.
type InvoiceRecord struct {
	ID             string        `json:"id"`
	SubscriptionID string        `json:"subscription_id,omitempty"`
	Status         InvoiceStatus `json:"status"`
	AmountDue      int64         `json:"amount_due"`
	AmountPaid     int64         `json:"amount_paid"`
	Currency       string        `json:"currency"`
	LastEventID    string        `json:"last_event_id"`
	LastEventAt    time.Time     `json:"last_event_at"`
	Version        int64         `json:"version"`
	CreatedAt      time.Time     `json:"created_at"`
	UpdatedAt      time.Time     `json:"updated_at"`
}

// InvoiceStore persists invoice projections with optimistic versioning.
// Semantics mirror PaymentStore.
type InvoiceStore interface {
	GetInvoice(ctx context.Context, id string) (*InvoiceRecord, error)
	CreateInvoice(ctx context.Context, record *InvoiceRecord) error
	UpdateInvoice(ctx context.Context, record *InvoiceRecord, expectedVersion int64) error
	ListStaleInvoices(ctx context.Context, cutoff time.Time, limit int) ([]InvoiceRecord, error)
}
