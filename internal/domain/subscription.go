package domain

import (
	"context"
	"time"
)

// SubscriptionStatus is the local subscription lifecycle state.
type SubscriptionStatus string

const (
	SubscriptionIncomplete SubscriptionStatus = "incomplete"
	SubscriptionTrialing   SubscriptionStatus = "trialing"
	SubscriptionActive     SubscriptionStatus = "active"
	SubscriptionPastDue    SubscriptionStatus = "past_due"
	SubscriptionCanceled   SubscriptionStatus = "canceled"
	SubscriptionUnpaid     SubscriptionStatus = "unpaid"
)

// Terminal reports whether the status is final.
func (s SubscriptionStatus) Terminal() bool {
	switch s {
	case SubscriptionCanceled, SubscriptionUnpaid:
		return true
	}
	return false
}

// ParseSubscriptionStatus maps a provider status string onto the local
// enum. Unknown statuses are reported so callers can reject explicitly
// instead of silently coercing.
func ParseSubscriptionStatus(s string) (SubscriptionStatus, bool) {
	switch SubscriptionStatus(s) {
	case SubscriptionIncomplete, SubscriptionTrialing, SubscriptionActive,
		SubscriptionPastDue, SubscriptionCanceled, SubscriptionUnpaid:
		return SubscriptionStatus(s), true
	}
	return "", false
}

// SubscriptionRecord is the local projection of one provider subscription.
type SubscriptionRecord struct {
	ID               string             `json:"id"`
	CustomerID       string             `json:"customer_id"`
	Status           SubscriptionStatus `json:"status"`
	CurrentPeriodEnd time.Time          `json:"current_period_end"`
	LastEventID      string             `json:"last_event_id"`
	LastEventAt      time.Time          `json:"last_event_at"`
	Version          int64              `json:"version"`
	CreatedAt        time.Time          `json:"created_at"`
	UpdatedAt        time.Time          `json:"updated_at"`
}

// SubscriptionStore persists subscription projections with optimistic
// versioning. Semantics mirror PaymentStore.
type SubscriptionStore interface {
	GetSubscription(ctx context.Context, id string) (*SubscriptionRecord, error)
	CreateSubscription(ctx context.Context, record *SubscriptionRecord) error
	UpdateSubscription(ctx context.Context, record *SubscriptionRecord, expectedVersion int64) error
	ListStaleSubscriptions(ctx context.Context, cutoff time.Time, limit int) ([]SubscriptionRecord, error)
}
