// Package billing abstracts the payment provider: webhook signature
// verification on the inbound side, authoritative entity fetches on the
// outbound side. The rest of the system depends on the Provider
// interface; Stripe specifics stay in this package.
package billing

import (
	"context"
	"time"
)

// PaymentSnapshot is the provider's current view of a payment intent.
// Status carries the provider's own status string; callers translate it
// into local lifecycle state.
type PaymentSnapshot struct {
	ID       string
	Amount   int64
	Currency string
	Status   string
	Created  time.Time
}

// SubscriptionSnapshot is the provider's current view of a subscription.
type SubscriptionSnapshot struct {
	ID               string
	Customer         string
	Status           string
	CurrentPeriodEnd time.Time
	Created          time.Time
}

// InvoiceSnapshot is the provider's current view of an invoice.
type InvoiceSnapshot struct {
	ID           string
	Subscription string
	Status       string
	AmountDue    int64
	AmountPaid   int64
	Currency     string
	Created      time.Time
}

// Provider is the payment provider interface.
//
// VerifyWebhookSignature authenticates a raw webhook delivery before
// anything else touches it. The Fetch methods return the provider's
// authoritative state for reconciliation; they respect ctx deadlines
// and translate provider failures into this package's error taxonomy.
type Provider interface {
	// VerifyWebhookSignature checks the signature header against the raw
	// request body. Returns ErrMalformedHeader, ErrStaleSignature, or
	// ErrInvalidSignature on failure.
	VerifyWebhookSignature(payload []byte, sigHeader string) error

	FetchPayment(ctx context.Context, id string) (*PaymentSnapshot, error)
	FetchSubscription(ctx context.Context, id string) (*SubscriptionSnapshot, error)
	FetchInvoice(ctx context.Context, id string) (*InvoiceSnapshot, error)
}
