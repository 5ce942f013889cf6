package domain

import (
	"context"
	"encoding/json"
	"time"
)

// EventType identifies the provider webhook event kind.
// Values match the provider's dotted event names so raw payloads can be
// routed without translation.
type EventType string

const (
	// Payment intent events
	EventPaymentIntentCreated        EventType = "payment_intent.created"
	EventPaymentIntentRequiresAction EventType = "payment_intent.requires_action"
	EventPaymentIntentProcessing     EventType = "payment_intent.processing"
	EventPaymentIntentSucceeded      EventType = "payment_intent.succeeded"
	EventPaymentIntentFailed         EventType = "payment_intent.payment_failed"
	EventPaymentIntentCanceled       EventType = "payment_intent.canceled"

	// Subscription events
	EventSubscriptionCreated EventType = "customer.subscription.created"
	EventSubscriptionUpdated EventType = "customer.subscription.updated"
	EventSubscriptionDeleted EventType = "customer.subscription.deleted"

	// Invoice events
	EventInvoiceCreated       EventType = "invoice.created"
	EventInvoiceFinalized     EventType = "invoice.finalized"
	EventInvoicePaid          EventType = "invoice.paid"
	EventInvoicePaymentFailed EventType = "invoice.payment_failed"
	EventInvoiceVoided        EventType = "invoice.voided"
	EventInvoiceUncollectible EventType = "invoice.marked_uncollectible"

	// Checkout events (side-effect only, no entity projection)
	EventCheckoutCompleted EventType = "checkout.session.completed"

	// Dispute events (side-effect only - operator alert)
	EventDisputeCreated EventType = "charge.dispute.created"
)

// Event is the immutable record of one provider notification.
// Rows are created on receipt and never mutated except to stamp
// ProcessedAt once handling completes.
type Event struct {
	// ID is the provider-assigned event identifier. Primary dedup key.
	ID string `json:"id"`

	// Type is the provider event kind.
	Type EventType `json:"type"`

	// Payload is the provider's data.object, kept as raw bytes.
	Payload json.RawMessage `json:"payload"`

	// ProviderCreatedAt is the provider-side creation timestamp, used as
	// the tie-break signal for out-of-order delivery.
	ProviderCreatedAt time.Time `json:"provider_created_at"`

	// ReceivedAt is the local receipt timestamp.
	ReceivedAt time.Time `json:"received_at"`

	// ProcessedAt is set once handling completes successfully.
	ProcessedAt *time.Time `json:"processed_at,omitempty"`
}

// InsertResult reports the outcome of an idempotent event insert.
type InsertResult int

const (
	// Inserted means the event was stored for the first time.
	Inserted InsertResult = iota

	// Duplicate means an event with the same ID already exists.
	Duplicate
)

// EventStore is the durable, idempotent record of every accepted event.
type EventStore interface {
	// InsertIfNew atomically stores the event keyed by its ID. The
	// check-and-insert must be a single atomic operation so concurrent
	// deliveries of the same ID yield exactly one Inserted.
	InsertIfNew(ctx context.Context, event Event) (InsertResult, error)

	// MarkProcessed stamps processed_at. Idempotent; the first stamp wins.
	MarkProcessed(ctx context.Context, eventID string, at time.Time) error

	// UnprocessedSince returns events inserted at or before cutoff whose
	// processing never completed. Used for crash recovery.
	UnprocessedSince(ctx context.Context, cutoff time.Time) ([]Event, error)

	// GetEvent returns the stored event, or nil if unknown.
	GetEvent(ctx context.Context, eventID string) (*Event, error)

	// Stats summarizes the store for the operator surface.
	Stats(ctx context.Context) (EventStats, error)
}

// EventStats is the operator-facing summary of the event store.
type EventStats struct {
	Total       int64 `json:"total"`
	Processed   int64 `json:"processed"`
	Unprocessed int64 `json:"unprocessed"`
}

// PaymentIntentPayload is the subset of a provider payment object the
// state machine needs.
type PaymentIntentPayload struct {
	ID       string `json:"id"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	Status   string `json:"status"`
}

// SubscriptionPayload is the subset of a provider subscription object the
// state machine needs.
type SubscriptionPayload struct {
	ID               string `json:"id"`
	Customer         string `json:"customer"`
	Status           string `json:"status"`
	CurrentPeriodEnd int64  `json:"current_period_end"`
}

// InvoicePayload is the subset of a provider invoice object the state
// machine needs.
type InvoicePayload struct {
	ID            string `json:"id"`
	Subscription  string `json:"subscription"`
	Status        string `json:"status"`
	AmountPaid    int64  `json:"amount_paid"`
	AmountDue     int64  `json:"amount_due"`
	Currency      string `json:"currency"`
	CustomerEmail string `json:"customer_email"`
}

// CheckoutSessionPayload carries the completed-checkout fields forwarded
// to downstream consumers.
type CheckoutSessionPayload struct {
	ID            string `json:"id"`
	Customer      string `json:"customer"`
	Subscription  string `json:"subscription"`
	AmountTotal   int64  `json:"amount_total"`
	CustomerEmail string `json:"customer_email"`
}

// DisputePayload carries the dispute fields forwarded to the operator
// alert channel.
type DisputePayload struct {
	ID     string `json:"id"`
	Charge string `json:"charge"`
	Amount int64  `json:"amount"`
	Reason string `json:"reason"`
	Status string `json:"status"`
}
