// Package dispatch routes verified webhook events through the store,
// the state machines, and the notifier. Every event, whether it arrived
// over HTTP or was synthesized by reconciliation, goes through the same
// pipeline, so idempotency and ordering rules are enforced in exactly
// one place.
package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/roadlabs/roadpay/internal/domain"
	"github.com/roadlabs/roadpay/internal/lifecycle"
	"github.com/roadlabs/roadpay/internal/notify"
	"github.com/roadlabs/roadpay/internal/telemetry"
)

// OutcomeCode classifies what Dispatch did with an event.
type OutcomeCode string

const (
	// Processed means the event was applied (or was a harmless
	// re-assertion of current state) and is marked processed.
	Processed OutcomeCode = "processed"

	// AlreadyHandled means the event ID was seen before; nothing ran.
	AlreadyHandled OutcomeCode = "already_handled"

	// Ignored means the event type is not handled; the event is stored
	// and acknowledged as a deliberate no-op.
	Ignored OutcomeCode = "ignored"

	// Rejected means the transition rules refused the event. The event
	// is marked processed; Reason says why.
	Rejected OutcomeCode = "rejected"

	// Conflict means version-conflict retries were exhausted. The event
	// stays unprocessed and reconciliation will re-dispatch it.
	Conflict OutcomeCode = "conflict"

	// Failed means a storage or internal failure. Committed tells the
	// caller whether the event is durably stored.
	Failed OutcomeCode = "failed"
)

// Outcome is the result of dispatching one event.
type Outcome struct {
	Code   OutcomeCode
	Reason lifecycle.RejectionReason
	Err    error

	// Committed is true once the event row is durably stored, which is
	// the point where the provider must not retry the delivery.
	Committed bool
}

// DefaultMaxConflictRetries bounds the optimistic-concurrency retry
// loop per event.
const DefaultMaxConflictRetries = 5

// Dispatcher wires the stores, the state machines, and the notifier.
type Dispatcher struct {
	events        domain.EventStore
	payments      domain.PaymentStore
	subscriptions domain.SubscriptionStore
	invoices      domain.InvoiceStore
	notifier      notify.Notifier
	logger        *slog.Logger

	maxConflictRetries uint64
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithMaxConflictRetries overrides the conflict retry budget.
func WithMaxConflictRetries(n uint64) Option {
	return func(d *Dispatcher) { d.maxConflictRetries = n }
}

// New creates a Dispatcher.
func New(
	events domain.EventStore,
	payments domain.PaymentStore,
	subscriptions domain.SubscriptionStore,
	invoices domain.InvoiceStore,
	notifier notify.Notifier,
	logger *slog.Logger,
	opts ...Option,
) *Dispatcher {
	d := &Dispatcher{
		events:             events,
		payments:           payments,
		subscriptions:      subscriptions,
		invoices:           invoices,
		notifier:           notifier,
		logger:             logger,
		maxConflictRetries: DefaultMaxConflictRetries,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Dispatch stores and processes one verified event.
func (d *Dispatcher) Dispatch(ctx context.Context, ev domain.Event) Outcome {
	if ev.ReceivedAt.IsZero() {
		ev.ReceivedAt = time.Now().UTC()
	}

	result, err := d.events.InsertIfNew(ctx, ev)
	if err != nil {
		d.logger.Error("event insert failed",
			"event_id", ev.ID, "type", ev.Type, "error", err)
		if telemetry.Business != nil {
			telemetry.Business.WebhookFailed.WithLabelValues(string(ev.Type), "insert").Inc()
		}
		return Outcome{Code: Failed, Err: err}
	}
	if result == domain.Duplicate {
		d.logger.Info("duplicate event acknowledged",
			"event_id", ev.ID, "type", ev.Type)
		if telemetry.Business != nil {
			telemetry.Business.WebhookDuplicate.WithLabelValues(string(ev.Type)).Inc()
		}
		return Outcome{Code: AlreadyHandled, Committed: true}
	}

	// The event is durable. From here on the caller's cancellation must
	// not abandon it half-processed.
	return d.process(context.WithoutCancel(ctx), ev)
}

// Redispatch re-runs processing for an event that is already stored but
// never completed. Used by crash recovery and the operator endpoint.
func (d *Dispatcher) Redispatch(ctx context.Context, ev domain.Event) Outcome {
	if ev.ProcessedAt != nil {
		return Outcome{Code: AlreadyHandled, Committed: true}
	}
	return d.process(context.WithoutCancel(ctx), ev)
}

func (d *Dispatcher) process(ctx context.Context, ev domain.Event) Outcome {
	var outcome Outcome

	switch ev.Type {
	case domain.EventPaymentIntentCreated,
		domain.EventPaymentIntentRequiresAction,
		domain.EventPaymentIntentProcessing,
		domain.EventPaymentIntentSucceeded,
		domain.EventPaymentIntentFailed,
		domain.EventPaymentIntentCanceled:
		outcome = d.processPayment(ctx, ev)

	case domain.EventSubscriptionCreated,
		domain.EventSubscriptionUpdated,
		domain.EventSubscriptionDeleted:
		outcome = d.processSubscription(ctx, ev)

	case domain.EventInvoiceCreated,
		domain.EventInvoiceFinalized,
		domain.EventInvoicePaid,
		domain.EventInvoicePaymentFailed,
		domain.EventInvoiceVoided,
		domain.EventInvoiceUncollectible:
		outcome = d.processInvoice(ctx, ev)

	case domain.EventCheckoutCompleted:
		outcome = d.processCheckout(ctx, ev)

	case domain.EventDisputeCreated:
		outcome = d.processDispute(ctx, ev)

	default:
		d.logger.Info("ignoring unhandled event type",
			"event_id", ev.ID, "type", ev.Type)
		if telemetry.Business != nil {
			telemetry.Business.WebhookIgnored.WithLabelValues(string(ev.Type)).Inc()
		}
		outcome = d.ack(ctx, ev, Outcome{Code: Ignored})
	}

	outcome.Committed = true
	return outcome
}

// ack stamps the event processed and returns the outcome. A failed
// stamp downgrades to Failed so reconciliation retries later.
func (d *Dispatcher) ack(ctx context.Context, ev domain.Event, outcome Outcome) Outcome {
	if err := d.events.MarkProcessed(ctx, ev.ID, time.Now().UTC()); err != nil {
		d.logger.Error("mark processed failed",
			"event_id", ev.ID, "type", ev.Type, "error", err)
		if telemetry.Business != nil {
			telemetry.Business.WebhookFailed.WithLabelValues(string(ev.Type), "mark").Inc()
		}
		return Outcome{Code: Failed, Err: err}
	}
	return outcome
}

func (d *Dispatcher) processPayment(ctx context.Context, ev domain.Event) Outcome {
	var data domain.PaymentIntentPayload
	if err := json.Unmarshal(ev.Payload, &data); err != nil || data.ID == "" {
		return d.quarantine(ctx, ev, err)
	}

	var effects []lifecycle.Effect
	var applied *domain.PaymentRecord

	op := func() error {
		current, err := d.payments.GetPayment(ctx, data.ID)
		if err != nil {
			return backoff.Permanent(err)
		}

		next, owed, err := lifecycle.ApplyPayment(current, ev, data)
		if err != nil {
			return backoff.Permanent(err)
		}
		if next == nil {
			applied, effects = nil, nil
			return nil
		}

		if current == nil {
			err = d.payments.CreatePayment(ctx, next)
		} else {
			err = d.payments.UpdatePayment(ctx, next, current.Version)
		}
		if errors.Is(err, domain.ErrVersionConflict) {
			if telemetry.Business != nil {
				telemetry.Business.VersionConflicts.WithLabelValues("payment").Inc()
			}
			return err
		}
		if err != nil {
			return backoff.Permanent(err)
		}

		applied, effects = next, owed
		return nil
	}

	if out, done := d.runApply(ctx, ev, "payment", op); done {
		return out
	}

	if applied != nil {
		if telemetry.Business != nil {
			telemetry.Business.TransitionsApplied.WithLabelValues("payment", string(applied.Status)).Inc()
		}
		d.logger.Info("payment transition applied",
			"event_id", ev.ID, "payment_id", applied.ID,
			"status", applied.Status, "version", applied.Version)
	}
	d.publish(ctx, effects)
	return d.ack(ctx, ev, Outcome{Code: Processed})
}

func (d *Dispatcher) processSubscription(ctx context.Context, ev domain.Event) Outcome {
	var data domain.SubscriptionPayload
	if err := json.Unmarshal(ev.Payload, &data); err != nil || data.ID == "" {
		return d.quarantine(ctx, ev, err)
	}

	var effects []lifecycle.Effect
	var applied *domain.SubscriptionRecord

	op := func() error {
		current, err := d.subscriptions.GetSubscription(ctx, data.ID)
		if err != nil {
			return backoff.Permanent(err)
		}

		next, owed, err := lifecycle.ApplySubscription(current, ev, data)
		if err != nil {
			return backoff.Permanent(err)
		}
		if next == nil {
			applied, effects = nil, nil
			return nil
		}

		if current == nil {
			err = d.subscriptions.CreateSubscription(ctx, next)
		} else {
			err = d.subscriptions.UpdateSubscription(ctx, next, current.Version)
		}
		if errors.Is(err, domain.ErrVersionConflict) {
			if telemetry.Business != nil {
				telemetry.Business.VersionConflicts.WithLabelValues("subscription").Inc()
			}
			return err
		}
		if err != nil {
			return backoff.Permanent(err)
		}

		applied, effects = next, owed
		return nil
	}

	if out, done := d.runApply(ctx, ev, "subscription", op); done {
		return out
	}

	if applied != nil {
		if telemetry.Business != nil {
			telemetry.Business.TransitionsApplied.WithLabelValues("subscription", string(applied.Status)).Inc()
		}
		d.logger.Info("subscription transition applied",
			"event_id", ev.ID, "subscription_id", applied.ID,
			"status", applied.Status, "version", applied.Version)
	}
	d.publish(ctx, effects)
	return d.ack(ctx, ev, Outcome{Code: Processed})
}

func (d *Dispatcher) processInvoice(ctx context.Context, ev domain.Event) Outcome {
	var data domain.InvoicePayload
	if err := json.Unmarshal(ev.Payload, &data); err != nil || data.ID == "" {
		return d.quarantine(ctx, ev, err)
	}

	var effects []lifecycle.Effect
	var applied *domain.InvoiceRecord

	op := func() error {
		current, err := d.invoices.GetInvoice(ctx, data.ID)
		if err != nil {
			return backoff.Permanent(err)
		}

		next, owed, err := lifecycle.ApplyInvoice(current, ev, data)
		if err != nil {
			return backoff.Permanent(err)
		}
		if next == nil {
			applied, effects = nil, nil
			return nil
		}

		if current == nil {
			err = d.invoices.CreateInvoice(ctx, next)
		} else {
			err = d.invoices.UpdateInvoice(ctx, next, current.Version)
		}
		if errors.Is(err, domain.ErrVersionConflict) {
			if telemetry.Business != nil {
				telemetry.Business.VersionConflicts.WithLabelValues("invoice").Inc()
			}
			return err
		}
		if err != nil {
			return backoff.Permanent(err)
		}

		applied, effects = next, owed
		return nil
	}

	if out, done := d.runApply(ctx, ev, "invoice", op); done {
		return out
	}

	if applied != nil {
		if telemetry.Business != nil {
			telemetry.Business.TransitionsApplied.WithLabelValues("invoice", string(applied.Status)).Inc()
		}
		d.logger.Info("invoice transition applied",
			"event_id", ev.ID, "invoice_id", applied.ID,
			"status", applied.Status, "version", applied.Version)
	}
	d.publish(ctx, effects)
	return d.ack(ctx, ev, Outcome{Code: Processed})
}

// processCheckout forwards completed checkouts downstream. There is no
// local checkout projection; the event matters for its notification.
func (d *Dispatcher) processCheckout(ctx context.Context, ev domain.Event) Outcome {
	var data domain.CheckoutSessionPayload
	if err := json.Unmarshal(ev.Payload, &data); err != nil || data.ID == "" {
		return d.quarantine(ctx, ev, err)
	}

	d.publish(ctx, []lifecycle.Effect{{
		Kind:   "checkout.completed",
		Entity: data.ID,
		Data: map[string]string{
			"session_id":     data.ID,
			"customer_id":    data.Customer,
			"subscription":   data.Subscription,
			"amount_total":   formatInt(data.AmountTotal),
			"customer_email": data.CustomerEmail,
		},
	}})
	return d.ack(ctx, ev, Outcome{Code: Processed})
}

// processDispute raises an operator alert. Disputes need a human.
func (d *Dispatcher) processDispute(ctx context.Context, ev domain.Event) Outcome {
	var data domain.DisputePayload
	if err := json.Unmarshal(ev.Payload, &data); err != nil || data.ID == "" {
		return d.quarantine(ctx, ev, err)
	}

	d.logger.Warn("charge dispute opened",
		"event_id", ev.ID, "dispute_id", data.ID,
		"charge", data.Charge, "amount", data.Amount, "reason", data.Reason)
	d.publish(ctx, []lifecycle.Effect{{
		Kind:   "admin.dispute_opened",
		Entity: data.ID,
		Data: map[string]string{
			"dispute_id": data.ID,
			"charge":     data.Charge,
			"amount":     formatInt(data.Amount),
			"reason":     data.Reason,
		},
	}})
	return d.ack(ctx, ev, Outcome{Code: Processed})
}

// runApply drives one entity's apply-persist loop with backoff on
// version conflicts. Returns (outcome, true) when dispatch is finished,
// (_, false) when the apply succeeded and the caller should continue.
func (d *Dispatcher) runApply(ctx context.Context, ev domain.Event, entity string, op func() error) (Outcome, bool) {
	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewExponentialBackOff(), d.maxConflictRetries), ctx)

	err := backoff.Retry(op, policy)
	if err == nil {
		return Outcome{}, false
	}

	var rej *lifecycle.Rejection
	if errors.As(err, &rej) {
		d.logger.Info("event rejected by transition rules",
			"event_id", ev.ID, "type", ev.Type, "entity", rej.Entity,
			"reason", rej.Reason, "from", rej.From, "to", rej.To)
		if telemetry.Business != nil {
			telemetry.Business.WebhookRejected.WithLabelValues(string(ev.Type), string(rej.Reason)).Inc()
		}
		return d.ack(ctx, ev, Outcome{Code: Rejected, Reason: rej.Reason}), true
	}

	if errors.Is(err, domain.ErrVersionConflict) {
		d.logger.Warn("conflict retries exhausted, leaving event for reconciliation",
			"event_id", ev.ID, "type", ev.Type, "entity", entity)
		return Outcome{Code: Conflict, Err: err}, true
	}

	d.logger.Error("event processing failed",
		"event_id", ev.ID, "type", ev.Type, "entity", entity, "error", err)
	if telemetry.Business != nil {
		telemetry.Business.WebhookFailed.WithLabelValues(string(ev.Type), "persist").Inc()
	}
	return Outcome{Code: Failed, Err: err}, true
}

// quarantine handles a payload that does not parse or lacks its entity
// ID. The event is acknowledged so it cannot poison the recovery loop;
// the stored row keeps the raw payload for inspection.
func (d *Dispatcher) quarantine(ctx context.Context, ev domain.Event, err error) Outcome {
	d.logger.Error("unusable event payload",
		"event_id", ev.ID, "type", ev.Type, "error", err)
	if telemetry.Business != nil {
		telemetry.Business.WebhookFailed.WithLabelValues(string(ev.Type), "apply").Inc()
	}
	invalid := domain.WrapError(err, domain.EINVALID, "dispatch.parse", "unusable event payload")
	if invalid == nil {
		invalid = domain.Invalid("dispatch.parse", "event payload missing entity id")
	}
	out := d.ack(ctx, ev, Outcome{Code: Failed, Err: invalid})
	return out
}

// publish hands owed effects to the notifier. Failures are logged and
// counted; the transition they belong to has already committed.
func (d *Dispatcher) publish(ctx context.Context, effects []lifecycle.Effect) {
	for _, effect := range effects {
		if err := d.notifier.Publish(ctx, effect.Kind, effect.Data); err != nil {
			d.logger.Error("notification publish failed",
				"kind", effect.Kind, "entity", effect.Entity, "error", err)
			if telemetry.Business != nil {
				telemetry.Business.NotificationsFailed.WithLabelValues(effect.Kind).Inc()
			}
			continue
		}
		if telemetry.Business != nil {
			telemetry.Business.NotificationsPublished.WithLabelValues(effect.Kind).Inc()
		}
	}
}

func formatInt(v int64) string {
	return strconv.FormatInt(v, 10)
}
