// Package worker runs the reconciliation loop: a periodic sweep that
// finds entities stuck in non-terminal states, asks the provider for
// the truth, and pushes corrective events through the normal dispatch
// pipeline. It also re-dispatches stored events whose processing never
// completed, which is how the system recovers from a crash between
// insert and apply.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"github.com/roadlabs/roadpay/internal/billing"
	"github.com/roadlabs/roadpay/internal/dispatch"
	"github.com/roadlabs/roadpay/internal/domain"
	"github.com/roadlabs/roadpay/internal/telemetry"
)

// Config holds reconciler configuration
type Config struct {
	// WorkerID uniquely identifies this reconciler instance
	WorkerID string

	// Interval is the sweep cadence
	Interval time.Duration

	// Staleness is how long a non-terminal entity may sit untouched
	// before a sweep checks it against the provider
	Staleness time.Duration

	// GatewayTimeout bounds each provider fetch
	GatewayTimeout time.Duration

	// MaxGatewayRetries bounds backoff retries per fetch
	MaxGatewayRetries uint64

	// BatchSize caps entities examined per entity type per sweep
	BatchSize int
}

// Reconciler drives periodic reconciliation sweeps
type Reconciler struct {
	config        Config
	events        domain.EventStore
	payments      domain.PaymentStore
	subscriptions domain.SubscriptionStore
	invoices      domain.InvoiceStore
	provider      billing.Provider
	dispatcher    *dispatch.Dispatcher
	logger        *slog.Logger
}

// NewReconciler creates a reconciler
func NewReconciler(
	events domain.EventStore,
	payments domain.PaymentStore,
	subscriptions domain.SubscriptionStore,
	invoices domain.InvoiceStore,
	provider billing.Provider,
	dispatcher *dispatch.Dispatcher,
	config Config,
	logger *slog.Logger,
) *Reconciler {
	// Set defaults
	if config.WorkerID == "" {
		config.WorkerID = fmt.Sprintf("reconciler-%s", uuid.New().String()[:8])
	}
	if config.Interval == 0 {
		config.Interval = 5 * time.Minute
	}
	if config.Staleness == 0 {
		config.Staleness = 30 * time.Minute
	}
	if config.GatewayTimeout == 0 {
		config.GatewayTimeout = 10 * time.Second
	}
	if config.MaxGatewayRetries == 0 {
		config.MaxGatewayRetries = 3
	}
	if config.BatchSize == 0 {
		config.BatchSize = 100
	}

	return &Reconciler{
		config:        config,
		events:        events,
		payments:      payments,
		subscriptions: subscriptions,
		invoices:      invoices,
		provider:      provider,
		dispatcher:    dispatcher,
		logger:        logger,
	}
}

// Start runs sweeps until the context is cancelled
func (r *Reconciler) Start(ctx context.Context) error {
	r.logger.Info("reconciler starting",
		"worker_id", r.config.WorkerID,
		"interval", r.config.Interval,
		"staleness", r.config.Staleness,
	)

	ticker := time.NewTicker(r.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("reconciler shutting down", "worker_id", r.config.WorkerID)
			return ctx.Err()
		case <-ticker.C:
			r.RunOnce(ctx)
		}
	}
}

// RunOnce performs a single sweep. Failures are logged and counted;
// a sweep never aborts the loop.
func (r *Reconciler) RunOnce(ctx context.Context) {
	if telemetry.Business != nil {
		telemetry.Business.ReconcileRuns.Inc()
	}
	started := time.Now()

	redispatched := r.redispatchUnprocessed(ctx)
	corrections := r.reconcilePayments(ctx)
	corrections += r.reconcileSubscriptions(ctx)
	corrections += r.reconcileInvoices(ctx)

	r.logger.Info("reconcile sweep finished",
		"worker_id", r.config.WorkerID,
		"redispatched", redispatched,
		"corrections", corrections,
		"duration", time.Since(started),
	)
}

// redispatchUnprocessed re-runs events that were stored but never
// finished processing. The grace of one interval keeps the sweep from
// racing deliveries that are still in flight.
func (r *Reconciler) redispatchUnprocessed(ctx context.Context) int {
	cutoff := time.Now().UTC().Add(-r.config.Interval)
	stuck, err := r.events.UnprocessedSince(ctx, cutoff)
	if err != nil {
		r.logger.Error("unprocessed scan failed", "error", err)
		return 0
	}

	count := 0
	for _, ev := range stuck {
		out := r.dispatcher.Redispatch(ctx, ev)
		switch out.Code {
		case dispatch.Failed, dispatch.Conflict:
			r.logger.Warn("redispatch did not complete",
				"event_id", ev.ID, "type", ev.Type, "outcome", out.Code, "error", out.Err)
		default:
			count++
			if telemetry.Business != nil {
				telemetry.Business.ReconcileRedispatch.Inc()
			}
		}
	}
	return count
}

func (r *Reconciler) reconcilePayments(ctx context.Context) int {
	cutoff := time.Now().UTC().Add(-r.config.Staleness)
	stale, err := r.payments.ListStalePayments(ctx, cutoff, r.config.BatchSize)
	if err != nil {
		r.logger.Error("stale payment scan failed", "error", err)
		return 0
	}

	corrections, stuck := 0, 0
	for _, rec := range stale {
		snap, err := r.fetchPayment(ctx, rec.ID)
		if err != nil {
			if errors.Is(err, billing.ErrNotFound) {
				r.logger.Warn("payment unknown to provider", "payment_id", rec.ID)
				continue
			}
			stuck++
			r.logger.Error("payment fetch failed", "payment_id", rec.ID, "error", err)
			continue
		}

		target, ok := paymentEventForStatus(snap.Status)
		if !ok {
			r.logger.Warn("unmapped provider payment status",
				"payment_id", rec.ID, "status", snap.Status)
			continue
		}
		if statusOfPaymentEvent(target) == rec.Status {
			continue
		}

		payload, err := json.Marshal(domain.PaymentIntentPayload{
			ID:       snap.ID,
			Amount:   snap.Amount,
			Currency: snap.Currency,
			Status:   snap.Status,
		})
		if err != nil {
			r.logger.Error("marshal corrective payload failed", "payment_id", rec.ID, "error", err)
			continue
		}

		if r.dispatchCorrection(ctx, correctionEvent(rec.ID, string(rec.Status), rec.Version, target, payload), "payment") {
			corrections++
		}
	}

	if telemetry.Business != nil {
		telemetry.Business.StuckEntities.WithLabelValues("payment").Set(float64(stuck))
	}
	return corrections
}

func (r *Reconciler) reconcileSubscriptions(ctx context.Context) int {
	cutoff := time.Now().UTC().Add(-r.config.Staleness)
	stale, err := r.subscriptions.ListStaleSubscriptions(ctx, cutoff, r.config.BatchSize)
	if err != nil {
		r.logger.Error("stale subscription scan failed", "error", err)
		return 0
	}

	corrections, stuck := 0, 0
	for _, rec := range stale {
		snap, err := r.fetchSubscription(ctx, rec.ID)
		if err != nil {
			if errors.Is(err, billing.ErrNotFound) {
				r.logger.Warn("subscription unknown to provider", "subscription_id", rec.ID)
				continue
			}
			stuck++
			r.logger.Error("subscription fetch failed", "subscription_id", rec.ID, "error", err)
			continue
		}

		status, ok := domain.ParseSubscriptionStatus(snap.Status)
		if !ok {
			r.logger.Warn("unmapped provider subscription status",
				"subscription_id", rec.ID, "status", snap.Status)
			continue
		}
		if status == rec.Status {
			continue
		}

		payload, err := json.Marshal(domain.SubscriptionPayload{
			ID:               snap.ID,
			Customer:         snap.Customer,
			Status:           snap.Status,
			CurrentPeriodEnd: snap.CurrentPeriodEnd.Unix(),
		})
		if err != nil {
			r.logger.Error("marshal corrective payload failed", "subscription_id", rec.ID, "error", err)
			continue
		}

		if r.dispatchCorrection(ctx, correctionEvent(rec.ID, string(rec.Status), rec.Version, domain.EventSubscriptionUpdated, payload), "subscription") {
			corrections++
		}
	}

	if telemetry.Business != nil {
		telemetry.Business.StuckEntities.WithLabelValues("subscription").Set(float64(stuck))
	}
	return corrections
}

func (r *Reconciler) reconcileInvoices(ctx context.Context) int {
	cutoff := time.Now().UTC().Add(-r.config.Staleness)
	stale, err := r.invoices.ListStaleInvoices(ctx, cutoff, r.config.BatchSize)
	if err != nil {
		r.logger.Error("stale invoice scan failed", "error", err)
		return 0
	}

	corrections, stuck := 0, 0
	for _, rec := range stale {
		snap, err := r.fetchInvoice(ctx, rec.ID)
		if err != nil {
			if errors.Is(err, billing.ErrNotFound) {
				r.logger.Warn("invoice unknown to provider", "invoice_id", rec.ID)
				continue
			}
			stuck++
			r.logger.Error("invoice fetch failed", "invoice_id", rec.ID, "error", err)
			continue
		}

		target, ok := invoiceEventForStatus(snap.Status)
		if !ok {
			// Draft invoices have nothing to correct toward.
			continue
		}
		if string(rec.Status) == snap.Status {
			continue
		}

		payload, err := json.Marshal(domain.InvoicePayload{
			ID:           snap.ID,
			Subscription: snap.Subscription,
			Status:       snap.Status,
			AmountPaid:   snap.AmountPaid,
			AmountDue:    snap.AmountDue,
			Currency:     snap.Currency,
		})
		if err != nil {
			r.logger.Error("marshal corrective payload failed", "invoice_id", rec.ID, "error", err)
			continue
		}

		if r.dispatchCorrection(ctx, correctionEvent(rec.ID, string(rec.Status), rec.Version, target, payload), "invoice") {
			corrections++
		}
	}

	if telemetry.Business != nil {
		telemetry.Business.StuckEntities.WithLabelValues("invoice").Set(float64(stuck))
	}
	return corrections
}

// correctionEvent builds a synthetic event. The deterministic ID means
// a correction the previous sweep already applied dedupes through the
// event store instead of re-running.
func correctionEvent(entityID, fromStatus string, version int64, typ domain.EventType, payload []byte) domain.Event {
	now := time.Now().UTC()
	return domain.Event{
		ID:                fmt.Sprintf("recon_%s_%s_v%d", entityID, fromStatus, version),
		Type:              typ,
		Payload:           payload,
		ProviderCreatedAt: now,
		ReceivedAt:        now,
	}
}

func (r *Reconciler) dispatchCorrection(ctx context.Context, ev domain.Event, entity string) bool {
	out := r.dispatcher.Dispatch(ctx, ev)
	switch out.Code {
	case dispatch.Processed:
		r.logger.Info("corrective event applied",
			"event_id", ev.ID, "type", ev.Type, "entity", entity)
		if telemetry.Business != nil {
			telemetry.Business.ReconcileCorrections.WithLabelValues(entity).Inc()
		}
		return true
	case dispatch.AlreadyHandled:
		return false
	default:
		r.logger.Warn("corrective event not applied",
			"event_id", ev.ID, "type", ev.Type, "entity", entity,
			"outcome", out.Code, "reason", out.Reason, "error", out.Err)
		return false
	}
}

func (r *Reconciler) fetchPayment(ctx context.Context, id string) (*billing.PaymentSnapshot, error) {
	var snap *billing.PaymentSnapshot
	err := r.fetchWithRetry(ctx, "fetch_payment", func(callCtx context.Context) error {
		var err error
		snap, err = r.provider.FetchPayment(callCtx, id)
		return err
	})
	return snap, err
}

func (r *Reconciler) fetchSubscription(ctx context.Context, id string) (*billing.SubscriptionSnapshot, error) {
	var snap *billing.SubscriptionSnapshot
	err := r.fetchWithRetry(ctx, "fetch_subscription", func(callCtx context.Context) error {
		var err error
		snap, err = r.provider.FetchSubscription(callCtx, id)
		return err
	})
	return snap, err
}

func (r *Reconciler) fetchInvoice(ctx context.Context, id string) (*billing.InvoiceSnapshot, error) {
	var snap *billing.InvoiceSnapshot
	err := r.fetchWithRetry(ctx, "fetch_invoice", func(callCtx context.Context) error {
		var err error
		snap, err = r.provider.FetchInvoice(callCtx, id)
		return err
	})
	return snap, err
}

// fetchWithRetry runs one provider call under the gateway timeout,
// retrying transient failures with exponential backoff.
func (r *Reconciler) fetchWithRetry(ctx context.Context, operation string, call func(context.Context) error) error {
	op := func() error {
		callCtx, cancel := context.WithTimeout(ctx, r.config.GatewayTimeout)
		defer cancel()

		started := time.Now()
		err := call(callCtx)
		if telemetry.Business != nil {
			telemetry.Business.GatewayLatency.WithLabelValues(operation).Observe(time.Since(started).Seconds())
		}
		if err == nil {
			return nil
		}
		if errors.Is(err, billing.ErrGatewayTimeout) || errors.Is(err, billing.ErrGatewayUnavailable) {
			return err
		}
		return backoff.Permanent(err)
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewExponentialBackOff(), r.config.MaxGatewayRetries), ctx)
	return backoff.Retry(op, policy)
}

// paymentEventForStatus maps a provider payment intent status onto the
// event type that asserts it.
func paymentEventForStatus(status string) (domain.EventType, bool) {
	switch status {
	case "requires_payment_method", "requires_confirmation":
		return domain.EventPaymentIntentCreated, true
	case "requires_action":
		return domain.EventPaymentIntentRequiresAction, true
	case "processing":
		return domain.EventPaymentIntentProcessing, true
	case "succeeded":
		return domain.EventPaymentIntentSucceeded, true
	case "canceled":
		return domain.EventPaymentIntentCanceled, true
	}
	return "", false
}

func statusOfPaymentEvent(typ domain.EventType) domain.PaymentStatus {
	switch typ {
	case domain.EventPaymentIntentCreated:
		return domain.PaymentCreated
	case domain.EventPaymentIntentRequiresAction:
		return domain.PaymentRequiresAction
	case domain.EventPaymentIntentProcessing:
		return domain.PaymentProcessing
	case domain.EventPaymentIntentSucceeded:
		return domain.PaymentSucceeded
	case domain.EventPaymentIntentCanceled:
		return domain.PaymentCanceled
	}
	return ""
}

// invoiceEventForStatus maps a provider invoice status onto the event
// type that asserts it. Draft has no corrective edge.
func invoiceEventForStatus(status string) (domain.EventType, bool) {
	switch status {
	case "open":
		return domain.EventInvoiceFinalized, true
	case "paid":
		return domain.EventInvoicePaid, true
	case "void":
		return domain.EventInvoiceVoided, true
	case "uncollectible":
		return domain.EventInvoiceUncollectible, true
	}
	return "", false
}
