package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// BusinessMetrics holds Prometheus metrics for business-level observability
// of the webhook pipeline and reconciliation loop.
type BusinessMetrics struct {
	// Webhook pipeline
	WebhookReceived  *prometheus.CounterVec
	WebhookProcessed *prometheus.CounterVec
	WebhookDuplicate *prometheus.CounterVec
	WebhookRejected  *prometheus.CounterVec
	WebhookIgnored   *prometheus.CounterVec
	WebhookFailed    *prometheus.CounterVec
	WebhookLatency   *prometheus.HistogramVec

	// State machine
	TransitionsApplied *prometheus.CounterVec
	VersionConflicts   *prometheus.CounterVec

	// Reconciliation
	ReconcileRuns        prometheus.Counter
	ReconcileCorrections *prometheus.CounterVec
	ReconcileRedispatch  prometheus.Counter
	StuckEntities        *prometheus.GaugeVec

	// Notifications
	NotificationsPublished *prometheus.CounterVec
	NotificationsFailed    *prometheus.CounterVec

	// External API performance
	GatewayLatency *prometheus.HistogramVec
}

// NewBusinessMetrics creates and registers all business metrics
func NewBusinessMetrics(namespace string) *BusinessMetrics {
	if namespace == "" {
		namespace = "roadpay"
	}

	subsystem := "business"

	m := &BusinessMetrics{
		WebhookReceived: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "webhooks_received_total",
				Help:      "Total webhook deliveries that passed signature verification",
			},
			[]string{"event_type"},
		),
		WebhookProcessed: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "webhooks_processed_total",
				Help:      "Total webhook events fully processed",
			},
			[]string{"event_type"},
		),
		WebhookDuplicate: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "webhooks_duplicate_total",
				Help:      "Total webhook deliveries deduplicated by event ID",
			},
			[]string{"event_type"},
		),
		WebhookRejected: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "webhooks_rejected_total",
				Help:      "Total webhook events rejected by transition rules",
			},
			[]string{"event_type", "reason"}, // reason: already_final, superseded_by_newer_event, illegal_transition
		),
		WebhookIgnored: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "webhooks_ignored_total",
				Help:      "Total webhook events of unhandled types acknowledged as no-ops",
			},
			[]string{"event_type"},
		),
		WebhookFailed: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "webhooks_failed_total",
				Help:      "Total webhook events that failed processing",
			},
			[]string{"event_type", "stage"}, // stage: insert, apply, persist, mark
		),
		WebhookLatency: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "webhook_duration_seconds",
				Help:      "End-to-end webhook handling duration",
				Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
			},
			[]string{"event_type", "outcome"},
		),
		TransitionsApplied: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "transitions_applied_total",
				Help:      "Total entity state transitions committed",
			},
			[]string{"entity", "to_status"},
		),
		VersionConflicts: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "version_conflicts_total",
				Help:      "Total optimistic-concurrency conflicts during persistence",
			},
			[]string{"entity"},
		),
		ReconcileRuns: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "reconcile_runs_total",
				Help:      "Total reconciliation sweeps started",
			},
		),
		ReconcileCorrections: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "reconcile_corrections_total",
				Help:      "Total corrective events synthesized from gateway state",
			},
			[]string{"entity"},
		),
		ReconcileRedispatch: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "reconcile_redispatch_total",
				Help:      "Total stored events re-dispatched after incomplete processing",
			},
		),
		StuckEntities: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "stuck_entities",
				Help:      "Entities the last sweep could not reconcile with the gateway",
			},
			[]string{"entity"},
		),
		NotificationsPublished: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "notifications_published_total",
				Help:      "Total side-effect notifications published",
			},
			[]string{"kind"},
		),
		NotificationsFailed: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "notifications_failed_total",
				Help:      "Total side-effect notification publish failures",
			},
			[]string{"kind"},
		),
		GatewayLatency: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "gateway_duration_seconds",
				Help:      "Provider API call duration (helps differentiate app slowness from provider issues)",
				Buckets:   []float64{.1, .25, .5, 1, 2.5, 5, 10, 30},
			},
			[]string{"operation"}, // operation: fetch_payment, fetch_subscription, fetch_invoice
		),
	}

	return m
}

// Global instance for easy access from handlers
var Business *BusinessMetrics

// InitBusinessMetrics initializes the global business metrics instance
func InitBusinessMetrics(namespace string) *BusinessMetrics {
	Business = NewBusinessMetrics(namespace)
	return Business
}
