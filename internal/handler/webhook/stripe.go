// Package webhook receives provider webhook deliveries over HTTP and
// feeds them into the dispatch pipeline.
package webhook

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/stripe/stripe-go/v82"

	"github.com/roadlabs/roadpay/internal/billing"
	"github.com/roadlabs/roadpay/internal/dispatch"
	"github.com/roadlabs/roadpay/internal/domain"
	"github.com/roadlabs/roadpay/internal/handler"
	"github.com/roadlabs/roadpay/internal/telemetry"
)

// StripeHandler handles Stripe webhook deliveries.
type StripeHandler struct {
	provider   billing.Provider
	dispatcher *dispatch.Dispatcher
	logger     *slog.Logger
}

// NewStripeHandler creates a Stripe webhook handler.
func NewStripeHandler(provider billing.Provider, dispatcher *dispatch.Dispatcher, logger *slog.Logger) *StripeHandler {
	return &StripeHandler{
		provider:   provider,
		dispatcher: dispatcher,
		logger:     logger,
	}
}

// HandleWebhook processes one incoming Stripe webhook delivery.
//
// Status codes steer the provider's retry behavior: 2xx acknowledges
// the delivery, 4xx refuses it permanently, 5xx asks for a retry. Once
// an event is durably stored, the response is 200 even if processing
// hit trouble, because reconciliation owns recovery from that point and
// a provider retry would just dedupe.
//
// Stripe CLI testing:
//
//	stripe listen --forward-to localhost:8080/webhooks/stripe
//	stripe trigger payment_intent.succeeded
func (h *StripeHandler) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now()

	payload, err := io.ReadAll(r.Body)
	if err != nil {
		handler.ErrorResponse(w, r, domain.Errorf(domain.EINVALID, "webhook.read", "Error reading request body"))
		return
	}

	signature := r.Header.Get("Stripe-Signature")
	if signature == "" {
		h.logger.Warn("webhook missing signature header")
		handler.ErrorResponse(w, r, domain.Errorf(domain.EINVALID, "webhook.verify", "Missing signature"))
		return
	}

	if err := h.provider.VerifyWebhookSignature(payload, signature); err != nil {
		h.logger.Warn("webhook signature verification failed", "error", err)
		handler.ErrorResponse(w, r, domain.Errorf(domain.EINVALID, "webhook.verify", "Invalid signature"))
		return
	}

	var event stripe.Event
	if err := json.Unmarshal(payload, &event); err != nil {
		handler.ErrorResponse(w, r, domain.Errorf(domain.EINVALID, "webhook.parse", "Invalid JSON"))
		return
	}
	if event.ID == "" || event.Type == "" {
		handler.ErrorResponse(w, r, domain.Errorf(domain.EINVALID, "webhook.parse", "Event id and type are required"))
		return
	}

	if telemetry.Business != nil {
		telemetry.Business.WebhookReceived.WithLabelValues(string(event.Type)).Inc()
	}

	ev := domain.Event{
		ID:                event.ID,
		Type:              domain.EventType(event.Type),
		Payload:           json.RawMessage(event.Data.Raw),
		ProviderCreatedAt: time.Unix(event.Created, 0).UTC(),
		ReceivedAt:        time.Now().UTC(),
	}

	outcome := h.dispatcher.Dispatch(r.Context(), ev)

	if telemetry.Business != nil {
		duration := time.Since(startTime).Seconds()
		telemetry.Business.WebhookLatency.WithLabelValues(string(event.Type), string(outcome.Code)).Observe(duration)
		if outcome.Code == dispatch.Processed {
			telemetry.Business.WebhookProcessed.WithLabelValues(string(event.Type)).Inc()
		}
	}

	// Not stored yet, so a provider retry is the recovery path.
	if !outcome.Committed {
		h.logger.Error("webhook processing failed before commit",
			"event_id", event.ID, "type", event.Type, "error", outcome.Err)
		handler.ErrorResponse(w, r, domain.Internal(outcome.Err, "webhook.dispatch", "Failed to store event"))
		return
	}

	handler.JSON(w, http.StatusOK, map[string]any{
		"received": true,
		"status":   string(outcome.Code),
	})
}
