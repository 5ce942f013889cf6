package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/roadlabs/roadpay/internal/billing"
	"github.com/roadlabs/roadpay/internal/dispatch"
	"github.com/roadlabs/roadpay/internal/domain"
	"github.com/roadlabs/roadpay/internal/memory"
	"github.com/roadlabs/roadpay/internal/notify"
)

type env struct {
	provider *billing.MockProvider
	events   *memory.EventStore
	payments *memory.PaymentStore
	notifier *notify.MockNotifier
	handler  *StripeHandler
}

func newEnv(t *testing.T) *env {
	t.Helper()
	e := &env{
		provider: &billing.MockProvider{},
		events:   memory.NewEventStore(),
		payments: memory.NewPaymentStore(),
		notifier: &notify.MockNotifier{},
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	dispatcher := dispatch.New(
		e.events, e.payments,
		memory.NewSubscriptionStore(), memory.NewInvoiceStore(),
		e.notifier, logger)
	e.handler = NewStripeHandler(e.provider, dispatcher, logger)
	return e
}

// stripeEventBody builds the provider's event envelope.
func stripeEventBody(t *testing.T, id, eventType string, created time.Time, object any) []byte {
	t.Helper()
	raw, err := json.Marshal(object)
	if err != nil {
		t.Fatalf("marshal object: %v", err)
	}
	body, err := json.Marshal(map[string]any{
		"id":      id,
		"type":    eventType,
		"created": created.Unix(),
		"data":    map[string]any{"object": json.RawMessage(raw)},
	})
	if err != nil {
		t.Fatalf("marshal event: %v", err)
	}
	return body
}

func postWebhook(e *env, body []byte, signature string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/webhooks/stripe", bytes.NewReader(body))
	if signature != "" {
		req.Header.Set("Stripe-Signature", signature)
	}
	w := httptest.NewRecorder()
	e.handler.HandleWebhook(w, req)
	return w
}

func TestHandleWebhook_ProcessesValidEvent(t *testing.T) {
	e := newEnv(t)
	body := stripeEventBody(t, "evt_1", "payment_intent.succeeded", time.Now(),
		map[string]any{"id": "pi_1", "amount": 4200, "currency": "usd", "status": "succeeded"})

	w := postWebhook(e, body, "t=123,v1=valid")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}

	var resp map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp["received"] != true || resp["status"] != "processed" {
		t.Errorf("response = %v", resp)
	}

	rec, err := e.payments.GetPayment(context.Background(), "pi_1")
	if err != nil || rec == nil {
		t.Fatalf("payment record missing: %v", err)
	}
	if rec.Status != domain.PaymentSucceeded {
		t.Errorf("status = %s, want succeeded", rec.Status)
	}
}

func TestHandleWebhook_RedeliveryAcknowledged(t *testing.T) {
	e := newEnv(t)
	body := stripeEventBody(t, "evt_1", "payment_intent.succeeded", time.Now(),
		map[string]any{"id": "pi_1", "amount": 4200, "currency": "usd"})

	if w := postWebhook(e, body, "t=123,v1=valid"); w.Code != http.StatusOK {
		t.Fatalf("first delivery status = %d", w.Code)
	}
	w := postWebhook(e, body, "t=123,v1=valid")
	if w.Code != http.StatusOK {
		t.Fatalf("second delivery status = %d", w.Code)
	}

	var resp map[string]any
	_ = json.Unmarshal(w.Body.Bytes(), &resp)
	if resp["status"] != "already_handled" {
		t.Errorf("status = %v, want already_handled", resp["status"])
	}
	if kinds := e.notifier.Kinds(); len(kinds) != 1 {
		t.Errorf("published %d notifications, want 1", len(kinds))
	}
}

func TestHandleWebhook_MissingSignature(t *testing.T) {
	e := newEnv(t)
	body := stripeEventBody(t, "evt_1", "payment_intent.succeeded", time.Now(),
		map[string]any{"id": "pi_1"})

	w := postWebhook(e, body, "")
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
	if e.provider.VerifyCalls != 0 {
		t.Error("verification should not run without a signature header")
	}
}

func TestHandleWebhook_SignatureFailures(t *testing.T) {
	tests := []struct {
		name      string
		verifyErr error
	}{
		{name: "invalid signature", verifyErr: billing.ErrInvalidSignature},
		{name: "stale timestamp", verifyErr: billing.ErrStaleSignature},
		{name: "malformed header", verifyErr: billing.ErrMalformedHeader},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newEnv(t)
			e.provider.VerifyWebhookSignatureFn = func(payload []byte, sigHeader string) error {
				return tt.verifyErr
			}

			body := stripeEventBody(t, "evt_1", "payment_intent.succeeded", time.Now(),
				map[string]any{"id": "pi_1"})
			w := postWebhook(e, body, "t=123,v1=bogus")
			if w.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400", w.Code)
			}

			// Refused deliveries must leave no trace.
			stored, _ := e.events.GetEvent(context.Background(), "evt_1")
			if stored != nil {
				t.Error("refused event must not be stored")
			}
		})
	}
}

func TestHandleWebhook_MalformedEnvelope(t *testing.T) {
	tests := []struct {
		name string
		body []byte
	}{
		{name: "not json", body: []byte(`{not json`)},
		{name: "missing id", body: []byte(`{"type":"payment_intent.succeeded","created":123,"data":{"object":{}}}`)},
		{name: "missing type", body: []byte(`{"id":"evt_1","created":123,"data":{"object":{}}}`)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newEnv(t)
			w := postWebhook(e, tt.body, "t=123,v1=valid")
			if w.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400", w.Code)
			}
		})
	}
}

func TestHandleWebhook_RejectedEventStillAcknowledged(t *testing.T) {
	e := newEnv(t)
	base := time.Now().UTC()

	succeeded := stripeEventBody(t, "evt_2", "payment_intent.succeeded", base.Add(time.Minute),
		map[string]any{"id": "pi_1", "amount": 4200, "currency": "usd"})
	if w := postWebhook(e, succeeded, "t=123,v1=valid"); w.Code != http.StatusOK {
		t.Fatalf("succeeded delivery status = %d", w.Code)
	}

	// The provider never retries a 200, so a late event that loses to a
	// terminal state must still return 200.
	late := stripeEventBody(t, "evt_1", "payment_intent.processing", base,
		map[string]any{"id": "pi_1", "amount": 4200, "currency": "usd"})
	w := postWebhook(e, late, "t=123,v1=valid")
	if w.Code != http.StatusOK {
		t.Fatalf("late delivery status = %d, want 200", w.Code)
	}

	var resp map[string]any
	_ = json.Unmarshal(w.Body.Bytes(), &resp)
	if resp["status"] != "rejected" {
		t.Errorf("status = %v, want rejected", resp["status"])
	}
}

func TestHandleWebhook_UnknownTypeAcknowledged(t *testing.T) {
	e := newEnv(t)
	body := stripeEventBody(t, "evt_1", "customer.updated", time.Now(),
		map[string]any{"id": "cus_1"})

	w := postWebhook(e, body, "t=123,v1=valid")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}

	var resp map[string]any
	_ = json.Unmarshal(w.Body.Bytes(), &resp)
	if resp["status"] != "ignored" {
		t.Errorf("status = %v, want ignored", resp["status"])
	}

	stored, _ := e.events.GetEvent(context.Background(), "evt_1")
	if stored == nil {
		t.Error("ignored event should still be stored")
	}
}
