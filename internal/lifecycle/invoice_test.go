package lifecycle

import (
	"errors"
	"testing"
	"time"

	"github.com/roadlabs/roadpay/internal/domain"
)

func invEvent(id string, typ domain.EventType, created time.Time) domain.Event {
	return domain.Event{
		ID:                id,
		Type:              typ,
		ProviderCreatedAt: created,
		ReceivedAt:        created,
	}
}

func TestApplyInvoice_DraftThroughPaid(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	data := domain.InvoicePayload{
		ID:           "in_1",
		Subscription: "sub_1",
		AmountDue:    1500,
		Currency:     "usd",
	}

	rec, effects, err := ApplyInvoice(nil, invEvent("evt_1", domain.EventInvoiceCreated, base), data)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if rec.Status != domain.InvoiceDraft {
		t.Fatalf("status = %s, want draft", rec.Status)
	}
	if len(effects) != 0 {
		t.Fatalf("draft owes no effects, got %+v", effects)
	}

	rec2, _, err := ApplyInvoice(rec, invEvent("evt_2", domain.EventInvoiceFinalized, base.Add(time.Minute)), data)
	if err != nil {
		t.Fatalf("finalize: %v", err)
	}
	if rec2.Status != domain.InvoiceOpen {
		t.Fatalf("status = %s, want open", rec2.Status)
	}

	paidData := data
	paidData.AmountPaid = 1500
	paidData.CustomerEmail = "dev@example.com"
	rec3, effects, err := ApplyInvoice(rec2, invEvent("evt_3", domain.EventInvoicePaid, base.Add(2*time.Minute)), paidData)
	if err != nil {
		t.Fatalf("pay: %v", err)
	}
	if rec3.Status != domain.InvoicePaid {
		t.Fatalf("status = %s, want paid", rec3.Status)
	}
	if rec3.AmountPaid != 1500 {
		t.Errorf("amount paid = %d, want 1500", rec3.AmountPaid)
	}
	if len(effects) != 1 || effects[0].Kind != "invoice.receipt" {
		t.Fatalf("expected receipt effect, got %+v", effects)
	}
	if effects[0].Data["customer_email"] != "dev@example.com" {
		t.Errorf("effect should carry customer email, got %+v", effects[0].Data)
	}
}

func TestApplyInvoice_PaymentFailedKeepsOpenAndDuns(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	current := &domain.InvoiceRecord{
		ID:          "in_1",
		Status:      domain.InvoiceOpen,
		AmountDue:   1500,
		Currency:    "usd",
		LastEventID: "evt_2",
		LastEventAt: base,
		Version:     2,
	}

	ev := invEvent("evt_3", domain.EventInvoicePaymentFailed, base.Add(time.Minute))
	next, effects, err := ApplyInvoice(current, ev, domain.InvoicePayload{ID: "in_1", AmountDue: 1500})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if next == nil {
		t.Fatal("failed attempt should stamp the record")
	}
	if next.Status != domain.InvoiceOpen {
		t.Errorf("status = %s, want open", next.Status)
	}
	if len(effects) != 1 || effects[0].Kind != "invoice.payment_failed" {
		t.Fatalf("expected dunning effect, got %+v", effects)
	}
}

func TestApplyInvoice_Rejections(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name       string
		from       domain.InvoiceStatus
		eventType  domain.EventType
		eventAt    time.Time
		wantReason RejectionReason
	}{
		{
			name:       "paid is final",
			from:       domain.InvoicePaid,
			eventType:  domain.EventInvoiceVoided,
			eventAt:    base.Add(time.Minute),
			wantReason: ReasonAlreadyFinal,
		},
		{
			name:       "void is final",
			from:       domain.InvoiceVoid,
			eventType:  domain.EventInvoicePaid,
			eventAt:    base.Add(time.Minute),
			wantReason: ReasonAlreadyFinal,
		},
		{
			name:       "draft cannot be paid before finalizing",
			from:       domain.InvoiceDraft,
			eventType:  domain.EventInvoicePaid,
			eventAt:    base.Add(time.Minute),
			wantReason: ReasonIllegalTransition,
		},
		{
			name:       "stale created event after finalize",
			from:       domain.InvoiceOpen,
			eventType:  domain.EventInvoiceCreated,
			eventAt:    base.Add(-time.Minute),
			wantReason: ReasonSuperseded,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			current := &domain.InvoiceRecord{
				ID:          "in_1",
				Status:      tt.from,
				LastEventID: "evt_0",
				LastEventAt: base,
				Version:     2,
			}

			_, _, err := ApplyInvoice(current, invEvent("evt_x", tt.eventType, tt.eventAt), domain.InvoicePayload{ID: "in_1"})

			var rej *Rejection
			if !errors.As(err, &rej) {
				t.Fatalf("expected rejection, got %v", err)
			}
			if rej.Reason != tt.wantReason {
				t.Errorf("reason = %s, want %s", rej.Reason, tt.wantReason)
			}
		})
	}
}

func TestApplyInvoice_UncollectibleAlerts(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	current := &domain.InvoiceRecord{
		ID:          "in_1",
		Status:      domain.InvoiceOpen,
		AmountDue:   9900,
		Currency:    "usd",
		LastEventAt: base,
		Version:     2,
	}

	ev := invEvent("evt_4", domain.EventInvoiceUncollectible, base.Add(time.Hour))
	next, effects, err := ApplyInvoice(current, ev, domain.InvoicePayload{ID: "in_1", AmountDue: 9900})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if next.Status != domain.InvoiceUncollectible {
		t.Errorf("status = %s, want uncollectible", next.Status)
	}
	if len(effects) != 1 || effects[0].Kind != "invoice.uncollectible" {
		t.Fatalf("expected uncollectible alert, got %+v", effects)
	}
}
