package lifecycle

import (
	"time"

	"github.com/roadlabs/roadpay/internal/domain"
)

// invoiceTransitions is the legal edge set for invoice status changes.
// Paid, void, and uncollectible are terminal.
var invoiceTransitions = map[domain.InvoiceStatus]map[domain.InvoiceStatus]bool{
	domain.InvoiceDraft: {
		domain.InvoiceOpen: true,
		domain.InvoiceVoid: true,
	},
	domain.InvoiceOpen: {
		domain.InvoicePaid:          true,
		domain.InvoiceVoid:          true,
		domain.InvoiceUncollectible: true,
	},
}

// invoiceEventStatus maps an invoice event type onto the status it
// asserts. invoice.payment_failed keeps the invoice open; the event
// matters for its dunning effect, not for a status change.
var invoiceEventStatus = map[domain.EventType]domain.InvoiceStatus{
	domain.EventInvoiceCreated:       domain.InvoiceDraft,
	domain.EventInvoiceFinalized:     domain.InvoiceOpen,
	domain.EventInvoicePaid:          domain.InvoicePaid,
	domain.EventInvoicePaymentFailed: domain.InvoiceOpen,
	domain.EventInvoiceVoided:        domain.InvoiceVoid,
	domain.EventInvoiceUncollectible: domain.InvoiceUncollectible,
}

// ApplyInvoice decides what one invoice event does to the current
// projection.
func ApplyInvoice(current *domain.InvoiceRecord, ev domain.Event, data domain.InvoicePayload) (*domain.InvoiceRecord, []Effect, error) {
	target, ok := invoiceEventStatus[ev.Type]
	if !ok {
		return nil, nil, &Rejection{
			Reason:  ReasonUnknownStatus,
			Entity:  data.ID,
			To:      string(ev.Type),
			EventID: ev.ID,
		}
	}

	now := time.Now().UTC()

	if current == nil {
		next := &domain.InvoiceRecord{
			ID:             data.ID,
			SubscriptionID: data.Subscription,
			Status:         target,
			AmountDue:      data.AmountDue,
			AmountPaid:     data.AmountPaid,
			Currency:       data.Currency,
			LastEventID:    ev.ID,
			LastEventAt:    ev.ProviderCreatedAt,
			Version:        1,
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		return next, invoiceEffects(ev.Type, next, data), nil
	}

	if current.Status.Terminal() {
		if current.Status == target {
			return nil, nil, nil
		}
		return nil, nil, &Rejection{
			Reason:  ReasonAlreadyFinal,
			Entity:  current.ID,
			From:    string(current.Status),
			To:      string(target),
			EventID: ev.ID,
		}
	}

	if current.Status == target {
		// A failed payment attempt on an open invoice is still a dunning
		// trigger even though the status does not move.
		if ev.Type == domain.EventInvoicePaymentFailed &&
			!ev.ProviderCreatedAt.Before(current.LastEventAt) {
			next := *current
			next.LastEventID = ev.ID
			next.LastEventAt = ev.ProviderCreatedAt
			next.UpdatedAt = now
			return &next, invoiceEffects(ev.Type, &next, data), nil
		}
		return nil, nil, nil
	}

	if ev.ProviderCreatedAt.Before(current.LastEventAt) {
		return nil, nil, &Rejection{
			Reason:  ReasonSuperseded,
			Entity:  current.ID,
			From:    string(current.Status),
			To:      string(target),
			EventID: ev.ID,
		}
	}

	if !invoiceTransitions[current.Status][target] {
		return nil, nil, &Rejection{
			Reason:  ReasonIllegalTransition,
			Entity:  current.ID,
			From:    string(current.Status),
			To:      string(target),
			EventID: ev.ID,
		}
	}

	next := *current
	next.Status = target
	if data.AmountDue > 0 {
		next.AmountDue = data.AmountDue
	}
	next.AmountPaid = data.AmountPaid
	if data.Currency != "" {
		next.Currency = data.Currency
	}
	if data.Subscription != "" {
		next.SubscriptionID = data.Subscription
	}
	next.LastEventID = ev.ID
	next.LastEventAt = ev.ProviderCreatedAt
	next.UpdatedAt = now

	return &next, invoiceEffects(ev.Type, &next, data), nil
}

func invoiceEffects(evType domain.EventType, rec *domain.InvoiceRecord, data domain.InvoicePayload) []Effect {
	base := map[string]string{
		"invoice_id":      rec.ID,
		"subscription_id": rec.SubscriptionID,
		"amount_due":      formatAmount(rec.AmountDue),
		"amount_paid":     formatAmount(rec.AmountPaid),
		"currency":        rec.Currency,
	}
	if data.CustomerEmail != "" {
		base["customer_email"] = data.CustomerEmail
	}
	switch evType {
	case domain.EventInvoicePaid:
		return []Effect{{Kind: "invoice.receipt", Entity: rec.ID, Data: base}}
	case domain.EventInvoicePaymentFailed:
		return []Effect{{Kind: "invoice.payment_failed", Entity: rec.ID, Data: base}}
	case domain.EventInvoiceUncollectible:
		return []Effect{{Kind: "invoice.uncollectible", Entity: rec.ID, Data: base}}
	}
	return nil
}
