package lifecycle

import (
	"time"

	"github.com/roadlabs/roadpay/internal/domain"
)

// paymentTransitions is the legal edge set for payment status changes.
// Skip-ahead edges are included on purpose: the provider may deliver a
// terminal notification without the intermediate ones, or deliver them
// out of order, and the terminal outcome is still correct to apply.
var paymentTransitions = map[domain.PaymentStatus]map[domain.PaymentStatus]bool{
	domain.PaymentCreated: {
		domain.PaymentRequiresAction: true,
		domain.PaymentProcessing:     true,
		domain.PaymentSucceeded:      true,
		domain.PaymentFailed:         true,
		domain.PaymentCanceled:       true,
	},
	domain.PaymentRequiresAction: {
		domain.PaymentProcessing: true,
		domain.PaymentSucceeded:  true,
		domain.PaymentFailed:     true,
		domain.PaymentCanceled:   true,
	},
	domain.PaymentProcessing: {
		domain.PaymentSucceeded: true,
		domain.PaymentFailed:    true,
		domain.PaymentCanceled:  true,
	},
}

// paymentEventStatus maps a payment event type onto the status it
// asserts.
var paymentEventStatus = map[domain.EventType]domain.PaymentStatus{
	domain.EventPaymentIntentCreated:        domain.PaymentCreated,
	domain.EventPaymentIntentRequiresAction: domain.PaymentRequiresAction,
	domain.EventPaymentIntentProcessing:     domain.PaymentProcessing,
	domain.EventPaymentIntentSucceeded:      domain.PaymentSucceeded,
	domain.EventPaymentIntentFailed:         domain.PaymentFailed,
	domain.EventPaymentIntentCanceled:       domain.PaymentCanceled,
}

// ApplyPayment decides what one payment event does to the current
// projection. Returns the next record plus owed effects, (nil, nil, nil)
// when the event is an idempotent re-assertion of current state, or a
// *Rejection when the event must not be applied.
//
// current is nil when no projection exists yet; any payment event may
// create one, since the first delivery we see is not necessarily
// payment_intent.created.
func ApplyPayment(current *domain.PaymentRecord, ev domain.Event, data domain.PaymentIntentPayload) (*domain.PaymentRecord, []Effect, error) {
	target, ok := paymentEventStatus[ev.Type]
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
		next := &domain.PaymentRecord{
			ID:          data.ID,
			Amount:      data.Amount,
			Currency:    data.Currency,
			Status:      target,
			LastEventID: ev.ID,
			LastEventAt: ev.ProviderCreatedAt,
			Version:     1,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		return next, paymentEffects(target, next), nil
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

	if !paymentTransitions[current.Status][target] {
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
	if data.Amount > 0 {
		next.Amount = data.Amount
	}
	if data.Currency != "" {
		next.Currency = data.Currency
	}
	next.LastEventID = ev.ID
	next.LastEventAt = ev.ProviderCreatedAt
	next.UpdatedAt = now

	return &next, paymentEffects(target, &next), nil
}

func paymentEffects(status domain.PaymentStatus, rec *domain.PaymentRecord) []Effect {
	data := map[string]string{
		"payment_id": rec.ID,
		"amount":     formatAmount(rec.Amount),
		"currency":   rec.Currency,
	}
	switch status {
	case domain.PaymentSucceeded:
		return []Effect{{Kind: "payment.succeeded", Entity: rec.ID, Data: data}}
	case domain.PaymentFailed:
		return []Effect{{Kind: "payment.failed", Entity: rec.ID, Data: data}}
	case domain.PaymentCanceled:
		return []Effect{{Kind: "payment.canceled", Entity: rec.ID, Data: data}}
	}
	return nil
}
