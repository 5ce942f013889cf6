package lifecycle

import (
	"time"

	"github.com/roadlabs/roadpay/internal/domain"
)

// subscriptionTransitions is the legal edge set for subscription status
// changes. Recovery from past_due back to active is legal; recovery out
// of a terminal status is not.
var subscriptionTransitions = map[domain.SubscriptionStatus]map[domain.SubscriptionStatus]bool{
	domain.SubscriptionIncomplete: {
		domain.SubscriptionTrialing: true,
		domain.SubscriptionActive:   true,
		domain.SubscriptionCanceled: true,
	},
	domain.SubscriptionTrialing: {
		domain.SubscriptionActive:   true,
		domain.SubscriptionPastDue:  true,
		domain.SubscriptionCanceled: true,
		domain.SubscriptionUnpaid:   true,
	},
	domain.SubscriptionActive: {
		domain.SubscriptionPastDue:  true,
		domain.SubscriptionCanceled: true,
		domain.SubscriptionUnpaid:   true,
	},
	domain.SubscriptionPastDue: {
		domain.SubscriptionActive:   true,
		domain.SubscriptionCanceled: true,
		domain.SubscriptionUnpaid:   true,
	},
}

// ApplySubscription decides what one subscription event does to the
// current projection. The target status comes from the payload for
// created/updated events; customer.subscription.deleted always asserts
// canceled regardless of the payload status field.
func ApplySubscription(current *domain.SubscriptionRecord, ev domain.Event, data domain.SubscriptionPayload) (*domain.SubscriptionRecord, []Effect, error) {
	var target domain.SubscriptionStatus
	if ev.Type == domain.EventSubscriptionDeleted {
		target = domain.SubscriptionCanceled
	} else {
		parsed, ok := domain.ParseSubscriptionStatus(data.Status)
		if !ok {
			return nil, nil, &Rejection{
				Reason:  ReasonUnknownStatus,
				Entity:  data.ID,
				To:      data.Status,
				EventID: ev.ID,
			}
		}
		target = parsed
	}

	now := time.Now().UTC()
	periodEnd := time.Unix(data.CurrentPeriodEnd, 0).UTC()

	if current == nil {
		next := &domain.SubscriptionRecord{
			ID:               data.ID,
			CustomerID:       data.Customer,
			Status:           target,
			CurrentPeriodEnd: periodEnd,
			LastEventID:      ev.ID,
			LastEventAt:      ev.ProviderCreatedAt,
			Version:          1,
			CreatedAt:        now,
			UpdatedAt:        now,
		}
		return next, subscriptionEffects(target, next), nil
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
		// Same status, but updated events still carry billing-period
		// rollovers worth persisting.
		if data.CurrentPeriodEnd > 0 && !periodEnd.Equal(current.CurrentPeriodEnd) &&
			!ev.ProviderCreatedAt.Before(current.LastEventAt) {
			next := *current
			next.CurrentPeriodEnd = periodEnd
			next.LastEventID = ev.ID
			next.LastEventAt = ev.ProviderCreatedAt
			next.UpdatedAt = now
			return &next, nil, nil
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

	if !subscriptionTransitions[current.Status][target] {
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
	if data.Customer != "" {
		next.CustomerID = data.Customer
	}
	if data.CurrentPeriodEnd > 0 {
		next.CurrentPeriodEnd = periodEnd
	}
	next.LastEventID = ev.ID
	next.LastEventAt = ev.ProviderCreatedAt
	next.UpdatedAt = now

	return &next, subscriptionEffects(target, &next), nil
}

func subscriptionEffects(status domain.SubscriptionStatus, rec *domain.SubscriptionRecord) []Effect {
	data := map[string]string{
		"subscription_id": rec.ID,
		"customer_id":     rec.CustomerID,
		"status":          string(rec.Status),
	}
	switch status {
	case domain.SubscriptionTrialing:
		return []Effect{{Kind: "subscription.trial_started", Entity: rec.ID, Data: data}}
	case domain.SubscriptionActive:
		return []Effect{{Kind: "subscription.activated", Entity: rec.ID, Data: data}}
	case domain.SubscriptionPastDue:
		return []Effect{{Kind: "subscription.past_due", Entity: rec.ID, Data: data}}
	case domain.SubscriptionCanceled:
		return []Effect{{Kind: "subscription.canceled", Entity: rec.ID, Data: data}}
	case domain.SubscriptionUnpaid:
		return []Effect{{Kind: "subscription.unpaid", Entity: rec.ID, Data: data}}
	}
	return nil
}
