// Package lifecycle holds the pure transition logic for payment,
// subscription, and invoice projections. Functions here never touch
// storage; they take the current record plus one event and report
// whether the event applies, is a no-op, or must be rejected.
//
// Ordering safety comes from transition legality, not arrival order: a
// late or duplicated delivery is rejected or no-oped by the rules below
// rather than clobbering newer state.
package lifecycle

import (
	"fmt"
	"strconv"
)

// RejectionReason classifies why an event could not be applied.
type RejectionReason string

const (
	// ReasonAlreadyFinal means the entity is in a terminal status and
	// can never transition again.
	ReasonAlreadyFinal RejectionReason = "already_final"

	// ReasonSuperseded means a newer event already moved the entity past
	// the state this event describes.
	ReasonSuperseded RejectionReason = "superseded_by_newer_event"

	// ReasonIllegalTransition means the requested status change has no
	// edge in the transition table.
	ReasonIllegalTransition RejectionReason = "illegal_transition"

	// ReasonUnknownStatus means the payload carried a status the state
	// machine does not model.
	ReasonUnknownStatus RejectionReason = "unknown_status"
)

// Rejection is returned when an event must not be applied. It is an
// error so callers can propagate it, but a rejection is an expected
// outcome, not a failure: the caller acks the event and records why.
type Rejection struct {
	Reason  RejectionReason
	Entity  string
	From    string
	To      string
	EventID string
}

func (r *Rejection) Error() string {
	return fmt.Sprintf("event %s rejected for %s (%s): %s -> %s",
		r.EventID, r.Entity, r.Reason, r.From, r.To)
}

// Effect is a side effect owed after a transition commits. Effects are
// descriptions only; the dispatcher hands them to the notifier after
// the new state is durable.
type Effect struct {
	// Kind names the notification, e.g. "payment.succeeded".
	Kind string

	// Entity is the provider ID of the record that transitioned.
	Entity string

	// Data carries the small set of fields downstream consumers need.
	Data map[string]string
}

// formatAmount renders a minor-unit amount for notification payloads.
func formatAmount(amount int64) string {
	return strconv.FormatInt(amount, 10)
}
