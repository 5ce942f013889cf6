package billing

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidSignature is returned when no candidate signature in the
	// header matches the expected HMAC.
	ErrInvalidSignature = errors.New("billing: invalid webhook signature")

	// ErrStaleSignature is returned when the signed timestamp falls
	// outside the configured tolerance window.
	ErrStaleSignature = errors.New("billing: webhook signature timestamp outside tolerance")

	// ErrMalformedHeader is returned when the signature header is absent
	// or does not parse.
	ErrMalformedHeader = errors.New("billing: malformed webhook signature header")

	// ErrNotFound is returned when the provider has no record of the
	// requested entity.
	ErrNotFound = errors.New("billing: entity not found")

	// ErrGatewayTimeout is returned when a provider call exceeds its
	// deadline.
	ErrGatewayTimeout = errors.New("billing: gateway request timed out")

	// ErrGatewayUnavailable is returned on transient provider failures.
	// Safe to retry with backoff.
	ErrGatewayUnavailable = errors.New("billing: gateway unavailable")
)

// StripeError wraps a Stripe API error with additional context.
type StripeError struct {
	Message       string // Human-readable error message
	Code          string // Stripe error code (e.g., "resource_missing")
	HTTPStatus    int    // HTTP status code from Stripe
	RequestID     string // Stripe request ID for debugging
	OriginalError error  // Original error from Stripe SDK
}

func (e *StripeError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("stripe: %s (code: %s)", e.Message, e.Code)
	}
	return fmt.Sprintf("stripe: %s", e.Message)
}

func (e *StripeError) Unwrap() error {
	return e.OriginalError
}

// IsTemporary returns true if error is likely transient and retryable.
func (e *StripeError) IsTemporary() bool {
	return e.Code == "rate_limit" || e.Code == "api_connection_error" ||
		e.HTTPStatus >= 500
}
