package billing

import (
	"context"
	"errors"
	"time"

	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/invoice"
	"github.com/stripe/stripe-go/v82/paymentintent"
	"github.com/stripe/stripe-go/v82/subscription"
	"github.com/stripe/stripe-go/v82/webhook"
)

// DefaultSignatureTolerance is the window a signed timestamp may drift
// from server time before the delivery is refused as a replay.
const DefaultSignatureTolerance = 5 * time.Minute

// StripeConfig configures the Stripe provider.
type StripeConfig struct {
	// APIKey is the secret API key for outbound calls.
	APIKey string

	// WebhookSecret is the endpoint signing secret (whsec_...).
	WebhookSecret string

	// SignatureTolerance bounds signed-timestamp drift. Zero means
	// DefaultSignatureTolerance.
	SignatureTolerance time.Duration
}

// StripeProvider implements Provider against the Stripe API.
type StripeProvider struct {
	webhookSecret string
	tolerance     time.Duration
}

// NewStripeProvider creates a Stripe billing provider and installs the
// API key for the SDK's package-level clients.
func NewStripeProvider(cfg StripeConfig) *StripeProvider {
	stripe.Key = cfg.APIKey

	tolerance := cfg.SignatureTolerance
	if tolerance <= 0 {
		tolerance = DefaultSignatureTolerance
	}

	return &StripeProvider{
		webhookSecret: cfg.WebhookSecret,
		tolerance:     tolerance,
	}
}

// VerifyWebhookSignature validates the Stripe-Signature header against
// the raw body. The SDK computes HMAC-SHA256 over "<timestamp>.<body>"
// and compares candidates in constant time; this method only translates
// its failures into the package taxonomy.
func (s *StripeProvider) VerifyWebhookSignature(payload []byte, sigHeader string) error {
	err := webhook.ValidatePayloadWithTolerance(payload, sigHeader, s.webhookSecret, s.tolerance)
	if err == nil {
		return nil
	}

	switch {
	case errors.Is(err, webhook.ErrNotSigned), errors.Is(err, webhook.ErrInvalidHeader):
		return ErrMalformedHeader
	case errors.Is(err, webhook.ErrTooOld):
		return ErrStaleSignature
	default:
		return ErrInvalidSignature
	}
}

// FetchPayment returns Stripe's current view of a payment intent.
func (s *StripeProvider) FetchPayment(ctx context.Context, id string) (*PaymentSnapshot, error) {
	params := &stripe.PaymentIntentParams{
		Params: stripe.Params{Context: ctx},
	}

	pi, err := paymentintent.Get(id, params)
	if err != nil {
		return nil, translateStripeError(ctx, err)
	}

	return &PaymentSnapshot{
		ID:       pi.ID,
		Amount:   pi.Amount,
		Currency: string(pi.Currency),
		Status:   string(pi.Status),
		Created:  time.Unix(pi.Created, 0).UTC(),
	}, nil
}

// FetchSubscription returns Stripe's current view of a subscription.
func (s *StripeProvider) FetchSubscription(ctx context.Context, id string) (*SubscriptionSnapshot, error) {
	params := &stripe.SubscriptionParams{
		Params: stripe.Params{Context: ctx},
	}

	sub, err := subscription.Get(id, params)
	if err != nil {
		return nil, translateStripeError(ctx, err)
	}

	snap := &SubscriptionSnapshot{
		ID:      sub.ID,
		Status:  string(sub.Status),
		Created: time.Unix(sub.Created, 0).UTC(),
	}
	if sub.Customer != nil {
		snap.Customer = sub.Customer.ID
	}
	// The billing period lives on the subscription items.
	if sub.Items != nil && len(sub.Items.Data) > 0 {
		snap.CurrentPeriodEnd = time.Unix(sub.Items.Data[0].CurrentPeriodEnd, 0).UTC()
	}

	return snap, nil
}

// FetchInvoice returns Stripe's current view of an invoice.
func (s *StripeProvider) FetchInvoice(ctx context.Context, id string) (*InvoiceSnapshot, error) {
	params := &stripe.InvoiceParams{
		Params: stripe.Params{Context: ctx},
	}

	inv, err := invoice.Get(id, params)
	if err != nil {
		return nil, translateStripeError(ctx, err)
	}

	snap := &InvoiceSnapshot{
		ID:         inv.ID,
		Status:     string(inv.Status),
		AmountDue:  inv.AmountDue,
		AmountPaid: inv.AmountPaid,
		Currency:   string(inv.Currency),
		Created:    time.Unix(inv.Created, 0).UTC(),
	}
	if inv.Parent != nil && inv.Parent.SubscriptionDetails != nil &&
		inv.Parent.SubscriptionDetails.Subscription != nil {
		snap.Subscription = inv.Parent.SubscriptionDetails.Subscription.ID
	}

	return snap, nil
}

// translateStripeError maps SDK failures into the package taxonomy so
// callers can decide between retry, give-up, and not-found without
// knowing Stripe error codes.
func translateStripeError(ctx context.Context, err error) error {
	if ctx.Err() != nil || errors.Is(err, context.DeadlineExceeded) {
		return ErrGatewayTimeout
	}

	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) {
		if stripeErr.Code == stripe.ErrorCodeResourceMissing {
			return ErrNotFound
		}
		wrapped := &StripeError{
			Message:       stripeErr.Msg,
			Code:          string(stripeErr.Code),
			HTTPStatus:    stripeErr.HTTPStatusCode,
			RequestID:     stripeErr.RequestID,
			OriginalError: err,
		}
		if wrapped.IsTemporary() {
			return errors.Join(ErrGatewayUnavailable, wrapped)
		}
		return wrapped
	}

	return errors.Join(ErrGatewayUnavailable, err)
}
