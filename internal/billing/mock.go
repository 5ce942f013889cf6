package billing

import "context"

// MockProvider implements Provider for tests. Each method delegates to
// the corresponding func field when set; unset methods succeed with
// zero values so tests only wire what they assert on.
type MockProvider struct {
	VerifyWebhookSignatureFn func(payload []byte, sigHeader string) error
	FetchPaymentFn           func(ctx context.Context, id string) (*PaymentSnapshot, error)
	FetchSubscriptionFn      func(ctx context.Context, id string) (*SubscriptionSnapshot, error)
	FetchInvoiceFn           func(ctx context.Context, id string) (*InvoiceSnapshot, error)

	// Call counters for assertion convenience.
	VerifyCalls            int
	FetchPaymentCalls      int
	FetchSubscriptionCalls int
	FetchInvoiceCalls      int
}

var _ Provider = (*MockProvider)(nil)

func (m *MockProvider) VerifyWebhookSignature(payload []byte, sigHeader string) error {
	m.VerifyCalls++
	if m.VerifyWebhookSignatureFn != nil {
		return m.VerifyWebhookSignatureFn(payload, sigHeader)
	}
	return nil
}

func (m *MockProvider) FetchPayment(ctx context.Context, id string) (*PaymentSnapshot, error) {
	m.FetchPaymentCalls++
	if m.FetchPaymentFn != nil {
		return m.FetchPaymentFn(ctx, id)
	}
	return nil, ErrNotFound
}

func (m *MockProvider) FetchSubscription(ctx context.Context, id string) (*SubscriptionSnapshot, error) {
	m.FetchSubscriptionCalls++
	if m.FetchSubscriptionFn != nil {
		return m.FetchSubscriptionFn(ctx, id)
	}
	return nil, ErrNotFound
}

func (m *MockProvider) FetchInvoice(ctx context.Context, id string) (*InvoiceSnapshot, error) {
	m.FetchInvoiceCalls++
	if m.FetchInvoiceFn != nil {
		return m.FetchInvoiceFn(ctx, id)
	}
	return nil, ErrNotFound
}
