package billing

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"testing"
	"time"
)

const testWebhookSecret = "whsec_test_secret"

// signPayload builds a Stripe-Signature header for payload signed at ts.
func signPayload(payload []byte, secret string, ts time.Time) string {
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%d.%s", ts.Unix(), payload)
	return fmt.Sprintf("t=%d,v1=%s", ts.Unix(), hex.EncodeToString(mac.Sum(nil)))
}

func TestVerifyWebhookSignature(t *testing.T) {
	payload := []byte(`{"id":"evt_1","type":"payment_intent.succeeded"}`)
	provider := NewStripeProvider(StripeConfig{
		WebhookSecret: testWebhookSecret,
	})

	tests := []struct {
		name    string
		payload []byte
		header  string
		wantErr error
	}{
		{
			name:    "valid signature",
			payload: payload,
			header:  signPayload(payload, testWebhookSecret, time.Now()),
			wantErr: nil,
		},
		{
			name:    "wrong secret",
			payload: payload,
			header:  signPayload(payload, "whsec_other_secret", time.Now()),
			wantErr: ErrInvalidSignature,
		},
		{
			name:    "tampered payload",
			payload: []byte(`{"id":"evt_1","type":"payment_intent.canceled"}`),
			header:  signPayload(payload, testWebhookSecret, time.Now()),
			wantErr: ErrInvalidSignature,
		},
		{
			name:    "stale timestamp",
			payload: payload,
			header:  signPayload(payload, testWebhookSecret, time.Now().Add(-time.Hour)),
			wantErr: ErrStaleSignature,
		},
		{
			name:    "missing header",
			payload: payload,
			header:  "",
			wantErr: ErrMalformedHeader,
		},
		{
			name:    "garbage header",
			payload: payload,
			header:  "not-a-signature",
			wantErr: ErrMalformedHeader,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := provider.VerifyWebhookSignature(tt.payload, tt.header)
			if tt.wantErr == nil {
				if err != nil {
					t.Fatalf("expected valid signature, got %v", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestVerifyWebhookSignature_CustomTolerance(t *testing.T) {
	payload := []byte(`{"id":"evt_1"}`)
	provider := NewStripeProvider(StripeConfig{
		WebhookSecret:      testWebhookSecret,
		SignatureTolerance: 30 * time.Second,
	})

	// Two minutes old passes the default window but not this one.
	header := signPayload(payload, testWebhookSecret, time.Now().Add(-2*time.Minute))
	if err := provider.VerifyWebhookSignature(payload, header); !errors.Is(err, ErrStaleSignature) {
		t.Errorf("error = %v, want %v", err, ErrStaleSignature)
	}
}

func TestStripeError_IsTemporary(t *testing.T) {
	tests := []struct {
		name string
		err  *StripeError
		want bool
	}{
		{
			name: "rate limit",
			err:  &StripeError{Code: "rate_limit"},
			want: true,
		},
		{
			name: "connection error",
			err:  &StripeError{Code: "api_connection_error"},
			want: true,
		},
		{
			name: "server error",
			err:  &StripeError{HTTPStatus: 503},
			want: true,
		},
		{
			name: "missing resource",
			err:  &StripeError{Code: "resource_missing", HTTPStatus: 404},
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.IsTemporary(); got != tt.want {
				t.Errorf("IsTemporary() = %v, want %v", got, tt.want)
			}
		})
	}
}
