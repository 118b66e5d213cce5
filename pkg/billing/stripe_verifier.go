package billing

import (
	"errors"
	"net/http"
	"time"

	stripewebhook "github.com/stripe/stripe-go/v83/webhook"

	"github.com/dmitrymomot/cashier/pkg/webhook"
)

// StripeSignatureHeader carries the processor's webhook signature.
const StripeSignatureHeader = "Stripe-Signature"

// StripeVerifier checks processor webhook signatures. It implements webhook.Verifier.
type StripeVerifier struct {
	secret    string
	tolerance time.Duration
}

var _ webhook.Verifier = (*StripeVerifier)(nil)

// NewStripeVerifier creates a verifier for the endpoint signing secret.
// A non-positive tolerance uses webhook.DefaultTolerance.
func NewStripeVerifier(secret string, tolerance time.Duration) *StripeVerifier {
	if tolerance <= 0 {
		tolerance = webhook.DefaultTolerance
	}
	return &StripeVerifier{secret: secret, tolerance: tolerance}
}

// Verify implements webhook.Verifier.
func (v *StripeVerifier) Verify(payload []byte, header http.Header) (*webhook.Event, error) {
	if v.secret == "" {
		return nil, errors.Join(webhook.ErrInvalidSignature, ErrMissingWebhookSecret)
	}

	evt, err := stripewebhook.ConstructEventWithOptions(payload, header.Get(StripeSignatureHeader), v.secret, stripewebhook.ConstructEventOptions{
		Tolerance:                v.tolerance,
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return nil, errors.Join(webhook.ErrInvalidSignature, err)
	}
	if evt.Data == nil {
		// Signed but unusable events are refused like unsigned ones.
		return nil, errors.Join(webhook.ErrInvalidSignature, webhook.ErrInvalidPayload, errors.New("event data is missing"))
	}

	return &webhook.Event{
		ID:      evt.ID,
		Type:    string(evt.Type),
		Created: time.Unix(evt.Created, 0).UTC(),
		Object:  evt.Data.Raw,
	}, nil
}
