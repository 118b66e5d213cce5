package billing

import (
	"errors"
	"time"
)

// StripeConfig holds the processor credentials and client settings.
type StripeConfig struct {
	SecretKey         string        `env:"STRIPE_SECRET_KEY,required"`
	WebhookSecret     string        `env:"STRIPE_WEBHOOK_SECRET,required"`
	WebhookTolerance  time.Duration `env:"STRIPE_WEBHOOK_TOLERANCE" envDefault:"5m"`
	MaxNetworkRetries int64         `env:"STRIPE_MAX_NETWORK_RETRIES" envDefault:"2"`
	APIBaseURL        string        `env:"STRIPE_API_BASE_URL"` // empty means the public API
}

// Validate implements config.Validator.
func (c StripeConfig) Validate() error {
	var errs []error
	if c.SecretKey == "" {
		errs = append(errs, ErrMissingAPIKey)
	}
	if c.WebhookSecret == "" {
		errs = append(errs, ErrMissingWebhookSecret)
	}
	if c.WebhookTolerance <= 0 {
		errs = append(errs, ErrInvalidWebhookTolerance)
	}
	return errors.Join(errs...)
}
