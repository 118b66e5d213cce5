package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/dmitrymomot/cashier/pkg/billing"
	"github.com/dmitrymomot/cashier/pkg/clientip"
	"github.com/dmitrymomot/cashier/pkg/webhook"
)

// Backend selectors.
const (
	storePostgres = "postgres"
	storeMongo    = "mongo"
	lockerRedis   = "redis"
	lockerMemory  = "memory"

	verifierStripe = "stripe"
	verifierHMAC   = "hmac"
)

var (
	errUnknownStore  = errors.New("unknown BILLING_STORE")
	errUnknownLocker = errors.New("unknown BILLING_LOCKER")

	errUnknownVerifier = errors.New("unknown WEBHOOK_VERIFIER")
	errMissingHMACKey  = errors.New("WEBHOOK_HMAC_SECRET is required for the hmac verifier")

	errTestKeyInProduction = errors.New("test mode STRIPE_SECRET_KEY in production")
)

type appConfig struct {
	Env           string        `env:"APP_ENV" envDefault:"development"`
	ServiceName   string        `env:"SERVICE_NAME" envDefault:"billingd"`
	Store         string        `env:"BILLING_STORE" envDefault:"postgres"`
	Locker        string        `env:"BILLING_LOCKER" envDefault:"redis"`
	HealthTimeout time.Duration `env:"HEALTH_CHECK_TIMEOUT" envDefault:"3s"`
	WebhookPath   string        `env:"STRIPE_WEBHOOK_PATH" envDefault:"/webhooks/stripe"`

	// stripe checks Stripe-Signature; hmac accepts events relayed with X-Webhook-Signature.
	WebhookVerifier   string `env:"WEBHOOK_VERIFIER" envDefault:"stripe"`
	WebhookHMACSecret string `env:"WEBHOOK_HMAC_SECRET"`

	// Headers set by the edge proxy, most trusted first.
	TrustedIPHeaders  []string `env:"HTTP_TRUSTED_IP_HEADERS" envSeparator:","`
	// Empty accepts webhooks from any source; signatures are verified either way.
	WebhookAllowedIPs []string `env:"STRIPE_WEBHOOK_ALLOWED_IPS" envSeparator:","`
}

func (c appConfig) Validate() error {
	var errs []error
	switch c.Store {
	case storePostgres, storeMongo:
	default:
		errs = append(errs, fmt.Errorf("%w: %q", errUnknownStore, c.Store))
	}
	switch c.Locker {
	case lockerRedis, lockerMemory:
	default:
		errs = append(errs, fmt.Errorf("%w: %q", errUnknownLocker, c.Locker))
	}
	switch c.WebhookVerifier {
	case verifierStripe:
	case verifierHMAC:
		if c.WebhookHMACSecret == "" {
			errs = append(errs, errMissingHMACKey)
		}
	default:
		errs = append(errs, fmt.Errorf("%w: %q", errUnknownVerifier, c.WebhookVerifier))
	}
	if _, err := clientip.ParsePrefixes(c.WebhookAllowedIPs); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// newVerifier returns the webhook verifier selected by WEBHOOK_VERIFIER.
func newVerifier(app appConfig, stripeCfg billing.StripeConfig) (webhook.Verifier, error) {
	switch app.WebhookVerifier {
	case verifierHMAC:
		return webhook.NewHMACVerifier(app.WebhookHMACSecret, stripeCfg.WebhookTolerance)
	case verifierStripe, "":
		return billing.NewStripeVerifier(stripeCfg.WebhookSecret, stripeCfg.WebhookTolerance), nil
	default:
		return nil, fmt.Errorf("%w: %q", errUnknownVerifier, app.WebhookVerifier)
	}
}
