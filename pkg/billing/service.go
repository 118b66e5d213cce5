package billing

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/cashier/pkg/logger"
)

// DefaultCurrency is used when no currency is configured.
const DefaultCurrency = "usd"

// Config holds service-wide billing settings.
type Config struct {
	Currency string `env:"BILLING_CURRENCY" envDefault:"usd"`
}

// TaxPercentageFunc returns the tax rate applied to a customer's subscriptions
// and invoices. Zero means no tax is sent to the processor.
type TaxPercentageFunc func(ctx context.Context, customer *Customer) float64

// Option configures a Service.
type Option func(*Service)

// WithLocker replaces the default in-process locker. Use a distributed locker
// when several replicas reconcile the same customers.
func WithLocker(l Locker) Option {
	return func(s *Service) {
		if l != nil {
			s.locker = l
		}
	}
}

// WithLogger sets the service logger.
func WithLogger(log *slog.Logger) Option {
	return func(s *Service) {
		if log != nil {
			s.log = log
		}
	}
}

// WithClock overrides the time source. Tests use it to pin "now".
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithCurrency sets the preferred currency for charges and invoice items.
func WithCurrency(currency string) Option {
	return func(s *Service) {
		if c := strings.ToLower(strings.TrimSpace(currency)); c != "" {
			s.currency = c
		}
	}
}

// WithConfig applies cfg.
func WithConfig(cfg Config) Option {
	return WithCurrency(cfg.Currency)
}

// WithTaxPercentage sets the tax rate function.
func WithTaxPercentage(fn TaxPercentageFunc) Option {
	return func(s *Service) {
		if fn != nil {
			s.taxPercentage = fn
		}
	}
}

// Service binds the processor, the local stores and the locker.
// Account returns the per-account façade; NewReconciler builds the webhook side.
type Service struct {
	processor     Processor
	customers     CustomerStore
	subscriptions SubscriptionStore
	locker        Locker
	log           *slog.Logger
	now           func() time.Time
	currency      string
	taxPercentage TaxPercentageFunc
}

// NewService creates a billing service.
// Panics if a required dependency is nil.
func NewService(processor Processor, customers CustomerStore, subscriptions SubscriptionStore, opts ...Option) *Service {
	if processor == nil {
		panic("billing: Processor is required")
	}
	if customers == nil {
		panic("billing: CustomerStore is required")
	}
	if subscriptions == nil {
		panic("billing: SubscriptionStore is required")
	}

	s := &Service{
		processor:     processor,
		customers:     customers,
		subscriptions: subscriptions,
		locker:        NewMemoryLocker(),
		log:           logger.Discard(),
		now:           time.Now,
		currency:      DefaultCurrency,
		taxPercentage: func(context.Context, *Customer) float64 { return 0 },
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.With(logger.Component("billing"))
	return s
}

// Account returns the billing façade of an application account.
// No record is created until the first billing action.
func (s *Service) Account(id uuid.UUID) *Account {
	return &Account{svc: s, id: id}
}

func (s *Service) clock() time.Time {
	return s.now().UTC()
}

func (s *Service) withLock(ctx context.Context, key string, fn func() error) error {
	unlock, err := s.locker.Lock(ctx, key)
	if err != nil {
		return errors.Join(ErrLockFailed, err)
	}
	defer unlock()
	return fn()
}

// loadCustomer returns the stored customer or a new unsaved record.
func (s *Service) loadCustomer(ctx context.Context, id uuid.UUID) (*Customer, error) {
	c, err := s.customers.GetCustomer(ctx, id)
	if errors.Is(err, ErrCustomerNotFound) {
		return &Customer{ID: id}, nil
	}
	if err != nil {
		return nil, err
	}
	return c, nil
}

func (s *Service) saveCustomer(ctx context.Context, c *Customer) error {
	now := s.clock()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	c.UpdatedAt = now
	return s.customers.SaveCustomer(ctx, c)
}
