package billing_test

import (
	"context"
	"sync"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/dmitrymomot/cashier/pkg/billing"
)

// MockProcessor is a mock implementation of billing.Processor.
type MockProcessor struct {
	mock.Mock
}

func (m *MockProcessor) CreateCustomer(ctx context.Context, params billing.CustomerParams) (*billing.RemoteCustomer, error) {
	args := m.Called(ctx, params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*billing.RemoteCustomer), args.Error(1)
}

func (m *MockProcessor) RetrieveCustomer(ctx context.Context, id string) (*billing.RemoteCustomer, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*billing.RemoteCustomer), args.Error(1)
}

func (m *MockProcessor) UpdateCustomer(ctx context.Context, id string, params billing.CustomerParams) (*billing.RemoteCustomer, error) {
	args := m.Called(ctx, id, params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*billing.RemoteCustomer), args.Error(1)
}

func (m *MockProcessor) CreateSubscription(ctx context.Context, params billing.SubscriptionParams) (*billing.RemoteSubscription, error) {
	args := m.Called(ctx, params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*billing.RemoteSubscription), args.Error(1)
}

func (m *MockProcessor) RetrieveSubscription(ctx context.Context, id string) (*billing.RemoteSubscription, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*billing.RemoteSubscription), args.Error(1)
}

func (m *MockProcessor) UpdateSubscription(ctx context.Context, id string, params billing.SubscriptionUpdateParams) (*billing.RemoteSubscription, error) {
	args := m.Called(ctx, id, params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*billing.RemoteSubscription), args.Error(1)
}

func (m *MockProcessor) CancelSubscription(ctx context.Context, id string) (*billing.RemoteSubscription, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*billing.RemoteSubscription), args.Error(1)
}

func (m *MockProcessor) CreateCharge(ctx context.Context, params billing.ChargeParams) (*billing.Charge, error) {
	args := m.Called(ctx, params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*billing.Charge), args.Error(1)
}

func (m *MockProcessor) CreateRefund(ctx context.Context, params billing.RefundParams) (*billing.Refund, error) {
	args := m.Called(ctx, params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*billing.Refund), args.Error(1)
}

func (m *MockProcessor) CreateInvoiceItem(ctx context.Context, params billing.InvoiceItemParams) (*billing.InvoiceItem, error) {
	args := m.Called(ctx, params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*billing.InvoiceItem), args.Error(1)
}

func (m *MockProcessor) CreateInvoice(ctx context.Context, params billing.InvoiceParams) (*billing.Invoice, error) {
	args := m.Called(ctx, params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*billing.Invoice), args.Error(1)
}

func (m *MockProcessor) PayInvoice(ctx context.Context, id string) (*billing.Invoice, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*billing.Invoice), args.Error(1)
}

func (m *MockProcessor) RetrieveInvoice(ctx context.Context, id string) (*billing.Invoice, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*billing.Invoice), args.Error(1)
}

func (m *MockProcessor) UpcomingInvoice(ctx context.Context, customerID string) (*billing.Invoice, error) {
	args := m.Called(ctx, customerID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*billing.Invoice), args.Error(1)
}

func (m *MockProcessor) ListInvoices(ctx context.Context, params billing.InvoiceListParams) ([]*billing.Invoice, error) {
	args := m.Called(ctx, params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*billing.Invoice), args.Error(1)
}

func (m *MockProcessor) CreatePaymentSource(ctx context.Context, customerID, token string) (*billing.PaymentSource, error) {
	args := m.Called(ctx, customerID, token)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*billing.PaymentSource), args.Error(1)
}

func (m *MockProcessor) ListPaymentSources(ctx context.Context, customerID string) ([]*billing.PaymentSource, error) {
	args := m.Called(ctx, customerID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*billing.PaymentSource), args.Error(1)
}

func (m *MockProcessor) DeletePaymentSource(ctx context.Context, customerID, sourceID string) error {
	args := m.Called(ctx, customerID, sourceID)
	return args.Error(0)
}

func (m *MockProcessor) RetrieveToken(ctx context.Context, id string) (*billing.Token, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*billing.Token), args.Error(1)
}

// testClock is a settable time source.
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock(now time.Time) *testClock {
	return &testClock{now: now}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

var baseTime = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

type fixture struct {
	processor *MockProcessor
	store     *billing.MemoryStore
	clock     *testClock
	svc       *billing.Service
}

func newFixture(opts ...billing.Option) *fixture {
	f := &fixture{
		processor: &MockProcessor{},
		store:     billing.NewMemoryStore(),
		clock:     newTestClock(baseTime),
	}
	opts = append([]billing.Option{billing.WithClock(f.clock.Now)}, opts...)
	f.svc = billing.NewService(f.processor, f.store, f.store, opts...)
	return f
}

func ptr[T any](v T) *T {
	return &v
}
