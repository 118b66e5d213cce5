package billing

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/cashier/pkg/logger"
)

// CustomerOptions are used when the processor customer has to be created.
type CustomerOptions struct {
	Email       string
	Name        string
	Description string
	Metadata    map[string]string
}

// Account is the billing façade of one application account. It is a cheap
// handle; all state lives in the stores.
type Account struct {
	svc *Service
	id  uuid.UUID
}

// ID returns the account identifier.
func (a *Account) ID() uuid.UUID {
	return a.id
}

// Customer returns the billing record, or an unsaved empty one.
func (a *Account) Customer(ctx context.Context) (*Customer, error) {
	return a.svc.loadCustomer(ctx, a.id)
}

// HasProviderID reports whether a processor customer exists. Store failures read as false.
func (a *Account) HasProviderID(ctx context.Context) bool {
	c, err := a.Customer(ctx)
	if err != nil {
		a.logError(ctx, "failed to load billing customer", err)
		return false
	}
	return c.HasProviderID()
}

// PreferredCurrency is the currency used for charges and invoice items.
func (a *Account) PreferredCurrency() string {
	return a.svc.currency
}

// TaxPercentage is the tax rate applied to this account. Zero by default.
func (a *Account) TaxPercentage(ctx context.Context) float64 {
	c, err := a.Customer(ctx)
	if err != nil {
		a.logError(ctx, "failed to load billing customer", err)
		c = &Customer{ID: a.id}
	}
	return a.svc.taxPercentage(ctx, c)
}

// CreateAsCustomer creates the processor customer. A token in source is
// attached as the default payment source. Returns ErrCustomerExists when the
// account already has one.
func (a *Account) CreateAsCustomer(ctx context.Context, source string, opts CustomerOptions) (*RemoteCustomer, error) {
	var remote *RemoteCustomer
	err := a.svc.withLock(ctx, customerLockKey(a.id), func() error {
		c, err := a.Customer(ctx)
		if err != nil {
			return err
		}
		if c.HasProviderID() {
			return ErrCustomerExists
		}
		remote, err = a.createRemoteCustomer(ctx, c, source, opts)
		return err
	})
	return remote, err
}

// CreateOrGetCustomer returns the processor customer, creating it first when
// the account has none.
func (a *Account) CreateOrGetCustomer(ctx context.Context, opts CustomerOptions) (*RemoteCustomer, error) {
	var remote *RemoteCustomer
	err := a.svc.withLock(ctx, customerLockKey(a.id), func() error {
		c, err := a.Customer(ctx)
		if err != nil {
			return err
		}
		if c.HasProviderID() {
			remote, err = a.svc.processor.RetrieveCustomer(ctx, c.ProviderID)
			return err
		}
		remote, err = a.createRemoteCustomer(ctx, c, "", opts)
		return err
	})
	return remote, err
}

// caller holds the customer lock
func (a *Account) createRemoteCustomer(ctx context.Context, c *Customer, source string, opts CustomerOptions) (*RemoteCustomer, error) {
	email := opts.Email
	if email == "" {
		email = c.Email
	}

	remote, err := a.svc.processor.CreateCustomer(ctx, CustomerParams{
		Email:       email,
		Name:        opts.Name,
		Description: opts.Description,
		Source:      source,
		Metadata:    opts.Metadata,
	})
	if err != nil {
		return nil, fmt.Errorf("create processor customer: %w", err)
	}

	c.ProviderID = remote.ID
	c.Email = email
	if source != "" {
		c.setPaymentSource(remote.DefaultSource)
	}
	if err := a.svc.saveCustomer(ctx, c); err != nil {
		return nil, fmt.Errorf("save billing customer: %w", err)
	}

	a.svc.log.InfoContext(ctx, "processor customer created",
		logger.CustomerID(a.id),
		logger.ProviderID(remote.ID),
	)
	return remote, nil
}

// AsRemoteCustomer fetches the processor customer.
func (a *Account) AsRemoteCustomer(ctx context.Context) (*RemoteCustomer, error) {
	c, err := a.remoteCustomerRecord(ctx)
	if err != nil {
		return nil, err
	}
	return a.svc.processor.RetrieveCustomer(ctx, c.ProviderID)
}

// UpdateRemoteCustomer updates the processor customer.
func (a *Account) UpdateRemoteCustomer(ctx context.Context, params CustomerParams) (*RemoteCustomer, error) {
	c, err := a.remoteCustomerRecord(ctx)
	if err != nil {
		return nil, err
	}
	return a.svc.processor.UpdateCustomer(ctx, c.ProviderID, params)
}

// ApplyCoupon applies a coupon to the processor customer.
func (a *Account) ApplyCoupon(ctx context.Context, coupon string) error {
	if coupon == "" {
		return nil
	}
	_, err := a.UpdateRemoteCustomer(ctx, CustomerParams{Coupon: coupon})
	return err
}

func (a *Account) remoteCustomerRecord(ctx context.Context) (*Customer, error) {
	c, err := a.Customer(ctx)
	if err != nil {
		return nil, err
	}
	if !c.HasProviderID() {
		return nil, ErrNotRemoteCustomer
	}
	return c, nil
}

// StartGenericTrial records an account level trial that needs no subscription.
func (a *Account) StartGenericTrial(ctx context.Context, until time.Time) error {
	return a.svc.withLock(ctx, customerLockKey(a.id), func() error {
		c, err := a.Customer(ctx)
		if err != nil {
			return err
		}
		c.TrialEndsAt = timePtr(until.UTC())
		return a.svc.saveCustomer(ctx, c)
	})
}

// OnGenericTrial reports whether the account level trial is running.
func (a *Account) OnGenericTrial(ctx context.Context) bool {
	c, err := a.Customer(ctx)
	if err != nil {
		a.logError(ctx, "failed to load billing customer", err)
		return false
	}
	return c.OnGenericTrialAt(a.svc.clock())
}

// Subscriptions returns every subscription of the account, newest first.
func (a *Account) Subscriptions(ctx context.Context) ([]*Subscription, error) {
	subs, err := a.svc.subscriptions.ListSubscriptions(ctx, a.id)
	if err != nil {
		return nil, fmt.Errorf("list subscriptions: %w", err)
	}
	sortNewestFirst(subs)
	return subs, nil
}

// Subscription returns the most recent subscription with the given name, or
// nil when there is none.
func (a *Account) Subscription(ctx context.Context, name string) (*Subscription, error) {
	subs, err := a.Subscriptions(ctx)
	if err != nil {
		return nil, err
	}
	return latestNamed(subs, name), nil
}

// Subscribed reports whether the named subscription is valid. A non-empty
// plan must also match. Store failures read as false.
func (a *Account) Subscribed(ctx context.Context, name, plan string) bool {
	sub := a.safeSubscription(ctx, name)
	if sub == nil || !sub.ValidAt(a.svc.clock()) {
		return false
	}
	return plan == "" || sub.PlanID == plan
}

// SubscribedToPlan reports whether the named subscription is valid and on one of plans.
func (a *Account) SubscribedToPlan(ctx context.Context, name string, plans ...string) bool {
	sub := a.safeSubscription(ctx, name)
	if sub == nil || !sub.ValidAt(a.svc.clock()) {
		return false
	}
	return slices.Contains(plans, sub.PlanID)
}

// OnPlan reports whether any valid subscription of the account is on plan.
func (a *Account) OnPlan(ctx context.Context, plan string) bool {
	subs, err := a.Subscriptions(ctx)
	if err != nil {
		a.logError(ctx, "failed to list subscriptions", err)
		return false
	}
	now := a.svc.clock()
	for _, s := range subs {
		if s.PlanID == plan && s.ValidAt(now) {
			return true
		}
	}
	return false
}

// OnTrial reports whether the account is on its generic trial or the default
// subscription is on trial.
func (a *Account) OnTrial(ctx context.Context) bool {
	return a.OnGenericTrial(ctx) || a.OnSubscriptionTrial(ctx, DefaultSubscriptionName, "")
}

// OnSubscriptionTrial reports whether the named subscription is on trial.
// A non-empty plan must also match.
func (a *Account) OnSubscriptionTrial(ctx context.Context, name, plan string) bool {
	sub := a.safeSubscription(ctx, name)
	if sub == nil || !sub.OnTrialAt(a.svc.clock()) {
		return false
	}
	return plan == "" || sub.PlanID == plan
}

func (a *Account) safeSubscription(ctx context.Context, name string) *Subscription {
	sub, err := a.Subscription(ctx, name)
	if err != nil {
		a.logError(ctx, "failed to load subscription", err)
		return nil
	}
	return sub
}

func (a *Account) logError(ctx context.Context, msg string, err error) {
	if errors.Is(err, context.Canceled) {
		return
	}
	a.svc.log.ErrorContext(ctx, msg, logger.CustomerID(a.id), logger.Error(err))
}
