package billing

import (
	"context"
	"fmt"
	"maps"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/cashier/pkg/logger"
)

// SubscriptionBuilder configures a new subscription. Nothing reaches the
// processor until Create or Add.
type SubscriptionBuilder struct {
	account   *Account
	name      string
	plan      string
	quantity  int64
	trialEnd  *time.Time
	skipTrial bool
	anchor    *time.Time
	coupon    string
	metadata  map[string]string
}

// NewSubscription starts building a subscription named name on plan.
func (a *Account) NewSubscription(name, plan string) *SubscriptionBuilder {
	return &SubscriptionBuilder{
		account:  a,
		name:     name,
		plan:     plan,
		quantity: 1,
	}
}

// Quantity sets the subscription quantity.
func (b *SubscriptionBuilder) Quantity(n int64) *SubscriptionBuilder {
	b.quantity = n
	return b
}

// TrialDays starts a trial ending n days from now.
func (b *SubscriptionBuilder) TrialDays(n int) *SubscriptionBuilder {
	return b.TrialUntil(b.account.svc.clock().AddDate(0, 0, n))
}

// TrialUntil starts a trial ending at t.
func (b *SubscriptionBuilder) TrialUntil(t time.Time) *SubscriptionBuilder {
	b.trialEnd = timePtr(t.UTC())
	b.skipTrial = false
	return b
}

// SkipTrial starts billing immediately, overriding any configured trial.
func (b *SubscriptionBuilder) SkipTrial() *SubscriptionBuilder {
	b.trialEnd = nil
	b.skipTrial = true
	return b
}

// AnchorBillingCycleOn fixes the billing cycle anchor.
func (b *SubscriptionBuilder) AnchorBillingCycleOn(t time.Time) *SubscriptionBuilder {
	b.anchor = timePtr(t.UTC())
	return b
}

// WithCoupon applies a coupon to the subscription.
func (b *SubscriptionBuilder) WithCoupon(code string) *SubscriptionBuilder {
	b.coupon = code
	return b
}

// WithMetadata attaches metadata to the processor subscription.
func (b *SubscriptionBuilder) WithMetadata(md map[string]string) *SubscriptionBuilder {
	if b.metadata == nil {
		b.metadata = make(map[string]string, len(md))
	}
	maps.Copy(b.metadata, md)
	return b
}

// Payload returns the parameters Create would send, without the customer id
// and tax rate which are resolved at creation.
func (b *SubscriptionBuilder) Payload() SubscriptionParams {
	p := SubscriptionParams{
		PlanID:             b.plan,
		Quantity:           b.quantity,
		TrialEndNow:        b.skipTrial,
		TrialEnd:           cloneTime(b.trialEnd),
		BillingCycleAnchor: cloneTime(b.anchor),
		Coupon:             b.coupon,
	}
	if len(b.metadata) > 0 {
		p.Metadata = maps.Clone(b.metadata)
	}
	return p
}

// Add creates the subscription without a new payment source.
func (b *SubscriptionBuilder) Add(ctx context.Context, opts CustomerOptions) (*Subscription, error) {
	return b.Create(ctx, "", opts)
}

// Create creates the processor subscription and stores it locally. A non-empty
// token becomes the customer's default payment source first. A subscription
// the processor reports as incomplete is cancelled and nothing is stored.
func (b *SubscriptionBuilder) Create(ctx context.Context, token string, opts CustomerOptions) (*Subscription, error) {
	switch {
	case b.name == "":
		return nil, ErrMissingSubscriptionName
	case b.plan == "":
		return nil, ErrMissingPlanID
	case b.quantity < 1:
		return nil, ErrInvalidQuantity
	}

	a := b.account
	var sub *Subscription
	err := a.svc.withLock(ctx, subscriptionLockKey(a.id, b.name), func() error {
		existing, err := a.Subscription(ctx, b.name)
		if err != nil {
			return err
		}
		if existing != nil && existing.ValidAt(a.svc.clock()) {
			return ErrSubscriptionExists
		}

		remoteCustomer, err := a.CreateOrGetCustomer(ctx, opts)
		if err != nil {
			return err
		}
		if token != "" {
			if err := a.UpdateCard(ctx, token); err != nil {
				return err
			}
		}

		params := b.Payload()
		params.CustomerID = remoteCustomer.ID
		params.TaxPercent = a.TaxPercentage(ctx)

		remote, err := a.svc.processor.CreateSubscription(ctx, params)
		if err != nil {
			return fmt.Errorf("create subscription: %w", err)
		}
		if remote.Incomplete() {
			return b.abandon(ctx, remote, remoteCustomer.ID)
		}

		sub, err = b.persist(ctx, remote)
		return err
	})
	return sub, err
}

func (b *SubscriptionBuilder) abandon(ctx context.Context, remote *RemoteSubscription, customerID string) error {
	a := b.account
	failure := &SubscriptionCreationFailedError{
		PlanID:     b.plan,
		CustomerID: customerID,
		Status:     remote.Status,
	}
	if _, err := a.svc.processor.CancelSubscription(ctx, remote.ID); err != nil {
		a.svc.log.WarnContext(ctx, "failed to cancel incomplete subscription",
			logger.CustomerID(a.id),
			logger.ProviderID(remote.ID),
			logger.Error(err),
		)
	}
	a.svc.log.WarnContext(ctx, "subscription creation incomplete",
		logger.CustomerID(a.id),
		logger.ProviderID(remote.ID),
		logger.Plan(b.plan),
	)
	return failure
}

func (b *SubscriptionBuilder) persist(ctx context.Context, remote *RemoteSubscription) (*Subscription, error) {
	a := b.account
	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("generate subscription id: %w", err)
	}

	now := a.svc.clock()
	sub := &Subscription{
		ID:          id,
		CustomerID:  a.id,
		Name:        b.name,
		ProviderID:  remote.ID,
		PlanID:      b.plan,
		Quantity:    b.quantity,
		TrialEndsAt: cloneTime(b.trialEnd),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if b.skipTrial {
		sub.TrialEndsAt = nil
	}
	if err := a.svc.subscriptions.SaveSubscription(ctx, sub); err != nil {
		return nil, fmt.Errorf("save subscription: %w", err)
	}

	a.svc.log.InfoContext(ctx, "subscription created",
		logger.CustomerID(a.id),
		logger.SubscriptionID(sub.ID),
		logger.ProviderID(remote.ID),
		logger.Plan(b.plan),
	)
	return sub, nil
}
