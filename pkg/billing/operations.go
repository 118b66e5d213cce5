package billing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dmitrymomot/cashier/pkg/logger"
	"github.com/dmitrymomot/cashier/pkg/statemachine"
)

// remoteChange performs the processor call for a subscription operation and
// applies the response to the local record.
type remoteChange func(ctx context.Context, sub *Subscription, now time.Time) error

// mutateSubscription runs change on the most recent subscription named name
// under its lock, after checking event against the lifecycle table.
func (a *Account) mutateSubscription(ctx context.Context, name string, event statemachine.Event, change remoteChange) (*Subscription, error) {
	var result *Subscription
	err := a.svc.withLock(ctx, subscriptionLockKey(a.id, name), func() error {
		sub, err := a.Subscription(ctx, name)
		if err != nil {
			return err
		}
		if sub == nil {
			return ErrSubscriptionNotFound
		}

		now := a.svc.clock()
		from, _, err := transition(ctx, sub, event, now)
		if err != nil {
			return err
		}
		if err := change(ctx, sub, now); err != nil {
			return err
		}

		sub.UpdatedAt = now
		if err := a.svc.subscriptions.SaveSubscription(ctx, sub); err != nil {
			return fmt.Errorf("save subscription: %w", err)
		}

		a.svc.log.InfoContext(ctx, "subscription changed",
			logger.CustomerID(a.id),
			logger.SubscriptionID(sub.ID),
			slog.String("event", event.Name()),
			slog.String("from", from.Name()),
			slog.String("to", sub.StateAt(now).Name()),
		)
		result = sub
		return nil
	})
	return result, err
}

// Cancel cancels the subscription at the end of the billing period. A
// subscription on trial keeps access until the trial ends.
func (a *Account) Cancel(ctx context.Context, name string) (*Subscription, error) {
	return a.mutateSubscription(ctx, name, eventCancel, func(ctx context.Context, sub *Subscription, now time.Time) error {
		remote, err := a.svc.processor.UpdateSubscription(ctx, sub.ProviderID, SubscriptionUpdateParams{
			CancelAtPeriodEnd: boolPtr(true),
		})
		if err != nil {
			return fmt.Errorf("cancel subscription: %w", err)
		}

		switch {
		case sub.OnTrialAt(now):
			sub.EndsAt = cloneTime(sub.TrialEndsAt)
		case remote.CurrentPeriodEnd != nil:
			sub.EndsAt = cloneTime(remote.CurrentPeriodEnd)
		default:
			sub.EndsAt = timePtr(now)
		}
		return nil
	})
}

// CancelNow cancels the subscription immediately. Access ends now, a running
// trial included.
func (a *Account) CancelNow(ctx context.Context, name string) (*Subscription, error) {
	return a.mutateSubscription(ctx, name, eventCancelNow, func(ctx context.Context, sub *Subscription, now time.Time) error {
		if _, err := a.svc.processor.CancelSubscription(ctx, sub.ProviderID); err != nil {
			return fmt.Errorf("cancel subscription: %w", err)
		}
		sub.EndsAt = timePtr(now)
		sub.TrialEndsAt = nil
		return nil
	})
}

// Resume undoes a pending cancellation. Only possible during the grace period.
func (a *Account) Resume(ctx context.Context, name string) (*Subscription, error) {
	return a.mutateSubscription(ctx, name, eventResume, func(ctx context.Context, sub *Subscription, now time.Time) error {
		params := trialPreserved(sub, now)
		params.CancelAtPeriodEnd = boolPtr(false)

		remote, err := a.svc.processor.UpdateSubscription(ctx, sub.ProviderID, params)
		if err != nil {
			return fmt.Errorf("resume subscription: %w", err)
		}

		sub.EndsAt = nil
		applyRemotePlan(sub, remote)
		return nil
	})
}

// Swap moves the subscription to plan, keeping quantity and trial. Prorated.
func (a *Account) Swap(ctx context.Context, name, plan string) (*Subscription, error) {
	if plan == "" {
		return nil, ErrMissingPlanID
	}
	return a.mutateSubscription(ctx, name, eventSwap, func(ctx context.Context, sub *Subscription, now time.Time) error {
		current, err := a.svc.processor.RetrieveSubscription(ctx, sub.ProviderID)
		if err != nil {
			return fmt.Errorf("retrieve subscription: %w", err)
		}

		params := trialPreserved(sub, now)
		params.ItemID = current.ItemID
		params.PlanID = plan
		params.Quantity = int64Ptr(sub.Quantity)
		params.Prorate = boolPtr(true)
		params.CancelAtPeriodEnd = boolPtr(false)

		remote, err := a.svc.processor.UpdateSubscription(ctx, sub.ProviderID, params)
		if err != nil {
			return fmt.Errorf("swap subscription: %w", err)
		}

		sub.EndsAt = nil
		sub.PlanID = plan
		applyRemotePlan(sub, remote)
		if remote.TrialEnd != nil {
			sub.TrialEndsAt = cloneTime(remote.TrialEnd)
		}
		return nil
	})
}

// UpdateQuantity sets the subscription quantity. It must be at least one.
func (a *Account) UpdateQuantity(ctx context.Context, name string, quantity int64) (*Subscription, error) {
	if quantity < 1 {
		return nil, ErrInvalidQuantity
	}
	return a.changeQuantity(ctx, name, func(int64) int64 { return quantity })
}

// IncrementQuantity adds n to the subscription quantity.
func (a *Account) IncrementQuantity(ctx context.Context, name string, n int64) (*Subscription, error) {
	if n < 1 {
		return nil, ErrInvalidQuantity
	}
	return a.changeQuantity(ctx, name, func(q int64) int64 { return q + n })
}

// DecrementQuantity subtracts n from the subscription quantity, never going below one.
func (a *Account) DecrementQuantity(ctx context.Context, name string, n int64) (*Subscription, error) {
	if n < 1 {
		return nil, ErrInvalidQuantity
	}
	return a.changeQuantity(ctx, name, func(q int64) int64 { return max(q-n, 1) })
}

func (a *Account) changeQuantity(ctx context.Context, name string, next func(int64) int64) (*Subscription, error) {
	return a.mutateSubscription(ctx, name, eventUpdateQuantity, func(ctx context.Context, sub *Subscription, _ time.Time) error {
		quantity := next(sub.Quantity)

		current, err := a.svc.processor.RetrieveSubscription(ctx, sub.ProviderID)
		if err != nil {
			return fmt.Errorf("retrieve subscription: %w", err)
		}

		remote, err := a.svc.processor.UpdateSubscription(ctx, sub.ProviderID, SubscriptionUpdateParams{
			ItemID:   current.ItemID,
			Quantity: int64Ptr(quantity),
		})
		if err != nil {
			return fmt.Errorf("update subscription quantity: %w", err)
		}

		sub.Quantity = quantity
		if remote.Quantity > 0 {
			sub.Quantity = remote.Quantity
		}
		return nil
	})
}

// EndTrial ends the subscription trial now and starts billing.
func (a *Account) EndTrial(ctx context.Context, name string) (*Subscription, error) {
	return a.mutateSubscription(ctx, name, eventEndTrial, func(ctx context.Context, sub *Subscription, _ time.Time) error {
		if _, err := a.svc.processor.UpdateSubscription(ctx, sub.ProviderID, SubscriptionUpdateParams{
			TrialEndNow: true,
		}); err != nil {
			return fmt.Errorf("end subscription trial: %w", err)
		}
		sub.TrialEndsAt = nil
		return nil
	})
}

// trialPreserved re-sends the trial end so an update does not restart billing:
// the current expiry while on trial, "now" otherwise.
func trialPreserved(sub *Subscription, now time.Time) SubscriptionUpdateParams {
	if sub.OnTrialAt(now) {
		return SubscriptionUpdateParams{TrialEnd: cloneTime(sub.TrialEndsAt)}
	}
	return SubscriptionUpdateParams{TrialEndNow: true}
}

func applyRemotePlan(sub *Subscription, remote *RemoteSubscription) {
	if remote.PlanID != "" {
		sub.PlanID = remote.PlanID
	}
	if remote.Quantity > 0 {
		sub.Quantity = remote.Quantity
	}
}

// IsInvalidTransition reports an operation rejected by the subscription lifecycle.
func IsInvalidTransition(err error) bool {
	return errors.Is(err, ErrInvalidSubscriptionState)
}

func boolPtr(v bool) *bool    { return &v }
func int64Ptr(v int64) *int64 { return &v }
