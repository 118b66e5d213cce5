package billing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dmitrymomot/cashier/pkg/logger"
	"github.com/dmitrymomot/cashier/pkg/statemachine"
	"github.com/dmitrymomot/cashier/pkg/webhook"
)

// Event types reconciled by default.
const (
	EventSubscriptionUpdated   = "customer.subscription.updated"
	EventSubscriptionDeleted   = "customer.subscription.deleted"
	EventCustomerUpdated       = "customer.updated"
	EventCustomerSourceDeleted = "customer.source.deleted"
	EventCustomerDeleted       = "customer.deleted"
)

// HandlerFunc handles one webhook event type.
type HandlerFunc func(ctx context.Context, event *webhook.Event) error

// ReconcilerOption configures a Reconciler.
type ReconcilerOption func(*Reconciler)

// WithHandler adds or replaces the handler for eventType.
func WithHandler(eventType string, fn HandlerFunc) ReconcilerOption {
	return func(r *Reconciler) {
		if eventType != "" && fn != nil {
			r.handlers[eventType] = fn
		}
	}
}

// WithReconcilerLogger sets the reconciler logger. Defaults to the service logger.
func WithReconcilerLogger(log *slog.Logger) ReconcilerOption {
	return func(r *Reconciler) {
		if log != nil {
			r.log = log
		}
	}
}

// Reconciler applies processor notifications to the local records.
// It implements webhook.Dispatcher.
type Reconciler struct {
	svc      *Service
	mu       sync.RWMutex
	handlers map[string]HandlerFunc
	log      *slog.Logger
}

var _ webhook.Dispatcher = (*Reconciler)(nil)

// NewReconciler creates a reconciler with the default handlers registered.
func NewReconciler(svc *Service, opts ...ReconcilerOption) *Reconciler {
	if svc == nil {
		panic("billing: Service is required")
	}

	r := &Reconciler{svc: svc, log: svc.log}
	r.handlers = map[string]HandlerFunc{
		EventSubscriptionUpdated:   r.handleSubscriptionUpdated,
		EventSubscriptionDeleted:   r.handleSubscriptionDeleted,
		EventCustomerUpdated:       r.handleCustomerUpdated,
		EventCustomerSourceDeleted: r.handleCustomerUpdated,
		EventCustomerDeleted:       r.handleCustomerDeleted,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register adds a handler for an event type that has none yet.
func (r *Reconciler) Register(eventType string, fn HandlerFunc) error {
	if eventType == "" {
		return ErrInvalidEventType
	}
	if fn == nil {
		return ErrNilHandler
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.handlers[eventType]; ok {
		return fmt.Errorf("%w: %s", ErrHandlerAlreadyRegistered, eventType)
	}
	r.handlers[eventType] = fn
	return nil
}

// Handles reports whether eventType has a handler.
func (r *Reconciler) Handles(eventType string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.handlers[eventType]
	return ok
}

// Dispatch runs the handler registered for the event type.
// Unknown types are acknowledged without effect.
func (r *Reconciler) Dispatch(ctx context.Context, event *webhook.Event) error {
	if event == nil {
		return ErrInvalidPayload
	}

	r.mu.RLock()
	fn, ok := r.handlers[event.Type]
	r.mu.RUnlock()

	if !ok {
		r.log.DebugContext(ctx, "webhook event ignored",
			logger.EventType(event.Type),
			logger.EventID(event.ID),
		)
		return nil
	}
	return fn(ctx, event)
}

func (r *Reconciler) handleSubscriptionUpdated(ctx context.Context, event *webhook.Event) error {
	obj, err := decodeSubscriptionObject(event.Object)
	if err != nil {
		return err
	}
	return r.eachMatchingSubscription(ctx, string(obj.Customer), obj.ID, eventSync, func(sub *Subscription, now time.Time) bool {
		return mergeRemote(sub, obj, now)
	})
}

func (r *Reconciler) handleSubscriptionDeleted(ctx context.Context, event *webhook.Event) error {
	obj, err := decodeSubscriptionObject(event.Object)
	if err != nil {
		return err
	}
	return r.eachMatchingSubscription(ctx, string(obj.Customer), obj.ID, eventMarkCancelled, markCancelled)
}

func (r *Reconciler) handleCustomerUpdated(ctx context.Context, event *webhook.Event) error {
	providerID, err := decodeCustomerRef(event.Object)
	if err != nil {
		return err
	}
	c, err := r.customerByProviderID(ctx, providerID)
	if err != nil || c == nil {
		return err
	}

	if err := r.svc.Account(c.ID).UpdateCardFromProcessor(ctx); err != nil {
		if errors.Is(err, ErrRemote) || errors.Is(err, ErrNotRemoteCustomer) {
			r.log.WarnContext(ctx, "payment source snapshot not refreshed",
				logger.CustomerID(c.ID),
				logger.EventType(event.Type),
				logger.Error(err),
			)
			return nil
		}
		return err
	}
	return nil
}

func (r *Reconciler) handleCustomerDeleted(ctx context.Context, event *webhook.Event) error {
	providerID, err := decodeCustomerRef(event.Object)
	if err != nil {
		return err
	}
	c, err := r.customerByProviderID(ctx, providerID)
	if err != nil || c == nil {
		return err
	}

	subs, err := r.svc.subscriptions.ListSubscriptions(ctx, c.ID)
	if err != nil {
		return fmt.Errorf("list subscriptions: %w", err)
	}
	for _, s := range subs {
		if err := r.reconcile(ctx, s, eventMarkCancelled, func(sub *Subscription, now time.Time) bool {
			changed := sub.TrialEndsAt != nil
			sub.TrialEndsAt = nil
			return markCancelled(sub, now) || changed
		}); err != nil {
			return err
		}
	}

	return r.svc.withLock(ctx, customerLockKey(c.ID), func() error {
		fresh, err := r.svc.loadCustomer(ctx, c.ID)
		if err != nil {
			return err
		}
		if fresh.ProviderID != providerID {
			return nil
		}
		fresh.detach()
		if err := r.svc.saveCustomer(ctx, fresh); err != nil {
			return fmt.Errorf("save billing customer: %w", err)
		}
		r.log.InfoContext(ctx, "processor customer detached",
			logger.CustomerID(c.ID),
			logger.ProviderID(providerID),
		)
		return nil
	})
}

func (r *Reconciler) customerByProviderID(ctx context.Context, providerID string) (*Customer, error) {
	if providerID == "" {
		return nil, nil
	}
	c, err := r.svc.customers.GetCustomerByProviderID(ctx, providerID)
	if errors.Is(err, ErrCustomerNotFound) {
		r.log.DebugContext(ctx, "webhook for unknown customer", logger.ProviderID(providerID))
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find customer: %w", err)
	}
	return c, nil
}

// eachMatchingSubscription reconciles every local subscription of the
// processor customer that mirrors the processor subscription subID.
func (r *Reconciler) eachMatchingSubscription(ctx context.Context, customerProviderID, subID string, event statemachine.Event, apply func(*Subscription, time.Time) bool) error {
	c, err := r.customerByProviderID(ctx, customerProviderID)
	if err != nil || c == nil {
		return err
	}

	subs, err := r.svc.subscriptions.ListSubscriptions(ctx, c.ID)
	if err != nil {
		return fmt.Errorf("list subscriptions: %w", err)
	}
	for _, s := range subs {
		if s.ProviderID != subID {
			continue
		}
		if err := r.reconcile(ctx, s, event, apply); err != nil {
			return err
		}
	}
	return nil
}

// reconcile re-reads sub under its lock and saves it when apply changed it.
// Ended subscriptions are left as they are.
func (r *Reconciler) reconcile(ctx context.Context, sub *Subscription, event statemachine.Event, apply func(*Subscription, time.Time) bool) error {
	return r.svc.withLock(ctx, subscriptionLockKey(sub.CustomerID, sub.Name), func() error {
		fresh, err := r.svc.subscriptions.GetSubscription(ctx, sub.ID)
		if errors.Is(err, ErrSubscriptionNotFound) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("get subscription: %w", err)
		}

		now := r.svc.clock()
		from, _, err := transition(ctx, fresh, event, now)
		if err != nil {
			if isTerminal(err, from) {
				return nil
			}
			return err
		}
		if !apply(fresh, now) {
			return nil
		}

		fresh.UpdatedAt = now
		if err := r.svc.subscriptions.SaveSubscription(ctx, fresh); err != nil {
			return fmt.Errorf("save subscription: %w", err)
		}
		r.log.InfoContext(ctx, "subscription reconciled",
			logger.CustomerID(fresh.CustomerID),
			logger.SubscriptionID(fresh.ID),
			slog.String("event", event.Name()),
			slog.String("from", from.Name()),
			slog.String("to", fresh.StateAt(now).Name()),
		)
		return nil
	})
}

// mergeRemote copies the fields present in the payload. A non-positive
// quantity is ignored and a cancellation that is already effective is never moved.
func mergeRemote(sub *Subscription, obj *subscriptionObject, now time.Time) bool {
	changed := false

	if q := obj.quantity(); q != nil && *q >= 1 && *q != sub.Quantity {
		sub.Quantity = *q
		changed = true
	}
	if plan := obj.planID(); plan != "" && plan != sub.PlanID {
		sub.PlanID = plan
		changed = true
	}
	if trialEnd := obj.trialEnd(); trialEnd != nil && !sameTime(sub.TrialEndsAt, trialEnd) {
		sub.TrialEndsAt = trialEnd
		changed = true
	}

	if obj.CancelAtPeriodEnd != nil && *obj.CancelAtPeriodEnd && !sub.cancellationEffectiveAt(now) {
		endsAt := obj.periodEnd()
		if sub.OnTrialAt(now) {
			endsAt = cloneTime(sub.TrialEndsAt)
		}
		if endsAt != nil && !sameTime(sub.EndsAt, endsAt) {
			sub.EndsAt = endsAt
			changed = true
		}
	}
	return changed
}

// markCancelled ends the subscription now unless its cancellation is already effective.
func markCancelled(sub *Subscription, now time.Time) bool {
	if sub.cancellationEffectiveAt(now) {
		return false
	}
	sub.EndsAt = timePtr(now)
	return true
}
