// Package billing keeps a local, webhook-reconciled copy of recurring-billing
// state held by a remote payment processor.
//
// A Service binds a Processor, the customer and subscription stores and a
// Locker. Service.Account returns the façade used by application code:
//
//	svc := billing.NewService(processor, store, store, billing.WithLogger(log))
//	account := svc.Account(userID)
//
//	sub, err := account.NewSubscription("default", "price_pro").
//		TrialDays(14).
//		Create(ctx, token, billing.CustomerOptions{Email: email})
//
//	if account.Subscribed(ctx, "default", "") {
//		// grant access
//	}
//
// Subscription status is never stored. It is derived from TrialEndsAt and
// EndsAt, and operations are checked against a lifecycle table built on
// pkg/statemachine. Once a cancellation is effective and no trial covers it
// the subscription is ended, and nothing moves it out of that state.
//
// The Reconciler implements webhook.Dispatcher. It applies processor
// notifications to the local records under the same per-subscription lock the
// façade uses, so webhooks and user actions never interleave on one record.
//
// StripeProcessor and StripeVerifier connect the package to Stripe through
// stripe-go. MemoryStore and MemoryLocker serve tests and single-process
// deployments; see the pgstore and mongostore subpackages and pkg/redis for
// durable ones.
package billing
