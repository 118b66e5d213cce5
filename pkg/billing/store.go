package billing

import (
	"context"

	"github.com/google/uuid"
)

// CustomerStore persists billing customers.
type CustomerStore interface {
	// GetCustomer returns ErrCustomerNotFound if the customer has no billing record.
	GetCustomer(ctx context.Context, id uuid.UUID) (*Customer, error)
	// GetCustomerByProviderID returns ErrCustomerNotFound for unknown processor ids.
	GetCustomerByProviderID(ctx context.Context, providerID string) (*Customer, error)
	// SaveCustomer inserts or updates by ID. A processor id already used by
	// another customer yields ErrDuplicateProviderID.
	SaveCustomer(ctx context.Context, customer *Customer) error
}

// SubscriptionStore persists subscriptions. Records are never deleted.
type SubscriptionStore interface {
	// GetSubscription returns ErrSubscriptionNotFound for unknown ids.
	GetSubscription(ctx context.Context, id uuid.UUID) (*Subscription, error)
	// ListSubscriptions returns every subscription of the customer, newest first.
	ListSubscriptions(ctx context.Context, customerID uuid.UUID) ([]*Subscription, error)
	// SaveSubscription inserts or updates by ID.
	SaveSubscription(ctx context.Context, sub *Subscription) error
}
