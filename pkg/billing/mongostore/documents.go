package mongostore

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/cashier/pkg/billing"
)

// Ids are stored as canonical strings. For UUIDv7 the string order matches
// creation order, which ListSubscriptions relies on for ties.
type customerDocument struct {
	ID           string     `bson:"_id"`
	Email        string     `bson:"email"`
	ProviderID   string     `bson:"provider_id,omitempty"`
	CardBrand    string     `bson:"card_brand,omitempty"`
	CardLastFour string     `bson:"card_last_four,omitempty"`
	TrialEndsAt  *time.Time `bson:"trial_ends_at,omitempty"`
	CreatedAt    time.Time  `bson:"created_at"`
	UpdatedAt    time.Time  `bson:"updated_at"`
}

func newCustomerDocument(c *billing.Customer) customerDocument {
	return customerDocument{
		ID:           c.ID.String(),
		Email:        c.Email,
		ProviderID:   c.ProviderID,
		CardBrand:    c.CardBrand,
		CardLastFour: c.CardLastFour,
		TrialEndsAt:  c.TrialEndsAt,
		CreatedAt:    c.CreatedAt,
		UpdatedAt:    c.UpdatedAt,
	}
}

func (d customerDocument) toCustomer() (*billing.Customer, error) {
	id, err := uuid.Parse(d.ID)
	if err != nil {
		return nil, fmt.Errorf("decode billing customer id %q: %w", d.ID, err)
	}
	return &billing.Customer{
		ID:           id,
		Email:        d.Email,
		ProviderID:   d.ProviderID,
		CardBrand:    d.CardBrand,
		CardLastFour: d.CardLastFour,
		TrialEndsAt:  utcPtr(d.TrialEndsAt),
		CreatedAt:    d.CreatedAt.UTC(),
		UpdatedAt:    d.UpdatedAt.UTC(),
	}, nil
}

type subscriptionDocument struct {
	ID          string     `bson:"_id"`
	CustomerID  string     `bson:"customer_id"`
	Name        string     `bson:"name"`
	ProviderID  string     `bson:"provider_id"`
	PlanID      string     `bson:"plan_id"`
	Quantity    int64      `bson:"quantity"`
	TrialEndsAt *time.Time `bson:"trial_ends_at,omitempty"`
	EndsAt      *time.Time `bson:"ends_at,omitempty"`
	CreatedAt   time.Time  `bson:"created_at"`
	UpdatedAt   time.Time  `bson:"updated_at"`
}

func newSubscriptionDocument(s *billing.Subscription) subscriptionDocument {
	return subscriptionDocument{
		ID:          s.ID.String(),
		CustomerID:  s.CustomerID.String(),
		Name:        s.Name,
		ProviderID:  s.ProviderID,
		PlanID:      s.PlanID,
		Quantity:    s.Quantity,
		TrialEndsAt: s.TrialEndsAt,
		EndsAt:      s.EndsAt,
		CreatedAt:   s.CreatedAt,
		UpdatedAt:   s.UpdatedAt,
	}
}

func (d subscriptionDocument) toSubscription() (*billing.Subscription, error) {
	id, err := uuid.Parse(d.ID)
	if err != nil {
		return nil, fmt.Errorf("decode subscription id %q: %w", d.ID, err)
	}
	customerID, err := uuid.Parse(d.CustomerID)
	if err != nil {
		return nil, fmt.Errorf("decode subscription customer id %q: %w", d.CustomerID, err)
	}
	return &billing.Subscription{
		ID:          id,
		CustomerID:  customerID,
		Name:        d.Name,
		ProviderID:  d.ProviderID,
		PlanID:      d.PlanID,
		Quantity:    d.Quantity,
		TrialEndsAt: utcPtr(d.TrialEndsAt),
		EndsAt:      utcPtr(d.EndsAt),
		CreatedAt:   d.CreatedAt.UTC(),
		UpdatedAt:   d.UpdatedAt.UTC(),
	}, nil
}
