package billing

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// MemoryStore keeps customers and subscriptions in process memory. It copies
// records in and out, so callers never share state with the store.
type MemoryStore struct {
	mu            sync.RWMutex
	customers     map[uuid.UUID]Customer
	subscriptions map[uuid.UUID]Subscription
}

// NewMemoryStore creates an empty store implementing CustomerStore and SubscriptionStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		customers:     make(map[uuid.UUID]Customer),
		subscriptions: make(map[uuid.UUID]Subscription),
	}
}

func (m *MemoryStore) GetCustomer(_ context.Context, id uuid.UUID) (*Customer, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.customers[id]
	if !ok {
		return nil, ErrCustomerNotFound
	}
	return copyCustomer(c), nil
}

func (m *MemoryStore) GetCustomerByProviderID(_ context.Context, providerID string) (*Customer, error) {
	if providerID == "" {
		return nil, ErrCustomerNotFound
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, c := range m.customers {
		if c.ProviderID == providerID {
			return copyCustomer(c), nil
		}
	}
	return nil, ErrCustomerNotFound
}

func (m *MemoryStore) SaveCustomer(_ context.Context, customer *Customer) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if customer.ProviderID != "" {
		for id, c := range m.customers {
			if id != customer.ID && c.ProviderID == customer.ProviderID {
				return ErrDuplicateProviderID
			}
		}
	}
	m.customers[customer.ID] = *copyCustomer(*customer)
	return nil
}

func (m *MemoryStore) GetSubscription(_ context.Context, id uuid.UUID) (*Subscription, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.subscriptions[id]
	if !ok {
		return nil, ErrSubscriptionNotFound
	}
	return copySubscription(s), nil
}

func (m *MemoryStore) ListSubscriptions(_ context.Context, customerID uuid.UUID) ([]*Subscription, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var subs []*Subscription
	for _, s := range m.subscriptions {
		if s.CustomerID == customerID {
			subs = append(subs, copySubscription(s))
		}
	}
	sortNewestFirst(subs)
	return subs, nil
}

func (m *MemoryStore) SaveSubscription(_ context.Context, sub *Subscription) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subscriptions[sub.ID] = *copySubscription(*sub)
	return nil
}

func copyCustomer(c Customer) *Customer {
	c.TrialEndsAt = cloneTime(c.TrialEndsAt)
	return &c
}

func copySubscription(s Subscription) *Subscription {
	s.TrialEndsAt = cloneTime(s.TrialEndsAt)
	s.EndsAt = cloneTime(s.EndsAt)
	return &s
}
