// Package mongostore persists billing customers and subscriptions in MongoDB.
package mongostore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/dmitrymomot/cashier/pkg/billing"
	mongox "github.com/dmitrymomot/cashier/pkg/mongo"
)

// Collection names.
const (
	CustomersCollection     = "billing_customers"
	SubscriptionsCollection = "billing_subscriptions"
)

// Store implements billing.CustomerStore and billing.SubscriptionStore.
type Store struct {
	customers     *mongo.Collection
	subscriptions *mongo.Collection
}

var (
	_ billing.CustomerStore     = (*Store)(nil)
	_ billing.SubscriptionStore = (*Store)(nil)
)

// New creates a store on db. Call EnsureIndexes once before serving traffic.
func New(db *mongo.Database) *Store {
	return &Store{
		customers:     db.Collection(CustomersCollection),
		subscriptions: db.Collection(SubscriptionsCollection),
	}
}

// EnsureIndexes creates the unique processor id index and the lookup index
// used to find the latest subscription by name. It is idempotent.
func (s *Store) EnsureIndexes(ctx context.Context) error {
	_, err := s.customers.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "provider_id", Value: 1}},
		Options: options.Index().
			SetName("billing_customers_provider_id").
			SetUnique(true).
			SetPartialFilterExpression(bson.D{{Key: "provider_id", Value: bson.D{{Key: "$type", Value: "string"}}}}),
	})
	if err != nil {
		return fmt.Errorf("create customer indexes: %w", err)
	}

	_, err = s.subscriptions.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys: bson.D{
				{Key: "customer_id", Value: 1},
				{Key: "name", Value: 1},
				{Key: "created_at", Value: -1},
			},
			Options: options.Index().SetName("billing_subscriptions_customer_name"),
		},
		{
			Keys:    bson.D{{Key: "provider_id", Value: 1}},
			Options: options.Index().SetName("billing_subscriptions_provider_id"),
		},
	})
	if err != nil {
		return fmt.Errorf("create subscription indexes: %w", err)
	}
	return nil
}

func (s *Store) GetCustomer(ctx context.Context, id uuid.UUID) (*billing.Customer, error) {
	return s.findCustomer(ctx, bson.D{{Key: "_id", Value: id.String()}})
}

func (s *Store) GetCustomerByProviderID(ctx context.Context, providerID string) (*billing.Customer, error) {
	if providerID == "" {
		return nil, billing.ErrCustomerNotFound
	}
	return s.findCustomer(ctx, bson.D{{Key: "provider_id", Value: providerID}})
}

func (s *Store) findCustomer(ctx context.Context, filter bson.D) (*billing.Customer, error) {
	var doc customerDocument
	err := s.customers.FindOne(ctx, filter).Decode(&doc)
	if mongox.IsNotFoundError(err) {
		return nil, billing.ErrCustomerNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find billing customer: %w", err)
	}
	return doc.toCustomer()
}

func (s *Store) SaveCustomer(ctx context.Context, c *billing.Customer) error {
	doc := newCustomerDocument(c)
	_, err := s.customers.ReplaceOne(ctx,
		bson.D{{Key: "_id", Value: doc.ID}},
		doc,
		options.Replace().SetUpsert(true),
	)
	if mongox.IsDuplicateKeyError(err) {
		return errors.Join(billing.ErrDuplicateProviderID, err)
	}
	if err != nil {
		return fmt.Errorf("save billing customer: %w", err)
	}
	return nil
}

func (s *Store) GetSubscription(ctx context.Context, id uuid.UUID) (*billing.Subscription, error) {
	var doc subscriptionDocument
	err := s.subscriptions.FindOne(ctx, bson.D{{Key: "_id", Value: id.String()}}).Decode(&doc)
	if mongox.IsNotFoundError(err) {
		return nil, billing.ErrSubscriptionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find subscription: %w", err)
	}
	return doc.toSubscription()
}

func (s *Store) ListSubscriptions(ctx context.Context, customerID uuid.UUID) ([]*billing.Subscription, error) {
	cur, err := s.subscriptions.Find(ctx,
		bson.D{{Key: "customer_id", Value: customerID.String()}},
		options.Find().SetSort(bson.D{
			{Key: "created_at", Value: -1},
			{Key: "_id", Value: -1},
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("list subscriptions: %w", err)
	}

	var docs []subscriptionDocument
	if err := cur.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("list subscriptions: %w", err)
	}

	subs := make([]*billing.Subscription, 0, len(docs))
	for i := range docs {
		sub, err := docs[i].toSubscription()
		if err != nil {
			return nil, err
		}
		subs = append(subs, sub)
	}
	return subs, nil
}

func (s *Store) SaveSubscription(ctx context.Context, sub *billing.Subscription) error {
	doc := newSubscriptionDocument(sub)
	_, err := s.subscriptions.ReplaceOne(ctx,
		bson.D{{Key: "_id", Value: doc.ID}},
		doc,
		options.Replace().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("save subscription: %w", err)
	}
	return nil
}

// utcPtr copies t in UTC. BSON datetimes carry millisecond precision.
func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := t.UTC()
	return &v
}
