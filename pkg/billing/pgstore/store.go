// Package pgstore persists billing customers and subscriptions in PostgreSQL.
package pgstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/cashier/pkg/billing"
	"github.com/dmitrymomot/cashier/pkg/pg"
)

// Store implements billing.CustomerStore and billing.SubscriptionStore.
type Store struct {
	db *sql.DB
}

var (
	_ billing.CustomerStore     = (*Store)(nil)
	_ billing.SubscriptionStore = (*Store)(nil)
)

// New creates a store on db. Use pg.OpenDB to obtain db from a pgx pool.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

const customerColumns = `id, email, provider_id, card_brand, card_last_four, trial_ends_at, created_at, updated_at`

func (s *Store) GetCustomer(ctx context.Context, id uuid.UUID) (*billing.Customer, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+customerColumns+` FROM billing_customers WHERE id = $1`, id)
	return scanCustomer(row)
}

func (s *Store) GetCustomerByProviderID(ctx context.Context, providerID string) (*billing.Customer, error) {
	if providerID == "" {
		return nil, billing.ErrCustomerNotFound
	}
	row := s.db.QueryRowContext(ctx, `SELECT `+customerColumns+` FROM billing_customers WHERE provider_id = $1`, providerID)
	return scanCustomer(row)
}

func (s *Store) SaveCustomer(ctx context.Context, c *billing.Customer) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO billing_customers (`+customerColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET
			email = EXCLUDED.email,
			provider_id = EXCLUDED.provider_id,
			card_brand = EXCLUDED.card_brand,
			card_last_four = EXCLUDED.card_last_four,
			trial_ends_at = EXCLUDED.trial_ends_at,
			updated_at = EXCLUDED.updated_at`,
		c.ID,
		c.Email,
		nullString(c.ProviderID),
		nullString(c.CardBrand),
		nullString(c.CardLastFour),
		nullTime(c.TrialEndsAt),
		c.CreatedAt,
		c.UpdatedAt,
	)
	if pg.IsDuplicateKeyError(err) {
		return errors.Join(billing.ErrDuplicateProviderID, err)
	}
	if err != nil {
		return fmt.Errorf("save billing customer: %w", err)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanCustomer(row scanner) (*billing.Customer, error) {
	var (
		c                           billing.Customer
		providerID, brand, lastFour sql.NullString
		trialEndsAt                 sql.NullTime
	)
	err := row.Scan(&c.ID, &c.Email, &providerID, &brand, &lastFour, &trialEndsAt, &c.CreatedAt, &c.UpdatedAt)
	if pg.IsNotFoundError(err) {
		return nil, billing.ErrCustomerNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan billing customer: %w", err)
	}

	c.ProviderID = providerID.String
	c.CardBrand = brand.String
	c.CardLastFour = lastFour.String
	c.TrialEndsAt = timeFromNull(trialEndsAt)
	c.CreatedAt = c.CreatedAt.UTC()
	c.UpdatedAt = c.UpdatedAt.UTC()
	return &c, nil
}

const subscriptionColumns = `id, customer_id, name, provider_id, plan_id, quantity, trial_ends_at, ends_at, created_at, updated_at`

func (s *Store) GetSubscription(ctx context.Context, id uuid.UUID) (*billing.Subscription, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+subscriptionColumns+` FROM billing_subscriptions WHERE id = $1`, id)
	return scanSubscription(row)
}

func (s *Store) ListSubscriptions(ctx context.Context, customerID uuid.UUID) ([]*billing.Subscription, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+subscriptionColumns+`
		FROM billing_subscriptions
		WHERE customer_id = $1
		ORDER BY created_at DESC, id DESC`, customerID)
	if err != nil {
		return nil, fmt.Errorf("list subscriptions: %w", err)
	}
	defer rows.Close()

	var subs []*billing.Subscription
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, err
		}
		subs = append(subs, sub)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list subscriptions: %w", err)
	}
	return subs, nil
}

func (s *Store) SaveSubscription(ctx context.Context, sub *billing.Subscription) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO billing_subscriptions (`+subscriptionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO UPDATE SET
			provider_id = EXCLUDED.provider_id,
			plan_id = EXCLUDED.plan_id,
			quantity = EXCLUDED.quantity,
			trial_ends_at = EXCLUDED.trial_ends_at,
			ends_at = EXCLUDED.ends_at,
			updated_at = EXCLUDED.updated_at`,
		sub.ID,
		sub.CustomerID,
		sub.Name,
		sub.ProviderID,
		sub.PlanID,
		sub.Quantity,
		nullTime(sub.TrialEndsAt),
		nullTime(sub.EndsAt),
		sub.CreatedAt,
		sub.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("save subscription: %w", err)
	}
	return nil
}

func scanSubscription(row scanner) (*billing.Subscription, error) {
	var (
		sub                 billing.Subscription
		trialEndsAt, endsAt sql.NullTime
	)
	err := row.Scan(&sub.ID, &sub.CustomerID, &sub.Name, &sub.ProviderID, &sub.PlanID, &sub.Quantity,
		&trialEndsAt, &endsAt, &sub.CreatedAt, &sub.UpdatedAt)
	if pg.IsNotFoundError(err) {
		return nil, billing.ErrSubscriptionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan subscription: %w", err)
	}

	sub.TrialEndsAt = timeFromNull(trialEndsAt)
	sub.EndsAt = timeFromNull(endsAt)
	sub.CreatedAt = sub.CreatedAt.UTC()
	sub.UpdatedAt = sub.UpdatedAt.UTC()
	return &sub, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func timeFromNull(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time.UTC()
	return &v
}
