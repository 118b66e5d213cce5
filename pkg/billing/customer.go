package billing

import (
	"time"

	"github.com/google/uuid"
)

// BankAccountBrand is the card brand recorded for bank account sources.
const BankAccountBrand = "Bank Account"

// Customer is the billing shadow of an application account.
// ProviderID is empty until the processor customer is created and never
// changes afterwards.
type Customer struct {
	ID           uuid.UUID
	Email        string
	ProviderID   string
	CardBrand    string
	CardLastFour string
	TrialEndsAt  *time.Time // generic trial, not tied to a subscription
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// HasProviderID reports whether the processor customer exists.
func (c *Customer) HasProviderID() bool {
	return c.ProviderID != ""
}

// HasCardOnFile reports whether a default payment source snapshot is recorded.
func (c *Customer) HasCardOnFile() bool {
	return c.CardBrand != ""
}

// OnGenericTrialAt reports whether the account level trial covers now.
func (c *Customer) OnGenericTrialAt(now time.Time) bool {
	return c.TrialEndsAt != nil && now.Before(*c.TrialEndsAt)
}

// setPaymentSource records the snapshot of src, clearing it when src is nil.
// It reports whether anything changed.
func (c *Customer) setPaymentSource(src *PaymentSource) bool {
	brand, last4 := "", ""
	if src != nil {
		brand, last4 = src.snapshot()
	}
	if c.CardBrand == brand && c.CardLastFour == last4 {
		return false
	}
	c.CardBrand, c.CardLastFour = brand, last4
	return true
}

// detach forgets the processor customer after it was deleted remotely.
func (c *Customer) detach() {
	c.ProviderID = ""
	c.TrialEndsAt = nil
	c.CardBrand = ""
	c.CardLastFour = ""
}
