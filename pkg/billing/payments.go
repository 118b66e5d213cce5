package billing

import (
	"context"
	"fmt"

	"github.com/dmitrymomot/cashier/pkg/logger"
)

// DefaultInvoiceListLimit is used when ListOptions.Limit is zero.
const DefaultInvoiceListLimit = 24

// ChargeOptions configure a one-off charge. Source wins over the account's
// processor customer.
type ChargeOptions struct {
	Source      string
	Currency    string
	Description string
	Metadata    map[string]string
}

// RefundOptions configure a refund. A zero Amount refunds the charge fully.
type RefundOptions struct {
	Amount int64
	Reason string
}

// ListOptions limit invoice listings.
type ListOptions struct {
	Limit int64
}

// Charge makes a one-off charge of amount in the smallest currency unit.
func (a *Account) Charge(ctx context.Context, amount int64, opts ChargeOptions) (*Charge, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}

	params := ChargeParams{
		Amount:      amount,
		Currency:    opts.Currency,
		Source:      opts.Source,
		Description: opts.Description,
		Metadata:    opts.Metadata,
	}
	if params.Currency == "" {
		params.Currency = a.PreferredCurrency()
	}
	if params.Source == "" {
		c, err := a.Customer(ctx)
		if err != nil {
			return nil, err
		}
		if !c.HasProviderID() {
			return nil, ErrNoPaymentSource
		}
		params.CustomerID = c.ProviderID
	}

	charge, err := a.svc.processor.CreateCharge(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("create charge: %w", err)
	}
	return charge, nil
}

// Refund refunds a charge.
func (a *Account) Refund(ctx context.Context, chargeID string, opts RefundOptions) (*Refund, error) {
	refund, err := a.svc.processor.CreateRefund(ctx, RefundParams{
		ChargeID: chargeID,
		Amount:   opts.Amount,
		Reason:   opts.Reason,
	})
	if err != nil {
		return nil, fmt.Errorf("create refund: %w", err)
	}
	return refund, nil
}

// Tab adds a pending line to the customer's next invoice.
func (a *Account) Tab(ctx context.Context, description string, amount int64) (*InvoiceItem, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}
	c, err := a.remoteCustomerRecord(ctx)
	if err != nil {
		return nil, err
	}

	item, err := a.svc.processor.CreateInvoiceItem(ctx, InvoiceItemParams{
		CustomerID:  c.ProviderID,
		Amount:      amount,
		Currency:    a.PreferredCurrency(),
		Description: description,
	})
	if err != nil {
		return nil, fmt.Errorf("create invoice item: %w", err)
	}
	return item, nil
}

// InvoiceFor adds a line and invoices the customer right away.
func (a *Account) InvoiceFor(ctx context.Context, description string, amount int64) (*Invoice, error) {
	if _, err := a.Tab(ctx, description, amount); err != nil {
		return nil, err
	}
	return a.Invoice(ctx)
}

// Invoice invoices the pending lines and pays the invoice. It returns nil
// when the account has no processor customer or the processor rejects the
// request, e.g. because nothing is pending.
func (a *Account) Invoice(ctx context.Context) (*Invoice, error) {
	c, err := a.Customer(ctx)
	if err != nil {
		return nil, err
	}
	if !c.HasProviderID() {
		return nil, nil
	}

	inv, err := a.svc.processor.CreateInvoice(ctx, InvoiceParams{
		CustomerID: c.ProviderID,
		TaxPercent: a.svc.taxPercentage(ctx, c),
	})
	if err != nil {
		return nilOnInvalidRequest[Invoice](fmt.Errorf("create invoice: %w", err))
	}

	paid, err := a.svc.processor.PayInvoice(ctx, inv.ID)
	if err != nil {
		return nilOnInvalidRequest[Invoice](fmt.Errorf("pay invoice: %w", err))
	}
	return paid, nil
}

// UpcomingInvoice previews the next invoice, or nil when there is none.
func (a *Account) UpcomingInvoice(ctx context.Context) (*Invoice, error) {
	c, err := a.Customer(ctx)
	if err != nil {
		return nil, err
	}
	if !c.HasProviderID() {
		return nil, nil
	}

	inv, err := a.svc.processor.UpcomingInvoice(ctx, c.ProviderID)
	if err != nil {
		return nilOnInvalidRequest[Invoice](fmt.Errorf("retrieve upcoming invoice: %w", err))
	}
	return inv, nil
}

// FindInvoice retrieves an invoice by id, or nil when the processor does not know it.
func (a *Account) FindInvoice(ctx context.Context, id string) (*Invoice, error) {
	inv, err := a.svc.processor.RetrieveInvoice(ctx, id)
	if err != nil {
		return nilOnInvalidRequest[Invoice](fmt.Errorf("retrieve invoice: %w", err))
	}
	return inv, nil
}

// FindInvoiceOrFail is FindInvoice that also checks the invoice belongs to the account.
func (a *Account) FindInvoiceOrFail(ctx context.Context, id string) (*Invoice, error) {
	inv, err := a.FindInvoice(ctx, id)
	if err != nil {
		return nil, err
	}
	if inv == nil {
		return nil, ErrInvoiceNotFound
	}

	c, err := a.Customer(ctx)
	if err != nil {
		return nil, err
	}
	if !c.HasProviderID() || inv.CustomerID != c.ProviderID {
		return nil, ErrInvoiceAccessDenied
	}
	return inv, nil
}

// Invoices lists the customer's invoices, newest first. Unpaid invoices are
// included only when includePending is set.
func (a *Account) Invoices(ctx context.Context, includePending bool, opts ListOptions) ([]*Invoice, error) {
	c, err := a.Customer(ctx)
	if err != nil {
		return nil, err
	}
	if !c.HasProviderID() {
		return nil, nil
	}

	limit := opts.Limit
	if limit <= 0 {
		limit = DefaultInvoiceListLimit
	}
	all, err := a.svc.processor.ListInvoices(ctx, InvoiceListParams{CustomerID: c.ProviderID, Limit: limit})
	if err != nil {
		return nil, fmt.Errorf("list invoices: %w", err)
	}
	if includePending {
		return all, nil
	}

	paid := make([]*Invoice, 0, len(all))
	for _, inv := range all {
		if inv.Paid() {
			paid = append(paid, inv)
		}
	}
	return paid, nil
}

// InvoicesIncludingPending lists paid and unpaid invoices.
func (a *Account) InvoicesIncludingPending(ctx context.Context, opts ListOptions) ([]*Invoice, error) {
	return a.Invoices(ctx, true, opts)
}

// HasCardOnFile reports whether a default payment source snapshot is stored.
func (a *Account) HasCardOnFile(ctx context.Context) bool {
	c, err := a.Customer(ctx)
	if err != nil {
		a.logError(ctx, "failed to load billing customer", err)
		return false
	}
	return c.HasCardOnFile()
}

// Cards lists the customer's cards. Bank accounts are left out.
func (a *Account) Cards(ctx context.Context) ([]*PaymentSource, error) {
	c, err := a.Customer(ctx)
	if err != nil {
		return nil, err
	}
	if !c.HasProviderID() {
		return nil, nil
	}

	sources, err := a.svc.processor.ListPaymentSources(ctx, c.ProviderID)
	if err != nil {
		return nil, fmt.Errorf("list payment sources: %w", err)
	}
	cards := make([]*PaymentSource, 0, len(sources))
	for _, src := range sources {
		if src.Type == PaymentSourceCard {
			cards = append(cards, src)
		}
	}
	return cards, nil
}

// DefaultCard returns the customer's default payment source, or nil.
func (a *Account) DefaultCard(ctx context.Context) (*PaymentSource, error) {
	c, err := a.Customer(ctx)
	if err != nil {
		return nil, err
	}
	if !c.HasProviderID() {
		return nil, nil
	}

	remote, err := a.svc.processor.RetrieveCustomer(ctx, c.ProviderID)
	if err != nil {
		return nil, fmt.Errorf("retrieve customer: %w", err)
	}
	return remote.DefaultSource, nil
}

// UpdateCard makes the source behind token the default payment source.
// Nothing changes when it already is.
func (a *Account) UpdateCard(ctx context.Context, token string) error {
	if token == "" {
		return ErrInvalidToken
	}

	return a.svc.withLock(ctx, customerLockKey(a.id), func() error {
		c, err := a.remoteCustomerRecord(ctx)
		if err != nil {
			return err
		}

		tok, err := a.svc.processor.RetrieveToken(ctx, token)
		if err != nil {
			return fmt.Errorf("retrieve token: %w", err)
		}
		remote, err := a.svc.processor.RetrieveCustomer(ctx, c.ProviderID)
		if err != nil {
			return fmt.Errorf("retrieve customer: %w", err)
		}
		if remote.DefaultSource != nil && tok.SourceID != "" && remote.DefaultSource.ID == tok.SourceID {
			return nil
		}

		src, err := a.svc.processor.CreatePaymentSource(ctx, c.ProviderID, token)
		if err != nil {
			return fmt.Errorf("create payment source: %w", err)
		}
		updated, err := a.svc.processor.UpdateCustomer(ctx, c.ProviderID, CustomerParams{DefaultSource: src.ID})
		if err != nil {
			return fmt.Errorf("set default payment source: %w", err)
		}

		def := updated.DefaultSource
		if def == nil {
			def = src
		}
		if !c.setPaymentSource(def) {
			return nil
		}
		if err := a.svc.saveCustomer(ctx, c); err != nil {
			return fmt.Errorf("save billing customer: %w", err)
		}

		a.svc.log.InfoContext(ctx, "default payment source updated",
			logger.CustomerID(a.id),
			logger.ProviderID(c.ProviderID),
		)
		return nil
	})
}

// UpdateCardFromProcessor refreshes the payment source snapshot from the
// processor's current default source. No default source clears it.
func (a *Account) UpdateCardFromProcessor(ctx context.Context) error {
	return a.svc.withLock(ctx, customerLockKey(a.id), func() error {
		c, err := a.remoteCustomerRecord(ctx)
		if err != nil {
			return err
		}

		remote, err := a.svc.processor.RetrieveCustomer(ctx, c.ProviderID)
		if err != nil {
			return fmt.Errorf("retrieve customer: %w", err)
		}
		if !c.setPaymentSource(remote.DefaultSource) {
			return nil
		}
		return a.svc.saveCustomer(ctx, c)
	})
}

// DeleteCards removes every card from the processor customer.
func (a *Account) DeleteCards(ctx context.Context) error {
	c, err := a.remoteCustomerRecord(ctx)
	if err != nil {
		return err
	}
	cards, err := a.Cards(ctx)
	if err != nil {
		return err
	}
	for _, card := range cards {
		if err := a.svc.processor.DeletePaymentSource(ctx, c.ProviderID, card.ID); err != nil {
			return fmt.Errorf("delete payment source %s: %w", card.ID, err)
		}
	}
	return a.UpdateCardFromProcessor(ctx)
}

// nilOnInvalidRequest collapses a processor rejection into an empty result.
func nilOnInvalidRequest[T any](err error) (*T, error) {
	if IsRemoteInvalidRequest(err) {
		return nil, nil
	}
	return nil, err
}
