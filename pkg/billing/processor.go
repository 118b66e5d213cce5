package billing

import (
	"context"
	"encoding/json"
	"strconv"
	"time"
)

// Processor is the boundary to the remote payment processor. Implementations
// carry their own credentials and translate failures into *RemoteError.
// Every result exposes the processor's raw JSON through its Raw field.
type Processor interface {
	CreateCustomer(ctx context.Context, params CustomerParams) (*RemoteCustomer, error)
	RetrieveCustomer(ctx context.Context, id string) (*RemoteCustomer, error)
	UpdateCustomer(ctx context.Context, id string, params CustomerParams) (*RemoteCustomer, error)

	CreateSubscription(ctx context.Context, params SubscriptionParams) (*RemoteSubscription, error)
	RetrieveSubscription(ctx context.Context, id string) (*RemoteSubscription, error)
	UpdateSubscription(ctx context.Context, id string, params SubscriptionUpdateParams) (*RemoteSubscription, error)
	CancelSubscription(ctx context.Context, id string) (*RemoteSubscription, error)

	CreateCharge(ctx context.Context, params ChargeParams) (*Charge, error)
	CreateRefund(ctx context.Context, params RefundParams) (*Refund, error)

	CreateInvoiceItem(ctx context.Context, params InvoiceItemParams) (*InvoiceItem, error)
	CreateInvoice(ctx context.Context, params InvoiceParams) (*Invoice, error)
	PayInvoice(ctx context.Context, id string) (*Invoice, error)
	RetrieveInvoice(ctx context.Context, id string) (*Invoice, error)
	UpcomingInvoice(ctx context.Context, customerID string) (*Invoice, error)
	ListInvoices(ctx context.Context, params InvoiceListParams) ([]*Invoice, error)

	CreatePaymentSource(ctx context.Context, customerID, token string) (*PaymentSource, error)
	ListPaymentSources(ctx context.Context, customerID string) ([]*PaymentSource, error)
	DeletePaymentSource(ctx context.Context, customerID, sourceID string) error
	RetrieveToken(ctx context.Context, id string) (*Token, error)
}

// CustomerParams creates or updates a processor customer. Empty fields are not sent.
type CustomerParams struct {
	Email         string
	Name          string
	Description   string
	Source        string // payment token attached on creation
	DefaultSource string
	Coupon        string
	Metadata      map[string]string
}

// RemoteCustomer is the processor customer.
type RemoteCustomer struct {
	ID            string
	Email         string
	DefaultSource *PaymentSource
	Raw           json.RawMessage
}

// PaymentSourceType distinguishes cards from bank accounts.
type PaymentSourceType string

const (
	PaymentSourceCard        PaymentSourceType = "card"
	PaymentSourceBankAccount PaymentSourceType = "bank_account"
)

// PaymentSource is a card or bank account attached to a processor customer.
type PaymentSource struct {
	ID       string
	Type     PaymentSourceType
	Brand    string
	LastFour string
	ExpMonth int64
	ExpYear  int64
	Raw      json.RawMessage
}

func (p *PaymentSource) snapshot() (brand, lastFour string) {
	if p.Type == PaymentSourceBankAccount {
		return BankAccountBrand, p.LastFour
	}
	return p.Brand, p.LastFour
}

// Token is a single-use payment token.
type Token struct {
	ID       string
	Type     PaymentSourceType
	SourceID string // id of the card or bank account the token wraps
	Raw      json.RawMessage
}

// RemoteStatus is the processor's subscription status.
type RemoteStatus string

const (
	RemoteStatusIncomplete        RemoteStatus = "incomplete"
	RemoteStatusIncompleteExpired RemoteStatus = "incomplete_expired"
	RemoteStatusTrialing          RemoteStatus = "trialing"
	RemoteStatusActive            RemoteStatus = "active"
	RemoteStatusPastDue           RemoteStatus = "past_due"
	RemoteStatusCanceled          RemoteStatus = "canceled"
	RemoteStatusUnpaid            RemoteStatus = "unpaid"
)

// trialEndNow is the wire value that ends a trial immediately.
const trialEndNow = "now"

// SubscriptionParams creates a processor subscription. Zero values are omitted.
type SubscriptionParams struct {
	CustomerID         string
	PlanID             string
	Quantity           int64
	TrialEnd           *time.Time
	TrialEndNow        bool
	BillingCycleAnchor *time.Time
	Coupon             string
	TaxPercent         float64
	Metadata           map[string]string
}

// TrialEndValue renders the trial end as sent to the processor: "now" when
// the trial is skipped, a unix timestamp, or empty when omitted.
func (p SubscriptionParams) TrialEndValue() string {
	return renderTrialEnd(p.TrialEndNow, p.TrialEnd)
}

// SubscriptionUpdateParams changes a processor subscription. Nil and zero
// values are not sent. ItemID addresses the subscription item whose plan or
// quantity changes.
type SubscriptionUpdateParams struct {
	ItemID            string
	PlanID            string
	Quantity          *int64
	CancelAtPeriodEnd *bool
	TrialEnd          *time.Time
	TrialEndNow       bool
	Prorate           *bool
}

// TrialEndValue renders the trial end like SubscriptionParams.TrialEndValue.
func (p SubscriptionUpdateParams) TrialEndValue() string {
	return renderTrialEnd(p.TrialEndNow, p.TrialEnd)
}

func renderTrialEnd(now bool, at *time.Time) string {
	switch {
	case now:
		return trialEndNow
	case at != nil:
		return strconv.FormatInt(at.Unix(), 10)
	default:
		return ""
	}
}

// RemoteSubscription is the processor subscription.
type RemoteSubscription struct {
	ID                string
	CustomerID        string
	Status            RemoteStatus
	PlanID            string
	ItemID            string
	Quantity          int64
	TrialEnd          *time.Time
	CurrentPeriodEnd  *time.Time
	CancelAtPeriodEnd bool
	Raw               json.RawMessage
}

// Incomplete reports a subscription whose initial payment did not succeed.
func (r *RemoteSubscription) Incomplete() bool {
	return r.Status == RemoteStatusIncomplete || r.Status == RemoteStatusIncompleteExpired
}

// ChargeParams describes a one-off charge. Source wins over CustomerID.
type ChargeParams struct {
	Amount      int64
	Currency    string
	CustomerID  string
	Source      string
	Description string
	Metadata    map[string]string
}

// Charge is a processor charge.
type Charge struct {
	ID       string
	Amount   int64
	Currency string
	Status   string
	Paid     bool
	Raw      json.RawMessage
}

// RefundParams refunds a charge. A zero Amount refunds it fully.
type RefundParams struct {
	ChargeID string
	Amount   int64
	Reason   string
}

// Refund is a processor refund.
type Refund struct {
	ID       string
	ChargeID string
	Amount   int64
	Status   string
	Raw      json.RawMessage
}

// InvoiceItemParams adds a pending line to the customer's next invoice.
type InvoiceItemParams struct {
	CustomerID  string
	Amount      int64
	Currency    string
	Description string
}

// InvoiceItem is a pending invoice line.
type InvoiceItem struct {
	ID          string
	Amount      int64
	Currency    string
	Description string
	Raw         json.RawMessage
}

// InvoiceParams creates an invoice from the customer's pending items.
type InvoiceParams struct {
	CustomerID  string
	Description string
	TaxPercent  float64
}

// InvoiceListParams lists a customer's invoices, newest first.
type InvoiceListParams struct {
	CustomerID string
	Limit      int64
}

// Invoice is a processor invoice.
type Invoice struct {
	ID         string
	CustomerID string
	Status     string
	Total      int64
	Currency   string
	Created    time.Time
	Raw        json.RawMessage
}

// InvoiceStatusPaid is the status of a settled invoice.
const InvoiceStatusPaid = "paid"

// Paid reports a settled invoice.
func (i *Invoice) Paid() bool {
	return i.Status == InvoiceStatusPaid
}
