package billing

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/stripe/stripe-go/v83"
	"github.com/stripe/stripe-go/v83/charge"
	"github.com/stripe/stripe-go/v83/customer"
	"github.com/stripe/stripe-go/v83/invoice"
	"github.com/stripe/stripe-go/v83/invoiceitem"
	"github.com/stripe/stripe-go/v83/paymentsource"
	"github.com/stripe/stripe-go/v83/refund"
	"github.com/stripe/stripe-go/v83/subscription"
	"github.com/stripe/stripe-go/v83/token"

	"github.com/dmitrymomot/cashier/pkg/logger"
)

// StripeOption configures a StripeProcessor.
type StripeOption func(*stripeOptions)

type stripeOptions struct {
	log        *slog.Logger
	httpClient *http.Client
}

// WithStripeLogger routes client library logs to log.
func WithStripeLogger(log *slog.Logger) StripeOption {
	return func(o *stripeOptions) {
		if log != nil {
			o.log = log
		}
	}
}

// WithStripeHTTPClient sets the HTTP client used for API calls.
func WithStripeHTTPClient(c *http.Client) StripeOption {
	return func(o *stripeOptions) {
		if c != nil {
			o.httpClient = c
		}
	}
}

// StripeProcessor implements Processor with stripe-go. Credentials are bound
// at construction; the package level stripe.Key is never used.
type StripeProcessor struct {
	backend       stripe.Backend
	key           string
	customers     *customer.Client
	subscriptions *subscription.Client
	charges       *charge.Client
	refunds       *refund.Client
	invoices      *invoice.Client
	invoiceItems  *invoiceitem.Client
	sources       *paymentsource.Client
	tokens        *token.Client
}

var _ Processor = (*StripeProcessor)(nil)

// NewStripeProcessor creates a processor client from cfg.
func NewStripeProcessor(cfg StripeConfig, opts ...StripeOption) (*StripeProcessor, error) {
	if cfg.SecretKey == "" {
		return nil, ErrMissingAPIKey
	}

	o := &stripeOptions{log: logger.Discard()}
	for _, opt := range opts {
		opt(o)
	}

	bc := &stripe.BackendConfig{
		MaxNetworkRetries: stripe.Int64(cfg.MaxNetworkRetries),
		LeveledLogger:     &stripeLogger{log: o.log.With(logger.Component("stripe"))},
	}
	if cfg.APIBaseURL != "" {
		bc.URL = stripe.String(cfg.APIBaseURL)
	}
	if o.httpClient != nil {
		bc.HTTPClient = o.httpClient
	}

	b := stripe.GetBackendWithConfig(stripe.APIBackend, bc)
	key := cfg.SecretKey
	return &StripeProcessor{
		backend:       b,
		key:           key,
		customers:     &customer.Client{B: b, Key: key},
		subscriptions: &subscription.Client{B: b, Key: key},
		charges:       &charge.Client{B: b, Key: key},
		refunds:       &refund.Client{B: b, Key: key},
		invoices:      &invoice.Client{B: b, Key: key},
		invoiceItems:  &invoiceitem.Client{B: b, Key: key},
		sources:       &paymentsource.Client{B: b, Key: key},
		tokens:        &token.Client{B: b, Key: key},
	}, nil
}

// APIVersion is the processor API version pinned by the client library.
func (p *StripeProcessor) APIVersion() string {
	return stripe.APIVersion
}

func (p *StripeProcessor) CreateCustomer(ctx context.Context, in CustomerParams) (*RemoteCustomer, error) {
	params := customerParams(ctx, in)
	c, err := p.customers.New(params)
	if err != nil {
		return nil, classifyStripeError(err)
	}
	return toRemoteCustomer(c), nil
}

func (p *StripeProcessor) RetrieveCustomer(ctx context.Context, id string) (*RemoteCustomer, error) {
	params := &stripe.CustomerParams{}
	params.Context = ctx
	params.AddExpand("default_source")
	c, err := p.customers.Get(id, params)
	if err != nil {
		return nil, classifyStripeError(err)
	}
	return toRemoteCustomer(c), nil
}

func (p *StripeProcessor) UpdateCustomer(ctx context.Context, id string, in CustomerParams) (*RemoteCustomer, error) {
	params := customerParams(ctx, in)
	if in.DefaultSource != "" {
		params.DefaultSource = stripe.String(in.DefaultSource)
	}
	c, err := p.customers.Update(id, params)
	if err != nil {
		return nil, classifyStripeError(err)
	}
	return toRemoteCustomer(c), nil
}

func customerParams(ctx context.Context, in CustomerParams) *stripe.CustomerParams {
	params := &stripe.CustomerParams{}
	params.Context = ctx
	params.AddExpand("default_source")
	if in.Email != "" {
		params.Email = stripe.String(in.Email)
	}
	if in.Name != "" {
		params.Name = stripe.String(in.Name)
	}
	if in.Description != "" {
		params.Description = stripe.String(in.Description)
	}
	if in.Source != "" {
		params.AddExtra("source", in.Source)
	}
	if in.Coupon != "" {
		params.AddExtra("coupon", in.Coupon)
	}
	for k, v := range in.Metadata {
		params.AddMetadata(k, v)
	}
	return params
}

func (p *StripeProcessor) CreateSubscription(ctx context.Context, in SubscriptionParams) (*RemoteSubscription, error) {
	params := &stripe.SubscriptionParams{
		Customer: stripe.String(in.CustomerID),
		Items: []*stripe.SubscriptionItemsParams{{
			Price:    stripe.String(in.PlanID),
			Quantity: stripe.Int64(in.Quantity),
		}},
	}
	params.Context = ctx
	switch {
	case in.TrialEndNow:
		params.TrialEndNow = stripe.Bool(true)
	case in.TrialEnd != nil:
		params.TrialEnd = stripe.Int64(in.TrialEnd.Unix())
	}
	if in.BillingCycleAnchor != nil {
		params.BillingCycleAnchor = stripe.Int64(in.BillingCycleAnchor.Unix())
	}
	if in.Coupon != "" {
		params.Discounts = []*stripe.SubscriptionDiscountParams{{Coupon: stripe.String(in.Coupon)}}
	}
	if in.TaxPercent > 0 {
		params.AddExtra("tax_percent", strconv.FormatFloat(in.TaxPercent, 'f', -1, 64))
	}
	for k, v := range in.Metadata {
		params.AddMetadata(k, v)
	}

	s, err := p.subscriptions.New(params)
	if err != nil {
		return nil, classifyStripeError(err)
	}
	return toRemoteSubscription(s)
}

func (p *StripeProcessor) RetrieveSubscription(ctx context.Context, id string) (*RemoteSubscription, error) {
	params := &stripe.SubscriptionParams{}
	params.Context = ctx
	s, err := p.subscriptions.Get(id, params)
	if err != nil {
		return nil, classifyStripeError(err)
	}
	return toRemoteSubscription(s)
}

func (p *StripeProcessor) UpdateSubscription(ctx context.Context, id string, in SubscriptionUpdateParams) (*RemoteSubscription, error) {
	params := &stripe.SubscriptionParams{}
	params.Context = ctx
	if in.PlanID != "" || in.Quantity != nil {
		item := &stripe.SubscriptionItemsParams{}
		if in.ItemID != "" {
			item.ID = stripe.String(in.ItemID)
		}
		if in.PlanID != "" {
			item.Price = stripe.String(in.PlanID)
		}
		if in.Quantity != nil {
			item.Quantity = stripe.Int64(*in.Quantity)
		}
		params.Items = []*stripe.SubscriptionItemsParams{item}
	}
	if in.CancelAtPeriodEnd != nil {
		params.CancelAtPeriodEnd = stripe.Bool(*in.CancelAtPeriodEnd)
	}
	switch {
	case in.TrialEndNow:
		params.TrialEndNow = stripe.Bool(true)
	case in.TrialEnd != nil:
		params.TrialEnd = stripe.Int64(in.TrialEnd.Unix())
	}
	if in.Prorate != nil {
		behavior := "none"
		if *in.Prorate {
			behavior = "create_prorations"
		}
		params.ProrationBehavior = stripe.String(behavior)
	}

	s, err := p.subscriptions.Update(id, params)
	if err != nil {
		return nil, classifyStripeError(err)
	}
	return toRemoteSubscription(s)
}

func (p *StripeProcessor) CancelSubscription(ctx context.Context, id string) (*RemoteSubscription, error) {
	params := &stripe.SubscriptionCancelParams{}
	params.Context = ctx
	s, err := p.subscriptions.Cancel(id, params)
	if err != nil {
		return nil, classifyStripeError(err)
	}
	return toRemoteSubscription(s)
}

func (p *StripeProcessor) CreateCharge(ctx context.Context, in ChargeParams) (*Charge, error) {
	params := &stripe.ChargeParams{
		Amount:   stripe.Int64(in.Amount),
		Currency: stripe.String(in.Currency),
	}
	params.Context = ctx
	if in.Source != "" {
		params.AddExtra("source", in.Source)
	} else if in.CustomerID != "" {
		params.Customer = stripe.String(in.CustomerID)
	}
	if in.Description != "" {
		params.Description = stripe.String(in.Description)
	}
	for k, v := range in.Metadata {
		params.AddMetadata(k, v)
	}

	c, err := p.charges.New(params)
	if err != nil {
		return nil, classifyStripeError(err)
	}
	return &Charge{
		ID:       c.ID,
		Amount:   c.Amount,
		Currency: string(c.Currency),
		Status:   string(c.Status),
		Paid:     c.Paid,
		Raw:      rawJSON(c.LastResponse),
	}, nil
}

func (p *StripeProcessor) CreateRefund(ctx context.Context, in RefundParams) (*Refund, error) {
	params := &stripe.RefundParams{Charge: stripe.String(in.ChargeID)}
	params.Context = ctx
	if in.Amount > 0 {
		params.Amount = stripe.Int64(in.Amount)
	}
	if in.Reason != "" {
		params.Reason = stripe.String(in.Reason)
	}

	r, err := p.refunds.New(params)
	if err != nil {
		return nil, classifyStripeError(err)
	}
	out := &Refund{
		ID:       r.ID,
		ChargeID: in.ChargeID,
		Amount:   r.Amount,
		Status:   string(r.Status),
		Raw:      rawJSON(r.LastResponse),
	}
	if r.Charge != nil && r.Charge.ID != "" {
		out.ChargeID = r.Charge.ID
	}
	return out, nil
}

func (p *StripeProcessor) CreateInvoiceItem(ctx context.Context, in InvoiceItemParams) (*InvoiceItem, error) {
	params := &stripe.InvoiceItemParams{
		Customer: stripe.String(in.CustomerID),
		Amount:   stripe.Int64(in.Amount),
		Currency: stripe.String(in.Currency),
	}
	params.Context = ctx
	if in.Description != "" {
		params.Description = stripe.String(in.Description)
	}

	item, err := p.invoiceItems.New(params)
	if err != nil {
		return nil, classifyStripeError(err)
	}
	return &InvoiceItem{
		ID:          item.ID,
		Amount:      item.Amount,
		Currency:    string(item.Currency),
		Description: item.Description,
		Raw:         rawJSON(item.LastResponse),
	}, nil
}

func (p *StripeProcessor) CreateInvoice(ctx context.Context, in InvoiceParams) (*Invoice, error) {
	params := &stripe.InvoiceParams{
		Customer:                    stripe.String(in.CustomerID),
		PendingInvoiceItemsBehavior: stripe.String("include"),
	}
	params.Context = ctx
	if in.Description != "" {
		params.Description = stripe.String(in.Description)
	}
	if in.TaxPercent > 0 {
		params.AddExtra("tax_percent", strconv.FormatFloat(in.TaxPercent, 'f', -1, 64))
	}

	inv, err := p.invoices.New(params)
	if err != nil {
		return nil, classifyStripeError(err)
	}
	return toInvoice(inv), nil
}

func (p *StripeProcessor) PayInvoice(ctx context.Context, id string) (*Invoice, error) {
	params := &stripe.InvoicePayParams{}
	params.Context = ctx
	inv, err := p.invoices.Pay(id, params)
	if err != nil {
		return nil, classifyStripeError(err)
	}
	return toInvoice(inv), nil
}

func (p *StripeProcessor) RetrieveInvoice(ctx context.Context, id string) (*Invoice, error) {
	params := &stripe.InvoiceParams{}
	params.Context = ctx
	inv, err := p.invoices.Get(id, params)
	if err != nil {
		return nil, classifyStripeError(err)
	}
	return toInvoice(inv), nil
}

// UpcomingInvoice previews the next invoice through the create_preview endpoint.
func (p *StripeProcessor) UpcomingInvoice(ctx context.Context, customerID string) (*Invoice, error) {
	params := &stripe.Params{Context: ctx}
	params.AddExtra("customer", customerID)

	inv := &stripe.Invoice{}
	if err := p.backend.Call(http.MethodPost, "/v1/invoices/create_preview", p.key, params, inv); err != nil {
		return nil, classifyStripeError(err)
	}
	return toInvoice(inv), nil
}

func (p *StripeProcessor) ListInvoices(ctx context.Context, in InvoiceListParams) ([]*Invoice, error) {
	params := &stripe.InvoiceListParams{Customer: stripe.String(in.CustomerID)}
	params.Context = ctx
	if in.Limit > 0 {
		params.Limit = stripe.Int64(in.Limit)
	}

	var out []*Invoice
	it := p.invoices.List(params)
	for it.Next() {
		out = append(out, toInvoice(it.Invoice()))
		if in.Limit > 0 && int64(len(out)) >= in.Limit {
			break
		}
	}
	if err := it.Err(); err != nil {
		return nil, classifyStripeError(err)
	}
	return out, nil
}

func (p *StripeProcessor) CreatePaymentSource(ctx context.Context, customerID, tok string) (*PaymentSource, error) {
	params := &stripe.PaymentSourceParams{Customer: stripe.String(customerID)}
	params.Context = ctx
	params.AddExtra("source", tok)

	src, err := p.sources.New(params)
	if err != nil {
		return nil, classifyStripeError(err)
	}
	return toPaymentSource(src), nil
}

func (p *StripeProcessor) ListPaymentSources(ctx context.Context, customerID string) ([]*PaymentSource, error) {
	params := &stripe.PaymentSourceListParams{Customer: stripe.String(customerID)}
	params.Context = ctx

	var out []*PaymentSource
	it := p.sources.List(params)
	for it.Next() {
		if src := toPaymentSource(it.PaymentSource()); src != nil {
			out = append(out, src)
		}
	}
	if err := it.Err(); err != nil {
		return nil, classifyStripeError(err)
	}
	return out, nil
}

func (p *StripeProcessor) DeletePaymentSource(ctx context.Context, customerID, sourceID string) error {
	params := &stripe.PaymentSourceParams{Customer: stripe.String(customerID)}
	params.Context = ctx
	if _, err := p.sources.Del(sourceID, params); err != nil {
		return classifyStripeError(err)
	}
	return nil
}

func (p *StripeProcessor) RetrieveToken(ctx context.Context, id string) (*Token, error) {
	params := &stripe.TokenParams{}
	params.Context = ctx
	t, err := p.tokens.Get(id, params)
	if err != nil {
		return nil, classifyStripeError(err)
	}

	out := &Token{ID: t.ID, Type: PaymentSourceType(t.Type), Raw: rawJSON(t.LastResponse)}
	switch {
	case t.Card != nil:
		out.SourceID = t.Card.ID
	case t.BankAccount != nil:
		out.SourceID = t.BankAccount.ID
	}
	return out, nil
}

func toRemoteCustomer(c *stripe.Customer) *RemoteCustomer {
	return &RemoteCustomer{
		ID:            c.ID,
		Email:         c.Email,
		DefaultSource: toPaymentSource(c.DefaultSource),
		Raw:           rawJSON(c.LastResponse),
	}
}

// toPaymentSource returns nil for unexpanded or unsupported sources.
func toPaymentSource(src *stripe.PaymentSource) *PaymentSource {
	if src == nil {
		return nil
	}
	switch {
	case src.Card != nil:
		return &PaymentSource{
			ID:       src.ID,
			Type:     PaymentSourceCard,
			Brand:    string(src.Card.Brand),
			LastFour: src.Card.Last4,
			ExpMonth: src.Card.ExpMonth,
			ExpYear:  src.Card.ExpYear,
		}
	case src.BankAccount != nil:
		return &PaymentSource{
			ID:       src.ID,
			Type:     PaymentSourceBankAccount,
			Brand:    src.BankAccount.BankName,
			LastFour: src.BankAccount.Last4,
		}
	}
	return nil
}

// toRemoteSubscription decodes the raw response so API results and webhook
// payloads go through the same projection.
func toRemoteSubscription(s *stripe.Subscription) (*RemoteSubscription, error) {
	raw := rawJSON(s.LastResponse)
	if len(raw) > 0 {
		remote, err := DecodeRemoteSubscription(raw)
		if err != nil {
			return nil, fmt.Errorf("decode subscription: %w", err)
		}
		return remote, nil
	}

	r := &RemoteSubscription{
		ID:                s.ID,
		Status:            RemoteStatus(s.Status),
		CancelAtPeriodEnd: s.CancelAtPeriodEnd,
		TrialEnd:          unixPtr(&s.TrialEnd),
	}
	if s.Customer != nil {
		r.CustomerID = s.Customer.ID
	}
	if s.Items != nil && len(s.Items.Data) > 0 {
		item := s.Items.Data[0]
		r.ItemID = item.ID
		r.Quantity = item.Quantity
		r.CurrentPeriodEnd = unixPtr(&item.CurrentPeriodEnd)
		if item.Price != nil {
			r.PlanID = item.Price.ID
		}
	}
	return r, nil
}

func toInvoice(inv *stripe.Invoice) *Invoice {
	out := &Invoice{
		ID:       inv.ID,
		Status:   string(inv.Status),
		Total:    inv.Total,
		Currency: string(inv.Currency),
		Raw:      rawJSON(inv.LastResponse),
	}
	if inv.Customer != nil {
		out.CustomerID = inv.Customer.ID
	}
	if inv.Created > 0 {
		out.Created = time.Unix(inv.Created, 0).UTC()
	}
	return out
}

func rawJSON(resp *stripe.APIResponse) json.RawMessage {
	if resp == nil {
		return nil
	}
	return json.RawMessage(resp.RawJSON)
}

// stripeLogger adapts slog to the client library's leveled logger.
type stripeLogger struct {
	log *slog.Logger
}

func (l *stripeLogger) Debugf(format string, v ...any) { l.log.Debug(fmt.Sprintf(format, v...)) }
func (l *stripeLogger) Infof(format string, v ...any)  { l.log.Info(fmt.Sprintf(format, v...)) }
func (l *stripeLogger) Warnf(format string, v ...any)  { l.log.Warn(fmt.Sprintf(format, v...)) }
func (l *stripeLogger) Errorf(format string, v ...any) { l.log.Error(fmt.Sprintf(format, v...)) }
