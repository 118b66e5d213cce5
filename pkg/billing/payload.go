package billing

import (
	"bytes"
	"encoding/json"
	"errors"
	"time"
)

// expandableID reads a processor reference that is either an id string or an
// expanded object carrying an id.
type expandableID string

func (e *expandableID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*e = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*e = expandableID(s)
		return nil
	}
	var obj struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	*e = expandableID(obj.ID)
	return nil
}

type planObject struct {
	ID string `json:"id"`
}

type subscriptionItemObject struct {
	ID               string      `json:"id"`
	Quantity         *int64      `json:"quantity"`
	Plan             *planObject `json:"plan"`
	Price            *planObject `json:"price"`
	CurrentPeriodEnd *int64      `json:"current_period_end"`
}

// subscriptionObject is the processor subscription as it appears in API
// responses and webhook payloads. Pointer fields stay nil when the key is
// missing or null.
type subscriptionObject struct {
	ID                string       `json:"id"`
	Customer          expandableID `json:"customer"`
	Status            RemoteStatus `json:"status"`
	Quantity          *int64       `json:"quantity"`
	Plan              *planObject  `json:"plan"`
	TrialEnd          *int64       `json:"trial_end"`
	CancelAtPeriodEnd *bool        `json:"cancel_at_period_end"`
	CurrentPeriodEnd  *int64       `json:"current_period_end"`
	Items             *struct {
		Data []subscriptionItemObject `json:"data"`
	} `json:"items"`
}

func decodeSubscriptionObject(raw []byte) (*subscriptionObject, error) {
	var obj subscriptionObject
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil, errors.Join(ErrInvalidPayload, err)
	}
	if obj.ID == "" {
		return nil, errors.Join(ErrInvalidPayload, errors.New("subscription id is missing"))
	}
	return &obj, nil
}

func (o *subscriptionObject) firstItem() *subscriptionItemObject {
	if o.Items == nil || len(o.Items.Data) == 0 {
		return nil
	}
	return &o.Items.Data[0]
}

// planID prefers the top level plan and falls back to the first item.
func (o *subscriptionObject) planID() string {
	if o.Plan != nil && o.Plan.ID != "" {
		return o.Plan.ID
	}
	item := o.firstItem()
	switch {
	case item == nil:
		return ""
	case item.Price != nil && item.Price.ID != "":
		return item.Price.ID
	case item.Plan != nil:
		return item.Plan.ID
	}
	return ""
}

func (o *subscriptionObject) quantity() *int64 {
	if o.Quantity != nil {
		return o.Quantity
	}
	if item := o.firstItem(); item != nil {
		return item.Quantity
	}
	return nil
}

func (o *subscriptionObject) periodEnd() *time.Time {
	if o.CurrentPeriodEnd != nil {
		return unixPtr(o.CurrentPeriodEnd)
	}
	if item := o.firstItem(); item != nil {
		return unixPtr(item.CurrentPeriodEnd)
	}
	return nil
}

func (o *subscriptionObject) trialEnd() *time.Time {
	return unixPtr(o.TrialEnd)
}

func (o *subscriptionObject) toRemote(raw json.RawMessage) *RemoteSubscription {
	r := &RemoteSubscription{
		ID:               o.ID,
		CustomerID:       string(o.Customer),
		Status:           o.Status,
		PlanID:           o.planID(),
		TrialEnd:         o.trialEnd(),
		CurrentPeriodEnd: o.periodEnd(),
		Raw:              raw,
	}
	if q := o.quantity(); q != nil {
		r.Quantity = *q
	}
	if o.CancelAtPeriodEnd != nil {
		r.CancelAtPeriodEnd = *o.CancelAtPeriodEnd
	}
	if item := o.firstItem(); item != nil {
		r.ItemID = item.ID
	}
	return r
}

// DecodeRemoteSubscription converts a processor subscription object, as sent
// in API responses and webhook payloads, into a RemoteSubscription.
func DecodeRemoteSubscription(raw []byte) (*RemoteSubscription, error) {
	obj, err := decodeSubscriptionObject(raw)
	if err != nil {
		return nil, err
	}
	return obj.toRemote(json.RawMessage(raw)), nil
}

// customerRefObject identifies the customer of customer.* events. For
// customer.source.deleted the object is the source and carries a customer field.
type customerRefObject struct {
	ID       string       `json:"id"`
	Object   string       `json:"object"`
	Customer expandableID `json:"customer"`
}

func decodeCustomerRef(raw []byte) (string, error) {
	var obj customerRefObject
	if err := json.Unmarshal(raw, &obj); err != nil {
		return "", errors.Join(ErrInvalidPayload, err)
	}
	if obj.Object == "customer" || obj.Customer == "" {
		return obj.ID, nil
	}
	return string(obj.Customer), nil
}

func unixPtr(sec *int64) *time.Time {
	if sec == nil || *sec == 0 {
		return nil
	}
	t := time.Unix(*sec, 0).UTC()
	return &t
}
