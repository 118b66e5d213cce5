package billing

import (
	"errors"
	"fmt"
)

var (
	ErrCustomerNotFound    = errors.New("billing customer not found")
	ErrCustomerExists      = errors.New("billing customer already has a processor customer")
	ErrDuplicateProviderID = errors.New("processor customer id is already attached to another customer")
	ErrNotRemoteCustomer   = errors.New("billing customer is not a processor customer yet")
	ErrNoPaymentSource     = errors.New("no payment source provided and no processor customer to charge")
	ErrInvalidToken        = errors.New("payment token is required")
	ErrInvalidAmount       = errors.New("amount must be positive")

	ErrSubscriptionNotFound     = errors.New("subscription not found")
	ErrSubscriptionExists       = errors.New("subscription already exists")
	ErrInvalidSubscriptionState = errors.New("invalid subscription state")
	ErrSubscriptionIncomplete   = errors.New("subscription creation incomplete")
	ErrMissingSubscriptionName  = errors.New("subscription name is required")
	ErrMissingPlanID            = errors.New("plan id is required")
	ErrInvalidQuantity          = errors.New("quantity must be at least 1")

	ErrInvoiceNotFound     = errors.New("invoice not found")
	ErrInvoiceAccessDenied = errors.New("invoice belongs to another customer")

	ErrRemote = errors.New("payment processor error")

	ErrInvalidEventType         = errors.New("webhook event type is required")
	ErrNilHandler               = errors.New("webhook handler is nil")
	ErrHandlerAlreadyRegistered = errors.New("webhook handler already registered")
	ErrInvalidPayload           = errors.New("invalid webhook event payload")

	ErrMissingAPIKey           = errors.New("payment processor secret key is required")
	ErrMissingWebhookSecret    = errors.New("payment processor webhook secret is required")
	ErrInvalidWebhookTolerance = errors.New("webhook tolerance must be positive")
	ErrLockFailed              = errors.New("failed to acquire billing lock")
)

// SubscriptionCreationFailedError reports a subscription the processor created
// in an incomplete state. The remote subscription has already been cancelled
// and nothing was stored locally. It matches ErrSubscriptionIncomplete.
type SubscriptionCreationFailedError struct {
	PlanID     string
	CustomerID string // processor customer id
	Status     RemoteStatus
}

func (e *SubscriptionCreationFailedError) Error() string {
	return fmt.Sprintf("subscription to plan %q for customer %q could not be completed (status %s)", e.PlanID, e.CustomerID, e.Status)
}

func (e *SubscriptionCreationFailedError) Unwrap() error {
	return ErrSubscriptionIncomplete
}

// ErrorKind classifies processor failures.
type ErrorKind string

const (
	ErrorKindInvalidRequest ErrorKind = "invalid_request"
	ErrorKindCard           ErrorKind = "card"
	ErrorKindAuthentication ErrorKind = "authentication"
	ErrorKindRateLimit      ErrorKind = "rate_limit"
	ErrorKindAPI            ErrorKind = "api"
	ErrorKindConnection     ErrorKind = "connection"
)

// RemoteError is returned by Processor implementations. It matches ErrRemote
// and unwraps to the client library error.
type RemoteError struct {
	Kind       ErrorKind
	Code       string
	Message    string
	HTTPStatus int
	RequestID  string
	Err        error
}

func (e *RemoteError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s: %s (%s): %s", ErrRemote, e.Kind, e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s: %s", ErrRemote, e.Kind, e.Message)
}

func (e *RemoteError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrRemote}
	}
	return []error{ErrRemote, e.Err}
}

// IsRemoteInvalidRequest reports whether the processor rejected the request
// itself, which includes unknown object ids.
func IsRemoteInvalidRequest(err error) bool {
	var re *RemoteError
	return errors.As(err, &re) && re.Kind == ErrorKindInvalidRequest
}

// IsRemoteNotFound reports whether the processor does not know the object.
func IsRemoteNotFound(err error) bool {
	var re *RemoteError
	return errors.As(err, &re) && re.Kind == ErrorKindInvalidRequest &&
		(re.Code == "resource_missing" || re.HTTPStatus == 404)
}
