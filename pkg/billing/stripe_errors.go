package billing

import (
	"errors"
	"net/http"

	"github.com/stripe/stripe-go/v83"
)

// classifyStripeError converts a client library error into *RemoteError.
func classifyStripeError(err error) error {
	if err == nil {
		return nil
	}

	var se *stripe.Error
	if !errors.As(err, &se) {
		return &RemoteError{Kind: ErrorKindConnection, Message: err.Error(), Err: err}
	}

	re := &RemoteError{
		Kind:       ErrorKindAPI,
		Code:       string(se.Code),
		Message:    se.Msg,
		HTTPStatus: se.HTTPStatusCode,
		RequestID:  se.RequestID,
		Err:        err,
	}
	switch {
	case se.HTTPStatusCode == http.StatusUnauthorized:
		re.Kind = ErrorKindAuthentication
	case se.HTTPStatusCode == http.StatusTooManyRequests:
		re.Kind = ErrorKindRateLimit
	case se.Type == stripe.ErrorTypeCard:
		re.Kind = ErrorKindCard
	case se.Type == stripe.ErrorTypeInvalidRequest:
		re.Kind = ErrorKindInvalidRequest
	}
	return re
}
