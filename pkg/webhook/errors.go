package webhook

import "errors"

// Every verifier failure wraps ErrInvalidSignature, including signed bodies that
// are not usable events, so the endpoint answers 403 without inspecting details.
var (
	ErrInvalidConfiguration = errors.New("invalid webhook configuration")
	ErrInvalidSignature     = errors.New("invalid webhook signature")
	ErrInvalidPayload       = errors.New("invalid webhook payload")
	ErrPayloadTooLarge      = errors.New("webhook payload too large")
)
