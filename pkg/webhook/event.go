package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"
)

// Event is a verified notification from the payment processor.
// Object holds the raw data.object payload; consumers decode the fields they need.
type Event struct {
	ID      string
	Type    string
	Created time.Time
	Object  json.RawMessage
}

// Verifier authenticates a raw request body and turns it into an Event.
// Every authenticity failure must match ErrInvalidSignature.
type Verifier interface {
	Verify(payload []byte, header http.Header) (*Event, error)
}

// Dispatcher routes a verified event to its handler.
// Unknown event types must be acknowledged by returning nil.
type Dispatcher interface {
	Dispatch(ctx context.Context, event *Event) error
}

// DispatcherFunc adapts a function to the Dispatcher interface.
type DispatcherFunc func(ctx context.Context, event *Event) error

func (f DispatcherFunc) Dispatch(ctx context.Context, event *Event) error {
	return f(ctx, event)
}

// envelope is the processor's notification format:
// {"id": "...", "type": "...", "created": 1700000000, "data": {"object": {...}}}
type envelope struct {
	ID      string `json:"id"`
	Type    string `json:"type"`
	Created int64  `json:"created"`
	Data    struct {
		Object json.RawMessage `json:"object"`
	} `json:"data"`
}

// ParseEvent decodes an event envelope without verifying it.
func ParseEvent(payload []byte) (*Event, error) {
	var env envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return nil, errors.Join(ErrInvalidPayload, err)
	}
	if env.Type == "" {
		return nil, errors.Join(ErrInvalidPayload, errors.New("event type is missing"))
	}

	ev := &Event{ID: env.ID, Type: env.Type, Object: env.Data.Object}
	if env.Created > 0 {
		ev.Created = time.Unix(env.Created, 0).UTC()
	}
	return ev, nil
}
