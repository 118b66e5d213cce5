package statemachine

import (
	"context"
)

// State is a named node of a transition table.
type State interface {
	Name() string
}

// Event is a named trigger that moves a State along a transition.
type Event interface {
	Name() string
}

// Guard reports whether a transition may be taken for the given input.
type Guard func(ctx context.Context, from State, event Event, data any) bool

// Transition is one edge of a table. All guards must pass for it to be selected.
type Transition struct {
	From   State
	To     State
	Event  Event
	Guards []Guard
}

// StringState is a State backed by its name.
type StringState string

func (s StringState) Name() string { return string(s) }

// StringEvent is an Event backed by its name.
type StringEvent string

func (e StringEvent) Name() string { return string(e) }
