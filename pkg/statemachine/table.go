package statemachine

import (
	"context"
)

// Table is an immutable set of transitions, safe for concurrent lookups once built.
// Entries are keyed [fromState][event]; the slice keeps definition order.
type Table struct {
	transitions map[string]map[string][]Transition
}

func newTable() *Table {
	return &Table{transitions: make(map[string]map[string][]Transition)}
}

func (t *Table) add(from, to State, event Event, guards []Guard) error {
	if from == nil || to == nil || event == nil {
		return ErrInvalidTransition
	}

	byEvent, ok := t.transitions[from.Name()]
	if !ok {
		byEvent = make(map[string][]Transition)
		t.transitions[from.Name()] = byEvent
	}
	byEvent[event.Name()] = append(byEvent[event.Name()], Transition{
		From:   from,
		To:     to,
		Event:  event,
		Guards: guards,
	})
	return nil
}

// Resolve returns the first transition from the given state whose guards all pass.
// Definition order is the priority order between branches of the same event.
func (t *Table) Resolve(ctx context.Context, from State, event Event, data any) (*Transition, error) {
	if from == nil || event == nil {
		return nil, ErrInvalidEvent
	}

	candidates := t.transitions[from.Name()][event.Name()]
	if len(candidates) == 0 {
		return nil, NewErrNoTransitionAvailable(from.Name(), event.Name())
	}

	for i := range candidates {
		if guardsPass(ctx, &candidates[i], data) {
			return &candidates[i], nil
		}
	}
	return nil, NewErrTransitionRejected(from.Name(), event.Name())
}

func guardsPass(ctx context.Context, tr *Transition, data any) bool {
	for _, guard := range tr.Guards {
		if !guard(ctx, tr.From, tr.Event, data) {
			return false
		}
	}
	return true
}
