package statemachine

// Builder provides a fluent API for building transition tables.
// The first definition error is kept and returned by Build.
type Builder struct {
	table        *Table
	err          error
	currentFrom  []State
	currentEvent Event
	currentTo    State
	guards       []Guard
}

// NewBuilder creates a new table builder.
func NewBuilder() *Builder {
	return &Builder{table: newTable()}
}

// From sets the starting states for a transition. Several states share one definition.
func (b *Builder) From(states ...State) *Builder {
	b.reset()
	b.currentFrom = states
	return b
}

// When sets the event that triggers a transition.
func (b *Builder) When(event Event) *Builder {
	b.currentEvent = event
	return b
}

// To sets the target state for a transition.
func (b *Builder) To(state State) *Builder {
	b.currentTo = state
	return b
}

// WithGuard adds a guard function to the current transition.
func (b *Builder) WithGuard(guard Guard) *Builder {
	if guard != nil {
		b.guards = append(b.guards, guard)
	}
	return b
}

// Add finalizes the current transition.
func (b *Builder) Add() *Builder {
	if b.err != nil {
		return b
	}
	if len(b.currentFrom) == 0 {
		b.err = ErrInvalidTransition
		return b
	}
	for _, from := range b.currentFrom {
		if err := b.table.add(from, b.currentTo, b.currentEvent, b.guards); err != nil {
			b.err = err
			return b
		}
	}
	b.reset()
	return b
}

// Build returns the constructed table.
func (b *Builder) Build() (*Table, error) {
	if b.err != nil {
		return nil, b.err
	}
	return b.table, nil
}

// MustBuild is like Build but panics on definition errors.
func (b *Builder) MustBuild() *Table {
	t, err := b.Build()
	if err != nil {
		panic("statemachine: failed to build table: " + err.Error())
	}
	return t
}

func (b *Builder) reset() {
	b.currentFrom = nil
	b.currentEvent = nil
	b.currentTo = nil
	b.guards = nil
}
