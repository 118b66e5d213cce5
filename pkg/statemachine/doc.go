// Package statemachine provides immutable, guard-aware transition tables.
//
// A Table maps a (state, event) pair to an ordered list of transitions. Resolve
// returns the first one whose guards all pass, so branching targets are written
// as several definitions for the same pair, highest priority first. The table
// holds no current state: callers derive the state they start from and store
// the result themselves, which keeps a single table safe to share.
//
// # Usage
//
//	const (
//	    Draft    = statemachine.StringState("draft")
//	    InReview = statemachine.StringState("in_review")
//	    Submit   = statemachine.StringEvent("submit")
//	)
//
//	table := statemachine.NewBuilder().
//	    From(Draft).When(Submit).To(InReview).WithGuard(hasTitle).Add().
//	    MustBuild()
//
//	tr, err := table.Resolve(ctx, Draft, Submit, doc)
//
// # Error Handling
//
//	if statemachine.IsNoTransitionAvailableError(err) { /* nothing defined */ }
//	if statemachine.IsTransitionRejectedError(err)   { /* guards refused */ }
package statemachine
