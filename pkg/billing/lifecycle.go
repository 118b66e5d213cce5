package billing

import (
	"context"
	"errors"
	"time"

	"github.com/dmitrymomot/cashier/pkg/statemachine"
)

// State is the lifecycle state derived from a subscription's timestamps.
type State string

const (
	StateTrialing        State = "trialing"
	StateActive          State = "active"
	StatePastDue         State = "past_due" // reported by the processor only
	StateCanceledPending State = "canceled_pending"
	StateEnded           State = "ended"
)

func (s State) Name() string { return string(s) }

// StateAt derives the lifecycle state. Precedence: ended, cancelled but not
// ended, trialing, active.
func (s *Subscription) StateAt(now time.Time) State {
	switch {
	case s.EndedAt(now):
		return StateEnded
	case s.Cancelled():
		return StateCanceledPending
	case s.OnTrialAt(now):
		return StateTrialing
	default:
		return StateActive
	}
}

const (
	eventCancel         = statemachine.StringEvent("cancel")
	eventCancelNow      = statemachine.StringEvent("cancel_now")
	eventResume         = statemachine.StringEvent("resume")
	eventSwap           = statemachine.StringEvent("swap")
	eventUpdateQuantity = statemachine.StringEvent("update_quantity")
	eventEndTrial       = statemachine.StringEvent("end_trial")
	eventSync           = statemachine.StringEvent("sync")
	eventMarkCancelled  = statemachine.StringEvent("mark_cancelled")
)

// transitionInput is the data handed to guards.
type transitionInput struct {
	sub *Subscription
	now time.Time
}

func guardOf(pred func(*Subscription, time.Time) bool) statemachine.Guard {
	return func(_ context.Context, _ statemachine.State, _ statemachine.Event, data any) bool {
		in, ok := data.(transitionInput)
		return ok && pred(in.sub, in.now)
	}
}

var (
	onTrial     = guardOf((*Subscription).OnTrialAt)
	remoteAlive = guardOf((*Subscription).remoteAliveAt)
)

// lifecycle is the subscription transition table. Ended has no outgoing
// transitions, which is what keeps an ended subscription ended.
// Sync targets are nominal: after a remote merge the state is derived again.
var lifecycle = statemachine.NewBuilder().
	From(StateTrialing, StateActive, StateCanceledPending).When(eventCancel).To(StateCanceledPending).WithGuard(remoteAlive).Add().
	From(StateTrialing, StateActive, StateCanceledPending).When(eventCancelNow).To(StateEnded).Add().
	From(StateCanceledPending).When(eventResume).To(StateTrialing).WithGuard(remoteAlive).WithGuard(onTrial).Add().
	From(StateCanceledPending).When(eventResume).To(StateActive).WithGuard(remoteAlive).Add().
	From(StateTrialing, StateActive, StateCanceledPending).When(eventSwap).To(StateTrialing).WithGuard(remoteAlive).WithGuard(onTrial).Add().
	From(StateTrialing, StateActive, StateCanceledPending).When(eventSwap).To(StateActive).WithGuard(remoteAlive).Add().
	From(StateTrialing).When(eventUpdateQuantity).To(StateTrialing).Add().
	From(StateActive).When(eventUpdateQuantity).To(StateActive).Add().
	From(StateCanceledPending).When(eventUpdateQuantity).To(StateCanceledPending).WithGuard(remoteAlive).Add().
	From(StateTrialing).When(eventEndTrial).To(StateActive).Add().
	From(StateCanceledPending).When(eventEndTrial).To(StateCanceledPending).WithGuard(remoteAlive).WithGuard(onTrial).Add().
	From(StateTrialing).When(eventSync).To(StateTrialing).Add().
	From(StateActive).When(eventSync).To(StateActive).Add().
	From(StateCanceledPending).When(eventSync).To(StateCanceledPending).Add().
	From(StateTrialing, StateActive, StateCanceledPending).When(eventMarkCancelled).To(StateCanceledPending).WithGuard(onTrial).Add().
	From(StateTrialing, StateActive, StateCanceledPending).When(eventMarkCancelled).To(StateEnded).Add().
	MustBuild()

// transition checks that event is allowed for sub at now and returns the
// current and target states.
func transition(ctx context.Context, sub *Subscription, event statemachine.Event, now time.Time) (from, to State, err error) {
	from = sub.StateAt(now)
	tr, err := lifecycle.Resolve(ctx, from, event, transitionInput{sub: sub, now: now})
	if err != nil {
		return from, from, errors.Join(ErrInvalidSubscriptionState, err)
	}
	return from, tr.To.(State), nil
}

// isTerminal reports an error caused by firing an event on an ended subscription.
func isTerminal(err error, from State) bool {
	return from == StateEnded && statemachine.IsNoTransitionAvailableError(err)
}
