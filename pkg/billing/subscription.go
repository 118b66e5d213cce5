package billing

import (
	"bytes"
	"slices"
	"time"

	"github.com/google/uuid"
)

// DefaultSubscriptionName is the name used by the zero-argument trial check.
const DefaultSubscriptionName = "default"

// Subscription is the local record of a processor subscription.
// Status is never stored; it is derived from TrialEndsAt and EndsAt.
type Subscription struct {
	ID          uuid.UUID // UUIDv7, so ordering by id follows creation order
	CustomerID  uuid.UUID
	Name        string
	ProviderID  string
	PlanID      string
	Quantity    int64
	TrialEndsAt *time.Time
	EndsAt      *time.Time // cancellation effective time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// OnTrialAt reports whether the trial expiry is set and after now.
func (s *Subscription) OnTrialAt(now time.Time) bool {
	return s.TrialEndsAt != nil && now.Before(*s.TrialEndsAt)
}

// Cancelled reports whether a cancellation has been recorded, effective or not.
func (s *Subscription) Cancelled() bool {
	return s.EndsAt != nil
}

// OnGracePeriodAt reports a cancellation that is not effective yet.
func (s *Subscription) OnGracePeriodAt(now time.Time) bool {
	return s.EndsAt != nil && now.Before(*s.EndsAt)
}

// EndedAt reports a cancellation that is effective and not covered by a trial.
func (s *Subscription) EndedAt(now time.Time) bool {
	return s.Cancelled() && !s.OnGracePeriodAt(now) && !s.OnTrialAt(now)
}

// ValidAt reports whether the subscription grants access at now.
// Once it turns false because of an effective cancellation it stays false.
func (s *Subscription) ValidAt(now time.Time) bool {
	return !s.Cancelled() || s.OnGracePeriodAt(now) || s.OnTrialAt(now)
}

// OnTrial, OnGracePeriod, Ended and Valid evaluate their At form against the wall clock.
func (s *Subscription) OnTrial() bool       { return s.OnTrialAt(time.Now()) }
func (s *Subscription) OnGracePeriod() bool { return s.OnGracePeriodAt(time.Now()) }
func (s *Subscription) Ended() bool         { return s.EndedAt(time.Now()) }
func (s *Subscription) Valid() bool         { return s.ValidAt(time.Now()) }

// cancellationEffectiveAt reports a cancellation whose effective time has passed.
// Its EndsAt is never moved again.
func (s *Subscription) cancellationEffectiveAt(now time.Time) bool {
	return s.EndsAt != nil && !now.Before(*s.EndsAt)
}

// remoteAliveAt reports whether the processor still bills the subscription.
func (s *Subscription) remoteAliveAt(now time.Time) bool {
	return !s.Cancelled() || s.OnGracePeriodAt(now)
}

// sortNewestFirst orders by CreatedAt descending, ties broken by the highest id.
func sortNewestFirst(subs []*Subscription) {
	slices.SortStableFunc(subs, func(a, b *Subscription) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return bytes.Compare(b.ID[:], a.ID[:])
	})
}

// latestNamed returns the most recent subscription with the given name.
func latestNamed(subs []*Subscription, name string) *Subscription {
	var found []*Subscription
	for _, s := range subs {
		if s.Name == name {
			found = append(found, s)
		}
	}
	if len(found) == 0 {
		return nil
	}
	sortNewestFirst(found)
	return found[0]
}

func timePtr(t time.Time) *time.Time {
	return &t
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}

func sameTime(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}
