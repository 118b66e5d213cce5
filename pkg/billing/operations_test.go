package billing_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/cashier/pkg/billing"
)

func seedSubscription(t *testing.T, f *fixture, accountID uuid.UUID, mutate func(*billing.Subscription)) *billing.Subscription {
	t.Helper()

	sub := &billing.Subscription{
		ID:         uuid.New(),
		CustomerID: accountID,
		Name:       "default",
		ProviderID: "sub_1",
		PlanID:     "pro",
		Quantity:   1,
		CreatedAt:  baseTime.Add(-time.Hour),
	}
	if mutate != nil {
		mutate(sub)
	}
	require.NoError(t, f.store.SaveSubscription(context.Background(), sub))
	return sub
}

func TestAccountCancel(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	periodEnd := baseTime.AddDate(0, 0, 20)

	t.Run("on trial ends with the trial", func(t *testing.T) {
		t.Parallel()

		f := newFixture()
		accountID := uuid.New()
		trialEnd := baseTime.AddDate(0, 0, 10)
		seedSubscription(t, f, accountID, func(s *billing.Subscription) { s.TrialEndsAt = &trialEnd })

		f.processor.On("UpdateSubscription", mock.Anything, "sub_1", billing.SubscriptionUpdateParams{CancelAtPeriodEnd: ptr(true)}).
			Return(&billing.RemoteSubscription{ID: "sub_1", CurrentPeriodEnd: &periodEnd, CancelAtPeriodEnd: true}, nil).Once()

		sub, err := f.svc.Account(accountID).Cancel(ctx, "default")
		require.NoError(t, err)
		require.NotNil(t, sub.EndsAt)
		assert.True(t, trialEnd.Equal(*sub.EndsAt))
		assert.Equal(t, billing.StateCanceledPending, sub.StateAt(baseTime))
		assert.True(t, sub.ValidAt(baseTime.AddDate(0, 0, 9)))
		assert.False(t, sub.ValidAt(baseTime.AddDate(0, 0, 11)))
		f.processor.AssertExpectations(t)
	})

	t.Run("active ends with the period", func(t *testing.T) {
		t.Parallel()

		f := newFixture()
		accountID := uuid.New()
		seedSubscription(t, f, accountID, nil)

		f.processor.On("UpdateSubscription", mock.Anything, "sub_1", mock.Anything).
			Return(&billing.RemoteSubscription{ID: "sub_1", CurrentPeriodEnd: &periodEnd, CancelAtPeriodEnd: true}, nil).Once()

		sub, err := f.svc.Account(accountID).Cancel(ctx, "default")
		require.NoError(t, err)
		require.NotNil(t, sub.EndsAt)
		assert.True(t, periodEnd.Equal(*sub.EndsAt))
		assert.True(t, sub.OnGracePeriodAt(baseTime))

		stored, err := f.store.GetSubscription(ctx, sub.ID)
		require.NoError(t, err)
		assert.True(t, periodEnd.Equal(*stored.EndsAt))
	})

	t.Run("unknown subscription", func(t *testing.T) {
		t.Parallel()

		f := newFixture()
		_, err := f.svc.Account(uuid.New()).Cancel(ctx, "default")
		assert.ErrorIs(t, err, billing.ErrSubscriptionNotFound)
	})
}

func TestAccountCancelNow(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture()
	accountID := uuid.New()
	seedSubscription(t, f, accountID, func(s *billing.Subscription) { s.TrialEndsAt = ptr(baseTime.AddDate(0, 0, 5)) })

	f.processor.On("CancelSubscription", mock.Anything, "sub_1").
		Return(&billing.RemoteSubscription{ID: "sub_1", Status: billing.RemoteStatusCanceled}, nil).Once()

	account := f.svc.Account(accountID)
	sub, err := account.CancelNow(ctx, "default")
	require.NoError(t, err)
	assert.Nil(t, sub.TrialEndsAt)
	require.NotNil(t, sub.EndsAt)
	assert.True(t, baseTime.Equal(*sub.EndsAt))
	assert.Equal(t, billing.StateEnded, sub.StateAt(baseTime))
	assert.False(t, account.Subscribed(ctx, "default", ""))

	_, err = account.Resume(ctx, "default")
	assert.ErrorIs(t, err, billing.ErrInvalidSubscriptionState)
	assert.True(t, billing.IsInvalidTransition(err))

	_, err = account.CancelNow(ctx, "default")
	assert.ErrorIs(t, err, billing.ErrInvalidSubscriptionState)
	f.processor.AssertNumberOfCalls(t, "CancelSubscription", 1)
}

func TestAccountResume(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	t.Run("from grace period", func(t *testing.T) {
		t.Parallel()

		f := newFixture()
		accountID := uuid.New()
		seedSubscription(t, f, accountID, func(s *billing.Subscription) { s.EndsAt = ptr(baseTime.AddDate(0, 0, 3)) })

		f.processor.On("UpdateSubscription", mock.Anything, "sub_1", billing.SubscriptionUpdateParams{
			CancelAtPeriodEnd: ptr(false),
			TrialEndNow:       true,
		}).Return(&billing.RemoteSubscription{ID: "sub_1", PlanID: "pro", Quantity: 4}, nil).Once()

		sub, err := f.svc.Account(accountID).Resume(ctx, "default")
		require.NoError(t, err)
		assert.Nil(t, sub.EndsAt)
		assert.Equal(t, int64(4), sub.Quantity)
		assert.Equal(t, billing.StateActive, sub.StateAt(baseTime))
		f.processor.AssertExpectations(t)
	})

	t.Run("keeps a running trial", func(t *testing.T) {
		t.Parallel()

		f := newFixture()
		accountID := uuid.New()
		trialEnd := baseTime.AddDate(0, 0, 7)
		seedSubscription(t, f, accountID, func(s *billing.Subscription) {
			s.TrialEndsAt = &trialEnd
			s.EndsAt = &trialEnd
		})

		f.processor.On("UpdateSubscription", mock.Anything, "sub_1", billing.SubscriptionUpdateParams{
			CancelAtPeriodEnd: ptr(false),
			TrialEnd:          &trialEnd,
		}).Return(&billing.RemoteSubscription{ID: "sub_1"}, nil).Once()

		sub, err := f.svc.Account(accountID).Resume(ctx, "default")
		require.NoError(t, err)
		assert.Equal(t, billing.StateTrialing, sub.StateAt(baseTime))
		f.processor.AssertExpectations(t)
	})

	t.Run("not cancelled", func(t *testing.T) {
		t.Parallel()

		f := newFixture()
		accountID := uuid.New()
		seedSubscription(t, f, accountID, nil)

		_, err := f.svc.Account(accountID).Resume(ctx, "default")
		assert.ErrorIs(t, err, billing.ErrInvalidSubscriptionState)
		f.processor.AssertNotCalled(t, "UpdateSubscription", mock.Anything, mock.Anything, mock.Anything)
	})
}

func TestAccountSwap(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture()
	accountID := uuid.New()
	seedSubscription(t, f, accountID, func(s *billing.Subscription) {
		s.Quantity = 3
		s.EndsAt = ptr(baseTime.AddDate(0, 0, 2))
	})

	f.processor.On("RetrieveSubscription", mock.Anything, "sub_1").
		Return(&billing.RemoteSubscription{ID: "sub_1", ItemID: "si_1", PlanID: "pro", Quantity: 3}, nil).Once()
	f.processor.On("UpdateSubscription", mock.Anything, "sub_1", billing.SubscriptionUpdateParams{
		ItemID:            "si_1",
		PlanID:            "enterprise",
		Quantity:          ptr(int64(3)),
		Prorate:           ptr(true),
		CancelAtPeriodEnd: ptr(false),
		TrialEndNow:       true,
	}).Return(&billing.RemoteSubscription{ID: "sub_1", ItemID: "si_1", PlanID: "enterprise", Quantity: 3}, nil).Once()

	account := f.svc.Account(accountID)
	sub, err := account.Swap(ctx, "default", "enterprise")
	require.NoError(t, err)
	assert.Equal(t, "enterprise", sub.PlanID)
	assert.Nil(t, sub.EndsAt)
	assert.True(t, account.OnPlan(ctx, "enterprise"))
	assert.True(t, account.SubscribedToPlan(ctx, "default", "basic", "enterprise"))
	assert.False(t, account.Subscribed(ctx, "default", "pro"))
	f.processor.AssertExpectations(t)

	_, err = account.Swap(ctx, "default", "")
	assert.ErrorIs(t, err, billing.ErrMissingPlanID)
}

func TestAccountQuantity(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	expectQuantity := func(f *fixture, q int64) {
		f.processor.On("RetrieveSubscription", mock.Anything, "sub_1").
			Return(&billing.RemoteSubscription{ID: "sub_1", ItemID: "si_1"}, nil).Once()
		f.processor.On("UpdateSubscription", mock.Anything, "sub_1", billing.SubscriptionUpdateParams{
			ItemID:   "si_1",
			Quantity: ptr(q),
		}).Return(&billing.RemoteSubscription{ID: "sub_1", Quantity: q}, nil).Once()
	}

	t.Run("increment", func(t *testing.T) {
		t.Parallel()

		f := newFixture()
		accountID := uuid.New()
		seedSubscription(t, f, accountID, func(s *billing.Subscription) { s.Quantity = 2 })
		expectQuantity(f, 5)

		sub, err := f.svc.Account(accountID).IncrementQuantity(ctx, "default", 3)
		require.NoError(t, err)
		assert.Equal(t, int64(5), sub.Quantity)
		f.processor.AssertExpectations(t)
	})

	t.Run("decrement never goes below one", func(t *testing.T) {
		t.Parallel()

		f := newFixture()
		accountID := uuid.New()
		seedSubscription(t, f, accountID, func(s *billing.Subscription) { s.Quantity = 3 })
		expectQuantity(f, 1)

		sub, err := f.svc.Account(accountID).DecrementQuantity(ctx, "default", 5)
		require.NoError(t, err)
		assert.Equal(t, int64(1), sub.Quantity)
		f.processor.AssertExpectations(t)
	})

	t.Run("update rejects zero", func(t *testing.T) {
		t.Parallel()

		f := newFixture()
		_, err := f.svc.Account(uuid.New()).UpdateQuantity(ctx, "default", 0)
		assert.ErrorIs(t, err, billing.ErrInvalidQuantity)
	})

	t.Run("update on ended subscription", func(t *testing.T) {
		t.Parallel()

		f := newFixture()
		accountID := uuid.New()
		seedSubscription(t, f, accountID, func(s *billing.Subscription) { s.EndsAt = ptr(baseTime.Add(-time.Minute)) })

		_, err := f.svc.Account(accountID).UpdateQuantity(ctx, "default", 2)
		assert.ErrorIs(t, err, billing.ErrInvalidSubscriptionState)
	})
}

func TestAccountEndTrial(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture()
	accountID := uuid.New()
	seedSubscription(t, f, accountID, func(s *billing.Subscription) { s.TrialEndsAt = ptr(baseTime.AddDate(0, 0, 3)) })

	f.processor.On("UpdateSubscription", mock.Anything, "sub_1", billing.SubscriptionUpdateParams{TrialEndNow: true}).
		Return(&billing.RemoteSubscription{ID: "sub_1"}, nil).Once()

	account := f.svc.Account(accountID)
	assert.True(t, account.OnTrial(ctx))

	sub, err := account.EndTrial(ctx, "default")
	require.NoError(t, err)
	assert.Nil(t, sub.TrialEndsAt)
	assert.False(t, account.OnTrial(ctx))

	_, err = account.EndTrial(ctx, "default")
	assert.ErrorIs(t, err, billing.ErrInvalidSubscriptionState)
	f.processor.AssertExpectations(t)
}

func TestAccountEndTrialDuringGracePeriod(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture()
	accountID := uuid.New()
	trialEnd := baseTime.AddDate(0, 0, 3)
	seedSubscription(t, f, accountID, func(s *billing.Subscription) {
		s.TrialEndsAt = ptr(trialEnd)
		s.EndsAt = ptr(trialEnd)
	})

	f.processor.On("UpdateSubscription", mock.Anything, "sub_1", billing.SubscriptionUpdateParams{TrialEndNow: true}).
		Return(&billing.RemoteSubscription{ID: "sub_1"}, nil).Once()

	sub, err := f.svc.Account(accountID).EndTrial(ctx, "default")
	require.NoError(t, err)
	assert.Nil(t, sub.TrialEndsAt)
	assert.Equal(t, billing.StateCanceledPending, sub.StateAt(baseTime))
	f.processor.AssertExpectations(t)
}
