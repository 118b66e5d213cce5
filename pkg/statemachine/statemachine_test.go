package statemachine_test

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/cashier/pkg/statemachine"
)

const (
	draft     = statemachine.StringState("draft")
	inReview  = statemachine.StringState("in_review")
	approved  = statemachine.StringState("approved")
	rejected  = statemachine.StringState("rejected")
	published = statemachine.StringState("published")

	submit  = statemachine.StringEvent("submit")
	approve = statemachine.StringEvent("approve")
	publish = statemachine.StringEvent("publish")
)

func isTrue(_ context.Context, _ statemachine.State, _ statemachine.Event, data any) bool {
	ok, _ := data.(bool)
	return ok
}

func TestTableResolve(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	table := statemachine.NewBuilder().
		From(draft, rejected).When(submit).To(inReview).Add().
		From(inReview).When(approve).To(approved).WithGuard(isTrue).Add().
		From(inReview).When(approve).To(rejected).Add().
		From(approved).When(publish).To(published).WithGuard(isTrue).WithGuard(nil).Add().
		MustBuild()

	t.Run("shared definition for several sources", func(t *testing.T) {
		t.Parallel()
		for _, from := range []statemachine.State{draft, rejected} {
			tr, err := table.Resolve(ctx, from, submit, nil)
			require.NoError(t, err)
			assert.Equal(t, inReview, tr.To)
			assert.Equal(t, from, tr.From)
		}
	})

	t.Run("first passing branch wins", func(t *testing.T) {
		t.Parallel()
		tr, err := table.Resolve(ctx, inReview, approve, true)
		require.NoError(t, err)
		assert.Equal(t, approved, tr.To)

		tr, err = table.Resolve(ctx, inReview, approve, false)
		require.NoError(t, err)
		assert.Equal(t, rejected, tr.To)
	})

	t.Run("rejected by guards", func(t *testing.T) {
		t.Parallel()
		_, err := table.Resolve(ctx, approved, publish, false)
		require.Error(t, err)
		assert.True(t, statemachine.IsTransitionRejectedError(err))
		assert.False(t, statemachine.IsNoTransitionAvailableError(err))
	})

	t.Run("nothing defined", func(t *testing.T) {
		t.Parallel()
		_, err := table.Resolve(ctx, published, submit, nil)
		require.Error(t, err)
		assert.True(t, statemachine.IsNoTransitionAvailableError(err))
	})

	t.Run("nil input", func(t *testing.T) {
		t.Parallel()
		_, err := table.Resolve(ctx, nil, submit, nil)
		require.ErrorIs(t, err, statemachine.ErrInvalidEvent)
		_, err = table.Resolve(ctx, draft, nil, nil)
		require.ErrorIs(t, err, statemachine.ErrInvalidEvent)
	})

	t.Run("concurrent lookups", func(t *testing.T) {
		t.Parallel()

		var wg sync.WaitGroup
		for range 20 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				tr, err := table.Resolve(ctx, inReview, approve, true)
				assert.NoError(t, err)
				assert.Equal(t, approved, tr.To)
			}()
		}
		wg.Wait()
	})
}

func TestBuilder(t *testing.T) {
	t.Parallel()

	t.Run("keeps the first error", func(t *testing.T) {
		t.Parallel()
		_, err := statemachine.NewBuilder().
			From().When(submit).To(inReview).Add().
			From(draft).When(submit).To(inReview).Add().
			Build()
		require.ErrorIs(t, err, statemachine.ErrInvalidTransition)
	})

	t.Run("missing target", func(t *testing.T) {
		t.Parallel()
		_, err := statemachine.NewBuilder().From(draft).When(submit).Add().Build()
		require.ErrorIs(t, err, statemachine.ErrInvalidTransition)
	})

	t.Run("must build panics", func(t *testing.T) {
		t.Parallel()
		assert.Panics(t, func() { statemachine.NewBuilder().From(draft).Add().MustBuild() })
	})

	t.Run("guards do not leak between definitions", func(t *testing.T) {
		t.Parallel()
		table := statemachine.NewBuilder().
			From(draft).When(submit).To(inReview).WithGuard(isTrue).Add().
			From(inReview).When(approve).To(approved).Add().
			MustBuild()

		tr, err := table.Resolve(context.Background(), inReview, approve, false)
		require.NoError(t, err)
		assert.Empty(t, tr.Guards)
	})
}
