package billing_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/cashier/pkg/billing"
)

func TestMemoryLocker(t *testing.T) {
	t.Parallel()

	t.Run("serializes holders of the same key", func(t *testing.T) {
		t.Parallel()

		l := billing.NewMemoryLocker()
		ctx := context.Background()

		var inside, maxInside atomic.Int32
		var wg sync.WaitGroup
		for range 20 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				unlock, err := l.Lock(ctx, "subscription:a:default")
				if !assert.NoError(t, err) {
					return
				}
				defer unlock()

				n := inside.Add(1)
				for {
					m := maxInside.Load()
					if n <= m || maxInside.CompareAndSwap(m, n) {
						break
					}
				}
				time.Sleep(time.Millisecond)
				inside.Add(-1)
			}()
		}
		wg.Wait()
		assert.Equal(t, int32(1), maxInside.Load())
	})

	t.Run("different keys do not block", func(t *testing.T) {
		t.Parallel()

		l := billing.NewMemoryLocker()
		ctx := context.Background()

		unlockA, err := l.Lock(ctx, "customer:a")
		require.NoError(t, err)
		defer unlockA()

		unlockB, err := l.Lock(ctx, "customer:b")
		require.NoError(t, err)
		unlockB()
	})

	t.Run("context cancellation while waiting", func(t *testing.T) {
		t.Parallel()

		l := billing.NewMemoryLocker()
		unlock, err := l.Lock(context.Background(), "customer:a")
		require.NoError(t, err)

		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()
		_, err = l.Lock(ctx, "customer:a")
		assert.ErrorIs(t, err, context.DeadlineExceeded)

		unlock()
		unlock()

		again, err := l.Lock(context.Background(), "customer:a")
		require.NoError(t, err)
		again()
	})
}
