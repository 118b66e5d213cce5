package billing

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// Locker serializes read-modify-write cycles on one key. Lock blocks until the
// key is free or ctx is done; the returned function releases it.
//
// Lock order is always subscription key first, customer key second.
type Locker interface {
	Lock(ctx context.Context, key string) (unlock func(), err error)
}

func subscriptionLockKey(customerID uuid.UUID, name string) string {
	return "subscription:" + customerID.String() + ":" + name
}

func customerLockKey(customerID uuid.UUID) string {
	return "customer:" + customerID.String()
}

// MemoryLocker is a keyed mutex for single-process deployments.
type MemoryLocker struct {
	mu    sync.Mutex
	locks map[string]*keyLock
}

type keyLock struct {
	sem  chan struct{}
	refs int
}

// NewMemoryLocker creates an in-process Locker.
func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{locks: make(map[string]*keyLock)}
}

func (l *MemoryLocker) Lock(ctx context.Context, key string) (func(), error) {
	l.mu.Lock()
	kl, ok := l.locks[key]
	if !ok {
		kl = &keyLock{sem: make(chan struct{}, 1)}
		l.locks[key] = kl
	}
	kl.refs++
	l.mu.Unlock()

	select {
	case kl.sem <- struct{}{}:
	case <-ctx.Done():
		l.release(key, kl)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-kl.sem
			l.release(key, kl)
		})
	}, nil
}

func (l *MemoryLocker) release(key string, kl *keyLock) {
	l.mu.Lock()
	defer l.mu.Unlock()
	kl.refs--
	if kl.refs == 0 {
		delete(l.locks, key)
	}
}
