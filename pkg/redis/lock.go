package redis

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// releaseScript deletes the key only while it still holds our token, so a
// holder whose lease expired cannot release somebody else's lock.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// renewScript extends the lease only while the key still holds our token.
var renewScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

// Locker provides mutual exclusion across processes sharing one Redis.
// Each lock is a key set with NX and a TTL; the TTL bounds how long a crashed
// holder can block others. While a lock is held its lease is extended every
// third of the TTL, so slow remote calls inside the critical section do not
// let a second holder in.
type Locker struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
	poll   time.Duration
	log    *slog.Logger
}

// LockerOption configures a Locker.
type LockerOption func(*Locker)

// WithLockPrefix namespaces every lock key.
func WithLockPrefix(prefix string) LockerOption {
	return func(l *Locker) { l.prefix = prefix }
}

// WithLockTTL sets the lease duration of a lock.
func WithLockTTL(ttl time.Duration) LockerOption {
	return func(l *Locker) {
		if ttl > 0 {
			l.ttl = ttl
		}
	}
}

// WithLockPollInterval sets how often a blocked Lock retries.
func WithLockPollInterval(d time.Duration) LockerOption {
	return func(l *Locker) {
		if d > 0 {
			l.poll = d
		}
	}
}

// WithLockLogger sets the logger used for release failures.
func WithLockLogger(log *slog.Logger) LockerOption {
	return func(l *Locker) {
		if log != nil {
			l.log = log
		}
	}
}

// NewLocker creates a Redis backed locker.
func NewLocker(client redis.UniversalClient, opts ...LockerOption) *Locker {
	if client == nil {
		panic("redis: locker requires a client")
	}
	l := &Locker{
		client: client,
		prefix: "billing:lock:",
		ttl:    30 * time.Second,
		poll:   50 * time.Millisecond,
		log:    slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// NewLockerFromConfig creates a locker using the lock settings of cfg.
func NewLockerFromConfig(client redis.UniversalClient, cfg Config, opts ...LockerOption) *Locker {
	base := []LockerOption{
		WithLockPrefix(cfg.LockPrefix),
		WithLockTTL(cfg.LockTTL),
		WithLockPollInterval(cfg.LockPollInterval),
	}
	return NewLocker(client, append(base, opts...)...)
}

// Lock blocks until the key is acquired or ctx is done. The returned function
// releases the lock and is safe to call more than once.
func (l *Locker) Lock(ctx context.Context, key string) (func(), error) {
	if key == "" {
		return nil, ErrEmptyLockKey
	}

	fullKey := l.prefix + key
	token := uuid.NewString()

	ticker := time.NewTicker(l.poll)
	defer ticker.Stop()

	for {
		ok, err := l.client.SetNX(ctx, fullKey, token, l.ttl).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return nil, errors.Join(ErrLockNotAcquired, err)
		}
		if ok {
			return l.releaser(fullKey, token), nil
		}

		select {
		case <-ctx.Done():
			return nil, errors.Join(ErrLockNotAcquired, ctx.Err())
		case <-ticker.C:
		}
	}
}

func (l *Locker) releaser(key, token string) func() {
	stop := make(chan struct{})
	done := make(chan struct{})
	go l.renew(key, token, stop, done)

	var once sync.Once
	return func() {
		once.Do(func() {
			close(stop)
			<-done

			// Release must work even if the caller's context is already cancelled.
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := releaseScript.Run(ctx, l.client, []string{key}, token).Err(); err != nil && !errors.Is(err, redis.Nil) {
				l.log.Error("failed to release redis lock", slog.String("key", key), slog.Any("error", err))
			}
		})
	}
}

// renew extends the lease until stop is closed or the lease is lost.
func (l *Locker) renew(key, token string, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(max(l.ttl/3, time.Millisecond))
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
		}

		ctx, cancel := context.WithTimeout(context.Background(), l.ttl)
		n, err := renewScript.Run(ctx, l.client, []string{key}, token, l.ttl.Milliseconds()).Int64()
		cancel()
		switch {
		case err != nil && !errors.Is(err, redis.Nil):
			l.log.Warn("failed to extend redis lock", slog.String("key", key), slog.Any("error", err))
		case n == 0:
			l.log.Warn("redis lock lease lost", slog.String("key", key))
			return
		}
	}
}
