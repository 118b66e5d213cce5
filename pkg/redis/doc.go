// Package redis wraps github.com/redis/go-redis/v9 for the billing service.
//
//   - Connect parses REDIS_URL and waits for the server to answer.
//   - Healthcheck adapts a client to readiness probes.
//   - Locker implements the per-subscription exclusive lock used while local
//     billing records are read, merged and written back, so that webhook
//     deliveries handled by different replicas do not interleave.
//
// Usage:
//
//	client, err := redis.Connect(ctx, cfg)
//	if err != nil {
//	    return err
//	}
//	locker := redis.NewLockerFromConfig(client, cfg)
//
//	unlock, err := locker.Lock(ctx, "subscription:42:default")
//	if err != nil {
//	    return err
//	}
//	defer unlock()
//
// A lock is a plain key written with SET NX PX holding a random token. Lock
// polls until it wins or the context ends; release runs a compare-and-delete
// script so an expired holder can never remove a lock it no longer owns.
package redis
