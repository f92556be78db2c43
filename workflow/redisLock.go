package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bsm/redislock"
)

const defaultRedisLockRetry = 50 * time.Millisecond

// RedisCustomerLocker is the cluster-wide lock backed by redislock.
// The TTL only matters when a holder dies; it must exceed a normal decision.
type RedisCustomerLocker struct {
	client *redislock.Client
	ttl    time.Duration
	retry  time.Duration
}

func NewRedisCustomerLocker(client *redislock.Client, ttl time.Duration) *RedisCustomerLocker {
	return &RedisCustomerLocker{client: client, ttl: ttl, retry: defaultRedisLockRetry}
}

func (l *RedisCustomerLocker) Acquire(ctx context.Context, customerId string, wait time.Duration) (*LockHandle, error) {
	if l == nil || l.client == nil {
		// Avoid nil-pointer panics when Redis lock isn't initialized yet.
		return nil, errors.New("redis lock not initialized")
	}
	key := CustomerLockKey(customerId)

	obtainCtx, cancel := context.WithTimeout(ctx, wait)
	defer cancel()

	lock, err := l.client.Obtain(obtainCtx, key, l.ttl, &redislock.Options{
		RetryStrategy: redislock.LinearBackoff(l.retry),
	})
	if errors.Is(err, redislock.ErrNotObtained) {
		return NotAcquired, nil
	}
	if err != nil {
		// A deadline that fires mid round-trip surfaces as a context error, not ErrNotObtained.
		if obtainCtx.Err() != nil {
			return NotAcquired, nil
		}
		return nil, fmt.Errorf("obtain %s: %w", key, err)
	}

	return acquiredHandle(func(ctx context.Context) error {
		if err := lock.Release(ctx); err != nil {
			return fmt.Errorf("release %s: %w", key, err)
		}
		return nil
	}), nil
}
