// Package lock provides the Redis distributed lock that serializes mining of one
// user's chain across processes.
package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const keyPrefix = "trustchain:mine:"

var (
	// ErrLockNotHeld is returned when releasing a lock that expired or was taken over
	ErrLockNotHeld = errors.New("lock not held")
	// ErrLockTimeout is returned when the lock could not be acquired before the deadline
	ErrLockTimeout = errors.New("lock acquire timeout")
)

var releaseScript = redis.NewScript(`
	if redis.call("GET", KEYS[1]) == ARGV[1] then
		return redis.call("DEL", KEYS[1])
	else
		return 0
	end
`)

// RedisLock is one owned lock on a key
type RedisLock struct {
	client     redis.UniversalClient
	key        string
	value      string
	expiration time.Duration
}

// Acquire tries to take the lock once
func (l *RedisLock) Acquire(ctx context.Context) (bool, error) {
	ok, err := l.client.SetNX(ctx, l.key, l.value, l.expiration).Result()
	if err != nil {
		return false, fmt.Errorf("acquire lock failed: %w", err)
	}
	return ok, nil
}

// Release drops the lock if this owner still holds it
func (l *RedisLock) Release(ctx context.Context) error {
	result, err := releaseScript.Run(ctx, l.client, []string{l.key}, l.value).Int64()
	if err != nil {
		return fmt.Errorf("release lock failed: %w", err)
	}
	if result == 0 {
		return ErrLockNotHeld
	}
	return nil
}

// RedisLocker hands out per-user mining locks
type RedisLocker struct {
	client        redis.UniversalClient
	expiration    time.Duration
	retryInterval time.Duration
	waitTimeout   time.Duration
}

// NewRedisLocker creates a locker. expiration bounds how long a crashed miner can
// block a chain; it must exceed the worst read-last + insert latency.
func NewRedisLocker(client redis.UniversalClient, expiration time.Duration) *RedisLocker {
	if expiration <= 0 {
		expiration = 5 * time.Second
	}
	return &RedisLocker{
		client:        client,
		expiration:    expiration,
		retryInterval: 20 * time.Millisecond,
		waitTimeout:   2 * expiration,
	}
}

// NewLock creates an unacquired lock for the user's chain
func (r *RedisLocker) NewLock(userID string) *RedisLock {
	return &RedisLock{
		client:     r.client,
		key:        keyPrefix + userID,
		value:      uuid.New().String(),
		expiration: r.expiration,
	}
}

// WithLock runs fn while holding the user's lock. It waits for the lock up to
// twice the expiration, or until ctx is done.
func (r *RedisLocker) WithLock(ctx context.Context, userID string, fn func(ctx context.Context) error) error {
	l := r.NewLock(userID)

	waitCtx, cancel := context.WithTimeout(ctx, r.waitTimeout)
	defer cancel()
	for {
		ok, err := l.Acquire(waitCtx)
		if err != nil && waitCtx.Err() == nil {
			return err
		}
		if ok {
			break
		}
		select {
		case <-waitCtx.Done():
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("%w: %s", ErrLockTimeout, userID)
		case <-time.After(r.retryInterval):
		}
	}

	fnErr := fn(ctx)
	// Release with a fresh context so a cancelled caller still frees the chain.
	// A failed release is not reported: fn's outcome stands and the key expires.
	relCtx, relCancel := context.WithTimeout(context.Background(), time.Second)
	defer relCancel()
	_ = l.Release(relCtx)
	return fnErr
}

// Dial connects to the Redis server at url (redis://[:password@]host:port/db) and pings it
func Dial(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}
