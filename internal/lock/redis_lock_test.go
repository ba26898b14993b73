package lock

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{
		Addr: mr.Addr(),
	})
	return mr, rdb
}

func TestRedisLock_AcquireRelease(t *testing.T) {
	mr, rdb := setupTestRedis(t)
	defer rdb.Close()
	ctx := context.Background()

	locker := NewRedisLocker(rdb, time.Second)
	l := locker.NewLock("u1")

	ok, err := l.Acquire(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.True(t, mr.Exists(keyPrefix+"u1"))

	other := locker.NewLock("u1")
	ok, err = other.Acquire(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	// only the owner may release
	assert.ErrorIs(t, other.Release(ctx), ErrLockNotHeld)
	require.NoError(t, l.Release(ctx))
	assert.False(t, mr.Exists(keyPrefix+"u1"))
}

func TestRedisLock_Expires(t *testing.T) {
	mr, rdb := setupTestRedis(t)
	defer rdb.Close()
	ctx := context.Background()

	l := NewRedisLocker(rdb, time.Second).NewLock("u1")
	ok, err := l.Acquire(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	mr.FastForward(2 * time.Second)
	assert.ErrorIs(t, l.Release(ctx), ErrLockNotHeld)
}

func TestRedisLocker_WithLockSerializes(t *testing.T) {
	_, rdb := setupTestRedis(t)
	defer rdb.Close()

	locker := NewRedisLocker(rdb, 5*time.Second)
	locker.retryInterval = time.Millisecond

	var inside, overlaps int32
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := locker.WithLock(context.Background(), "u1", func(context.Context) error {
				if atomic.AddInt32(&inside, 1) > 1 {
					atomic.AddInt32(&overlaps, 1)
				}
				time.Sleep(2 * time.Millisecond)
				atomic.AddInt32(&inside, -1)
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.Zero(t, overlaps)
}

func TestRedisLocker_ReturnsFnErrorAndReleases(t *testing.T) {
	mr, rdb := setupTestRedis(t)
	defer rdb.Close()

	locker := NewRedisLocker(rdb, time.Second)
	boom := errors.New("boom")
	err := locker.WithLock(context.Background(), "u1", func(context.Context) error { return boom })
	assert.ErrorIs(t, err, boom)
	assert.False(t, mr.Exists(keyPrefix+"u1"))
}

func TestRedisLocker_Timeout(t *testing.T) {
	mr, rdb := setupTestRedis(t)
	defer rdb.Close()

	require.NoError(t, mr.Set(keyPrefix+"u1", "someone-else"))
	locker := NewRedisLocker(rdb, time.Second)
	locker.waitTimeout = 50 * time.Millisecond
	locker.retryInterval = 5 * time.Millisecond

	called := false
	err := locker.WithLock(context.Background(), "u1", func(context.Context) error {
		called = true
		return nil
	})
	assert.ErrorIs(t, err, ErrLockTimeout)
	assert.False(t, called)
}

func TestRedisLocker_CallerCancel(t *testing.T) {
	mr, rdb := setupTestRedis(t)
	defer rdb.Close()

	require.NoError(t, mr.Set(keyPrefix+"u1", "someone-else"))
	locker := NewRedisLocker(rdb, time.Second)
	locker.retryInterval = 5 * time.Millisecond

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	err := locker.WithLock(ctx, "u1", func(context.Context) error { return nil })
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestDial(t *testing.T) {
	mr := miniredis.RunT(t)

	client, err := Dial(context.Background(), "redis://"+mr.Addr()+"/0")
	require.NoError(t, err)
	assert.NoError(t, client.Close())

	_, err = Dial(context.Background(), "not a url")
	assert.Error(t, err)
}
