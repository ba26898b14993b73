package ledger

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeyedMutex_SerializesSameUser(t *testing.T) {
	k := NewKeyedMutex()
	var inside, maxInside int32
	var wg sync.WaitGroup

	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := k.WithLock(context.Background(), "u1", func(context.Context) error {
				n := atomic.AddInt32(&inside, 1)
				for {
					m := atomic.LoadInt32(&maxInside)
					if n <= m || atomic.CompareAndSwapInt32(&maxInside, m, n) {
						break
					}
				}
				atomic.AddInt32(&inside, -1)
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), maxInside)
	assert.Zero(t, k.held("u1"))
}

func TestKeyedMutex_DifferentUsersDoNotContend(t *testing.T) {
	k := NewKeyedMutex()
	done := make(chan struct{})

	err := k.WithLock(context.Background(), "u1", func(context.Context) error {
		go func() {
			_ = k.WithLock(context.Background(), "u2", func(context.Context) error { return nil })
			close(done)
		}()
		<-done
		return nil
	})
	require.NoError(t, err)
}

func TestKeyedMutex_CanceledContext(t *testing.T) {
	k := NewKeyedMutex()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	err := k.WithLock(ctx, "u1", func(context.Context) error {
		called = true
		return nil
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, called)
	assert.Zero(t, k.held("u1"))
}

func TestNoLock(t *testing.T) {
	called := false
	err := NoLock{}.WithLock(context.Background(), "u1", func(context.Context) error {
		called = true
		return nil
	})
	require.NoError(t, err)
	assert.True(t, called)
}

func TestKeyedMutex_WaiterLeavesOnCancel(t *testing.T) {
	k := NewKeyedMutex()
	holding := make(chan struct{})
	release := make(chan struct{})
	holderDone := make(chan error, 1)

	go func() {
		holderDone <- k.WithLock(context.Background(), "u1", func(context.Context) error {
			close(holding)
			<-release
			return nil
		})
	}()
	<-holding

	ctx, cancel := context.WithCancel(context.Background())
	waiterDone := make(chan error, 1)
	go func() {
		waiterDone <- k.WithLock(ctx, "u1", func(context.Context) error {
			t.Error("waiter must not run")
			return nil
		})
	}()
	cancel()

	select {
	case err := <-waiterDone:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("waiter stayed blocked behind the holder")
	}

	close(release)
	require.NoError(t, <-holderDone)
	assert.Zero(t, k.held("u1"))
}
