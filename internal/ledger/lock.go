package ledger

import (
	"context"
	"sync"
)

// Locker serializes mining per user. fn runs while no other holder of the same
// user's lock runs; different users never contend.
type Locker interface {
	WithLock(ctx context.Context, userID string, fn func(ctx context.Context) error) error
}

// KeyedMutex is an in-process Locker. It only protects miners sharing one process;
// use a distributed Locker when several processes write the same store.
type KeyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyedEntry
}

type keyedEntry struct {
	sem  chan struct{} // capacity 1: a token in the channel means held
	refs int
}

// NewKeyedMutex creates an empty keyed mutex
func NewKeyedMutex() *KeyedMutex {
	return &KeyedMutex{locks: make(map[string]*keyedEntry)}
}

// WithLock implements Locker. A waiter gives up as soon as ctx is done.
func (k *KeyedMutex) WithLock(ctx context.Context, userID string, fn func(ctx context.Context) error) error {
	k.mu.Lock()
	e, ok := k.locks[userID]
	if !ok {
		e = &keyedEntry{sem: make(chan struct{}, 1)}
		k.locks[userID] = e
	}
	e.refs++
	k.mu.Unlock()

	defer func() {
		k.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(k.locks, userID)
		}
		k.mu.Unlock()
	}()

	select {
	case e.sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-e.sem }()
	if err := ctx.Err(); err != nil {
		return err
	}
	return fn(ctx)
}

// held reports how many callers hold or wait on a user's lock
func (k *KeyedMutex) held(userID string) int {
	k.mu.Lock()
	defer k.mu.Unlock()
	if e, ok := k.locks[userID]; ok {
		return e.refs
	}
	return 0
}

// NoLock runs fn directly. Chain linearity then rests on the store's uniqueness
// constraint and the single fork retry.
type NoLock struct{}

// WithLock implements Locker
func (NoLock) WithLock(ctx context.Context, _ string, fn func(ctx context.Context) error) error {
	return fn(ctx)
}
