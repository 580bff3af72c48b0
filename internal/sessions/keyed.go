package sessions

import (
	"context"
	"errors"
	"sync"
)

// ErrLockerClosed is returned by Lock after Close.
var ErrLockerClosed = errors.New("locker closed")

// KeyedLocker serializes work per key within one process. Locks for keys
// nobody holds or waits on are released from memory.
type KeyedLocker struct {
	mu     sync.Mutex
	locks  map[string]*keyedLock
	closed bool
}

type keyedLock struct {
	ch   chan struct{}
	refs int
}

// NewKeyedLocker creates an empty locker.
func NewKeyedLocker() *KeyedLocker {
	return &KeyedLocker{locks: make(map[string]*keyedLock)}
}

// Lock blocks until key is free or ctx is done.
func (l *KeyedLocker) Lock(ctx context.Context, key string) error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return ErrLockerClosed
	}
	lock := l.locks[key]
	if lock == nil {
		lock = &keyedLock{ch: make(chan struct{}, 1)}
		l.locks[key] = lock
	}
	lock.refs++
	l.mu.Unlock()

	select {
	case lock.ch <- struct{}{}:
		return nil
	case <-ctx.Done():
		l.release(key, lock)
		return ctx.Err()
	}
}

// Unlock releases key. Unlocking a key that is not held is a no-op.
func (l *KeyedLocker) Unlock(key string) {
	l.mu.Lock()
	lock := l.locks[key]
	l.mu.Unlock()
	if lock == nil {
		return
	}
	select {
	case <-lock.ch:
		l.release(key, lock)
	default:
	}
}

func (l *KeyedLocker) release(key string, lock *keyedLock) {
	l.mu.Lock()
	defer l.mu.Unlock()
	lock.refs--
	if lock.refs <= 0 && l.locks[key] == lock {
		delete(l.locks, key)
	}
}

// Len returns the number of keys currently held or waited on.
func (l *KeyedLocker) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}

// Close makes further Lock calls fail. Held locks stay valid.
func (l *KeyedLocker) Close() {
	l.mu.Lock()
	l.closed = true
	l.mu.Unlock()
}
