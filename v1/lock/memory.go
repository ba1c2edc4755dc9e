package lock

import (
	"context"
	"sync"
	"time"
)

// InMemory implements Locker using local memory.
type InMemory struct {
	mu    sync.Mutex
	now   func() time.Time
	locks map[string]time.Time // key -> expiry, zero means no expiry
}

// NewInMemory returns a new in-memory locker.
func NewInMemory() *InMemory {
	return &InMemory{now: time.Now, locks: make(map[string]time.Time)}
}

// TryLock implements Locker.TryLock.
func (l *InMemory) TryLock(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	if exp, held := l.locks[key]; held && (exp.IsZero() || now.Before(exp)) {
		return false, nil
	}
	var exp time.Time
	if ttl > 0 {
		exp = now.Add(ttl)
	}
	l.locks[key] = exp
	return true, nil
}

// Acquire implements Locker.Acquire.
func (l *InMemory) Acquire(ctx context.Context, key string, ttl time.Duration) error {
	return acquire(ctx, func() (bool, error) { return l.TryLock(ctx, key, ttl) })
}

// Release implements Locker.Release.
func (l *InMemory) Release(ctx context.Context, key string) error {
	l.mu.Lock()
	delete(l.locks, key)
	l.mu.Unlock()
	return nil
}
