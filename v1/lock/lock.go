package lock

import (
	"context"
	"time"
)

// Locker grants exclusive ownership of a key for a bounded time.
type Locker interface {
	// TryLock attempts to obtain the lock without waiting. It returns true on success.
	TryLock(ctx context.Context, key string, ttl time.Duration) (bool, error)
	// Acquire blocks until the lock is obtained or the context is cancelled.
	Acquire(ctx context.Context, key string, ttl time.Duration) error
	// Release frees a lock held by this locker. Releasing a lock that is not
	// held is a no-op.
	Release(ctx context.Context, key string) error
}

// retryInterval is how often Acquire polls a contended lock.
const retryInterval = 10 * time.Millisecond

// acquire polls try until it succeeds or ctx ends.
func acquire(ctx context.Context, try func() (bool, error)) error {
	ticker := time.NewTicker(retryInterval)
	defer ticker.Stop()
	for {
		ok, err := try()
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
