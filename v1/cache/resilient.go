package cache

import (
	"context"
	"log/slog"
	"time"
)

// ResilientCache keeps a flaky backend from failing its callers. The proxy
// puts it in front of the Redis prefetch markers: while Redis is down every
// marker reads as absent, so a page is warmed again instead of the prefetch
// being aborted, and marker writes are dropped with a log line.
type ResilientCache[T any] struct {
	inner Cache[T]
}

// NewResilient creates a new ResilientCache wrapper.
func NewResilient[T any](inner Cache[T]) *ResilientCache[T] {
	return &ResilientCache[T]{inner: inner}
}

// Get implements Cache.Get.
// If the inner cache fails, it logs the error and returns a cache miss.
func (r *ResilientCache[T]) Get(ctx context.Context, key string) (T, bool, error) {
	val, ok, err := r.inner.Get(ctx, key)
	if err != nil {
		slog.Warn("Cache get failed, treating as miss.", "key", key, "error", err)
		var zero T
		return zero, false, nil
	}
	return val, ok, nil
}

// Set implements Cache.Set.
// If the inner cache fails, it logs the error and returns nil.
func (r *ResilientCache[T]) Set(ctx context.Context, key string, value T, ttl time.Duration) error {
	if err := r.inner.Set(ctx, key, value, ttl); err != nil {
		slog.Warn("Cache set failed, skipping write.", "key", key, "error", err)
	}
	return nil
}

// Invalidate implements Cache.Invalidate.
// If the inner cache fails, it logs the error and returns nil.
func (r *ResilientCache[T]) Invalidate(ctx context.Context, key string) error {
	if err := r.inner.Invalidate(ctx, key); err != nil {
		slog.Warn("Cache invalidate failed.", "key", key, "error", err)
	}
	return nil
}
