package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/dgraph-io/ristretto"
)

// RistrettoCache implements Cache using dgraph-io/ristretto.
//
// Ristretto admits entries probabilistically, so a Set may be dropped under
// pressure. It suits memoization where a miss only costs a recomputation.
type RistrettoCache[T any] struct {
	c          *ristretto.Cache
	defaultTTL time.Duration
	unitCost   bool
}

// RistrettoOption configures the underlying ristretto cache.
type RistrettoOption func(*ristrettoSettings)

type ristrettoSettings struct {
	cfg        ristretto.Config
	defaultTTL time.Duration
	unitCost   bool
}

// WithRistretto applies a custom ristretto configuration.
//
// If cfg is nil, defaults are used.
func WithRistretto(cfg *ristretto.Config) RistrettoOption {
	return func(s *ristrettoSettings) {
		if cfg == nil {
			return
		}
		s.cfg = *cfg
	}
}

// WithRistrettoMaxEntries bounds the cache by entry count: every entry costs 1.
func WithRistrettoMaxEntries(n int) RistrettoOption {
	return func(s *ristrettoSettings) {
		if n <= 0 {
			return
		}
		s.cfg.MaxCost = int64(n)
		s.cfg.NumCounters = int64(n) * 10
		s.cfg.IgnoreInternalCost = true
		s.unitCost = true
	}
}

// WithRistrettoDefaultTTL sets the TTL used when Set receives a non-positive TTL.
func WithRistrettoDefaultTTL(d time.Duration) RistrettoOption {
	return func(s *ristrettoSettings) {
		s.defaultTTL = d
	}
}

// NewRistretto returns a Cache backed by ristretto.
//
// Default configuration aims for a generous in-memory cache.
func NewRistretto[T any](opts ...RistrettoOption) (*RistrettoCache[T], error) {
	s := ristrettoSettings{cfg: ristretto.Config{
		NumCounters: 1e4,     // number of keys to track frequency of (10k).
		MaxCost:     1 << 20, // maximum cost of cache (1MB by default).
		BufferItems: 64,      // number of keys per Get buffer.
	}}
	for _, opt := range opts {
		opt(&s)
	}
	rc, err := ristretto.NewCache(&s.cfg)
	if err != nil {
		return nil, fmt.Errorf("ristretto: %w", err)
	}
	return &RistrettoCache[T]{c: rc, defaultTTL: s.defaultTTL, unitCost: s.unitCost}, nil
}

// Get implements Cache.Get.
func (r *RistrettoCache[T]) Get(ctx context.Context, key string) (T, bool, error) {
	var zero T
	if err := ctx.Err(); err != nil {
		return zero, false, err
	}
	v, ok := r.c.Get(key)
	if !ok {
		return zero, false, nil
	}
	val, ok := v.(T)
	if !ok {
		return zero, false, nil
	}
	return val, true, nil
}

// Set implements Cache.Set.
func (r *RistrettoCache[T]) Set(ctx context.Context, key string, value T, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if ttl <= 0 {
		ttl = r.defaultTTL
	}
	cost := int64(1)
	if !r.unitCost {
		cost = estimateSize(value)
	}
	r.c.SetWithTTL(key, value, cost, ttl)
	r.c.Wait()
	return nil
}

// Invalidate implements Cache.Invalidate.
func (r *RistrettoCache[T]) Invalidate(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.c.Del(key)
	r.c.Wait()
	return nil
}

// Clear removes every entry.
func (r *RistrettoCache[T]) Clear() {
	r.c.Clear()
}

// Close releases resources held by the cache.
func (r *RistrettoCache[T]) Close() {
	r.c.Close()
}

// estimateSize approximates the memory cost of v for ristretto's cost
// accounting. Unknown types report 1.
func estimateSize(v any) int64 {
	switch x := v.(type) {
	case []byte:
		return int64(len(x))
	case string:
		return int64(len(x))
	default:
		return 1
	}
}
