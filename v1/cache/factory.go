package cache

import (
	"fmt"
	"time"
)

// Strategy selects the cache implementation built by cache.New.
type Strategy int

const (
	// FIFOStrategy evicts the oldest inserted entry when full.
	FIFOStrategy Strategy = iota
	// LRUStrategy evicts the least recently used entry when full.
	LRUStrategy
	// RistrettoStrategy uses ristretto's admission-controlled cache.
	RistrettoStrategy
)

// ParseStrategy maps a configuration string to a Strategy.
func ParseStrategy(s string) (Strategy, error) {
	switch s {
	case "", "fifo":
		return FIFOStrategy, nil
	case "lru":
		return LRUStrategy, nil
	case "ristretto":
		return RistrettoStrategy, nil
	default:
		return FIFOStrategy, fmt.Errorf("unknown cache strategy %q", s)
	}
}

// Option configures cache.New.
type Option[T any] func(*factoryConfig[T])

type factoryConfig[T any] struct {
	strategy   Strategy
	maxEntries int
	defaultTTL time.Duration
	inMemory   []InMemoryOption[T]
}

// WithStrategy selects the implementation to use. The default is FIFOStrategy.
func WithStrategy[T any](s Strategy) Option[T] {
	return func(cfg *factoryConfig[T]) {
		cfg.strategy = s
	}
}

// WithCapacity bounds the number of entries held by the cache.
func WithCapacity[T any](n int) Option[T] {
	return func(cfg *factoryConfig[T]) {
		cfg.maxEntries = n
	}
}

// WithTTL sets the default TTL for entries stored without an explicit one.
func WithTTL[T any](d time.Duration) Option[T] {
	return func(cfg *factoryConfig[T]) {
		cfg.defaultTTL = d
	}
}

// WithInMemoryOptions forwards extra options to the in-memory strategies.
func WithInMemoryOptions[T any](opts ...InMemoryOption[T]) Option[T] {
	return func(cfg *factoryConfig[T]) {
		cfg.inMemory = append(cfg.inMemory, opts...)
	}
}

// New returns a Cache using the selected strategy.
//
// Implementations that own background resources also implement
// interface{ Close() }; callers should close them on shutdown.
func New[T any](opts ...Option[T]) (Cache[T], error) {
	cfg := factoryConfig[T]{strategy: FIFOStrategy}
	for _, opt := range opts {
		opt(&cfg)
	}
	switch cfg.strategy {
	case RistrettoStrategy:
		return NewRistretto[T](
			WithRistrettoMaxEntries(cfg.maxEntries),
			WithRistrettoDefaultTTL(cfg.defaultTTL),
		)
	case LRUStrategy, FIFOStrategy:
		base := []InMemoryOption[T]{
			WithMaxEntries[T](cfg.maxEntries),
			WithDefaultTTL[T](cfg.defaultTTL),
		}
		if cfg.strategy == LRUStrategy {
			return NewLRU[T](append(base, cfg.inMemory...)...), nil
		}
		return NewInMemory[T](append(base, cfg.inMemory...)...), nil
	default:
		return nil, fmt.Errorf("unsupported cache strategy %d", cfg.strategy)
	}
}
