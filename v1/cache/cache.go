package cache

import (
	"container/list"
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("github.com/mirkobrombin/go-shelf/v1/cache")

// Cache defines the basic operations for a cache layer.
//
// T represents the type of values stored in the cache.
type Cache[T any] interface {
	// Get retrieves a value for the given key. The boolean return
	// indicates whether the key was found. An error is returned if
	// retrieving the value fails.
	Get(ctx context.Context, key string) (T, bool, error)
	// Set stores the value for the given key for the specified TTL.
	// A non-positive TTL selects the cache default.
	Set(ctx context.Context, key string, value T, ttl time.Duration) error
	// Invalidate removes the key from the cache.
	Invalidate(ctx context.Context, key string) error
}

// Clock reports the current time. Tests inject a manual clock to simulate expiry.
type Clock interface {
	Now() time.Time
}

// ClockFunc adapts a function to the Clock interface.
type ClockFunc func() time.Time

// Now implements Clock.
func (f ClockFunc) Now() time.Time { return f() }

// Policy selects which entry is evicted when the cache is full.
type Policy int

const (
	// PolicyFIFO evicts the entry with the oldest insertion time.
	PolicyFIFO Policy = iota
	// PolicyLRU evicts the least recently read or written entry.
	PolicyLRU
)

// InMemoryCache is a bounded in-memory cache with per-entry TTL.
//
// Expired entries are never returned: Get checks the TTL and drops the entry
// on the spot. A background sweeper purges the remaining expired entries
// periodically so unread keys do not accumulate.
type InMemoryCache[T any] struct {
	mu    sync.Mutex
	items map[string]*list.Element
	// order keeps the newest (FIFO) or most recently used (LRU) entry at the front.
	order *list.List

	hits      atomic.Uint64
	misses    atomic.Uint64
	evictions atomic.Uint64
	sweeping  atomic.Bool

	clock         Clock
	policy        Policy
	maxEntries    int
	defaultTTL    time.Duration
	sweepInterval time.Duration
	ctx           context.Context
	cancel        context.CancelFunc
	wg            sync.WaitGroup

	hitCounter      prometheus.Counter
	missCounter     prometheus.Counter
	evictionCounter prometheus.Counter
	latencyHist     prometheus.Histogram
	traceEnabled    bool
}

type entry[T any] struct {
	key       string
	value     T
	createdAt time.Time
	ttl       time.Duration
}

func (e *entry[T]) expired(now time.Time) bool {
	return e.ttl > 0 && now.Sub(e.createdAt) > e.ttl
}

// InMemoryOption configures an InMemoryCache.
type InMemoryOption[T any] func(*InMemoryCache[T])

// WithSweepInterval sets the interval at which expired items are removed.
// A zero or negative duration disables the background sweeper.
func WithSweepInterval[T any](d time.Duration) InMemoryOption[T] {
	return func(c *InMemoryCache[T]) {
		c.sweepInterval = d
	}
}

// WithMaxEntries sets the maximum number of entries the cache can hold.
// A non-positive value means the cache size is unbounded.
func WithMaxEntries[T any](n int) InMemoryOption[T] {
	return func(c *InMemoryCache[T]) {
		c.maxEntries = n
	}
}

// WithDefaultTTL sets the TTL applied when Set receives a non-positive TTL.
// A non-positive default means such entries never expire.
func WithDefaultTTL[T any](d time.Duration) InMemoryOption[T] {
	return func(c *InMemoryCache[T]) {
		c.defaultTTL = d
	}
}

// WithPolicy selects the eviction policy. The default is PolicyFIFO.
func WithPolicy[T any](p Policy) InMemoryOption[T] {
	return func(c *InMemoryCache[T]) {
		c.policy = p
	}
}

// WithClock replaces the wall clock used for timestamps and expiry checks.
func WithClock[T any](clock Clock) InMemoryOption[T] {
	return func(c *InMemoryCache[T]) {
		if clock != nil {
			c.clock = clock
		}
	}
}

// WithMetrics enables Prometheus metrics collection using the provided registerer.
// name is attached as the "cache" label so several caches can share a registry.
func WithMetrics[T any](reg prometheus.Registerer, name string) InMemoryOption[T] {
	return func(c *InMemoryCache[T]) {
		labels := prometheus.Labels{"cache": name}
		c.hitCounter = prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "shelf_cache_hits_total",
			Help:        "Total number of cache hits",
			ConstLabels: labels,
		})
		c.missCounter = prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "shelf_cache_misses_total",
			Help:        "Total number of cache misses",
			ConstLabels: labels,
		})
		c.evictionCounter = prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "shelf_cache_evictions_total",
			Help:        "Total number of entries removed by capacity or expiry",
			ConstLabels: labels,
		})
		c.latencyHist = prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:        "shelf_cache_latency_seconds",
			Help:        "Latency of cache operations",
			Buckets:     prometheus.DefBuckets,
			ConstLabels: labels,
		})
		reg.MustRegister(c.hitCounter, c.missCounter, c.evictionCounter, c.latencyHist)
	}
}

// WithTracing enables OpenTelemetry tracing for cache operations.
func WithTracing[T any]() InMemoryOption[T] {
	return func(c *InMemoryCache[T]) {
		c.traceEnabled = true
	}
}

// defaultSweepInterval matches the cleanup period storefront pages used for
// their DOM and fetch memoization.
const defaultSweepInterval = 5 * time.Minute

// NewInMemory returns a new InMemoryCache instance.
//
// A background goroutine sweeps expired entries every five minutes unless
// WithSweepInterval says otherwise. Call Close to stop it.
func NewInMemory[T any](opts ...InMemoryOption[T]) *InMemoryCache[T] {
	ctx, cancel := context.WithCancel(context.Background())
	c := &InMemoryCache[T]{
		items:         make(map[string]*list.Element),
		order:         list.New(),
		clock:         ClockFunc(time.Now),
		sweepInterval: defaultSweepInterval,
		ctx:           ctx,
		cancel:        cancel,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.sweepInterval > 0 {
		c.wg.Add(1)
		go c.sweeper()
	}
	return c
}

// instrument starts a span and latency measurement for op. The returned
// function records the outcome and must be called once the operation ends.
func (c *InMemoryCache[T]) instrument(ctx context.Context, op string) (context.Context, func(result string)) {
	if !c.traceEnabled && c.latencyHist == nil {
		return ctx, func(string) {}
	}
	start := c.clock.Now()
	var span trace.Span
	if c.traceEnabled {
		ctx, span = tracer.Start(ctx, op)
	}
	return ctx, func(result string) {
		latency := c.clock.Now().Sub(start)
		if c.latencyHist != nil {
			c.latencyHist.Observe(latency.Seconds())
		}
		if span != nil {
			span.SetAttributes(attribute.Int64("shelf.cache.latency_ms", latency.Milliseconds()))
			if result != "" {
				span.SetAttributes(attribute.String("shelf.cache.result", result))
			}
			span.End()
		}
	}
}

// Get implements Cache.Get.
func (c *InMemoryCache[T]) Get(ctx context.Context, key string) (T, bool, error) {
	var zero T
	ctx, done := c.instrument(ctx, "Cache.Get")
	if err := ctx.Err(); err != nil {
		done("")
		return zero, false, err
	}
	c.mu.Lock()
	elem, ok := c.items[key]
	if !ok {
		c.mu.Unlock()
		c.recordMiss()
		done("miss")
		return zero, false, nil
	}
	e := elem.Value.(*entry[T])
	if e.expired(c.clock.Now()) {
		c.removeElement(elem)
		c.mu.Unlock()
		c.recordEviction()
		c.recordMiss()
		done("expired")
		return zero, false, nil
	}
	if c.policy == PolicyLRU {
		c.order.MoveToFront(elem)
	}
	value := e.value
	c.mu.Unlock()
	c.hits.Add(1)
	if c.hitCounter != nil {
		c.hitCounter.Inc()
	}
	done("hit")
	return value, true, nil
}

// Set implements Cache.Set.
//
// Overwriting a key resets its timestamp and TTL. Inserting a new key while
// the cache holds maxEntries entries first evicts exactly one entry: the
// oldest inserted one (PolicyFIFO) or the least recently used (PolicyLRU).
func (c *InMemoryCache[T]) Set(ctx context.Context, key string, value T, ttl time.Duration) error {
	ctx, done := c.instrument(ctx, "Cache.Set")
	defer done("")
	if err := ctx.Err(); err != nil {
		return err
	}
	if ttl <= 0 {
		ttl = c.defaultTTL
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.clock.Now()
	if elem, ok := c.items[key]; ok {
		e := elem.Value.(*entry[T])
		e.value = value
		e.createdAt = now
		e.ttl = ttl
		c.order.MoveToFront(elem)
		return nil
	}
	if c.maxEntries > 0 && len(c.items) >= c.maxEntries {
		if tail := c.order.Back(); tail != nil {
			c.removeElement(tail)
			c.recordEviction()
		}
	}
	c.items[key] = c.order.PushFront(&entry[T]{key: key, value: value, createdAt: now, ttl: ttl})
	return nil
}

// Invalidate implements Cache.Invalidate.
func (c *InMemoryCache[T]) Invalidate(ctx context.Context, key string) error {
	ctx, done := c.instrument(ctx, "Cache.Invalidate")
	defer done("")
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	if elem, ok := c.items[key]; ok {
		c.removeElement(elem)
	}
	c.mu.Unlock()
	return nil
}

// Clear removes every entry unconditionally.
func (c *InMemoryCache[T]) Clear() {
	c.mu.Lock()
	c.items = make(map[string]*list.Element)
	c.order.Init()
	c.mu.Unlock()
}

// Len returns the number of stored entries, including expired ones not yet removed.
func (c *InMemoryCache[T]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// Sweep removes every expired entry and returns how many were dropped.
//
// Only one sweep runs at a time; a call made while another sweep is in
// progress returns 0 without touching the cache.
func (c *InMemoryCache[T]) Sweep() int {
	if !c.sweeping.CompareAndSwap(false, true) {
		return 0
	}
	defer c.sweeping.Store(false)

	c.mu.Lock()
	now := c.clock.Now()
	removed := 0
	for elem := c.order.Front(); elem != nil; {
		next := elem.Next()
		if elem.Value.(*entry[T]).expired(now) {
			c.removeElement(elem)
			removed++
		}
		elem = next
	}
	c.mu.Unlock()

	if removed > 0 {
		c.evictions.Add(uint64(removed))
		if c.evictionCounter != nil {
			c.evictionCounter.Add(float64(removed))
		}
	}
	return removed
}

// removeElement drops elem from both the index and the order list. c.mu must be held.
func (c *InMemoryCache[T]) removeElement(elem *list.Element) {
	c.order.Remove(elem)
	delete(c.items, elem.Value.(*entry[T]).key)
}

func (c *InMemoryCache[T]) recordMiss() {
	c.misses.Add(1)
	if c.missCounter != nil {
		c.missCounter.Inc()
	}
}

func (c *InMemoryCache[T]) recordEviction() {
	c.evictions.Add(1)
	if c.evictionCounter != nil {
		c.evictionCounter.Inc()
	}
}

// sweeper periodically removes expired items from the cache.
func (c *InMemoryCache[T]) sweeper() {
	defer c.wg.Done()
	ticker := time.NewTicker(c.sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.Sweep()
		case <-c.ctx.Done():
			return
		}
	}
}

// Close terminates any background goroutines used by the cache.
func (c *InMemoryCache[T]) Close() {
	c.cancel()
	c.wg.Wait()
	c.Clear()
}

// Stats reports basic metrics about cache usage.
type Stats struct {
	Hits      uint64
	Misses    uint64
	Evictions uint64
	Size      int
}

// Metrics returns current metrics for the cache.
func (c *InMemoryCache[T]) Metrics() Stats {
	return Stats{
		Hits:      c.hits.Load(),
		Misses:    c.misses.Load(),
		Evictions: c.evictions.Load(),
		Size:      c.Len(),
	}
}
