// Package worker serves same-origin GET requests from versioned response
// partitions and falls back to the network, the way a browser service worker
// fronts a storefront.
//
// A Worker moves through install and activate before it intercepts traffic.
// Install precaches the static assets into "static-<version>"; activate purges
// every partition left behind by earlier versions. Responses fetched from the
// network while active are stored lazily in "dynamic-<version>".
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"golang.org/x/sync/singleflight"

	"github.com/mirkobrombin/go-shelf/v1/events"
	"github.com/mirkobrombin/go-shelf/v1/lock"
	"github.com/mirkobrombin/go-shelf/v1/storage"
)

var tracer = otel.Tracer("github.com/mirkobrombin/go-shelf/v1/worker")

// CacheHeader reports how a response was produced: hit, miss, fallback or bypass.
const CacheHeader = "X-Shelf-Cache"

const (
	defaultVersion     = "v1"
	defaultMaxBodySize = 5 << 20
	defaultLockTTL     = 30 * time.Second
	activateLockKey    = "shelf:activate"
)

// State is a lifecycle state of a Worker.
type State int32

const (
	StateNew State = iota
	StateInstalling
	StateInstalled
	StateActivating
	StateActive
	StateRedundant
)

func (s State) String() string {
	switch s {
	case StateNew:
		return "new"
	case StateInstalling:
		return "installing"
	case StateInstalled:
		return "installed"
	case StateActivating:
		return "activating"
	case StateActive:
		return "active"
	case StateRedundant:
		return "redundant"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Policy decides how a cached response relates to the network.
type Policy string

const (
	// CacheFirst serves a cached response without contacting the network.
	CacheFirst Policy = "cache-first"
	// StaleWhileRevalidate serves a cached response and refreshes the dynamic
	// copy in the background.
	StaleWhileRevalidate Policy = "stale-while-revalidate"
)

// ParsePolicy maps a configuration string to a Policy.
func ParsePolicy(s string) (Policy, error) {
	switch s {
	case "", string(CacheFirst), "cacheFirst":
		return CacheFirst, nil
	case string(StaleWhileRevalidate), "staleWhileRevalidate":
		return StaleWhileRevalidate, nil
	default:
		return CacheFirst, fmt.Errorf("unknown fetch policy %q", s)
	}
}

// StoreHook observes every response the worker writes to the dynamic partition.
type StoreHook func(ctx context.Context, key string, rec *storage.Record)

// Worker intercepts requests for one origin.
type Worker struct {
	scope        *url.URL
	version      string
	staticAssets []string
	staticKeys   map[string]struct{}

	store       storage.Storage
	network     http.RoundTripper
	locker      lock.Locker
	lockTTL     time.Duration
	bus         events.Bus
	policy      Policy
	maxBodySize int64
	hooks       []StoreHook
	allowStore  func(*http.Request, *http.Response) bool

	state      atomic.Int32
	revalidate singleflight.Group
	background sync.WaitGroup
}

// Option configures a Worker.
type Option func(*Worker)

// WithVersion sets the version token embedded in partition names.
func WithVersion(v string) Option {
	return func(w *Worker) {
		if v != "" {
			w.version = v
		}
	}
}

// WithStaticAssets sets the paths precached on install.
func WithStaticAssets(paths ...string) Option {
	return func(w *Worker) {
		w.staticAssets = append([]string(nil), paths...)
	}
}

// WithStorage sets the partition storage. The default is in-memory.
func WithStorage(s storage.Storage) Option {
	return func(w *Worker) {
		if s != nil {
			w.store = s
		}
	}
}

// WithTransport sets the network used for misses. The default is
// http.DefaultTransport.
func WithTransport(rt http.RoundTripper) Option {
	return func(w *Worker) {
		if rt != nil {
			w.network = rt
		}
	}
}

// WithLocker sets the locker serializing activation across processes that
// share a storage.
func WithLocker(l lock.Locker, ttl time.Duration) Option {
	return func(w *Worker) {
		if l != nil {
			w.locker = l
		}
		if ttl > 0 {
			w.lockTTL = ttl
		}
	}
}

// WithBus publishes lifecycle events on bus.
func WithBus(bus events.Bus) Option {
	return func(w *Worker) {
		w.bus = bus
	}
}

// WithPolicy selects the fetch policy. The default is CacheFirst.
func WithPolicy(p Policy) Option {
	return func(w *Worker) {
		w.policy = p
	}
}

// WithMaxBodySize sets the largest body stored in the dynamic partition.
// Larger responses are passed through untouched. Zero disables the limit.
func WithMaxBodySize(n int64) Option {
	return func(w *Worker) {
		w.maxBodySize = n
	}
}

// WithCacheable adds a predicate every response must pass before it is
// stored, on top of the status and origin checks.
func WithCacheable(fn func(req *http.Request, resp *http.Response) bool) Option {
	return func(w *Worker) {
		w.allowStore = fn
	}
}

// WithStoreHook registers fn to run after each dynamic partition write.
func WithStoreHook(fn StoreHook) Option {
	return func(w *Worker) {
		if fn != nil {
			w.hooks = append(w.hooks, fn)
		}
	}
}

// New returns a Worker for the origin of scope.
func New(scope *url.URL, opts ...Option) *Worker {
	w := &Worker{
		scope:       &url.URL{Scheme: scope.Scheme, Host: scope.Host, Path: "/"},
		version:     defaultVersion,
		store:       storage.NewInMemory(),
		network:     http.DefaultTransport,
		locker:      lock.NewInMemory(),
		lockTTL:     defaultLockTTL,
		policy:      CacheFirst,
		maxBodySize: defaultMaxBodySize,
	}
	for _, opt := range opts {
		opt(w)
	}
	w.staticKeys = make(map[string]struct{}, len(w.staticAssets))
	for _, p := range w.staticAssets {
		w.staticKeys[w.keyForPath(p)] = struct{}{}
	}
	return w
}

// State returns the current lifecycle state.
func (w *Worker) State() State { return State(w.state.Load()) }

// Version returns the version token.
func (w *Worker) Version() string { return w.version }

// StaticPartition returns the name of the current static partition.
func (w *Worker) StaticPartition() string { return "static-" + w.version }

// DynamicPartition returns the name of the current dynamic partition.
func (w *Worker) DynamicPartition() string { return "dynamic-" + w.version }

// Scope returns the origin the worker intercepts.
func (w *Worker) Scope() *url.URL {
	u := *w.scope
	return &u
}

// Start installs and activates the worker without waiting for old clients.
// Install failures are logged and do not prevent activation.
func (w *Worker) Start(ctx context.Context) error {
	if err := w.Install(ctx); err != nil {
		if ctx.Err() != nil {
			return err
		}
		slog.Warn("Install incomplete, activating anyway.", "version", w.version, "error", err)
	}
	return w.Activate(ctx)
}

// Wait blocks until background revalidations finish.
func (w *Worker) Wait() {
	w.background.Wait()
}

func (w *Worker) transition(from, to State) error {
	if !w.state.CompareAndSwap(int32(from), int32(to)) {
		return fmt.Errorf("worker: cannot move to %s from %s", to, w.State())
	}
	return nil
}

func (w *Worker) emit(ctx context.Context, ev events.Event) {
	if w.bus == nil {
		return
	}
	if err := w.bus.Publish(context.WithoutCancel(ctx), ev); err != nil {
		slog.Debug("Failed to publish worker event.", "type", ev.Type, "error", err)
	}
}
