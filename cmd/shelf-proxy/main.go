// Runs a caching edge proxy in front of a storefront origin.

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"time"

	sarama "github.com/IBM/sarama"
	nats "github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	redis "github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/mirkobrombin/go-shelf/v1/cache"
	"github.com/mirkobrombin/go-shelf/v1/config"
	"github.com/mirkobrombin/go-shelf/v1/events"
	"github.com/mirkobrombin/go-shelf/v1/hints"
	"github.com/mirkobrombin/go-shelf/v1/lock"
	"github.com/mirkobrombin/go-shelf/v1/logging"
	"github.com/mirkobrombin/go-shelf/v1/metrics"
	"github.com/mirkobrombin/go-shelf/v1/storage"
	"github.com/mirkobrombin/go-shelf/v1/validator"
	"github.com/mirkobrombin/go-shelf/v1/worker"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := config.Load(flag.CommandLine, os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	if err := logging.Init(logging.HandlerType(cfg.LogHandler), logging.Level(cfg.LogLevel)); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("Invalid configuration.", "error", err)
		os.Exit(2)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, os.Interrupt)
	go func() { // Listen for OS interrupts in the background.
		sig := <-signals
		slog.Info("Received termination signal, shutting down.", "signal", sig)
		cancel()
	}()

	if err := run(ctx, cfg); err != nil {
		slog.Error("Proxy stopped.", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	if cfg.Trace {
		exp, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
		if err != nil {
			return fmt.Errorf("trace exporter: %w", err)
		}
		tp := sdktrace.NewTracerProvider(sdktrace.WithBatcher(exp))
		defer func() { _ = tp.Shutdown(context.Background()) }()
		otel.SetTracerProvider(tp)
	}

	reg := metrics.NewRegistry()
	metrics.RegisterWorkerMetrics(reg)

	deps, err := newBackends(cfg, reg)
	if err != nil {
		return err
	}
	defer deps.close()

	var origin http.RoundTripper = http.DefaultTransport
	if cfg.Breaker.Threshold > 0 {
		origin = worker.NewBreaker(origin, cfg.Breaker.Threshold, cfg.Breaker.Cooldown)
	}

	policy, _ := worker.ParsePolicy(cfg.Policy)
	h := hints.Hints{
		CSS:         cfg.Hints.CSS,
		JS:          cfg.Hints.JS,
		Fonts:       cfg.Hints.Fonts,
		Preconnect:  cfg.Hints.Preconnect,
		DNSPrefetch: cfg.Hints.DNSPrefetch,
	}

	var prefetcher *hints.Prefetcher
	w := worker.New(cfg.OriginURL(),
		worker.WithVersion(cfg.Version),
		worker.WithStaticAssets(cfg.StaticAssets...),
		worker.WithTransport(origin),
		worker.WithStorage(deps.store),
		worker.WithLocker(deps.locker, 0),
		worker.WithBus(deps.bus),
		worker.WithPolicy(policy),
		worker.WithMaxBodySize(cfg.MaxBodySize),
		worker.WithCacheable(worker.SharedCacheable),
		worker.WithStoreHook(func(ctx context.Context, key string, rec *storage.Record) {
			prefetcher.Observe(ctx, key, rec)
		}),
	)
	prefetcher = hints.NewPrefetcher(w, deps.markers,
		hints.WithPatterns(cfg.Hints.PrefetchPatterns...),
		hints.WithLimit(cfg.Hints.PrefetchLimit),
	)

	if err := w.Start(ctx); err != nil {
		return err
	}
	if n, err := prefetcher.Preload(ctx, h.Preloads()); err != nil {
		slog.Warn("Preload interrupted.", "error", err)
	} else {
		slog.Info("Critical resources preloaded.", "stored", n)
	}
	mode, _ := validator.ParseMode(cfg.Audit.Mode)
	go validator.New(w, mode, cfg.Audit.Interval).Run(ctx)

	mux := http.NewServeMux()
	mux.Handle("/-/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	mux.Handle("/-/events", events.SSEHandler(deps.bus))
	mux.Handle("/-/events/ws", events.WebSocketHandler(deps.bus))
	mux.HandleFunc("/-/healthz", func(rw http.ResponseWriter, r *http.Request) {
		if w.State() != worker.StateActive {
			http.Error(rw, w.State().String(), http.StatusServiceUnavailable)
			return
		}
		_, _ = fmt.Fprintf(rw, "%s %s\n", w.State(), w.Version())
	})
	mux.Handle("/", hints.Middleware(h, w))

	srv := &http.Server{Addr: cfg.Listen, Handler: mux}
	errCh := make(chan error, 1)
	go func() {
		slog.Info("shelf-proxy listening.", "addr", cfg.Listen, "origin", cfg.Origin, "version", cfg.Version)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
	}
	w.Wait()
	prefetcher.Wait()
	return nil
}

type backends struct {
	store   storage.Storage
	locker  lock.Locker
	bus     events.Bus
	markers cache.Cache[bool]
	closers []func()
}

func (b *backends) close() {
	for i := len(b.closers) - 1; i >= 0; i-- {
		b.closers[i]()
	}
}

// newBackends builds the shared state of the proxy. With the redis backend
// every piece lives in Redis so several proxies behave as one.
func newBackends(cfg *config.Config, reg prometheus.Registerer) (*backends, error) {
	b := &backends{}
	var client *redis.Client
	if cfg.Storage.Backend == config.BackendRedis || cfg.EventsBackend() == config.BackendRedis {
		client = redis.NewClient(&redis.Options{
			Addr:     cfg.Storage.RedisAddr,
			Password: cfg.Storage.RedisPassword,
			DB:       cfg.Storage.RedisDB,
		})
		b.closers = append(b.closers, func() { _ = client.Close() })
	}

	if cfg.Storage.Backend == config.BackendRedis {
		b.store = storage.NewRedis(client,
			storage.WithPrefix(cfg.Storage.Prefix),
			storage.WithTimeout(cfg.Storage.Timeout),
		)
		b.locker = lock.NewRedis(client)
		codec, _ := cache.CodecByName(cfg.Storage.Codec)
		b.markers = cache.NewResilient[bool](cache.NewRedis[bool](client,
			cache.WithCodec(codec),
			cache.WithKeyPrefix(cfg.Storage.Prefix+"hint:"),
			cache.WithRedisDefaultTTL(cfg.Memo.TTL),
		))
	} else {
		strategy, _ := cache.ParseStrategy(cfg.Memo.Backend)
		inMemory := []cache.InMemoryOption[bool]{
			cache.WithSweepInterval[bool](cfg.Memo.SweepInterval),
			cache.WithMetrics[bool](reg, "hints"),
		}
		if cfg.Trace {
			inMemory = append(inMemory, cache.WithTracing[bool]())
		}
		markers, err := cache.New[bool](
			cache.WithStrategy[bool](strategy),
			cache.WithCapacity[bool](cfg.Memo.MaxSize),
			cache.WithTTL[bool](cfg.Memo.TTL),
			cache.WithInMemoryOptions[bool](inMemory...),
		)
		if err != nil {
			b.close()
			return nil, fmt.Errorf("hint markers: %w", err)
		}
		if closer, ok := markers.(interface{ Close() }); ok {
			b.closers = append(b.closers, closer.Close)
		}
		b.store = storage.NewInMemory()
		b.locker = lock.NewInMemory()
		b.markers = markers
	}

	switch cfg.EventsBackend() {
	case config.BackendRedis:
		topic := cfg.Events.Topic
		if topic == "" {
			topic = cfg.Storage.Prefix + "events"
		}
		b.bus = events.NewRedis(client, topic)
	case config.BackendNATS:
		conn, err := nats.Connect(cfg.Events.NATSURL)
		if err != nil {
			b.close()
			return nil, fmt.Errorf("connect nats: %w", err)
		}
		b.closers = append(b.closers, conn.Close)
		b.bus = events.NewNATS(conn, cfg.Events.Topic)
	case config.BackendKafka:
		bus, err := events.NewKafka(cfg.Events.KafkaBrokers, sarama.NewConfig(), cfg.Events.Topic)
		if err != nil {
			b.close()
			return nil, fmt.Errorf("connect kafka: %w", err)
		}
		b.closers = append(b.closers, bus.Close)
		b.bus = bus
	default:
		b.bus = events.NewInMemory()
	}
	return b, nil
}
