package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	redis "github.com/redis/go-redis/v9"

	"github.com/mirkobrombin/go-shelf/v1/cache"
	"github.com/mirkobrombin/go-shelf/v1/worker"
)

var (
	concurrency = flag.Int("c", 50, "Concurrency")
	requests    = flag.Int("n", 100000, "Requests")
	dataSize    = flag.Int("d", 256, "Payload size")
	keys        = flag.Int("keys", 200, "Distinct keys; above capacity forces evictions")
	capacity    = flag.Int("capacity", 100, "Cache capacity")
	target      = flag.String("target", "all", "Target: fifo, lru, ristretto, redis, worker")
	redisAddr   = flag.String("redis-addr", "localhost:6379", "Redis Address")
)

func main() {
	flag.Parse()

	payload := make([]byte, *dataSize)
	for i := range payload {
		payload[i] = 'x'
	}

	targets := strings.Split(*target, ",")
	if *target == "all" {
		targets = []string{"fifo", "lru", "ristretto", "redis", "worker"}
	}

	fmt.Printf("| %-10s | %-10s | %-12s | %-12s | %-8s |\n", "System", "Ops/sec", "Avg Latency", "P99 Latency", "Hit %")
	fmt.Println("|:---|:---|:---|:---|:---|")

	for _, t := range targets {
		runBenchmark(strings.TrimSpace(t), payload)
	}
}

// op performs one request for key and reports whether it was a hit.
type op func(ctx context.Context, key string) (bool, error)

func cacheOp(c cache.Cache[[]byte], payload []byte) op {
	return func(ctx context.Context, key string) (bool, error) {
		_, ok, err := c.Get(ctx, key)
		if err != nil || ok {
			return ok, err
		}
		return false, c.Set(ctx, key, payload, 0)
	}
}

func newCacheTarget(name string, payload []byte) (op, func(), error) {
	switch name {
	case "fifo", "lru", "ristretto":
		strategy, _ := cache.ParseStrategy(name)
		c, err := cache.New[[]byte](
			cache.WithStrategy[[]byte](strategy),
			cache.WithCapacity[[]byte](*capacity),
			cache.WithTTL[[]byte](time.Hour),
		)
		if err != nil {
			return nil, nil, err
		}
		cleanup := func() {}
		if closer, ok := c.(interface{ Close() }); ok {
			cleanup = closer.Close
		}
		return cacheOp(c, payload), cleanup, nil

	case "redis":
		client := redis.NewClient(&redis.Options{Addr: *redisAddr})
		c := cache.NewRedis[[]byte](client, cache.WithKeyPrefix("shelf-bench:"))
		return cacheOp(c, payload), func() { client.Close() }, nil

	case "worker":
		origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write(payload)
		}))
		scope, _ := url.Parse(origin.URL)
		w := worker.New(scope, worker.WithStaticAssets(), worker.WithTransport(origin.Client().Transport))
		if err := w.Start(context.Background()); err != nil {
			origin.Close()
			return nil, nil, err
		}
		fn := func(ctx context.Context, key string) (bool, error) {
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, origin.URL+"/"+key, nil)
			if err != nil {
				return false, err
			}
			resp, err := w.Fetch(req)
			if err != nil {
				return false, err
			}
			_, _ = io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
			return resp.Header.Get(worker.CacheHeader) == "hit", nil
		}
		return fn, origin.Close, nil

	default:
		return nil, nil, fmt.Errorf("unknown target: %s", name)
	}
}

func runBenchmark(name string, payload []byte) {
	ctx := context.Background()
	fn, cleanup, err := newCacheTarget(name, payload)
	if err != nil {
		log.Printf("%s: %v", name, err)
		return
	}
	defer cleanup()

	var wg sync.WaitGroup
	var ops, hits int64
	totalReqs := *requests
	latencies := make([]int64, totalReqs)

	start := time.Now()
	chunk := totalReqs / *concurrency

	for i := 0; i < *concurrency; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			offset := idx * chunk
			for j := 0; j < chunk; j++ {
				key := fmt.Sprintf("bench-%d", (offset+j)%*keys)
				reqStart := time.Now()
				hit, err := fn(ctx, key)
				if err != nil {
					continue
				}
				atomic.AddInt64(&ops, 1)
				if hit {
					atomic.AddInt64(&hits, 1)
				}
				latencies[offset+j] = time.Since(reqStart).Nanoseconds()
			}
		}(i)
	}

	wg.Wait()
	elapsed := time.Since(start)

	if ops == 0 {
		fmt.Printf("| %-10s | %-10s | %-12s | %-12s | %-8s |\n", name, "ERROR", "-", "-", "-")
		return
	}

	throughput := float64(ops) / elapsed.Seconds()
	avgLat := float64(elapsed.Nanoseconds()) / float64(ops)
	hitRate := float64(hits) / float64(ops) * 100

	p99 := "-"
	validLats := make([]int64, 0, ops)
	for _, l := range latencies {
		if l > 0 {
			validLats = append(validLats, l)
		}
	}
	if len(validLats) > 0 {
		sort.Slice(validLats, func(i, j int) bool { return validLats[i] < validLats[j] })
		p99Idx := int(float64(len(validLats)) * 0.99)
		if p99Idx >= len(validLats) {
			p99Idx = len(validLats) - 1
		}
		p99 = fmt.Sprintf("%d", validLats[p99Idx])
	}

	fmt.Printf("| %-10s | %-10.0f | %-12.0f | %-12s | %-8.1f |\n", name, throughput, avgLat, p99, hitRate)
}
