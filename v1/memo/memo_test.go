package memo

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mirkobrombin/go-shelf/v1/cache"
)

type manualClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newCache[T any](t *testing.T, clock cache.Clock) *cache.InMemoryCache[T] {
	t.Helper()
	c := cache.NewInMemory[T](
		cache.WithMaxEntries[T](100),
		cache.WithDefaultTTL[T](5*time.Minute),
		cache.WithSweepInterval[T](0),
		cache.WithClock[T](clock),
	)
	t.Cleanup(c.Close)
	return c
}

func TestQueryMemoizesForSixtySeconds(t *testing.T) {
	clock := &manualClock{now: time.Unix(0, 0)}
	c := newCache[[]string](t, clock)
	ctx := context.Background()

	calls := 0
	load := func(context.Context) ([]string, error) {
		calls++
		return []string{"img.lazy"}, nil
	}
	for i := 0; i < 3; i++ {
		v, err := Query(ctx, c, "img[data-src]", load)
		require.NoError(t, err)
		assert.Equal(t, []string{"img.lazy"}, v)
	}
	assert.Equal(t, 1, calls)

	_, ok, _ := c.Get(ctx, "query_img[data-src]")
	assert.True(t, ok)

	clock.Advance(61 * time.Second)
	_, err := Query(ctx, c, "img[data-src]", load)
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestLookupDoesNotCacheErrors(t *testing.T) {
	c := newCache[int](t, cache.ClockFunc(time.Now))
	ctx := context.Background()
	boom := errors.New("boom")

	_, err := Lookup(ctx, c, "k", time.Minute, func(context.Context) (int, error) { return 0, boom })
	require.ErrorIs(t, err, boom)

	v, err := Lookup(ctx, c, "k", time.Minute, func(context.Context) (int, error) { return 7, nil })
	require.NoError(t, err)
	assert.Equal(t, 7, v)
}

func TestElementSignature(t *testing.T) {
	assert.Equal(t, "hero", Element{Tag: "div", ID: "hero", Classes: []string{"banner"}}.Signature())
	assert.Equal(t, "banner wide", Element{Tag: "div", Classes: []string{"banner", "wide"}}.Signature())
	assert.Equal(t, "img", Element{Tag: "img"}.Signature())
	assert.Equal(t, "style_hero", StyleKey(Element{ID: "hero"}))
}

func TestStyleSharedBySignature(t *testing.T) {
	clock := &manualClock{now: time.Unix(0, 0)}
	c := newCache[map[string]string](t, clock)
	ctx := context.Background()

	calls := 0
	load := func(context.Context) (map[string]string, error) {
		calls++
		return map[string]string{"display": "block"}, nil
	}
	_, err := Style(ctx, c, Element{Tag: "div", Classes: []string{"card"}}, load)
	require.NoError(t, err)
	_, err = Style(ctx, c, Element{Tag: "section", Classes: []string{"card"}}, load)
	require.NoError(t, err)
	assert.Equal(t, 1, calls)

	clock.Advance(31 * time.Second)
	_, err = Style(ctx, c, Element{Tag: "div", Classes: []string{"card"}}, load)
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}

type product struct {
	Handle string `json:"handle"`
	Price  int    `json:"price"`
}

func TestFetcherMemoizesJSON(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		switch r.URL.Path {
		case "/products/shirt.js":
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"handle":"shirt","price":2500}`))
		case "/broken.js":
			_, _ = w.Write([]byte(`{"handle":`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	clock := &manualClock{now: time.Unix(0, 0)}
	c := newCache[json.RawMessage](t, clock)
	f := NewFetcher(srv.Client(), c)
	ctx := context.Background()

	p, err := FetchJSON[product](ctx, f, srv.URL+"/products/shirt.js")
	require.NoError(t, err)
	assert.Equal(t, product{Handle: "shirt", Price: 2500}, p)
	_, err = FetchJSON[product](ctx, f, srv.URL+"/products/shirt.js")
	require.NoError(t, err)
	assert.Equal(t, int32(1), hits.Load())

	clock.Advance(FetchTTL + time.Second)
	_, err = f.Fetch(ctx, srv.URL+"/products/shirt.js")
	require.NoError(t, err)
	assert.Equal(t, int32(2), hits.Load())

	_, err = f.Fetch(ctx, srv.URL+"/broken.js")
	require.ErrorIs(t, err, ErrInvalidJSON)
	_, err = f.Fetch(ctx, srv.URL+"/missing.js")
	require.Error(t, err)
	_, ok, _ := c.Get(ctx, FetchKey(srv.URL+"/missing.js"))
	assert.False(t, ok)
}

func TestFetcherSharesConcurrentMisses(t *testing.T) {
	var hits atomic.Int32
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		<-release
		_, _ = w.Write([]byte(`[1,2,3]`))
	}))
	defer srv.Close()

	f := NewFetcher(srv.Client(), newCache[json.RawMessage](t, cache.ClockFunc(time.Now)))
	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, err := f.Fetch(context.Background(), srv.URL+"/cart.js")
			assert.NoError(t, err)
			assert.JSONEq(t, `[1,2,3]`, string(v))
		}()
	}
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()
	assert.LessOrEqual(t, hits.Load(), int32(5))
	assert.GreaterOrEqual(t, hits.Load(), int32(1))
}
