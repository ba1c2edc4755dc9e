package memo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/mirkobrombin/go-shelf/v1/cache"
)

// ErrInvalidJSON is returned when a fetched document is not valid JSON.
var ErrInvalidJSON = errors.New("memo: invalid JSON document")

// FetchKey is the cache key of the JSON document at url.
func FetchKey(url string) string { return "fetch_" + url }

// Fetcher memoizes JSON documents fetched over HTTP. Concurrent misses for
// the same URL share one request.
type Fetcher struct {
	client *http.Client
	cache  cache.Cache[json.RawMessage]
	ttl    time.Duration
	group  singleflight.Group
}

// FetcherOption configures a Fetcher.
type FetcherOption func(*Fetcher)

// WithFetchTTL overrides FetchTTL.
func WithFetchTTL(d time.Duration) FetcherOption {
	return func(f *Fetcher) {
		if d > 0 {
			f.ttl = d
		}
	}
}

// NewFetcher returns a Fetcher using client for misses. A nil client means
// http.DefaultClient.
func NewFetcher(client *http.Client, c cache.Cache[json.RawMessage], opts ...FetcherOption) *Fetcher {
	if client == nil {
		client = http.DefaultClient
	}
	f := &Fetcher{client: client, cache: c, ttl: FetchTTL}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Fetch returns the JSON document at url, from the cache when present.
// Non-2xx responses and invalid documents are errors and are not cached.
func (f *Fetcher) Fetch(ctx context.Context, url string) (json.RawMessage, error) {
	return Lookup(ctx, f.cache, FetchKey(url), f.ttl, func(ctx context.Context) (json.RawMessage, error) {
		v, err, _ := f.group.Do(url, func() (any, error) {
			return f.get(ctx, url)
		})
		if err != nil {
			return nil, err
		}
		return v.(json.RawMessage), nil
	})
}

func (f *Fetcher) get(ctx context.Context, url string) (json.RawMessage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("fetch %s: unexpected status %d", url, resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if !json.Valid(body) {
		return nil, fmt.Errorf("%w: %s", ErrInvalidJSON, url)
	}
	return json.RawMessage(body), nil
}

// FetchJSON fetches url through f and decodes the document into a T.
func FetchJSON[T any](ctx context.Context, f *Fetcher, url string) (T, error) {
	var out T
	raw, err := f.Fetch(ctx, url)
	if err != nil {
		return out, err
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, fmt.Errorf("decode %s: %w", url, err)
	}
	return out, nil
}
