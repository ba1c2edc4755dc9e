// Package memo memoizes expensive lookups in a bounded TTL cache.
//
// Keys carry a prefix naming the kind of lookup so one cache can serve every
// kind: "query_" for selector queries, "style_" for computed styles and
// "fetch_" for JSON documents.
package memo

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/mirkobrombin/go-shelf/v1/cache"
)

// Default lifetimes per lookup kind.
const (
	QueryTTL = 60 * time.Second
	StyleTTL = 30 * time.Second
	FetchTTL = 5 * time.Minute
)

// Loader computes a value on a cache miss.
type Loader[T any] func(ctx context.Context) (T, error)

// Lookup returns the value cached under key, or runs load, caches its result
// for ttl and returns it. Errors from load are returned and not cached. Cache
// failures are logged and degrade to calling load.
func Lookup[T any](ctx context.Context, c cache.Cache[T], key string, ttl time.Duration, load Loader[T]) (T, error) {
	v, ok, err := c.Get(ctx, key)
	if err != nil {
		slog.Debug("Memo lookup failed, loading.", "key", key, "error", err)
	}
	if ok {
		return v, nil
	}
	v, err = load(ctx)
	if err != nil {
		var zero T
		return zero, err
	}
	if err := c.Set(ctx, key, v, ttl); err != nil {
		slog.Debug("Memo store failed.", "key", key, "error", err)
	}
	return v, nil
}

// QueryKey is the cache key of a selector query.
func QueryKey(selector string) string { return "query_" + selector }

// Query memoizes the result of a selector query for QueryTTL.
func Query[T any](ctx context.Context, c cache.Cache[T], selector string, load Loader[T]) (T, error) {
	return Lookup(ctx, c, QueryKey(selector), QueryTTL, load)
}

// Element identifies the node a computed style belongs to.
type Element struct {
	Tag     string
	ID      string
	Classes []string
}

// Signature names e by its id, else its class list, else its tag.
func (e Element) Signature() string {
	if e.ID != "" {
		return e.ID
	}
	if len(e.Classes) > 0 {
		return strings.Join(e.Classes, " ")
	}
	return e.Tag
}

// StyleKey is the cache key of the computed style of e.
func StyleKey(e Element) string { return "style_" + e.Signature() }

// Style memoizes the computed style of e for StyleTTL. Elements sharing a
// signature share the cached style.
func Style[T any](ctx context.Context, c cache.Cache[T], e Element, load Loader[T]) (T, error) {
	return Lookup(ctx, c, StyleKey(e), StyleTTL, load)
}
