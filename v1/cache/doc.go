// Package cache provides the bounded TTL caches used by go-shelf to memoize
// lookups and fetched payloads.
//
// InMemoryCache holds at most a configured number of entries, evicting the
// oldest insertion (or, on request, the least recently used entry) before it
// grows past the bound. Every entry carries its own TTL and is dropped lazily
// when read after expiry; a background goroutine sweeps what is never read.
// RistrettoCache and RedisCache implement the same Cache interface for
// callers that want an admission-controlled or shared backend instead.
package cache
