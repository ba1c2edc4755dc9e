package cache

import (
	"context"
	"time"

	redis "github.com/redis/go-redis/v9"

	shelferrors "github.com/mirkobrombin/go-shelf/v1/errors"
)

// RedisCache implements Cache using a Redis backend.
//
// Expiry is delegated to Redis key TTLs, so expired entries are never
// returned. Capacity is bounded by the Redis maxmemory policy, not by the cache.
type RedisCache[T any] struct {
	client     redis.UniversalClient
	codec      Codec
	prefix     string
	defaultTTL time.Duration
}

// RedisCacheOption configures a RedisCache.
type RedisCacheOption func(*redisCacheSettings)

type redisCacheSettings struct {
	codec      Codec
	prefix     string
	defaultTTL time.Duration
}

// WithCodec sets the value codec. JSONCodec is used by default.
func WithCodec(codec Codec) RedisCacheOption {
	return func(s *redisCacheSettings) {
		if codec != nil {
			s.codec = codec
		}
	}
}

// WithKeyPrefix namespaces every key written by the cache.
func WithKeyPrefix(prefix string) RedisCacheOption {
	return func(s *redisCacheSettings) {
		s.prefix = prefix
	}
}

// WithRedisDefaultTTL sets the TTL applied when Set receives a non-positive TTL.
func WithRedisDefaultTTL(d time.Duration) RedisCacheOption {
	return func(s *redisCacheSettings) {
		s.defaultTTL = d
	}
}

// NewRedis returns a new RedisCache using the provided Redis client.
func NewRedis[T any](client redis.UniversalClient, opts ...RedisCacheOption) *RedisCache[T] {
	s := redisCacheSettings{codec: JSONCodec{}}
	for _, opt := range opts {
		opt(&s)
	}
	return &RedisCache[T]{client: client, codec: s.codec, prefix: s.prefix, defaultTTL: s.defaultTTL}
}

// Get retrieves the value for the given key.
func (c *RedisCache[T]) Get(ctx context.Context, key string) (T, bool, error) {
	var zero T
	data, err := c.client.Get(ctx, c.prefix+key).Bytes()
	if err == redis.Nil {
		return zero, false, nil
	}
	if err != nil {
		return zero, false, shelferrors.FromRedis(err)
	}
	var v T
	if err := c.codec.Unmarshal(data, &v); err != nil {
		return zero, false, err
	}
	return v, true, nil
}

// Set stores the value for the given key for the specified TTL.
func (c *RedisCache[T]) Set(ctx context.Context, key string, value T, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = c.defaultTTL
	}
	data, err := c.codec.Marshal(value)
	if err != nil {
		return err
	}
	return shelferrors.FromRedis(c.client.Set(ctx, c.prefix+key, data, ttl).Err())
}

// Invalidate removes the key from Redis.
func (c *RedisCache[T]) Invalidate(ctx context.Context, key string) error {
	return shelferrors.FromRedis(c.client.Del(ctx, c.prefix+key).Err())
}
