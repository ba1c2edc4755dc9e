package cache

import (
	"context"
	"reflect"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
)

func newRedisTestCache[T any](t *testing.T, opts ...RedisCacheOption) (*RedisCache[T], *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis run: %v", err)
	}
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		_ = client.Close()
		mr.Close()
	})
	return NewRedis[T](client, opts...), mr
}

func TestRedisCacheComplexStruct(t *testing.T) {
	type complex struct {
		Name string
		Age  int
		Tags []string
	}

	c, _ := newRedisTestCache[complex](t)
	ctx := context.Background()

	expected := complex{Name: "Alice", Age: 30, Tags: []string{"go", "redis"}}
	if err := c.Set(ctx, "user:1", expected, time.Minute); err != nil {
		t.Fatalf("Set: %v", err)
	}

	got, ok, err := c.Get(ctx, "user:1")
	if err != nil || !ok {
		t.Fatalf("expected value, got miss (err %v)", err)
	}
	if !reflect.DeepEqual(got, expected) {
		t.Fatalf("expected %+v, got %+v", expected, got)
	}
}

func TestRedisCacheExpiryAndPrefix(t *testing.T) {
	c, mr := newRedisTestCache[string](t, WithKeyPrefix("memo:"), WithRedisDefaultTTL(time.Second), WithCodec(GobCodec{}))
	ctx := context.Background()

	if err := c.Set(ctx, "fetch_/products.json", "payload", 0); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if !mr.Exists("memo:fetch_/products.json") {
		t.Fatal("expected prefixed key in redis")
	}
	if ttl := mr.TTL("memo:fetch_/products.json"); ttl != time.Second {
		t.Fatalf("expected default ttl 1s, got %v", ttl)
	}
	mr.FastForward(2 * time.Second)
	if _, ok, err := c.Get(ctx, "fetch_/products.json"); ok || err != nil {
		t.Fatalf("expected miss after expiry, ok=%v err=%v", ok, err)
	}
}

func TestRedisCacheInvalidate(t *testing.T) {
	c, _ := newRedisTestCache[string](t)
	ctx := context.Background()
	_ = c.Set(ctx, "k", "v", time.Minute)
	if err := c.Invalidate(ctx, "k"); err != nil {
		t.Fatalf("Invalidate: %v", err)
	}
	if _, ok, _ := c.Get(ctx, "k"); ok {
		t.Fatal("expected miss after invalidate")
	}
}

func TestResilientCacheSuppressesBackendErrors(t *testing.T) {
	c, mr := newRedisTestCache[string](t)
	ctx := context.Background()
	mr.Close()

	if _, _, err := c.Get(ctx, "k"); err == nil {
		t.Fatal("expected raw redis cache to fail with server down")
	}
	r := NewResilient[string](c)
	if _, ok, err := r.Get(ctx, "k"); ok || err != nil {
		t.Fatalf("expected silent miss, ok=%v err=%v", ok, err)
	}
	if err := r.Set(ctx, "k", "v", time.Minute); err != nil {
		t.Fatalf("expected suppressed set error, got %v", err)
	}
	if err := r.Invalidate(ctx, "k"); err != nil {
		t.Fatalf("expected suppressed invalidate error, got %v", err)
	}
}
