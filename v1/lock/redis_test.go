package lock

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
)

func newRedisLocker(t *testing.T) (*Redis, *redis.Client, *miniredis.Miniredis) {
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
	return NewRedis(client), client, mr
}

func TestRedisTryLockAcquireRelease(t *testing.T) {
	l, client, _ := newRedisLocker(t)
	ctx := context.Background()

	if err := l.Acquire(ctx, "k", time.Second); err != nil {
		t.Fatalf("acquire: %v", err)
	}
	other := NewRedis(client)
	if ok, err := other.TryLock(ctx, "k", time.Second); err != nil || ok {
		t.Fatalf("expected lock held by first locker, ok %v err %v", ok, err)
	}
	if err := other.Release(ctx, "k"); err != nil {
		t.Fatalf("release by non-owner: %v", err)
	}
	if ok, _ := other.TryLock(ctx, "k", time.Second); ok {
		t.Fatal("non-owner release must not free the lock")
	}
	if err := l.Release(ctx, "k"); err != nil {
		t.Fatalf("release: %v", err)
	}
	if ok, err := other.TryLock(ctx, "k", time.Second); err != nil || !ok {
		t.Fatalf("expected lock free after release, ok %v err %v", ok, err)
	}
	l.mu.Lock()
	if _, ok := l.tokens["k"]; ok {
		l.mu.Unlock()
		t.Fatal("expected token removed after release")
	}
	l.mu.Unlock()
}

func TestRedisReleaseAfterTakeover(t *testing.T) {
	l, client, mr := newRedisLocker(t)
	ctx := context.Background()

	if ok, err := l.TryLock(ctx, "k", time.Second); err != nil || !ok {
		t.Fatalf("trylock: %v ok %v", err, ok)
	}
	mr.FastForward(2 * time.Second)
	other := NewRedis(client)
	if ok, err := other.TryLock(ctx, "k", time.Second); err != nil || !ok {
		t.Fatalf("expected takeover after ttl, ok %v err %v", ok, err)
	}
	if err := l.Release(ctx, "k"); err != nil {
		t.Fatalf("release: %v", err)
	}
	if !mr.Exists("k") {
		t.Fatal("stale owner must not delete the new holder's lock")
	}
}

func TestRedisAcquireContextCancel(t *testing.T) {
	l, client, _ := newRedisLocker(t)
	ctx := context.Background()
	holder := NewRedis(client)
	if ok, _ := holder.TryLock(ctx, "k", time.Minute); !ok {
		t.Fatal("expected holder to take the lock")
	}
	cctx, cancel := context.WithTimeout(ctx, 30*time.Millisecond)
	defer cancel()
	if err := l.Acquire(cctx, "k", time.Second); err == nil {
		t.Fatal("expected acquire to fail on context deadline")
	}
}
