package storage

import (
	"context"
	"net/http"
	"reflect"
	"sort"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
)

type storageFactory func(t *testing.T) Storage

func newRedisStorage(t *testing.T, opts ...RedisOption) (*RedisStorage, *miniredis.Miniredis) {
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
	return NewRedis(client, opts...), mr
}

func backends() map[string]storageFactory {
	return map[string]storageFactory{
		"memory": func(t *testing.T) Storage { return NewInMemory() },
		"redis": func(t *testing.T) Storage {
			s, _ := newRedisStorage(t)
			return s
		},
	}
}

func record(url, body string) *Record {
	return &Record{
		URL:      url,
		Status:   http.StatusOK,
		Header:   http.Header{"Content-Type": {"text/plain"}},
		Body:     []byte(body),
		StoredAt: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func TestStoragePartitionRoundTrip(t *testing.T) {
	for name, factory := range backends() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := factory(t)
			p, err := s.Open(ctx, "static-v1")
			if err != nil {
				t.Fatalf("open: %v", err)
			}
			if p.Name() != "static-v1" {
				t.Fatalf("unexpected name %q", p.Name())
			}
			want := record("https://shop.test/assets/base.css", "body{}")
			if err := p.Put(ctx, "/assets/base.css", want); err != nil {
				t.Fatalf("put: %v", err)
			}
			got, ok, err := p.Match(ctx, "/assets/base.css")
			if err != nil || !ok {
				t.Fatalf("match: ok=%v err=%v", ok, err)
			}
			if got.URL != want.URL || got.Status != want.Status || string(got.Body) != string(want.Body) {
				t.Fatalf("expected %+v, got %+v", want, got)
			}
			if !reflect.DeepEqual(got.Header, want.Header) || !got.StoredAt.Equal(want.StoredAt) {
				t.Fatalf("expected header %v at %v, got %v at %v", want.Header, want.StoredAt, got.Header, got.StoredAt)
			}
			if _, ok, _ := p.Match(ctx, "/missing"); ok {
				t.Fatal("expected miss")
			}
			if err := p.Delete(ctx, "/assets/base.css"); err != nil {
				t.Fatalf("delete: %v", err)
			}
			if _, ok, _ := p.Match(ctx, "/assets/base.css"); ok {
				t.Fatal("expected miss after delete")
			}
		})
	}
}

func TestStoragePutAllAndKeys(t *testing.T) {
	for name, factory := range backends() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := factory(t)
			p, _ := s.Open(ctx, "static-v1")
			recs := map[string]*Record{
				"/":                 record("https://shop.test/", "<html>"),
				"/assets/global.js": record("https://shop.test/assets/global.js", "init()"),
			}
			if err := p.PutAll(ctx, recs); err != nil {
				t.Fatalf("put all: %v", err)
			}
			keys, err := p.Keys(ctx)
			if err != nil {
				t.Fatalf("keys: %v", err)
			}
			sort.Strings(keys)
			if !reflect.DeepEqual(keys, []string{"/", "/assets/global.js"}) {
				t.Fatalf("unexpected keys %v", keys)
			}
		})
	}
}

func TestStorageNamesDeleteAndMatchOrder(t *testing.T) {
	for name, factory := range backends() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := factory(t)
			static, _ := s.Open(ctx, "static-v1")
			time.Sleep(time.Millisecond)
			dynamic, _ := s.Open(ctx, "dynamic-v1")

			_ = dynamic.Put(ctx, "/", record("https://shop.test/", "dynamic"))
			_ = static.Put(ctx, "/", record("https://shop.test/", "static"))
			_ = dynamic.Put(ctx, "/products/a", record("https://shop.test/products/a", "a"))

			names, err := s.Names(ctx)
			if err != nil {
				t.Fatalf("names: %v", err)
			}
			if !reflect.DeepEqual(names, []string{"static-v1", "dynamic-v1"}) {
				t.Fatalf("unexpected names %v", names)
			}

			rec, ok, err := s.Match(ctx, "/")
			if err != nil || !ok || string(rec.Body) != "static" {
				t.Fatalf("expected static partition to win, got %+v ok=%v err=%v", rec, ok, err)
			}
			if rec, ok, _ := s.Match(ctx, "/products/a"); !ok || string(rec.Body) != "a" {
				t.Fatal("expected match from dynamic partition")
			}

			deleted, err := s.Delete(ctx, "static-v1")
			if err != nil || !deleted {
				t.Fatalf("delete: deleted=%v err=%v", deleted, err)
			}
			if deleted, _ := s.Delete(ctx, "static-v1"); deleted {
				t.Fatal("second delete must report false")
			}
			if has, _ := s.Has(ctx, "static-v1"); has {
				t.Fatal("expected partition gone")
			}
			if has, _ := s.Has(ctx, "dynamic-v1"); !has {
				t.Fatal("expected dynamic partition to remain")
			}
			if rec, ok, _ := s.Match(ctx, "/"); !ok || string(rec.Body) != "dynamic" {
				t.Fatal("expected dynamic record after static partition deletion")
			}
		})
	}
}

func TestStorageOpenIsIdempotent(t *testing.T) {
	for name, factory := range backends() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := factory(t)
			p1, _ := s.Open(ctx, "dynamic-v1")
			_ = p1.Put(ctx, "/a", record("https://shop.test/a", "a"))
			p2, _ := s.Open(ctx, "dynamic-v1")
			if _, ok, _ := p2.Match(ctx, "/a"); !ok {
				t.Fatal("reopened partition must see existing records")
			}
			names, _ := s.Names(ctx)
			if len(names) != 1 {
				t.Fatalf("expected one partition, got %v", names)
			}
		})
	}
}

func TestRedisStorageLayout(t *testing.T) {
	ctx := context.Background()
	s, mr := newRedisStorage(t, WithPrefix("sw:"))
	p, _ := s.Open(ctx, "static-v2")
	_ = p.Put(ctx, "/", record("https://shop.test/", "<html>"))

	if !mr.Exists("sw:partitions") {
		t.Fatal("expected registry sorted set")
	}
	if !mr.Exists("sw:partition:static-v2") {
		t.Fatal("expected partition hash")
	}
	if _, err := s.Delete(ctx, "static-v2"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if mr.Exists("sw:partition:static-v2") {
		t.Fatal("expected partition hash removed")
	}
}

func TestRedisStorageServerDown(t *testing.T) {
	ctx := context.Background()
	s, mr := newRedisStorage(t, WithTimeout(50*time.Millisecond))
	mr.Close()
	if _, err := s.Open(ctx, "static-v1"); err == nil {
		t.Fatal("expected error with server down")
	}
	if _, _, err := s.Match(ctx, "/"); err == nil {
		t.Fatal("expected error with server down")
	}
}
