package errors

import (
	"context"
	"errors"
	"fmt"
	"testing"

	redis "github.com/redis/go-redis/v9"
)

func TestFromRedis(t *testing.T) {
	if err := FromRedis(nil); err != nil {
		t.Fatalf("expected nil, got %v", err)
	}
	if err := FromRedis(fmt.Errorf("hget: %w", context.DeadlineExceeded)); !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
	if err := FromRedis(redis.ErrClosed); !errors.Is(err, ErrConnectionClosed) {
		t.Fatalf("expected ErrConnectionClosed, got %v", err)
	}
	if err := FromRedis(redis.Nil); err != redis.Nil {
		t.Fatalf("expected redis.Nil passthrough, got %v", err)
	}
	other := errors.New("boom")
	if err := FromRedis(other); err != other {
		t.Fatalf("expected passthrough, got %v", err)
	}
}
