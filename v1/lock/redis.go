package lock

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"

	shelferrors "github.com/mirkobrombin/go-shelf/v1/errors"
)

var delScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
    return redis.call("DEL", KEYS[1])
else
    return 0
end
`)

// Redis implements Locker using a Redis backend. Ownership is tracked with a
// random token so a locker never releases a lock taken over by another
// instance after its own TTL lapsed.
type Redis struct {
	client redis.UniversalClient

	mu     sync.Mutex
	tokens map[string]string
}

// NewRedis returns a new Redis locker using the provided client.
func NewRedis(client redis.UniversalClient) *Redis {
	return &Redis{client: client, tokens: make(map[string]string)}
}

// TryLock implements Locker.TryLock.
func (r *Redis) TryLock(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	token := uuid.NewString()
	ok, err := r.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return false, shelferrors.FromRedis(err)
	}
	if ok {
		r.mu.Lock()
		r.tokens[key] = token
		r.mu.Unlock()
	}
	return ok, nil
}

// Acquire implements Locker.Acquire.
func (r *Redis) Acquire(ctx context.Context, key string, ttl time.Duration) error {
	return acquire(ctx, func() (bool, error) { return r.TryLock(ctx, key, ttl) })
}

// Release implements Locker.Release.
func (r *Redis) Release(ctx context.Context, key string) error {
	r.mu.Lock()
	token, ok := r.tokens[key]
	r.mu.Unlock()
	if !ok {
		return nil
	}
	_, err := delScript.Run(ctx, r.client, []string{key}, token).Result()
	if err == redis.Nil {
		err = nil
	}
	if err != nil {
		return shelferrors.FromRedis(err)
	}
	r.mu.Lock()
	delete(r.tokens, key)
	r.mu.Unlock()
	return nil
}
