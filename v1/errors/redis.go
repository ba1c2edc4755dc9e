package errors

import (
	"context"
	"errors"

	redis "github.com/redis/go-redis/v9"
)

// FromRedis maps client errors to the package sentinels. redis.Nil is left
// untouched so callers can keep treating it as "not found".
func FromRedis(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, context.DeadlineExceeded):
		return ErrTimeout
	case errors.Is(err, redis.ErrClosed):
		return ErrConnectionClosed
	default:
		return err
	}
}
