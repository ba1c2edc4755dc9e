package storage

import (
	"context"
	"fmt"
	"time"

	redis "github.com/redis/go-redis/v9"

	"github.com/mirkobrombin/go-shelf/v1/cache"
	shelferrors "github.com/mirkobrombin/go-shelf/v1/errors"
)

const (
	defaultRedisOpTimeout = 5 * time.Second
	defaultRedisPrefix    = "shelf:"
)

// RedisStorage implements Storage on Redis so several proxy instances can
// share one set of partitions.
//
// Each partition is a hash keyed by request key; a sorted set scored by
// creation time registers the partitions and fixes their match order.
type RedisStorage struct {
	client  redis.UniversalClient
	codec   cache.Codec
	prefix  string
	timeout time.Duration
}

// RedisOption configures a RedisStorage.
type RedisOption func(*RedisStorage)

// WithTimeout sets the operation timeout for Redis calls.
func WithTimeout(d time.Duration) RedisOption {
	return func(s *RedisStorage) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// WithPrefix namespaces every Redis key used by the storage.
func WithPrefix(prefix string) RedisOption {
	return func(s *RedisStorage) {
		s.prefix = prefix
	}
}

// WithCodec sets the record codec. Records are gob encoded by default.
func WithCodec(codec cache.Codec) RedisOption {
	return func(s *RedisStorage) {
		if codec != nil {
			s.codec = codec
		}
	}
}

// NewRedis returns a RedisStorage using the provided client.
func NewRedis(client redis.UniversalClient, opts ...RedisOption) *RedisStorage {
	s := &RedisStorage{
		client:  client,
		codec:   cache.GobCodec{},
		prefix:  defaultRedisPrefix,
		timeout: defaultRedisOpTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *RedisStorage) registryKey() string { return s.prefix + "partitions" }

func (s *RedisStorage) partitionKey(name string) string { return s.prefix + "partition:" + name }

// Open implements Storage.Open.
func (s *RedisStorage) Open(ctx context.Context, name string) (Partition, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	member := redis.Z{Score: float64(time.Now().UnixMicro()), Member: name}
	if err := s.client.ZAddNX(ctx, s.registryKey(), member).Err(); err != nil {
		return nil, fmt.Errorf("open partition %s: %w", name, shelferrors.FromRedis(err))
	}
	return &redisPartition{s: s, name: name, key: s.partitionKey(name)}, nil
}

// Has implements Storage.Has.
func (s *RedisStorage) Has(ctx context.Context, name string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	err := s.client.ZScore(ctx, s.registryKey(), name).Err()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, shelferrors.FromRedis(err)
	}
	return true, nil
}

// Names implements Storage.Names.
func (s *RedisStorage) Names(ctx context.Context) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	names, err := s.client.ZRange(ctx, s.registryKey(), 0, -1).Result()
	if err != nil {
		return nil, shelferrors.FromRedis(err)
	}
	return names, nil
}

// Delete implements Storage.Delete.
func (s *RedisStorage) Delete(ctx context.Context, name string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	var removed *redis.IntCmd
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, s.partitionKey(name))
		removed = pipe.ZRem(ctx, s.registryKey(), name)
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("delete partition %s: %w", name, shelferrors.FromRedis(err))
	}
	return removed.Val() > 0, nil
}

// Match implements Storage.Match.
func (s *RedisStorage) Match(ctx context.Context, key string) (*Record, bool, error) {
	names, err := s.Names(ctx)
	if err != nil || len(names) == 0 {
		return nil, false, err
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	cmds := make([]*redis.StringCmd, len(names))
	_, err = s.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, name := range names {
			cmds[i] = pipe.HGet(ctx, s.partitionKey(name), key)
		}
		return nil
	})
	if err != nil && err != redis.Nil {
		return nil, false, shelferrors.FromRedis(err)
	}
	for _, cmd := range cmds {
		data, err := cmd.Bytes()
		if err == redis.Nil {
			continue
		}
		if err != nil {
			return nil, false, shelferrors.FromRedis(err)
		}
		return s.decode(data)
	}
	return nil, false, nil
}

func (s *RedisStorage) decode(data []byte) (*Record, bool, error) {
	rec := new(Record)
	if err := s.codec.Unmarshal(data, rec); err != nil {
		return nil, false, fmt.Errorf("decode record: %w", err)
	}
	return rec, true, nil
}

type redisPartition struct {
	s    *RedisStorage
	name string
	key  string
}

func (p *redisPartition) Name() string { return p.name }

func (p *redisPartition) Match(ctx context.Context, key string) (*Record, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, p.s.timeout)
	defer cancel()
	data, err := p.s.client.HGet(ctx, p.key, key).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, shelferrors.FromRedis(err)
	}
	return p.s.decode(data)
}

func (p *redisPartition) Put(ctx context.Context, key string, rec *Record) error {
	data, err := p.s.codec.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode record: %w", err)
	}
	ctx, cancel := context.WithTimeout(ctx, p.s.timeout)
	defer cancel()
	return shelferrors.FromRedis(p.s.client.HSet(ctx, p.key, key, data).Err())
}

// PutAll writes every record in one MULTI/EXEC transaction.
func (p *redisPartition) PutAll(ctx context.Context, recs map[string]*Record) error {
	if len(recs) == 0 {
		return nil
	}
	fields := make(map[string]any, len(recs))
	for k, rec := range recs {
		data, err := p.s.codec.Marshal(rec)
		if err != nil {
			return fmt.Errorf("encode record %s: %w", k, err)
		}
		fields[k] = data
	}
	ctx, cancel := context.WithTimeout(ctx, p.s.timeout)
	defer cancel()
	_, err := p.s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, p.key, fields)
		return nil
	})
	return shelferrors.FromRedis(err)
}

func (p *redisPartition) Delete(ctx context.Context, key string) error {
	ctx, cancel := context.WithTimeout(ctx, p.s.timeout)
	defer cancel()
	return shelferrors.FromRedis(p.s.client.HDel(ctx, p.key, key).Err())
}

func (p *redisPartition) Keys(ctx context.Context) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, p.s.timeout)
	defer cancel()
	keys, err := p.s.client.HKeys(ctx, p.key).Result()
	if err != nil {
		return nil, shelferrors.FromRedis(err)
	}
	return keys, nil
}
