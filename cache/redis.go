package cache

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/vmihailenco/msgpack/v5"
)

// DefaultQueryTimeout bounds each round trip to a networked backend
const DefaultQueryTimeout = 5 * time.Second

// RedisBackend stores envelopes in Redis under a key prefix.
// The caller owns the redis.Client lifecycle.
type RedisBackend struct {
	client  *redis.Client
	prefix  string
	timeout time.Duration
}

// NewRedisBackend returns a partition namespaced by prefix
func NewRedisBackend(client *redis.Client, prefix string) *RedisBackend {
	if prefix == "" {
		prefix = "httpcache"
	}
	return &RedisBackend{client: client, prefix: prefix, timeout: DefaultQueryTimeout}
}

func (r *RedisBackend) queryCtx(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, r.timeout)
}

func (r *RedisBackend) prefixKey(key string) string {
	return r.prefix + ":" + key
}

// Get implements Backend
func (r *RedisBackend) Get(ctx context.Context, key string) (*Envelope, error) {
	qctx, cancel := r.queryCtx(ctx)
	defer cancel()

	data, err := r.client.Get(qctx, r.prefixKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	var env Envelope
	if err := msgpack.Unmarshal(data, &env); err != nil {
		return nil, err
	}
	return &env, nil
}

// Put implements Backend. Envelopes never expire here; freshness belongs to the query layer.
func (r *RedisBackend) Put(ctx context.Context, key string, env *Envelope) error {
	data, err := msgpack.Marshal(env)
	if err != nil {
		return err
	}
	qctx, cancel := r.queryCtx(ctx)
	defer cancel()
	return r.client.Set(qctx, r.prefixKey(key), data, 0).Err()
}

// Clear implements Backend by deleting every key under the prefix
func (r *RedisBackend) Clear(ctx context.Context) error {
	qctx, cancel := r.queryCtx(ctx)
	defer cancel()

	iter := r.client.Scan(qctx, 0, r.prefix+":*", 100).Iterator()
	var keys []string
	for iter.Next(qctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return err
	}
	if len(keys) == 0 {
		return nil
	}
	return r.client.Del(qctx, keys...).Err()
}

var _ Backend = (*RedisBackend)(nil)
