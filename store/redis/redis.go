// Package redis provides a Redis-backed implementation of [store.Store].
package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/ryhazerus/fastlimit/store"
)

const backendRedis = "redis"

// Compile-time interface check.
var _ store.Store = (*RedisStore)(nil)

// RedisStore is a Store backed by Redis. Each rate limit key is stored as a
// plain integer counter at "<prefix>:<key>" and a sibling "<prefix>:<key>_ts"
// holding the last activity time as a float epoch in seconds.
//
// The client is shared across all keys and calls; Close closes it.
type RedisStore struct {
	client *redis.Client
	prefix string
	now    func() time.Time
}

// NewRedisStore creates a new Redis-backed store around an existing client.
func NewRedisStore(client *redis.Client, opts ...store.Option) *RedisStore {
	o := store.NewOptions(opts...)
	return &RedisStore{client: client, prefix: o.Prefix, now: o.Now}
}

// Open parses a redis:// connection string and creates a store with a new client.
// No connection is made until the first operation.
func Open(url string, opts ...store.Option) (*RedisStore, error) {
	redisOpts, err := redis.ParseURL(url)
	if err != nil {
		return nil, store.NewStorageError(backendRedis, store.OpOpen, fmt.Errorf("parse url: %w", err))
	}
	return NewRedisStore(redis.NewClient(redisOpts), opts...), nil
}

// Increment atomically adds by to the counter for key using INCRBY.
func (r *RedisStore) Increment(ctx context.Context, key string, by int64) (int64, error) {
	if by <= 0 {
		by = 1
	}
	count, err := r.client.IncrBy(ctx, r.countKey(key), by).Result()
	if err != nil {
		return 0, store.NewStorageError(backendRedis, store.OpIncrement, err)
	}
	return count, nil
}

// GetRemaining reads the counter and timestamp in one MGET round trip.
func (r *RedisStore) GetRemaining(ctx context.Context, key string, limit int64, interval time.Duration) (int64, error) {
	vals, err := r.client.MGet(ctx, r.countKey(key), r.tsKey(key)).Result()
	if err != nil {
		return 0, store.NewStorageError(backendRedis, store.OpGetRemaining, err)
	}

	if raw, ok := vals[1].(string); ok {
		ts, err := parseTimestamp(raw)
		if err != nil {
			return 0, store.NewStorageError(backendRedis, store.OpGetRemaining, err)
		}
		if store.Expired(ts, r.now(), interval) {
			return limit, nil
		}
	}

	raw, ok := vals[0].(string)
	if !ok {
		return limit, nil
	}
	count, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, store.NewStorageError(backendRedis, store.OpGetRemaining, fmt.Errorf("parse count: %w", err))
	}
	return store.Remaining(limit, count), nil
}

// Reset deletes both the counter and the timestamp for key.
func (r *RedisStore) Reset(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, r.countKey(key), r.tsKey(key)).Err(); err != nil {
		return store.NewStorageError(backendRedis, store.OpReset, err)
	}
	return nil
}

// GetTimestamp returns the last activity time recorded for key.
func (r *RedisStore) GetTimestamp(ctx context.Context, key string) (time.Time, bool, error) {
	raw, err := r.client.Get(ctx, r.tsKey(key)).Result()
	if errors.Is(err, redis.Nil) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, store.NewStorageError(backendRedis, store.OpGetTimestamp, err)
	}

	ts, err := parseTimestamp(raw)
	if err != nil {
		return time.Time{}, false, store.NewStorageError(backendRedis, store.OpGetTimestamp, err)
	}
	return ts, true, nil
}

// SetTimestamp stores the current time for key.
func (r *RedisStore) SetTimestamp(ctx context.Context, key string) error {
	val := strconv.FormatFloat(store.EpochSeconds(r.now()), 'f', -1, 64)
	if err := r.client.Set(ctx, r.tsKey(key), val, 0).Err(); err != nil {
		return store.NewStorageError(backendRedis, store.OpSetTimestamp, err)
	}
	return nil
}

// Ping checks that the server is reachable.
func (r *RedisStore) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Close closes the underlying Redis client.
func (r *RedisStore) Close() error {
	return r.client.Close()
}

func (r *RedisStore) countKey(key string) string {
	return r.prefix + ":" + key
}

func (r *RedisStore) tsKey(key string) string {
	return r.prefix + ":" + key + "_ts"
}

func parseTimestamp(raw string) (time.Time, error) {
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse timestamp: %w", err)
	}
	return store.FromEpochSeconds(f), nil
}
