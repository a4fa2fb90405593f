// Package backend constructs the configured store.Store.
package backend

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/ryhazerus/fastlimit/internal/config"
	"github.com/ryhazerus/fastlimit/store"
	"github.com/ryhazerus/fastlimit/store/redis"
)

// Open builds the store named by cfg.Backend. The caller owns the returned
// store and must Close it at shutdown.
func Open(ctx context.Context, cfg *config.Config, logger *zap.Logger) (store.Store, error) {
	opts := []store.Option{store.WithPrefix(cfg.KeyPrefix)}

	switch cfg.Backend {
	case config.BackendMemory:
		logger.Info("using in-memory store")
		return store.NewMemoryStore(opts...), nil

	case config.BackendSQLite:
		logger.Info("using sqlite store", zap.String("path", cfg.DBPath))
		return store.NewSQLiteStore(cfg.DBPath, opts...)

	case config.BackendTiered:
		logger.Info("using tiered store", zap.String("path", cfg.DBPath), zap.Duration("cache_ttl", cfg.CacheTTL))
		persistent, err := store.NewSQLiteStore(cfg.DBPath, opts...)
		if err != nil {
			return nil, err
		}
		return store.NewTieredStore(persistent, append(opts, store.WithCacheTTL(cfg.CacheTTL))...), nil

	case config.BackendRedis:
		s, err := redis.Open(cfg.RedisURL, opts...)
		if err != nil {
			return nil, err
		}
		// An unreachable server is not fatal: every check reports it as a
		// storage error and the failure policy decides the outcome.
		if err := ping(ctx, s, logger); err != nil {
			logger.Warn("redis not reachable", zap.Error(err))
		} else {
			logger.Info("using redis store")
		}
		return s, nil

	default:
		return nil, fmt.Errorf("backend: unsupported backend %q", cfg.Backend)
	}
}

// Startup ping retry policy for the redis backend.
const (
	pingInitialInterval = 100 * time.Millisecond
	pingMaxRetries      = 3
)

func ping(ctx context.Context, s *redis.RedisStore, logger *zap.Logger) error {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = pingInitialInterval
	b := backoff.WithContext(backoff.WithMaxRetries(eb, pingMaxRetries), ctx)

	return backoff.RetryNotify(func() error {
		return s.Ping(ctx)
	}, b, func(err error, next time.Duration) {
		logger.Debug("redis ping failed, retrying", zap.Error(err), zap.Duration("retry_in", next))
	})
}
