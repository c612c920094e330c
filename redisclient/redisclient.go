// Package redisclient constructs the shared redis connection pool used by
// the stream queue and the state store. One client per process; the worker
// and the front door each build their own in main.
package redisclient

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/sploot/media-clustering/config"
	"github.com/sploot/media-clustering/errors"
)

// New builds a redis client from the configured URL and pool options.
func New(cfg config.RedisConfig) (*redis.Client, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid redis url %q", cfg.URL)
	}

	if cfg.Username != "" {
		opts.Username = cfg.Username
	}
	if cfg.Password != "" {
		opts.Password = cfg.Password
	}
	if cfg.PoolMaxConnections > 0 {
		opts.PoolSize = cfg.PoolMaxConnections
	}
	if cfg.DialTimeoutSeconds > 0 {
		opts.DialTimeout = time.Duration(cfg.DialTimeoutSeconds) * time.Second
	}

	return redis.NewClient(opts), nil
}

// Ping verifies the connection is alive.
func Ping(ctx context.Context, rdb *redis.Client) error {
	if err := rdb.Ping(ctx).Err(); err != nil {
		return errors.Wrap(errors.ErrServiceUnavailable, err.Error())
	}
	return nil
}
