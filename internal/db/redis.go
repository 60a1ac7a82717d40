package db

import (
	"context"
	"time"

	"backend-zachatter/internal/config"

	"github.com/redis/go-redis/v9"
)

var pingRedisFn = func(ctx context.Context, rdb *redis.Client) error { return rdb.Ping(ctx).Err() }

// ConnectRedis returns a client for the post change channel, or nil when no
// address is configured or the server does not answer. Without redis, post
// changes only reach subscribers on this instance.
func ConnectRedis(cfg config.Config) *redis.Client {
	if cfg.RedisAddr == "" {
		return nil
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := pingRedisFn(ctx, rdb); err != nil {
		_ = rdb.Close()
		return nil
	}
	return rdb
}
