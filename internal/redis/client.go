package redisclient

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/hackgods/token-queue-scheduling/internal/config"
)

// NewRedisClient connects to the lock Redis named by cfg and pings it.
// Read and write timeouts are capped at half of LockTTL.
func NewRedisClient(ctx context.Context, cfg config.Config) (*redis.Client, error) {
	timeout := 2 * time.Second
	if cfg.LockTTL > 0 && cfg.LockTTL/2 < timeout {
		timeout = cfg.LockTTL / 2
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:         cfg.RedisAddr,
		Username:     cfg.RedisUsername,
		Password:     cfg.RedisPassword,
		DB:           0,
		ReadTimeout:  timeout,
		WriteTimeout: timeout,
		PoolSize:     10,
		MinIdleConns: 1,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("ping redis %s: %w", cfg.RedisAddr, err)
	}

	return rdb, nil
}
