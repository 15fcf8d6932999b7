package providers

import (
	"context"
	"fmt"
	"time"

	"github.com/osvaldoandrade/flagq/pkg/config"

	"github.com/go-redis/redis/v8"
)

func NewRedisProvider(cfg *config.Config) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr(),
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
}

// Ping fails fast at startup when Redis is unreachable.
func Ping(ctx context.Context, rdb *redis.Client, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis %s: %w", rdb.Options().Addr, err)
	}
	return nil
}
