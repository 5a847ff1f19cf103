package db

import (
	"strings"
	"time"

	"backend-travellog/internal/config"

	"github.com/redis/go-redis/v9"
)

// ConnectRedis returns nil when no address is configured. The post cache,
// idempotency keys and the cross-instance post stream are then disabled.
// REDIS_ADDR may be host:port or a redis:// URL.
func ConnectRedis(cfg config.Config) *redis.Client {
	if cfg.RedisAddr == "" {
		return nil
	}

	opts := &redis.Options{Addr: cfg.RedisAddr}
	if strings.HasPrefix(cfg.RedisAddr, "redis://") || strings.HasPrefix(cfg.RedisAddr, "rediss://") {
		if parsed, err := redis.ParseURL(cfg.RedisAddr); err == nil {
			opts = parsed
		}
	}
	if cfg.RedisPassword != "" {
		opts.Password = cfg.RedisPassword
	}
	opts.DialTimeout = 2 * time.Second
	opts.ReadTimeout = time.Second
	opts.WriteTimeout = time.Second
	return redis.NewClient(opts)
}
