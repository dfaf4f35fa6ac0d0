package billing

import (
	"context"
	"fmt"
	"time"

	"github.com/gomodule/redigo/redis"

	"github.com/fanlink/fanlink/libs/closers"
	"github.com/fanlink/fanlink/libs/logging"
)

// CacheInvalidator drops read-side caches for a user after a committed
// billing change. Invalidation is best-effort; a failure must never fail the
// request or be retried.
type CacheInvalidator interface {
	Invalidate(ctx context.Context, userID string)
}

type redisCache struct {
	pool *redis.Pool
}

// NewRedisCache creates a CacheInvalidator over the passed redis pool
func NewRedisCache(pool *redis.Pool) CacheInvalidator {
	return &redisCache{pool: pool}
}

// NewRedisPool creates a redis pool for the given url
func NewRedisPool(url string) *redis.Pool {
	return &redis.Pool{
		MaxIdle:     5,
		IdleTimeout: 4 * time.Minute,
		Dial: func() (redis.Conn, error) {
			return redis.DialURL(url)
		},
		TestOnBorrow: func(c redis.Conn, t time.Time) error {
			if time.Since(t) < time.Minute {
				return nil
			}
			_, err := c.Do("PING")
			return err
		},
	}
}

func (c *redisCache) Invalidate(ctx context.Context, userID string) {
	logger := logging.Logger(ctx, "billing.cache")

	conn := c.pool.Get()
	defer closers.Log(ctx, conn)

	if _, err := conn.Do("DEL", userBillingCacheKey(userID)); err != nil {
		logger.Warn().Err(err).Str("user_id", userID).Msg("failed to invalidate billing cache")
	}
}

func userBillingCacheKey(userID string) string {
	return fmt.Sprintf("user:billing:%s", userID)
}
