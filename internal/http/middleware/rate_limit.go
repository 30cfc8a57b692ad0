package middleware

import (
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RateLimitConfig bounds how many batches one IP may submit per window.
type RateLimitConfig struct {
	MaxRequests int
	Window      time.Duration
	KeyPrefix   string
}

// RateLimit is a fixed-window per-IP limiter over Redis. It fails open:
// if Redis is down the queue behind the endpoint is degraded anyway,
// and refusing batches on top of that would only lose more events.
func RateLimit(client *redis.Client, cfg RateLimitConfig, logger *zap.Logger) fiber.Handler {
	if cfg.MaxRequests <= 0 {
		cfg.MaxRequests = 100
	}
	if cfg.Window <= 0 {
		cfg.Window = time.Minute
	}
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = "ratelimit"
	}

	return func(c *fiber.Ctx) error {
		key := cfg.KeyPrefix + ":" + c.IP()
		ctx := c.Context()

		var count *redis.IntCmd
		_, err := client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			count = pipe.Incr(ctx, key)
			pipe.ExpireNX(ctx, key, cfg.Window)
			return nil
		})
		if err != nil {
			logger.Warn("rate limiter unavailable, allowing request", zap.Error(err))
			return c.Next()
		}

		used := count.Val()
		c.Set("X-RateLimit-Limit", strconv.Itoa(cfg.MaxRequests))
		c.Set("X-RateLimit-Remaining", strconv.FormatInt(max(0, int64(cfg.MaxRequests)-used), 10))
		c.Set("X-RateLimit-Reset", strconv.FormatInt(time.Now().Add(cfg.Window).Unix(), 10))

		if used > int64(cfg.MaxRequests) {
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error": "rate limit exceeded",
			})
		}
		return c.Next()
	}
}
