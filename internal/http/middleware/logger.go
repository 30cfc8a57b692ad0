package middleware

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

// Logger logs every completed request. The ingest route is hit by
// every rendered page and would drown the log at info, so it is logged
// at debug; everything else (health, admin) is rare and logged at info.
func Logger(logger *zap.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()

		fields := []zap.Field{
			zap.String("method", c.Method()),
			zap.String("path", c.Path()),
			zap.Int("status", c.Response().StatusCode()),
			zap.Duration("latency", time.Since(start)),
			zap.String("ip", c.IP()),
		}
		if rid, ok := c.Locals(requestIDKey).(string); ok {
			fields = append(fields, zap.String("request_id", rid))
		}

		switch {
		case err != nil:
			logger.Error("request failed", append(fields, zap.Error(err))...)
		case c.Path() == "/analytics/batch":
			logger.Debug("request", fields...)
		default:
			logger.Info("request", fields...)
		}
		return err
	}
}
