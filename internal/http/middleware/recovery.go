package middleware

import (
	"fmt"
	"runtime/debug"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

// Recovery turns a panicking handler into a 500 instead of tearing
// down the connection. A panic on the ingest path must never take the
// page server's analytics with it.
func Recovery(logger *zap.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		defer func() {
			r := recover()
			if r == nil {
				return
			}

			fields := []zap.Field{
				zap.Any("panic", r),
				zap.ByteString("stack", debug.Stack()),
				zap.String("method", c.Method()),
				zap.String("path", c.Path()),
			}
			if rid, ok := c.Locals(requestIDKey).(string); ok {
				fields = append(fields, zap.String("request_id", rid))
			}
			logger.Error(fmt.Sprintf("panic in %s %s", c.Method(), c.Path()), fields...)

			_ = c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error": "internal server error",
			})
		}()

		return c.Next()
	}
}
