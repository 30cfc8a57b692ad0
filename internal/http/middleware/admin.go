package middleware

import (
	"crypto/subtle"
	"strings"

	"github.com/gofiber/fiber/v2"
)

// AdminAuth guards operator-only routes with a static bearer token.
// An empty configured token disables the surface entirely rather than
// leaving it open.
func AdminAuth(token string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if token == "" {
			return unauthorized(c)
		}

		header := c.Get(fiber.HeaderAuthorization)
		provided, ok := strings.CutPrefix(header, "Bearer ")
		if !ok {
			return unauthorized(c)
		}

		if subtle.ConstantTimeCompare([]byte(provided), []byte(token)) != 1 {
			return unauthorized(c)
		}

		return c.Next()
	}
}

func unauthorized(c *fiber.Ctx) error {
	return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
		"error": "unauthorized",
	})
}
