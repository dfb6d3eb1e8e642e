package middleware

import (
	"crypto/subtle"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/fieldfox/FieldFox/internal/pkg/env"
)

// InternalTokenMiddleware authenticates requests to operational endpoints
// (manual sync triggers, retry queue passes, audit views) against a shared
// token. When no token is configured the endpoints are closed entirely.
func InternalTokenMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		configured := env.GetEnv("INTERNAL_API_TOKEN", "")
		if configured == "" {
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "forbidden", "message": "Internal API disabled"})
		}

		token := extractTokenFromHeader(c)
		if token == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized", "message": "Missing internal token"})
		}

		if subtle.ConstantTimeCompare([]byte(token), []byte(configured)) != 1 {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized", "message": "Invalid internal token"})
		}

		return c.Next()
	}
}

func extractTokenFromHeader(c *fiber.Ctx) string {
	token := strings.TrimSpace(c.Get("X-Internal-Token"))
	if token != "" {
		return token
	}
	auth := strings.TrimSpace(c.Get("Authorization"))
	if strings.HasPrefix(strings.ToLower(auth), "bearer ") {
		return strings.TrimSpace(auth[7:])
	}
	return ""
}
