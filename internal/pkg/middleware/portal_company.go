package middleware

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

// CompanyContextKey is the locals key carrying the resolved company UUID.
const CompanyContextKey = "PORTAL_COMPANY_UUID"

// PortalCompanyMiddleware resolves the company a portal request acts for.
// The upstream portal gateway authenticates the customer and forwards the
// company UUID in the X-Portal-Company header; this middleware only checks
// shape and makes it available to handlers.
func PortalCompanyMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		companyUUID := strings.TrimSpace(c.Get("X-Portal-Company"))
		if companyUUID == "" {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": "Missing X-Portal-Company header"})
		}
		if _, err := uuid.Parse(companyUUID); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": "Invalid company identifier"})
		}

		c.Locals(CompanyContextKey, companyUUID)
		return c.Next()
	}
}

// CompanyFromContext returns the company UUID stored by PortalCompanyMiddleware.
func CompanyFromContext(c *fiber.Ctx) string {
	if v, ok := c.Locals(CompanyContextKey).(string); ok {
		return v
	}
	return ""
}
