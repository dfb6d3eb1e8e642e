package controllers

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/fieldfox/FieldFox/internal/pkg/webhook"
)

// ServiceM8SignatureHeader carries the hex HMAC-SHA256 of the raw body.
const ServiceM8SignatureHeader = "X-ServiceM8-Signature"

// HandleServiceM8Webhook receives push notifications from ServiceM8.
// Duplicate deliveries and replays are acknowledged with 200 without
// re-running side effects; handler failures are also acknowledged with 200
// because the retry queue owns re-execution and ServiceM8 retries on non-2xx
// would only produce more duplicates.
func HandleServiceM8Webhook(c *fiber.Ctx) error {
	rawBody := append([]byte(nil), c.BodyRaw()...)
	signature := strings.TrimSpace(c.Get(ServiceM8SignatureHeader))

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	outcome, err := newIngestor().Handle(ctx, rawBody, signature)
	if err != nil {
		var vErr *webhook.ValidationError
		if errors.As(err, &vErr) {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_payload", "message": vErr.Error()})
		}
		var sErr *webhook.SignatureError
		if errors.As(err, &sErr) {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "invalid_signature"})
		}
		log.Errorf("[Webhook] Delivery processing failed: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "webhook_failed"})
	}

	return c.Status(fiber.StatusOK).JSON(outcome)
}
