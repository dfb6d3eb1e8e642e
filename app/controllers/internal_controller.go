package controllers

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/fieldfox/FieldFox/app/repository"
	"github.com/fieldfox/FieldFox/internal/pkg/retryqueue"
	"github.com/fieldfox/FieldFox/internal/pkg/syncer"
)

// HandleInternalSync triggers a full sync for one company. Used by operators
// and by scheduled reconciliation; regular updates arrive via webhooks.
func HandleInternalSync(c *fiber.Ctx) error {
	companyUUID := strings.TrimSpace(c.Params("uuid"))
	if companyUUID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": "Missing company UUID"})
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	result, err := newSyncEngine().SyncCustomerData(ctx, companyUUID)
	if err != nil {
		if errors.Is(err, syncer.ErrSyncInProgress) {
			return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "sync_in_progress"})
		}
		if errors.Is(err, syncer.ErrUnknownCompany) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "unknown_company"})
		}
		log.Errorf("[Internal] Sync for %s failed: %v", companyUUID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "sync_failed"})
	}

	return c.JSON(fiber.Map{"status": result.Status(), "result": result})
}

// HandleInternalRetryPass runs one retry queue pass immediately instead of
// waiting for the next ticker interval.
func HandleInternalRetryPass(c *fiber.Ctx) error {
	manager := retryqueue.GetManager()
	if manager == nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "retry_queue_unavailable"})
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	summary, err := manager.GetProcessor().ProcessQueue(ctx)
	if err != nil {
		log.Errorf("[Internal] Manual retry pass failed: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "retry_pass_failed"})
	}

	return c.JSON(summary)
}

// HandleInternalSyncRuns lists recent sync runs for auditing.
func HandleInternalSyncRuns(c *fiber.Ctx) error {
	limit := c.QueryInt("limit", 50)
	if limit < 1 || limit > 500 {
		limit = 50
	}

	runs, err := repository.GetGlobalRepositories().Sync.ListRecentRuns(limit)
	if err != nil {
		log.Errorf("[Internal] Sync run listing failed: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "sync_runs_failed"})
	}

	return c.JSON(fiber.Map{"runs": runs})
}

// HandleInternalDeadLetters lists retry entries that exhausted their
// attempts and need manual review.
func HandleInternalDeadLetters(c *fiber.Ctx) error {
	limit := c.QueryInt("limit", 100)
	if limit < 1 || limit > 500 {
		limit = 100
	}

	entries, err := repository.GetGlobalRepositories().RetryQueue.ListDeadLetters(limit)
	if err != nil {
		log.Errorf("[Internal] Dead letter listing failed: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "dead_letters_failed"})
	}

	return c.JSON(fiber.Map{"entries": entries})
}
