package router

import (
	"net"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	redisstorage "github.com/gofiber/storage/redis"

	"github.com/fieldfox/FieldFox/app/controllers"
	"github.com/fieldfox/FieldFox/internal/pkg/cache"
	"github.com/fieldfox/FieldFox/internal/pkg/env"
	"github.com/fieldfox/FieldFox/internal/pkg/middleware"
)

type ApiRouter struct {
}

func (h ApiRouter) InstallRouter(app *fiber.App) {
	api := app.Group("/api", limiter.New(limiter.Config{
		Max:        120,
		Expiration: time.Minute,
		Storage:    rateLimiterStorage(),
	}))
	api.Get("/", func(ctx *fiber.Ctx) error {
		return ctx.Status(fiber.StatusOK).JSON(fiber.Map{
			"message": "FieldFox API",
		})
	})

	// Inbound push notifications from ServiceM8
	api.Post("/webhooks/servicem8", controllers.HandleServiceM8Webhook)

	// Customer portal views, served from the local mirror
	portal := api.Group("/portal", middleware.PortalCompanyMiddleware())
	portal.Get("/dashboard", controllers.HandlePortalDashboard)
	portal.Get("/jobs", controllers.HandlePortalJobs)
	portal.Get("/quotes", controllers.HandlePortalQuotes)
	portal.Get("/payments", controllers.HandlePortalPayments)
	portal.Get("/attachments/:uuid/download", controllers.HandlePortalAttachmentDownload)
	portal.Post("/quotes/:uuid/approve", controllers.HandlePortalQuoteApprove)
	portal.Post("/jobs/:uuid/notes", controllers.HandlePortalJobNote)

	// Operational endpoints behind the internal token
	internal := api.Group("/internal", middleware.InternalTokenMiddleware())
	internal.Post("/sync/:uuid", controllers.HandleInternalSync)
	internal.Post("/retry-queue/run", controllers.HandleInternalRetryPass)
	internal.Get("/sync-runs", controllers.HandleInternalSyncRuns)
	internal.Get("/dead-letters", controllers.HandleInternalDeadLetters)
}

func NewApiRouter() *ApiRouter {
	return &ApiRouter{}
}

// rateLimiterStorage backs the limiter with Redis so limits hold across
// instances. Falls back to the limiter's in-memory store when the cache
// client is not configured.
func rateLimiterStorage() fiber.Storage {
	cacheClient := cache.GetClient()
	if cacheClient == nil {
		return nil
	}

	host := "localhost"
	port := 6379
	password := env.GetEnv("CACHE_PASSWORD", "")
	addr := cacheClient.Options().Addr
	if h, p, err := net.SplitHostPort(addr); err == nil {
		host = h
		if v, err := strconv.Atoi(p); err == nil {
			port = v
		}
	}
	if p := cacheClient.Options().Password; p != "" {
		password = p
	}

	// Separate database for limiter state (cache uses DB 0)
	return redisstorage.New(redisstorage.Config{
		Host:     host,
		Port:     port,
		Password: password,
		Database: 1,
		Reset:    false,
	})
}
