package main

import (
	"fmt"
	"log"
	"os"

	"github.com/gofiber/contrib/swagger"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/basicauth"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/monitor"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/fieldfox/FieldFox/app/repository"
	"github.com/fieldfox/FieldFox/internal/pkg/archive"
	"github.com/fieldfox/FieldFox/internal/pkg/cache"
	"github.com/fieldfox/FieldFox/internal/pkg/database"
	"github.com/fieldfox/FieldFox/internal/pkg/env"
	"github.com/fieldfox/FieldFox/internal/pkg/retryqueue"
	"github.com/fieldfox/FieldFox/internal/pkg/router"
	"github.com/fieldfox/FieldFox/internal/pkg/servicem8"
	"github.com/fieldfox/FieldFox/internal/pkg/syncer"
	"github.com/fieldfox/FieldFox/internal/pkg/webhook"
)

func main() {
	app := NewApplication()
	err := app.Listen(fmt.Sprintf("%s:%s", env.GetEnv("APP_HOST", "localhost"), env.GetEnv("APP_PORT", "4000")))
	log.Fatal(err)
}

func NewApplication() *fiber.App {
	env.SetupEnvFile()
	database.SetupDatabase()
	cache.SetupCache()
	archive.Setup()

	repository.InitializeFactory(database.GetDB())

	// Wire the retry processor and start the background worker
	repos := repository.GetGlobalRepositories()
	client := servicem8.NewClientFromEnv()
	engine := syncer.NewEngine(client, repos.Mirror, repos.Sync)
	ingestor := webhook.NewIngestor(repos.WebhookEvent, repos.RetryQueue, engine, client, env.GetEnv("SERVICEM8_WEBHOOK_SECRET", ""))
	processor := retryqueue.NewProcessor(repos.RetryQueue, ingestor, client)
	retryqueue.InitializeManager(processor).Start()

	// init fiber app
	app := fiber.New(fiber.Config{
		BodyLimit: 10 << 20,
	})

	// recovery and logging
	app.Use(recover.New(), logger.New())

	// fiber metrics
	app.Get("/metrics", basicauth.New(basicauth.Config{
		Users: map[string]string{
			"admin": env.GetEnv("METRICS_PASSWORD", "test"),
		},
	}), monitor.New())

	// SWAGGER / OPENAPI
	if basePath := findBasePath(); basePath != "" {
		openAPICfg := swagger.Config{
			BasePath: "/docs/api/",
			FilePath: basePath + "public/docs/v1/openapi.yml",
			Path:     "v1",
		}
		app.Use(swagger.New(openAPICfg))
	}

	// ROUTER
	router.InstallRouter(app)

	return app
}

// findBasePath locates the project root so the OpenAPI document can be
// served from any working directory. Empty when not found (e.g. in tests).
func findBasePath() string {
	basePaths := []string{
		"./",        // Current directory
		"../../",    // From cmd/fieldfox to project root
		"../../../", // Fallback
	}
	for _, path := range basePaths {
		if _, err := os.Stat(path + "public/docs"); !os.IsNotExist(err) {
			return path
		}
	}
	return ""
}
