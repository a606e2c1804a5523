package router

import (
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/campus-tools/canvaswatch/internal/config"
	"github.com/campus-tools/canvaswatch/internal/handler"
	"github.com/campus-tools/canvaswatch/internal/middleware"
	"github.com/campus-tools/canvaswatch/internal/observability"
	"github.com/campus-tools/canvaswatch/internal/service"
)

// Dependencies groups router dependencies for registration.
type Dependencies struct {
	Store           *service.SnapshotStore
	SnapshotHandler *handler.SnapshotHandler
	StreamHandler   *handler.StreamHandler
}

// Register wires the HTTP routes into the fiber application.
func Register(app *fiber.App, cfg config.Config, deps Dependencies) {
	app.Get("/metrics", observability.MetricsHandler())

	api := app.Group("/api/v1", func(c *fiber.Ctx) error {
		c.Set("X-Application", cfg.AppName)
		return c.Next()
	})
	api.Use(middleware.RateLimit("api", 30, time.Second))

	api.Get("/health", handler.HealthCheck(cfg, deps.Store))

	if deps.SnapshotHandler != nil {
		deps.SnapshotHandler.Register(api)
	}

	if deps.StreamHandler != nil {
		deps.StreamHandler.Register(api)
	}
}
