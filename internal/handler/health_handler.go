package handler

import (
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/campus-tools/canvaswatch/internal/config"
	"github.com/campus-tools/canvaswatch/internal/service"
	"github.com/campus-tools/canvaswatch/internal/utils"
)

// HealthResponse represents the payload returned by the health endpoint.
type HealthResponse struct {
	Status      string         `json:"status"`
	Timestamp   time.Time      `json:"timestamp"`
	Service     string         `json:"service"`
	Environment string         `json:"environment"`
	Poll        service.Health `json:"poll"`
}

// HealthCheck returns a handler that reports service and poll-loop health.
// The status degrades while the last refresh cycle has failed, even though
// the last-known-good snapshot is still being served.
func HealthCheck(cfg config.Config, store *service.SnapshotStore) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var poll service.Health
		if store != nil {
			poll = store.Health()
		}

		status := "ok"
		if poll.Degraded {
			status = "degraded"
		}

		payload := HealthResponse{
			Status:      status,
			Timestamp:   time.Now().UTC(),
			Service:     cfg.AppName,
			Environment: cfg.AppEnv,
			Poll:        poll,
		}

		return utils.SendSuccess(c, "service health", payload)
	}
}
