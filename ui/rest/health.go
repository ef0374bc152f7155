package rest

import (
	"context"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/gofiber/fiber/v2"

	"github.com/leadengine/whatsapp-ingest/ui/rest/middleware"
)

// HealthProbe is what the health endpoint checks on each dependency.
type HealthProbe interface {
	Degraded() bool
}

// Pinger is the optional valkey check. Nil means valkey is not wired.
type Pinger interface {
	Ping(ctx context.Context) error
}

type Health struct {
	storage HealthProbe
	valkey  Pinger
	started time.Time
}

func InitRestHealth(app fiber.Router, storage HealthProbe, valkey Pinger) Health {
	rest := Health{storage: storage, valkey: valkey, started: time.Now()}
	app.Get("/health", rest.Status)
	return rest
}

func (handler *Health) Status(c *fiber.Ctx) error {
	storageMode := "persistent"
	if handler.storage.Degraded() {
		storageMode = "degraded"
	}

	valkeyStatus := "disabled"
	if handler.valkey != nil {
		valkeyStatus = "ok"
		ctx, cancel := context.WithTimeout(c.UserContext(), 2*time.Second)
		defer cancel()
		if err := handler.valkey.Ping(ctx); err != nil {
			valkeyStatus = "unreachable"
		}
	}

	return c.JSON(successResponse(middleware.TraceID(c), fiber.Map{
		"status":  "ok",
		"storage": storageMode,
		"valkey":  valkeyStatus,
		"uptime":  humanize.Time(handler.started),
	}))
}
