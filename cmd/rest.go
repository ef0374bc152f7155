package cmd

import (
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/valyala/fasthttp/fasthttpadaptor"

	"github.com/leadengine/whatsapp-ingest/ui/rest"
	"github.com/leadengine/whatsapp-ingest/ui/rest/middleware"
)

var restCmd = &cobra.Command{
	Use:   "rest",
	Short: "Serve the webhook ingestion API over HTTP",
	Run:   restServer,
}

func init() {
	rootCmd.AddCommand(restCmd)
}

func restServer(_ *cobra.Command, _ []string) {
	app := fiber.New(fiber.Config{
		AppName:               "LeadEngine WhatsApp Ingest",
		DisableStartupMessage: false,
		ServerHeader:          "Hidden",
	})

	app.Use(requestid.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: corsOrigins(),
		AllowHeaders: "Origin, Content-Type, Accept, Authorization, X-Authorization, X-Webhook-Token, X-Webhook-Signature, X-API-Key, X-Tenant-Id, X-Instance-Id, X-Broker-Id, X-Request-ID",
	}))
	app.Use(middleware.Recovery())

	// The broad per-IP limiter guards everything; the webhook group below
	// carries its own, tighter sliding window.
	if cfg.IsProduction() {
		app.Use(limiter.New(limiter.Config{
			Max:        cfg.App.RateLimitMax,
			Expiration: cfg.App.RateLimitWindow,
			KeyGenerator: func(c *fiber.Ctx) string {
				return c.IP()
			},
		}))
	}

	if cfg.App.Debug {
		app.Use(logger.New())
	}

	metricsHandler := fasthttpadaptor.NewFastHTTPHandler(promhttp.Handler())
	app.Get("/metrics", func(c *fiber.Ctx) error {
		metricsHandler(c.Context())
		return nil
	})

	apiGroup := app.Group("/api")
	rest.InitRestHealth(apiGroup, store, healthPinger())

	webhookGroup := apiGroup.Group("/")
	webhookGroup.Use(middleware.WebhookAuth(cfg.Webhook))
	webhookGroup.Use(middleware.WebhookRateLimit(cfg.Webhook))
	rest.InitRestWebhook(webhookGroup, dispatcher, cfg.Webhook)

	rest.InitRestUploads(app, cfg.Media.UploadsBaseURL, mediaStore)
	hub.RegisterRoutes(app, cfg.Realtime.SocketPath)

	apiGroup.All("/*", rest.NotFound)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		logrus.Info("[REST] Termination signal received, shutting down gracefully...")
		if err := app.Shutdown(); err != nil {
			logrus.Errorf("[REST] Error during shutdown: %v", err)
		}
		stopApp()
	}()

	if err := app.Listen(":" + cfg.App.Port); err != nil {
		logrus.Fatalln("Failed to start:", err.Error())
	}
}

func corsOrigins() string {
	origins := cfg.App.CorsAllowedOrigins
	if cfg.App.FrontendURL != "" {
		origins = append(origins, cfg.App.FrontendURL)
	}
	if len(origins) == 0 {
		return "*"
	}
	return strings.Join(origins, ", ")
}

// healthPinger returns the valkey probe, or nil when valkey is disabled.
// The conversion matters: a typed nil inside the interface would still
// be pinged.
func healthPinger() rest.Pinger {
	if vkClient == nil {
		return nil
	}
	return vkClient
}
