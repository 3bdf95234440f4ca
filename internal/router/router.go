package router

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/craftstudio/craftstudio/internal/config"
	"github.com/craftstudio/craftstudio/internal/handlers"
	"github.com/craftstudio/craftstudio/internal/logging"
	"github.com/craftstudio/craftstudio/internal/middleware"
)

// Setup configures all routes and middlewares
func Setup(app *fiber.App, logger *logging.Logger, instances handlers.Instances,
	store handlers.ConfigStore, cfg config.Config, version string,
) *handlers.Handler {
	h := handlers.New(logger, instances, store, version)

	// Global middlewares
	app.Use(recover.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST,PATCH,DELETE,OPTIONS",
		AllowHeaders: "Origin,Content-Type,Accept,Authorization,X-API-Key,X-Request-ID",
	}))
	app.Use(logging.FiberMiddleware(logger, logging.DefaultMiddlewareConfig()))

	// Health check (no auth required)
	app.Get("/health", h.Health)

	v1 := app.Group("/v1", middleware.APIKeyAuth(logger, cfg.Auth))

	// Instance registry
	v1.Get("/instances", h.ListInstances)
	v1.Post("/instances", h.AddInstance)
	v1.Get("/instances/:id", h.GetInstance)
	v1.Patch("/instances/:id", h.UpdateInstance)
	v1.Delete("/instances/:id", h.DeleteInstance)
	v1.Post("/instances/:id/restart", h.RestartInstance)
	v1.Post("/instances/:id/activate", h.ActivateInstance)
	v1.Get("/instances/:id/activity", h.InstanceActivity)

	// Worker proxy over the control channel
	v1.Get("/instances/:id/worker/status", h.WorkerStatus)
	v1.Get("/instances/:id/worker/peers", h.WorkerPeers)

	// Application config
	v1.Get("/config", h.GetConfig)
	v1.Patch("/config", h.PatchConfig)
	v1.Post("/config/reset", h.ResetConfig)

	// 404 handler
	app.Use(h.NotFound)

	return h
}

// New creates a new Fiber app with configuration
func New(logger *logging.Logger, instances handlers.Instances, store handlers.ConfigStore,
	cfg config.Config, version string,
) *fiber.App {
	app := fiber.New(fiber.Config{
		AppName:               "CraftStudio",
		DisableStartupMessage: true,
		ErrorHandler:          middleware.ErrorHandler(logger),
	})

	Setup(app, logger, instances, store, cfg, version)

	return app
}
