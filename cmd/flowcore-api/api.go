// Package main provides the flowcore API server.
package main

import (
	"log/slog"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/healthcheck"
	"github.com/gofiber/fiber/v3/middleware/logger"

	"github.com/studio233/flowcore/pkg/dispatch"
	"github.com/studio233/flowcore/pkg/eventbus"
	"github.com/studio233/flowcore/pkg/persistence"
	"github.com/studio233/flowcore/pkg/registry"
	"github.com/studio233/flowcore/pkg/services"
	"github.com/studio233/flowcore/pkg/status"
	"github.com/studio233/flowcore/pkg/web"
)

type API struct {
	logger      *slog.Logger
	persistence persistence.Persistence
	registry    *registry.Registry
	eventBus    eventbus.EventBus
	validate    *validator.Validate
}

func NewAPI(
	logger *slog.Logger,
	persistence persistence.Persistence,
	registry *registry.Registry,
	eventBus eventbus.EventBus,
) *API {
	return &API{
		persistence: persistence,
		logger:      logger,
		registry:    registry,
		eventBus:    eventBus,
		validate:    validator.New(validator.WithRequiredStructEnabled()),
	}
}

func (a *API) App() *fiber.App {
	dispatcher := dispatch.NewDispatcher(a.eventBus, a.persistence.Runs(), a.logger)

	workflowService := services.NewWorkflow(a.persistence, a.registry)
	runService := services.NewRun(a.persistence, dispatcher, a.logger)
	projector := status.NewProjector(a.persistence.Runs(), a.logger)

	handlers := web.NewAPIHandlers(workflowService, runService, projector, a.validate)

	app := fiber.New()
	app.Use(cors.New())
	app.Use(logger.New(logger.Config{
		DisableColors: true,
	}))

	app.Get(healthcheck.DefaultLivenessEndpoint, healthcheck.NewHealthChecker())
	app.Get(healthcheck.DefaultReadinessEndpoint, healthcheck.NewHealthChecker())

	app.Get("/", func(c fiber.Ctx) error {
		return c.SendString("Flowcore API")
	})

	handlers.Register(app)

	return app
}

func (a *API) Start(port int) error {
	app := a.App()

	return app.Listen(":" + strconv.Itoa(port))
}
