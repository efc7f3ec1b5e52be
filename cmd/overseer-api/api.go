// Package main provides the Overseer API server implementation.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/healthcheck"
	fiberlogger "github.com/gofiber/fiber/v3/middleware/logger"
	"github.com/patchwell/overseer/pkg/config"
	"github.com/patchwell/overseer/pkg/engine"
	"github.com/patchwell/overseer/pkg/eventbus"
	"github.com/patchwell/overseer/pkg/hub"
	"github.com/patchwell/overseer/pkg/models"
	"github.com/patchwell/overseer/pkg/persistence"
	"github.com/patchwell/overseer/pkg/services"
	"github.com/patchwell/overseer/pkg/web"
)

type API struct {
	logger      *slog.Logger
	persistence persistence.Persistence
	engine      engine.Client
	eventBus    eventbus.EventBus
	hub         *hub.Hub
	policy      services.StepFailurePolicy
	sweep       time.Duration
	validate    *validator.Validate

	container *services.Container
	sweeper   *services.Sweeper
}

func NewAPI(
	logger *slog.Logger,
	p persistence.Persistence,
	engineClient engine.Client,
	eventBus eventbus.EventBus,
	policy services.StepFailurePolicy,
	sweep time.Duration,
) *API {
	eventHub := hub.NewHub(logger)

	return &API{
		logger:      logger,
		persistence: p,
		engine:      engineClient,
		eventBus:    eventBus,
		hub:         eventHub,
		policy:      policy,
		sweep:       sweep,
		validate:    validator.New(validator.WithRequiredStructEnabled()),
		container: services.NewContainer(services.Config{
			Persistence: p,
			Engine:      engineClient,
			Hub:         eventHub,
			EventBus:    eventBus,
			Logger:      logger,
			Policy:      policy,
		}),
	}
}

func (a *API) App() *fiber.App {
	handlers := web.NewAPIHandlers(
		a.container.Coordinator,
		a.container.Steps,
		a.container.Approvals,
		a.container.Definitions,
		a.container.History,
		a.hub,
		a.persistence,
		a.validate,
	)

	app := fiber.New()
	app.Use(cors.New())
	app.Use(fiberlogger.New(fiberlogger.Config{
		DisableColors: true,
	}))

	app.Get(healthcheck.DefaultLivenessEndpoint, healthcheck.NewHealthChecker())
	app.Get(healthcheck.DefaultReadinessEndpoint, healthcheck.NewHealthChecker())

	app.Get("/", func(c fiber.Ctx) error {
		return c.SendString("Overseer API")
	})

	d := app.Group("/definitions")
	d.Get("/", handlers.GetDefinitions)
	d.Post("/", handlers.CreateDefinition)
	d.Get("/:id", handlers.GetDefinition)
	d.Patch("/:id/status", handlers.UpdateDefinitionStatus)

	e := app.Group("/executions")
	e.Get("/", handlers.GetExecutions)
	e.Post("/", handlers.StartExecution)
	e.Get("/:id", handlers.GetExecution)
	e.Post("/:id/cancel", handlers.CancelExecution)
	e.Post("/:id/pause", handlers.PauseExecution)
	e.Post("/:id/resume", handlers.ResumeExecution)
	e.Get("/:id/history", handlers.GetExecutionHistory)
	e.Get("/:id/progress", handlers.GetProgress)
	e.Get("/:id/events", handlers.StreamExecutionEvents)

	// Step endpoints:
	e.Get("/:id/steps", handlers.GetSteps)
	e.Post("/:id/steps", handlers.RegisterStep)
	e.Post("/:id/steps/:stepId/transition", handlers.TransitionStep)

	// Approval endpoints:
	e.Get("/:id/approvals", handlers.GetApprovals)
	e.Post("/:id/approvals", handlers.RequestApproval)

	a2 := app.Group("/approvals")
	a2.Get("/:token", handlers.GetApprovalByToken)
	a2.Post("/:token/resolve", handlers.ResolveApproval)

	app.Get("/events", handlers.StreamAllEvents)
	app.Get("/health", handlers.HealthCheck)

	return app
}

// SeedDefinitions loads a YAML catalog and registers any definitions not
// already present. Existing (name, version) pairs are left untouched.
func (a *API) SeedDefinitions(ctx context.Context, path string) error {
	file, err := config.LoadDefinitions(path)
	if err != nil {
		return err
	}

	for _, seed := range file.Definitions {
		def, err := a.container.Definitions.Create(ctx, services.CreateDefinitionRequest{
			Name:        seed.Name,
			Description: seed.Description,
			Version:     seed.Version,
			Config:      seed.Config,
			Tags:        seed.Tags,
			CreatedBy:   "seed",
		})
		if errors.Is(err, persistence.ErrDuplicateDefinition) {
			a.logger.DebugContext(ctx, "Seed definition already registered",
				"name", seed.Name, "version", seed.Version)

			continue
		}

		if err != nil {
			return fmt.Errorf("failed to seed definition %s: %w", seed.Name, err)
		}

		if seed.Activate {
			_, err = a.container.Definitions.SetStatus(ctx, def.ID, models.DefinitionStatusActive)
			if err != nil {
				return fmt.Errorf("failed to activate seed definition %s: %w", seed.Name, err)
			}
		}
	}

	return nil
}

func (a *API) Start(ctx context.Context, port int) error {
	a.sweeper = services.NewSweeper(a.container.Approvals, a.sweep, a.logger)

	err := a.sweeper.Start(ctx)
	if err != nil {
		return err
	}

	defer a.sweeper.Stop()

	app := a.App()

	return app.Listen(":" + strconv.Itoa(port))
}
