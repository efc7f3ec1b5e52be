package main

import (
	"context"
	"os"
	"time"

	"github.com/patchwell/overseer/pkg/cmd"
	"github.com/patchwell/overseer/pkg/log"
	"github.com/patchwell/overseer/pkg/services"
	cli "github.com/urfave/cli/v3"
)

const defaultPort = 9091

func main() {
	logger := log.WithModule("api")

	command := &cli.Command{
		Name:                  "overseer-api",
		Usage:                 "Track and coordinate workflow executions",
		EnableShellCompletion: true,
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Usage:   "Port to run the API server on",
				Value:   defaultPort,
				Sources: cli.EnvVars("PORT"),
			},
			&cli.StringFlag{
				Name:     "database-url",
				Usage:    "Database connection URL for persistence",
				Required: true,
				Sources:  cli.EnvVars("DATABASE_URL"),
			},
			&cli.StringFlag{
				Name:    "event-bus",
				Usage:   "Event bus type (kafka, gochannel)",
				Value:   "gochannel",
				Sources: cli.EnvVars("EVENT_BUS_TYPE"),
			},
			&cli.StringFlag{
				Name:    "engine-transport",
				Usage:   "Engine command transport (kafka, gochannel)",
				Value:   "gochannel",
				Sources: cli.EnvVars("ENGINE_TRANSPORT"),
			},
			&cli.StringFlag{
				Name:    "step-failure-policy",
				Usage:   "What a failed step does to its execution (continue, fail-fast)",
				Value:   "continue",
				Sources: cli.EnvVars("STEP_FAILURE_POLICY"),
			},
			&cli.DurationFlag{
				Name:    "approval-sweep-interval",
				Usage:   "How often overdue approvals are expired",
				Value:   time.Minute,
				Sources: cli.EnvVars("APPROVAL_SWEEP_INTERVAL"),
			},
			&cli.StringFlag{
				Name:    "definitions-file",
				Usage:   "YAML catalog of definitions to register at startup",
				Value:   "",
				Sources: cli.EnvVars("DEFINITIONS_FILE"),
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				Value:   "info",
				Sources: cli.EnvVars("LOG_LEVEL"),
			},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			log.Setup(command.String("log-level"))

			logger.InfoContext(ctx, "Initializing Overseer API")

			persistence := cmd.NewPersistence(ctx, logger, command.String("database-url"))

			defer func() {
				err := persistence.Close(ctx)
				if err != nil {
					logger.ErrorContext(ctx, "Failed to close persistence", "error", err)
				}
			}()

			eventBus := cmd.NewEventBus(command.String("event-bus"), "overseer-api", logger)
			defer func() {
				if err := eventBus.Close(); err != nil {
					logger.ErrorContext(ctx, "Failed to close event bus", "error", err)
				}
			}()

			engineClient := cmd.NewEngineClient(command.String("engine-transport"), "overseer-api", logger)

			api := NewAPI(
				logger,
				persistence,
				engineClient,
				eventBus,
				services.StepFailurePolicy(command.String("step-failure-policy")),
				command.Duration("approval-sweep-interval"),
			)

			if path := command.String("definitions-file"); path != "" {
				err := api.SeedDefinitions(ctx, path)
				if err != nil {
					return err
				}
			}

			err := api.Start(ctx, command.Int("port"))
			if err != nil {
				logger.ErrorContext(ctx, "Failed to start API server", "error", err)
			}

			return nil
		},
	}

	err := command.Run(context.Background(), os.Args)
	if err != nil {
		panic(err)
	}
}
