// Package main provides the Overseer sync consumer: it receives engine
// callbacks and applies them to the local execution records.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/patchwell/overseer/pkg/cmd"
	"github.com/patchwell/overseer/pkg/engine"
	"github.com/patchwell/overseer/pkg/hub"
	"github.com/patchwell/overseer/pkg/log"
	"github.com/patchwell/overseer/pkg/otelhelper"
	"github.com/patchwell/overseer/pkg/services"
	cli "github.com/urfave/cli/v3"
	"go.opentelemetry.io/otel/attribute"
)

func main() {
	command := &cli.Command{
		Name:                  "overseer-sync",
		Usage:                 "Apply engine callbacks to execution records",
		EnableShellCompletion: true,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "sync-id",
				Usage:   "Custom consumer ID (auto-generated if not provided)",
				Value:   "",
				Sources: cli.EnvVars("SYNC_ID"),
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
				Name:    "callback-source",
				Usage:   "Where engine callbacks arrive (stream, redis)",
				Value:   "stream",
				Sources: cli.EnvVars("CALLBACK_SOURCE"),
			},
			&cli.StringFlag{
				Name:    "redis-url",
				Usage:   "Redis address for the redis callback source",
				Value:   "localhost:6379",
				Sources: cli.EnvVars("REDIS_URL"),
			},
			&cli.StringFlag{
				Name:    "redis-password",
				Usage:   "Redis password for the redis callback source",
				Value:   "",
				Sources: cli.EnvVars("REDIS_PASSWORD"),
			},
			&cli.StringFlag{
				Name:    "redis-queue",
				Usage:   "Redis list the engine proxy pushes callbacks to",
				Value:   "overseer:engine:events",
				Sources: cli.EnvVars("REDIS_QUEUE"),
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
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				Value:   "info",
				Sources: cli.EnvVars("LOG_LEVEL"),
			},
		},
		Action: run,
	}

	err := command.Run(context.Background(), os.Args)
	if err != nil {
		panic(err)
	}
}

func run(ctx context.Context, command *cli.Command) error {
	log.Setup(command.String("log-level"))

	syncID := command.String("sync-id")
	if syncID == "" {
		syncID = "sync-" + uuid.New().String()[:8]
	}

	logger := log.WithModule("overseer-sync").With("syncId", syncID)
	logger.InfoContext(ctx, "Initializing Overseer sync consumer")

	persistence := cmd.NewPersistence(ctx, logger, command.String("database-url"))
	defer func() {
		err := persistence.Close(ctx)
		if err != nil {
			logger.ErrorContext(ctx, "Failed to close persistence", "error", err)
		}
	}()

	eventBus := cmd.NewEventBus(command.String("event-bus"), "overseer-sync", logger)
	defer func() {
		if err := eventBus.Close(); err != nil {
			logger.ErrorContext(ctx, "Failed to close event bus", "error", err)
		}
	}()

	container := services.NewContainer(services.Config{
		Persistence: persistence,
		Engine:      cmd.NewEngineClient(command.String("event-bus"), "overseer-sync", logger),
		Hub:         hub.NewHub(logger),
		EventBus:    eventBus,
		Logger:      logger,
		Policy:      services.StepFailurePolicy(command.String("step-failure-policy")),
	})

	sweeper := services.NewSweeper(container.Approvals, command.Duration("approval-sweep-interval"), logger)

	err := sweeper.Start(ctx)
	if err != nil {
		return err
	}

	defer sweeper.Stop()

	callback := tracedCallback(ctx, syncID, container.Coordinator.HandleEngineEvent)

	stop, err := startReceiver(ctx, command, callback)
	if err != nil {
		return err
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		logger.InfoContext(ctx, "Received shutdown signal", "signal", sig.String())
	case <-ctx.Done():
	}

	return stop(ctx)
}

// startReceiver wires the selected callback transport and returns its stop
// function.
func startReceiver(ctx context.Context, command *cli.Command, callback engine.Callback) (func(context.Context) error, error) {
	switch command.String("callback-source") {
	case "redis":
		receiver := engine.NewRedisQueueReceiver(
			command.String("redis-url"),
			command.String("redis-password"),
			command.String("redis-queue"),
			log.WithModule("overseer-sync"),
		)

		err := receiver.Start(ctx, callback)
		if err != nil {
			return nil, err
		}

		return receiver.Stop, nil
	default:
		receiver := engine.NewStreamReceiver(
			cmd.NewEngineEventSubscriber(command.String("event-bus"), "overseer-sync", log.WithModule("overseer-sync")),
			log.WithModule("overseer-sync"),
		)

		err := receiver.Start(ctx, callback)
		if err != nil {
			return nil, err
		}

		return func(context.Context) error { return nil }, nil
	}
}

// tracedCallback spans each applied engine event. Tracing setup failure is
// non-fatal; the callback passes through untraced.
func tracedCallback(ctx context.Context, syncID string, next engine.Callback) engine.Callback {
	tracer, err := otelhelper.NewTracer(ctx, "overseer-sync")
	if err != nil {
		return next
	}

	return func(ctx context.Context, event engine.Event) error {
		ctx, span := otelhelper.StartSpan(ctx, tracer, "engine.event",
			attribute.String(otelhelper.ServiceIDKey, syncID),
			attribute.String(otelhelper.EngineWorkflowIDKey, event.Handle.WorkflowID),
			attribute.String(otelhelper.EngineEventTypeKey, string(event.Type)),
			attribute.Int64(otelhelper.EngineSequenceKey, event.Sequence),
		)
		defer span.End()

		err := next(ctx, event)
		if err != nil {
			otelhelper.SetError(span, err)
		}

		return err
	}
}
