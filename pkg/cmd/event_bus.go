package cmd

import (
	"fmt"
	"log/slog"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/patchwell/overseer/pkg/channels/gochannel"
	"github.com/patchwell/overseer/pkg/channels/kafka"
	"github.com/patchwell/overseer/pkg/eventbus"
	"github.com/patchwell/overseer/pkg/events"
)

// NewEventBus creates the lifecycle event bus for the given provider.
// Kafka is the production transport; gochannel keeps single-process
// deployments and local development broker-free.
func NewEventBus(provider, serviceName string, logger *slog.Logger) eventbus.EventBus {
	wmLogger := watermill.NewSlogLogger(logger)

	switch provider {
	case "kafka":
		pub, sub, err := kafka.CreateChannel(wmLogger, serviceName)
		if err != nil {
			panic(fmt.Errorf("failed to create Kafka pub/sub: %w", err))
		}

		return eventbus.NewWatermillEventBus(pub, sub, events.Topic)
	case "gochannel", "":
		pub, sub, err := gochannel.CreateChannel(wmLogger)
		if err != nil {
			panic(fmt.Errorf("failed to create GoChannel pub/sub: %w", err))
		}

		return eventbus.NewWatermillEventBus(pub, sub, events.Topic)
	default:
		panic("Unsupported event bus provider: " + provider)
	}
}
