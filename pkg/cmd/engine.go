package cmd

import (
	"fmt"
	"log/slog"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/patchwell/overseer/pkg/channels/gochannel"
	"github.com/patchwell/overseer/pkg/channels/kafka"
	"github.com/patchwell/overseer/pkg/engine"
)

// NewEngineClient creates the engine command dispatcher over the selected
// transport. Commands go out on the engine commands topic; the engine
// proxy on the other side drives the durable runtime.
func NewEngineClient(provider, serviceName string, logger *slog.Logger) engine.Client {
	pub, _ := engineChannel(provider, serviceName, logger)

	return engine.NewBusClient(pub)
}

// NewEngineEventSubscriber creates the subscriber that receives engine
// callbacks for the sync consumer.
func NewEngineEventSubscriber(provider, serviceName string, logger *slog.Logger) message.Subscriber {
	_, sub := engineChannel(provider, serviceName, logger)

	return sub
}

func engineChannel(provider, serviceName string, logger *slog.Logger) (message.Publisher, message.Subscriber) {
	wmLogger := watermill.NewSlogLogger(logger)

	switch provider {
	case "kafka":
		pub, sub, err := kafka.CreateChannel(wmLogger, serviceName)
		if err != nil {
			panic(fmt.Errorf("failed to create Kafka engine channel: %w", err))
		}

		return pub, sub
	case "gochannel", "":
		pub, sub, err := gochannel.CreateChannel(wmLogger)
		if err != nil {
			panic(fmt.Errorf("failed to create GoChannel engine channel: %w", err))
		}

		return pub, sub
	default:
		panic("Unsupported engine transport provider: " + provider)
	}
}
