package engine

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/patchwell/overseer/pkg/events"
)

// StreamReceiver consumes engine callbacks from the engine events topic on
// the message bus. Nacked messages are redelivered by the broker, which
// preserves the at-least-once contract.
type StreamReceiver struct {
	subscriber message.Subscriber
	topic      string
	logger     *slog.Logger
}

// NewStreamReceiver creates a receiver over the given watermill subscriber.
func NewStreamReceiver(subscriber message.Subscriber, logger *slog.Logger) *StreamReceiver {
	return &StreamReceiver{
		subscriber: subscriber,
		topic:      events.EngineEventsTopic,
		logger:     logger.With("module", "engine_stream_receiver"),
	}
}

// Start subscribes and dispatches callbacks until the context is done.
func (r *StreamReceiver) Start(ctx context.Context, callback Callback) error {
	messages, err := r.subscriber.Subscribe(ctx, r.topic)
	if err != nil {
		return err
	}

	go func() {
		for msg := range messages {
			var event Event

			err := json.Unmarshal(msg.Payload, &event)
			if err != nil {
				r.logger.ErrorContext(ctx, "Dropping undecodable engine event", "error", err)
				msg.Ack()

				continue
			}

			err = callback(ctx, event)
			if err != nil {
				r.logger.ErrorContext(ctx, "Engine event handling failed, requeueing",
					"event_type", event.Type,
					"engine_workflow_id", event.Handle.WorkflowID,
					"error", err,
				)
				msg.Nack()

				continue
			}

			msg.Ack()
		}
	}()

	return nil
}
