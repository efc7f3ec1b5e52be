package services

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/patchwell/overseer/pkg/eventbus"
	"github.com/patchwell/overseer/pkg/events"
	"github.com/patchwell/overseer/pkg/hub"
)

// notifier fans accepted transitions out to connected observers through the
// hub and, when configured, to external consumers through the event bus.
// Hub delivery is synchronous and non-blocking; bus publish failures are
// logged and never fail the transition that produced the event.
type notifier struct {
	hub    *hub.Hub
	bus    eventbus.EventPublisher
	logger *slog.Logger
}

func newNotifier(h *hub.Hub, bus eventbus.EventPublisher, logger *slog.Logger) *notifier {
	return &notifier{
		hub:    h,
		bus:    bus,
		logger: logger.With("module", "notifier"),
	}
}

func (n *notifier) notify(ctx context.Context, event events.ExecutionEvent) {
	if event.ID == "" {
		event.ID = uuid.New().String()
	}

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	n.hub.Publish(event)

	if n.bus == nil {
		return
	}

	err := n.bus.Publish(ctx, event.ExecutionID, event)
	if err != nil {
		n.logger.ErrorContext(ctx, "Failed to publish event to bus",
			"event_type", event.Type,
			"execution_id", event.ExecutionID,
			"error", err,
		)
	}
}
