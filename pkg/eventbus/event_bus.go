// Package eventbus provides event-driven communication infrastructure for
// execution tracking: lifecycle notifications out, engine callbacks in.
package eventbus

import (
	"context"

	"github.com/patchwell/overseer/pkg/events"
)

type Event interface {
	GetType() events.EventType
}

type EventPublisher interface {
	Publish(ctx context.Context, key string, event Event) error
}

type EventSubscriber interface {
	Handle(eventType events.EventType, handler EventHandler) error
	Subscribe(ctx context.Context) error
}

type EventHandler func(ctx context.Context, event *events.ExecutionEvent) error

type EventBus interface {
	EventPublisher
	EventSubscriber
	Close() error
	GenerateID() string
}
