// Package hub provides in-process fanout of execution events to connected
// observers. Delivery is best-effort and never blocks the publishing
// transition: a subscriber that cannot keep up has events dropped, and a
// reconnecting subscriber backfills from the execution log instead of
// expecting replay.
package hub

import (
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/patchwell/overseer/pkg/events"
)

const defaultBuffer = 64

// Subscription is one observer's event stream. Scope is either a single
// execution or global (all executions).
type Subscription struct {
	ID          string
	ExecutionID string // empty for global scope
	ch          chan events.ExecutionEvent
}

// Events returns the subscriber's receive channel. It is closed on
// Unsubscribe.
func (s *Subscription) Events() <-chan events.ExecutionEvent {
	return s.ch
}

// Hub is the process-scoped subscriber registry. Add/remove lifecycle is
// explicit and tied to subscriber connect/disconnect.
type Hub struct {
	mu           sync.RWMutex
	global       map[string]*Subscription
	perExecution map[string]map[string]*Subscription

	buffer  int
	logger  *slog.Logger
	dropped atomic.Int64
}

// NewHub creates an empty hub.
func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		global:       make(map[string]*Subscription),
		perExecution: make(map[string]map[string]*Subscription),
		buffer:       defaultBuffer,
		logger:       logger.With("module", "hub"),
	}
}

// Subscribe registers an observer. An empty executionID subscribes to all
// executions.
func (h *Hub) Subscribe(executionID string) *Subscription {
	sub := &Subscription{
		ID:          uuid.New().String(),
		ExecutionID: executionID,
		ch:          make(chan events.ExecutionEvent, h.buffer),
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if executionID == "" {
		h.global[sub.ID] = sub

		return sub
	}

	subs, ok := h.perExecution[executionID]
	if !ok {
		subs = make(map[string]*Subscription)
		h.perExecution[executionID] = subs
	}

	subs[sub.ID] = sub

	return sub
}

// Unsubscribe removes the observer and closes its channel.
func (h *Hub) Unsubscribe(sub *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if sub.ExecutionID == "" {
		if _, ok := h.global[sub.ID]; !ok {
			return
		}

		delete(h.global, sub.ID)
		close(sub.ch)

		return
	}

	subs, ok := h.perExecution[sub.ExecutionID]
	if !ok {
		return
	}

	if _, ok := subs[sub.ID]; !ok {
		return
	}

	delete(subs, sub.ID)

	if len(subs) == 0 {
		delete(h.perExecution, sub.ExecutionID)
	}

	close(sub.ch)
}

// Publish delivers the event to all global subscribers and to subscribers
// of the event's execution. Slow subscribers never delay the caller; their
// events are dropped and counted.
func (h *Hub) Publish(event events.ExecutionEvent) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, sub := range h.global {
		h.deliver(sub, event)
	}

	for _, sub := range h.perExecution[event.ExecutionID] {
		h.deliver(sub, event)
	}
}

func (h *Hub) deliver(sub *Subscription, event events.ExecutionEvent) {
	select {
	case sub.ch <- event:
	default:
		h.dropped.Add(1)
		h.logger.Debug("Dropping event for slow subscriber",
			"subscription_id", sub.ID,
			"event_type", event.Type,
			"execution_id", event.ExecutionID,
		)
	}
}

// SubscriberCount returns the number of connected subscriptions.
func (h *Hub) SubscriberCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	count := len(h.global)
	for _, subs := range h.perExecution {
		count += len(subs)
	}

	return count
}

// Dropped returns the number of events dropped for slow subscribers.
func (h *Hub) Dropped() int64 {
	return h.dropped.Load()
}
