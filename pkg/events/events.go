// Package events defines the event types broadcast for execution lifecycle
// notifications.
package events

import (
	"time"

	"github.com/patchwell/overseer/pkg/models"
)

type EventType string

// Kafka topics.
const Topic = "overseer.executions"                    // Execution lifecycle events
const EngineCommandsTopic = "overseer.engine.commands" // Commands dispatched to the engine proxy
const EngineEventsTopic = "overseer.engine.events"     // Callbacks reported by the engine

const EventMetadataKey = "key"
const EventTypeMetadataKey = "event_type"

const (
	ExecutionCreated   EventType = "execution.created"
	ExecutionStarted   EventType = "execution.started"
	ExecutionUpdated   EventType = "execution.updated"
	ExecutionPaused    EventType = "execution.paused"
	ExecutionResumed   EventType = "execution.resumed"
	ExecutionCompleted EventType = "execution.completed"
	ExecutionFailed    EventType = "execution.failed"
	ExecutionCancelled EventType = "execution.cancelled"

	StepUpdated EventType = "step.updated"

	ApprovalRequested EventType = "approval.requested"
	ApprovalResolved  EventType = "approval.resolved"
	ApprovalExpired   EventType = "approval.expired"
)

// ExecutionEvent is the uniform notification payload delivered to
// subscribers. StepID is empty for execution-level events.
type ExecutionEvent struct {
	ID          string         `json:"id"`
	Type        EventType      `json:"type"`
	ExecutionID string         `json:"execution_id"`
	StepID      string         `json:"step_id,omitempty"`
	Status      string         `json:"status"`
	Timestamp   time.Time      `json:"timestamp"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

func (e ExecutionEvent) GetType() EventType {
	return e.Type
}

// ForExecutionTransition maps an execution status transition to its
// lifecycle event type.
func ForExecutionTransition(from, to models.ExecutionStatus) EventType {
	switch to {
	case models.ExecutionStatusRunning:
		if from == models.ExecutionStatusPaused {
			return ExecutionResumed
		}

		return ExecutionStarted
	case models.ExecutionStatusPaused:
		return ExecutionPaused
	case models.ExecutionStatusCompleted:
		return ExecutionCompleted
	case models.ExecutionStatusFailed:
		return ExecutionFailed
	case models.ExecutionStatusCancelled:
		return ExecutionCancelled
	default:
		return ExecutionUpdated
	}
}
