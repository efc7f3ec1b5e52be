// Package engine defines the contract with the external durable-execution
// engine. The engine owns retries, timers and activity execution; this
// system only submits commands and mirrors the callbacks the engine
// reports, so the contract is a thin client interface plus the callback
// event shape.
package engine

import (
	"context"
	"errors"
	"time"

	"github.com/patchwell/overseer/pkg/models"
)

// ErrUnreachable indicates a command could not be dispatched to the
// engine. The local record is never advanced when dispatch fails.
var ErrUnreachable = errors.New("execution engine unreachable")

// EventType classifies one engine callback.
type EventType string

const (
	EventRunAccepted  EventType = "run.accepted"
	EventRunCompleted EventType = "run.completed"
	EventRunFailed    EventType = "run.failed"
	EventRunCancelled EventType = "run.cancelled"
	EventRunPaused    EventType = "run.paused"
	EventRunResumed   EventType = "run.resumed"

	EventStepStarted   EventType = "step.started"
	EventStepCompleted EventType = "step.completed"
	EventStepFailed    EventType = "step.failed"
	EventStepSkipped   EventType = "step.skipped"
)

// Event is one callback from the engine. Delivery is at-least-once:
// consumers must tolerate duplicates and out-of-order arrival. Sequence
// increases monotonically per run.
type Event struct {
	Handle    models.RunHandle `json:"handle"`
	Type      EventType        `json:"type"`
	Sequence  int64            `json:"sequence"`
	Payload   map[string]any   `json:"payload,omitempty"`
	Timestamp time.Time        `json:"timestamp"`
}

// StepID extracts the step identifier from a step-scoped event payload.
func (e Event) StepID() string {
	stepID, _ := e.Payload["step_id"].(string)

	return stepID
}

// Submission is one start command for the engine.
type Submission struct {
	ExecutionID string           `json:"execution_id"`
	Handle      models.RunHandle `json:"handle"`
	Config      map[string]any   `json:"config"`
	Input       map[string]any   `json:"input"`
}

// Client dispatches commands to the engine. Submit returns the engine
// workflow identifier chosen for the run; the run identifier and the
// pending->running transition arrive later through the run.accepted
// callback. RequestCancel is likewise asynchronous: the local record moves
// to cancelled only on the engine's confirmation callback.
type Client interface {
	Submit(ctx context.Context, submission Submission) (models.RunHandle, error)
	RequestCancel(ctx context.Context, handle models.RunHandle) error
}

// Callback consumes one engine event. Returning an error signals the
// transport to redeliver.
type Callback func(ctx context.Context, event Event) error
