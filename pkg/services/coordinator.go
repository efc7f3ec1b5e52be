package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/patchwell/overseer/pkg/engine"
	"github.com/patchwell/overseer/pkg/events"
	"github.com/patchwell/overseer/pkg/lifecycle"
	"github.com/patchwell/overseer/pkg/models"
	"github.com/patchwell/overseer/pkg/persistence"
)

// StepFailurePolicy decides what a failed step does to its execution.
// The engine normally reports the run outcome itself; fail-fast mirrors a
// step failure onto the execution immediately instead of waiting for the
// engine's run.failed callback.
type StepFailurePolicy string

const (
	StepFailureContinue StepFailurePolicy = "continue"
	StepFailureFailFast StepFailurePolicy = "fail-fast"
)

// Coordinator owns the execution lifecycle. Every mutation takes the
// per-execution lock, consults the transition tables against freshly read
// state, writes the record with a compare-and-set, appends one history
// entry and then notifies observers. Engine callbacks flow through
// HandleEngineEvent, which tolerates duplicate and out-of-order delivery.
type Coordinator struct {
	persistence persistence.Persistence
	engine      engine.Client
	history     *History
	steps       *Steps
	notifier    *notifier
	locks       *executionLocks
	logger      *slog.Logger
	now         func() time.Time
	policy      StepFailurePolicy
}

// NewCoordinator creates the coordinator. The locks instance must be the
// one shared with the step and approval services.
func NewCoordinator(
	p persistence.Persistence,
	engineClient engine.Client,
	history *History,
	steps *Steps,
	n *notifier,
	locks *executionLocks,
	logger *slog.Logger,
	policy StepFailurePolicy,
) *Coordinator {
	if policy == "" {
		policy = StepFailureContinue
	}

	return &Coordinator{
		persistence: p,
		engine:      engineClient,
		history:     history,
		steps:       steps,
		notifier:    n,
		locks:       locks,
		logger:      logger.With("module", "coordinator"),
		now:         time.Now,
		policy:      policy,
	}
}

// StartExecutionRequest contains the fields for a new execution.
type StartExecutionRequest struct {
	WorkflowID string `validate:"required"`
	Input      map[string]any
	CreatedBy  string
}

// Start creates a pending execution for an executable definition and
// submits it to the engine. The record moves to running only when the
// engine's run.accepted callback arrives; if submission fails the record
// stays pending and the error wraps engine.ErrUnreachable.
func (c *Coordinator) Start(ctx context.Context, req StartExecutionRequest) (*models.WorkflowExecution, error) {
	definition, err := c.persistence.Definitions().GetByID(ctx, req.WorkflowID)
	if err != nil {
		return nil, err
	}

	if !definition.Executable() {
		return nil, fmt.Errorf("%w: definition %s is %s",
			ErrDefinitionNotExecutable, definition.ID, definition.Status)
	}

	now := c.now().UTC()
	execution := &models.WorkflowExecution{
		ID:         uuid.New().String(),
		WorkflowID: definition.ID,
		Status:     models.ExecutionStatusPending,
		Input:      req.Input,
		CreatedBy:  req.CreatedBy,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	unlock := c.locks.acquire(execution.ID)
	defer unlock()

	err = c.persistence.Executions().Create(ctx, execution)
	if err != nil {
		return nil, fmt.Errorf("failed to create execution: %w", err)
	}

	err = c.history.Record(ctx, execution.ID, "", models.LogLevelInfo,
		"Execution created", map[string]any{
			"workflow_id":      definition.ID,
			"workflow_name":    definition.Name,
			"workflow_version": definition.Version,
		})
	if err != nil {
		return nil, err
	}

	c.notifier.notify(ctx, events.ExecutionEvent{
		Type:        events.ExecutionCreated,
		ExecutionID: execution.ID,
		Status:      string(execution.Status),
	})

	handle, err := c.engine.Submit(ctx, engine.Submission{
		ExecutionID: execution.ID,
		Config:      definition.Config,
		Input:       req.Input,
	})
	if err != nil {
		recordErr := c.history.Record(ctx, execution.ID, "", models.LogLevelError,
			"Engine submission failed", map[string]any{"error": err.Error()})
		if recordErr != nil {
			c.logger.ErrorContext(ctx, "Failed to record submission failure",
				"execution_id", execution.ID, "error", recordErr)
		}

		return nil, fmt.Errorf("failed to submit execution %s: %w", execution.ID, err)
	}

	execution.EngineHandle = handle
	execution.UpdatedAt = c.now().UTC()

	err = c.persistence.Executions().Update(ctx, execution, models.ExecutionStatusPending)
	if err != nil {
		return nil, fmt.Errorf("failed to store engine handle: %w", err)
	}

	return execution, nil
}

// Get retrieves one execution.
func (c *Coordinator) Get(ctx context.Context, id string) (*models.WorkflowExecution, error) {
	return c.persistence.Executions().GetByID(ctx, id)
}

// List returns a filtered page of executions.
func (c *Coordinator) List(ctx context.Context, opts persistence.ListExecutionsOptions) (*persistence.ExecutionListResult, error) {
	if opts.Limit <= 0 {
		opts.Limit = 20
	}

	if opts.Limit > 100 {
		opts.Limit = 100
	}

	if opts.Offset < 0 {
		opts.Offset = 0
	}

	return c.persistence.Executions().List(ctx, opts)
}

// Cancel asks the engine to cancel an active execution. The local record
// moves to cancelled only when the engine confirms through its callback; a
// pending execution that was never accepted is cancelled locally.
func (c *Coordinator) Cancel(ctx context.Context, executionID, requestedBy string) (*models.WorkflowExecution, error) {
	unlock := c.locks.acquire(executionID)
	defer unlock()

	execution, err := c.persistence.Executions().GetByID(ctx, executionID)
	if err != nil {
		return nil, err
	}

	if execution.Status.Terminal() {
		return nil, fmt.Errorf("%w: execution %s is %s", ErrExecutionNotActive, execution.ID, execution.Status)
	}

	err = lifecycle.ValidateExecution(execution.Status, models.ExecutionStatusCancelled)
	if err != nil {
		return nil, err
	}

	if execution.EngineHandle.Empty() {
		// The engine never received this run; finish it locally.
		return c.applyTransitionLocked(ctx, execution, models.ExecutionStatusCancelled,
			map[string]any{"requested_by": requestedBy})
	}

	err = c.engine.RequestCancel(ctx, execution.EngineHandle)
	if err != nil {
		return nil, fmt.Errorf("failed to request cancellation of execution %s: %w", execution.ID, err)
	}

	err = c.history.Record(ctx, execution.ID, "", models.LogLevelInfo,
		"Cancellation requested", map[string]any{"requested_by": requestedBy})
	if err != nil {
		return nil, err
	}

	c.notifier.notify(ctx, events.ExecutionEvent{
		Type:        events.ExecutionUpdated,
		ExecutionID: execution.ID,
		Status:      string(execution.Status),
		Metadata:    map[string]any{"cancel_requested": true},
	})

	return execution, nil
}

// Pause suspends a running execution.
func (c *Coordinator) Pause(ctx context.Context, executionID, requestedBy string) (*models.WorkflowExecution, error) {
	return c.transition(ctx, executionID, models.ExecutionStatusPaused,
		map[string]any{"requested_by": requestedBy})
}

// Resume moves a paused execution back to running.
func (c *Coordinator) Resume(ctx context.Context, executionID, requestedBy string) (*models.WorkflowExecution, error) {
	return c.transition(ctx, executionID, models.ExecutionStatusRunning,
		map[string]any{"requested_by": requestedBy})
}

func (c *Coordinator) transition(ctx context.Context, executionID string, to models.ExecutionStatus, metadata map[string]any) (*models.WorkflowExecution, error) {
	unlock := c.locks.acquire(executionID)
	defer unlock()

	execution, err := c.persistence.Executions().GetByID(ctx, executionID)
	if err != nil {
		return nil, err
	}

	err = lifecycle.ValidateExecution(execution.Status, to)
	if err != nil {
		return nil, err
	}

	return c.applyTransitionLocked(ctx, execution, to, metadata)
}

// applyTransitionLocked writes an already validated transition and runs the
// record -> history -> notify pipeline. The caller holds the execution lock.
func (c *Coordinator) applyTransitionLocked(ctx context.Context, execution *models.WorkflowExecution, to models.ExecutionStatus, metadata map[string]any) (*models.WorkflowExecution, error) {
	from := execution.Status
	now := c.now().UTC()

	execution.Status = to
	execution.UpdatedAt = now

	if to == models.ExecutionStatusRunning && execution.StartedAt == nil {
		execution.StartedAt = &now
	}

	if to.Terminal() && execution.CompletedAt == nil {
		execution.CompletedAt = &now
	}

	err := c.persistence.Executions().Update(ctx, execution, from)
	if err != nil {
		return nil, fmt.Errorf("failed to update execution %s: %w", execution.ID, err)
	}

	if metadata == nil {
		metadata = map[string]any{}
	}

	metadata["from"] = string(from)
	metadata["to"] = string(to)

	level := models.LogLevelInfo
	if to == models.ExecutionStatusFailed {
		level = models.LogLevelError
	}

	err = c.history.Record(ctx, execution.ID, "", level,
		fmt.Sprintf("Execution %s", to), metadata)
	if err != nil {
		return nil, err
	}

	c.notifier.notify(ctx, events.ExecutionEvent{
		Type:        events.ForExecutionTransition(from, to),
		ExecutionID: execution.ID,
		Status:      string(to),
		Metadata:    metadata,
	})

	return execution, nil
}

// HandleEngineEvent applies one engine callback. Delivery is at-least-once
// and unordered: events at or below the last applied sequence are dropped,
// and events whose transition the tables reject are dropped as stale.
// Returning an error asks the transport to redeliver.
func (c *Coordinator) HandleEngineEvent(ctx context.Context, event engine.Event) error {
	execution, err := c.persistence.Executions().GetByEngineWorkflowID(ctx, event.Handle.WorkflowID)
	if err != nil {
		if persistence.IsNotFound(err) {
			// The submit that assigned this handle may not have committed
			// yet; redelivery gives it time to land.
			c.logger.WarnContext(ctx, "Engine event for unknown run",
				"engine_workflow_id", event.Handle.WorkflowID, "event_type", event.Type)
		}

		return err
	}

	unlock := c.locks.acquire(execution.ID)
	defer unlock()

	execution, err = c.persistence.Executions().GetByID(ctx, execution.ID)
	if err != nil {
		return err
	}

	if event.Sequence > 0 && event.Sequence <= execution.LastEngineSeq {
		c.logger.DebugContext(ctx, "Dropping duplicate engine event",
			"execution_id", execution.ID,
			"event_type", event.Type,
			"sequence", event.Sequence,
			"last_applied", execution.LastEngineSeq,
		)

		return nil
	}

	switch event.Type {
	case engine.EventRunAccepted, engine.EventRunCompleted, engine.EventRunFailed,
		engine.EventRunCancelled, engine.EventRunPaused, engine.EventRunResumed:
		return c.applyRunEvent(ctx, execution, event)
	case engine.EventStepStarted, engine.EventStepCompleted,
		engine.EventStepFailed, engine.EventStepSkipped:
		return c.applyStepEvent(ctx, execution, event)
	default:
		c.logger.WarnContext(ctx, "Ignoring unknown engine event type",
			"execution_id", execution.ID, "event_type", event.Type)

		return nil
	}
}

var runEventStatus = map[engine.EventType]models.ExecutionStatus{
	engine.EventRunAccepted:  models.ExecutionStatusRunning,
	engine.EventRunCompleted: models.ExecutionStatusCompleted,
	engine.EventRunFailed:    models.ExecutionStatusFailed,
	engine.EventRunCancelled: models.ExecutionStatusCancelled,
	engine.EventRunPaused:    models.ExecutionStatusPaused,
	engine.EventRunResumed:   models.ExecutionStatusRunning,
}

func (c *Coordinator) applyRunEvent(ctx context.Context, execution *models.WorkflowExecution, event engine.Event) error {
	to := runEventStatus[event.Type]

	err := lifecycle.ValidateExecution(execution.Status, to)
	if err != nil {
		c.logger.DebugContext(ctx, "Dropping stale engine event",
			"execution_id", execution.ID,
			"event_type", event.Type,
			"status", execution.Status,
		)

		return nil
	}

	switch event.Type {
	case engine.EventRunAccepted:
		if runID := payloadString(event.Payload, "run_id"); runID != "" {
			execution.EngineHandle.RunID = runID
		}
	case engine.EventRunCompleted:
		if output := payloadMap(event.Payload, "output"); output != nil {
			execution.Output = output
		}
	case engine.EventRunFailed:
		if message := payloadString(event.Payload, "error"); message != "" {
			execution.ErrorMessage = message
		}
	}

	if event.Sequence > execution.LastEngineSeq {
		execution.LastEngineSeq = event.Sequence
	}

	_, err = c.applyTransitionLocked(ctx, execution, to,
		map[string]any{"engine_event": string(event.Type), "engine_seq": event.Sequence})

	return err
}

var stepEventStatus = map[engine.EventType]models.StepStatus{
	engine.EventStepStarted:   models.StepStatusRunning,
	engine.EventStepCompleted: models.StepStatusCompleted,
	engine.EventStepFailed:    models.StepStatusFailed,
	engine.EventStepSkipped:   models.StepStatusSkipped,
}

func (c *Coordinator) applyStepEvent(ctx context.Context, execution *models.WorkflowExecution, event engine.Event) error {
	stepID := event.StepID()
	if stepID == "" {
		c.logger.WarnContext(ctx, "Dropping step event without step id",
			"execution_id", execution.ID, "event_type", event.Type)

		return nil
	}

	step, err := c.persistence.Steps().GetByStepID(ctx, execution.ID, stepID)
	if persistence.IsNotFound(err) {
		// The engine is the source of truth for which steps exist; register
		// on first sight.
		step, err = c.steps.registerLocked(ctx, RegisterStepRequest{
			ExecutionID: execution.ID,
			StepID:      stepID,
			StepName:    payloadString(event.Payload, "step_name"),
			StepType:    payloadString(event.Payload, "step_type"),
			Input:       payloadMap(event.Payload, "input"),
		})
	}

	if err != nil {
		return err
	}

	to := stepEventStatus[event.Type]

	if err := lifecycle.ValidateStep(step.Status, to); err != nil {
		c.logger.DebugContext(ctx, "Dropping stale engine step event",
			"execution_id", execution.ID,
			"step_id", stepID,
			"event_type", event.Type,
			"status", step.Status,
		)

		return nil
	}

	step, err = c.steps.transitionLocked(ctx, step, TransitionStepRequest{
		ExecutionID:  execution.ID,
		StepID:       stepID,
		Status:       to,
		Output:       payloadMap(event.Payload, "output"),
		ErrorMessage: payloadString(event.Payload, "error"),
		Cost:         payloadMap(event.Payload, "cost"),
	})
	if err != nil {
		return err
	}

	if event.Sequence > execution.LastEngineSeq {
		execution.LastEngineSeq = event.Sequence
		execution.UpdatedAt = c.now().UTC()

		err = c.persistence.Executions().Update(ctx, execution, execution.Status)
		if err != nil {
			return fmt.Errorf("failed to advance engine sequence: %w", err)
		}
	}

	if step.Status == models.StepStatusFailed &&
		c.policy == StepFailureFailFast &&
		execution.Status == models.ExecutionStatusRunning {
		_, err = c.applyTransitionLocked(ctx, execution, models.ExecutionStatusFailed,
			map[string]any{"failed_step": stepID})
		if err != nil {
			return err
		}
	}

	return nil
}

func payloadString(payload map[string]any, key string) string {
	value, _ := payload[key].(string)

	return value
}

func payloadMap(payload map[string]any, key string) map[string]any {
	value, _ := payload[key].(map[string]any)

	return value
}
