package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/patchwell/overseer/pkg/events"
	"github.com/patchwell/overseer/pkg/lifecycle"
	"github.com/patchwell/overseer/pkg/models"
	"github.com/patchwell/overseer/pkg/persistence"
)

// Steps tracks per-step state within executions. Step records mirror what
// the engine reports; the step type is opaque here and carries no behavior.
type Steps struct {
	persistence persistence.Persistence
	history     *History
	notifier    *notifier
	locks       *executionLocks
	logger      *slog.Logger
	now         func() time.Time
}

// NewSteps creates the step tracker. The locks instance must be shared with
// the coordinator and approval services so all writers to an execution
// serialize on the same mutex.
func NewSteps(p persistence.Persistence, history *History, n *notifier, locks *executionLocks, logger *slog.Logger) *Steps {
	return &Steps{
		persistence: p,
		history:     history,
		notifier:    n,
		locks:       locks,
		logger:      logger.With("module", "steps"),
		now:         time.Now,
	}
}

// RegisterStepRequest contains the fields for a new step record.
type RegisterStepRequest struct {
	ExecutionID string `validate:"required"`
	StepID      string `validate:"required"`
	StepName    string
	StepType    string `validate:"required"`
	Input       map[string]any
}

// Register creates a pending step record within an active execution.
// Registering the same step id twice returns ErrDuplicateStep and leaves
// the existing record untouched.
func (s *Steps) Register(ctx context.Context, req RegisterStepRequest) (*models.StepExecution, error) {
	unlock := s.locks.acquire(req.ExecutionID)
	defer unlock()

	execution, err := s.persistence.Executions().GetByID(ctx, req.ExecutionID)
	if err != nil {
		return nil, err
	}

	if execution.Status.Terminal() {
		return nil, fmt.Errorf("%w: execution %s is %s", ErrExecutionNotActive, execution.ID, execution.Status)
	}

	return s.registerLocked(ctx, req)
}

// registerLocked creates the step record. The caller holds the execution lock.
func (s *Steps) registerLocked(ctx context.Context, req RegisterStepRequest) (*models.StepExecution, error) {
	now := s.now().UTC()
	step := &models.StepExecution{
		ID:          uuid.New().String(),
		ExecutionID: req.ExecutionID,
		StepID:      req.StepID,
		StepName:    req.StepName,
		StepType:    req.StepType,
		Status:      models.StepStatusPending,
		Input:       req.Input,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	err := s.persistence.Steps().Create(ctx, step)
	if err != nil {
		return nil, err
	}

	s.notifier.notify(ctx, events.ExecutionEvent{
		Type:        events.StepUpdated,
		ExecutionID: step.ExecutionID,
		StepID:      step.StepID,
		Status:      string(step.Status),
	})

	return step, nil
}

// TransitionStepRequest moves a step to a new status.
type TransitionStepRequest struct {
	ExecutionID  string            `validate:"required"`
	StepID       string            `validate:"required"`
	Status       models.StepStatus `validate:"required"`
	Output       map[string]any
	ErrorMessage string
	Cost         map[string]any
}

// Transition applies one step status change under the execution lock.
func (s *Steps) Transition(ctx context.Context, req TransitionStepRequest) (*models.StepExecution, error) {
	unlock := s.locks.acquire(req.ExecutionID)
	defer unlock()

	step, err := s.persistence.Steps().GetByStepID(ctx, req.ExecutionID, req.StepID)
	if err != nil {
		return nil, err
	}

	return s.transitionLocked(ctx, step, req)
}

// transitionLocked validates and applies the change. The caller holds the
// execution lock and passes the freshly read step.
func (s *Steps) transitionLocked(ctx context.Context, step *models.StepExecution, req TransitionStepRequest) (*models.StepExecution, error) {
	// A pending step may be finished in one call; it passes through
	// running implicitly rather than requiring two transitions.
	if step.Status == models.StepStatusPending && req.Status.Terminal() {
		err := lifecycle.ValidateStep(models.StepStatusRunning, req.Status)
		if err != nil {
			return nil, err
		}
	} else if err := lifecycle.ValidateStep(step.Status, req.Status); err != nil {
		return nil, err
	}

	from := step.Status
	now := s.now().UTC()

	step.Status = req.Status
	step.UpdatedAt = now

	if req.Output != nil {
		step.Output = req.Output
	}

	if req.ErrorMessage != "" {
		step.ErrorMessage = req.ErrorMessage
	}

	if req.Cost != nil {
		step.Cost = req.Cost
	}

	if req.Status == models.StepStatusRunning && step.StartedAt == nil {
		step.StartedAt = &now
	}

	if req.Status.Terminal() && step.CompletedAt == nil {
		step.CompletedAt = &now
	}

	err := s.persistence.Steps().Update(ctx, step, from)
	if err != nil {
		return nil, err
	}

	metadata := map[string]any{"from": string(from), "to": string(req.Status)}
	if req.ErrorMessage != "" {
		metadata["error"] = req.ErrorMessage
	}

	level := models.LogLevelInfo
	if req.Status == models.StepStatusFailed {
		level = models.LogLevelError
	}

	err = s.history.Record(ctx, step.ExecutionID, step.StepID, level,
		fmt.Sprintf("Step %s", req.Status), metadata)
	if err != nil {
		return nil, err
	}

	s.notifier.notify(ctx, events.ExecutionEvent{
		Type:        events.StepUpdated,
		ExecutionID: step.ExecutionID,
		StepID:      step.StepID,
		Status:      string(step.Status),
		Metadata:    metadata,
	})

	return step, nil
}

// Get retrieves one step record.
func (s *Steps) Get(ctx context.Context, executionID, stepID string) (*models.StepExecution, error) {
	return s.persistence.Steps().GetByStepID(ctx, executionID, stepID)
}

// List returns all step records of an execution.
func (s *Steps) List(ctx context.Context, executionID string) ([]*models.StepExecution, error) {
	return s.persistence.Steps().ListByExecution(ctx, executionID)
}

// Progress aggregates an execution's step counts by status.
func (s *Steps) Progress(ctx context.Context, executionID string) (*models.StepProgress, error) {
	_, err := s.persistence.Executions().GetByID(ctx, executionID)
	if err != nil {
		return nil, err
	}

	counts, err := s.persistence.Steps().CountByStatus(ctx, executionID)
	if err != nil {
		return nil, err
	}

	total := 0
	for _, count := range counts {
		total += count
	}

	return &models.StepProgress{
		ExecutionID: executionID,
		Total:       total,
		ByStatus:    counts,
	}, nil
}
