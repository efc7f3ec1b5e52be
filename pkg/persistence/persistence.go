// Package persistence provides the data storage abstraction for execution
// tracking: one repository per entity, with compare-and-set status updates
// so concurrent writers race on the status field instead of overwriting
// each other.
package persistence

import (
	"context"
	"time"

	"github.com/patchwell/overseer/pkg/models"
)

// Persistence aggregates the per-entity repositories.
type Persistence interface {
	Definitions() DefinitionRepository
	Executions() ExecutionRepository
	Steps() StepRepository
	Approvals() ApprovalRepository
	Logs() LogRepository

	HealthCheck(ctx context.Context) error
	Close(ctx context.Context) error
}

// ListExecutionsOptions filters and paginates execution listings.
type ListExecutionsOptions struct {
	Limit      int
	Offset     int
	WorkflowID string
	Status     *models.ExecutionStatus
}

// ExecutionListResult contains one page of executions.
type ExecutionListResult struct {
	Executions  []*models.WorkflowExecution `json:"executions"`
	TotalCount  int64                       `json:"total_count"`
	HasNextPage bool                        `json:"has_next_page"`
}

// ListLogsOptions filters execution log reads. Entries always come back
// ordered by sequence.
type ListLogsOptions struct {
	Level *models.LogLevel
	Limit int
}

// DefinitionRepository stores workflow definitions.
type DefinitionRepository interface {
	// Create persists a new definition. Returns ErrDuplicateDefinition if
	// the (name, version) pair already exists.
	Create(ctx context.Context, def *models.WorkflowDefinition) error
	GetByID(ctx context.Context, id string) (*models.WorkflowDefinition, error)
	List(ctx context.Context) ([]*models.WorkflowDefinition, error)
	UpdateStatus(ctx context.Context, id string, status models.DefinitionStatus) error
}

// ExecutionRepository stores workflow executions. Update is a
// compare-and-set: it writes the whole record only if the stored status
// still equals expected, returning ErrStatusConflict otherwise.
type ExecutionRepository interface {
	// Create persists a new execution. Returns ErrDuplicateRun if the
	// engine workflow identifier is already assigned to another execution.
	Create(ctx context.Context, execution *models.WorkflowExecution) error
	GetByID(ctx context.Context, id string) (*models.WorkflowExecution, error)
	GetByEngineWorkflowID(ctx context.Context, engineWorkflowID string) (*models.WorkflowExecution, error)
	List(ctx context.Context, opts ListExecutionsOptions) (*ExecutionListResult, error)
	Update(ctx context.Context, execution *models.WorkflowExecution, expected models.ExecutionStatus) error
	// Delete removes the execution and cascades to its steps, approvals
	// and logs.
	Delete(ctx context.Context, id string) error
}

// StepRepository stores step executions, unique per (execution, step id).
type StepRepository interface {
	// Create persists a new step. Returns ErrDuplicateStep if the step id
	// already exists within the execution.
	Create(ctx context.Context, step *models.StepExecution) error
	GetByStepID(ctx context.Context, executionID, stepID string) (*models.StepExecution, error)
	ListByExecution(ctx context.Context, executionID string) ([]*models.StepExecution, error)
	Update(ctx context.Context, step *models.StepExecution, expected models.StepStatus) error
	CountByStatus(ctx context.Context, executionID string) (map[models.StepStatus]int, error)
}

// ApprovalRepository stores approval requests, looked up by their
// single-use token.
type ApprovalRepository interface {
	Create(ctx context.Context, approval *models.ApprovalRequest) error
	GetByID(ctx context.Context, id string) (*models.ApprovalRequest, error)
	GetByToken(ctx context.Context, token string) (*models.ApprovalRequest, error)
	ListByExecution(ctx context.Context, executionID string) ([]*models.ApprovalRequest, error)
	// ListExpired returns pending requests whose deadline passed before now.
	ListExpired(ctx context.Context, now time.Time) ([]*models.ApprovalRequest, error)
	Update(ctx context.Context, approval *models.ApprovalRequest, expected models.ApprovalStatus) error
}

// LogRepository is the append-only audit store. There is no update or
// delete surface; Append assigns the next per-execution sequence number.
type LogRepository interface {
	Append(ctx context.Context, entry *models.ExecutionLog) error
	ListByExecution(ctx context.Context, executionID string, opts ListLogsOptions) ([]*models.ExecutionLog, error)
}
