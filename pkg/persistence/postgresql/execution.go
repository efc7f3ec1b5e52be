package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/patchwell/overseer/pkg/models"
	"github.com/patchwell/overseer/pkg/persistence"
)

const executionColumns = `
	id, workflow_id, engine_workflow_id, engine_run_id, status, input,
	output, error_message, last_engine_seq, created_by, started_at,
	completed_at, created_at, updated_at
`

// ExecutionRepository handles workflow execution database operations.
type ExecutionRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewExecutionRepository creates a new execution repository.
func NewExecutionRepository(db *sql.DB, logger *slog.Logger) *ExecutionRepository {
	return &ExecutionRepository{db: db, logger: logger}
}

func (r *ExecutionRepository) Create(ctx context.Context, execution *models.WorkflowExecution) error {
	inputJSON, outputJSON, err := marshalPayloads(execution)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO workflow_executions (` + executionColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`

	_, err = r.db.ExecContext(ctx, query,
		execution.ID, execution.WorkflowID,
		nullable(execution.EngineHandle.WorkflowID), nullable(execution.EngineHandle.RunID),
		execution.Status, inputJSON, outputJSON,
		nullable(execution.ErrorMessage), execution.LastEngineSeq,
		nullable(execution.CreatedBy), execution.StartedAt, execution.CompletedAt,
		execution.CreatedAt, execution.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err, "uq_execution_engine_workflow_id") {
			return persistence.NewExecutionError("Create", execution.ID, persistence.ErrDuplicateRun)
		}

		return persistence.NewExecutionError("Create", execution.ID, err)
	}

	return nil
}

func (r *ExecutionRepository) GetByID(ctx context.Context, id string) (*models.WorkflowExecution, error) {
	query := `SELECT ` + executionColumns + ` FROM workflow_executions WHERE id = $1`

	execution, err := r.scanExecution(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewExecutionError("GetByID", id, persistence.ErrExecutionNotFound)
		}

		return nil, persistence.NewExecutionError("GetByID", id, err)
	}

	return execution, nil
}

func (r *ExecutionRepository) GetByEngineWorkflowID(ctx context.Context, engineWorkflowID string) (*models.WorkflowExecution, error) {
	query := `SELECT ` + executionColumns + ` FROM workflow_executions WHERE engine_workflow_id = $1`

	execution, err := r.scanExecution(r.db.QueryRowContext(ctx, query, engineWorkflowID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.ErrExecutionNotFound
		}

		return nil, fmt.Errorf("failed to get execution by engine id: %w", err)
	}

	return execution, nil
}

func (r *ExecutionRepository) List(ctx context.Context, opts persistence.ListExecutionsOptions) (*persistence.ExecutionListResult, error) {
	if opts.Limit <= 0 || opts.Limit > 100 {
		opts.Limit = 20
	}

	where := " WHERE 1=1"
	args := []any{}

	if opts.WorkflowID != "" {
		args = append(args, opts.WorkflowID)
		where += fmt.Sprintf(" AND workflow_id = $%d", len(args))
	}

	if opts.Status != nil {
		args = append(args, *opts.Status)
		where += fmt.Sprintf(" AND status = $%d", len(args))
	}

	var total int64

	err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM workflow_executions"+where, args...).Scan(&total)
	if err != nil {
		return nil, fmt.Errorf("failed to count executions: %w", err)
	}

	args = append(args, opts.Limit+1, opts.Offset)
	query := `SELECT ` + executionColumns + ` FROM workflow_executions` + where +
		fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d OFFSET $%d", len(args)-1, len(args))

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list executions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	executions := make([]*models.WorkflowExecution, 0, opts.Limit)

	for rows.Next() {
		execution, err := r.scanExecution(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan execution row: %w", err)
		}

		executions = append(executions, execution)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate executions: %w", err)
	}

	hasNext := len(executions) > opts.Limit
	if hasNext {
		executions = executions[:opts.Limit]
	}

	return &persistence.ExecutionListResult{
		Executions:  executions,
		TotalCount:  total,
		HasNextPage: hasNext,
	}, nil
}

// Update writes the record guarded by the expected status. Zero rows
// affected means either the execution is gone or another writer moved the
// status first; the two are distinguished with a follow-up read.
func (r *ExecutionRepository) Update(ctx context.Context, execution *models.WorkflowExecution, expected models.ExecutionStatus) error {
	inputJSON, outputJSON, err := marshalPayloads(execution)
	if err != nil {
		return err
	}

	query := `
		UPDATE workflow_executions SET
			engine_workflow_id = $1, engine_run_id = $2, status = $3,
			input = $4, output = $5, error_message = $6, last_engine_seq = $7,
			started_at = $8, completed_at = $9, updated_at = $10
		WHERE id = $11 AND status = $12
	`

	result, err := r.db.ExecContext(ctx, query,
		nullable(execution.EngineHandle.WorkflowID), nullable(execution.EngineHandle.RunID),
		execution.Status, inputJSON, outputJSON, nullable(execution.ErrorMessage),
		execution.LastEngineSeq, execution.StartedAt, execution.CompletedAt,
		execution.UpdatedAt, execution.ID, expected,
	)
	if err != nil {
		if isUniqueViolation(err, "uq_execution_engine_workflow_id") {
			return persistence.NewExecutionError("Update", execution.ID, persistence.ErrDuplicateRun)
		}

		return persistence.NewExecutionError("Update", execution.ID, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return persistence.NewExecutionError("Update", execution.ID, err)
	}

	if affected == 0 {
		_, err := r.GetByID(ctx, execution.ID)
		if err != nil {
			return err
		}

		return persistence.NewExecutionError("Update", execution.ID, persistence.ErrStatusConflict)
	}

	return nil
}

// Delete removes the execution; steps, approvals and logs cascade at the
// schema level.
func (r *ExecutionRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, "DELETE FROM workflow_executions WHERE id = $1", id)
	if err != nil {
		return persistence.NewExecutionError("Delete", id, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return persistence.NewExecutionError("Delete", id, err)
	}

	if affected == 0 {
		return persistence.NewExecutionError("Delete", id, persistence.ErrExecutionNotFound)
	}

	return nil
}

func (r *ExecutionRepository) scanExecution(row rowScanner) (*models.WorkflowExecution, error) {
	var (
		execution        models.WorkflowExecution
		engineWorkflowID sql.NullString
		engineRunID      sql.NullString
		inputJSON        []byte
		outputJSON       []byte
		errorMessage     sql.NullString
		createdBy        sql.NullString
	)

	err := row.Scan(
		&execution.ID, &execution.WorkflowID, &engineWorkflowID, &engineRunID,
		&execution.Status, &inputJSON, &outputJSON, &errorMessage,
		&execution.LastEngineSeq, &createdBy, &execution.StartedAt,
		&execution.CompletedAt, &execution.CreatedAt, &execution.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	execution.EngineHandle = models.RunHandle{
		WorkflowID: engineWorkflowID.String,
		RunID:      engineRunID.String,
	}
	execution.ErrorMessage = errorMessage.String
	execution.CreatedBy = createdBy.String

	if err := json.Unmarshal(inputJSON, &execution.Input); err != nil {
		return nil, fmt.Errorf("failed to unmarshal execution input: %w", err)
	}

	if outputJSON != nil {
		if err := json.Unmarshal(outputJSON, &execution.Output); err != nil {
			return nil, fmt.Errorf("failed to unmarshal execution output: %w", err)
		}
	}

	return &execution, nil
}

func marshalPayloads(execution *models.WorkflowExecution) ([]byte, []byte, error) {
	inputJSON, err := json.Marshal(execution.Input)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to marshal execution input: %w", err)
	}

	var outputJSON []byte

	if execution.Output != nil {
		outputJSON, err = json.Marshal(execution.Output)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to marshal execution output: %w", err)
		}
	}

	return inputJSON, outputJSON, nil
}

// nullable maps empty strings to SQL NULL so unique indexes ignore
// unassigned values.
func nullable(s string) any {
	if s == "" {
		return nil
	}

	return s
}
