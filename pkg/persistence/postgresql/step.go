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

const stepColumns = `
	id, execution_id, step_id, step_name, step_type, status, input, output,
	error_message, cost, started_at, completed_at, created_at, updated_at
`

// StepRepository handles step execution database operations.
type StepRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewStepRepository creates a new step repository.
func NewStepRepository(db *sql.DB, logger *slog.Logger) *StepRepository {
	return &StepRepository{db: db, logger: logger}
}

func (r *StepRepository) Create(ctx context.Context, step *models.StepExecution) error {
	inputJSON, outputJSON, costJSON, err := marshalStepPayloads(step)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO step_executions (` + stepColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`

	_, err = r.db.ExecContext(ctx, query,
		step.ID, step.ExecutionID, step.StepID, step.StepName, step.StepType,
		step.Status, inputJSON, outputJSON, nullable(step.ErrorMessage), costJSON,
		step.StartedAt, step.CompletedAt, step.CreatedAt, step.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err, "uq_step_execution_step_id") {
			return &persistence.StepError{
				Op: "Create", ExecutionID: step.ExecutionID, StepID: step.StepID,
				Err: persistence.ErrDuplicateStep,
			}
		}

		return &persistence.StepError{Op: "Create", ExecutionID: step.ExecutionID, StepID: step.StepID, Err: err}
	}

	return nil
}

func (r *StepRepository) GetByStepID(ctx context.Context, executionID, stepID string) (*models.StepExecution, error) {
	query := `SELECT ` + stepColumns + ` FROM step_executions WHERE execution_id = $1 AND step_id = $2`

	step, err := r.scanStep(r.db.QueryRowContext(ctx, query, executionID, stepID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, &persistence.StepError{
				Op: "GetByStepID", ExecutionID: executionID, StepID: stepID,
				Err: persistence.ErrStepNotFound,
			}
		}

		return nil, &persistence.StepError{Op: "GetByStepID", ExecutionID: executionID, StepID: stepID, Err: err}
	}

	return step, nil
}

func (r *StepRepository) ListByExecution(ctx context.Context, executionID string) ([]*models.StepExecution, error) {
	query := `SELECT ` + stepColumns + ` FROM step_executions WHERE execution_id = $1 ORDER BY created_at`

	rows, err := r.db.QueryContext(ctx, query, executionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list steps: %w", err)
	}
	defer func() { _ = rows.Close() }()

	steps := make([]*models.StepExecution, 0)

	for rows.Next() {
		step, err := r.scanStep(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan step row: %w", err)
		}

		steps = append(steps, step)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate steps: %w", err)
	}

	return steps, nil
}

func (r *StepRepository) Update(ctx context.Context, step *models.StepExecution, expected models.StepStatus) error {
	inputJSON, outputJSON, costJSON, err := marshalStepPayloads(step)
	if err != nil {
		return err
	}

	query := `
		UPDATE step_executions SET
			status = $1, input = $2, output = $3, error_message = $4, cost = $5,
			started_at = $6, completed_at = $7, updated_at = $8
		WHERE execution_id = $9 AND step_id = $10 AND status = $11
	`

	result, err := r.db.ExecContext(ctx, query,
		step.Status, inputJSON, outputJSON, nullable(step.ErrorMessage), costJSON,
		step.StartedAt, step.CompletedAt, step.UpdatedAt,
		step.ExecutionID, step.StepID, expected,
	)
	if err != nil {
		return &persistence.StepError{Op: "Update", ExecutionID: step.ExecutionID, StepID: step.StepID, Err: err}
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return &persistence.StepError{Op: "Update", ExecutionID: step.ExecutionID, StepID: step.StepID, Err: err}
	}

	if affected == 0 {
		_, err := r.GetByStepID(ctx, step.ExecutionID, step.StepID)
		if err != nil {
			return err
		}

		return &persistence.StepError{
			Op: "Update", ExecutionID: step.ExecutionID, StepID: step.StepID,
			Err: persistence.ErrStatusConflict,
		}
	}

	return nil
}

func (r *StepRepository) CountByStatus(ctx context.Context, executionID string) (map[models.StepStatus]int, error) {
	query := `SELECT status, COUNT(*) FROM step_executions WHERE execution_id = $1 GROUP BY status`

	rows, err := r.db.QueryContext(ctx, query, executionID)
	if err != nil {
		return nil, fmt.Errorf("failed to count steps: %w", err)
	}
	defer func() { _ = rows.Close() }()

	counts := make(map[models.StepStatus]int)

	for rows.Next() {
		var (
			status models.StepStatus
			count  int
		)

		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("failed to scan step count: %w", err)
		}

		counts[status] = count
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate step counts: %w", err)
	}

	return counts, nil
}

func (r *StepRepository) scanStep(row rowScanner) (*models.StepExecution, error) {
	var (
		step         models.StepExecution
		inputJSON    []byte
		outputJSON   []byte
		costJSON     []byte
		errorMessage sql.NullString
	)

	err := row.Scan(
		&step.ID, &step.ExecutionID, &step.StepID, &step.StepName, &step.StepType,
		&step.Status, &inputJSON, &outputJSON, &errorMessage, &costJSON,
		&step.StartedAt, &step.CompletedAt, &step.CreatedAt, &step.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	step.ErrorMessage = errorMessage.String

	for _, pair := range []struct {
		raw  []byte
		into *map[string]any
	}{
		{inputJSON, &step.Input},
		{outputJSON, &step.Output},
		{costJSON, &step.Cost},
	} {
		if pair.raw == nil {
			continue
		}

		if err := json.Unmarshal(pair.raw, pair.into); err != nil {
			return nil, fmt.Errorf("failed to unmarshal step payload: %w", err)
		}
	}

	return &step, nil
}

func marshalStepPayloads(step *models.StepExecution) ([]byte, []byte, []byte, error) {
	payloads := make([][]byte, 3)

	for i, m := range []map[string]any{step.Input, step.Output, step.Cost} {
		if m == nil {
			continue
		}

		raw, err := json.Marshal(m)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("failed to marshal step payload: %w", err)
		}

		payloads[i] = raw
	}

	return payloads[0], payloads[1], payloads[2], nil
}
