package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/patchwell/overseer/pkg/models"
	"github.com/patchwell/overseer/pkg/persistence"
)

const approvalColumns = `
	id, execution_id, step_id, title, description, context, status, token,
	requested_by, resolved_by, response_note, expires_at, responded_at,
	created_at, updated_at
`

// ApprovalRepository handles approval request database operations.
type ApprovalRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewApprovalRepository creates a new approval repository.
func NewApprovalRepository(db *sql.DB, logger *slog.Logger) *ApprovalRepository {
	return &ApprovalRepository{db: db, logger: logger}
}

func (r *ApprovalRepository) Create(ctx context.Context, approval *models.ApprovalRequest) error {
	contextJSON, err := marshalContext(approval)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO approval_requests (` + approvalColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	`

	_, err = r.db.ExecContext(ctx, query,
		approval.ID, approval.ExecutionID, approval.StepID, approval.Title,
		approval.Description, contextJSON, approval.Status, approval.Token,
		nullable(approval.RequestedBy), nullable(approval.ResolvedBy),
		nullable(approval.ResponseNote), approval.ExpiresAt, approval.RespondedAt,
		approval.CreatedAt, approval.UpdatedAt,
	)
	if err != nil {
		return &persistence.ApprovalError{Op: "Create", ApprovalID: approval.ID, Err: err}
	}

	return nil
}

func (r *ApprovalRepository) GetByID(ctx context.Context, id string) (*models.ApprovalRequest, error) {
	query := `SELECT ` + approvalColumns + ` FROM approval_requests WHERE id = $1`

	approval, err := r.scanApproval(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, &persistence.ApprovalError{Op: "GetByID", ApprovalID: id, Err: persistence.ErrApprovalNotFound}
		}

		return nil, &persistence.ApprovalError{Op: "GetByID", ApprovalID: id, Err: err}
	}

	return approval, nil
}

func (r *ApprovalRepository) GetByToken(ctx context.Context, token string) (*models.ApprovalRequest, error) {
	query := `SELECT ` + approvalColumns + ` FROM approval_requests WHERE token = $1`

	approval, err := r.scanApproval(r.db.QueryRowContext(ctx, query, token))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.ErrApprovalNotFound
		}

		return nil, fmt.Errorf("failed to get approval by token: %w", err)
	}

	return approval, nil
}

func (r *ApprovalRepository) ListByExecution(ctx context.Context, executionID string) ([]*models.ApprovalRequest, error) {
	query := `SELECT ` + approvalColumns + ` FROM approval_requests WHERE execution_id = $1 ORDER BY created_at`

	return r.queryApprovals(ctx, query, executionID)
}

func (r *ApprovalRepository) ListExpired(ctx context.Context, now time.Time) ([]*models.ApprovalRequest, error) {
	query := `SELECT ` + approvalColumns + ` FROM approval_requests WHERE status = $1 AND expires_at < $2`

	return r.queryApprovals(ctx, query, models.ApprovalStatusPending, now)
}

func (r *ApprovalRepository) Update(ctx context.Context, approval *models.ApprovalRequest, expected models.ApprovalStatus) error {
	contextJSON, err := marshalContext(approval)
	if err != nil {
		return err
	}

	query := `
		UPDATE approval_requests SET
			context = $1, status = $2, resolved_by = $3, response_note = $4,
			responded_at = $5, updated_at = $6
		WHERE id = $7 AND status = $8
	`

	result, err := r.db.ExecContext(ctx, query,
		contextJSON, approval.Status, nullable(approval.ResolvedBy),
		nullable(approval.ResponseNote), approval.RespondedAt, approval.UpdatedAt,
		approval.ID, expected,
	)
	if err != nil {
		return &persistence.ApprovalError{Op: "Update", ApprovalID: approval.ID, Err: err}
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return &persistence.ApprovalError{Op: "Update", ApprovalID: approval.ID, Err: err}
	}

	if affected == 0 {
		_, err := r.GetByID(ctx, approval.ID)
		if err != nil {
			return err
		}

		return &persistence.ApprovalError{Op: "Update", ApprovalID: approval.ID, Err: persistence.ErrStatusConflict}
	}

	return nil
}

func (r *ApprovalRepository) queryApprovals(ctx context.Context, query string, args ...any) ([]*models.ApprovalRequest, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query approvals: %w", err)
	}
	defer func() { _ = rows.Close() }()

	approvals := make([]*models.ApprovalRequest, 0)

	for rows.Next() {
		approval, err := r.scanApproval(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan approval row: %w", err)
		}

		approvals = append(approvals, approval)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate approvals: %w", err)
	}

	return approvals, nil
}

func (r *ApprovalRepository) scanApproval(row rowScanner) (*models.ApprovalRequest, error) {
	var (
		approval     models.ApprovalRequest
		contextJSON  []byte
		requestedBy  sql.NullString
		resolvedBy   sql.NullString
		responseNote sql.NullString
	)

	err := row.Scan(
		&approval.ID, &approval.ExecutionID, &approval.StepID, &approval.Title,
		&approval.Description, &contextJSON, &approval.Status, &approval.Token,
		&requestedBy, &resolvedBy, &responseNote, &approval.ExpiresAt,
		&approval.RespondedAt, &approval.CreatedAt, &approval.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	approval.RequestedBy = requestedBy.String
	approval.ResolvedBy = resolvedBy.String
	approval.ResponseNote = responseNote.String

	if contextJSON != nil {
		if err := json.Unmarshal(contextJSON, &approval.Context); err != nil {
			return nil, fmt.Errorf("failed to unmarshal approval context: %w", err)
		}
	}

	return &approval, nil
}

func marshalContext(approval *models.ApprovalRequest) ([]byte, error) {
	if approval.Context == nil {
		return nil, nil
	}

	contextJSON, err := json.Marshal(approval.Context)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal approval context: %w", err)
	}

	return contextJSON, nil
}
