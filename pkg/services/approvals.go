package services

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/patchwell/overseer/pkg/events"
	"github.com/patchwell/overseer/pkg/lifecycle"
	"github.com/patchwell/overseer/pkg/models"
	"github.com/patchwell/overseer/pkg/persistence"
)

const defaultApprovalTTL = 72 * time.Hour

// Approvals manages human decision gates. Each request carries a
// single-use token; the first resolution wins and every later attempt is
// rejected, including the race where two resolvers hold the same token.
type Approvals struct {
	persistence persistence.Persistence
	history     *History
	notifier    *notifier
	locks       *executionLocks
	logger      *slog.Logger
	now         func() time.Time
	ttl         time.Duration
}

// NewApprovals creates the approval service with the default request TTL.
func NewApprovals(p persistence.Persistence, history *History, n *notifier, locks *executionLocks, logger *slog.Logger) *Approvals {
	return &Approvals{
		persistence: p,
		history:     history,
		notifier:    n,
		locks:       locks,
		logger:      logger.With("module", "approvals"),
		now:         time.Now,
		ttl:         defaultApprovalTTL,
	}
}

// newToken returns an unguessable single-use resolution token.
func newToken() (string, error) {
	raw := make([]byte, 32)

	_, err := rand.Read(raw)
	if err != nil {
		return "", fmt.Errorf("failed to generate approval token: %w", err)
	}

	return base64.RawURLEncoding.EncodeToString(raw), nil
}

// RequestApprovalRequest contains the fields for a new approval gate.
type RequestApprovalRequest struct {
	ExecutionID string `validate:"required"`
	StepID      string `validate:"required"`
	Title       string `validate:"required"`
	Description string
	Context     map[string]any
	RequestedBy string
	ExpiresIn   time.Duration
}

// Request opens a pending approval gate on an active execution.
func (a *Approvals) Request(ctx context.Context, req RequestApprovalRequest) (*models.ApprovalRequest, error) {
	unlock := a.locks.acquire(req.ExecutionID)
	defer unlock()

	execution, err := a.persistence.Executions().GetByID(ctx, req.ExecutionID)
	if err != nil {
		return nil, err
	}

	if execution.Status.Terminal() {
		return nil, fmt.Errorf("%w: execution %s is %s", ErrExecutionNotActive, execution.ID, execution.Status)
	}

	token, err := newToken()
	if err != nil {
		return nil, err
	}

	ttl := req.ExpiresIn
	if ttl <= 0 {
		ttl = a.ttl
	}

	now := a.now().UTC()
	approval := &models.ApprovalRequest{
		ID:          uuid.New().String(),
		ExecutionID: req.ExecutionID,
		StepID:      req.StepID,
		Title:       req.Title,
		Description: req.Description,
		Context:     req.Context,
		Status:      models.ApprovalStatusPending,
		Token:       token,
		RequestedBy: req.RequestedBy,
		ExpiresAt:   now.Add(ttl),
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	err = a.persistence.Approvals().Create(ctx, approval)
	if err != nil {
		return nil, fmt.Errorf("failed to create approval request: %w", err)
	}

	err = a.history.Record(ctx, approval.ExecutionID, approval.StepID, models.LogLevelInfo,
		"Approval requested", map[string]any{
			"approval_id": approval.ID,
			"title":       approval.Title,
			"expires_at":  approval.ExpiresAt.Format(time.RFC3339),
		})
	if err != nil {
		return nil, err
	}

	a.notifier.notify(ctx, events.ExecutionEvent{
		Type:        events.ApprovalRequested,
		ExecutionID: approval.ExecutionID,
		StepID:      approval.StepID,
		Status:      string(approval.Status),
		Metadata:    map[string]any{"approval_id": approval.ID},
	})

	return approval, nil
}

// ResolveApprovalRequest resolves a pending gate by token.
type ResolveApprovalRequest struct {
	Token        string                  `validate:"required"`
	Decision     models.ApprovalDecision `validate:"required"`
	ResolvedBy   string
	ResponseNote string
}

// Resolve applies a decision to the request identified by token. A request
// whose deadline has passed is marked expired on this read path and the
// caller gets ErrApprovalExpired; an already resolved request gets
// ErrApprovalAlreadyResolved regardless of which decision won.
func (a *Approvals) Resolve(ctx context.Context, req ResolveApprovalRequest) (*models.ApprovalRequest, error) {
	to, err := decisionStatus(req.Decision)
	if err != nil {
		return nil, err
	}

	approval, err := a.persistence.Approvals().GetByToken(ctx, req.Token)
	if err != nil {
		return nil, err
	}

	unlock := a.locks.acquire(approval.ExecutionID)
	defer unlock()

	// Re-read under the lock; another resolver may have won in between.
	approval, err = a.persistence.Approvals().GetByToken(ctx, req.Token)
	if err != nil {
		return nil, err
	}

	if approval.Status.Terminal() {
		return nil, fmt.Errorf("%w: approval %s is %s", ErrApprovalAlreadyResolved, approval.ID, approval.Status)
	}

	now := a.now().UTC()
	if approval.ExpiredAt(now) {
		err = a.expireLocked(ctx, approval)
		if err != nil {
			return nil, err
		}

		return nil, fmt.Errorf("%w: approval %s expired at %s",
			ErrApprovalExpired, approval.ID, approval.ExpiresAt.Format(time.RFC3339))
	}

	err = lifecycle.ValidateApproval(approval.Status, to)
	if err != nil {
		return nil, err
	}

	approval.Status = to
	approval.ResolvedBy = req.ResolvedBy
	approval.ResponseNote = req.ResponseNote
	approval.RespondedAt = &now
	approval.UpdatedAt = now

	err = a.persistence.Approvals().Update(ctx, approval, models.ApprovalStatusPending)
	if err != nil {
		if persistence.IsStatusConflict(err) {
			return nil, fmt.Errorf("%w: approval %s", ErrApprovalAlreadyResolved, approval.ID)
		}

		return nil, fmt.Errorf("failed to resolve approval: %w", err)
	}

	err = a.history.Record(ctx, approval.ExecutionID, approval.StepID, models.LogLevelInfo,
		fmt.Sprintf("Approval %s", to), map[string]any{
			"approval_id": approval.ID,
			"resolved_by": approval.ResolvedBy,
		})
	if err != nil {
		return nil, err
	}

	a.notifier.notify(ctx, events.ExecutionEvent{
		Type:        events.ApprovalResolved,
		ExecutionID: approval.ExecutionID,
		StepID:      approval.StepID,
		Status:      string(approval.Status),
		Metadata:    map[string]any{"approval_id": approval.ID, "resolved_by": approval.ResolvedBy},
	})

	return approval, nil
}

// Get retrieves one approval request by id.
func (a *Approvals) Get(ctx context.Context, id string) (*models.ApprovalRequest, error) {
	return a.persistence.Approvals().GetByID(ctx, id)
}

// GetByToken retrieves one approval request by its resolution token.
func (a *Approvals) GetByToken(ctx context.Context, token string) (*models.ApprovalRequest, error) {
	return a.persistence.Approvals().GetByToken(ctx, token)
}

// List returns an execution's approval requests.
func (a *Approvals) List(ctx context.Context, executionID string) ([]*models.ApprovalRequest, error) {
	return a.persistence.Approvals().ListByExecution(ctx, executionID)
}

// ExpireDue marks every pending request whose deadline has passed. It is
// called by the background sweeper; the read path in Resolve performs the
// same marking lazily, so either side may win and both tolerate losing.
func (a *Approvals) ExpireDue(ctx context.Context) (int, error) {
	due, err := a.persistence.Approvals().ListExpired(ctx, a.now().UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to list expired approvals: %w", err)
	}

	expired := 0

	for _, approval := range due {
		err := a.expireOne(ctx, approval.ID, approval.ExecutionID)
		if err != nil {
			a.logger.ErrorContext(ctx, "Failed to expire approval",
				"approval_id", approval.ID, "error", err)

			continue
		}

		expired++
	}

	return expired, nil
}

func (a *Approvals) expireOne(ctx context.Context, approvalID, executionID string) error {
	unlock := a.locks.acquire(executionID)
	defer unlock()

	approval, err := a.persistence.Approvals().GetByID(ctx, approvalID)
	if err != nil {
		return err
	}

	if approval.Status.Terminal() {
		return nil
	}

	return a.expireLocked(ctx, approval)
}

// expireLocked marks the pending request expired. The caller holds the
// execution lock.
func (a *Approvals) expireLocked(ctx context.Context, approval *models.ApprovalRequest) error {
	now := a.now().UTC()
	approval.Status = models.ApprovalStatusExpired
	approval.RespondedAt = &now
	approval.UpdatedAt = now

	err := a.persistence.Approvals().Update(ctx, approval, models.ApprovalStatusPending)
	if err != nil {
		if persistence.IsStatusConflict(err) {
			return nil
		}

		return fmt.Errorf("failed to expire approval: %w", err)
	}

	err = a.history.Record(ctx, approval.ExecutionID, approval.StepID, models.LogLevelWarn,
		"Approval expired", map[string]any{"approval_id": approval.ID})
	if err != nil {
		return err
	}

	a.notifier.notify(ctx, events.ExecutionEvent{
		Type:        events.ApprovalExpired,
		ExecutionID: approval.ExecutionID,
		StepID:      approval.StepID,
		Status:      string(models.ApprovalStatusExpired),
		Metadata:    map[string]any{"approval_id": approval.ID},
	})

	return nil
}

func decisionStatus(decision models.ApprovalDecision) (models.ApprovalStatus, error) {
	switch decision {
	case models.DecisionApproved:
		return models.ApprovalStatusApproved, nil
	case models.DecisionRejected:
		return models.ApprovalStatusRejected, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidDecision, decision)
	}
}
