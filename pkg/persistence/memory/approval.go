package memory

import (
	"context"
	"sort"
	"time"

	"github.com/patchwell/overseer/pkg/models"
	"github.com/patchwell/overseer/pkg/persistence"
)

// ApprovalRepository handles approval request storage in memory.
type ApprovalRepository struct {
	store *store
}

func (r *ApprovalRepository) Create(_ context.Context, approval *models.ApprovalRequest) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	clone := *approval
	r.store.approvals[approval.ID] = &clone
	r.store.byToken[approval.Token] = approval.ID

	return nil
}

func (r *ApprovalRepository) GetByID(_ context.Context, id string) (*models.ApprovalRequest, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	approval, ok := r.store.approvals[id]
	if !ok {
		return nil, &persistence.ApprovalError{Op: "GetByID", ApprovalID: id, Err: persistence.ErrApprovalNotFound}
	}

	clone := *approval

	return &clone, nil
}

func (r *ApprovalRepository) GetByToken(_ context.Context, token string) (*models.ApprovalRequest, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	id, ok := r.store.byToken[token]
	if !ok {
		return nil, persistence.ErrApprovalNotFound
	}

	clone := *r.store.approvals[id]

	return &clone, nil
}

func (r *ApprovalRepository) ListByExecution(_ context.Context, executionID string) ([]*models.ApprovalRequest, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	approvals := make([]*models.ApprovalRequest, 0)

	for _, approval := range r.store.approvals {
		if approval.ExecutionID != executionID {
			continue
		}

		clone := *approval
		approvals = append(approvals, &clone)
	}

	sort.Slice(approvals, func(i, j int) bool {
		return approvals[i].CreatedAt.Before(approvals[j].CreatedAt)
	})

	return approvals, nil
}

func (r *ApprovalRepository) ListExpired(_ context.Context, now time.Time) ([]*models.ApprovalRequest, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	expired := make([]*models.ApprovalRequest, 0)

	for _, approval := range r.store.approvals {
		if approval.Status != models.ApprovalStatusPending {
			continue
		}

		if !approval.ExpiredAt(now) {
			continue
		}

		clone := *approval
		expired = append(expired, &clone)
	}

	return expired, nil
}

func (r *ApprovalRepository) Update(_ context.Context, approval *models.ApprovalRequest, expected models.ApprovalStatus) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	current, ok := r.store.approvals[approval.ID]
	if !ok {
		return &persistence.ApprovalError{Op: "Update", ApprovalID: approval.ID, Err: persistence.ErrApprovalNotFound}
	}

	if current.Status != expected {
		return &persistence.ApprovalError{Op: "Update", ApprovalID: approval.ID, Err: persistence.ErrStatusConflict}
	}

	clone := *approval
	r.store.approvals[approval.ID] = &clone

	return nil
}
