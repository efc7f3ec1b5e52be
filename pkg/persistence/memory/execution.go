package memory

import (
	"context"
	"sort"

	"github.com/patchwell/overseer/pkg/models"
	"github.com/patchwell/overseer/pkg/persistence"
)

// ExecutionRepository handles execution storage in memory.
type ExecutionRepository struct {
	store *store
}

func (r *ExecutionRepository) Create(_ context.Context, execution *models.WorkflowExecution) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	if !execution.EngineHandle.Empty() {
		if _, exists := r.store.byEngineID[execution.EngineHandle.WorkflowID]; exists {
			return persistence.ErrDuplicateRun
		}

		r.store.byEngineID[execution.EngineHandle.WorkflowID] = execution.ID
	}

	clone := *execution
	r.store.executions[execution.ID] = &clone

	return nil
}

func (r *ExecutionRepository) GetByID(_ context.Context, id string) (*models.WorkflowExecution, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	execution, ok := r.store.executions[id]
	if !ok {
		return nil, persistence.NewExecutionError("GetByID", id, persistence.ErrExecutionNotFound)
	}

	clone := *execution

	return &clone, nil
}

func (r *ExecutionRepository) GetByEngineWorkflowID(_ context.Context, engineWorkflowID string) (*models.WorkflowExecution, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	id, ok := r.store.byEngineID[engineWorkflowID]
	if !ok {
		return nil, persistence.ErrExecutionNotFound
	}

	clone := *r.store.executions[id]

	return &clone, nil
}

func (r *ExecutionRepository) List(_ context.Context, opts persistence.ListExecutionsOptions) (*persistence.ExecutionListResult, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	if opts.Limit <= 0 || opts.Limit > 100 {
		opts.Limit = 20
	}

	matched := make([]*models.WorkflowExecution, 0, len(r.store.executions))

	for _, execution := range r.store.executions {
		if opts.WorkflowID != "" && execution.WorkflowID != opts.WorkflowID {
			continue
		}

		if opts.Status != nil && execution.Status != *opts.Status {
			continue
		}

		clone := *execution
		matched = append(matched, &clone)
	}

	sort.Slice(matched, func(i, j int) bool {
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	total := int64(len(matched))

	if opts.Offset >= len(matched) {
		matched = nil
	} else {
		matched = matched[opts.Offset:]
	}

	hasNext := len(matched) > opts.Limit
	if hasNext {
		matched = matched[:opts.Limit]
	}

	return &persistence.ExecutionListResult{
		Executions:  matched,
		TotalCount:  total,
		HasNextPage: hasNext,
	}, nil
}

// Update writes the record only if the stored status still matches
// expected. The engine handle index follows the record so that engine
// callbacks can resolve the execution after acceptance assigns the handle.
func (r *ExecutionRepository) Update(_ context.Context, execution *models.WorkflowExecution, expected models.ExecutionStatus) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	current, ok := r.store.executions[execution.ID]
	if !ok {
		return persistence.NewExecutionError("Update", execution.ID, persistence.ErrExecutionNotFound)
	}

	if current.Status != expected {
		return persistence.NewExecutionError("Update", execution.ID, persistence.ErrStatusConflict)
	}

	if !execution.EngineHandle.Empty() && current.EngineHandle.Empty() {
		if owner, exists := r.store.byEngineID[execution.EngineHandle.WorkflowID]; exists && owner != execution.ID {
			return persistence.NewExecutionError("Update", execution.ID, persistence.ErrDuplicateRun)
		}

		r.store.byEngineID[execution.EngineHandle.WorkflowID] = execution.ID
	}

	clone := *execution
	r.store.executions[execution.ID] = &clone

	return nil
}

// Delete removes the execution and cascades to its steps, approvals and logs.
func (r *ExecutionRepository) Delete(_ context.Context, id string) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	execution, ok := r.store.executions[id]
	if !ok {
		return persistence.NewExecutionError("Delete", id, persistence.ErrExecutionNotFound)
	}

	if !execution.EngineHandle.Empty() {
		delete(r.store.byEngineID, execution.EngineHandle.WorkflowID)
	}

	for approvalID, approval := range r.store.approvals {
		if approval.ExecutionID == id {
			delete(r.store.byToken, approval.Token)
			delete(r.store.approvals, approvalID)
		}
	}

	delete(r.store.steps, id)
	delete(r.store.logs, id)
	delete(r.store.logSeq, id)
	delete(r.store.executions, id)

	return nil
}
