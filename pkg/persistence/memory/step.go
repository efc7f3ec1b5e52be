package memory

import (
	"context"
	"sort"

	"github.com/patchwell/overseer/pkg/models"
	"github.com/patchwell/overseer/pkg/persistence"
)

// StepRepository handles step execution storage in memory.
type StepRepository struct {
	store *store
}

func (r *StepRepository) Create(_ context.Context, step *models.StepExecution) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	executionSteps, ok := r.store.steps[step.ExecutionID]
	if !ok {
		executionSteps = make(map[string]*models.StepExecution)
		r.store.steps[step.ExecutionID] = executionSteps
	}

	if _, exists := executionSteps[step.StepID]; exists {
		return &persistence.StepError{
			Op:          "Create",
			ExecutionID: step.ExecutionID,
			StepID:      step.StepID,
			Err:         persistence.ErrDuplicateStep,
		}
	}

	clone := *step
	executionSteps[step.StepID] = &clone

	return nil
}

func (r *StepRepository) GetByStepID(_ context.Context, executionID, stepID string) (*models.StepExecution, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	step, ok := r.store.steps[executionID][stepID]
	if !ok {
		return nil, &persistence.StepError{
			Op:          "GetByStepID",
			ExecutionID: executionID,
			StepID:      stepID,
			Err:         persistence.ErrStepNotFound,
		}
	}

	clone := *step

	return &clone, nil
}

func (r *StepRepository) ListByExecution(_ context.Context, executionID string) ([]*models.StepExecution, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	steps := make([]*models.StepExecution, 0, len(r.store.steps[executionID]))
	for _, step := range r.store.steps[executionID] {
		clone := *step
		steps = append(steps, &clone)
	}

	sort.Slice(steps, func(i, j int) bool {
		return steps[i].CreatedAt.Before(steps[j].CreatedAt)
	})

	return steps, nil
}

func (r *StepRepository) Update(_ context.Context, step *models.StepExecution, expected models.StepStatus) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	current, ok := r.store.steps[step.ExecutionID][step.StepID]
	if !ok {
		return &persistence.StepError{
			Op:          "Update",
			ExecutionID: step.ExecutionID,
			StepID:      step.StepID,
			Err:         persistence.ErrStepNotFound,
		}
	}

	if current.Status != expected {
		return &persistence.StepError{
			Op:          "Update",
			ExecutionID: step.ExecutionID,
			StepID:      step.StepID,
			Err:         persistence.ErrStatusConflict,
		}
	}

	clone := *step
	r.store.steps[step.ExecutionID][step.StepID] = &clone

	return nil
}

func (r *StepRepository) CountByStatus(_ context.Context, executionID string) (map[models.StepStatus]int, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	counts := make(map[models.StepStatus]int)
	for _, step := range r.store.steps[executionID] {
		counts[step.Status]++
	}

	return counts, nil
}
