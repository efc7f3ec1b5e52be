package memory

import (
	"context"

	"github.com/patchwell/overseer/pkg/models"
	"github.com/patchwell/overseer/pkg/persistence"
)

// DefinitionRepository handles workflow definition storage in memory.
type DefinitionRepository struct {
	store *store
}

func (r *DefinitionRepository) Create(_ context.Context, def *models.WorkflowDefinition) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	for _, existing := range r.store.definitions {
		if existing.Name == def.Name && existing.Version == def.Version {
			return persistence.ErrDuplicateDefinition
		}
	}

	clone := *def
	r.store.definitions[def.ID] = &clone

	return nil
}

func (r *DefinitionRepository) GetByID(_ context.Context, id string) (*models.WorkflowDefinition, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	def, ok := r.store.definitions[id]
	if !ok {
		return nil, persistence.ErrDefinitionNotFound
	}

	clone := *def

	return &clone, nil
}

func (r *DefinitionRepository) List(_ context.Context) ([]*models.WorkflowDefinition, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	defs := make([]*models.WorkflowDefinition, 0, len(r.store.definitions))
	for _, def := range r.store.definitions {
		clone := *def
		defs = append(defs, &clone)
	}

	return defs, nil
}

func (r *DefinitionRepository) UpdateStatus(_ context.Context, id string, status models.DefinitionStatus) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	def, ok := r.store.definitions[id]
	if !ok {
		return persistence.ErrDefinitionNotFound
	}

	def.Status = status

	return nil
}
