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

// DefinitionRepository handles workflow definition database operations.
type DefinitionRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewDefinitionRepository creates a new definition repository.
func NewDefinitionRepository(db *sql.DB, logger *slog.Logger) *DefinitionRepository {
	return &DefinitionRepository{db: db, logger: logger}
}

func (r *DefinitionRepository) Create(ctx context.Context, def *models.WorkflowDefinition) error {
	configJSON, err := json.Marshal(def.Config)
	if err != nil {
		return fmt.Errorf("failed to marshal definition config: %w", err)
	}

	tagsJSON, err := json.Marshal(def.Tags)
	if err != nil {
		return fmt.Errorf("failed to marshal definition tags: %w", err)
	}

	query := `
		INSERT INTO workflow_definitions (
			id, name, description, version, config, status, tags,
			created_by, created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`

	_, err = r.db.ExecContext(ctx, query,
		def.ID, def.Name, def.Description, def.Version, configJSON,
		def.Status, tagsJSON, def.CreatedBy, def.CreatedAt, def.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err, "uq_definition_name_version") {
			return persistence.ErrDuplicateDefinition
		}

		return fmt.Errorf("failed to create definition: %w", err)
	}

	return nil
}

func (r *DefinitionRepository) GetByID(ctx context.Context, id string) (*models.WorkflowDefinition, error) {
	query := `
		SELECT id, name, description, version, config, status, tags,
			   created_by, created_at, updated_at
		FROM workflow_definitions
		WHERE id = $1
	`

	def, err := r.scanDefinition(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.ErrDefinitionNotFound
		}

		return nil, fmt.Errorf("failed to scan definition: %w", err)
	}

	return def, nil
}

func (r *DefinitionRepository) List(ctx context.Context) ([]*models.WorkflowDefinition, error) {
	query := `
		SELECT id, name, description, version, config, status, tags,
			   created_by, created_at, updated_at
		FROM workflow_definitions
		ORDER BY name, version DESC
	`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list definitions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	defs := make([]*models.WorkflowDefinition, 0)

	for rows.Next() {
		def, err := r.scanDefinition(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan definition row: %w", err)
		}

		defs = append(defs, def)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate definitions: %w", err)
	}

	return defs, nil
}

func (r *DefinitionRepository) UpdateStatus(ctx context.Context, id string, status models.DefinitionStatus) error {
	result, err := r.db.ExecContext(ctx,
		"UPDATE workflow_definitions SET status = $1, updated_at = NOW() WHERE id = $2",
		status, id,
	)
	if err != nil {
		return fmt.Errorf("failed to update definition status: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check update result: %w", err)
	}

	if affected == 0 {
		return persistence.ErrDefinitionNotFound
	}

	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (r *DefinitionRepository) scanDefinition(row rowScanner) (*models.WorkflowDefinition, error) {
	var (
		def        models.WorkflowDefinition
		configJSON []byte
		tagsJSON   []byte
		createdBy  sql.NullString
	)

	err := row.Scan(
		&def.ID, &def.Name, &def.Description, &def.Version, &configJSON,
		&def.Status, &tagsJSON, &createdBy, &def.CreatedAt, &def.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(configJSON, &def.Config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal definition config: %w", err)
	}

	if err := json.Unmarshal(tagsJSON, &def.Tags); err != nil {
		return nil, fmt.Errorf("failed to unmarshal definition tags: %w", err)
	}

	def.CreatedBy = createdBy.String

	return &def, nil
}
