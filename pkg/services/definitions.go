package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/patchwell/overseer/pkg/models"
	"github.com/patchwell/overseer/pkg/persistence"
	"github.com/xeipuuv/gojsonschema"
)

// definitionConfigSchema constrains definition configs to the shape the
// engine proxy understands: a list of typed steps plus free-form engine
// options.
const definitionConfigSchema = `{
	"type": "object",
	"properties": {
		"steps": {
			"type": "array",
			"minItems": 1,
			"items": {
				"type": "object",
				"properties": {
					"id":   {"type": "string", "minLength": 1},
					"name": {"type": "string"},
					"type": {"type": "string", "minLength": 1}
				},
				"required": ["id", "type"]
			}
		},
		"engine_options": {"type": "object"}
	},
	"required": ["steps"]
}`

// Definitions manages workflow definitions. Definitions are versioned and
// immutable once created; only their status moves.
type Definitions struct {
	persistence persistence.Persistence
	validator   *validator.Validate
	schema      *gojsonschema.Schema
}

// NewDefinitions creates the definition service. It panics if the embedded
// config schema does not compile, which is a build defect rather than a
// runtime condition.
func NewDefinitions(persistence persistence.Persistence) *Definitions {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(definitionConfigSchema))
	if err != nil {
		panic("definition config schema does not compile: " + err.Error())
	}

	return &Definitions{
		persistence: persistence,
		validator:   validator.New(),
		schema:      schema,
	}
}

// CreateDefinitionRequest contains the fields for a new definition version.
type CreateDefinitionRequest struct {
	Name        string         `validate:"required,min=3"`
	Description string
	Version     int `validate:"min=1"`
	Config      map[string]any
	Tags        []string
	CreatedBy   string
}

// Create validates and persists a new definition in draft status.
func (d *Definitions) Create(ctx context.Context, req CreateDefinitionRequest) (*models.WorkflowDefinition, error) {
	if req.Version == 0 {
		req.Version = 1
	}

	err := d.validator.Struct(req)
	if err != nil {
		return nil, NewValidationError("CreateDefinition", "INVALID_DEFINITION", err.Error(), ErrInvalidRequest)
	}

	err = d.validateConfig(req.Config)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	def := &models.WorkflowDefinition{
		ID:          uuid.New().String(),
		Name:        req.Name,
		Description: req.Description,
		Version:     req.Version,
		Config:      req.Config,
		Status:      models.DefinitionStatusDraft,
		Tags:        req.Tags,
		CreatedBy:   req.CreatedBy,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	err = d.persistence.Definitions().Create(ctx, def)
	if err != nil {
		return nil, fmt.Errorf("failed to create definition: %w", err)
	}

	return def, nil
}

// Get retrieves a definition by id.
func (d *Definitions) Get(ctx context.Context, id string) (*models.WorkflowDefinition, error) {
	return d.persistence.Definitions().GetByID(ctx, id)
}

// List returns all definitions.
func (d *Definitions) List(ctx context.Context) ([]*models.WorkflowDefinition, error) {
	return d.persistence.Definitions().List(ctx)
}

// SetStatus moves a definition between lifecycle states. Archived
// definitions are final.
func (d *Definitions) SetStatus(ctx context.Context, id string, status models.DefinitionStatus) (*models.WorkflowDefinition, error) {
	def, err := d.persistence.Definitions().GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if def.Status == models.DefinitionStatusArchived {
		return nil, NewValidationError("SetDefinitionStatus", "DEFINITION_ARCHIVED",
			"archived definitions cannot change status", ErrDefinitionNotExecutable)
	}

	err = d.persistence.Definitions().UpdateStatus(ctx, id, status)
	if err != nil {
		return nil, fmt.Errorf("failed to update definition status: %w", err)
	}

	def.Status = status
	def.UpdatedAt = time.Now().UTC()

	return def, nil
}

// validateConfig checks the config document against the embedded schema.
func (d *Definitions) validateConfig(config map[string]any) error {
	result, err := d.schema.Validate(gojsonschema.NewGoLoader(config))
	if err != nil {
		return NewValidationError("CreateDefinition", "INVALID_CONFIG", err.Error(), ErrInvalidConfig)
	}

	if !result.Valid() {
		details := make([]string, 0, len(result.Errors()))
		for _, resultError := range result.Errors() {
			details = append(details, resultError.String())
		}

		return NewValidationError("CreateDefinition", "INVALID_CONFIG",
			"config schema validation failed: "+strings.Join(details, "; "), ErrInvalidConfig)
	}

	return nil
}
