// Package models defines the core domain records for workflow execution tracking.
package models

import "time"

// DefinitionStatus represents the lifecycle state of a workflow definition.
type DefinitionStatus string

const (
	DefinitionStatusDraft    DefinitionStatus = "draft"    // Editable, not executable
	DefinitionStatusActive   DefinitionStatus = "active"   // Executable
	DefinitionStatusInactive DefinitionStatus = "inactive" // Temporarily disabled
	DefinitionStatusArchived DefinitionStatus = "archived" // Historical, read-only
)

// WorkflowDefinition is an immutable versioned workflow blueprint. A
// (name, version) pair is unique; executions reference a definition but
// never own it.
type WorkflowDefinition struct {
	ID          string           `json:"id"`
	Name        string           `json:"name"        validate:"required,min=3"`
	Description string           `json:"description"`
	Version     int              `json:"version"     validate:"min=1"`
	Config      map[string]any   `json:"config"`
	Status      DefinitionStatus `json:"status"      validate:"required"`
	Tags        []string         `json:"tags,omitempty"`
	CreatedBy   string           `json:"created_by"`
	CreatedAt   time.Time        `json:"created_at"`
	UpdatedAt   time.Time        `json:"updated_at"`
}

// Executable reports whether executions may be started from this definition.
func (d *WorkflowDefinition) Executable() bool {
	return d.Status == DefinitionStatusActive
}
