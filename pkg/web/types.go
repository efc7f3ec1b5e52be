// Package web provides HTTP request and response types for the execution API.
package web

import "github.com/patchwell/overseer/pkg/models"

// CreateDefinitionRequest represents the request body for creating a new
// workflow definition version.
type CreateDefinitionRequest struct {
	Name        string         `json:"name"        validate:"required,min=3"`
	Description string         `json:"description"`
	Version     int            `json:"version"     validate:"omitempty,min=1"`
	Config      map[string]any `json:"config"      validate:"required"`
	Tags        []string       `json:"tags,omitempty"`
	CreatedBy   string         `json:"created_by"`
}

// UpdateDefinitionStatusRequest moves a definition between lifecycle states.
type UpdateDefinitionStatusRequest struct {
	Status models.DefinitionStatus `json:"status" validate:"required,oneof=draft active inactive archived"`
}

// StartExecutionRequest represents the request body for starting an execution.
type StartExecutionRequest struct {
	WorkflowID string         `json:"workflow_id" validate:"required"`
	Input      map[string]any `json:"input"`
	CreatedBy  string         `json:"created_by"`
}

// CancelExecutionRequest carries the requester of a cancellation.
type CancelExecutionRequest struct {
	RequestedBy string `json:"requested_by"`
}

// RegisterStepRequest represents the request body for registering a step.
type RegisterStepRequest struct {
	StepID   string         `json:"step_id"   validate:"required"`
	StepName string         `json:"step_name"`
	StepType string         `json:"step_type" validate:"required"`
	Input    map[string]any `json:"input"`
}

// TransitionStepRequest represents the request body for a step transition.
type TransitionStepRequest struct {
	Status       models.StepStatus `json:"status" validate:"required,oneof=running completed failed skipped"`
	Output       map[string]any    `json:"output,omitempty"`
	ErrorMessage string            `json:"error_message,omitempty"`
	Cost         map[string]any    `json:"cost,omitempty"`
}

// RequestApprovalRequest represents the request body for opening an
// approval gate. TTLSeconds of zero falls back to the server default.
type RequestApprovalRequest struct {
	StepID      string         `json:"step_id"     validate:"required"`
	Title       string         `json:"title"       validate:"required"`
	Description string         `json:"description"`
	Context     map[string]any `json:"context,omitempty"`
	RequestedBy string         `json:"requested_by"`
	TTLSeconds  int            `json:"ttl_seconds" validate:"omitempty,min=1"`
}

// ResolveApprovalRequest represents the request body for resolving an
// approval gate by its token.
type ResolveApprovalRequest struct {
	Decision     models.ApprovalDecision `json:"decision" validate:"required,oneof=approved rejected"`
	ResolvedBy   string                  `json:"resolved_by"`
	ResponseNote string                  `json:"response_note"`
}
