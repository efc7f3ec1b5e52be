// Package services implements the coordination layer: execution lifecycle,
// step tracking, approval gates and the append-only history, serialized per
// execution.
package services

import (
	"errors"
	"fmt"

	"github.com/patchwell/overseer/pkg/lifecycle"
	"github.com/patchwell/overseer/pkg/persistence"
)

// Errors re-exported from lower layers so handlers depend on one package.
var (
	ErrInvalidTransition  = lifecycle.ErrInvalidTransition
	ErrExecutionNotFound  = persistence.ErrExecutionNotFound
	ErrDefinitionNotFound = persistence.ErrDefinitionNotFound
	ErrStepNotFound       = persistence.ErrStepNotFound
	ErrApprovalNotFound   = persistence.ErrApprovalNotFound
	ErrDuplicateStep      = persistence.ErrDuplicateStep
	ErrDuplicateRun       = persistence.ErrDuplicateRun
)

// Business Logic Errors - These indicate client errors (4xx responses).
var (
	// Validation Errors (400 Bad Request).
	ErrInvalidRequest  = errors.New("invalid request")
	ErrInvalidDecision = errors.New("invalid approval decision")
	ErrInvalidConfig   = errors.New("invalid workflow configuration")

	// Business Logic Conflicts (409 Conflict).
	ErrExecutionNotActive      = errors.New("execution is not active")
	ErrDefinitionNotExecutable = errors.New("workflow definition is not executable")
	ErrApprovalAlreadyResolved = errors.New("approval request already resolved")

	// Gone (410).
	ErrApprovalExpired = errors.New("approval request expired")
)

// ServiceError wraps service-level errors with additional context.
type ServiceError struct {
	Op      string // Operation name
	Code    string // Error code for API responses
	Message string // Human-readable message
	Err     error  // Underlying error
}

func (e *ServiceError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	}

	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *ServiceError) Unwrap() error {
	return e.Err
}

func (e *ServiceError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// NewValidationError creates a new validation error with context.
func NewValidationError(op, code, message string, err error) *ServiceError {
	return &ServiceError{
		Op:      op,
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// IsValidationError checks if an error is a validation error that should return HTTP 400.
func IsValidationError(err error) bool {
	return errors.Is(err, ErrInvalidRequest) ||
		errors.Is(err, ErrInvalidDecision) ||
		errors.Is(err, ErrInvalidConfig)
}

// IsConflictError checks if an error is a business logic conflict that should return HTTP 409.
func IsConflictError(err error) bool {
	return errors.Is(err, ErrExecutionNotActive) ||
		errors.Is(err, ErrDefinitionNotExecutable) ||
		errors.Is(err, ErrApprovalAlreadyResolved) ||
		errors.Is(err, lifecycle.ErrInvalidTransition) ||
		errors.Is(err, persistence.ErrStatusConflict) ||
		errors.Is(err, persistence.ErrDuplicateStep) ||
		errors.Is(err, persistence.ErrDuplicateRun) ||
		errors.Is(err, persistence.ErrDuplicateDefinition)
}

// IsNotFoundError checks if an error should return HTTP 404.
func IsNotFoundError(err error) bool {
	return persistence.IsNotFound(err)
}

// IsGoneError checks if an error should return HTTP 410.
func IsGoneError(err error) bool {
	return errors.Is(err, ErrApprovalExpired)
}
