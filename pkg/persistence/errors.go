// Package persistence provides standardized error types for storage operations.
package persistence

import (
	"errors"
	"fmt"
)

// Standard persistence error types that all implementations should use.
var (
	// ErrDefinitionNotFound indicates a workflow definition was not found.
	ErrDefinitionNotFound = errors.New("workflow definition not found")

	// ErrExecutionNotFound indicates an execution was not found by the given identifier.
	ErrExecutionNotFound = errors.New("execution not found")

	// ErrStepNotFound indicates a step was not found within the execution.
	ErrStepNotFound = errors.New("step not found")

	// ErrApprovalNotFound indicates no approval request exists for the given id or token.
	ErrApprovalNotFound = errors.New("approval request not found")

	// ErrDuplicateDefinition indicates a definition with the same (name, version) already exists.
	ErrDuplicateDefinition = errors.New("definition name and version already exist")

	// ErrDuplicateStep indicates the step id is already registered for the execution.
	ErrDuplicateStep = errors.New("step id already registered for execution")

	// ErrDuplicateRun indicates the engine run identifier is already bound to another execution.
	ErrDuplicateRun = errors.New("engine run identifier already in use")

	// ErrStatusConflict indicates a compare-and-set update lost the race:
	// the stored status no longer matches the expected one.
	ErrStatusConflict = errors.New("status changed concurrently")
)

// ExecutionError wraps execution-related errors with additional context.
type ExecutionError struct {
	Op          string // Operation being performed (e.g., "GetByID", "Update")
	ExecutionID string // Execution ID if applicable
	Err         error  // Underlying error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("%s operation failed for execution %s: %v", e.Op, e.ExecutionID, e.Err)
}

func (e *ExecutionError) Unwrap() error {
	return e.Err
}

// Is implements error comparison for execution errors.
func (e *ExecutionError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// NewExecutionError creates a new execution error with context.
func NewExecutionError(op, executionID string, err error) *ExecutionError {
	return &ExecutionError{
		Op:          op,
		ExecutionID: executionID,
		Err:         err,
	}
}

// StepError wraps step-related errors with additional context.
type StepError struct {
	Op          string
	ExecutionID string
	StepID      string
	Err         error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("%s operation failed for step %s in execution %s: %v", e.Op, e.StepID, e.ExecutionID, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}

func (e *StepError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// ApprovalError wraps approval-related errors with additional context.
type ApprovalError struct {
	Op         string
	ApprovalID string
	Err        error
}

func (e *ApprovalError) Error() string {
	return fmt.Sprintf("%s operation failed for approval %s: %v", e.Op, e.ApprovalID, e.Err)
}

func (e *ApprovalError) Unwrap() error {
	return e.Err
}

func (e *ApprovalError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// IsNotFound checks if an error indicates any entity was not found.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrDefinitionNotFound) ||
		errors.Is(err, ErrExecutionNotFound) ||
		errors.Is(err, ErrStepNotFound) ||
		errors.Is(err, ErrApprovalNotFound)
}

// IsExecutionNotFound checks if an error indicates an execution was not found.
func IsExecutionNotFound(err error) bool {
	return errors.Is(err, ErrExecutionNotFound)
}

// IsDuplicateStep checks if an error indicates a step id collision.
func IsDuplicateStep(err error) bool {
	return errors.Is(err, ErrDuplicateStep)
}

// IsStatusConflict checks if an error indicates a lost compare-and-set race.
func IsStatusConflict(err error) bool {
	return errors.Is(err, ErrStatusConflict)
}
