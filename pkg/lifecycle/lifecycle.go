// Package lifecycle encodes the legal state transitions for executions,
// steps and approval requests. It is pure: no I/O, no clock, no locking.
// Callers that hold authoritative records consult it before every mutation,
// making the transition tables the single arbiter of ordering conflicts.
package lifecycle

import (
	"errors"
	"fmt"

	"github.com/patchwell/overseer/pkg/models"
)

// ErrInvalidTransition indicates an illegal state change was attempted.
var ErrInvalidTransition = errors.New("invalid state transition")

// TransitionError carries the entity kind and the rejected status pair.
type TransitionError struct {
	Entity string
	From   string
	To     string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("%s transition %s -> %s is not allowed", e.Entity, e.From, e.To)
}

func (e *TransitionError) Unwrap() error {
	return ErrInvalidTransition
}

func newTransitionError(entity, from, to string) *TransitionError {
	return &TransitionError{Entity: entity, From: from, To: to}
}

var executionTransitions = map[models.ExecutionStatus][]models.ExecutionStatus{
	models.ExecutionStatusPending: {
		models.ExecutionStatusRunning,
		models.ExecutionStatusCancelled,
	},
	models.ExecutionStatusRunning: {
		models.ExecutionStatusPaused,
		models.ExecutionStatusCompleted,
		models.ExecutionStatusFailed,
		models.ExecutionStatusCancelled,
	},
	models.ExecutionStatusPaused: {
		models.ExecutionStatusRunning,
		models.ExecutionStatusCancelled,
	},
}

var stepTransitions = map[models.StepStatus][]models.StepStatus{
	models.StepStatusPending: {
		models.StepStatusRunning,
		models.StepStatusSkipped,
	},
	models.StepStatusRunning: {
		models.StepStatusCompleted,
		models.StepStatusFailed,
		models.StepStatusSkipped,
	},
}

var approvalTransitions = map[models.ApprovalStatus][]models.ApprovalStatus{
	models.ApprovalStatusPending: {
		models.ApprovalStatusApproved,
		models.ApprovalStatusRejected,
		models.ApprovalStatusExpired,
	},
}

// ValidateExecution checks one execution status transition.
func ValidateExecution(from, to models.ExecutionStatus) error {
	for _, allowed := range executionTransitions[from] {
		if allowed == to {
			return nil
		}
	}

	return newTransitionError("execution", string(from), string(to))
}

// ValidateStep checks one step status transition.
func ValidateStep(from, to models.StepStatus) error {
	for _, allowed := range stepTransitions[from] {
		if allowed == to {
			return nil
		}
	}

	return newTransitionError("step", string(from), string(to))
}

// ValidateApproval checks one approval status transition. Terminal statuses
// are final; re-entry into pending is never permitted.
func ValidateApproval(from, to models.ApprovalStatus) error {
	for _, allowed := range approvalTransitions[from] {
		if allowed == to {
			return nil
		}
	}

	return newTransitionError("approval", string(from), string(to))
}

// IsInvalidTransition checks if an error indicates a rejected transition.
func IsInvalidTransition(err error) bool {
	return errors.Is(err, ErrInvalidTransition)
}
