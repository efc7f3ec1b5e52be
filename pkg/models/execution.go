package models

import "time"

// ExecutionStatus represents the lifecycle state of a workflow execution.
type ExecutionStatus string

const (
	ExecutionStatusPending   ExecutionStatus = "pending"   // Created, engine not yet accepted
	ExecutionStatusRunning   ExecutionStatus = "running"   // Engine accepted and executing
	ExecutionStatusPaused    ExecutionStatus = "paused"    // Suspended, resumable
	ExecutionStatusCompleted ExecutionStatus = "completed" // Terminal: finished successfully
	ExecutionStatusFailed    ExecutionStatus = "failed"    // Terminal: finished with error
	ExecutionStatusCancelled ExecutionStatus = "cancelled" // Terminal: cancelled on request
)

// Terminal reports whether no further transition is legal from this status.
func (s ExecutionStatus) Terminal() bool {
	switch s {
	case ExecutionStatusCompleted, ExecutionStatusFailed, ExecutionStatusCancelled:
		return true
	default:
		return false
	}
}

// RunHandle is the opaque identifier pair the external durable-execution
// engine assigns to an accepted run. It is globally unique and immutable
// once set on an execution.
type RunHandle struct {
	WorkflowID string `json:"workflow_id"`
	RunID      string `json:"run_id"`
}

// Empty reports whether the handle has not been assigned yet.
func (h RunHandle) Empty() bool {
	return h.WorkflowID == "" && h.RunID == ""
}

// WorkflowExecution is one durable-engine run of a workflow definition.
// The execution owns its steps, approval requests and logs; they share its
// lifecycle and are deleted with it.
type WorkflowExecution struct {
	ID           string          `json:"id"`
	WorkflowID   string          `json:"workflow_id" validate:"required"`
	EngineHandle RunHandle       `json:"engine_handle"`
	Status       ExecutionStatus `json:"status"`
	Input        map[string]any  `json:"input"`
	Output       map[string]any  `json:"output,omitempty"`
	ErrorMessage string          `json:"error_message,omitempty"`

	// LastEngineSeq is the highest engine event sequence applied to this
	// execution. Events at or below it are duplicates and are dropped.
	LastEngineSeq int64 `json:"last_engine_seq"`

	CreatedBy   string     `json:"created_by"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}
