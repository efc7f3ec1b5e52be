package models

import "time"

// StepStatus represents the lifecycle state of a single step execution.
type StepStatus string

const (
	StepStatusPending   StepStatus = "pending"
	StepStatusRunning   StepStatus = "running"
	StepStatusCompleted StepStatus = "completed"
	StepStatusFailed    StepStatus = "failed"
	StepStatusSkipped   StepStatus = "skipped"
)

// Terminal reports whether no further transition is legal from this status.
func (s StepStatus) Terminal() bool {
	switch s {
	case StepStatusCompleted, StepStatusFailed, StepStatusSkipped:
		return true
	default:
		return false
	}
}

// StepExecution is one unit of work within an execution. StepID is the
// definition-level step identifier and is unique within its execution.
// Type-specific behavior lives in the external engine; this record treats
// the step type as an opaque tag.
type StepExecution struct {
	ID           string         `json:"id"`
	ExecutionID  string         `json:"execution_id" validate:"required"`
	StepID       string         `json:"step_id"      validate:"required"`
	StepName     string         `json:"step_name"`
	StepType     string         `json:"step_type"    validate:"required"`
	Status       StepStatus     `json:"status"`
	Input        map[string]any `json:"input,omitempty"`
	Output       map[string]any `json:"output,omitempty"`
	ErrorMessage string         `json:"error_message,omitempty"`
	Cost         map[string]any `json:"cost,omitempty"`
	StartedAt    *time.Time     `json:"started_at,omitempty"`
	CompletedAt  *time.Time     `json:"completed_at,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

// StepProgress is the aggregate step view of one execution.
type StepProgress struct {
	ExecutionID string             `json:"execution_id"`
	Total       int                `json:"total"`
	ByStatus    map[StepStatus]int `json:"by_status"`
}

// Done reports whether every registered step reached a terminal status.
func (p StepProgress) Done() bool {
	if p.Total == 0 {
		return false
	}

	done := p.ByStatus[StepStatusCompleted] + p.ByStatus[StepStatusFailed] + p.ByStatus[StepStatusSkipped]

	return done == p.Total
}
