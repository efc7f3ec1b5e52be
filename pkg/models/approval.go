package models

import "time"

// ApprovalStatus represents the lifecycle state of an approval request.
type ApprovalStatus string

const (
	ApprovalStatusPending  ApprovalStatus = "pending"
	ApprovalStatusApproved ApprovalStatus = "approved"
	ApprovalStatusRejected ApprovalStatus = "rejected"
	ApprovalStatusExpired  ApprovalStatus = "expired"
)

// Terminal reports whether the request has been resolved. Resolved requests
// are immutable; the first resolution wins.
func (s ApprovalStatus) Terminal() bool {
	return s != ApprovalStatusPending
}

// ApprovalDecision is a caller-supplied resolution for a pending request.
type ApprovalDecision string

const (
	DecisionApproved ApprovalDecision = "approved"
	DecisionRejected ApprovalDecision = "rejected"
)

// ApprovalRequest is a human decision gate tied to one execution step. The
// token is single-use, unguessable and unique; it is the only lookup key
// resolvers hold.
type ApprovalRequest struct {
	ID           string         `json:"id"`
	ExecutionID  string         `json:"execution_id" validate:"required"`
	StepID       string         `json:"step_id"      validate:"required"`
	Title        string         `json:"title"        validate:"required"`
	Description  string         `json:"description"`
	Context      map[string]any `json:"context,omitempty"`
	Status       ApprovalStatus `json:"status"`
	Token        string         `json:"token"`
	RequestedBy  string         `json:"requested_by"`
	ResolvedBy   string         `json:"resolved_by,omitempty"`
	ResponseNote string         `json:"response_note,omitempty"`
	ExpiresAt    time.Time      `json:"expires_at"`
	RespondedAt  *time.Time     `json:"responded_at,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

// ExpiredAt reports whether the request's deadline has passed at the given
// instant. Only meaningful for pending requests.
func (a *ApprovalRequest) ExpiredAt(now time.Time) bool {
	return now.After(a.ExpiresAt)
}
