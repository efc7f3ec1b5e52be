package services

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/patchwell/overseer/pkg/models"
	"github.com/patchwell/overseer/pkg/persistence"
)

// History is the append-only audit recorder. Every accepted lifecycle
// mutation writes exactly one entry here before observers are notified;
// entries are never rewritten, so the log is the authoritative account of
// what happened to an execution and in what order.
type History struct {
	logs persistence.LogRepository
	now  func() time.Time
}

// NewHistory creates a history recorder over the given log store.
func NewHistory(logs persistence.LogRepository) *History {
	return &History{
		logs: logs,
		now:  time.Now,
	}
}

// Record appends one entry. The store assigns the per-execution sequence
// number under the same serialization as the mutation being recorded.
func (h *History) Record(ctx context.Context, executionID, stepID string, level models.LogLevel, message string, metadata map[string]any) error {
	entry := &models.ExecutionLog{
		ID:          uuid.New().String(),
		ExecutionID: executionID,
		StepID:      stepID,
		Level:       level,
		Message:     message,
		Metadata:    metadata,
		Timestamp:   h.now().UTC(),
	}

	err := h.logs.Append(ctx, entry)
	if err != nil {
		return fmt.Errorf("failed to append history entry: %w", err)
	}

	return nil
}

// List returns an execution's entries in sequence order, optionally
// filtered by level.
func (h *History) List(ctx context.Context, executionID string, opts persistence.ListLogsOptions) ([]*models.ExecutionLog, error) {
	return h.logs.ListByExecution(ctx, executionID, opts)
}
