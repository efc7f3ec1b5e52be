package memory

import (
	"context"

	"github.com/patchwell/overseer/pkg/models"
	"github.com/patchwell/overseer/pkg/persistence"
)

// LogRepository handles the append-only execution log in memory. Entries
// are stored in append order, which is sequence order by construction.
type LogRepository struct {
	store *store
}

func (r *LogRepository) Append(_ context.Context, entry *models.ExecutionLog) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	r.store.logSeq[entry.ExecutionID]++
	entry.Sequence = r.store.logSeq[entry.ExecutionID]

	clone := *entry
	r.store.logs[entry.ExecutionID] = append(r.store.logs[entry.ExecutionID], &clone)

	return nil
}

func (r *LogRepository) ListByExecution(_ context.Context, executionID string, opts persistence.ListLogsOptions) ([]*models.ExecutionLog, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	entries := make([]*models.ExecutionLog, 0, len(r.store.logs[executionID]))

	for _, entry := range r.store.logs[executionID] {
		if opts.Level != nil && entry.Level != *opts.Level {
			continue
		}

		clone := *entry
		entries = append(entries, &clone)

		if opts.Limit > 0 && len(entries) == opts.Limit {
			break
		}
	}

	return entries, nil
}
