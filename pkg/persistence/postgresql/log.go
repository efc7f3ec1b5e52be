package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/patchwell/overseer/pkg/models"
	"github.com/patchwell/overseer/pkg/persistence"
)

// LogRepository handles the append-only execution log. The table carries no
// UPDATE or DELETE path; rows only cascade away with their execution.
type LogRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewLogRepository creates a new log repository.
func NewLogRepository(db *sql.DB, logger *slog.Logger) *LogRepository {
	return &LogRepository{db: db, logger: logger}
}

// Append inserts the entry with the next per-execution sequence number.
// Writers for one execution are serialized by the coordinator, so the
// MAX+1 subquery cannot race with itself; the unique constraint on
// (execution_id, sequence) backstops that assumption.
func (r *LogRepository) Append(ctx context.Context, entry *models.ExecutionLog) error {
	var metadataJSON []byte

	if entry.Metadata != nil {
		var err error

		metadataJSON, err = json.Marshal(entry.Metadata)
		if err != nil {
			return fmt.Errorf("failed to marshal log metadata: %w", err)
		}
	}

	query := `
		INSERT INTO execution_logs (id, execution_id, step_id, level, message, metadata, sequence, timestamp)
		VALUES ($1, $2, $3, $4, $5, $6,
			(SELECT COALESCE(MAX(sequence), 0) + 1 FROM execution_logs WHERE execution_id = $2),
			$7)
		RETURNING sequence
	`

	err := r.db.QueryRowContext(ctx, query,
		entry.ID, entry.ExecutionID, nullable(entry.StepID), entry.Level,
		entry.Message, metadataJSON, entry.Timestamp,
	).Scan(&entry.Sequence)
	if err != nil {
		return fmt.Errorf("failed to append execution log: %w", err)
	}

	return nil
}

func (r *LogRepository) ListByExecution(ctx context.Context, executionID string, opts persistence.ListLogsOptions) ([]*models.ExecutionLog, error) {
	query := `
		SELECT id, execution_id, step_id, level, message, metadata, sequence, timestamp
		FROM execution_logs
		WHERE execution_id = $1
	`
	args := []any{executionID}

	if opts.Level != nil {
		args = append(args, *opts.Level)
		query += fmt.Sprintf(" AND level = $%d", len(args))
	}

	query += " ORDER BY sequence"

	if opts.Limit > 0 {
		args = append(args, opts.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list execution logs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	entries := make([]*models.ExecutionLog, 0)

	for rows.Next() {
		var (
			entry        models.ExecutionLog
			stepID       sql.NullString
			metadataJSON []byte
		)

		err := rows.Scan(
			&entry.ID, &entry.ExecutionID, &stepID, &entry.Level,
			&entry.Message, &metadataJSON, &entry.Sequence, &entry.Timestamp,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan log row: %w", err)
		}

		entry.StepID = stepID.String

		if metadataJSON != nil {
			if err := json.Unmarshal(metadataJSON, &entry.Metadata); err != nil {
				return nil, fmt.Errorf("failed to unmarshal log metadata: %w", err)
			}
		}

		entries = append(entries, &entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate logs: %w", err)
	}

	return entries, nil
}
