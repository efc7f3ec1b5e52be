package memory

import (
	"testing"
	"time"

	"github.com/patchwell/overseer/pkg/models"
	"github.com/patchwell/overseer/pkg/persistence"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newExecution(id string) *models.WorkflowExecution {
	return &models.WorkflowExecution{
		ID:         id,
		WorkflowID: "wf-1",
		Status:     models.ExecutionStatusPending,
		Input:      map[string]any{"x": 1},
		CreatedAt:  time.Now().UTC(),
		UpdatedAt:  time.Now().UTC(),
	}
}

func TestExecutionUpdateCAS(t *testing.T) {
	p := NewPersistence()
	ctx := t.Context()

	execution := newExecution("e1")
	require.NoError(t, p.Executions().Create(ctx, execution))

	execution.Status = models.ExecutionStatusRunning
	require.NoError(t, p.Executions().Update(ctx, execution, models.ExecutionStatusPending))

	// A second writer still expecting pending loses the race.
	stale := newExecution("e1")
	stale.Status = models.ExecutionStatusCancelled
	err := p.Executions().Update(ctx, stale, models.ExecutionStatusPending)
	require.Error(t, err)
	assert.True(t, persistence.IsStatusConflict(err))

	stored, err := p.Executions().GetByID(ctx, "e1")
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusRunning, stored.Status)
}

func TestExecutionEngineHandleUnique(t *testing.T) {
	p := NewPersistence()
	ctx := t.Context()

	first := newExecution("e1")
	first.EngineHandle = models.RunHandle{WorkflowID: "engine-wf-1", RunID: "r1"}
	require.NoError(t, p.Executions().Create(ctx, first))

	second := newExecution("e2")
	second.EngineHandle = models.RunHandle{WorkflowID: "engine-wf-1", RunID: "r2"}
	err := p.Executions().Create(ctx, second)
	require.ErrorIs(t, err, persistence.ErrDuplicateRun)

	found, err := p.Executions().GetByEngineWorkflowID(ctx, "engine-wf-1")
	require.NoError(t, err)
	assert.Equal(t, "e1", found.ID)
}

func TestStepDuplicateRejected(t *testing.T) {
	p := NewPersistence()
	ctx := t.Context()

	step := &models.StepExecution{
		ID:          "se-1",
		ExecutionID: "e1",
		StepID:      "s1",
		StepType:    "llm_call",
		Status:      models.StepStatusPending,
		CreatedAt:   time.Now().UTC(),
	}
	require.NoError(t, p.Steps().Create(ctx, step))

	duplicate := &models.StepExecution{
		ID:          "se-2",
		ExecutionID: "e1",
		StepID:      "s1",
		StepType:    "http_call",
		Status:      models.StepStatusPending,
	}
	err := p.Steps().Create(ctx, duplicate)
	require.Error(t, err)
	assert.True(t, persistence.IsDuplicateStep(err))

	// The existing step is untouched.
	stored, err := p.Steps().GetByStepID(ctx, "e1", "s1")
	require.NoError(t, err)
	assert.Equal(t, "se-1", stored.ID)
	assert.Equal(t, "llm_call", stored.StepType)
}

func TestLogAppendAssignsSequence(t *testing.T) {
	p := NewPersistence()
	ctx := t.Context()

	for i := range 3 {
		entry := &models.ExecutionLog{
			ID:          "log-" + string(rune('a'+i)),
			ExecutionID: "e1",
			Level:       models.LogLevelInfo,
			Message:     "entry",
			Timestamp:   time.Now().UTC(),
		}
		require.NoError(t, p.Logs().Append(ctx, entry))
		assert.Equal(t, int64(i+1), entry.Sequence)
	}

	entries, err := p.Logs().ListByExecution(ctx, "e1", persistence.ListLogsOptions{})
	require.NoError(t, err)
	require.Len(t, entries, 3)

	for i, entry := range entries {
		assert.Equal(t, int64(i+1), entry.Sequence)
	}
}

func TestDeleteCascades(t *testing.T) {
	p := NewPersistence()
	ctx := t.Context()

	require.NoError(t, p.Executions().Create(ctx, newExecution("e1")))
	require.NoError(t, p.Steps().Create(ctx, &models.StepExecution{
		ID: "se-1", ExecutionID: "e1", StepID: "s1", Status: models.StepStatusPending,
	}))
	require.NoError(t, p.Approvals().Create(ctx, &models.ApprovalRequest{
		ID: "ap-1", ExecutionID: "e1", StepID: "s1", Token: "tok", Status: models.ApprovalStatusPending,
	}))
	require.NoError(t, p.Logs().Append(ctx, &models.ExecutionLog{ID: "l1", ExecutionID: "e1", Level: models.LogLevelInfo}))

	require.NoError(t, p.Executions().Delete(ctx, "e1"))

	_, err := p.Executions().GetByID(ctx, "e1")
	assert.True(t, persistence.IsExecutionNotFound(err))

	steps, err := p.Steps().ListByExecution(ctx, "e1")
	require.NoError(t, err)
	assert.Empty(t, steps)

	_, err = p.Approvals().GetByToken(ctx, "tok")
	assert.ErrorIs(t, err, persistence.ErrApprovalNotFound)

	entries, err := p.Logs().ListByExecution(ctx, "e1", persistence.ListLogsOptions{})
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestApprovalListExpired(t *testing.T) {
	p := NewPersistence()
	ctx := t.Context()
	now := time.Now().UTC()

	require.NoError(t, p.Approvals().Create(ctx, &models.ApprovalRequest{
		ID: "ap-1", ExecutionID: "e1", StepID: "s1", Token: "t1",
		Status: models.ApprovalStatusPending, ExpiresAt: now.Add(-time.Minute),
	}))
	require.NoError(t, p.Approvals().Create(ctx, &models.ApprovalRequest{
		ID: "ap-2", ExecutionID: "e1", StepID: "s2", Token: "t2",
		Status: models.ApprovalStatusPending, ExpiresAt: now.Add(time.Hour),
	}))
	require.NoError(t, p.Approvals().Create(ctx, &models.ApprovalRequest{
		ID: "ap-3", ExecutionID: "e1", StepID: "s3", Token: "t3",
		Status: models.ApprovalStatusApproved, ExpiresAt: now.Add(-time.Hour),
	}))

	expired, err := p.Approvals().ListExpired(ctx, now)
	require.NoError(t, err)
	require.Len(t, expired, 1)
	assert.Equal(t, "ap-1", expired[0].ID)
}
