package services

import (
	"errors"
	"testing"

	"github.com/patchwell/overseer/pkg/engine"
	"github.com/patchwell/overseer/pkg/lifecycle"
	"github.com/patchwell/overseer/pkg/models"
	"github.com/patchwell/overseer/pkg/persistence"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStartCreatesPendingAndSubmits(t *testing.T) {
	env := newTestEnv(t, StepFailureContinue)
	def := env.activeDefinition(t)

	execution, err := env.coordinator.Start(t.Context(), StartExecutionRequest{
		WorkflowID: def.ID,
		Input:      map[string]any{"x": 1},
		CreatedBy:  "tester",
	})
	require.NoError(t, err)

	assert.Equal(t, models.ExecutionStatusPending, execution.Status)
	assert.NotEmpty(t, execution.EngineHandle.WorkflowID)
	assert.Empty(t, execution.EngineHandle.RunID)
	assert.Nil(t, execution.StartedAt)

	require.Len(t, env.engine.submissions, 1)
	assert.Equal(t, execution.ID, env.engine.submissions[0].ExecutionID)

	entries, err := env.history.List(t.Context(), execution.ID, persistence.ListLogsOptions{})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "Execution created", entries[0].Message)
}

func TestStartRejectsNonExecutableDefinition(t *testing.T) {
	env := newTestEnv(t, StepFailureContinue)

	def, err := env.definitions.Create(t.Context(), CreateDefinitionRequest{
		Name: "draft-only",
		Config: map[string]any{
			"steps": []any{map[string]any{"id": "s1", "type": "noop"}},
		},
	})
	require.NoError(t, err)

	_, err = env.coordinator.Start(t.Context(), StartExecutionRequest{WorkflowID: def.ID})
	require.ErrorIs(t, err, ErrDefinitionNotExecutable)

	assert.Empty(t, env.engine.submissions)
}

func TestStartEngineUnreachableKeepsPending(t *testing.T) {
	env := newTestEnv(t, StepFailureContinue)
	def := env.activeDefinition(t)
	env.engine.submitErr = engine.ErrUnreachable

	_, err := env.coordinator.Start(t.Context(), StartExecutionRequest{WorkflowID: def.ID})
	require.ErrorIs(t, err, engine.ErrUnreachable)

	result, err := env.coordinator.List(t.Context(), persistence.ListExecutionsOptions{})
	require.NoError(t, err)
	require.Len(t, result.Executions, 1)
	assert.Equal(t, models.ExecutionStatusPending, result.Executions[0].Status)
}

func TestRunAcceptedMovesToRunning(t *testing.T) {
	env := newTestEnv(t, StepFailureContinue)
	execution := env.startRunning(t)

	assert.Equal(t, models.ExecutionStatusRunning, execution.Status)
	assert.Equal(t, "r1", execution.EngineHandle.RunID)
	require.NotNil(t, execution.StartedAt)
	assert.Equal(t, int64(1), execution.LastEngineSeq)
}

func TestDuplicateEngineEventDropped(t *testing.T) {
	env := newTestEnv(t, StepFailureContinue)
	execution := env.startRunning(t)

	sub := env.hub.Subscribe(execution.ID)
	defer env.hub.Unsubscribe(sub)

	// Replay the acceptance with the same sequence number.
	err := env.coordinator.HandleEngineEvent(t.Context(), engine.Event{
		Handle:   execution.EngineHandle,
		Type:     engine.EventRunAccepted,
		Sequence: 1,
		Payload:  map[string]any{"run_id": "r1"},
	})
	require.NoError(t, err)

	entries, err := env.history.List(t.Context(), execution.ID, persistence.ListLogsOptions{})
	require.NoError(t, err)
	assert.Len(t, entries, 2) // created + started, nothing for the replay

	assert.Empty(t, sub.Events(), "replay must not notify subscribers")
}

func TestStaleEngineEventDropped(t *testing.T) {
	env := newTestEnv(t, StepFailureContinue)
	execution := env.startRunning(t)

	err := env.coordinator.HandleEngineEvent(t.Context(), engine.Event{
		Handle:   execution.EngineHandle,
		Type:     engine.EventRunCompleted,
		Sequence: 3,
		Payload:  map[string]any{"output": map[string]any{"y": 2}},
	})
	require.NoError(t, err)

	// A late pause for the already-completed run must be a silent no-op.
	err = env.coordinator.HandleEngineEvent(t.Context(), engine.Event{
		Handle:   execution.EngineHandle,
		Type:     engine.EventRunPaused,
		Sequence: 4,
	})
	require.NoError(t, err)

	updated, err := env.coordinator.Get(t.Context(), execution.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusCompleted, updated.Status)
}

func TestCancelRequestsEngineWithoutLocalTransition(t *testing.T) {
	env := newTestEnv(t, StepFailureContinue)
	execution := env.startRunning(t)

	cancelled, err := env.coordinator.Cancel(t.Context(), execution.ID, "tester")
	require.NoError(t, err)

	// Local state holds until the engine confirms.
	assert.Equal(t, models.ExecutionStatusRunning, cancelled.Status)
	assert.Equal(t, 1, env.engine.cancelCount())

	err = env.coordinator.HandleEngineEvent(t.Context(), engine.Event{
		Handle:   execution.EngineHandle,
		Type:     engine.EventRunCancelled,
		Sequence: 2,
	})
	require.NoError(t, err)

	updated, err := env.coordinator.Get(t.Context(), execution.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusCancelled, updated.Status)
	assert.NotNil(t, updated.CompletedAt)
}

func TestCancelCompletedExecutionFails(t *testing.T) {
	env := newTestEnv(t, StepFailureContinue)
	execution := env.startRunning(t)

	err := env.coordinator.HandleEngineEvent(t.Context(), engine.Event{
		Handle:   execution.EngineHandle,
		Type:     engine.EventRunCompleted,
		Sequence: 2,
	})
	require.NoError(t, err)

	_, err = env.coordinator.Cancel(t.Context(), execution.ID, "tester")
	require.ErrorIs(t, err, ErrExecutionNotActive)

	unchanged, err := env.coordinator.Get(t.Context(), execution.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusCompleted, unchanged.Status)
	assert.Equal(t, 0, env.engine.cancelCount())
}

func TestCancelUnacceptedExecutionIsLocal(t *testing.T) {
	env := newTestEnv(t, StepFailureContinue)
	def := env.activeDefinition(t)
	env.engine.submitErr = engine.ErrUnreachable

	_, err := env.coordinator.Start(t.Context(), StartExecutionRequest{WorkflowID: def.ID})
	require.ErrorIs(t, err, engine.ErrUnreachable)

	result, err := env.coordinator.List(t.Context(), persistence.ListExecutionsOptions{})
	require.NoError(t, err)
	require.Len(t, result.Executions, 1)

	cancelled, err := env.coordinator.Cancel(t.Context(), result.Executions[0].ID, "tester")
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusCancelled, cancelled.Status)
	assert.Equal(t, 0, env.engine.cancelCount())
}

func TestPauseAndResume(t *testing.T) {
	env := newTestEnv(t, StepFailureContinue)
	execution := env.startRunning(t)

	paused, err := env.coordinator.Pause(t.Context(), execution.ID, "tester")
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusPaused, paused.Status)

	resumed, err := env.coordinator.Resume(t.Context(), execution.ID, "tester")
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusRunning, resumed.Status)

	// Resuming an already running execution is illegal.
	_, err = env.coordinator.Resume(t.Context(), execution.ID, "tester")
	require.True(t, lifecycle.IsInvalidTransition(err))
}

func TestPauseRejectedFromPending(t *testing.T) {
	env := newTestEnv(t, StepFailureContinue)
	def := env.activeDefinition(t)

	execution, err := env.coordinator.Start(t.Context(), StartExecutionRequest{WorkflowID: def.ID})
	require.NoError(t, err)

	_, err = env.coordinator.Pause(t.Context(), execution.ID, "tester")
	require.True(t, lifecycle.IsInvalidTransition(err))
}

func TestFailFastPolicyFailsExecution(t *testing.T) {
	env := newTestEnv(t, StepFailureFailFast)
	execution := env.startRunning(t)

	err := env.coordinator.HandleEngineEvent(t.Context(), engine.Event{
		Handle:   execution.EngineHandle,
		Type:     engine.EventStepFailed,
		Sequence: 2,
		Payload: map[string]any{
			"step_id":   "s1",
			"step_type": "llm_call",
			"error":     "model overloaded",
		},
	})
	require.NoError(t, err)

	updated, err := env.coordinator.Get(t.Context(), execution.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusFailed, updated.Status)

	step, err := env.steps.Get(t.Context(), execution.ID, "s1")
	require.NoError(t, err)
	assert.Equal(t, models.StepStatusFailed, step.Status)
	assert.Equal(t, "model overloaded", step.ErrorMessage)
}

func TestContinuePolicyKeepsExecutionRunning(t *testing.T) {
	env := newTestEnv(t, StepFailureContinue)
	execution := env.startRunning(t)

	err := env.coordinator.HandleEngineEvent(t.Context(), engine.Event{
		Handle:   execution.EngineHandle,
		Type:     engine.EventStepFailed,
		Sequence: 2,
		Payload:  map[string]any{"step_id": "s1", "step_type": "llm_call"},
	})
	require.NoError(t, err)

	updated, err := env.coordinator.Get(t.Context(), execution.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusRunning, updated.Status)
}

func TestEngineEventForUnknownRunIsRetried(t *testing.T) {
	env := newTestEnv(t, StepFailureContinue)

	err := env.coordinator.HandleEngineEvent(t.Context(), engine.Event{
		Handle:   models.RunHandle{WorkflowID: "run-missing"},
		Type:     engine.EventRunAccepted,
		Sequence: 1,
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, persistence.ErrExecutionNotFound))
}

// The full happy path: created, accepted, one step finished, run finished.
// The history must contain exactly these four entries in order.
func TestExecutionLifecycleHistory(t *testing.T) {
	env := newTestEnv(t, StepFailureContinue)
	execution := env.startRunning(t)

	_, err := env.steps.Register(t.Context(), RegisterStepRequest{
		ExecutionID: execution.ID,
		StepID:      "s1",
		StepType:    "llm_call",
	})
	require.NoError(t, err)

	_, err = env.steps.Transition(t.Context(), TransitionStepRequest{
		ExecutionID: execution.ID,
		StepID:      "s1",
		Status:      models.StepStatusCompleted,
		Output:      map[string]any{"y": 2},
	})
	require.NoError(t, err)

	err = env.coordinator.HandleEngineEvent(t.Context(), engine.Event{
		Handle:   execution.EngineHandle,
		Type:     engine.EventRunCompleted,
		Sequence: 2,
		Payload:  map[string]any{"output": map[string]any{"y": 2}},
	})
	require.NoError(t, err)

	updated, err := env.coordinator.Get(t.Context(), execution.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusCompleted, updated.Status)
	assert.NotNil(t, updated.CompletedAt)
	assert.Equal(t, map[string]any{"y": 2}, updated.Output)

	entries, err := env.history.List(t.Context(), execution.ID, persistence.ListLogsOptions{})
	require.NoError(t, err)
	require.Len(t, entries, 4)

	assert.Equal(t, "Execution created", entries[0].Message)
	assert.Equal(t, "Execution running", entries[1].Message)
	assert.Equal(t, "Step completed", entries[2].Message)
	assert.Equal(t, "s1", entries[2].StepID)
	assert.Equal(t, "Execution completed", entries[3].Message)

	for i, entry := range entries {
		assert.Equal(t, int64(i+1), entry.Sequence)
	}
}
