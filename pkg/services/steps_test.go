package services

import (
	"testing"

	"github.com/patchwell/overseer/pkg/lifecycle"
	"github.com/patchwell/overseer/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterStep(t *testing.T) {
	env := newTestEnv(t, StepFailureContinue)
	execution := env.startRunning(t)

	step, err := env.steps.Register(t.Context(), RegisterStepRequest{
		ExecutionID: execution.ID,
		StepID:      "s1",
		StepName:    "Summarize",
		StepType:    "llm_call",
		Input:       map[string]any{"prompt": "hi"},
	})
	require.NoError(t, err)

	assert.Equal(t, models.StepStatusPending, step.Status)
	assert.Equal(t, "llm_call", step.StepType)
}

func TestRegisterDuplicateStepLeavesExistingUntouched(t *testing.T) {
	env := newTestEnv(t, StepFailureContinue)
	execution := env.startRunning(t)

	original, err := env.steps.Register(t.Context(), RegisterStepRequest{
		ExecutionID: execution.ID,
		StepID:      "s1",
		StepType:    "llm_call",
	})
	require.NoError(t, err)

	_, err = env.steps.Register(t.Context(), RegisterStepRequest{
		ExecutionID: execution.ID,
		StepID:      "s1",
		StepType:    "http_call",
	})
	require.ErrorIs(t, err, ErrDuplicateStep)

	existing, err := env.steps.Get(t.Context(), execution.ID, "s1")
	require.NoError(t, err)
	assert.Equal(t, original.ID, existing.ID)
	assert.Equal(t, "llm_call", existing.StepType)
}

func TestRegisterStepOnTerminalExecutionFails(t *testing.T) {
	env := newTestEnv(t, StepFailureContinue)
	execution := env.startRunning(t)

	_, err := env.coordinator.transition(t.Context(), execution.ID, models.ExecutionStatusFailed, nil)
	require.NoError(t, err)

	_, err = env.steps.Register(t.Context(), RegisterStepRequest{
		ExecutionID: execution.ID,
		StepID:      "s1",
		StepType:    "llm_call",
	})
	require.ErrorIs(t, err, ErrExecutionNotActive)
}

func TestStepTransitions(t *testing.T) {
	env := newTestEnv(t, StepFailureContinue)
	execution := env.startRunning(t)

	_, err := env.steps.Register(t.Context(), RegisterStepRequest{
		ExecutionID: execution.ID,
		StepID:      "s1",
		StepType:    "llm_call",
	})
	require.NoError(t, err)

	running, err := env.steps.Transition(t.Context(), TransitionStepRequest{
		ExecutionID: execution.ID,
		StepID:      "s1",
		Status:      models.StepStatusRunning,
	})
	require.NoError(t, err)
	assert.NotNil(t, running.StartedAt)

	completed, err := env.steps.Transition(t.Context(), TransitionStepRequest{
		ExecutionID: execution.ID,
		StepID:      "s1",
		Status:      models.StepStatusCompleted,
		Output:      map[string]any{"y": 2},
		Cost:        map[string]any{"tokens": 120},
	})
	require.NoError(t, err)
	assert.NotNil(t, completed.CompletedAt)
	assert.Equal(t, map[string]any{"y": 2}, completed.Output)

	// Terminal steps are final.
	_, err = env.steps.Transition(t.Context(), TransitionStepRequest{
		ExecutionID: execution.ID,
		StepID:      "s1",
		Status:      models.StepStatusRunning,
	})
	require.True(t, lifecycle.IsInvalidTransition(err))
}

func TestStepFinishedDirectlyFromPending(t *testing.T) {
	env := newTestEnv(t, StepFailureContinue)
	execution := env.startRunning(t)

	_, err := env.steps.Register(t.Context(), RegisterStepRequest{
		ExecutionID: execution.ID,
		StepID:      "s1",
		StepType:    "llm_call",
	})
	require.NoError(t, err)

	completed, err := env.steps.Transition(t.Context(), TransitionStepRequest{
		ExecutionID: execution.ID,
		StepID:      "s1",
		Status:      models.StepStatusCompleted,
		Output:      map[string]any{"y": 2},
	})
	require.NoError(t, err)
	assert.Equal(t, models.StepStatusCompleted, completed.Status)
	assert.NotNil(t, completed.CompletedAt)
}

func TestProgressAggregation(t *testing.T) {
	env := newTestEnv(t, StepFailureContinue)
	execution := env.startRunning(t)

	for _, id := range []string{"s1", "s2", "s3"} {
		_, err := env.steps.Register(t.Context(), RegisterStepRequest{
			ExecutionID: execution.ID,
			StepID:      id,
			StepType:    "llm_call",
		})
		require.NoError(t, err)
	}

	_, err := env.steps.Transition(t.Context(), TransitionStepRequest{
		ExecutionID: execution.ID,
		StepID:      "s1",
		Status:      models.StepStatusCompleted,
	})
	require.NoError(t, err)

	_, err = env.steps.Transition(t.Context(), TransitionStepRequest{
		ExecutionID: execution.ID,
		StepID:      "s2",
		Status:      models.StepStatusSkipped,
	})
	require.NoError(t, err)

	progress, err := env.steps.Progress(t.Context(), execution.ID)
	require.NoError(t, err)

	assert.Equal(t, 3, progress.Total)
	assert.Equal(t, 1, progress.ByStatus[models.StepStatusCompleted])
	assert.Equal(t, 1, progress.ByStatus[models.StepStatusSkipped])
	assert.Equal(t, 1, progress.ByStatus[models.StepStatusPending])
	assert.False(t, progress.Done())

	_, err = env.steps.Transition(t.Context(), TransitionStepRequest{
		ExecutionID:  execution.ID,
		StepID:       "s3",
		Status:       models.StepStatusFailed,
		ErrorMessage: "boom",
	})
	require.NoError(t, err)

	progress, err = env.steps.Progress(t.Context(), execution.ID)
	require.NoError(t, err)
	assert.True(t, progress.Done())
}
