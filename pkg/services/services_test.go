package services

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/patchwell/overseer/pkg/engine"
	"github.com/patchwell/overseer/pkg/hub"
	"github.com/patchwell/overseer/pkg/models"
	"github.com/patchwell/overseer/pkg/persistence/memory"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.t = c.t.Add(d)
}

type stubEngine struct {
	mu          sync.Mutex
	submissions []engine.Submission
	cancels     []models.RunHandle
	submitErr   error
	cancelErr   error
}

func (s *stubEngine) Submit(_ context.Context, submission engine.Submission) (models.RunHandle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.submitErr != nil {
		return models.RunHandle{}, s.submitErr
	}

	handle := models.RunHandle{WorkflowID: "run-" + submission.ExecutionID}
	submission.Handle = handle
	s.submissions = append(s.submissions, submission)

	return handle, nil
}

func (s *stubEngine) RequestCancel(_ context.Context, handle models.RunHandle) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancelErr != nil {
		return s.cancelErr
	}

	s.cancels = append(s.cancels, handle)

	return nil
}

func (s *stubEngine) cancelCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.cancels)
}

type testEnv struct {
	store       *memory.Persistence
	engine      *stubEngine
	hub         *hub.Hub
	clock       *fakeClock
	history     *History
	steps       *Steps
	approvals   *Approvals
	coordinator *Coordinator
	definitions *Definitions
}

func newTestEnv(t *testing.T, policy StepFailurePolicy) *testEnv {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := memory.NewPersistence()
	clock := newFakeClock()
	h := hub.NewHub(logger)
	n := newNotifier(h, nil, logger)
	locks := newExecutionLocks()

	history := NewHistory(store.Logs())
	history.now = clock.Now

	steps := NewSteps(store, history, n, locks, logger)
	steps.now = clock.Now

	approvals := NewApprovals(store, history, n, locks, logger)
	approvals.now = clock.Now

	eng := &stubEngine{}

	coordinator := NewCoordinator(store, eng, history, steps, n, locks, logger, policy)
	coordinator.now = clock.Now

	return &testEnv{
		store:       store,
		engine:      eng,
		hub:         h,
		clock:       clock,
		history:     history,
		steps:       steps,
		approvals:   approvals,
		coordinator: coordinator,
		definitions: NewDefinitions(store),
	}
}

func (e *testEnv) activeDefinition(t *testing.T) *models.WorkflowDefinition {
	t.Helper()

	def, err := e.definitions.Create(t.Context(), CreateDefinitionRequest{
		Name:    "deploy-review",
		Version: 1,
		Config: map[string]any{
			"steps": []any{
				map[string]any{"id": "s1", "type": "llm_call"},
			},
		},
		CreatedBy: "tester",
	})
	require.NoError(t, err)

	def, err = e.definitions.SetStatus(t.Context(), def.ID, models.DefinitionStatusActive)
	require.NoError(t, err)

	return def
}

// startRunning starts an execution and replays the engine acceptance.
func (e *testEnv) startRunning(t *testing.T) *models.WorkflowExecution {
	t.Helper()

	def := e.activeDefinition(t)

	execution, err := e.coordinator.Start(t.Context(), StartExecutionRequest{
		WorkflowID: def.ID,
		Input:      map[string]any{"x": 1},
		CreatedBy:  "tester",
	})
	require.NoError(t, err)

	err = e.coordinator.HandleEngineEvent(t.Context(), engine.Event{
		Handle:   execution.EngineHandle,
		Type:     engine.EventRunAccepted,
		Sequence: 1,
		Payload:  map[string]any{"run_id": "r1"},
	})
	require.NoError(t, err)

	execution, err = e.coordinator.Get(t.Context(), execution.ID)
	require.NoError(t, err)

	return execution
}
