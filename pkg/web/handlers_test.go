package web_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/patchwell/overseer/pkg/engine"
	"github.com/patchwell/overseer/pkg/hub"
	"github.com/patchwell/overseer/pkg/models"
	"github.com/patchwell/overseer/pkg/persistence/memory"
	"github.com/patchwell/overseer/pkg/services"
	"github.com/patchwell/overseer/pkg/web"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeEngine struct{}

func (e *fakeEngine) Submit(_ context.Context, submission engine.Submission) (models.RunHandle, error) {
	return models.RunHandle{WorkflowID: "run-" + submission.ExecutionID}, nil
}

func (e *fakeEngine) RequestCancel(_ context.Context, _ models.RunHandle) error {
	return nil
}

func setupTestApp(t *testing.T) (*fiber.App, *services.Container) {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := memory.NewPersistence()
	eventHub := hub.NewHub(logger)

	container := services.NewContainer(services.Config{
		Persistence: store,
		Engine:      &fakeEngine{},
		Hub:         eventHub,
		Logger:      logger,
	})

	handlers := web.NewAPIHandlers(
		container.Coordinator,
		container.Steps,
		container.Approvals,
		container.Definitions,
		container.History,
		eventHub,
		store,
		validator.New(validator.WithRequiredStructEnabled()),
	)

	app := fiber.New()

	d := app.Group("/definitions")
	d.Post("/", handlers.CreateDefinition)
	d.Get("/", handlers.GetDefinitions)
	d.Get("/:id", handlers.GetDefinition)
	d.Patch("/:id/status", handlers.UpdateDefinitionStatus)

	e := app.Group("/executions")
	e.Post("/", handlers.StartExecution)
	e.Get("/", handlers.GetExecutions)
	e.Get("/:id", handlers.GetExecution)
	e.Post("/:id/cancel", handlers.CancelExecution)
	e.Post("/:id/pause", handlers.PauseExecution)
	e.Post("/:id/resume", handlers.ResumeExecution)
	e.Get("/:id/history", handlers.GetExecutionHistory)
	e.Get("/:id/steps", handlers.GetSteps)
	e.Post("/:id/steps", handlers.RegisterStep)
	e.Post("/:id/steps/:stepId/transition", handlers.TransitionStep)
	e.Get("/:id/progress", handlers.GetProgress)
	e.Post("/:id/approvals", handlers.RequestApproval)
	e.Get("/:id/approvals", handlers.GetApprovals)

	a := app.Group("/approvals")
	a.Get("/:token", handlers.GetApprovalByToken)
	a.Post("/:token/resolve", handlers.ResolveApproval)

	app.Get("/health", handlers.HealthCheck)

	return app, container
}

func doJSON(t *testing.T, app *fiber.App, method, path string, body any) *http.Response {
	t.Helper()

	var reader io.Reader

	if body != nil {
		payload, err := json.Marshal(body)
		require.NoError(t, err)

		reader = bytes.NewReader(payload)
	}

	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := app.Test(req)
	require.NoError(t, err)

	return resp
}

func decodeBody[T any](t *testing.T, resp *http.Response) T {
	t.Helper()

	defer func() { _ = resp.Body.Close() }()

	var out T

	err := json.NewDecoder(resp.Body).Decode(&out)
	require.NoError(t, err)

	return out
}

func createActiveDefinition(t *testing.T, app *fiber.App) models.WorkflowDefinition {
	t.Helper()

	resp := doJSON(t, app, http.MethodPost, "/definitions", web.CreateDefinitionRequest{
		Name: "deploy-review",
		Config: map[string]any{
			"steps": []any{map[string]any{"id": "s1", "type": "llm_call"}},
		},
		CreatedBy: "tester",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	def := decodeBody[models.WorkflowDefinition](t, resp)

	resp = doJSON(t, app, http.MethodPatch, "/definitions/"+def.ID+"/status", web.UpdateDefinitionStatusRequest{
		Status: models.DefinitionStatusActive,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	return decodeBody[models.WorkflowDefinition](t, resp)
}

func startExecution(t *testing.T, app *fiber.App) models.WorkflowExecution {
	t.Helper()

	def := createActiveDefinition(t, app)

	resp := doJSON(t, app, http.MethodPost, "/executions", web.StartExecutionRequest{
		WorkflowID: def.ID,
		Input:      map[string]any{"x": 1},
		CreatedBy:  "tester",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	return decodeBody[models.WorkflowExecution](t, resp)
}

func TestCreateDefinitionValidation(t *testing.T) {
	app, _ := setupTestApp(t)

	resp := doJSON(t, app, http.MethodPost, "/definitions", web.CreateDefinitionRequest{
		Name: "x",
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestStartExecution(t *testing.T) {
	app, _ := setupTestApp(t)

	execution := startExecution(t, app)
	assert.Equal(t, models.ExecutionStatusPending, execution.Status)
	assert.NotEmpty(t, execution.EngineHandle.WorkflowID)
}

func TestStartExecutionFromDraftDefinitionConflicts(t *testing.T) {
	app, _ := setupTestApp(t)

	resp := doJSON(t, app, http.MethodPost, "/definitions", web.CreateDefinitionRequest{
		Name: "draft-only",
		Config: map[string]any{
			"steps": []any{map[string]any{"id": "s1", "type": "noop"}},
		},
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	def := decodeBody[models.WorkflowDefinition](t, resp)

	resp = doJSON(t, app, http.MethodPost, "/executions", web.StartExecutionRequest{
		WorkflowID: def.ID,
	})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestGetExecutionNotFound(t *testing.T) {
	app, _ := setupTestApp(t)

	resp := doJSON(t, app, http.MethodGet, "/executions/nope", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestCancelCompletedExecutionConflicts(t *testing.T) {
	app, container := setupTestApp(t)
	execution := startExecution(t, app)

	for seq, eventType := range []engine.EventType{engine.EventRunAccepted, engine.EventRunCompleted} {
		err := container.Coordinator.HandleEngineEvent(context.Background(), engine.Event{
			Handle:   execution.EngineHandle,
			Type:     eventType,
			Sequence: int64(seq + 1),
		})
		require.NoError(t, err)
	}

	resp := doJSON(t, app, http.MethodPost, "/executions/"+execution.ID+"/cancel",
		web.CancelExecutionRequest{RequestedBy: "tester"})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestStepEndpoints(t *testing.T) {
	app, container := setupTestApp(t)
	execution := startExecution(t, app)

	err := container.Coordinator.HandleEngineEvent(context.Background(), engine.Event{
		Handle:   execution.EngineHandle,
		Type:     engine.EventRunAccepted,
		Sequence: 1,
	})
	require.NoError(t, err)

	resp := doJSON(t, app, http.MethodPost, "/executions/"+execution.ID+"/steps", web.RegisterStepRequest{
		StepID:   "s1",
		StepType: "llm_call",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	// Duplicate registration conflicts.
	resp = doJSON(t, app, http.MethodPost, "/executions/"+execution.ID+"/steps", web.RegisterStepRequest{
		StepID:   "s1",
		StepType: "llm_call",
	})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp = doJSON(t, app, http.MethodPost, "/executions/"+execution.ID+"/steps/s1/transition",
		web.TransitionStepRequest{
			Status: models.StepStatusCompleted,
			Output: map[string]any{"y": 2},
		})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	step := decodeBody[models.StepExecution](t, resp)
	assert.Equal(t, models.StepStatusCompleted, step.Status)

	resp = doJSON(t, app, http.MethodGet, "/executions/"+execution.ID+"/progress", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	progress := decodeBody[models.StepProgress](t, resp)
	assert.Equal(t, 1, progress.Total)
	assert.Equal(t, 1, progress.ByStatus[models.StepStatusCompleted])
}

func TestApprovalEndpoints(t *testing.T) {
	app, container := setupTestApp(t)
	execution := startExecution(t, app)

	err := container.Coordinator.HandleEngineEvent(context.Background(), engine.Event{
		Handle:   execution.EngineHandle,
		Type:     engine.EventRunAccepted,
		Sequence: 1,
	})
	require.NoError(t, err)

	resp := doJSON(t, app, http.MethodPost, "/executions/"+execution.ID+"/approvals",
		web.RequestApprovalRequest{
			StepID:     "s2",
			Title:      "Ship it?",
			TTLSeconds: 3600,
		})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	approval := decodeBody[models.ApprovalRequest](t, resp)
	require.NotEmpty(t, approval.Token)

	resp = doJSON(t, app, http.MethodPost, "/approvals/"+approval.Token+"/resolve",
		web.ResolveApprovalRequest{
			Decision:   models.DecisionApproved,
			ResolvedBy: "user-a",
		})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resolved := decodeBody[models.ApprovalRequest](t, resp)
	assert.Equal(t, models.ApprovalStatusApproved, resolved.Status)

	// Second resolution loses.
	resp = doJSON(t, app, http.MethodPost, "/approvals/"+approval.Token+"/resolve",
		web.ResolveApprovalRequest{
			Decision:   models.DecisionRejected,
			ResolvedBy: "user-b",
		})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp = doJSON(t, app, http.MethodGet, "/approvals/"+approval.Token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestExecutionHistoryEndpoint(t *testing.T) {
	app, container := setupTestApp(t)
	execution := startExecution(t, app)

	err := container.Coordinator.HandleEngineEvent(context.Background(), engine.Event{
		Handle:   execution.EngineHandle,
		Type:     engine.EventRunAccepted,
		Sequence: 1,
	})
	require.NoError(t, err)

	resp := doJSON(t, app, http.MethodGet, "/executions/"+execution.ID+"/history", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body := decodeBody[map[string]any](t, resp)
	assert.EqualValues(t, 2, body["total_count"])
}

func TestHealthCheck(t *testing.T) {
	app, _ := setupTestApp(t)

	resp := doJSON(t, app, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
