package web

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/patchwell/overseer/pkg/hub"
	"github.com/patchwell/overseer/pkg/models"
	"github.com/patchwell/overseer/pkg/persistence"
	"github.com/patchwell/overseer/pkg/services"
)

// APIHandlers exposes execution tracking over REST.
type APIHandlers struct {
	coordinator *services.Coordinator
	steps       *services.Steps
	approvals   *services.Approvals
	definitions *services.Definitions
	history     *services.History
	hub         *hub.Hub
	persistence persistence.Persistence
	validator   *validator.Validate
}

func NewAPIHandlers(
	coordinator *services.Coordinator,
	steps *services.Steps,
	approvals *services.Approvals,
	definitions *services.Definitions,
	history *services.History,
	h *hub.Hub,
	p persistence.Persistence,
	validator *validator.Validate,
) *APIHandlers {
	return &APIHandlers{
		coordinator: coordinator,
		steps:       steps,
		approvals:   approvals,
		definitions: definitions,
		history:     history,
		hub:         h,
		persistence: p,
		validator:   validator,
	}
}

func (h *APIHandlers) HealthCheck(c fiber.Ctx) error {
	status := "healthy"
	message := "Overseer API is healthy"
	httpStatus := http.StatusOK

	err := h.persistence.HealthCheck(c.Context())
	if err != nil {
		status = "unhealthy"
		message = "Persistence layer is unhealthy: " + err.Error()
		httpStatus = http.StatusInternalServerError
	}

	return c.Status(httpStatus).JSON(fiber.Map{
		"status":      status,
		"message":     message,
		"subscribers": h.hub.SubscriberCount(),
		"timestamp":   time.Now().UTC(),
	})
}

// Definitions

func (h *APIHandlers) CreateDefinition(c fiber.Ctx) error {
	var req CreateDefinitionRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	def, err := h.definitions.Create(c.Context(), services.CreateDefinitionRequest{
		Name:        req.Name,
		Description: req.Description,
		Version:     req.Version,
		Config:      req.Config,
		Tags:        req.Tags,
		CreatedBy:   req.CreatedBy,
	})
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(def)
}

func (h *APIHandlers) GetDefinitions(c fiber.Ctx) error {
	defs, err := h.definitions.List(c.Context())
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(fiber.Map{"definitions": defs, "total_count": len(defs)})
}

func (h *APIHandlers) GetDefinition(c fiber.Ctx) error {
	def, err := h.definitions.Get(c.Context(), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(def)
}

func (h *APIHandlers) UpdateDefinitionStatus(c fiber.Ctx) error {
	var req UpdateDefinitionStatusRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	def, err := h.definitions.SetStatus(c.Context(), c.Params("id"), req.Status)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(def)
}

// Executions

func (h *APIHandlers) StartExecution(c fiber.Ctx) error {
	var req StartExecutionRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	execution, err := h.coordinator.Start(c.Context(), services.StartExecutionRequest{
		WorkflowID: req.WorkflowID,
		Input:      req.Input,
		CreatedBy:  req.CreatedBy,
	})
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(execution)
}

func (h *APIHandlers) GetExecutions(c fiber.Ctx) error {
	opts, err := h.parseListExecutionsOptions(c)
	if err != nil {
		return badRequest(c, "Invalid query parameters: "+err.Error())
	}

	result, err := h.coordinator.List(c.Context(), *opts)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(fiber.Map{
		"executions":    result.Executions,
		"total_count":   result.TotalCount,
		"has_next_page": result.HasNextPage,
		"pagination": fiber.Map{
			"limit":  opts.Limit,
			"offset": opts.Offset,
		},
	})
}

func (h *APIHandlers) parseListExecutionsOptions(c fiber.Ctx) (*persistence.ListExecutionsOptions, error) {
	opts := &persistence.ListExecutionsOptions{}

	if limitStr := c.Query("limit"); limitStr != "" {
		limit, err := strconv.Atoi(limitStr)
		if err != nil {
			return nil, err
		}

		opts.Limit = limit
	}

	if offsetStr := c.Query("offset"); offsetStr != "" {
		offset, err := strconv.Atoi(offsetStr)
		if err != nil {
			return nil, err
		}

		opts.Offset = offset
	}

	opts.WorkflowID = c.Query("workflow_id")

	if statusStr := c.Query("status"); statusStr != "" {
		status := models.ExecutionStatus(statusStr)
		opts.Status = &status
	}

	return opts, nil
}

func (h *APIHandlers) GetExecution(c fiber.Ctx) error {
	execution, err := h.coordinator.Get(c.Context(), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(execution)
}

func (h *APIHandlers) CancelExecution(c fiber.Ctx) error {
	var req CancelExecutionRequest
	if err := c.Bind().JSON(&req); err != nil && len(c.Body()) > 0 {
		return badRequest(c, "Invalid JSON format")
	}

	execution, err := h.coordinator.Cancel(c.Context(), c.Params("id"), req.RequestedBy)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusAccepted).JSON(execution)
}

func (h *APIHandlers) PauseExecution(c fiber.Ctx) error {
	execution, err := h.coordinator.Pause(c.Context(), c.Params("id"), c.Query("requested_by"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(execution)
}

func (h *APIHandlers) ResumeExecution(c fiber.Ctx) error {
	execution, err := h.coordinator.Resume(c.Context(), c.Params("id"), c.Query("requested_by"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(execution)
}

func (h *APIHandlers) GetExecutionHistory(c fiber.Ctx) error {
	executionID := c.Params("id")

	_, err := h.coordinator.Get(c.Context(), executionID)
	if err != nil {
		return handleServiceError(c, err)
	}

	opts := persistence.ListLogsOptions{}

	if levelStr := c.Query("level"); levelStr != "" {
		level := models.LogLevel(levelStr)
		opts.Level = &level
	}

	if limitStr := c.Query("limit"); limitStr != "" {
		limit, err := strconv.Atoi(limitStr)
		if err != nil {
			return badRequest(c, "Invalid limit")
		}

		opts.Limit = limit
	}

	entries, err := h.history.List(c.Context(), executionID, opts)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(fiber.Map{"entries": entries, "total_count": len(entries)})
}

// Steps

func (h *APIHandlers) RegisterStep(c fiber.Ctx) error {
	var req RegisterStepRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	step, err := h.steps.Register(c.Context(), services.RegisterStepRequest{
		ExecutionID: c.Params("id"),
		StepID:      req.StepID,
		StepName:    req.StepName,
		StepType:    req.StepType,
		Input:       req.Input,
	})
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(step)
}

func (h *APIHandlers) GetSteps(c fiber.Ctx) error {
	executionID := c.Params("id")

	_, err := h.coordinator.Get(c.Context(), executionID)
	if err != nil {
		return handleServiceError(c, err)
	}

	steps, err := h.steps.List(c.Context(), executionID)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(fiber.Map{"steps": steps, "total_count": len(steps)})
}

func (h *APIHandlers) TransitionStep(c fiber.Ctx) error {
	var req TransitionStepRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	step, err := h.steps.Transition(c.Context(), services.TransitionStepRequest{
		ExecutionID:  c.Params("id"),
		StepID:       c.Params("stepId"),
		Status:       req.Status,
		Output:       req.Output,
		ErrorMessage: req.ErrorMessage,
		Cost:         req.Cost,
	})
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(step)
}

func (h *APIHandlers) GetProgress(c fiber.Ctx) error {
	progress, err := h.steps.Progress(c.Context(), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(progress)
}

// Approvals

func (h *APIHandlers) RequestApproval(c fiber.Ctx) error {
	var req RequestApprovalRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	approval, err := h.approvals.Request(c.Context(), services.RequestApprovalRequest{
		ExecutionID: c.Params("id"),
		StepID:      req.StepID,
		Title:       req.Title,
		Description: req.Description,
		Context:     req.Context,
		RequestedBy: req.RequestedBy,
		ExpiresIn:   time.Duration(req.TTLSeconds) * time.Second,
	})
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(approval)
}

func (h *APIHandlers) GetApprovals(c fiber.Ctx) error {
	executionID := c.Params("id")

	_, err := h.coordinator.Get(c.Context(), executionID)
	if err != nil {
		return handleServiceError(c, err)
	}

	approvals, err := h.approvals.List(c.Context(), executionID)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(fiber.Map{"approvals": approvals, "total_count": len(approvals)})
}

func (h *APIHandlers) GetApprovalByToken(c fiber.Ctx) error {
	approval, err := h.approvals.GetByToken(c.Context(), c.Params("token"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(approval)
}

func (h *APIHandlers) ResolveApproval(c fiber.Ctx) error {
	var req ResolveApprovalRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	approval, err := h.approvals.Resolve(c.Context(), services.ResolveApprovalRequest{
		Token:        c.Params("token"),
		Decision:     req.Decision,
		ResolvedBy:   req.ResolvedBy,
		ResponseNote: req.ResponseNote,
	})
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(approval)
}
