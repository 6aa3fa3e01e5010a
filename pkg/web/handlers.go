package web

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"

	"github.com/studio233/flowcore/pkg/models"
	"github.com/studio233/flowcore/pkg/services"
	"github.com/studio233/flowcore/pkg/status"
)

type APIHandlers struct {
	workflowService *services.Workflow
	runService      *services.Run
	projector       *status.Projector
	validator       *validator.Validate
}

func NewAPIHandlers(
	workflowService *services.Workflow,
	runService *services.Run,
	projector *status.Projector,
	validator *validator.Validate,
) *APIHandlers {
	return &APIHandlers{
		workflowService: workflowService,
		runService:      runService,
		projector:       projector,
		validator:       validator,
	}
}

// Register mounts all routes behind the identity middleware.
func (h *APIHandlers) Register(app *fiber.App) {
	w := app.Group("/workflows", RequireOwner())
	w.Get("/", h.GetWorkflows)
	w.Post("/", h.CreateWorkflow)
	w.Get("/:id", h.GetWorkflow)
	w.Patch("/:id", h.UpdateWorkflow)
	w.Delete("/:id", h.DeleteWorkflow)
	w.Post("/:id/runs", h.StartRun)

	r := app.Group("/runs", RequireOwner())
	r.Get("/", h.GetRuns)
	r.Get("/:id", h.GetRun)
	r.Get("/:id/stream", h.StreamRun)

	app.Get("/health", h.HealthCheck)
}

func (h *APIHandlers) HealthCheck(c fiber.Ctx) error {
	repositoryCheck, repOk := h.workflowService.HealthCheck(c.Context())

	status := "unhealthy"
	httpStatus := http.StatusInternalServerError

	if repOk {
		status = "healthy"
		httpStatus = http.StatusOK
	}

	return c.Status(httpStatus).JSON(fiber.Map{
		"status": status,
		"checkers": fiber.Map{
			"repository": repositoryCheck,
		},
		"timestamp": time.Now().UTC(),
	})
}

func (h *APIHandlers) GetWorkflows(c fiber.Ctx) error {
	definitions, err := h.workflowService.List(c.Context(), ownerFromCtx(c))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(fiber.Map{"workflows": definitions})
}

func (h *APIHandlers) GetWorkflow(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Workflow ID is required")
	}

	definition, err := h.workflowService.FetchByID(c.Context(), ownerFromCtx(c), id)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(definition)
}

func (h *APIHandlers) CreateWorkflow(c fiber.Ctx) error {
	var req CreateWorkflowRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	definition := &models.WorkflowDefinition{
		Name:        req.Name,
		Description: req.Description,
		Nodes:       req.Nodes,
		Edges:       req.Edges,
	}

	created, err := h.workflowService.Create(c.Context(), ownerFromCtx(c), definition)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(created)
}

func (h *APIHandlers) UpdateWorkflow(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Workflow ID is required")
	}

	var req UpdateWorkflowRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	owner := ownerFromCtx(c)

	existing, err := h.workflowService.FetchByID(c.Context(), owner, id)
	if err != nil {
		return handleServiceError(c, err)
	}

	if req.Name != nil {
		existing.Name = *req.Name
	}

	if req.Description != nil {
		existing.Description = *req.Description
	}

	if req.Nodes != nil {
		existing.Nodes = req.Nodes
	}

	if req.Edges != nil {
		existing.Edges = req.Edges
	}

	updated, err := h.workflowService.Update(c.Context(), owner, id, existing)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(updated)
}

func (h *APIHandlers) DeleteWorkflow(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Workflow ID is required")
	}

	err := h.workflowService.Delete(c.Context(), ownerFromCtx(c), id)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

func (h *APIHandlers) StartRun(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Workflow ID is required")
	}

	var req StartRunRequest
	if len(c.Body()) > 0 {
		if err := c.Bind().JSON(&req); err != nil {
			return badRequest(c, "Invalid JSON format")
		}
	}

	detail, err := h.runService.StartRun(c.Context(), ownerFromCtx(c), id, req.Input)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(detail)
}

func (h *APIHandlers) GetRuns(c fiber.Ctx) error {
	limit := 0

	if limitStr := c.Query("limit"); limitStr != "" {
		parsed, err := strconv.Atoi(limitStr)
		if err != nil {
			return badRequest(c, "Invalid limit parameter")
		}

		limit = parsed
	}

	runs, err := h.runService.ListRuns(c.Context(), ownerFromCtx(c), limit)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(fiber.Map{"runs": runs})
}

func (h *APIHandlers) GetRun(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Run ID is required")
	}

	detail, err := h.projector.Get(c.Context(), ownerFromCtx(c).UserID, id)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(detail)
}

// StreamRun follows a run over server-sent events: one "update" event
// per snapshot, then a single "done" event once the run is terminal.
func (h *APIHandlers) StreamRun(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Run ID is required")
	}

	interval := time.Duration(0)

	if intervalStr := c.Query("interval"); intervalStr != "" {
		ms, err := strconv.Atoi(intervalStr)
		if err != nil {
			return badRequest(c, "Invalid interval parameter")
		}

		interval = time.Duration(ms) * time.Millisecond
	}

	ctx := c.Context()
	userID := ownerFromCtx(c).UserID

	// Fail fast for unknown runs so the client gets a proper 404
	// instead of an empty stream.
	if _, err := h.projector.Get(ctx, userID, id); err != nil {
		return handleServiceError(c, err)
	}

	c.Set("Content-Type", "text/event-stream")
	c.Set("Cache-Control", "no-cache")
	c.Set("Connection", "keep-alive")
	c.Set("X-Accel-Buffering", "no")

	sub := h.projector.Watch(ctx, userID, id, interval)

	return c.SendStreamWriter(func(w *bufio.Writer) {
		defer sub.Stop()

		for detail := range sub.Updates() {
			payload, err := json.Marshal(detail)
			if err != nil {
				return
			}

			if _, err := fmt.Fprintf(w, "event: update\ndata: %s\n\n", payload); err != nil {
				return
			}

			if err := w.Flush(); err != nil {
				// Client went away; polling stops via the deferred Stop.
				return
			}
		}

		if err := sub.Err(); err != nil {
			fmt.Fprintf(w, "event: error\ndata: %q\n\n", err.Error())
			_ = w.Flush()

			return
		}

		fmt.Fprintf(w, "event: done\ndata: {}\n\n")
		_ = w.Flush()
	})
}
