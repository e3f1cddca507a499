package http

import (
	"bytes"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/feilong2k/codemaestro/internal/application/service"
	"github.com/feilong2k/codemaestro/internal/domain/entity"
	"github.com/feilong2k/codemaestro/internal/domain/workflow"
)

const (
	defaultListLimit = 20
	maxListLimit     = 100

	apiActor = "api"

	xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
)

// Handlers contains all HTTP request handlers
type Handlers struct {
	deps   Dependencies
	logger Logger
}

// NewHandlers creates a new Handlers instance
func NewHandlers(deps Dependencies, logger Logger) *Handlers {
	return &Handlers{deps: deps, logger: logger}
}

// Response represents a standard JSON response
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
	Version   string `json:"version"`
	Paused    bool   `json:"paused"`
}

// CreateSubtaskRequest is the body of POST /api/subtasks
type CreateSubtaskRequest struct {
	ID          string `json:"id"`
	Title       string `json:"title" binding:"required"`
	Description string `json:"description"`
	State       string `json:"state"`
}

// SubtaskTransitionRequest is the body of POST /api/subtasks/:id/transition
type SubtaskTransitionRequest struct {
	Target string `json:"target" binding:"required"`
}

// WorkflowTransitionRequest is the body of POST /api/workflows/:name/transition
type WorkflowTransitionRequest struct {
	CurrentState string         `json:"current_state" binding:"required"`
	Event        string         `json:"event" binding:"required"`
	Context      map[string]any `json:"context"`
}

// WorkflowTransitionResponse carries the computed next state
type WorkflowTransitionResponse struct {
	Workflow      string `json:"workflow"`
	PreviousState string `json:"previous_state"`
	NextState     string `json:"next_state"`
}

// SubtaskStateResponse is returned after a lifecycle move
type SubtaskStateResponse struct {
	ID    string `json:"id"`
	State string `json:"state"`
}

// EngineStatusResponse reports the pause flag
type EngineStatusResponse struct {
	Paused bool `json:"paused"`
}

// SuccessRateResponse reports the rounded success rate of a workflow
type SuccessRateResponse struct {
	WorkflowID  string  `json:"workflow_id"`
	SuccessRate float64 `json:"success_rate"`
}

// ListRequest represents paging query parameters
type ListRequest struct {
	Limit  int `form:"limit"`
	Offset int `form:"offset"`
}

func (r *ListRequest) normalize() {
	if r.Limit <= 0 || r.Limit > maxListLimit {
		r.Limit = defaultListLimit
	}
	if r.Offset < 0 {
		r.Offset = 0
	}
}

// HealthCheck handles GET /health
func (h *Handlers) HealthCheck(c *gin.Context) {
	version := h.deps.Version
	if version == "" {
		version = "dev"
	}
	resp := HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Version:   version,
	}
	if h.deps.Engine != nil {
		resp.Paused = h.deps.Engine.IsPaused()
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: resp})
}

// CreateSubtask handles POST /api/subtasks
func (h *Handlers) CreateSubtask(c *gin.Context) {
	var req CreateSubtaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, "invalid request body", err)
		return
	}

	subtask, err := h.deps.Orchestrator.CreateSubtask(c.Request.Context(), &entity.Subtask{
		ID:          req.ID,
		Title:       req.Title,
		Description: req.Description,
		State:       req.State,
	})
	if err != nil {
		h.fail(c, "Failed to create subtask", err)
		return
	}
	c.JSON(http.StatusCreated, Response{Success: true, Data: subtask})
}

// ListSubtasks handles GET /api/subtasks
func (h *Handlers) ListSubtasks(c *gin.Context) {
	var req ListRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		h.badRequest(c, "invalid query parameters", err)
		return
	}
	req.normalize()

	subtasks, err := h.deps.Orchestrator.ListSubtasks(c.Request.Context(), req.Limit, req.Offset)
	if err != nil {
		h.fail(c, "Failed to list subtasks", err)
		return
	}
	if subtasks == nil {
		subtasks = []*entity.Subtask{}
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: subtasks})
}

// GetSubtask handles GET /api/subtasks/:id
func (h *Handlers) GetSubtask(c *gin.Context) {
	subtask, err := h.deps.Orchestrator.GetSubtask(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, "Failed to get subtask", err)
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: subtask})
}

// StartSubtask handles POST /api/subtasks/:id/start
func (h *Handlers) StartSubtask(c *gin.Context) {
	id := c.Param("id")
	if err := h.deps.Orchestrator.StartSubtask(c.Request.Context(), id); err != nil {
		h.fail(c, "Failed to start subtask", err)
		return
	}
	h.respondState(c, id)
}

// ApproveSubtask handles POST /api/subtasks/:id/approve
func (h *Handlers) ApproveSubtask(c *gin.Context) {
	id := c.Param("id")
	if err := h.deps.Orchestrator.CompleteSubtask(c.Request.Context(), id); err != nil {
		h.fail(c, "Failed to approve subtask", err)
		return
	}
	h.respondState(c, id)
}

// TransitionSubtask handles POST /api/subtasks/:id/transition
func (h *Handlers) TransitionSubtask(c *gin.Context) {
	var req SubtaskTransitionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, "invalid request body", err)
		return
	}

	id := c.Param("id")
	if err := h.deps.Orchestrator.TransitionTo(c.Request.Context(), id, workflow.State(req.Target), apiActor); err != nil {
		h.fail(c, "Failed to transition subtask", err)
		return
	}
	h.respondState(c, id)
}

// AgentStatus handles GET /api/agents/status
func (h *Handlers) AgentStatus(c *gin.Context) {
	if h.deps.Agents == nil {
		c.JSON(http.StatusServiceUnavailable, Response{Success: false, Error: "agent loop is disabled"})
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: h.deps.Agents.Status()})
}

// ListEvents handles GET /api/events
func (h *Handlers) ListEvents(c *gin.Context) {
	var req ListRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		h.badRequest(c, "invalid query parameters", err)
		return
	}
	req.normalize()

	events, err := h.deps.Orchestrator.RecentTransitions(c.Request.Context(), req.Limit)
	if err != nil {
		h.fail(c, "Failed to list events", err)
		return
	}
	if events == nil {
		events = []*entity.TransitionHistory{}
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: events})
}

// TransitionWorkflow handles POST /api/workflows/:name/transition
func (h *Handlers) TransitionWorkflow(c *gin.Context) {
	var req WorkflowTransitionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, "invalid request body", err)
		return
	}

	name := c.Param("name")
	next, err := h.deps.Engine.Transition(c.Request.Context(), name, req.CurrentState, req.Event, workflow.Vars(req.Context))
	if err != nil {
		h.fail(c, "Workflow transition failed", err)
		return
	}

	c.JSON(http.StatusOK, Response{Success: true, Data: WorkflowTransitionResponse{
		Workflow:      name,
		PreviousState: req.CurrentState,
		NextState:     next,
	}})
}

// PauseEngine handles POST /api/engine/pause
func (h *Handlers) PauseEngine(c *gin.Context) {
	h.deps.Engine.Pause()
	h.logger.Info("Workflow engine paused via API")
	c.JSON(http.StatusOK, Response{Success: true, Data: EngineStatusResponse{Paused: true}})
}

// ResumeEngine handles POST /api/engine/resume
func (h *Handlers) ResumeEngine(c *gin.Context) {
	h.deps.Engine.Resume()
	h.logger.Info("Workflow engine resumed via API")
	c.JSON(http.StatusOK, Response{Success: true, Data: EngineStatusResponse{Paused: false}})
}

// EngineStatus handles GET /api/engine/status
func (h *Handlers) EngineStatus(c *gin.Context) {
	c.JSON(http.StatusOK, Response{Success: true, Data: EngineStatusResponse{Paused: h.deps.Engine.IsPaused()}})
}

// AnalyzePatterns handles GET /api/evolution/patterns
func (h *Handlers) AnalyzePatterns(c *gin.Context) {
	analysis, err := h.deps.Evolution.AnalyzePatterns(c.Request.Context())
	if err != nil {
		h.fail(c, "Failed to analyze patterns", err)
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: analysis})
}

// ProposeOptimization handles GET /api/evolution/proposal. A null data field
// means there is nothing to fix.
func (h *Handlers) ProposeOptimization(c *gin.Context) {
	proposal, err := h.deps.Evolution.ProposeOptimization(c.Request.Context())
	if err != nil {
		h.fail(c, "Failed to propose optimization", err)
		return
	}
	if proposal == nil {
		c.JSON(http.StatusOK, gin.H{"success": true, "data": nil})
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: proposal})
}

// ApplyOptimization handles POST /api/evolution/:workflow/apply
func (h *Handlers) ApplyOptimization(c *gin.Context) {
	var patch service.WorkflowPatch
	if err := c.ShouldBindJSON(&patch); err != nil {
		h.badRequest(c, "invalid patch", err)
		return
	}

	workflowID := c.Param("workflow")
	if err := h.deps.Evolution.ApplyOptimization(c.Request.Context(), workflowID, patch); err != nil {
		h.fail(c, "Failed to apply optimization", err)
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: gin.H{"workflow": workflowID, "applied": true}})
}

// SuccessRate handles GET /api/evolution/:workflow/success-rate
func (h *Handlers) SuccessRate(c *gin.Context) {
	workflowID := c.Param("workflow")
	rate, err := h.deps.Evolution.CalculateSuccessRate(c.Request.Context(), workflowID)
	if err != nil {
		h.fail(c, "Failed to calculate success rate", err)
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: SuccessRateResponse{WorkflowID: workflowID, SuccessRate: rate}})
}

// ExportReport handles GET /api/evolution/report
func (h *Handlers) ExportReport(c *gin.Context) {
	var buf bytes.Buffer
	if err := h.deps.Evolution.ExportReport(c.Request.Context(), &buf); err != nil {
		h.fail(c, "Failed to export report", err)
		return
	}

	filename := "outcomes-" + time.Now().UTC().Format("20060102") + ".xlsx"
	c.Header("Content-Disposition", `attachment; filename="`+filename+`"`)
	c.Data(http.StatusOK, xlsxContentType, buf.Bytes())
}

func (h *Handlers) respondState(c *gin.Context, id string) {
	state, err := h.deps.Orchestrator.GetSubtaskState(c.Request.Context(), id)
	if err != nil {
		h.fail(c, "Failed to read subtask state", err)
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: SubtaskStateResponse{ID: id, State: state}})
}

func (h *Handlers) badRequest(c *gin.Context, msg string, err error) {
	h.logger.Error("Invalid request", "path", c.FullPath(), "error", err)
	c.JSON(http.StatusBadRequest, Response{Success: false, Error: msg})
}

func (h *Handlers) fail(c *gin.Context, msg string, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error(msg, "path", c.FullPath(), "error", err)
	} else {
		h.logger.Info(msg, "path", c.FullPath(), "status", status, "error", err)
	}
	c.JSON(status, Response{Success: false, Error: err.Error()})
}

// statusFor maps domain errors to HTTP status codes. The order matters:
// a rejected definition is wrapped in ErrInvalidTransition by the engine.
func statusFor(err error) int {
	switch {
	case errors.Is(err, workflow.ErrPaused):
		return http.StatusLocked
	case errors.Is(err, workflow.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, workflow.ErrUnknownStrategy), errors.Is(err, workflow.ErrInvalidState):
		return http.StatusBadRequest
	case errors.Is(err, workflow.ErrInvalidTransition):
		return http.StatusConflict
	case errors.Is(err, workflow.ErrInvalidDefinition), errors.Is(err, service.ErrMissingPayload):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
