package http

import (
	"bytes"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/happy-code-egg/ruidao-sub002/internal/application/workflow"
	domainwf "github.com/happy-code-egg/ruidao-sub002/internal/domain/workflow"
	"github.com/happy-code-egg/ruidao-sub002/pkg/utils"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// maxStatusBatch bounds GET /business-statuses/:type
const maxStatusBatch = 200

// Handlers contains all HTTP request handlers
type Handlers struct {
	services Services
	logger   Logger
}

// NewHandlers creates a new Handlers instance
func NewHandlers(services Services, logger Logger) *Handlers {
	return &Handlers{services: services, logger: logger}
}

// Response represents a standard JSON response
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
	Code    string      `json:"code,omitempty"`
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
	Database  string `json:"database"`
}

// StartInstanceRequest is the body of POST /instances
type StartInstanceRequest struct {
	BusinessType  string         `json:"business_type" binding:"required"`
	BusinessID    int64          `json:"business_id" binding:"required"`
	BusinessTitle string         `json:"business_title"`
	TemplateID    *int64         `json:"workflow_template_id"`
	Discriminant  string         `json:"discriminant"`
	Assignees     map[int]string `json:"assignees"`
}

// ProcessActionRequest is the body of POST /processes/:id/actions
type ProcessActionRequest struct {
	Action          string `json:"action" binding:"required"`
	Comment         string `json:"comment"`
	BackToNodeIndex *int   `json:"back_to_node_index"`
}

// ReassignProcessRequest is the body of POST /processes/:id/reassign
type ReassignProcessRequest struct {
	AssigneeID string `json:"assignee_id" binding:"required"`
	Comment    string `json:"comment"`
}

// HealthCheck handles GET /health
func (h *Handlers) HealthCheck(c *gin.Context) {
	response := HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Database:  "ok",
	}

	if h.services.Health != nil {
		if err := h.services.Health.Ping(c.Request.Context()); err != nil {
			h.logger.Error("Health check failed", "error", err)
			response.Status = "unhealthy"
			response.Database = err.Error()
			c.JSON(http.StatusServiceUnavailable, Response{Success: false, Data: response, Error: "database unreachable"})
			return
		}
	}

	c.JSON(http.StatusOK, Response{Success: true, Data: response})
}

// StartInstance handles POST /api/v1/workflows/instances
func (h *Handlers) StartInstance(c *gin.Context) {
	actor, ok := h.requireActor(c)
	if !ok {
		return
	}

	var req StartInstanceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, "invalid request body", err)
		return
	}
	if err := utils.ValidateCode(req.BusinessType); err != nil {
		h.badRequest(c, "invalid business_type", err)
		return
	}

	inst, err := h.services.Workflow.Start(c.Request.Context(), workflow.StartRequest{
		BusinessType:  req.BusinessType,
		BusinessID:    req.BusinessID,
		BusinessTitle: utils.SanitizeString(req.BusinessTitle),
		TemplateID:    req.TemplateID,
		Discriminant:  req.Discriminant,
		CreatorID:     actor,
		Assignees:     req.Assignees,
	})
	if err != nil {
		h.fail(c, "Failed to start workflow", err)
		return
	}

	c.JSON(http.StatusCreated, Response{Success: true, Data: inst})
}

// GetInstance handles GET /api/v1/workflows/instances/:id
func (h *Handlers) GetInstance(c *gin.Context) {
	id, ok := h.pathID(c)
	if !ok {
		return
	}

	detail, err := h.services.Workflow.GetInstance(c.Request.Context(), id)
	if err != nil {
		h.fail(c, "Failed to get instance", err)
		return
	}

	c.JSON(http.StatusOK, Response{Success: true, Data: detail})
}

// CancelInstance handles POST /api/v1/workflows/instances/:id/cancel
func (h *Handlers) CancelInstance(c *gin.Context) {
	actor, ok := h.requireActor(c)
	if !ok {
		return
	}
	id, ok := h.pathID(c)
	if !ok {
		return
	}

	inst, err := h.services.Workflow.Cancel(c.Request.Context(), id, actor)
	if err != nil {
		h.fail(c, "Failed to cancel instance", err)
		return
	}

	c.JSON(http.StatusOK, Response{Success: true, Data: inst})
}

// GetHistory handles GET /api/v1/workflows/instances/:id/history
func (h *Handlers) GetHistory(c *gin.Context) {
	id, ok := h.pathID(c)
	if !ok {
		return
	}

	processes, err := h.services.Workflow.History(c.Request.Context(), id)
	if err != nil {
		h.fail(c, "Failed to get history", err)
		return
	}

	c.JSON(http.StatusOK, Response{Success: true, Data: processes})
}

// GetTimeline handles GET /api/v1/workflows/instances/:id/timeline
func (h *Handlers) GetTimeline(c *gin.Context) {
	id, ok := h.pathID(c)
	if !ok {
		return
	}

	logs, err := h.services.Workflow.Timeline(c.Request.Context(), id)
	if err != nil {
		h.fail(c, "Failed to get timeline", err)
		return
	}

	c.JSON(http.StatusOK, Response{Success: true, Data: logs})
}

// GetBackableNodes handles GET /api/v1/workflows/instances/:id/backable-nodes
func (h *Handlers) GetBackableNodes(c *gin.Context) {
	id, ok := h.pathID(c)
	if !ok {
		return
	}

	nodes, err := h.services.Workflow.GetBackableNodes(c.Request.Context(), id)
	if err != nil {
		h.fail(c, "Failed to get backable nodes", err)
		return
	}

	c.JSON(http.StatusOK, Response{Success: true, Data: nodes})
}

// ExportInstance handles GET /api/v1/workflows/instances/:id/export
func (h *Handlers) ExportInstance(c *gin.Context) {
	id, ok := h.pathID(c)
	if !ok {
		return
	}

	var buf bytes.Buffer
	if err := h.services.Export.ExportApprovalSheet(c.Request.Context(), id, &buf); err != nil {
		h.fail(c, "Failed to export instance", err)
		return
	}

	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="workflow-%d.xlsx"`, id))
	c.Data(http.StatusOK, xlsxContentType, buf.Bytes())
}

// ProcessAction handles POST /api/v1/workflows/processes/:id/actions
func (h *Handlers) ProcessAction(c *gin.Context) {
	actor, ok := h.requireActor(c)
	if !ok {
		return
	}
	id, ok := h.pathID(c)
	if !ok {
		return
	}

	var req ProcessActionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, "invalid request body", err)
		return
	}

	proc, err := h.services.Workflow.Process(c.Request.Context(), workflow.ProcessRequest{
		ProcessID:       id,
		Action:          domainwf.Action(strings.ToLower(strings.TrimSpace(req.Action))),
		Comment:         utils.SanitizeString(req.Comment),
		ActorID:         actor,
		BackToNodeIndex: req.BackToNodeIndex,
	})
	if err != nil {
		h.fail(c, "Failed to process node", err)
		return
	}

	c.JSON(http.StatusOK, Response{Success: true, Data: proc})
}

// ReassignProcess handles POST /api/v1/workflows/processes/:id/reassign
func (h *Handlers) ReassignProcess(c *gin.Context) {
	actor, ok := h.requireActor(c)
	if !ok {
		return
	}
	id, ok := h.pathID(c)
	if !ok {
		return
	}

	var req ReassignProcessRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, "invalid request body", err)
		return
	}

	proc, err := h.services.Workflow.Reassign(c.Request.Context(), workflow.ReassignRequest{
		ProcessID:  id,
		AssigneeID: req.AssigneeID,
		ActorID:    actor,
		Comment:    utils.SanitizeString(req.Comment),
	})
	if err != nil {
		h.fail(c, "Failed to reassign process", err)
		return
	}

	c.JSON(http.StatusOK, Response{Success: true, Data: proc})
}

// GetPendingTasks handles GET /api/v1/workflows/tasks/pending
func (h *Handlers) GetPendingTasks(c *gin.Context) {
	actor, ok := h.requireActor(c)
	if !ok {
		return
	}

	tasks, err := h.services.Workflow.GetPendingTasks(c.Request.Context(), actor)
	if err != nil {
		h.fail(c, "Failed to get pending tasks", err)
		return
	}

	c.JSON(http.StatusOK, Response{Success: true, Data: tasks})
}

// GetBusinessStatus handles GET /api/v1/workflows/business/:type/:id/status
func (h *Handlers) GetBusinessStatus(c *gin.Context) {
	id, ok := h.pathID(c)
	if !ok {
		return
	}

	status, err := h.services.Status.Status(c.Request.Context(), c.Param("type"), id)
	if err != nil {
		h.fail(c, "Failed to get business status", err)
		return
	}

	c.JSON(http.StatusOK, Response{Success: true, Data: status})
}

// GetBusinessStatuses handles GET /api/v1/workflows/business-statuses/:type?ids=1,2,3
func (h *Handlers) GetBusinessStatuses(c *gin.Context) {
	raw := strings.Split(c.Query("ids"), ",")
	ids := make([]int64, 0, len(raw))
	for _, s := range raw {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		id, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			h.badRequest(c, "invalid ids", err)
			return
		}
		ids = append(ids, id)
	}
	if len(ids) == 0 || len(ids) > maxStatusBatch {
		h.badRequest(c, fmt.Sprintf("ids must name 1 to %d entities", maxStatusBatch), nil)
		return
	}

	statuses, err := h.services.Status.Statuses(c.Request.Context(), c.Param("type"), ids)
	if err != nil {
		h.fail(c, "Failed to get business statuses", err)
		return
	}

	c.JSON(http.StatusOK, Response{Success: true, Data: statuses})
}

// ListTemplates handles GET /api/v1/workflows/templates?active=true
func (h *Handlers) ListTemplates(c *gin.Context) {
	activeOnly, _ := strconv.ParseBool(c.DefaultQuery("active", "false"))

	templates, err := h.services.Templates.List(c.Request.Context(), activeOnly)
	if err != nil {
		h.fail(c, "Failed to list templates", err)
		return
	}

	c.JSON(http.StatusOK, Response{Success: true, Data: templates})
}

// GetTemplate handles GET /api/v1/workflows/templates/:id
func (h *Handlers) GetTemplate(c *gin.Context) {
	id, ok := h.pathID(c)
	if !ok {
		return
	}

	tpl, err := h.services.Templates.Get(c.Request.Context(), id)
	if err != nil {
		h.fail(c, "Failed to get template", err)
		return
	}

	c.JSON(http.StatusOK, Response{Success: true, Data: tpl})
}

func (h *Handlers) requireActor(c *gin.Context) (string, bool) {
	actor := strings.TrimSpace(c.GetHeader(HeaderUserID))
	if actor == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, Response{
			Success: false,
			Error:   HeaderUserID + " header is required",
			Code:    "missing_actor",
		})
		return "", false
	}
	return actor, true
}

func (h *Handlers) pathID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		h.badRequest(c, "invalid id", err)
		return 0, false
	}
	return id, true
}

func (h *Handlers) badRequest(c *gin.Context, msg string, err error) {
	if err != nil {
		msg = msg + ": " + err.Error()
	}
	c.AbortWithStatusJSON(http.StatusBadRequest, Response{
		Success: false,
		Error:   msg,
		Code:    "invalid_argument",
	})
}

// fail writes err with the status of its kind. Internal failures hide the cause.
func (h *Handlers) fail(c *gin.Context, msg string, err error) {
	status, code := classify(err)
	text := err.Error()
	if status >= http.StatusInternalServerError {
		h.logger.Error(msg, "error", err, "path", c.Request.URL.Path, "request_id", c.GetString(HeaderRequestID))
		text = "internal error"
	}
	c.AbortWithStatusJSON(status, Response{
		Success: false,
		Error:   text,
		Code:    code,
	})
}
