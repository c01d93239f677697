package api

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/devflow-ai/devflow/pkg/models"
	"github.com/devflow-ai/devflow/pkg/orchestrator"
)

// createTaskRequest is the body for POST /api/v1/tasks. Mode is
// case-insensitive and defaults to the active mode when empty.
type createTaskRequest struct {
	Description string `json:"description"`
	ProjectID   string `json:"project_id"`
	Mode        string `json:"mode"`
	Priority    int    `json:"priority"`
}

// createTaskHandler handles POST /api/v1/tasks.
func (s *Server) createTaskHandler(c *gin.Context) {
	var req createTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}

	id, err := s.orch.Submit(c.Request.Context(), orchestrator.SubmitRequest{
		Description: req.Description,
		ProjectID:   req.ProjectID,
		Mode:        models.Mode(strings.ToUpper(req.Mode)),
		Priority:    req.Priority,
	})
	if err != nil {
		respondError(c, err)
		return
	}

	task, err := s.orch.Get(id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, task)
}

// listTasksHandler handles GET /api/v1/tasks with optional status,
// project_id, mode, page and page_size query parameters.
func (s *Server) listTasksHandler(c *gin.Context) {
	filters, err := parseTaskFilters(c)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, s.orch.List(filters))
}

// getTaskHandler handles GET /api/v1/tasks/:id.
func (s *Server) getTaskHandler(c *gin.Context) {
	task, err := s.orch.Get(c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, task)
}

// cancelTaskHandler handles DELETE /api/v1/tasks/:id. Cancelling a task
// that already reached a terminal state is a no-op and still succeeds.
func (s *Server) cancelTaskHandler(c *gin.Context) {
	if err := s.orch.Cancel(c.Request.Context(), c.Param("id")); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// retryTaskHandler handles POST /api/v1/tasks/:id/retry. Only failed
// tasks can be retried; the retry runs as a fresh task.
func (s *Server) retryTaskHandler(c *gin.Context) {
	id, err := s.orch.Retry(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	task, err := s.orch.Get(id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, task)
}

// approveTaskHandler handles POST /api/v1/tasks/:id/approve, releasing a
// task paused at the approval gate.
func (s *Server) approveTaskHandler(c *gin.Context) {
	if err := s.orch.Approve(c.Param("id")); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func parseTaskFilters(c *gin.Context) (models.TaskFilters, error) {
	var filters models.TaskFilters

	if v := c.Query("status"); v != "" {
		status := models.TaskStatus(strings.ToLower(v))
		switch status {
		case models.TaskPending, models.TaskAnalyzing, models.TaskPaused,
			models.TaskRunning, models.TaskCompleted, models.TaskFailed, models.TaskCancelled:
			filters.Status = status
		default:
			return filters, models.Ef(models.ErrorValidation, "unknown status %q", v)
		}
	}
	if v := c.Query("mode"); v != "" {
		m := models.Mode(strings.ToUpper(v))
		if !m.IsValid() {
			return filters, models.Ef(models.ErrorValidation, "unknown mode %q", v)
		}
		filters.Mode = m
	}
	filters.ProjectID = c.Query("project_id")

	var err error
	if filters.Page, err = parsePositiveInt(c, "page"); err != nil {
		return filters, err
	}
	if filters.PageSize, err = parsePositiveInt(c, "page_size"); err != nil {
		return filters, err
	}
	if filters.PageSize > 100 {
		filters.PageSize = 100
	}
	return filters, nil
}

// parsePositiveInt reads an optional positive integer query parameter.
// Absent parameters return 0, which the orchestrator replaces with its
// defaults.
func parsePositiveInt(c *gin.Context, name string) (int, error) {
	v := c.Query(name)
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 1 {
		return 0, models.Ef(models.ErrorValidation, "%s must be a positive integer", name)
	}
	return n, nil
}
