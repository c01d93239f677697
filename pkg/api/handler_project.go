package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/devflow-ai/devflow/pkg/models"
)

// createProjectHandler handles POST /api/v1/projects.
func (s *Server) createProjectHandler(c *gin.Context) {
	var req models.CreateProjectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}
	project, err := s.projects.Create(c.Request.Context(), req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, project)
}

// listProjectsHandler handles GET /api/v1/projects.
func (s *Server) listProjectsHandler(c *gin.Context) {
	projects := s.projects.List()
	c.JSON(http.StatusOK, gin.H{
		"projects": projects,
		"count":    len(projects),
	})
}

// getProjectHandler handles GET /api/v1/projects/:id.
func (s *Server) getProjectHandler(c *gin.Context) {
	project, err := s.projects.Get(c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, project)
}

// deleteProjectHandler handles DELETE /api/v1/projects/:id. Tasks keep
// their project_id after deletion; it just stops resolving.
func (s *Server) deleteProjectHandler(c *gin.Context) {
	if err := s.projects.Delete(c.Request.Context(), c.Param("id")); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
