package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// statsHandler handles GET /api/v1/monitoring/stats with a live snapshot
// of task counts, queue depth and spend.
func (s *Server) statsHandler(c *gin.Context) {
	c.JSON(http.StatusOK, s.orch.Stats())
}

// costsHandler handles GET /api/v1/monitoring/costs. The optional days
// parameter restricts the summary window; without it the summary covers
// everything recorded.
func (s *Server) costsHandler(c *gin.Context) {
	days, err := parsePositiveInt(c, "days")
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, s.tracker.Summarize(days))
}
