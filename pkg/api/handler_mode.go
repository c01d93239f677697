package api

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/devflow-ai/devflow/pkg/config"
	"github.com/devflow-ai/devflow/pkg/models"
)

// listModesHandler handles GET /api/v1/modes.
func (s *Server) listModesHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"modes":   s.modes.List(),
		"current": s.modes.Current(),
	})
}

// currentModeHandler handles GET /api/v1/modes/current.
func (s *Server) currentModeHandler(c *gin.Context) {
	current := s.modes.Current()
	cfg, err := s.modes.Config(current)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"mode": current, "config": cfg})
}

// switchModeRequest is the body for POST /api/v1/modes/switch.
type switchModeRequest struct {
	Mode string `json:"mode"`
}

// switchModeHandler handles POST /api/v1/modes/switch. The switch
// drains per the mode's strategy before new work resumes; a concurrent
// switch gets a conflict.
func (s *Server) switchModeHandler(c *gin.Context) {
	var req switchModeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}
	target, err := parseMode(req.Mode)
	if err != nil {
		respondError(c, err)
		return
	}
	if err := s.modes.SwitchMode(c.Request.Context(), target); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"mode": target})
}

// getModeHandler handles GET /api/v1/modes/:mode.
func (s *Server) getModeHandler(c *gin.Context) {
	m, err := parseMode(c.Param("mode"))
	if err != nil {
		respondError(c, err)
		return
	}
	cfg, err := s.modes.Config(m)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"mode":   m,
		"config": cfg,
		"active": m == s.modes.Current(),
	})
}

// updateModeHandler handles PUT /api/v1/modes/:mode. The body is a
// partial override; omitted fields keep their current values and the
// merged config is validated before it replaces the old one.
func (s *Server) updateModeHandler(c *gin.Context) {
	m, err := parseMode(c.Param("mode"))
	if err != nil {
		respondError(c, err)
		return
	}
	var patch config.ModeOverride
	if err := c.ShouldBindJSON(&patch); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}
	cfg, err := s.modes.UpdateConfig(c.Request.Context(), m, &patch)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"mode": m, "config": cfg})
}

func parseMode(v string) (models.Mode, error) {
	m := models.Mode(strings.ToUpper(strings.TrimSpace(v)))
	if !m.IsValid() {
		return "", models.Ef(models.ErrorValidation, "unknown mode %q", v)
	}
	return m, nil
}
