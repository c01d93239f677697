package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/devflow-ai/devflow/pkg/provider"
	"github.com/devflow-ai/devflow/pkg/version"
)

const (
	healthStatusHealthy   = "healthy"
	healthStatusDegraded  = "degraded"
	healthStatusUnhealthy = "unhealthy"
	healthStatusDisabled  = "disabled"
)

// HealthCheck is the probed status of one subsystem.
type HealthCheck struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status        string      `json:"status"`
	Version       string      `json:"version"`
	Database      HealthCheck `json:"database"`
	Cache         HealthCheck `json:"cache"`
	Provider      HealthCheck `json:"provider"`
	LocalProvider HealthCheck `json:"local_provider"`
}

// healthHandler handles GET /health.
// Only a failing database marks the process unhealthy and returns 503.
// Provider and cache problems degrade the status but keep the response
// at 200, so an external outage never makes a supervisor restart us.
func (s *Server) healthHandler(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	resp := HealthResponse{Status: healthStatusHealthy, Version: version.GitCommit}

	resp.Database = HealthCheck{Status: healthStatusDisabled}
	if s.health.Database != nil {
		if _, err := s.health.Database.Health(ctx); err != nil {
			resp.Status = healthStatusUnhealthy
			resp.Database = HealthCheck{Status: healthStatusUnhealthy, Message: err.Error()}
		} else {
			resp.Database = HealthCheck{Status: healthStatusHealthy}
		}
	}

	resp.Cache = HealthCheck{Status: healthStatusDisabled}
	if s.health.Cache != nil {
		h := s.health.Cache.HealthCheck(ctx)
		resp.Cache = HealthCheck{Status: healthStatusHealthy, Message: h.Backend}
		if !h.Healthy {
			resp.Cache.Status = healthStatusDegraded
			resp.Status = degrade(resp.Status)
		}
	}

	var degraded bool
	resp.Provider, degraded = providerCheck(ctx, s.health.Provider)
	if degraded {
		resp.Status = degrade(resp.Status)
	}
	resp.LocalProvider, degraded = providerCheck(ctx, s.health.Local)
	if degraded {
		resp.Status = degrade(resp.Status)
	}

	httpStatus := http.StatusOK
	if resp.Status == healthStatusUnhealthy {
		httpStatus = http.StatusServiceUnavailable
	}
	c.JSON(httpStatus, resp)
}

// providerCheck probes one provider and reports whether it should
// degrade the overall status.
func providerCheck(ctx context.Context, p provider.Provider) (HealthCheck, bool) {
	if p == nil {
		return HealthCheck{Status: healthStatusDisabled}, false
	}
	h := p.HealthCheck(ctx)
	if !h.Healthy {
		return HealthCheck{Status: healthStatusDegraded, Message: h.Error}, true
	}
	return HealthCheck{Status: healthStatusHealthy}, false
}

// degrade lowers a healthy status to degraded; unhealthy stays put.
func degrade(status string) string {
	if status == healthStatusHealthy {
		return healthStatusDegraded
	}
	return status
}
