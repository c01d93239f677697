// Package api exposes the HTTP surface: the task, mode, project and
// monitoring endpoints under /api/v1, the WebSocket event feed, the
// Prometheus scrape endpoint, and health.
package api

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/devflow-ai/devflow/pkg/cache"
	"github.com/devflow-ai/devflow/pkg/config"
	"github.com/devflow-ai/devflow/pkg/cost"
	"github.com/devflow-ai/devflow/pkg/database"
	"github.com/devflow-ai/devflow/pkg/events"
	"github.com/devflow-ai/devflow/pkg/metrics"
	"github.com/devflow-ai/devflow/pkg/mode"
	"github.com/devflow-ai/devflow/pkg/models"
	"github.com/devflow-ai/devflow/pkg/orchestrator"
	"github.com/devflow-ai/devflow/pkg/provider"
	"github.com/devflow-ai/devflow/pkg/services"
)

// HealthSources lists the subsystems the health endpoint probes. Nil
// fields report as disabled and never affect the overall status.
type HealthSources struct {
	Database *database.Client
	Cache    *cache.Cache
	Provider provider.Provider
	Local    provider.Provider
}

// Deps carries the subsystems the API serves. Orchestrator, Modes,
// Projects and Tracker are required; Hub and the health sources are
// optional and their endpoints degrade gracefully when absent.
type Deps struct {
	Orchestrator *orchestrator.Orchestrator
	Modes        *mode.Manager
	Projects     *services.ProjectService
	Tracker      *cost.Tracker
	Hub          *events.ConnectionManager
	Health       HealthSources
	Logger       *slog.Logger
}

// Server is the HTTP server over the orchestrator and its surrounding
// subsystems.
type Server struct {
	cfg      config.ServerConfig
	orch     *orchestrator.Orchestrator
	modes    *mode.Manager
	projects *services.ProjectService
	tracker  *cost.Tracker
	hub      *events.ConnectionManager
	health   HealthSources
	logger   *slog.Logger

	engine  *gin.Engine
	httpSrv *http.Server
}

// NewServer assembles the router and the underlying http.Server. It does
// not start listening; call Start for that.
func NewServer(cfg config.ServerConfig, deps Deps) (*Server, error) {
	if deps.Orchestrator == nil || deps.Modes == nil || deps.Projects == nil || deps.Tracker == nil {
		return nil, models.E(models.ErrorValidation,
			"api server needs an orchestrator, a mode manager, a project service, and a cost tracker")
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}

	s := &Server{
		cfg:      cfg,
		orch:     deps.Orchestrator,
		modes:    deps.Modes,
		projects: deps.Projects,
		tracker:  deps.Tracker,
		hub:      deps.Hub,
		health:   deps.Health,
		logger:   logger.With("component", "api"),
	}
	s.engine = s.buildEngine()
	s.httpSrv = &http.Server{
		Addr:              cfg.Addr(),
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s, nil
}

func (s *Server) buildEngine() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	e := gin.New()
	e.Use(gin.Recovery())
	e.Use(securityHeaders())
	e.Use(corsMiddleware(s.cfg.CORSOrigins))
	e.Use(requestMetrics())

	e.GET("/health", s.healthHandler)
	e.GET("/ws", s.websocketHandler)
	e.GET("/metrics", gin.WrapH(metrics.Handler()))

	v1 := e.Group("/api/v1")

	tasks := v1.Group("/tasks")
	tasks.POST("", s.createTaskHandler)
	tasks.GET("", s.listTasksHandler)
	tasks.GET("/:id", s.getTaskHandler)
	tasks.DELETE("/:id", s.cancelTaskHandler)
	tasks.POST("/:id/retry", s.retryTaskHandler)
	tasks.POST("/:id/approve", s.approveTaskHandler)

	modes := v1.Group("/modes")
	modes.GET("", s.listModesHandler)
	modes.GET("/current", s.currentModeHandler)
	modes.POST("/switch", s.switchModeHandler)
	modes.GET("/:mode", s.getModeHandler)
	modes.PUT("/:mode", s.updateModeHandler)

	projects := v1.Group("/projects")
	projects.POST("", s.createProjectHandler)
	projects.GET("", s.listProjectsHandler)
	projects.GET("/:id", s.getProjectHandler)
	projects.DELETE("/:id", s.deleteProjectHandler)

	monitoring := v1.Group("/monitoring")
	monitoring.GET("/stats", s.statsHandler)
	monitoring.GET("/costs", s.costsHandler)

	return e
}

// Handler returns the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Start listens on the configured address and blocks until the server
// stops. A clean shutdown returns nil.
func (s *Server) Start() error {
	s.logger.Info("API server listening", "addr", s.httpSrv.Addr)
	err := s.httpSrv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown drains in-flight requests until ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("API server shutting down")
	return s.httpSrv.Shutdown(ctx)
}
