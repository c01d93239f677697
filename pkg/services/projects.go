// Package services holds the thin domain services between the API surface
// and the core subsystems.
package services

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/devflow-ai/devflow/pkg/bus"
	"github.com/devflow-ai/devflow/pkg/events"
	"github.com/devflow-ai/devflow/pkg/models"
)

// ProjectService manages project records. Projects scope related tasks to
// one codebase; tasks reference them by id but run fine without one. All
// methods are safe for concurrent use.
type ProjectService struct {
	bus    *bus.Bus
	logger *slog.Logger

	mu       sync.RWMutex
	projects map[string]*models.Project
	order    []string // creation order, oldest first
}

// NewProjectService creates an empty registry. The bus is optional; without
// one, project changes are not announced.
func NewProjectService(b *bus.Bus, logger *slog.Logger) *ProjectService {
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	return &ProjectService{
		bus:      b,
		logger:   logger.With("component", "projects"),
		projects: make(map[string]*models.Project),
	}
}

// Create validates and registers a new project, publishing project.created.
// Names are unique across live projects.
func (s *ProjectService) Create(ctx context.Context, req models.CreateProjectRequest) (*models.Project, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, models.NewValidationError("name", "required")
	}
	path := strings.TrimSpace(req.Path)
	if path == "" {
		return nil, models.NewValidationError("path", "required")
	}

	project := &models.Project{
		ID:        uuid.NewString(),
		Name:      name,
		Path:      path,
		Settings:  cloneSettings(req.Settings),
		CreatedAt: time.Now().UTC(),
	}

	s.mu.Lock()
	for _, existing := range s.projects {
		if existing.Name == name {
			s.mu.Unlock()
			return nil, models.Ef(models.ErrorConflict, "project named %q already exists", name)
		}
	}
	s.projects[project.ID] = project
	s.order = append(s.order, project.ID)
	s.mu.Unlock()

	s.publish(ctx, events.EventProjectCreated, project.ID, map[string]any{
		"name": name,
		"path": path,
	})
	s.logger.Info("Project created", "project_id", project.ID, "name", name)
	return cloneProject(project), nil
}

// Get returns a copy of the project.
func (s *ProjectService) Get(id string) (*models.Project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	project, ok := s.projects[id]
	if !ok {
		return nil, models.Ef(models.ErrorNotFound, "project %s not found", id)
	}
	return cloneProject(project), nil
}

// List returns all projects in creation order.
func (s *ProjectService) List() []*models.Project {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.Project, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, cloneProject(s.projects[id]))
	}
	return out
}

// Delete removes a project and publishes project.deleted. Tasks already
// referencing the project keep their project_id; it simply stops resolving.
func (s *ProjectService) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	project, ok := s.projects[id]
	if !ok {
		s.mu.Unlock()
		return models.Ef(models.ErrorNotFound, "project %s not found", id)
	}
	delete(s.projects, id)
	for i, ordered := range s.order {
		if ordered == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	s.mu.Unlock()

	s.publish(ctx, events.EventProjectDeleted, id, map[string]any{
		"name": project.Name,
	})
	s.logger.Info("Project deleted", "project_id", id, "name", project.Name)
	return nil
}

// Count returns the number of live projects.
func (s *ProjectService) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.projects)
}

func (s *ProjectService) publish(ctx context.Context, eventType, projectID string, data map[string]any) {
	if s.bus == nil {
		return
	}
	data["project_id"] = projectID
	if ctx == nil {
		ctx = context.Background()
	}
	if _, err := s.bus.Publish(ctx, eventType, data, bus.WithAggregate(projectID, models.AggregateProject)); err != nil {
		s.logger.Warn("Event publish failed", "type", eventType, "project_id", projectID, "error", err)
	}
}

func cloneProject(p *models.Project) *models.Project {
	cp := *p
	cp.Settings = cloneSettings(p.Settings)
	return &cp
}

func cloneSettings(settings map[string]any) map[string]any {
	if settings == nil {
		return nil
	}
	cp := make(map[string]any, len(settings))
	for k, v := range settings {
		cp[k] = v
	}
	return cp
}
