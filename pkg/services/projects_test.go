package services

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devflow-ai/devflow/pkg/bus"
	"github.com/devflow-ai/devflow/pkg/models"
)

type eventSink struct {
	mu     sync.Mutex
	events []models.Event
}

func (s *eventSink) record(_ context.Context, e models.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
	return nil
}

func (s *eventSink) types() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.events))
	for i, e := range s.events {
		out[i] = e.Type
	}
	return out
}

func newTestProjects(t *testing.T) (*ProjectService, *eventSink) {
	t.Helper()
	b := bus.New()
	sink := &eventSink{}
	_, err := b.Subscribe(bus.Wildcard, sink.record)
	require.NoError(t, err)
	return NewProjectService(b, nil), sink
}

func TestCreateAssignsIDAndPublishes(t *testing.T) {
	svc, sink := newTestProjects(t)

	p, err := svc.Create(context.Background(), models.CreateProjectRequest{
		Name:     "checkout",
		Path:     "/srv/checkout",
		Settings: map[string]any{"language": "go"},
	})
	require.NoError(t, err)
	assert.NotEmpty(t, p.ID)
	assert.Equal(t, "checkout", p.Name)
	assert.False(t, p.CreatedAt.IsZero())

	require.Equal(t, []string{"project.created"}, sink.types())
	evt := sink.events[0]
	assert.Equal(t, p.ID, evt.AggregateID)
	assert.Equal(t, models.AggregateProject, evt.AggregateType)
	assert.Equal(t, p.ID, evt.Data["project_id"])
	assert.Equal(t, "checkout", evt.Data["name"])
}

func TestCreateValidatesNameAndPath(t *testing.T) {
	svc, _ := newTestProjects(t)
	ctx := context.Background()

	_, err := svc.Create(ctx, models.CreateProjectRequest{Path: "/srv/x"})
	assert.True(t, models.IsType(err, models.ErrorValidation))

	_, err = svc.Create(ctx, models.CreateProjectRequest{Name: "  ", Path: "/srv/x"})
	assert.True(t, models.IsType(err, models.ErrorValidation))

	_, err = svc.Create(ctx, models.CreateProjectRequest{Name: "x"})
	assert.True(t, models.IsType(err, models.ErrorValidation))
}

func TestCreateRejectsDuplicateName(t *testing.T) {
	svc, _ := newTestProjects(t)
	ctx := context.Background()

	_, err := svc.Create(ctx, models.CreateProjectRequest{Name: "checkout", Path: "/a"})
	require.NoError(t, err)

	_, err = svc.Create(ctx, models.CreateProjectRequest{Name: "checkout", Path: "/b"})
	assert.True(t, models.IsType(err, models.ErrorConflict))
}

func TestListReturnsCreationOrder(t *testing.T) {
	svc, _ := newTestProjects(t)
	ctx := context.Background()

	for _, name := range []string{"alpha", "beta", "gamma"} {
		_, err := svc.Create(ctx, models.CreateProjectRequest{Name: name, Path: "/srv/" + name})
		require.NoError(t, err)
	}

	list := svc.List()
	require.Len(t, list, 3)
	assert.Equal(t, "alpha", list[0].Name)
	assert.Equal(t, "gamma", list[2].Name)
	assert.Equal(t, 3, svc.Count())
}

func TestGetReturnsACopy(t *testing.T) {
	svc, _ := newTestProjects(t)

	created, err := svc.Create(context.Background(), models.CreateProjectRequest{
		Name: "checkout", Path: "/srv/checkout", Settings: map[string]any{"k": "v"},
	})
	require.NoError(t, err)

	got, err := svc.Get(created.ID)
	require.NoError(t, err)
	got.Settings["k"] = "mutated"
	got.Name = "mutated"

	again, err := svc.Get(created.ID)
	require.NoError(t, err)
	assert.Equal(t, "checkout", again.Name)
	assert.Equal(t, "v", again.Settings["k"])

	_, err = svc.Get("missing")
	assert.True(t, models.IsType(err, models.ErrorNotFound))
}

func TestDeleteRemovesAndPublishes(t *testing.T) {
	svc, sink := newTestProjects(t)
	ctx := context.Background()

	p, err := svc.Create(ctx, models.CreateProjectRequest{Name: "checkout", Path: "/srv/checkout"})
	require.NoError(t, err)

	require.NoError(t, svc.Delete(ctx, p.ID))
	assert.Equal(t, []string{"project.created", "project.deleted"}, sink.types())
	assert.Equal(t, 0, svc.Count())

	_, err = svc.Get(p.ID)
	assert.True(t, models.IsType(err, models.ErrorNotFound))
	assert.True(t, models.IsType(svc.Delete(ctx, p.ID), models.ErrorNotFound))

	// The freed name can be reused.
	_, err = svc.Create(ctx, models.CreateProjectRequest{Name: "checkout", Path: "/srv/checkout"})
	require.NoError(t, err)
}

func TestNilBusIsAllowed(t *testing.T) {
	svc := NewProjectService(nil, nil)
	p, err := svc.Create(context.Background(), models.CreateProjectRequest{Name: "quiet", Path: "/srv/quiet"})
	require.NoError(t, err)
	require.NoError(t, svc.Delete(context.Background(), p.ID))
}
