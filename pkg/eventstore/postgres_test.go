package eventstore

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/devflow-ai/devflow/pkg/database"
	"github.com/devflow-ai/devflow/pkg/models"
)

// newTestPostgres provisions a migrated PostgreSQL-backed store. In CI (when
// CI_DATABASE_URL is set) it connects to the external service container;
// locally it spins up a testcontainer. Tables are truncated so every test
// starts from an empty log.
func newTestPostgres(t *testing.T) *Postgres {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping database integration test in short mode")
	}

	ctx := context.Background()

	connStr := os.Getenv("CI_DATABASE_URL")
	if connStr == "" {
		pgContainer, err := postgres.Run(ctx,
			"postgres:16-alpine",
			postgres.WithDatabase("test"),
			postgres.WithUsername("test"),
			postgres.WithPassword("test"),
			testcontainers.WithWaitStrategy(
				wait.ForLog("database system is ready to accept connections").
					WithOccurrence(2).
					WithStartupTimeout(30*time.Second)),
		)
		require.NoError(t, err)
		t.Cleanup(func() {
			if err := testcontainers.TerminateContainer(pgContainer); err != nil {
				t.Logf("failed to terminate container: %v", err)
			}
		})

		connStr, err = pgContainer.ConnectionString(ctx, "sslmode=disable")
		require.NoError(t, err)
	}

	client, err := database.NewClient(ctx, database.Config{URL: connStr, Migrate: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	_, err = client.DB().ExecContext(ctx, "TRUNCATE events, snapshots")
	require.NoError(t, err)

	return NewPostgres(client.DB())
}

func TestPostgresAppendAssignsNextVersion(t *testing.T) {
	s := newTestPostgres(t)
	ctx := context.Background()

	e1 := taskEvent("t1", "task.created", 0)
	e1.Metadata = models.EventMetadata{Source: "api", CorrelationID: "c-1"}
	require.NoError(t, s.Append(ctx, e1))
	assert.Equal(t, int64(1), e1.Version)
	assert.NotEmpty(t, e1.ID)
	assert.False(t, e1.Timestamp.IsZero())

	e2 := taskEvent("t1", "task.started", 0)
	require.NoError(t, s.Append(ctx, e2))
	assert.Equal(t, int64(2), e2.Version)

	latest, err := s.GetLatestVersion(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), latest)

	// Data, metadata, and timestamps survive the round trip.
	got, err := s.GetEvents(ctx, "t1", 0)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "t1", got[0].Data["task_id"])
	assert.Equal(t, models.AggregateTask, got[0].AggregateType)
	assert.Equal(t, "api", got[0].Metadata.Source)
	assert.Equal(t, "c-1", got[0].Metadata.CorrelationID)
	assert.WithinDuration(t, e1.Timestamp, got[0].Timestamp, time.Millisecond)
}

func TestPostgresAppendRejectsStaleVersion(t *testing.T) {
	s := newTestPostgres(t)
	ctx := context.Background()

	require.NoError(t, s.Append(ctx, taskEvent("t1", "task.created", 5)))

	err := s.Append(ctx, taskEvent("t1", "task.started", 5))
	require.Error(t, err)
	assert.True(t, models.IsType(err, models.ErrorConflict))

	err = s.Append(ctx, taskEvent("t1", "task.started", 3))
	assert.True(t, models.IsType(err, models.ErrorConflict))

	// Gaps are allowed as long as versions keep increasing.
	require.NoError(t, s.Append(ctx, taskEvent("t1", "task.started", 9)))
}

func TestPostgresAppendRejectsMissingAggregate(t *testing.T) {
	s := newTestPostgres(t)
	ctx := context.Background()

	err := s.Append(ctx, &models.Event{Type: "task.created"})
	assert.True(t, models.IsType(err, models.ErrorValidation))
	assert.True(t, models.IsType(s.Append(ctx, nil), models.ErrorValidation))
}

func TestPostgresAppendBatchIsAtomic(t *testing.T) {
	s := newTestPostgres(t)
	ctx := context.Background()
	require.NoError(t, s.Append(ctx, taskEvent("t1", "task.created", 0)))

	batch := []*models.Event{
		taskEvent("t1", "task.started", 0),
		taskEvent("t1", "task.completed", 1), // stale: latest will be 2
	}
	err := s.AppendBatch(ctx, batch)
	require.Error(t, err)
	assert.True(t, models.IsType(err, models.ErrorConflict))

	// Nothing from the failed batch landed, and the caller's events kept
	// their zero versions.
	events, err := s.GetEvents(ctx, "t1", 0)
	require.NoError(t, err)
	assert.Len(t, events, 1)
	assert.Equal(t, int64(0), batch[0].Version)

	ok := []*models.Event{
		taskEvent("t1", "task.started", 0),
		taskEvent("t2", "task.created", 0),
	}
	require.NoError(t, s.AppendBatch(ctx, ok))
	assert.Equal(t, int64(2), ok[0].Version)
	assert.Equal(t, int64(1), ok[1].Version)
}

func TestPostgresGetEventsFromVersion(t *testing.T) {
	s := newTestPostgres(t)
	ctx := context.Background()
	for _, typ := range []string{"task.created", "task.started", "task.completed"} {
		require.NoError(t, s.Append(ctx, taskEvent("t1", typ, 0)))
	}

	all, err := s.GetEvents(ctx, "t1", 0)
	require.NoError(t, err)
	require.Len(t, all, 3)

	tail, err := s.GetEvents(ctx, "t1", 1)
	require.NoError(t, err)
	require.Len(t, tail, 2)
	assert.Equal(t, "task.started", tail[0].Type)

	none, err := s.GetEvents(ctx, "missing", 0)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestPostgresQueryFilters(t *testing.T) {
	s := newTestPostgres(t)
	ctx := context.Background()
	require.NoError(t, s.Append(ctx, taskEvent("t1", "task.created", 0)))
	require.NoError(t, s.Append(ctx, &models.Event{
		AggregateID: "p1", AggregateType: models.AggregateProject, Type: "project.created",
	}))
	require.NoError(t, s.Append(ctx, taskEvent("t1", "task.started", 0)))

	// Unfiltered queries return global append order across aggregates.
	all, err := s.Query(ctx, models.EventFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "task.created", all[0].Type)
	assert.Equal(t, "project.created", all[1].Type)
	assert.Equal(t, "task.started", all[2].Type)

	byType, err := s.Query(ctx, models.EventFilter{EventType: "task.started"})
	require.NoError(t, err)
	require.Len(t, byType, 1)

	byAggType, err := s.Query(ctx, models.EventFilter{AggregateType: models.AggregateProject})
	require.NoError(t, err)
	require.Len(t, byAggType, 1)
	assert.Equal(t, "project.created", byAggType[0].Type)

	limited, err := s.Query(ctx, models.EventFilter{Limit: 2})
	require.NoError(t, err)
	assert.Len(t, limited, 2)

	// Since is inclusive of the stored timestamp.
	since, err := s.Query(ctx, models.EventFilter{Since: &all[2].Timestamp})
	require.NoError(t, err)
	require.NotEmpty(t, since)
	assert.Equal(t, "task.started", since[len(since)-1].Type)

	future := time.Now().Add(time.Hour)
	none, err := s.Query(ctx, models.EventFilter{Since: &future})
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestPostgresSnapshotSupersedes(t *testing.T) {
	s := newTestPostgres(t)
	ctx := context.Background()

	missing, err := s.GetSnapshot(ctx, "t1")
	require.NoError(t, err)
	assert.Nil(t, missing)

	require.NoError(t, s.SaveSnapshot(ctx, &models.Snapshot{
		AggregateID: "t1", AggregateType: models.AggregateTask, Version: 3, State: []byte(`{"n":3}`),
	}))
	require.NoError(t, s.SaveSnapshot(ctx, &models.Snapshot{
		AggregateID: "t1", AggregateType: models.AggregateTask, Version: 7, State: []byte(`{"n":7}`),
	}))

	err = s.SaveSnapshot(ctx, &models.Snapshot{AggregateID: "t1", Version: 7, State: []byte(`{}`)})
	assert.True(t, models.IsType(err, models.ErrorConflict))
	err = s.SaveSnapshot(ctx, &models.Snapshot{AggregateID: "t1", Version: 2, State: []byte(`{}`)})
	assert.True(t, models.IsType(err, models.ErrorConflict))

	snap, err := s.GetSnapshot(ctx, "t1")
	require.NoError(t, err)
	require.NotNil(t, snap)
	assert.Equal(t, int64(7), snap.Version)
	assert.JSONEq(t, `{"n":7}`, string(snap.State))
}

func TestPostgresConcurrentAppendKeepsVersionsStrict(t *testing.T) {
	s := newTestPostgres(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 25; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = s.Append(ctx, taskEvent("t1", "task.progress", 0))
		}()
	}
	wg.Wait()

	events, err := s.GetEvents(ctx, "t1", 0)
	require.NoError(t, err)
	require.Len(t, events, 25)
	for i := 1; i < len(events); i++ {
		assert.Greater(t, events[i].Version, events[i-1].Version)
	}
}

func TestPostgresDeleteAggregateRemovesHistory(t *testing.T) {
	s := newTestPostgres(t)
	ctx := context.Background()

	require.NoError(t, s.Append(ctx, taskEvent("t1", "task.created", 0)))
	require.NoError(t, s.Append(ctx, taskEvent("t1", "task.completed", 0)))
	require.NoError(t, s.Append(ctx, taskEvent("t2", "task.created", 0)))
	require.NoError(t, s.SaveSnapshot(ctx, &models.Snapshot{
		AggregateID: "t1", AggregateType: models.AggregateTask, Version: 2, State: []byte(`{"n":2}`),
	}))

	require.NoError(t, s.DeleteAggregate(ctx, "t1"))

	events, err := s.GetEvents(ctx, "t1", 0)
	require.NoError(t, err)
	assert.Empty(t, events)
	snap, err := s.GetSnapshot(ctx, "t1")
	require.NoError(t, err)
	assert.Nil(t, snap)

	// Other aggregates are untouched.
	all, err := s.Query(ctx, models.EventFilter{})
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "t2", all[0].AggregateID)

	// A deleted aggregate starts versioning from scratch.
	e := taskEvent("t1", "task.created", 0)
	require.NoError(t, s.Append(ctx, e))
	assert.Equal(t, int64(1), e.Version)

	require.NoError(t, s.DeleteAggregate(ctx, "ghost"))
}

func TestPostgresRebuildUsesSnapshotAsSeed(t *testing.T) {
	s := newTestPostgres(t)
	ctx := context.Background()
	for i := 0; i < 4; i++ {
		require.NoError(t, s.Append(ctx, taskEvent("t1", "task.progress", 0)))
	}
	require.NoError(t, SaveJSONSnapshot(ctx, s, "t1", models.AggregateTask, 3, counterState{Count: 3, Last: "task.progress", Version: 3}))

	state, version, err := Rebuild(ctx, s, "t1", countReducer, counterState{})
	require.NoError(t, err)
	// Snapshot covers versions 1-3; only version 4 replays on top.
	assert.Equal(t, 4, state.Count)
	assert.Equal(t, int64(4), version)
	assert.Len(t, state.Types, 1)
}
