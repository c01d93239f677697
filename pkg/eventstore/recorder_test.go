package eventstore

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devflow-ai/devflow/pkg/bus"
	"github.com/devflow-ai/devflow/pkg/events"
	"github.com/devflow-ai/devflow/pkg/models"
)

func publishTask(t *testing.T, b *bus.Bus, taskID, eventType string) {
	t.Helper()
	_, err := b.Publish(context.Background(), eventType,
		map[string]any{"task_id": taskID},
		bus.WithAggregate(taskID, models.AggregateTask))
	require.NoError(t, err)
}

func TestRecorderPersistsPublishedEvents(t *testing.T) {
	b := bus.New()
	store := NewInMemory()
	rec, err := NewRecorder(store, b, RecorderConfig{})
	require.NoError(t, err)
	require.NoError(t, rec.Start())
	defer rec.Stop()

	publishTask(t, b, "t1", events.EventTaskCreated)
	publishTask(t, b, "t1", events.EventTaskStarted)
	publishTask(t, b, "t2", events.EventTaskCreated)

	got, err := store.GetEvents(context.Background(), "t1", 0)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, events.EventTaskCreated, got[0].Type)
	assert.Equal(t, events.EventTaskStarted, got[1].Type)
	// Each aggregate carries its own dense version history.
	assert.Equal(t, int64(1), got[0].Version)
	assert.Equal(t, int64(2), got[1].Version)

	other, err := store.GetEvents(context.Background(), "t2", 0)
	require.NoError(t, err)
	require.Len(t, other, 1)
	assert.Equal(t, int64(1), other[0].Version)
}

func TestRecorderStopsPersisting(t *testing.T) {
	b := bus.New()
	store := NewInMemory()
	rec, err := NewRecorder(store, b, RecorderConfig{})
	require.NoError(t, err)
	require.NoError(t, rec.Start())

	publishTask(t, b, "t1", events.EventTaskCreated)
	rec.Stop()
	publishTask(t, b, "t1", events.EventTaskStarted)

	got, err := store.GetEvents(context.Background(), "t1", 0)
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestRecorderSnapshotsOnInterval(t *testing.T) {
	b := bus.New()
	store := NewInMemory()
	type taskState struct {
		Seen int `json:"seen"`
	}
	state := &taskState{}
	rec, err := NewRecorder(store, b, RecorderConfig{
		SnapshotInterval: 3,
		Provider: func(aggregateID string) (any, models.AggregateType, bool) {
			if aggregateID != "t1" {
				return nil, "", false
			}
			return state, models.AggregateTask, true
		},
	})
	require.NoError(t, err)
	require.NoError(t, rec.Start())
	defer rec.Stop()

	for i := 0; i < 2; i++ {
		state.Seen++
		publishTask(t, b, "t1", events.EventAgentProgress)
	}
	snap, err := store.GetSnapshot(context.Background(), "t1")
	require.NoError(t, err)
	assert.Nil(t, snap, "no snapshot before the interval fills")

	state.Seen++
	publishTask(t, b, "t1", events.EventAgentProgress)

	snap, err = store.GetSnapshot(context.Background(), "t1")
	require.NoError(t, err)
	require.NotNil(t, snap)
	assert.Equal(t, int64(3), snap.Version)

	var restored taskState
	require.NoError(t, json.Unmarshal(snap.State, &restored))
	assert.Equal(t, 3, restored.Seen)
}

func TestRecorderSnapshotsOnTerminalEvents(t *testing.T) {
	b := bus.New()
	store := NewInMemory()
	rec, err := NewRecorder(store, b, RecorderConfig{
		SnapshotInterval: 100,
		Provider: func(aggregateID string) (any, models.AggregateType, bool) {
			return map[string]any{"id": aggregateID}, models.AggregateTask, true
		},
	})
	require.NoError(t, err)
	require.NoError(t, rec.Start())
	defer rec.Stop()

	publishTask(t, b, "t1", events.EventTaskCreated)
	publishTask(t, b, "t1", events.EventTaskCompleted)

	snap, err := store.GetSnapshot(context.Background(), "t1")
	require.NoError(t, err)
	require.NotNil(t, snap)
	assert.Equal(t, int64(2), snap.Version, "terminal events snapshot regardless of cadence")
}

func TestRecorderSkipsAggregatesWithoutState(t *testing.T) {
	b := bus.New()
	store := NewInMemory()
	rec, err := NewRecorder(store, b, RecorderConfig{
		SnapshotInterval: 1,
		Provider: func(string) (any, models.AggregateType, bool) {
			return nil, "", false
		},
	})
	require.NoError(t, err)
	require.NoError(t, rec.Start())
	defer rec.Stop()

	publishTask(t, b, "t1", events.EventTaskCreated)

	snap, err := store.GetSnapshot(context.Background(), "t1")
	require.NoError(t, err)
	assert.Nil(t, snap)
	got, err := store.GetEvents(context.Background(), "t1", 0)
	require.NoError(t, err)
	assert.Len(t, got, 1, "events persist even when snapshots are declined")
}

func TestRecorderValidatesDependencies(t *testing.T) {
	_, err := NewRecorder(nil, bus.New(), RecorderConfig{})
	require.Error(t, err)
	assert.True(t, models.IsType(err, models.ErrorValidation))

	_, err = NewRecorder(NewInMemory(), nil, RecorderConfig{})
	require.Error(t, err)
	assert.True(t, models.IsType(err, models.ErrorValidation))
}
