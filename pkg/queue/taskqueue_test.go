package queue

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devflow-ai/devflow/pkg/models"
)

func TestTaskQueueAvailabilityFollowsDependencies(t *testing.T) {
	q := NewTaskQueue()
	require.NoError(t, q.AddTask("design", nil))
	require.NoError(t, q.AddTask("build", []string{"design"}))
	require.NoError(t, q.AddTask("verify", []string{"design", "build"}))

	assert.Equal(t, []string{"design"}, q.AvailableTasks())
	assert.False(t, q.IsComplete())

	require.NoError(t, q.MarkCompleted("design"))
	assert.Equal(t, []string{"build"}, q.AvailableTasks())

	require.NoError(t, q.MarkCompleted("build"))
	assert.Equal(t, []string{"verify"}, q.AvailableTasks())

	require.NoError(t, q.MarkCompleted("verify"))
	assert.Empty(t, q.AvailableTasks())
	assert.True(t, q.IsComplete())
	assert.Empty(t, q.Remaining())
}

func TestTaskQueueIndependentTasksAllAvailable(t *testing.T) {
	q := NewTaskQueue()
	require.NoError(t, q.AddTask("a", nil))
	require.NoError(t, q.AddTask("b", nil))
	require.NoError(t, q.AddTask("c", nil))

	assert.Equal(t, []string{"a", "b", "c"}, q.AvailableTasks())

	require.NoError(t, q.MarkCompleted("b"))
	assert.Equal(t, []string{"a", "c"}, q.AvailableTasks())
	assert.Equal(t, []string{"a", "c"}, q.Remaining())
}

func TestTaskQueueDuplicateAddRejected(t *testing.T) {
	q := NewTaskQueue()
	require.NoError(t, q.AddTask("once", nil))

	err := q.AddTask("once", nil)
	require.Error(t, err)
	assert.True(t, models.IsType(err, models.ErrorConflict))
}

func TestTaskQueueEmptyIDRejected(t *testing.T) {
	q := NewTaskQueue()
	err := q.AddTask("", nil)
	require.Error(t, err)
	assert.True(t, models.IsType(err, models.ErrorValidation))
}

func TestTaskQueueMarkUnknownTaskNotFound(t *testing.T) {
	q := NewTaskQueue()
	err := q.MarkCompleted("ghost")
	require.Error(t, err)
	assert.True(t, models.IsType(err, models.ErrorNotFound))
}

func TestTaskQueueMarkCompletedIsIdempotent(t *testing.T) {
	q := NewTaskQueue()
	require.NoError(t, q.AddTask("solo", nil))
	require.NoError(t, q.MarkCompleted("solo"))
	require.NoError(t, q.MarkCompleted("solo"))
	assert.True(t, q.IsComplete())
}

func TestTaskQueueEmptyIsComplete(t *testing.T) {
	q := NewTaskQueue()
	assert.True(t, q.IsComplete())
	assert.Empty(t, q.AvailableTasks())
	assert.Empty(t, q.Remaining())
}

func TestTaskQueueUnknownDependencyNeverAvailable(t *testing.T) {
	q := NewTaskQueue()
	require.NoError(t, q.AddTask("orphaned", []string{"never-added"}))

	assert.Empty(t, q.AvailableTasks())
	assert.Equal(t, []string{"orphaned"}, q.Remaining())
	assert.False(t, q.IsComplete())
}
