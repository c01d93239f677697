package events

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devflow-ai/devflow/pkg/masking"
)

func newRedactedBroadcaster(t *testing.T) (*recordingBroadcaster, Broadcaster) {
	t.Helper()
	redactor, err := masking.NewRedactor()
	require.NoError(t, err)
	rec := &recordingBroadcaster{}
	return rec, NewRedactingBroadcaster(rec, redactor)
}

func TestBroadcastPayloadsAreRedacted(t *testing.T) {
	b, m := newTestManager(t, 0)
	rec, wrapped := newRedactedBroadcaster(t)
	m.SetBroadcaster(wrapped)

	publishForTask(t, b, EventAgentLog, "t-7", map[string]any{
		"agent":   "implement",
		"message": "connecting with api_key=sk_live_abcdef123456789012",
	})

	rec.mu.Lock()
	defer rec.mu.Unlock()
	require.NotEmpty(t, rec.calls)
	for _, call := range rec.calls {
		payload := string(call.payload)
		assert.NotContains(t, payload, "sk_live_abcdef123456789012")
		assert.Contains(t, payload, "__MASKED_API_KEY__")
		require.True(t, json.Valid(call.payload), "redacted payload must stay JSON: %s", payload)
	}

	// The secret is scrubbed from the transport copy only; replay sources
	// keep the original.
	var wire map[string]any
	require.NoError(t, json.Unmarshal(rec.calls[0].payload, &wire))
	assert.Equal(t, EventAgentLog, wire["type"])
	assert.Equal(t, "implement", wire["data"].(map[string]any)["agent"])
}

func TestCleanBroadcastsPassThroughUntouched(t *testing.T) {
	b, m := newTestManager(t, 0)
	rec, wrapped := newRedactedBroadcaster(t)
	m.SetBroadcaster(wrapped)

	publishForTask(t, b, EventTaskCompleted, "t-8", map[string]any{"files_modified": 3.0})

	rec.mu.Lock()
	defer rec.mu.Unlock()
	require.NotEmpty(t, rec.calls)

	var wire Envelope
	require.NoError(t, json.Unmarshal(rec.calls[0].payload, &wire))
	assert.Equal(t, EventTaskCompleted, wire.Type)
	assert.Equal(t, "t-8", wire.TaskID)
	assert.Equal(t, 3.0, wire.Data["files_modified"])
}
