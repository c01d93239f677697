package api

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devflow-ai/devflow/pkg/models"
)

func TestListModes(t *testing.T) {
	f := newFixture(t)

	rec := f.do(http.MethodGet, "/api/v1/modes", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Modes []struct {
			Mode   models.Mode       `json:"mode"`
			Config models.ModeConfig `json:"config"`
			Active bool              `json:"active"`
		} `json:"modes"`
		Current models.Mode `json:"current"`
	}
	f.decode(rec, &resp)

	assert.Equal(t, models.ModeSpeed, resp.Current)
	require.Len(t, resp.Modes, len(models.AllModes()))
	active := 0
	for _, m := range resp.Modes {
		if m.Active {
			active++
			assert.Equal(t, models.ModeSpeed, m.Mode)
		}
	}
	assert.Equal(t, 1, active)
}

func TestCurrentMode(t *testing.T) {
	f := newFixture(t)

	rec := f.do(http.MethodGet, "/api/v1/modes/current", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Mode   models.Mode       `json:"mode"`
		Config models.ModeConfig `json:"config"`
	}
	f.decode(rec, &resp)
	assert.Equal(t, models.ModeSpeed, resp.Mode)
	assert.False(t, resp.Config.RequiresHumanApproval)
}

func TestGetMode(t *testing.T) {
	f := newFixture(t)

	rec := f.do(http.MethodGet, "/api/v1/modes/quality", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Mode   models.Mode       `json:"mode"`
		Config models.ModeConfig `json:"config"`
		Active bool              `json:"active"`
	}
	f.decode(rec, &resp)
	assert.Equal(t, models.ModeQuality, resp.Mode)
	assert.True(t, resp.Config.RequiresHumanApproval)
	assert.False(t, resp.Active)

	rec = f.do(http.MethodGet, "/api/v1/modes/warp", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "unknown mode")
}

func TestSwitchMode(t *testing.T) {
	f := newFixture(t)

	rec := f.do(http.MethodPost, "/api/v1/modes/switch", map[string]any{"mode": "quality"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = f.do(http.MethodGet, "/api/v1/modes/current", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Mode models.Mode `json:"mode"`
	}
	f.decode(rec, &resp)
	assert.Equal(t, models.ModeQuality, resp.Mode)

	rec = f.do(http.MethodPost, "/api/v1/modes/switch", map[string]any{"mode": "warp"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.doRaw(http.MethodPost, "/api/v1/modes/switch", "{broken")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUpdateModePatchesConfig(t *testing.T) {
	f := newFixture(t)

	rec := f.do(http.MethodPut, "/api/v1/modes/speed", map[string]any{"max_retries": 5})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp struct {
		Mode   models.Mode       `json:"mode"`
		Config models.ModeConfig `json:"config"`
	}
	f.decode(rec, &resp)
	assert.Equal(t, 5, resp.Config.MaxRetries)

	// The update sticks.
	rec = f.do(http.MethodGet, "/api/v1/modes/speed", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	f.decode(rec, &resp)
	assert.Equal(t, 5, resp.Config.MaxRetries)
}

func TestUpdateModeRejectsInvalidPatch(t *testing.T) {
	f := newFixture(t)

	rec := f.do(http.MethodPut, "/api/v1/modes/speed", map[string]any{"task_timeout": "soon"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(http.MethodPut, "/api/v1/modes/warp", map[string]any{"max_retries": 1})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "unknown mode")
}
