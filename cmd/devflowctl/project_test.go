package main

import (
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devflow-ai/devflow/pkg/models"
)

func TestProjectCreateRequiresFlags(t *testing.T) {
	resetCLI(t)
	_, err := execCLI("project", "create", "--name", "api")
	require.Error(t, err, "path is required")
}

func TestProjectCreateAndList(t *testing.T) {
	resetCLI(t)
	var got models.CreateProjectRequest
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/projects", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		respondJSON(t, w, http.StatusCreated, models.Project{
			ID: "p-1", Name: got.Name, Path: got.Path, CreatedAt: time.Now().UTC(),
		})
	})
	mux.HandleFunc("GET /api/v1/projects", func(w http.ResponseWriter, r *http.Request) {
		respondJSON(t, w, http.StatusOK, map[string]any{
			"projects": []models.Project{
				{ID: "p-1", Name: "api", Path: "/srv/api", CreatedAt: time.Now().UTC()},
			},
			"count": 1,
		})
	})
	newAPIServer(t, mux)

	out, err := execCLI("project", "create", "--name", "api", "--path", "/srv/api")
	require.NoError(t, err)
	assert.Equal(t, "api", got.Name)
	assert.Equal(t, "/srv/api", got.Path)
	assert.Contains(t, out, "Project p-1 created (api → /srv/api)")

	out, err = execCLI("project", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "p-1")
	assert.Contains(t, out, "/srv/api")
}

func TestProjectInitUsesWorkingDirectory(t *testing.T) {
	resetCLI(t)
	dir := t.TempDir()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(wd) })

	var got models.CreateProjectRequest
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/projects", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		respondJSON(t, w, http.StatusCreated, models.Project{
			ID: "p-2", Name: got.Name, Path: got.Path, CreatedAt: time.Now().UTC(),
		})
	})
	newAPIServer(t, mux)

	_, err = execCLI("project", "init")
	require.NoError(t, err)

	// Resolve symlinks before comparing: on some systems TempDir returns
	// a symlinked path while Getwd reports the resolved one.
	wantPath, err := filepath.EvalSymlinks(dir)
	require.NoError(t, err)
	gotPath, err := filepath.EvalSymlinks(got.Path)
	require.NoError(t, err)
	assert.Equal(t, wantPath, gotPath)
	assert.Equal(t, filepath.Base(got.Path), got.Name)
}

func TestProjectDelete(t *testing.T) {
	resetCLI(t)
	mux := http.NewServeMux()
	mux.HandleFunc("DELETE /api/v1/projects/p-1", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	newAPIServer(t, mux)

	out, err := execCLI("project", "delete", "p-1")
	require.NoError(t, err)
	assert.Contains(t, out, "Project p-1 deleted")
}
