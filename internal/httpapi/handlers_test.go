package httpapi

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/mattmoran56/ralph-orchestrator-ui/internal/config"
	"github.com/mattmoran56/ralph-orchestrator-ui/internal/gitx"
	"github.com/mattmoran56/ralph-orchestrator-ui/internal/orchestrator"
	"github.com/mattmoran56/ralph-orchestrator-ui/internal/state"
	"github.com/mattmoran56/ralph-orchestrator-ui/internal/store"
	"github.com/mattmoran56/ralph-orchestrator-ui/internal/workspace"
	"github.com/mattmoran56/ralph-orchestrator-ui/pkg/models"
)

func newTestServer(t *testing.T) (*httptest.Server, *state.Manager, *workspace.Store) {
	t.Helper()
	home := t.TempDir()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	st, err := state.Open(home, config.DefaultSettings(home, config.FileConfig{}), log)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = st.Close() })

	ws := workspace.NewStore(st.Settings().WorkspacesPath)
	history, err := store.Open(filepath.Join(home, "data", "history.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = history.Close() })

	hub := NewHub()
	orch := orchestrator.New(orchestrator.Options{
		State:      st,
		Workspaces: ws,
		Git:        gitx.NewDriver(ws),
		History:    history,
		Events:     hub,
		LogsDir:    filepath.Join(home, "logs"),
		Log:        log,
	})

	app := NewApp(ServerOptions{Addr: "127.0.0.1:0", Home: home, Log: log}, st, ws, orch, history, hub)
	t.Cleanup(app.Close)

	srv := httptest.NewServer(app.Server.Handler)
	t.Cleanup(srv.Close)
	return srv, st, ws
}

func doJSON(t *testing.T, method, url string, body any, out any) *http.Response {
	t.Helper()
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, url, rd)
	if err != nil {
		t.Fatal(err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("%s %s: decode: %v", method, url, err)
		}
	}
	return resp
}

func TestHealth(t *testing.T) {
	srv, _, _ := newTestServer(t)
	var body map[string]any
	resp := doJSON(t, http.MethodGet, srv.URL+"/health", nil, &body)
	if resp.StatusCode != http.StatusOK || body["ok"] != true {
		t.Fatalf("health = %d %v", resp.StatusCode, body)
	}
}

func TestRepoEndpoints(t *testing.T) {
	srv, _, _ := newTestServer(t)

	resp := doJSON(t, http.MethodPost, srv.URL+"/api/repos", map[string]any{"name": "x"}, nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("create without url = %d", resp.StatusCode)
	}

	var repo models.Repository
	resp = doJSON(t, http.MethodPost, srv.URL+"/api/repos",
		map[string]any{"url": "https://github.com/acme/widgets.git", "fullName": "acme/widgets"}, &repo)
	if resp.StatusCode != http.StatusOK || repo.ID == "" || repo.Name != "widgets" {
		t.Fatalf("create = %d %+v", resp.StatusCode, repo)
	}

	var repos []models.Repository
	doJSON(t, http.MethodGet, srv.URL+"/api/repos", nil, &repos)
	if len(repos) != 1 {
		t.Fatalf("list = %d repos", len(repos))
	}

	// A dependent project blocks the delete.
	var project models.Project
	doJSON(t, http.MethodPost, srv.URL+"/api/projects",
		map[string]any{"name": "P", "repositoryId": repo.ID}, &project)
	resp = doJSON(t, http.MethodDelete, srv.URL+"/api/repos/"+repo.ID, nil, nil)
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("delete with dependent = %d, want 409", resp.StatusCode)
	}

	doJSON(t, http.MethodDelete, srv.URL+"/api/projects/"+project.ID, nil, nil)
	resp = doJSON(t, http.MethodDelete, srv.URL+"/api/repos/"+repo.ID, nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("delete = %d", resp.StatusCode)
	}
	resp = doJSON(t, http.MethodDelete, srv.URL+"/api/repos/"+repo.ID, nil, nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("delete missing = %d, want 404", resp.StatusCode)
	}
}

func TestProjectEndpoints(t *testing.T) {
	srv, _, _ := newTestServer(t)

	var repo models.Repository
	doJSON(t, http.MethodPost, srv.URL+"/api/repos",
		map[string]any{"url": "https://github.com/acme/widgets.git"}, &repo)

	resp := doJSON(t, http.MethodPost, srv.URL+"/api/projects", map[string]any{"repositoryId": repo.ID}, nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("create without name = %d", resp.StatusCode)
	}
	resp = doJSON(t, http.MethodPost, srv.URL+"/api/projects", map[string]any{"name": "P"}, nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("create without repositoryId = %d", resp.StatusCode)
	}

	var project models.Project
	resp = doJSON(t, http.MethodPost, srv.URL+"/api/projects",
		map[string]any{"name": "Add Billing", "repositoryId": repo.ID}, &project)
	if resp.StatusCode != http.StatusOK || project.Status != models.ProjectIdle {
		t.Fatalf("create = %d %+v", resp.StatusCode, project)
	}

	var patched models.Project
	resp = doJSON(t, http.MethodPatch, srv.URL+"/api/projects/"+project.ID,
		map[string]any{"description": "invoices"}, &patched)
	if resp.StatusCode != http.StatusOK || patched.Description != "invoices" {
		t.Fatalf("patch = %d %+v", resp.StatusCode, patched)
	}

	resp = doJSON(t, http.MethodGet, srv.URL+"/api/projects/missing", nil, nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("get missing = %d, want 404", resp.StatusCode)
	}
}

func TestTaskEndpoints_pendingBuffer(t *testing.T) {
	srv, _, _ := newTestServer(t)

	var repo models.Repository
	doJSON(t, http.MethodPost, srv.URL+"/api/repos",
		map[string]any{"url": "https://github.com/acme/widgets.git"}, &repo)
	var project models.Project
	doJSON(t, http.MethodPost, srv.URL+"/api/projects",
		map[string]any{"name": "P", "repositoryId": repo.ID}, &project)

	resp := doJSON(t, http.MethodPost, srv.URL+"/api/projects/"+project.ID+"/tasks", map[string]any{}, nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("add without title = %d", resp.StatusCode)
	}

	var task models.Task
	resp = doJSON(t, http.MethodPost, srv.URL+"/api/projects/"+project.ID+"/tasks",
		map[string]any{"title": "First task"}, &task)
	if resp.StatusCode != http.StatusOK || task.ID == "" || task.Status != models.TaskBacklog {
		t.Fatalf("add = %d %+v", resp.StatusCode, task)
	}

	// No workspace yet: the list is served from the pending buffer.
	var tasks []models.Task
	resp = doJSON(t, http.MethodGet, srv.URL+"/api/projects/"+project.ID+"/tasks", nil, &tasks)
	if resp.StatusCode != http.StatusOK || len(tasks) != 1 || tasks[0].Title != "First task" {
		t.Fatalf("list = %d %+v", resp.StatusCode, tasks)
	}
}

func TestTaskEndpoints_workspaceBacked(t *testing.T) {
	srv, _, ws := newTestServer(t)

	var repo models.Repository
	doJSON(t, http.MethodPost, srv.URL+"/api/repos",
		map[string]any{"url": "https://github.com/acme/widgets.git"}, &repo)
	var project models.Project
	doJSON(t, http.MethodPost, srv.URL+"/api/projects",
		map[string]any{"name": "P", "repositoryId": repo.ID}, &project)

	if _, err := ws.EnsureRepoDir(project.ID, "widgets"); err != nil {
		t.Fatal(err)
	}
	if err := ws.InitializeRalphFolder(project.ID, models.ProjectInfo{ID: project.ID}); err != nil {
		t.Fatal(err)
	}

	var task models.Task
	doJSON(t, http.MethodPost, srv.URL+"/api/projects/"+project.ID+"/tasks",
		map[string]any{"title": "T", "priority": 2}, &task)

	var got models.Task
	resp := doJSON(t, http.MethodGet, srv.URL+"/api/projects/"+project.ID+"/tasks/"+task.ID, nil, &got)
	if resp.StatusCode != http.StatusOK || got.ID != task.ID {
		t.Fatalf("get task = %d %+v", resp.StatusCode, got)
	}

	// Field patch.
	var patched models.Task
	resp = doJSON(t, http.MethodPatch, srv.URL+"/api/projects/"+project.ID+"/tasks/"+task.ID,
		map[string]any{"title": "T2", "status": models.TaskInProgress}, &patched)
	if resp.StatusCode != http.StatusOK || patched.Title != "T2" || patched.Status != models.TaskInProgress {
		t.Fatalf("patch = %d %+v", resp.StatusCode, patched)
	}

	// Illegal transition is rejected before it mutates anything.
	resp = doJSON(t, http.MethodPatch, srv.URL+"/api/projects/"+project.ID+"/tasks/"+task.ID,
		map[string]any{"status": models.TaskDone}, nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("illegal transition = %d, want 400", resp.StatusCode)
	}

	resp = doJSON(t, http.MethodDelete, srv.URL+"/api/projects/"+project.ID+"/tasks/"+task.ID, nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("delete task = %d", resp.StatusCode)
	}
	resp = doJSON(t, http.MethodDelete, srv.URL+"/api/projects/"+project.ID+"/tasks/"+task.ID, nil, nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("delete missing task = %d, want 404", resp.StatusCode)
	}
}

func TestSettingsEndpoint(t *testing.T) {
	srv, _, _ := newTestServer(t)
	var settings models.Settings
	resp := doJSON(t, http.MethodPut, srv.URL+"/api/settings",
		map[string]any{"maxTaskAttempts": 7}, &settings)
	if resp.StatusCode != http.StatusOK || settings.MaxTaskAttempts != 7 {
		t.Fatalf("settings = %d %+v", resp.StatusCode, settings)
	}
	if settings.WorkspacesPath == "" {
		t.Error("normalized settings must carry a workspaces path")
	}
}

func TestOrchestratorEndpoints(t *testing.T) {
	srv, _, _ := newTestServer(t)

	var status map[string]models.RunState
	resp := doJSON(t, http.MethodGet, srv.URL+"/api/orchestrator/status", nil, &status)
	if resp.StatusCode != http.StatusOK || len(status) != 0 {
		t.Fatalf("status = %d %v", resp.StatusCode, status)
	}

	resp = doJSON(t, http.MethodPost, srv.URL+"/api/orchestrator/missing/start", nil, nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("start missing project = %d, want 404", resp.StatusCode)
	}
	resp = doJSON(t, http.MethodPost, srv.URL+"/api/orchestrator/missing/stop", nil, nil)
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("stop idle project = %d, want 409", resp.StatusCode)
	}
}

func TestOrchestratorLogsEndpoint(t *testing.T) {
	srv, _, _ := newTestServer(t)
	var logs []models.OrchestratorLog
	resp := doJSON(t, http.MethodGet, srv.URL+"/api/projects/p1/orchestrator-logs?limit=5", nil, &logs)
	if resp.StatusCode != http.StatusOK || len(logs) != 0 {
		t.Fatalf("orchestrator logs = %d %v", resp.StatusCode, logs)
	}
}
