package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/mattmoran56/ralph-orchestrator-ui/pkg/models"
)

func TestHealth(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/health" || r.Method != http.MethodGet {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": true})
	}))
	defer srv.Close()

	ok, err := New(srv.URL).Health(context.Background())
	if err != nil || !ok {
		t.Fatalf("Health = %v, %v", ok, err)
	}
}

func TestErrorBodySurfaced(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		_ = json.NewEncoder(w).Encode(map[string]any{"error": "project already running"})
	}))
	defer srv.Close()

	err := New(srv.URL).StartProject(context.Background(), "p1")
	if err == nil || !strings.Contains(err.Error(), "project already running") {
		t.Fatalf("err = %v", err)
	}
}

func TestStatusOnlyError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := New(srv.URL).GetState(context.Background())
	if err == nil || !strings.Contains(err.Error(), "status 500") {
		t.Fatalf("err = %v", err)
	}
}

func TestCreateAndListRoundTrip(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method + " " + r.URL.Path {
		case "POST /api/repos":
			var in models.Repository
			if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
				t.Error(err)
			}
			in.ID = "r1"
			_ = json.NewEncoder(w).Encode(in)
		case "GET /api/repos":
			_ = json.NewEncoder(w).Encode([]models.Repository{{ID: "r1", Name: "widgets"}})
		default:
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	c := New(srv.URL)
	repo, err := c.CreateRepository(context.Background(), models.Repository{URL: "https://github.com/acme/widgets.git"})
	if err != nil || repo.ID != "r1" {
		t.Fatalf("CreateRepository = %+v, %v", repo, err)
	}
	repos, err := c.ListRepositories(context.Background())
	if err != nil || len(repos) != 1 || repos[0].Name != "widgets" {
		t.Fatalf("ListRepositories = %+v, %v", repos, err)
	}
}

func TestPathEscaping(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.EscapedPath()
		_ = json.NewEncoder(w).Encode(models.Project{})
	}))
	defer srv.Close()

	if _, err := New(srv.URL).GetProject(context.Background(), "id with spaces"); err != nil {
		t.Fatal(err)
	}
	if gotPath != "/api/projects/id%20with%20spaces" {
		t.Fatalf("path = %q", gotPath)
	}
}

func TestOrchestratorStatusAndLogsQuery(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/api/orchestrator/status":
			_ = json.NewEncoder(w).Encode(map[string]models.RunState{
				"p1": {ProjectID: "p1", Status: models.RunRunning, Iteration: 2},
			})
		case r.URL.Path == "/api/projects/p1/orchestrator-logs":
			if r.URL.Query().Get("limit") != "10" {
				t.Errorf("limit = %q", r.URL.Query().Get("limit"))
			}
			_ = json.NewEncoder(w).Encode([]models.OrchestratorLog{{ProjectID: "p1", Message: "started"}})
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	}))
	defer srv.Close()

	c := New(srv.URL)
	status, err := c.OrchestratorStatus(context.Background())
	if err != nil || status["p1"].Iteration != 2 {
		t.Fatalf("status = %+v, %v", status, err)
	}
	logs, err := c.GetOrchestratorLogs(context.Background(), "p1", 10)
	if err != nil || len(logs) != 1 || logs[0].Message != "started" {
		t.Fatalf("logs = %+v, %v", logs, err)
	}
}
