// Package client provides a Go SDK for the ralphd HTTP API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"

	"github.com/mattmoran56/ralph-orchestrator-ui/pkg/models"
)

// Client calls the ralphd HTTP API. Safe for concurrent use.
type Client struct {
	BaseURL    string       // e.g. "http://127.0.0.1:7381"
	HTTPClient *http.Client // optional; nil uses http.DefaultClient
}

// New returns a client for the given base URL.
func New(baseURL string) *Client {
	return &Client{BaseURL: baseURL}
}

func (c *Client) client() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return http.DefaultClient
}

func (c *Client) do(ctx context.Context, method, path string, body any) (*http.Response, error) {
	var bodyReader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		bodyReader = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, bodyReader)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.client().Do(req)
}

func (c *Client) doJSON(ctx context.Context, method, path string, body any, out any) error {
	resp, err := c.do(ctx, method, path, body)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var errBody struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&errBody)
		if errBody.Error != "" {
			return fmt.Errorf("api %s %s: %s", method, path, errBody.Error)
		}
		return fmt.Errorf("api %s %s: status %d", method, path, resp.StatusCode)
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

// Health returns the /health response.
func (c *Client) Health(ctx context.Context) (ok bool, err error) {
	var out struct {
		OK bool `json:"ok"`
	}
	err = c.doJSON(ctx, http.MethodGet, "/health", nil, &out)
	return out.OK, err
}

// GetState returns the full catalog.
func (c *Client) GetState(ctx context.Context) (*models.State, error) {
	var out models.State
	err := c.doJSON(ctx, http.MethodGet, "/api/state", nil, &out)
	return &out, err
}

// UpdateSettings applies a partial settings update. Nil map fields are left
// unchanged by the server.
func (c *Client) UpdateSettings(ctx context.Context, patch map[string]any) (*models.Settings, error) {
	var out models.Settings
	err := c.doJSON(ctx, http.MethodPut, "/api/settings", patch, &out)
	return &out, err
}

// ListRepositories returns the repository catalog.
func (c *Client) ListRepositories(ctx context.Context) ([]models.Repository, error) {
	var out []models.Repository
	err := c.doJSON(ctx, http.MethodGet, "/api/repos", nil, &out)
	return out, err
}

// CreateRepository registers a repository.
func (c *Client) CreateRepository(ctx context.Context, in models.Repository) (*models.Repository, error) {
	var out models.Repository
	err := c.doJSON(ctx, http.MethodPost, "/api/repos", in, &out)
	return &out, err
}

// DeleteRepository removes a repository (fails while projects reference it).
func (c *Client) DeleteRepository(ctx context.Context, id string) error {
	return c.doJSON(ctx, http.MethodDelete, "/api/repos/"+url.PathEscape(id), nil, nil)
}

// ListProjects returns all projects.
func (c *Client) ListProjects(ctx context.Context) ([]models.Project, error) {
	var out []models.Project
	err := c.doJSON(ctx, http.MethodGet, "/api/projects", nil, &out)
	return out, err
}

// CreateProject creates a project.
func (c *Client) CreateProject(ctx context.Context, in models.Project) (*models.Project, error) {
	var out models.Project
	err := c.doJSON(ctx, http.MethodPost, "/api/projects", in, &out)
	return &out, err
}

// GetProject returns one project.
func (c *Client) GetProject(ctx context.Context, id string) (*models.Project, error) {
	var out models.Project
	err := c.doJSON(ctx, http.MethodGet, "/api/projects/"+url.PathEscape(id), nil, &out)
	return &out, err
}

// UpdateProject applies a partial project update.
func (c *Client) UpdateProject(ctx context.Context, id string, patch map[string]any) (*models.Project, error) {
	var out models.Project
	err := c.doJSON(ctx, http.MethodPatch, "/api/projects/"+url.PathEscape(id), patch, &out)
	return &out, err
}

// DeleteProject deletes a project, its workspace, and its history.
func (c *Client) DeleteProject(ctx context.Context, id string) error {
	return c.doJSON(ctx, http.MethodDelete, "/api/projects/"+url.PathEscape(id), nil, nil)
}

// GetLoopLogs returns the project's workspace loop log.
func (c *Client) GetLoopLogs(ctx context.Context, projectID string) (*models.LoopLogs, error) {
	var out models.LoopLogs
	err := c.doJSON(ctx, http.MethodGet, "/api/projects/"+url.PathEscape(projectID)+"/loop-logs", nil, &out)
	return &out, err
}

// ClearLoopLogs truncates the project's workspace loop log.
func (c *Client) ClearLoopLogs(ctx context.Context, projectID string) error {
	return c.doJSON(ctx, http.MethodPost, "/api/projects/"+url.PathEscape(projectID)+"/loop-logs/clear", nil, nil)
}

// GetOrchestratorLogs returns orchestrator messages for a project
// (limit 0 = all).
func (c *Client) GetOrchestratorLogs(ctx context.Context, projectID string, limit int) ([]models.OrchestratorLog, error) {
	path := "/api/projects/" + url.PathEscape(projectID) + "/orchestrator-logs"
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	var out []models.OrchestratorLog
	err := c.doJSON(ctx, http.MethodGet, path, nil, &out)
	return out, err
}

// ListTasks returns the project's tasks.
func (c *Client) ListTasks(ctx context.Context, projectID string) ([]models.Task, error) {
	var out []models.Task
	err := c.doJSON(ctx, http.MethodGet, "/api/projects/"+url.PathEscape(projectID)+"/tasks", nil, &out)
	return out, err
}

// AddTask appends a task to the project.
func (c *Client) AddTask(ctx context.Context, projectID string, in models.Task) (*models.Task, error) {
	var out models.Task
	err := c.doJSON(ctx, http.MethodPost, "/api/projects/"+url.PathEscape(projectID)+"/tasks", in, &out)
	return &out, err
}

// UpdateTask applies a partial task update.
func (c *Client) UpdateTask(ctx context.Context, projectID, taskID string, patch map[string]any) (*models.Task, error) {
	var out models.Task
	err := c.doJSON(ctx, http.MethodPatch, "/api/projects/"+url.PathEscape(projectID)+"/tasks/"+url.PathEscape(taskID), patch, &out)
	return &out, err
}

// DeleteTask removes a task.
func (c *Client) DeleteTask(ctx context.Context, projectID, taskID string) error {
	return c.doJSON(ctx, http.MethodDelete, "/api/projects/"+url.PathEscape(projectID)+"/tasks/"+url.PathEscape(taskID), nil, nil)
}

// ReorderTasks assigns task priorities following the given id order.
func (c *Client) ReorderTasks(ctx context.Context, projectID string, order []string) error {
	body := map[string]any{"order": order}
	return c.doJSON(ctx, http.MethodPost, "/api/projects/"+url.PathEscape(projectID)+"/tasks/reorder", body, nil)
}

// GetTaskLogs returns the agent-run log index for a task.
func (c *Client) GetTaskLogs(ctx context.Context, projectID, taskID string) ([]models.TaskLogEntry, error) {
	var out []models.TaskLogEntry
	err := c.doJSON(ctx, http.MethodGet, "/api/projects/"+url.PathEscape(projectID)+"/tasks/"+url.PathEscape(taskID)+"/logs", nil, &out)
	return out, err
}

// StartProject starts the orchestrator loop for a project.
func (c *Client) StartProject(ctx context.Context, projectID string) error {
	return c.doJSON(ctx, http.MethodPost, "/api/orchestrator/"+url.PathEscape(projectID)+"/start", nil, nil)
}

// StopProject stops the orchestrator loop for a project.
func (c *Client) StopProject(ctx context.Context, projectID string) error {
	return c.doJSON(ctx, http.MethodPost, "/api/orchestrator/"+url.PathEscape(projectID)+"/stop", nil, nil)
}

// PauseProject pauses the orchestrator loop for a project.
func (c *Client) PauseProject(ctx context.Context, projectID string) error {
	return c.doJSON(ctx, http.MethodPost, "/api/orchestrator/"+url.PathEscape(projectID)+"/pause", nil, nil)
}

// ResumeProject resumes a paused project.
func (c *Client) ResumeProject(ctx context.Context, projectID string) error {
	return c.doJSON(ctx, http.MethodPost, "/api/orchestrator/"+url.PathEscape(projectID)+"/resume", nil, nil)
}

// OrchestratorStatus returns the run state of every active project.
func (c *Client) OrchestratorStatus(ctx context.Context) (map[string]models.RunState, error) {
	var out map[string]models.RunState
	err := c.doJSON(ctx, http.MethodGet, "/api/orchestrator/status", nil, &out)
	return out, err
}

// GitHubRepos lists the authenticated user's repositories via gh.
func (c *Client) GitHubRepos(ctx context.Context) ([]models.GitHubRepo, error) {
	var out []models.GitHubRepo
	err := c.doJSON(ctx, http.MethodGet, "/api/github/repos", nil, &out)
	return out, err
}
