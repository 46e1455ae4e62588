package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/mattmoran56/ralph-orchestrator-ui/internal/github"
	"github.com/mattmoran56/ralph-orchestrator-ui/internal/orchestrator"
	"github.com/mattmoran56/ralph-orchestrator-ui/internal/state"
	"github.com/mattmoran56/ralph-orchestrator-ui/internal/workspace"
	"github.com/mattmoran56/ralph-orchestrator-ui/pkg/models"
)

func (a *App) handleGetState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, a.state.GetState())
}

func (a *App) handleUpdateSettings(w http.ResponseWriter, r *http.Request) {
	var patch state.SettingsPatch
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid json")
		return
	}
	settings, err := a.state.UpdateSettings(patch)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, settings)
}

// --- Repositories ---

func (a *App) handleListRepos(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, a.state.GetState().Repositories)
}

func (a *App) handleCreateRepo(w http.ResponseWriter, r *http.Request) {
	var in models.Repository
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if in.URL == "" {
		writeJSONError(w, http.StatusBadRequest, "url required")
		return
	}
	repo, err := a.state.CreateRepository(in)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, repo)
}

func (a *App) handleDeleteRepo(w http.ResponseWriter, r *http.Request) {
	if err := a.state.DeleteRepository(r.PathValue("id")); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, map[string]any{"ok": true})
}

// --- Projects ---

func (a *App) handleListProjects(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, a.state.GetState().Projects)
}

func (a *App) handleCreateProject(w http.ResponseWriter, r *http.Request) {
	var in models.Project
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if in.Name == "" {
		writeJSONError(w, http.StatusBadRequest, "name required")
		return
	}
	if in.RepositoryID == "" {
		writeJSONError(w, http.StatusBadRequest, "repositoryId required")
		return
	}
	project, err := a.state.CreateProject(in)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, project)
}

func (a *App) handleGetProject(w http.ResponseWriter, r *http.Request) {
	project, err := a.state.GetProject(r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, project)
}

func (a *App) handleUpdateProject(w http.ResponseWriter, r *http.Request) {
	var patch state.ProjectPatch
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid json")
		return
	}
	project, err := a.state.UpdateProject(r.PathValue("id"), patch)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, project)
}

func (a *App) handleDeleteProject(w http.ResponseWriter, r *http.Request) {
	projectID := r.PathValue("id")
	// An active run must release its workspace before the delete.
	if err := a.orch.Stop(projectID); err != nil && !errors.Is(err, orchestrator.ErrNotRunning) {
		a.log.Warn("stop before delete failed", "project", projectID, "err", err)
	}
	if err := a.state.DeleteProject(projectID); err != nil {
		writeError(w, err)
		return
	}
	if err := a.workspaces.Remove(projectID); err != nil {
		a.log.Warn("remove workspace failed", "project", projectID, "err", err)
	}
	if a.history != nil {
		if err := a.history.DeleteProject(r.Context(), projectID); err != nil {
			a.log.Warn("delete project history failed", "project", projectID, "err", err)
		}
	}
	writeJSON(w, map[string]any{"ok": true})
}

func (a *App) handleGetLoopLogs(w http.ResponseWriter, r *http.Request) {
	logs, err := a.workspaces.ReadLogs(r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, logs)
}

func (a *App) handleClearLoopLogs(w http.ResponseWriter, r *http.Request) {
	projectID := r.PathValue("id")
	if err := a.workspaces.ClearLogs(projectID); err != nil {
		writeError(w, err)
		return
	}
	a.Hub.WorkspaceLogsChanged(projectID)
	writeJSON(w, map[string]any{"ok": true})
}

func (a *App) handleGetOrchestratorLogs(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if s := r.URL.Query().Get("limit"); s != "" {
		if n, err := strconv.Atoi(s); err == nil {
			limit = n
		}
	}
	logs, err := a.history.ListOrchestratorLogs(r.Context(), r.PathValue("id"), limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, logs)
}

// --- Tasks ---

func (a *App) handleListTasks(w http.ResponseWriter, r *http.Request) {
	projectID := r.PathValue("id")
	data, err := a.workspaces.ReadTasks(projectID)
	if errors.Is(err, workspace.ErrWorkspaceMissing) {
		// Workspace not materialized yet: serve the buffered tasks.
		writeJSON(w, a.workspaces.PendingTasks(projectID))
		return
	}
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, data.Tasks)
}

func (a *App) handleAddTask(w http.ResponseWriter, r *http.Request) {
	var in models.Task
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if in.Title == "" {
		writeJSONError(w, http.StatusBadRequest, "title required")
		return
	}
	task, err := a.workspaces.AddTask(r.PathValue("id"), in)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, task)
}

func (a *App) handleReorderTasks(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Order []string `json:"order"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if err := a.workspaces.ReorderTasks(r.PathValue("id"), body.Order); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, map[string]any{"ok": true})
}

func (a *App) handleGetTask(w http.ResponseWriter, r *http.Request) {
	data, err := a.workspaces.ReadTasks(r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	taskID := r.PathValue("taskId")
	for _, t := range data.Tasks {
		if t.ID == taskID {
			writeJSON(w, t)
			return
		}
	}
	writeJSONError(w, http.StatusNotFound, "task not found")
}

// taskPatch is the mutable subset of a task. Status changes go through the
// transition helper so the state machine and timestamps stay consistent.
type taskPatch struct {
	Title              *string   `json:"title,omitempty"`
	Description        *string   `json:"description,omitempty"`
	AcceptanceCriteria *[]string `json:"acceptanceCriteria,omitempty"`
	Priority           *int      `json:"priority,omitempty"`
	Status             *string   `json:"status,omitempty"`
}

func (a *App) handleUpdateTask(w http.ResponseWriter, r *http.Request) {
	var patch taskPatch
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid json")
		return
	}
	projectID := r.PathValue("id")
	taskID := r.PathValue("taskId")

	task, err := a.workspaces.UpdateTask(projectID, taskID, func(t *models.Task) {
		if patch.Title != nil {
			t.Title = *patch.Title
		}
		if patch.Description != nil {
			t.Description = *patch.Description
		}
		if patch.AcceptanceCriteria != nil {
			t.AcceptanceCriteria = *patch.AcceptanceCriteria
		}
		if patch.Priority != nil {
			t.Priority = *patch.Priority
		}
	})
	if err != nil {
		writeError(w, err)
		return
	}
	if patch.Status != nil && *patch.Status != task.Status {
		if !models.CanTransition(task.Status, *patch.Status) {
			writeJSONError(w, http.StatusBadRequest, "illegal status transition")
			return
		}
		task, err = a.workspaces.Transition(projectID, taskID, *patch.Status)
		if err != nil {
			writeError(w, err)
			return
		}
	}
	writeJSON(w, task)
}

func (a *App) handleDeleteTask(w http.ResponseWriter, r *http.Request) {
	if err := a.workspaces.DeleteTask(r.PathValue("id"), r.PathValue("taskId")); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, map[string]any{"ok": true})
}

func (a *App) handleGetTaskLogs(w http.ResponseWriter, r *http.Request) {
	logs, err := a.history.ListTaskLogs(r.Context(), r.PathValue("id"), r.PathValue("taskId"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, logs)
}

// --- Orchestrator ---

func (a *App) handleOrchestratorStart(w http.ResponseWriter, r *http.Request) {
	if err := a.orch.Start(r.Context(), r.PathValue("id")); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, map[string]any{"ok": true})
}

func (a *App) handleOrchestratorStop(w http.ResponseWriter, r *http.Request) {
	if err := a.orch.Stop(r.PathValue("id")); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, map[string]any{"ok": true})
}

func (a *App) handleOrchestratorPause(w http.ResponseWriter, r *http.Request) {
	if err := a.orch.Pause(r.PathValue("id")); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, map[string]any{"ok": true})
}

func (a *App) handleOrchestratorResume(w http.ResponseWriter, r *http.Request) {
	if err := a.orch.Resume(r.Context(), r.PathValue("id")); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, map[string]any{"ok": true})
}

func (a *App) handleOrchestratorStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, a.orch.Status())
}

// --- GitHub ---

func (a *App) handleGitHubAuth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, github.CheckAuth(r.Context()))
}

func (a *App) handleGitHubLogin(w http.ResponseWriter, r *http.Request) {
	if err := github.Login(r.Context()); err != nil {
		writeJSONError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, map[string]any{"ok": true})
}

func (a *App) handleGitHubRepos(w http.ResponseWriter, r *http.Request) {
	repos, err := github.ListRepos(r.Context())
	if err != nil {
		writeJSONError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, repos)
}
