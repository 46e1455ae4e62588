// Package models provides shared types for the ralphd HTTP API and the
// on-disk state files. The JSON tags match the persisted schema, so these
// types are stable for use by pkg/client and external tools.
package models

import "time"

// Repository is the identity and provenance of a remote git repository.
type Repository struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	FullName      string    `json:"fullName"` // owner/name
	URL           string    `json:"url"`
	DefaultBranch string    `json:"defaultBranch"`
	IsPrivate     bool      `json:"isPrivate"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

// Project is a unit of work inside a repository. Tasks are not embedded here;
// they live in the project workspace tasks.json.
type Project struct {
	ID               string    `json:"id"`
	RepositoryID     string    `json:"repositoryId"`
	Name             string    `json:"name"`
	Description      string    `json:"description,omitempty"`
	ProductBrief     string    `json:"productBrief,omitempty"`
	SolutionBrief    string    `json:"solutionBrief,omitempty"`
	BaseBranch       string    `json:"baseBranch,omitempty"` // overrides Repository.DefaultBranch when set
	WorkingBranch    string    `json:"workingBranch"`
	Status           string    `json:"status"`
	MaxIterations    int       `json:"maxIterations"`
	CurrentIteration int       `json:"currentIteration"`
	CreatedAt        time.Time `json:"createdAt"`
	UpdatedAt        time.Time `json:"updatedAt"`

	// RepoURL is the legacy pre-repository schema field. It is consumed by
	// the state migration on load and never written back.
	RepoURL string `json:"repoUrl,omitempty"`
}

// Task is a discrete unit of work within a project. Lower Priority runs
// earlier. Agent-run log entries are indexed separately (see TaskLogEntry)
// and are not part of the tasks.json schema.
type Task struct {
	ID                 string     `json:"id"`
	Title              string     `json:"title"`
	Description        string     `json:"description,omitempty"`
	AcceptanceCriteria []string   `json:"acceptanceCriteria,omitempty"`
	Priority           int        `json:"priority"`
	Status             string     `json:"status"`
	Attempts           int        `json:"attempts"`
	StartedAt          *time.Time `json:"startedAt,omitempty"`
	VerifyingAt        *time.Time `json:"verifyingAt,omitempty"`
	CompletedAt        *time.Time `json:"completedAt,omitempty"`
	CreatedAt          time.Time  `json:"createdAt"`
	UpdatedAt          time.Time  `json:"updatedAt"`
}

// TaskLogEntry records one agent run against a task.
type TaskLogEntry struct {
	ProjectID string    `json:"projectId"`
	TaskID    string    `json:"taskId"`
	Timestamp time.Time `json:"timestamp"`
	FilePath  string    `json:"filePath"`
	Summary   string    `json:"summary"`
	Success   bool      `json:"success"`
}

// LoopLogEntry is one entry of the per-workspace loop log (logs.json).
type LoopLogEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Iteration int       `json:"iteration"`
	TaskID    string    `json:"taskId,omitempty"`
	Action    string    `json:"action"`
	From      string    `json:"from,omitempty"`
	To        string    `json:"to,omitempty"`
	Message   string    `json:"message,omitempty"`
}

// Settings is the singleton engine configuration persisted in state.json.
type Settings struct {
	MaxParallelProjects int    `json:"maxParallelProjects"`
	MaxTaskAttempts     int    `json:"maxTaskAttempts"`
	WorkspacesPath      string `json:"workspacesPath"`
	AgentExecutable     string `json:"agentExecutable"`
}

// State is the full persisted catalog (state.json).
type State struct {
	Repositories []Repository `json:"repositories"`
	Projects     []Project    `json:"projects"`
	Settings     Settings     `json:"settings"`
}

// ProjectTasks is the tasks.json schema shared with the running agent.
type ProjectTasks struct {
	Project ProjectInfo `json:"project"`
	Tasks   []Task      `json:"tasks"`
}

// ProjectInfo is the project header embedded in tasks.json for agent context.
type ProjectInfo struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	Description   string `json:"description,omitempty"`
	ProductBrief  string `json:"productBrief,omitempty"`
	SolutionBrief string `json:"solutionBrief,omitempty"`
}

// LoopLogs is the logs.json schema.
type LoopLogs struct {
	Entries []LoopLogEntry `json:"entries"`
}

// RunState is the orchestrator's per-project run entry as exposed by the API.
type RunState struct {
	ProjectID     string `json:"projectId"`
	Status        string `json:"status"`
	CurrentTaskID string `json:"currentTaskId,omitempty"`
	Iteration     int    `json:"iteration"`
}

// OrchestratorLog is one orchestrator message for a project.
type OrchestratorLog struct {
	ProjectID string    `json:"projectId"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// GitHubRepo is one repository returned by `gh api /user/repos`.
type GitHubRepo struct {
	Name          string `json:"name"`
	NameWithOwner string `json:"nameWithOwner"`
	URL           string `json:"url"`
	IsPrivate     bool   `json:"isPrivate"`
	Owner         struct {
		Login string `json:"login"`
	} `json:"owner"`
}
