package models

// Project statuses.
const (
	ProjectIdle      = "idle"
	ProjectRunning   = "running"
	ProjectPaused    = "paused"
	ProjectCompleted = "completed"
	ProjectFailed    = "failed"
)

// Task statuses.
const (
	TaskBacklog    = "backlog"
	TaskInProgress = "in_progress"
	TaskVerifying  = "verifying"
	TaskDone       = "done"
	TaskBlocked    = "blocked"
)

// Orchestrator run-entry statuses.
const (
	RunInitializing = "initializing"
	RunRunning      = "running"
	RunPaused       = "paused"
	RunStopped      = "stopped"
)

// SSE event types.
const (
	EventStateChanged         = "state_changed"
	EventLogUpdate            = "log_update"
	EventOrchestratorLog      = "orchestrator_log"
	EventWorkspaceLogsChanged = "workspace_logs_changed"
)

// Default limits.
const (
	DefaultMaxParallelProjects = 3
	DefaultMaxTaskAttempts     = 3
	DefaultMaxIterations       = 50
	DefaultSSEChannelBuffer    = 256
	DefaultAgentExecutable     = "claude"
)

// legalTaskTransitions enumerates the task state machine. A transition absent
// here is rejected by workspace.Transition.
var legalTaskTransitions = map[string][]string{
	TaskBacklog:    {TaskInProgress},
	TaskInProgress: {TaskInProgress, TaskVerifying, TaskBlocked, TaskBacklog},
	TaskVerifying:  {TaskDone, TaskInProgress, TaskBlocked, TaskBacklog},
	TaskDone:       {},
	TaskBlocked:    {TaskBacklog},
}

// CanTransition reports whether a task may move from one status to another.
// Re-entering in_progress is legal (retry after a failed attempt).
func CanTransition(from, to string) bool {
	for _, t := range legalTaskTransitions[from] {
		if t == to {
			return true
		}
	}
	return false
}
