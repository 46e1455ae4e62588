// Package orchestrator drives each project from idle to terminal: setup the
// git workspace, pick tasks, run the agent, verify, commit, and finally push
// the working branch and open a pull request. One supervised goroutine per
// active project, bounded by settings.maxParallelProjects.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/mattmoran56/ralph-orchestrator-ui/internal/agent"
	"github.com/mattmoran56/ralph-orchestrator-ui/internal/gitx"
	"github.com/mattmoran56/ralph-orchestrator-ui/internal/state"
	"github.com/mattmoran56/ralph-orchestrator-ui/internal/store"
	"github.com/mattmoran56/ralph-orchestrator-ui/internal/verify"
	"github.com/mattmoran56/ralph-orchestrator-ui/internal/workspace"
	"github.com/mattmoran56/ralph-orchestrator-ui/pkg/models"
)

// Admission errors.
var (
	ErrAlreadyRunning   = errors.New("project already running")
	ErrCapacityExceeded = errors.New("max parallel projects reached")
	ErrNotRunning       = errors.New("project is not running")
	ErrNotPaused        = errors.New("project is not paused")
)

// iterationBackoff separates loop iterations so fast-failing tasks do not
// spin the subprocess machinery.
const iterationBackoff = 2 * time.Second

// Events receives orchestrator broadcasts. Implemented by the SSE hub.
type Events interface {
	OrchestratorLog(l models.OrchestratorLog)
	WorkspaceLogsChanged(projectID string)
}

// AgentRunner is the subset of the agent runner the task loop needs.
type AgentRunner interface {
	Run(ctx context.Context, spec agent.ProcessSpec) (agent.Outcome, error)
}

// GitDriver is the subset of the git driver the project loop needs.
type GitDriver interface {
	Clone(ctx context.Context, projectID, url string) gitx.Result
	CheckoutOrCreateBranch(ctx context.Context, projectID, url, branch string) gitx.Result
	CreateWorkingBranch(ctx context.Context, projectID, url, workingBranch, baseBranch string) gitx.Result
	Commit(ctx context.Context, projectID, url, message string) gitx.Result
	Push(ctx context.Context, projectID, url, branch string) gitx.Result
	RemoteBranchExists(ctx context.Context, projectID, url, branch string) (bool, gitx.Result)
	GetDiff(ctx context.Context, projectID, url string) gitx.Result
	GetDiffFromBase(ctx context.Context, projectID, url, baseBranch string) gitx.Result
	CreatePullRequest(ctx context.Context, projectID, url, title, body, base string) gitx.Result
	CleanupWorkspace(projectID string) gitx.Result
}

// entry is the orchestrator's per-project run record.
type entry struct {
	status        string
	currentTaskID string
	iteration     int
	cancel        context.CancelFunc
}

// Orchestrator supervises project runs. Construct with New and pass
// collaborators explicitly; the orchestrator owns no global state.
type Orchestrator struct {
	state      *state.Manager
	workspaces *workspace.Store
	git        GitDriver
	agent      AgentRunner
	verifier   *verify.Verifier
	history    *store.Store
	events     Events
	logsDir    string
	log        *slog.Logger

	mu      sync.Mutex
	entries map[string]*entry
}

// Options wires an orchestrator.
type Options struct {
	State      *state.Manager
	Workspaces *workspace.Store
	Git        GitDriver
	Agent      AgentRunner
	Verifier   *verify.Verifier
	History    *store.Store
	Events     Events
	LogsDir    string
	Log        *slog.Logger
}

// New builds an orchestrator from its collaborators.
func New(opts Options) *Orchestrator {
	log := opts.Log
	if log == nil {
		log = slog.Default()
	}
	return &Orchestrator{
		state:      opts.State,
		workspaces: opts.Workspaces,
		git:        opts.Git,
		agent:      opts.Agent,
		verifier:   opts.Verifier,
		history:    opts.History,
		events:     opts.Events,
		logsDir:    opts.LogsDir,
		log:        log,
		entries:    make(map[string]*entry),
	}
}

// RunningCount returns the number of active entries (for metrics).
func (o *Orchestrator) RunningCount() int64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	return int64(len(o.entries))
}

// Start admits a project and launches its run loop. Fails with
// ErrAlreadyRunning when an entry exists, ErrCapacityExceeded at the
// parallel-project cap, and state.ErrNotFound for unknown ids.
func (o *Orchestrator) Start(ctx context.Context, projectID string) error {
	project, err := o.state.GetProject(projectID)
	if err != nil {
		return err
	}
	repo, err := o.state.GetRepository(project.RepositoryID)
	if err != nil {
		return fmt.Errorf("project repository: %w", err)
	}
	maxParallel := o.state.Settings().MaxParallelProjects

	o.mu.Lock()
	if _, ok := o.entries[projectID]; ok {
		o.mu.Unlock()
		return ErrAlreadyRunning
	}
	active := 0
	for _, e := range o.entries {
		if e.status == models.RunRunning || e.status == models.RunInitializing {
			active++
		}
	}
	if active >= maxParallel {
		o.mu.Unlock()
		return ErrCapacityExceeded
	}
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	o.entries[projectID] = &entry{status: models.RunInitializing, cancel: cancel}
	o.mu.Unlock()

	if _, err := o.state.SetProjectStatus(projectID, models.ProjectRunning); err != nil {
		o.removeEntry(projectID)
		cancel()
		return err
	}
	o.message(projectID, "orchestrator started")

	go o.runProject(runCtx, projectID, repo.URL)
	return nil
}

// Stop cancels the running agent (SIGTERM then SIGKILL), reverts any
// in-progress task to backlog with cleared timestamps, sets the project
// idle, and removes the entry. Safe to call at any time.
func (o *Orchestrator) Stop(projectID string) error {
	o.mu.Lock()
	e, ok := o.entries[projectID]
	if !ok {
		o.mu.Unlock()
		return ErrNotRunning
	}
	e.status = models.RunStopped
	cancel := e.cancel
	taskID := e.currentTaskID
	delete(o.entries, projectID)
	o.mu.Unlock()

	cancel()
	if taskID != "" {
		if _, err := o.workspaces.Transition(projectID, taskID, models.TaskBacklog); err != nil {
			o.log.Warn("revert task on stop failed", "project", projectID, "task", taskID, "err", err)
		}
	}
	if _, err := o.state.SetProjectStatus(projectID, models.ProjectIdle); err != nil {
		o.log.Warn("set project idle on stop failed", "project", projectID, "err", err)
	}
	o.message(projectID, "orchestrator stopped")
	return nil
}

// Pause flips the entry to paused; the loop observes the paused project
// status at the next iteration boundary and exits. An in-flight agent call
// is allowed to finish.
func (o *Orchestrator) Pause(projectID string) error {
	o.mu.Lock()
	e, ok := o.entries[projectID]
	if !ok {
		o.mu.Unlock()
		return ErrNotRunning
	}
	e.status = models.RunPaused
	o.mu.Unlock()

	if _, err := o.state.SetProjectStatus(projectID, models.ProjectPaused); err != nil {
		return err
	}
	o.message(projectID, "orchestrator paused")
	return nil
}

// Resume restarts a paused project.
func (o *Orchestrator) Resume(ctx context.Context, projectID string) error {
	project, err := o.state.GetProject(projectID)
	if err != nil {
		return err
	}
	if project.Status != models.ProjectPaused {
		return ErrNotPaused
	}
	return o.Start(ctx, projectID)
}

// Status returns the run state of every active project.
func (o *Orchestrator) Status() map[string]models.RunState {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make(map[string]models.RunState, len(o.entries))
	for id, e := range o.entries {
		out[id] = models.RunState{
			ProjectID:     id,
			Status:        e.status,
			CurrentTaskID: e.currentTaskID,
			Iteration:     e.iteration,
		}
	}
	return out
}

// StopAll stops every active project; used during daemon shutdown.
func (o *Orchestrator) StopAll() {
	o.mu.Lock()
	ids := make([]string, 0, len(o.entries))
	for id := range o.entries {
		ids = append(ids, id)
	}
	o.mu.Unlock()
	for _, id := range ids {
		_ = o.Stop(id)
	}
}

func (o *Orchestrator) entryStatus(projectID string) (string, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	e, ok := o.entries[projectID]
	if !ok {
		return "", false
	}
	return e.status, true
}

// stopRequested reports whether Stop released the entry (or flagged it
// stopped) while an attempt was in flight. Task mutations after that point
// would race with Stop's backlog revert.
func (o *Orchestrator) stopRequested(projectID string) bool {
	st, ok := o.entryStatus(projectID)
	return !ok || st == models.RunStopped
}

func (o *Orchestrator) setEntry(projectID string, fn func(*entry)) {
	o.mu.Lock()
	if e, ok := o.entries[projectID]; ok {
		fn(e)
	}
	o.mu.Unlock()
}

// removeEntry releases the admission slot. Idempotent; Stop may already
// have removed the entry while the loop was unwinding.
func (o *Orchestrator) removeEntry(projectID string) {
	o.mu.Lock()
	if e, ok := o.entries[projectID]; ok {
		e.cancel()
		delete(o.entries, projectID)
	}
	o.mu.Unlock()
}

// message records and broadcasts an orchestrator log line.
func (o *Orchestrator) message(projectID, format string, args ...any) {
	l := models.OrchestratorLog{
		ProjectID: projectID,
		Message:   fmt.Sprintf(format, args...),
		Timestamp: time.Now().UTC(),
	}
	if o.history != nil {
		if err := o.history.AppendOrchestratorLog(context.Background(), l); err != nil {
			o.log.Warn("append orchestrator log failed", "project", projectID, "err", err)
		}
	}
	if o.events != nil {
		o.events.OrchestratorLog(l)
	}
	o.log.Info(l.Message, "project", projectID)
}
