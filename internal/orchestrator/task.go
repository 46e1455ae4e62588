package orchestrator

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/mattmoran56/ralph-orchestrator-ui/internal/agent"
	"github.com/mattmoran56/ralph-orchestrator-ui/internal/otel"
	"github.com/mattmoran56/ralph-orchestrator-ui/internal/prompt"
	"github.com/mattmoran56/ralph-orchestrator-ui/internal/verify"
	"github.com/mattmoran56/ralph-orchestrator-ui/pkg/models"
)

// selectNextTask picks the task to work this iteration. An interrupted
// in_progress task resumes first, then a task stuck in verifying, then the
// lowest-priority backlog task (file order breaks ties).
func (o *Orchestrator) selectNextTask(projectID string) (models.Task, bool) {
	data, err := o.workspaces.ReadTasks(projectID)
	if err != nil {
		o.log.Warn("read tasks failed", "project", projectID, "err", err)
		return models.Task{}, false
	}
	for _, t := range data.Tasks {
		if t.Status == models.TaskInProgress {
			return t, true
		}
	}
	for _, t := range data.Tasks {
		if t.Status == models.TaskVerifying {
			return t, true
		}
	}
	var best models.Task
	found := false
	for _, t := range data.Tasks {
		if t.Status != models.TaskBacklog {
			continue
		}
		if !found || t.Priority < best.Priority {
			best = t
			found = true
		}
	}
	return best, found
}

// executeTask runs one attempt against a task: agent, then verification,
// then commit. A task that exhausts settings.maxTaskAttempts is blocked.
func (o *Orchestrator) executeTask(ctx context.Context, projectID, repoURL string, task models.Task, iteration int) {
	o.setEntry(projectID, func(e *entry) { e.currentTaskID = task.ID })
	defer o.setEntry(projectID, func(e *entry) { e.currentTaskID = "" })

	maxAttempts := o.state.Settings().MaxTaskAttempts
	if maxAttempts <= 0 {
		maxAttempts = models.DefaultMaxTaskAttempts
	}

	prev := task.Status
	updated, err := o.workspaces.UpdateTask(projectID, task.ID, func(t *models.Task) {
		t.Attempts++
	})
	if err != nil {
		o.message(projectID, "task %s update failed: %v", task.ID, err)
		return
	}
	if updated, err = o.workspaces.Transition(projectID, task.ID, models.TaskInProgress); err != nil {
		o.message(projectID, "task %s transition failed: %v", task.ID, err)
		return
	}
	task = updated
	otel.RecordTaskOp(ctx, projectID, models.TaskInProgress)
	o.loopLog(projectID, models.LoopLogEntry{
		Iteration: iteration,
		TaskID:    task.ID,
		Action:    "execute",
		From:      prev,
		To:        models.TaskInProgress,
		Message:   fmt.Sprintf("attempt %d/%d: %s", task.Attempts, maxAttempts, task.Title),
	})
	o.message(projectID, "working task %q (attempt %d/%d)", task.Title, task.Attempts, maxAttempts)

	workDir, err := o.workspaces.RepoDir(projectID)
	if err != nil {
		o.message(projectID, "workspace missing for task %s: %v", task.ID, err)
		return
	}

	// tasks.json is shared with the agent; re-read for the context list.
	data, err := o.workspaces.ReadTasks(projectID)
	if err != nil {
		o.message(projectID, "read tasks failed: %v", err)
		return
	}
	var others []models.Task
	for _, t := range data.Tasks {
		if t.ID != task.ID {
			others = append(others, t)
		}
	}

	now := time.Now().UTC()
	logPath := filepath.Join(o.logsDir, projectID, agent.LogFileName(task.ID, now))
	start := time.Now()
	outcome, err := o.agent.Run(ctx, agent.ProcessSpec{
		ProjectID:        projectID,
		TaskID:           task.ID,
		Prompt:           prompt.Execution(data.Project, task, others),
		WorkingDirectory: workDir,
		LogFilePath:      logPath,
	})
	otel.RecordAgentRun(ctx, projectID, time.Since(start))
	if err != nil {
		o.message(projectID, "agent failed to start for task %s: %v", task.ID, err)
		o.failAttempt(ctx, projectID, task, maxAttempts, "agent failed to start", iteration)
		return
	}
	if outcome.Stopped || o.stopRequested(projectID) {
		// Stop owns the bookkeeping; leave the task untouched.
		return
	}

	o.recordRun(ctx, projectID, task.ID, logPath, outcome)

	if outcome.TaskBlocked {
		// Blocked dominates a transcript carrying both markers, but it still
		// consumes the attempt budget like any other failure: the task only
		// blocks once attempts reach the cap.
		reason := outcome.BlockedReason
		if reason == "" {
			reason = "agent reported blocked"
		}
		o.failAttempt(ctx, projectID, task, maxAttempts, reason, iteration)
		return
	}
	if !outcome.TaskComplete {
		o.failAttempt(ctx, projectID, task, maxAttempts, fmt.Sprintf("agent exited (%d) without completing", outcome.ExitCode), iteration)
		return
	}

	if _, err := o.workspaces.Transition(projectID, task.ID, models.TaskVerifying); err != nil {
		o.message(projectID, "task %s transition to verifying failed: %v", task.ID, err)
		return
	}
	otel.RecordTaskOp(ctx, projectID, models.TaskVerifying)
	o.loopLog(projectID, models.LoopLogEntry{
		Iteration: iteration,
		TaskID:    task.ID,
		Action:    "verify",
		From:      models.TaskInProgress,
		To:        models.TaskVerifying,
	})

	diff := o.git.GetDiff(ctx, projectID, repoURL)
	result := o.verifier.VerifyTask(ctx, verify.Request{
		ProjectID:   projectID,
		Task:        task,
		WorkDir:     workDir,
		Diff:        diff.Output,
		LogFilePath: filepath.Join(o.logsDir, projectID, agent.LogFileName(task.ID+"-verify", time.Now().UTC())),
	})
	otel.RecordVerification(ctx, projectID, result.Passed)

	if o.stopRequested(projectID) {
		return
	}
	if !result.Passed {
		reason := result.Review.Reason
		if reason == "" && result.Tests.Ran && !result.Tests.Passed {
			reason = "tests failed"
		}
		o.message(projectID, "verification failed for %q: %s", task.Title, reason)
		o.failAttempt(ctx, projectID, task, maxAttempts, "verification failed: "+reason, iteration)
		return
	}

	if res := o.git.Commit(ctx, projectID, repoURL, "Complete task: "+task.Title); !res.OK {
		o.message(projectID, "commit failed for %q: %s", task.Title, res.Err)
		o.failAttempt(ctx, projectID, task, maxAttempts, "commit failed", iteration)
		return
	}

	if _, err := o.workspaces.Transition(projectID, task.ID, models.TaskDone); err != nil {
		o.message(projectID, "task %s transition to done failed: %v", task.ID, err)
		return
	}
	otel.RecordTaskOp(ctx, projectID, models.TaskDone)
	o.loopLog(projectID, models.LoopLogEntry{
		Iteration: iteration,
		TaskID:    task.ID,
		Action:    "complete",
		From:      models.TaskVerifying,
		To:        models.TaskDone,
	})
	o.message(projectID, "task %q done", task.Title)
}

// failAttempt handles a failed attempt: the task stays in_progress for a
// retry, or blocks once attempts reach the cap. A no-op when Stop already
// reverted the task.
func (o *Orchestrator) failAttempt(ctx context.Context, projectID string, task models.Task, maxAttempts int, reason string, iteration int) {
	if o.stopRequested(projectID) {
		return
	}
	if task.Attempts >= maxAttempts {
		o.blockTask(ctx, projectID, task, fmt.Sprintf("%s (after %d attempts)", reason, task.Attempts), iteration)
		return
	}
	if _, err := o.workspaces.Transition(projectID, task.ID, models.TaskInProgress); err != nil {
		o.message(projectID, "task %s retry transition failed: %v", task.ID, err)
		return
	}
	otel.RecordTaskOp(ctx, projectID, models.TaskInProgress)
	o.loopLog(projectID, models.LoopLogEntry{
		Iteration: iteration,
		TaskID:    task.ID,
		Action:    "retry",
		To:        models.TaskInProgress,
		Message:   reason,
	})
}

func (o *Orchestrator) blockTask(ctx context.Context, projectID string, task models.Task, reason string, iteration int) {
	if _, err := o.workspaces.Transition(projectID, task.ID, models.TaskBlocked); err != nil {
		o.message(projectID, "task %s transition to blocked failed: %v", task.ID, err)
		return
	}
	otel.RecordTaskOp(ctx, projectID, models.TaskBlocked)
	o.loopLog(projectID, models.LoopLogEntry{
		Iteration: iteration,
		TaskID:    task.ID,
		Action:    "block",
		To:        models.TaskBlocked,
		Message:   reason,
	})
	o.message(projectID, "task %q blocked: %s", task.Title, reason)
}

// recordRun indexes one agent run in the history store.
func (o *Orchestrator) recordRun(ctx context.Context, projectID, taskID, logPath string, outcome agent.Outcome) {
	if o.history == nil {
		return
	}
	summary := "agent run"
	switch {
	case outcome.TaskBlocked:
		summary = "agent reported blocked"
	case outcome.TaskComplete:
		summary = "agent reported complete"
	case !outcome.OK:
		summary = fmt.Sprintf("agent exited with code %d", outcome.ExitCode)
	}
	err := o.history.AppendTaskLog(ctx, models.TaskLogEntry{
		ProjectID: projectID,
		TaskID:    taskID,
		Timestamp: time.Now().UTC(),
		FilePath:  logPath,
		Summary:   summary,
		Success:   outcome.OK && outcome.TaskComplete,
	})
	if err != nil {
		o.log.Warn("append task log failed", "project", projectID, "task", taskID, "err", err)
	}
}

// loopLog appends a logs.json entry and signals subscribers.
func (o *Orchestrator) loopLog(projectID string, e models.LoopLogEntry) {
	if err := o.workspaces.AppendLog(projectID, e); err != nil {
		o.log.Warn("append loop log failed", "project", projectID, "err", err)
		return
	}
	if o.events != nil {
		o.events.WorkspaceLogsChanged(projectID)
	}
}
