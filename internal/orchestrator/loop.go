package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/mattmoran56/ralph-orchestrator-ui/internal/state"
	"github.com/mattmoran56/ralph-orchestrator-ui/pkg/models"
)

// runProject is the supervised per-project loop: setup, iterate, complete.
// It owns the entry until it removes it.
func (o *Orchestrator) runProject(ctx context.Context, projectID, repoURL string) {
	defer func() {
		if r := recover(); r != nil {
			o.log.Error("project loop panicked", "project", projectID, "panic", r)
			o.message(projectID, "internal error: %v", r)
			_, _ = o.state.SetProjectStatus(projectID, models.ProjectFailed)
			o.removeEntry(projectID)
		}
	}()

	if !o.setup(ctx, projectID, repoURL) {
		return
	}
	o.setEntry(projectID, func(e *entry) { e.status = models.RunRunning })

	for {
		if ctx.Err() != nil {
			// Stop already performed the terminal bookkeeping.
			return
		}
		st, ok := o.entryStatus(projectID)
		if !ok || st != models.RunRunning {
			o.removeEntry(projectID)
			return
		}

		// Re-read the project to observe pause/stop and the iteration cap.
		project, err := o.state.GetProject(projectID)
		if err != nil {
			o.message(projectID, "project vanished from state: %v", err)
			o.removeEntry(projectID)
			return
		}
		switch project.Status {
		case models.ProjectPaused:
			o.setEntry(projectID, func(e *entry) { e.status = models.RunPaused })
			o.removeEntry(projectID)
			return
		case models.ProjectIdle:
			o.setEntry(projectID, func(e *entry) { e.status = models.RunStopped })
			o.removeEntry(projectID)
			return
		}
		if project.CurrentIteration >= project.MaxIterations {
			o.message(projectID, "iteration cap reached (%d); pausing", project.MaxIterations)
			_, _ = o.state.SetProjectStatus(projectID, models.ProjectPaused)
			o.removeEntry(projectID)
			return
		}

		iteration := project.CurrentIteration + 1
		if _, err := o.state.UpdateProject(projectID, state.ProjectPatch{CurrentIteration: &iteration}); err != nil {
			o.log.Warn("bump iteration failed", "project", projectID, "err", err)
		}
		o.setEntry(projectID, func(e *entry) { e.iteration = iteration })

		task, ok := o.selectNextTask(projectID)
		if !ok {
			o.complete(ctx, projectID, repoURL)
			return
		}

		o.executeTask(ctx, projectID, repoURL, task, iteration)

		select {
		case <-ctx.Done():
			return
		case <-time.After(iterationBackoff):
		}
	}
}

// setup prepares the workspace and branches. Any failure here is fatal for
// the project (no automatic retry).
func (o *Orchestrator) setup(ctx context.Context, projectID, repoURL string) bool {
	project, err := o.state.GetProject(projectID)
	if err != nil {
		o.removeEntry(projectID)
		return false
	}
	baseBranch := o.baseBranch(project)

	o.message(projectID, "setting up workspace")
	if res := o.git.Clone(ctx, projectID, repoURL); !res.OK {
		return o.setupFailed(projectID, "clone failed: %s", res.Err)
	}
	if res := o.git.CheckoutOrCreateBranch(ctx, projectID, repoURL, baseBranch); !res.OK {
		return o.setupFailed(projectID, "base branch checkout failed: %s", res.Err)
	}
	if res := o.git.CreateWorkingBranch(ctx, projectID, repoURL, project.WorkingBranch, baseBranch); !res.OK {
		return o.setupFailed(projectID, "working branch creation failed: %s", res.Err)
	}
	if err := o.workspaces.InitializeRalphFolder(projectID, projectInfo(project)); err != nil {
		return o.setupFailed(projectID, "workspace init failed: %v", err)
	}
	o.message(projectID, "workspace ready on %s", project.WorkingBranch)
	return true
}

func (o *Orchestrator) setupFailed(projectID, format string, args ...any) bool {
	o.message(projectID, format, args...)
	_, _ = o.state.SetProjectStatus(projectID, models.ProjectFailed)
	o.removeEntry(projectID)
	return false
}

func (o *Orchestrator) baseBranch(project models.Project) string {
	if project.BaseBranch != "" {
		return project.BaseBranch
	}
	if repo, err := o.state.GetRepository(project.RepositoryID); err == nil && repo.DefaultBranch != "" {
		return repo.DefaultBranch
	}
	return "main"
}

func projectInfo(p models.Project) models.ProjectInfo {
	return models.ProjectInfo{
		ID:            p.ID,
		Name:          p.Name,
		Description:   p.Description,
		ProductBrief:  p.ProductBrief,
		SolutionBrief: p.SolutionBrief,
	}
}

// complete finishes a drained project: push the working branch and open the
// pull request, or mark the project completed/failed when there is nothing
// to publish. The workspace is removed on every path.
func (o *Orchestrator) complete(ctx context.Context, projectID, repoURL string) {
	project, err := o.state.GetProject(projectID)
	if err != nil {
		o.removeEntry(projectID)
		return
	}
	baseBranch := o.baseBranch(project)

	data, err := o.workspaces.ReadTasks(projectID)
	if err != nil {
		o.message(projectID, "read tasks at completion failed: %v", err)
		o.finish(projectID, models.ProjectFailed)
		return
	}
	var done, blocked []models.Task
	for _, t := range data.Tasks {
		switch t.Status {
		case models.TaskDone:
			done = append(done, t)
		case models.TaskBlocked:
			blocked = append(blocked, t)
		}
	}

	if len(done) == 0 {
		if len(blocked) == 0 {
			o.message(projectID, "no tasks to run; project complete")
			o.finish(projectID, models.ProjectCompleted)
		} else {
			o.message(projectID, "no tasks completed, %d blocked; project failed", len(blocked))
			o.finish(projectID, models.ProjectFailed)
		}
		return
	}

	if diff := o.git.GetDiffFromBase(ctx, projectID, repoURL, baseBranch); diff.OK && strings.TrimSpace(diff.Output) == "" {
		o.message(projectID, "no changes against %s; project complete", baseBranch)
		o.finish(projectID, models.ProjectCompleted)
		return
	}

	// The PR base must exist on the remote before gh will accept it.
	if exists, res := o.git.RemoteBranchExists(ctx, projectID, repoURL, baseBranch); res.OK && !exists {
		if push := o.git.Push(ctx, projectID, repoURL, baseBranch); !push.OK {
			o.message(projectID, "push base branch failed: %s", push.Err)
			o.finish(projectID, models.ProjectFailed)
			return
		}
	}

	if res := o.git.Push(ctx, projectID, repoURL, project.WorkingBranch); !res.OK {
		o.message(projectID, "push failed: %s", res.Err)
		o.finish(projectID, models.ProjectFailed)
		return
	}
	o.message(projectID, "pushed %s", project.WorkingBranch)

	title := fmt.Sprintf("Ralph: %s", project.Name)
	body := prBody(project, done, blocked)
	if res := o.git.CreatePullRequest(ctx, projectID, repoURL, title, body, baseBranch); !res.OK {
		// Work is already pushed; the project still fails so the user
		// notices the missing PR.
		o.message(projectID, "pull request creation failed: %s", res.Err)
		o.finish(projectID, models.ProjectFailed)
		return
	}
	o.message(projectID, "pull request created")
	o.finish(projectID, models.ProjectCompleted)
}

// finish sets the terminal project status, cleans the workspace, and
// releases the entry.
func (o *Orchestrator) finish(projectID, status string) {
	if _, err := o.state.SetProjectStatus(projectID, status); err != nil {
		o.log.Warn("set terminal status failed", "project", projectID, "err", err)
	}
	if res := o.git.CleanupWorkspace(projectID); !res.OK {
		o.log.Warn("workspace cleanup failed", "project", projectID, "err", res.Err)
	}
	o.removeEntry(projectID)
}

func prBody(project models.Project, done, blocked []models.Task) string {
	var b strings.Builder
	b.WriteString("Automated changes produced by the Ralph orchestrator.\n\n")
	if project.Description != "" {
		b.WriteString(project.Description)
		b.WriteString("\n\n")
	}
	if len(done) > 0 {
		b.WriteString("## Completed tasks\n\n")
		for _, t := range done {
			fmt.Fprintf(&b, "- [x] %s\n", t.Title)
		}
		b.WriteString("\n")
	}
	if len(blocked) > 0 {
		b.WriteString("## Blocked tasks\n\n")
		for _, t := range blocked {
			fmt.Fprintf(&b, "- [ ] %s\n", t.Title)
		}
		b.WriteString("\n")
	}
	return b.String()
}
