package orchestrator

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/mattmoran56/ralph-orchestrator-ui/internal/agent"
	"github.com/mattmoran56/ralph-orchestrator-ui/internal/gitx"
	"github.com/mattmoran56/ralph-orchestrator-ui/internal/state"
	"github.com/mattmoran56/ralph-orchestrator-ui/internal/verify"
	"github.com/mattmoran56/ralph-orchestrator-ui/pkg/models"
)

const testRepoURL = "https://github.com/acme/widgets.git"

// scriptedAgent returns canned outcomes: execution passes consume the
// outcomes slice in order (the last repeats), verify passes (TaskID suffixed
// -verify) always get verifyOutcome. onRun fires before every execution pass.
type scriptedAgent struct {
	outcomes      []agent.Outcome
	verifyOutcome agent.Outcome
	onRun         func(spec agent.ProcessSpec)
	calls         int
	verifyCalls   int
}

func (s *scriptedAgent) Run(ctx context.Context, spec agent.ProcessSpec) (agent.Outcome, error) {
	if strings.HasSuffix(spec.TaskID, "-verify") {
		s.verifyCalls++
		return s.verifyOutcome, nil
	}
	if s.onRun != nil {
		s.onRun(spec)
	}
	i := s.calls
	s.calls++
	if i >= len(s.outcomes) {
		i = len(s.outcomes) - 1
	}
	return s.outcomes[i], nil
}

// fakeGit answers every operation successfully and records commits.
type fakeGit struct {
	commits []string
}

func (g *fakeGit) Clone(ctx context.Context, projectID, url string) gitx.Result {
	return gitx.Result{OK: true}
}
func (g *fakeGit) CheckoutOrCreateBranch(ctx context.Context, projectID, url, branch string) gitx.Result {
	return gitx.Result{OK: true}
}
func (g *fakeGit) CreateWorkingBranch(ctx context.Context, projectID, url, workingBranch, baseBranch string) gitx.Result {
	return gitx.Result{OK: true}
}
func (g *fakeGit) Commit(ctx context.Context, projectID, url, message string) gitx.Result {
	g.commits = append(g.commits, message)
	return gitx.Result{OK: true}
}
func (g *fakeGit) Push(ctx context.Context, projectID, url, branch string) gitx.Result {
	return gitx.Result{OK: true}
}
func (g *fakeGit) RemoteBranchExists(ctx context.Context, projectID, url, branch string) (bool, gitx.Result) {
	return true, gitx.Result{OK: true}
}
func (g *fakeGit) GetDiff(ctx context.Context, projectID, url string) gitx.Result {
	return gitx.Result{OK: true, Output: "diff --git a/x b/x"}
}
func (g *fakeGit) GetDiffFromBase(ctx context.Context, projectID, url, baseBranch string) gitx.Result {
	return gitx.Result{OK: true, Output: "diff --git a/x b/x"}
}
func (g *fakeGit) CreatePullRequest(ctx context.Context, projectID, url, title, body, base string) gitx.Result {
	return gitx.Result{OK: true}
}
func (g *fakeGit) CleanupWorkspace(projectID string) gitx.Result {
	return gitx.Result{OK: true}
}

// execFixture wires an orchestrator around a scripted agent, a fake git
// driver, and a materialized workspace holding one backlog task.
func execFixture(t *testing.T, ag *scriptedAgent, maxAttempts int) (*Orchestrator, *fakeGit, models.Project, models.Task) {
	t.Helper()
	o, m, ws := newTestOrchestrator(t)
	git := &fakeGit{}
	o.git = git
	o.agent = ag
	o.verifier = verify.NewVerifier(ag, false, o.log)
	o.logsDir = t.TempDir()

	if _, err := m.UpdateSettings(state.SettingsPatch{MaxTaskAttempts: &maxAttempts}); err != nil {
		t.Fatal(err)
	}

	p := seedProject(t, m)
	if err := os.MkdirAll(filepath.Join(ws.ProjectDir(p.ID), "widgets", ".git"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := ws.InitializeRalphFolder(p.ID, models.ProjectInfo{ID: p.ID}); err != nil {
		t.Fatal(err)
	}
	task, err := ws.AddTask(p.ID, models.Task{Title: "wire billing"})
	if err != nil {
		t.Fatal(err)
	}
	injectEntry(o, p.ID, models.RunRunning, "")
	return o, git, p, task
}

func currentTask(t *testing.T, o *Orchestrator, projectID, taskID string) models.Task {
	t.Helper()
	data, err := o.workspaces.ReadTasks(projectID)
	if err != nil {
		t.Fatal(err)
	}
	for _, task := range data.Tasks {
		if task.ID == taskID {
			return task
		}
	}
	t.Fatalf("task %s not found", taskID)
	return models.Task{}
}

func TestExecuteTask_blockedConsumesAttemptBudget(t *testing.T) {
	ag := &scriptedAgent{
		outcomes: []agent.Outcome{{OK: true, TaskBlocked: true, BlockedReason: "needs credentials"}},
	}
	o, _, p, task := execFixture(t, ag, 3)

	for attempt := 1; attempt <= 3; attempt++ {
		o.executeTask(context.Background(), p.ID, testRepoURL, currentTask(t, o, p.ID, task.ID), attempt)
		got := currentTask(t, o, p.ID, task.ID)
		if got.Attempts != attempt {
			t.Fatalf("attempt %d: attempts = %d", attempt, got.Attempts)
		}
		want := models.TaskInProgress
		if attempt == 3 {
			want = models.TaskBlocked
		}
		if got.Status != want {
			t.Fatalf("attempt %d: status = %q, want %q", attempt, got.Status, want)
		}
	}
	if ag.verifyCalls != 0 {
		t.Error("a blocked outcome must not reach verification")
	}
}

func TestExecuteTask_noSignalRetries(t *testing.T) {
	ag := &scriptedAgent{outcomes: []agent.Outcome{{OK: true}}}
	o, git, p, task := execFixture(t, ag, 3)

	o.executeTask(context.Background(), p.ID, testRepoURL, task, 1)
	got := currentTask(t, o, p.ID, task.ID)
	if got.Status != models.TaskInProgress || got.Attempts != 1 {
		t.Fatalf("task = %q/%d, want in_progress/1", got.Status, got.Attempts)
	}
	if len(git.commits) != 0 {
		t.Error("no commit without a completion signal")
	}
}

func TestExecuteTask_completeVerifiedCommitsAndDone(t *testing.T) {
	ag := &scriptedAgent{
		outcomes:      []agent.Outcome{{OK: true, TaskComplete: true}},
		verifyOutcome: agent.Outcome{OK: true, CombinedOutput: "VERIFICATION_PASSED"},
	}
	o, git, p, task := execFixture(t, ag, 3)

	o.executeTask(context.Background(), p.ID, testRepoURL, task, 1)
	got := currentTask(t, o, p.ID, task.ID)
	if got.Status != models.TaskDone {
		t.Fatalf("status = %q, want done", got.Status)
	}
	if got.CompletedAt == nil {
		t.Error("done must set completedAt")
	}
	if len(git.commits) != 1 || !strings.Contains(git.commits[0], "wire billing") {
		t.Errorf("commits = %v", git.commits)
	}
	if ag.verifyCalls != 1 {
		t.Errorf("verify calls = %d", ag.verifyCalls)
	}
}

func TestExecuteTask_verificationFailureRequeues(t *testing.T) {
	ag := &scriptedAgent{
		outcomes:      []agent.Outcome{{OK: true, TaskComplete: true}},
		verifyOutcome: agent.Outcome{OK: true, CombinedOutput: "VERIFICATION_FAILED: endpoint untested"},
	}
	o, git, p, task := execFixture(t, ag, 3)

	o.executeTask(context.Background(), p.ID, testRepoURL, task, 1)
	got := currentTask(t, o, p.ID, task.ID)
	if got.Status != models.TaskInProgress {
		t.Fatalf("status = %q, want in_progress for retry", got.Status)
	}
	if got.Attempts != 1 {
		t.Errorf("attempts = %d; a verification failure must not double-count", got.Attempts)
	}
	if len(git.commits) != 0 {
		t.Error("failed verification must not commit")
	}

	// The retry succeeds end to end.
	ag.verifyOutcome = agent.Outcome{OK: true, CombinedOutput: "VERIFICATION_PASSED"}
	o.executeTask(context.Background(), p.ID, testRepoURL, currentTask(t, o, p.ID, task.ID), 2)
	got = currentTask(t, o, p.ID, task.ID)
	if got.Status != models.TaskDone || got.Attempts != 2 {
		t.Fatalf("after retry: %q/%d, want done/2", got.Status, got.Attempts)
	}
}

func TestExecuteTask_stopDuringRunLeavesBacklog(t *testing.T) {
	cases := []struct {
		name    string
		outcome agent.Outcome
	}{
		{"no completion signal", agent.Outcome{OK: true}},
		{"completion signal", agent.Outcome{OK: true, TaskComplete: true}},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			ag := &scriptedAgent{outcomes: []agent.Outcome{c.outcome}}
			var o *Orchestrator
			var p models.Project
			ag.onRun = func(spec agent.ProcessSpec) {
				// Stop lands while the agent is still running; it reverts the
				// task and releases the entry before the outcome is processed.
				if err := o.Stop(p.ID); err != nil {
					t.Error(err)
				}
			}
			var task models.Task
			o, _, p, task = execFixture(t, ag, 3)

			o.executeTask(context.Background(), p.ID, testRepoURL, task, 1)
			got := currentTask(t, o, p.ID, task.ID)
			if got.Status != models.TaskBacklog {
				t.Fatalf("status = %q, want backlog after stop", got.Status)
			}
			if got.StartedAt != nil {
				t.Error("stop revert must clear startedAt")
			}
		})
	}
}
