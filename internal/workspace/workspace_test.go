package workspace

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/mattmoran56/ralph-orchestrator-ui/pkg/models"
)

// newWorkspace materializes a project dir with a repo checkout marker so
// RepoDir resolves.
func newWorkspace(t *testing.T, projectID string) *Store {
	t.Helper()
	s := NewStore(t.TempDir())
	repo := filepath.Join(s.ProjectDir(projectID), "myrepo")
	if err := os.MkdirAll(filepath.Join(repo, ".git"), 0o755); err != nil {
		t.Fatal(err)
	}
	return s
}

func TestRepoNameFromURL(t *testing.T) {
	cases := map[string]string{
		"https://github.com/acme/widgets.git": "widgets",
		"https://github.com/acme/widgets":     "widgets",
		"git@github.com:acme/widgets.git":     "widgets",
		"https://github.com/acme/widgets/":    "widgets",
	}
	for url, want := range cases {
		if got := RepoNameFromURL(url); got != want {
			t.Errorf("RepoNameFromURL(%q) = %q, want %q", url, got, want)
		}
	}
}

func TestRepoDir_missing(t *testing.T) {
	s := NewStore(t.TempDir())
	if _, err := s.RepoDir("nope"); !errors.Is(err, ErrWorkspaceMissing) {
		t.Fatalf("RepoDir on absent project: got %v", err)
	}
}

func TestInitializeRalphFolder_idempotent(t *testing.T) {
	s := newWorkspace(t, "p1")
	info := models.ProjectInfo{ID: "p1", Name: "Widgets"}

	if err := s.InitializeRalphFolder("p1", info); err != nil {
		t.Fatal(err)
	}
	repo, err := s.RepoDir("p1")
	if err != nil {
		t.Fatal(err)
	}
	gi, err := os.ReadFile(filepath.Join(repo, ".ralph", ".gitignore"))
	if err != nil {
		t.Fatal(err)
	}
	if string(gi) != "*\n" {
		t.Errorf(".gitignore = %q, want %q", gi, "*\n")
	}

	// Mutate tasks.json, then re-init: the file must survive.
	if _, err := s.AddTask("p1", models.Task{Title: "a"}); err != nil {
		t.Fatal(err)
	}
	if err := s.InitializeRalphFolder("p1", info); err != nil {
		t.Fatal(err)
	}
	data, err := s.ReadTasks("p1")
	if err != nil {
		t.Fatal(err)
	}
	if len(data.Tasks) != 1 {
		t.Fatalf("re-init clobbered tasks.json: %d tasks", len(data.Tasks))
	}
	if data.Project.Name != "Widgets" {
		t.Errorf("project info = %+v", data.Project)
	}
}

func TestAddTask_buffersBeforeWorkspace(t *testing.T) {
	s := NewStore(t.TempDir())
	task, err := s.AddTask("p1", models.Task{Title: "early"})
	if err != nil {
		t.Fatal(err)
	}
	if task.ID == "" || task.Status != models.TaskBacklog {
		t.Fatalf("buffered task = %+v", task)
	}
	if got := s.PendingTasks("p1"); len(got) != 1 {
		t.Fatalf("pending = %d", len(got))
	}

	// Materialize the workspace; init must flush the buffer.
	repo := filepath.Join(s.ProjectDir("p1"), "myrepo")
	if err := os.MkdirAll(filepath.Join(repo, ".git"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := s.InitializeRalphFolder("p1", models.ProjectInfo{ID: "p1"}); err != nil {
		t.Fatal(err)
	}
	data, err := s.ReadTasks("p1")
	if err != nil {
		t.Fatal(err)
	}
	if len(data.Tasks) != 1 || data.Tasks[0].Title != "early" {
		t.Fatalf("flushed tasks = %+v", data.Tasks)
	}
	if got := s.PendingTasks("p1"); len(got) != 0 {
		t.Errorf("pending after flush = %d", len(got))
	}
}

func TestTransition_timestamps(t *testing.T) {
	s := newWorkspace(t, "p1")
	if err := s.InitializeRalphFolder("p1", models.ProjectInfo{ID: "p1"}); err != nil {
		t.Fatal(err)
	}
	task, err := s.AddTask("p1", models.Task{Title: "t"})
	if err != nil {
		t.Fatal(err)
	}

	got, err := s.Transition("p1", task.ID, models.TaskInProgress)
	if err != nil {
		t.Fatal(err)
	}
	if got.StartedAt == nil {
		t.Fatal("in_progress must set startedAt")
	}
	started := *got.StartedAt

	got, err = s.Transition("p1", task.ID, models.TaskVerifying)
	if err != nil {
		t.Fatal(err)
	}
	if got.VerifyingAt == nil {
		t.Fatal("verifying must set verifyingAt")
	}

	// Retry: startedAt is preserved, verifying cleared.
	got, err = s.Transition("p1", task.ID, models.TaskInProgress)
	if err != nil {
		t.Fatal(err)
	}
	if got.StartedAt == nil || !got.StartedAt.Equal(started) {
		t.Error("retry must keep the original startedAt")
	}
	if got.VerifyingAt != nil {
		t.Error("retry must clear verifyingAt")
	}

	got, err = s.Transition("p1", task.ID, models.TaskVerifying)
	if err != nil {
		t.Fatal(err)
	}
	got, err = s.Transition("p1", task.ID, models.TaskDone)
	if err != nil {
		t.Fatal(err)
	}
	if got.CompletedAt == nil {
		t.Fatal("done must set completedAt")
	}

	// Illegal transition is a silent no-op on the status.
	got, err = s.Transition("p1", task.ID, models.TaskInProgress)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != models.TaskDone {
		t.Errorf("done -> in_progress must not apply, got %q", got.Status)
	}
}

func TestTransition_backlogClearsTimestamps(t *testing.T) {
	s := newWorkspace(t, "p1")
	if err := s.InitializeRalphFolder("p1", models.ProjectInfo{}); err != nil {
		t.Fatal(err)
	}
	task, _ := s.AddTask("p1", models.Task{Title: "t"})
	if _, err := s.Transition("p1", task.ID, models.TaskInProgress); err != nil {
		t.Fatal(err)
	}
	got, err := s.Transition("p1", task.ID, models.TaskBacklog)
	if err != nil {
		t.Fatal(err)
	}
	if got.StartedAt != nil || got.VerifyingAt != nil || got.CompletedAt != nil {
		t.Errorf("backlog must clear timestamps: %+v", got)
	}
}

func TestReorderTasks(t *testing.T) {
	s := newWorkspace(t, "p1")
	if err := s.InitializeRalphFolder("p1", models.ProjectInfo{}); err != nil {
		t.Fatal(err)
	}
	a, _ := s.AddTask("p1", models.Task{Title: "a", Priority: 0})
	b, _ := s.AddTask("p1", models.Task{Title: "b", Priority: 1})
	c, _ := s.AddTask("p1", models.Task{Title: "c", Priority: 2})

	if err := s.ReorderTasks("p1", []string{c.ID, a.ID}); err != nil {
		t.Fatal(err)
	}
	data, _ := s.ReadTasks("p1")
	titles := []string{data.Tasks[0].Title, data.Tasks[1].Title, data.Tasks[2].Title}
	if titles[0] != "c" || titles[1] != "a" || titles[2] != "b" {
		t.Fatalf("order = %v", titles)
	}
	for i, task := range data.Tasks {
		if task.Priority != i {
			t.Errorf("task %q priority = %d, want %d", task.Title, task.Priority, i)
		}
	}
	_ = b
}

func TestDeleteTask(t *testing.T) {
	s := newWorkspace(t, "p1")
	if err := s.InitializeRalphFolder("p1", models.ProjectInfo{}); err != nil {
		t.Fatal(err)
	}
	task, _ := s.AddTask("p1", models.Task{Title: "t"})
	if err := s.DeleteTask("p1", task.ID); err != nil {
		t.Fatal(err)
	}
	if err := s.DeleteTask("p1", task.ID); !errors.Is(err, ErrTaskNotFound) {
		t.Fatalf("second delete: got %v", err)
	}
}

func TestAppendAndClearLogs(t *testing.T) {
	s := newWorkspace(t, "p1")
	if err := s.InitializeRalphFolder("p1", models.ProjectInfo{}); err != nil {
		t.Fatal(err)
	}
	if err := s.AppendLog("p1", models.LoopLogEntry{Iteration: 1, Action: "execute"}); err != nil {
		t.Fatal(err)
	}
	logs, err := s.ReadLogs("p1")
	if err != nil {
		t.Fatal(err)
	}
	if len(logs.Entries) != 1 || logs.Entries[0].Timestamp.IsZero() {
		t.Fatalf("entries = %+v", logs.Entries)
	}
	if err := s.ClearLogs("p1"); err != nil {
		t.Fatal(err)
	}
	logs, _ = s.ReadLogs("p1")
	if len(logs.Entries) != 0 {
		t.Errorf("clear left %d entries", len(logs.Entries))
	}
}

func TestRemove(t *testing.T) {
	s := newWorkspace(t, "p1")
	if err := s.InitializeRalphFolder("p1", models.ProjectInfo{}); err != nil {
		t.Fatal(err)
	}
	if err := s.Remove("p1"); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(s.ProjectDir("p1")); !os.IsNotExist(err) {
		t.Error("workspace dir must be gone")
	}
}
