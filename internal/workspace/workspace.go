// Package workspace implements the on-disk contract between the engine and
// the running agent: a per-project directory holding the repository checkout
// and a .ralph/ coordination folder with tasks.json and logs.json.
//
// tasks.json has two writers (the orchestrator and the agent subprocess), so
// every write goes through an atomic temp-file + rename and readers re-read
// the file instead of trusting any in-memory copy.
package workspace

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mattmoran56/ralph-orchestrator-ui/pkg/models"
)

// ErrWorkspaceMissing is returned when a project has no materialized
// workspace yet.
var ErrWorkspaceMissing = errors.New("workspace missing")

// ErrTaskNotFound is returned when a task id is absent from tasks.json.
var ErrTaskNotFound = errors.New("task not found")

// Store owns the workspace tree under a single root directory.
type Store struct {
	root string

	mu sync.Mutex
	// pending holds tasks created before a project's workspace exists; they
	// become persistent when InitializeRalphFolder runs.
	pending map[string][]models.Task
}

// NewStore returns a store rooted at dir (settings.workspacesPath).
func NewStore(dir string) *Store {
	return &Store{root: dir, pending: make(map[string][]models.Task)}
}

// Root returns the workspace root directory.
func (s *Store) Root() string { return s.root }

// ProjectDir returns <root>/<projectID>.
func (s *Store) ProjectDir(projectID string) string {
	return filepath.Join(s.root, projectID)
}

// RepoNameFromURL extracts the repository name from a remote URL
// (trailing path segment, .git suffix stripped).
func RepoNameFromURL(url string) string {
	trimmed := strings.TrimSuffix(strings.TrimSuffix(url, "/"), ".git")
	if i := strings.LastIndexAny(trimmed, "/:"); i >= 0 {
		trimmed = trimmed[i+1:]
	}
	return trimmed
}

// RepoDir locates the repository checkout inside the project dir. The
// checkout is the subdirectory containing .git (or .ralph, for a workspace
// initialized before the clone finished). Returns ErrWorkspaceMissing when
// the project has no checkout yet.
func (s *Store) RepoDir(projectID string) (string, error) {
	entries, err := os.ReadDir(s.ProjectDir(projectID))
	if err != nil {
		return "", ErrWorkspaceMissing
	}
	var dirs []string
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		p := filepath.Join(s.ProjectDir(projectID), e.Name())
		if _, err := os.Stat(filepath.Join(p, ".git")); err == nil {
			return p, nil
		}
		if _, err := os.Stat(filepath.Join(p, ".ralph")); err == nil {
			return p, nil
		}
		dirs = append(dirs, p)
	}
	if len(dirs) == 1 {
		return dirs[0], nil
	}
	return "", ErrWorkspaceMissing
}

// EnsureRepoDir creates <root>/<projectID>/<repoName> if missing and returns
// it. Used to materialize a workspace before the first clone.
func (s *Store) EnsureRepoDir(projectID, repoName string) (string, error) {
	dir := filepath.Join(s.ProjectDir(projectID), repoName)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	return dir, nil
}

func (s *Store) ralphDir(projectID string) (string, error) {
	repo, err := s.RepoDir(projectID)
	if err != nil {
		return "", err
	}
	return filepath.Join(repo, ".ralph"), nil
}

// TasksPath returns the path of tasks.json for the project.
func (s *Store) TasksPath(projectID string) (string, error) {
	dir, err := s.ralphDir(projectID)
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "tasks.json"), nil
}

// InitializeRalphFolder creates .ralph/ inside the repo checkout with a
// .gitignore containing "*", and empty tasks.json / logs.json when absent.
// Idempotent. Pending tasks buffered before the workspace existed are
// flushed into tasks.json.
func (s *Store) InitializeRalphFolder(projectID string, info models.ProjectInfo) error {
	dir, err := s.ralphDir(projectID)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	gitignore := filepath.Join(dir, ".gitignore")
	if _, err := os.Stat(gitignore); os.IsNotExist(err) {
		if err := os.WriteFile(gitignore, []byte("*\n"), 0o644); err != nil {
			return err
		}
	}
	tasksPath := filepath.Join(dir, "tasks.json")
	if _, err := os.Stat(tasksPath); os.IsNotExist(err) {
		if err := s.writeTasksFile(tasksPath, models.ProjectTasks{Project: info, Tasks: []models.Task{}}); err != nil {
			return err
		}
	}
	logsPath := filepath.Join(dir, "logs.json")
	if _, err := os.Stat(logsPath); os.IsNotExist(err) {
		if err := writeFileAtomic(logsPath, mustJSON(models.LoopLogs{Entries: []models.LoopLogEntry{}})); err != nil {
			return err
		}
	}

	// Flush tasks created before the workspace existed.
	s.mu.Lock()
	buffered := s.pending[projectID]
	delete(s.pending, projectID)
	s.mu.Unlock()
	if len(buffered) > 0 {
		data, err := s.ReadTasks(projectID)
		if err != nil {
			return err
		}
		data.Tasks = append(data.Tasks, buffered...)
		return s.WriteTasks(projectID, data)
	}
	return nil
}

// ReadTasks reads tasks.json. The file is authoritative; the agent may have
// rewritten it since the last read.
func (s *Store) ReadTasks(projectID string) (models.ProjectTasks, error) {
	var data models.ProjectTasks
	path, err := s.TasksPath(projectID)
	if err != nil {
		return data, err
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return data, ErrWorkspaceMissing
		}
		return data, err
	}
	if err := json.Unmarshal(raw, &data); err != nil {
		return data, fmt.Errorf("parse tasks.json: %w", err)
	}
	if data.Tasks == nil {
		data.Tasks = []models.Task{}
	}
	return data, nil
}

// WriteTasks writes tasks.json atomically, creating .ralph/ if missing.
func (s *Store) WriteTasks(projectID string, data models.ProjectTasks) error {
	dir, err := s.ralphDir(projectID)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	return s.writeTasksFile(filepath.Join(dir, "tasks.json"), data)
}

func (s *Store) writeTasksFile(path string, data models.ProjectTasks) error {
	if data.Tasks == nil {
		data.Tasks = []models.Task{}
	}
	return writeFileAtomic(path, mustJSON(data))
}

// AppendLog appends one entry to logs.json.
func (s *Store) AppendLog(projectID string, entry models.LoopLogEntry) error {
	logs, err := s.ReadLogs(projectID)
	if err != nil {
		return err
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}
	logs.Entries = append(logs.Entries, entry)
	dir, err := s.ralphDir(projectID)
	if err != nil {
		return err
	}
	return writeFileAtomic(filepath.Join(dir, "logs.json"), mustJSON(logs))
}

// ReadLogs reads logs.json; a missing file yields empty entries.
func (s *Store) ReadLogs(projectID string) (models.LoopLogs, error) {
	logs := models.LoopLogs{Entries: []models.LoopLogEntry{}}
	dir, err := s.ralphDir(projectID)
	if err != nil {
		return logs, err
	}
	raw, err := os.ReadFile(filepath.Join(dir, "logs.json"))
	if err != nil {
		if os.IsNotExist(err) {
			return logs, nil
		}
		return logs, err
	}
	if err := json.Unmarshal(raw, &logs); err != nil {
		return logs, fmt.Errorf("parse logs.json: %w", err)
	}
	if logs.Entries == nil {
		logs.Entries = []models.LoopLogEntry{}
	}
	return logs, nil
}

// ClearLogs truncates logs.json back to empty entries.
func (s *Store) ClearLogs(projectID string) error {
	dir, err := s.ralphDir(projectID)
	if err != nil {
		return err
	}
	return writeFileAtomic(filepath.Join(dir, "logs.json"), mustJSON(models.LoopLogs{Entries: []models.LoopLogEntry{}}))
}

// AddTask appends a task. Before the workspace exists the task is buffered
// in memory and flushed by InitializeRalphFolder.
func (s *Store) AddTask(projectID string, t models.Task) (models.Task, error) {
	now := time.Now().UTC()
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.Status == "" {
		t.Status = models.TaskBacklog
	}
	t.CreatedAt = now
	t.UpdatedAt = now

	data, err := s.ReadTasks(projectID)
	if errors.Is(err, ErrWorkspaceMissing) {
		s.mu.Lock()
		s.pending[projectID] = append(s.pending[projectID], t)
		s.mu.Unlock()
		return t, nil
	}
	if err != nil {
		return t, err
	}
	data.Tasks = append(data.Tasks, t)
	return t, s.WriteTasks(projectID, data)
}

// PendingTasks returns tasks buffered for a project whose workspace does not
// exist yet.
func (s *Store) PendingTasks(projectID string) []models.Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Task, len(s.pending[projectID]))
	copy(out, s.pending[projectID])
	return out
}

// UpdateTask applies fn to the task with the given id and persists the list.
func (s *Store) UpdateTask(projectID, taskID string, fn func(*models.Task)) (models.Task, error) {
	data, err := s.ReadTasks(projectID)
	if err != nil {
		return models.Task{}, err
	}
	for i := range data.Tasks {
		if data.Tasks[i].ID == taskID {
			fn(&data.Tasks[i])
			data.Tasks[i].UpdatedAt = time.Now().UTC()
			if err := s.WriteTasks(projectID, data); err != nil {
				return models.Task{}, err
			}
			return data.Tasks[i], nil
		}
	}
	return models.Task{}, ErrTaskNotFound
}

// Transition moves a task between statuses, enforcing the legal transition
// set and maintaining the timestamp invariants.
func (s *Store) Transition(projectID, taskID, to string) (models.Task, error) {
	return s.UpdateTask(projectID, taskID, func(t *models.Task) {
		if !models.CanTransition(t.Status, to) && t.Status != to {
			return
		}
		applyTransition(t, to)
	})
}

func applyTransition(t *models.Task, to string) {
	now := time.Now().UTC()
	switch to {
	case models.TaskInProgress:
		if t.StartedAt == nil {
			t.StartedAt = &now
		}
		t.VerifyingAt = nil
		t.CompletedAt = nil
	case models.TaskVerifying:
		t.VerifyingAt = &now
	case models.TaskDone, models.TaskBlocked:
		t.CompletedAt = &now
	case models.TaskBacklog:
		t.StartedAt = nil
		t.VerifyingAt = nil
		t.CompletedAt = nil
	}
	t.Status = to
}

// DeleteTask removes a task from tasks.json.
func (s *Store) DeleteTask(projectID, taskID string) error {
	data, err := s.ReadTasks(projectID)
	if err != nil {
		return err
	}
	kept := data.Tasks[:0]
	found := false
	for _, t := range data.Tasks {
		if t.ID == taskID {
			found = true
			continue
		}
		kept = append(kept, t)
	}
	if !found {
		return ErrTaskNotFound
	}
	data.Tasks = kept
	return s.WriteTasks(projectID, data)
}

// ReorderTasks assigns priorities following the given id order. Ids absent
// from the list keep their relative order after the reordered ones.
func (s *Store) ReorderTasks(projectID string, order []string) error {
	data, err := s.ReadTasks(projectID)
	if err != nil {
		return err
	}
	rank := make(map[string]int, len(order))
	for i, id := range order {
		rank[id] = i
	}
	sort.SliceStable(data.Tasks, func(i, j int) bool {
		ri, iok := rank[data.Tasks[i].ID]
		rj, jok := rank[data.Tasks[j].ID]
		switch {
		case iok && jok:
			return ri < rj
		case iok:
			return true
		default:
			return false
		}
	})
	for i := range data.Tasks {
		data.Tasks[i].Priority = i
	}
	return s.WriteTasks(projectID, data)
}

// Remove deletes the whole project workspace directory. Called on project
// completion and explicit delete.
func (s *Store) Remove(projectID string) error {
	if projectID == "" {
		return nil
	}
	s.mu.Lock()
	delete(s.pending, projectID)
	s.mu.Unlock()
	return os.RemoveAll(s.ProjectDir(projectID))
}

// writeFileAtomic writes data to path via a temp file in the same directory
// followed by rename, so concurrent readers observe either the old or the
// new content.
func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	return nil
}

func mustJSON(v any) []byte {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		panic(err)
	}
	return append(b, '\n')
}
