// Package state owns the persistent catalog of repositories, projects, and
// settings (state.json). The manager is the single writer of the file;
// external modifications are detected by a file watch and reconciled by
// reloading. Every successful write publishes a snapshot to subscribers,
// coalesced with a short debounce.
package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"

	"github.com/mattmoran56/ralph-orchestrator-ui/internal/config"
	"github.com/mattmoran56/ralph-orchestrator-ui/pkg/models"
)

// ErrNotFound is returned when a repository or project id is unknown.
var ErrNotFound = errors.New("not found")

// ErrHasDependents is returned when deleting a repository that projects
// still reference.
var ErrHasDependents = errors.New("repository has dependent projects")

const debounceInterval = 100 * time.Millisecond

// Manager is the single writer of state.json.
type Manager struct {
	path     string
	home     string
	defaults models.Settings
	log      *slog.Logger

	mu          sync.Mutex
	state       models.State
	lastWritten []byte

	subMu   sync.RWMutex
	subs    map[chan models.State]struct{}
	pending *time.Timer

	watcher *fsnotify.Watcher
	done    chan struct{}
}

// Open loads (or initializes) state.json under home and starts the external
// mutation watcher. Read errors fall back to empty defaults with a log entry.
func Open(home string, defaults models.Settings, log *slog.Logger) (*Manager, error) {
	if log == nil {
		log = slog.Default()
	}
	path := config.StatePath(home)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	m := &Manager{
		path:     path,
		home:     home,
		defaults: defaults,
		log:      log,
		subs:     make(map[chan models.State]struct{}),
		done:     make(chan struct{}),
	}
	m.load()
	m.mu.Lock()
	if m.migrateLocked() {
		if err := m.persistLocked(); err != nil {
			log.Warn("persist migrated state failed", "err", err)
		}
	}
	m.mu.Unlock()
	if err := m.startWatcher(); err != nil {
		// Watch failures degrade to no external-mutation detection.
		log.Warn("state watch unavailable", "err", err)
	}
	return m, nil
}

// load reads the file into memory; missing or corrupt files become empty
// defaults. Caller must not hold mu.
func (m *Manager) load() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.loadLocked()
}

func (m *Manager) loadLocked() {
	st := models.State{
		Repositories: []models.Repository{},
		Projects:     []models.Project{},
		Settings:     m.defaults,
	}
	raw, err := os.ReadFile(m.path)
	switch {
	case os.IsNotExist(err):
		// First run.
	case err != nil:
		m.log.Error("read state.json failed, using empty defaults", "err", err)
	default:
		if jsonErr := json.Unmarshal(raw, &st); jsonErr != nil {
			m.log.Error("parse state.json failed, using empty defaults", "err", jsonErr)
			st = models.State{Repositories: []models.Repository{}, Projects: []models.Project{}, Settings: m.defaults}
		} else {
			m.lastWritten = raw
		}
	}
	if st.Repositories == nil {
		st.Repositories = []models.Repository{}
	}
	if st.Projects == nil {
		st.Projects = []models.Project{}
	}
	st.Settings = config.Normalize(st.Settings, m.home)
	m.state = st
}

var legacyRepoURL = regexp.MustCompile(`github\.com[:/]([^/]+)/([^/.]+)(?:\.git)?`)

// migrateLocked rewrites legacy projects carrying an inline repoUrl to
// reference a synthesized Repository. Returns true when anything changed.
func (m *Manager) migrateLocked() bool {
	changed := false
	for i := range m.state.Projects {
		p := &m.state.Projects[i]
		if p.RepoURL == "" || p.RepositoryID != "" {
			if p.RepoURL != "" {
				p.RepoURL = ""
				changed = true
			}
			continue
		}
		repo := m.findOrCreateRepoForURLLocked(p.RepoURL)
		p.RepositoryID = repo.ID
		p.RepoURL = ""
		changed = true
	}
	return changed
}

func (m *Manager) findOrCreateRepoForURLLocked(url string) models.Repository {
	for _, r := range m.state.Repositories {
		if r.URL == url {
			return r
		}
	}
	now := time.Now().UTC()
	repo := models.Repository{
		ID:            uuid.NewString(),
		URL:           url,
		DefaultBranch: "main",
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if match := legacyRepoURL.FindStringSubmatch(url); match != nil {
		repo.Name = match[2]
		repo.FullName = match[1] + "/" + match[2]
	} else {
		repo.Name = url
	}
	m.state.Repositories = append(m.state.Repositories, repo)
	return repo
}

// GetState returns a consistent deep copy of the catalog.
func (m *Manager) GetState() models.State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return copyState(m.state)
}

func copyState(st models.State) models.State {
	out := st
	out.Repositories = make([]models.Repository, len(st.Repositories))
	copy(out.Repositories, st.Repositories)
	out.Projects = make([]models.Project, len(st.Projects))
	copy(out.Projects, st.Projects)
	return out
}

// GetProject returns the project with the given id.
func (m *Manager) GetProject(id string) (models.Project, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.state.Projects {
		if p.ID == id {
			return p, nil
		}
	}
	return models.Project{}, ErrNotFound
}

// GetRepository returns the repository with the given id.
func (m *Manager) GetRepository(id string) (models.Repository, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.state.Repositories {
		if r.ID == id {
			return r, nil
		}
	}
	return models.Repository{}, ErrNotFound
}

// CreateRepository adds a repository to the catalog.
func (m *Manager) CreateRepository(in models.Repository) (models.Repository, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now().UTC()
	in.ID = uuid.NewString()
	in.CreatedAt = now
	in.UpdatedAt = now
	if in.DefaultBranch == "" {
		in.DefaultBranch = "main"
	}
	if in.Name == "" && in.FullName != "" {
		if i := strings.LastIndex(in.FullName, "/"); i >= 0 {
			in.Name = in.FullName[i+1:]
		}
	}
	m.state.Repositories = append(m.state.Repositories, in)
	if err := m.persistLocked(); err != nil {
		m.state.Repositories = m.state.Repositories[:len(m.state.Repositories)-1]
		return models.Repository{}, err
	}
	return in, nil
}

// DeleteRepository removes a repository; fails with ErrHasDependents when
// any project references it.
func (m *Manager) DeleteRepository(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.state.Projects {
		if p.RepositoryID == id {
			return ErrHasDependents
		}
	}
	for i, r := range m.state.Repositories {
		if r.ID == id {
			prev := m.state.Repositories
			m.state.Repositories = append(append([]models.Repository{}, prev[:i]...), prev[i+1:]...)
			if err := m.persistLocked(); err != nil {
				m.state.Repositories = prev
				return err
			}
			return nil
		}
	}
	return ErrNotFound
}

// slugPattern matches runs of characters that are not kept in branch slugs.
var slugPattern = regexp.MustCompile(`[^a-z0-9]+`)

// Slug lowercases a project name and collapses non-alphanumerics into
// hyphens, for use in the derived working branch.
func Slug(name string) string {
	s := slugPattern.ReplaceAllString(strings.ToLower(name), "-")
	return strings.Trim(s, "-")
}

// WorkingBranch derives the per-project branch: ralph/<slug(name)>-<epoch>.
func WorkingBranch(name string, now time.Time) string {
	return fmt.Sprintf("ralph/%s-%d", Slug(name), now.Unix())
}

// CreateProject adds a project with status idle and a derived working branch.
func (m *Manager) CreateProject(in models.Project) (models.Project, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	found := false
	for _, r := range m.state.Repositories {
		if r.ID == in.RepositoryID {
			found = true
			break
		}
	}
	if !found {
		return models.Project{}, fmt.Errorf("repository %q: %w", in.RepositoryID, ErrNotFound)
	}
	now := time.Now().UTC()
	in.ID = uuid.NewString()
	in.Status = models.ProjectIdle
	in.WorkingBranch = WorkingBranch(in.Name, now)
	if in.MaxIterations <= 0 {
		in.MaxIterations = models.DefaultMaxIterations
	}
	in.CurrentIteration = 0
	in.CreatedAt = now
	in.UpdatedAt = now
	in.RepoURL = ""
	m.state.Projects = append(m.state.Projects, in)
	if err := m.persistLocked(); err != nil {
		m.state.Projects = m.state.Projects[:len(m.state.Projects)-1]
		return models.Project{}, err
	}
	return in, nil
}

// ProjectPatch is a partial update; nil fields are left unchanged.
type ProjectPatch struct {
	Name             *string `json:"name,omitempty"`
	Description      *string `json:"description,omitempty"`
	ProductBrief     *string `json:"productBrief,omitempty"`
	SolutionBrief    *string `json:"solutionBrief,omitempty"`
	BaseBranch       *string `json:"baseBranch,omitempty"`
	Status           *string `json:"status,omitempty"`
	MaxIterations    *int    `json:"maxIterations,omitempty"`
	CurrentIteration *int    `json:"currentIteration,omitempty"`
}

// UpdateProject applies a patch and persists.
func (m *Manager) UpdateProject(id string, patch ProjectPatch) (models.Project, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.state.Projects {
		p := &m.state.Projects[i]
		if p.ID != id {
			continue
		}
		prev := *p
		if patch.Name != nil {
			p.Name = *patch.Name
		}
		if patch.Description != nil {
			p.Description = *patch.Description
		}
		if patch.ProductBrief != nil {
			p.ProductBrief = *patch.ProductBrief
		}
		if patch.SolutionBrief != nil {
			p.SolutionBrief = *patch.SolutionBrief
		}
		if patch.BaseBranch != nil {
			p.BaseBranch = *patch.BaseBranch
		}
		if patch.Status != nil {
			p.Status = *patch.Status
		}
		if patch.MaxIterations != nil {
			p.MaxIterations = *patch.MaxIterations
		}
		if patch.CurrentIteration != nil {
			p.CurrentIteration = *patch.CurrentIteration
		}
		p.UpdatedAt = time.Now().UTC()
		if err := m.persistLocked(); err != nil {
			*p = prev
			return models.Project{}, err
		}
		return *p, nil
	}
	return models.Project{}, ErrNotFound
}

// SetProjectStatus is a convenience wrapper for the common status update.
func (m *Manager) SetProjectStatus(id, status string) (models.Project, error) {
	return m.UpdateProject(id, ProjectPatch{Status: &status})
}

// DeleteProject removes a project from the catalog.
func (m *Manager) DeleteProject(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, p := range m.state.Projects {
		if p.ID == id {
			prev := m.state.Projects
			m.state.Projects = append(append([]models.Project{}, prev[:i]...), prev[i+1:]...)
			if err := m.persistLocked(); err != nil {
				m.state.Projects = prev
				return err
			}
			return nil
		}
	}
	return ErrNotFound
}

// SettingsPatch is a partial settings update; nil fields are left unchanged.
type SettingsPatch struct {
	MaxParallelProjects *int    `json:"maxParallelProjects,omitempty"`
	MaxTaskAttempts     *int    `json:"maxTaskAttempts,omitempty"`
	WorkspacesPath      *string `json:"workspacesPath,omitempty"`
	AgentExecutable     *string `json:"agentExecutable,omitempty"`
}

// UpdateSettings applies a patch and persists.
func (m *Manager) UpdateSettings(patch SettingsPatch) (models.Settings, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	prev := m.state.Settings
	if patch.MaxParallelProjects != nil {
		m.state.Settings.MaxParallelProjects = *patch.MaxParallelProjects
	}
	if patch.MaxTaskAttempts != nil {
		m.state.Settings.MaxTaskAttempts = *patch.MaxTaskAttempts
	}
	if patch.WorkspacesPath != nil {
		m.state.Settings.WorkspacesPath = *patch.WorkspacesPath
	}
	if patch.AgentExecutable != nil {
		m.state.Settings.AgentExecutable = *patch.AgentExecutable
	}
	m.state.Settings = config.Normalize(m.state.Settings, m.home)
	if err := m.persistLocked(); err != nil {
		m.state.Settings = prev
		return models.Settings{}, err
	}
	return m.state.Settings, nil
}

// Settings returns the current settings.
func (m *Manager) Settings() models.Settings {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.Settings
}

// persistLocked writes pretty-printed JSON atomically and schedules the
// debounced snapshot broadcast. Write errors leave the in-memory snapshot
// untouched (callers roll back their own edits).
func (m *Manager) persistLocked() error {
	b, err := json.MarshalIndent(m.state, "", "  ")
	if err != nil {
		return err
	}
	b = append(b, '\n')
	tmp, err := os.CreateTemp(filepath.Dir(m.path), ".state.json.tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(b); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, m.path); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	m.lastWritten = b
	m.scheduleNotifyLocked()
	return nil
}

// scheduleNotifyLocked coalesces bursts of writes into one broadcast.
func (m *Manager) scheduleNotifyLocked() {
	if m.pending != nil {
		m.pending.Reset(debounceInterval)
		return
	}
	m.pending = time.AfterFunc(debounceInterval, func() {
		m.mu.Lock()
		m.pending = nil
		snap := copyState(m.state)
		m.mu.Unlock()
		m.broadcast(snap)
	})
}

func (m *Manager) broadcast(snap models.State) {
	m.subMu.RLock()
	defer m.subMu.RUnlock()
	for ch := range m.subs {
		select {
		case ch <- snap:
		default:
			// Drop for slow subscribers; a later snapshot supersedes this one.
		}
	}
}

// Subscribe returns a channel receiving debounced snapshots after every
// successful write (and external reloads). Close the subscription with
// Unsubscribe.
func (m *Manager) Subscribe() chan models.State {
	ch := make(chan models.State, 8)
	m.subMu.Lock()
	m.subs[ch] = struct{}{}
	m.subMu.Unlock()
	return ch
}

// Unsubscribe removes and closes a subscription channel.
func (m *Manager) Unsubscribe(ch chan models.State) {
	m.subMu.Lock()
	if _, ok := m.subs[ch]; ok {
		delete(m.subs, ch)
		close(ch)
	}
	m.subMu.Unlock()
}

// startWatcher watches the state file's directory and reloads when the file
// is modified by another writer (byte-different from our last write).
func (m *Manager) startWatcher() error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := w.Add(filepath.Dir(m.path)); err != nil {
		_ = w.Close()
		return err
	}
	m.watcher = w
	go m.watchLoop()
	return nil
}

func (m *Manager) watchLoop() {
	for {
		select {
		case <-m.done:
			return
		case ev, ok := <-m.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != m.path {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
				continue
			}
			m.reloadIfExternal()
		case err, ok := <-m.watcher.Errors:
			if !ok {
				return
			}
			m.log.Warn("state watch error", "err", err)
		}
	}
}

// reloadIfExternal re-reads the file and republishes when its content
// differs from the last write performed by this manager.
func (m *Manager) reloadIfExternal() {
	raw, err := os.ReadFile(m.path)
	if err != nil {
		return
	}
	m.mu.Lock()
	if string(raw) == string(m.lastWritten) {
		m.mu.Unlock()
		return
	}
	m.log.Info("state.json modified externally, reloading")
	m.loadLocked()
	m.scheduleNotifyLocked()
	m.mu.Unlock()
}

// Close stops the watcher and closes all subscriptions.
func (m *Manager) Close() error {
	close(m.done)
	if m.watcher != nil {
		_ = m.watcher.Close()
	}
	m.subMu.Lock()
	for ch := range m.subs {
		close(ch)
		delete(m.subs, ch)
	}
	m.subMu.Unlock()
	return nil
}
