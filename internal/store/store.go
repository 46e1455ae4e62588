// Package store persists the run history: the per-task agent-run log index
// and the orchestrator message log. Backed by SQLite; the catalog itself
// lives in state.json (internal/state) and task data in the workspace
// (internal/workspace), so this store only ever appends history.
package store

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/mattmoran56/ralph-orchestrator-ui/pkg/models"
)

const schema = `
CREATE TABLE IF NOT EXISTS task_logs (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	project_id  TEXT NOT NULL,
	task_id     TEXT NOT NULL,
	ts          TEXT NOT NULL,
	file_path   TEXT NOT NULL,
	summary     TEXT NOT NULL,
	success     INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_task_logs_task ON task_logs(project_id, task_id);

CREATE TABLE IF NOT EXISTS orchestrator_logs (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	project_id  TEXT NOT NULL,
	ts          TEXT NOT NULL,
	message     TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_orch_logs_project ON orchestrator_logs(project_id);
`

// Store is the SQLite-backed run-history index.
type Store struct {
	DB *sql.DB
}

// Open opens (and migrates) the history database at path.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	dsn := "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(4)
	db.SetConnMaxLifetime(5 * time.Minute)
	if _, err := db.ExecContext(context.Background(), schema); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{DB: db}, nil
}

// AppendTaskLog records one agent run for a task.
func (s *Store) AppendTaskLog(ctx context.Context, e models.TaskLogEntry) error {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	_, err := s.DB.ExecContext(ctx,
		`INSERT INTO task_logs (project_id, task_id, ts, file_path, summary, success) VALUES (?, ?, ?, ?, ?, ?)`,
		e.ProjectID, e.TaskID, e.Timestamp.Format(time.RFC3339Nano), e.FilePath, e.Summary, boolInt(e.Success))
	return err
}

// ListTaskLogs returns the runs recorded for a task, oldest first.
func (s *Store) ListTaskLogs(ctx context.Context, projectID, taskID string) ([]models.TaskLogEntry, error) {
	rows, err := s.DB.QueryContext(ctx,
		`SELECT project_id, task_id, ts, file_path, summary, success FROM task_logs WHERE project_id = ? AND task_id = ? ORDER BY id`,
		projectID, taskID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	out := []models.TaskLogEntry{}
	for rows.Next() {
		var e models.TaskLogEntry
		var ts string
		var success int
		if err := rows.Scan(&e.ProjectID, &e.TaskID, &ts, &e.FilePath, &e.Summary, &success); err != nil {
			return nil, err
		}
		e.Timestamp, _ = time.Parse(time.RFC3339Nano, ts)
		e.Success = success != 0
		out = append(out, e)
	}
	return out, rows.Err()
}

// AppendOrchestratorLog records one orchestrator message for a project.
func (s *Store) AppendOrchestratorLog(ctx context.Context, l models.OrchestratorLog) error {
	if l.Timestamp.IsZero() {
		l.Timestamp = time.Now().UTC()
	}
	_, err := s.DB.ExecContext(ctx,
		`INSERT INTO orchestrator_logs (project_id, ts, message) VALUES (?, ?, ?)`,
		l.ProjectID, l.Timestamp.Format(time.RFC3339Nano), l.Message)
	return err
}

// ListOrchestratorLogs returns up to limit messages for a project, oldest
// first. limit <= 0 returns everything.
func (s *Store) ListOrchestratorLogs(ctx context.Context, projectID string, limit int) ([]models.OrchestratorLog, error) {
	q := `SELECT project_id, ts, message FROM orchestrator_logs WHERE project_id = ? ORDER BY id`
	args := []any{projectID}
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.DB.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	out := []models.OrchestratorLog{}
	for rows.Next() {
		var l models.OrchestratorLog
		var ts string
		if err := rows.Scan(&l.ProjectID, &ts, &l.Message); err != nil {
			return nil, err
		}
		l.Timestamp, _ = time.Parse(time.RFC3339Nano, ts)
		out = append(out, l)
	}
	return out, rows.Err()
}

// DeleteProject removes all history for a project.
func (s *Store) DeleteProject(ctx context.Context, projectID string) error {
	if _, err := s.DB.ExecContext(ctx, `DELETE FROM task_logs WHERE project_id = ?`, projectID); err != nil {
		return err
	}
	_, err := s.DB.ExecContext(ctx, `DELETE FROM orchestrator_logs WHERE project_id = ?`, projectID)
	return err
}

// Close closes the database.
func (s *Store) Close() error { return s.DB.Close() }

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
