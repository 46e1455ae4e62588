package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
)

type homeKey struct{}

// WithHome stores the ralphd home path in the context.
func WithHome(ctx context.Context, home string) context.Context {
	return context.WithValue(ctx, homeKey{}, home)
}

// HomeFrom returns the ralphd home path from the context, if set.
func HomeFrom(ctx context.Context) (string, bool) {
	v := ctx.Value(homeKey{})
	s, ok := v.(string)
	return s, ok
}

// MustHomeFrom returns the home path from the context, or panics if not set.
func MustHomeFrom(ctx context.Context) string {
	if h, ok := HomeFrom(ctx); ok && h != "" {
		return h
	}
	panic("ralphd home missing from context")
}

// ResolveHome returns the ralphd home directory (override, RALPHD_HOME, or
// default ~/.ralphd).
func ResolveHome(override string) (string, error) {
	if override != "" {
		return filepath.Clean(override), nil
	}
	if env := os.Getenv("RALPHD_HOME"); env != "" {
		return filepath.Clean(env), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", errors.New("could not determine user home directory")
	}
	return filepath.Join(home, ".ralphd"), nil
}

// StatePath returns the path of the persisted catalog under home.
func StatePath(home string) string {
	return filepath.Join(home, "data", "state.json")
}

// LogsDir returns the directory holding per-project agent log files.
func LogsDir(home string) string {
	return filepath.Join(home, "logs")
}

// HistoryDBPath returns the path of the run-history SQLite database.
func HistoryDBPath(home string) string {
	return filepath.Join(home, "data", "history.db")
}

// DefaultWorkspacesPath returns the default workspace root under home.
func DefaultWorkspacesPath(home string) string {
	return filepath.Join(home, "workspaces")
}
