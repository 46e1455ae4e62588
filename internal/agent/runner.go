// Package agent runs the code-agent CLI as a supervised child process under
// a pseudo-terminal, streaming combined output to a log file and to event
// subscribers, and parsing the completion markers out of the transcript.
package agent

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/creack/pty"
)

// Terminal geometry for the agent PTY.
const (
	ptyCols = 120
	ptyRows = 30
)

// termGrace is how long a SIGTERM'd agent gets before SIGKILL.
const termGrace = 2 * time.Second

// DefaultAllowedTools is the agent tool allowlist: read/search/edit tools
// plus the safe local shell subset.
var DefaultAllowedTools = []string{
	"Read", "Edit", "Write", "Grep", "Glob",
	"Bash(git add:*)", "Bash(git commit:*)", "Bash(git status:*)",
	"Bash(git diff:*)", "Bash(git log:*)",
	"Bash(npm test:*)", "Bash(pnpm test:*)", "Bash(yarn test:*)",
	"Bash(go test:*)", "Bash(pytest:*)", "Bash(cargo test:*)",
}

// DefaultDisallowedTools denies remote operations; pushing and PR creation
// belong to the orchestrator.
var DefaultDisallowedTools = []string{
	"Bash(git push:*)", "Bash(gh:*)",
}

// ChunkPublisher receives combined-output chunks as they stream. Implemented
// by the SSE hub; a nil publisher disables broadcasting.
type ChunkPublisher interface {
	LogUpdate(projectID, taskID, chunk string)
}

// ProcessSpec describes one agent invocation.
type ProcessSpec struct {
	ProjectID        string
	TaskID           string
	Prompt           string
	WorkingDirectory string
	LogFilePath      string
	AllowedTools     []string
	DisallowedTools  []string
}

// Outcome is the parsed result of an agent run.
type Outcome struct {
	OK             bool
	CombinedOutput string
	TaskComplete   bool
	TaskBlocked    bool
	BlockedReason  string
	Stopped        bool
	ExitCode       int
}

// Runner spawns the code-agent CLI.
type Runner struct {
	Executable string
	Publisher  ChunkPublisher
	Log        *slog.Logger
}

// NewRunner returns a runner for the given agent executable.
func NewRunner(executable string, pub ChunkPublisher, log *slog.Logger) *Runner {
	if log == nil {
		log = slog.Default()
	}
	return &Runner{Executable: executable, Publisher: pub, Log: log}
}

func (r *Runner) args(spec ProcessSpec) []string {
	allowed := spec.AllowedTools
	if allowed == nil {
		allowed = DefaultAllowedTools
	}
	disallowed := spec.DisallowedTools
	if disallowed == nil {
		disallowed = DefaultDisallowedTools
	}
	args := []string{
		"-p", spec.Prompt,
		"--permission-mode", "acceptEdits",
		"--output-format", "text",
		"--verbose",
	}
	if len(allowed) > 0 {
		args = append(args, "--allowedTools", strings.Join(allowed, ","))
	}
	if len(disallowed) > 0 {
		args = append(args, "--disallowedTools", strings.Join(disallowed, ","))
	}
	return args
}

// Run spawns the agent under a PTY and blocks until it exits or ctx is
// cancelled. Cancellation sends SIGTERM, then SIGKILL after a short grace
// period; the outcome then reports Stopped with OK=false.
func (r *Runner) Run(ctx context.Context, spec ProcessSpec) (Outcome, error) {
	if r.Executable == "" {
		return Outcome{}, errors.New("agent executable is required")
	}
	if spec.WorkingDirectory == "" {
		return Outcome{}, errors.New("working directory is required")
	}

	logFile, err := r.openLog(spec)
	if err != nil {
		return Outcome{}, err
	}
	defer func() { _ = logFile.Close() }()

	cmd := exec.Command(r.Executable, r.args(spec)...)
	cmd.Dir = spec.WorkingDirectory
	cmd.Env = append(os.Environ(), "NO_COLOR=1", "FORCE_COLOR=0")

	start := time.Now().UTC()
	writeHeader(logFile, spec, start)

	ptmx, err := pty.StartWithSize(cmd, &pty.Winsize{Rows: ptyRows, Cols: ptyCols})
	if err != nil {
		writeFooter(logFile, -1, time.Now().UTC())
		return Outcome{}, fmt.Errorf("start agent: %w", err)
	}
	defer func() { _ = ptmx.Close() }()

	// Watch for cancellation while the read loop drains the PTY.
	readDone := make(chan struct{})
	var stopped atomic.Bool
	go func() {
		select {
		case <-readDone:
		case <-ctx.Done():
			stopped.Store(true)
			if cmd.Process != nil {
				_ = cmd.Process.Signal(syscall.SIGTERM)
			}
			select {
			case <-readDone:
			case <-time.After(termGrace):
				if cmd.Process != nil {
					_ = cmd.Process.Kill()
				}
			}
		}
	}()

	var output strings.Builder
	buf := make([]byte, 4096)
	for {
		n, readErr := ptmx.Read(buf)
		if n > 0 {
			chunk := string(buf[:n])
			output.WriteString(chunk)
			if _, werr := logFile.Write(buf[:n]); werr != nil {
				r.Log.Warn("agent log write failed", "path", spec.LogFilePath, "err", werr)
			}
			if r.Publisher != nil {
				r.Publisher.LogUpdate(spec.ProjectID, spec.TaskID, chunk)
			}
		}
		if readErr != nil {
			// PTY read returns EIO when the child exits; treat as EOF.
			if !errors.Is(readErr, io.EOF) && !errors.Is(readErr, syscall.EIO) {
				r.Log.Warn("agent pty read error", "err", readErr)
			}
			break
		}
	}
	close(readDone)

	exitCode := 0
	waitErr := cmd.Wait()
	if waitErr != nil {
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			exitCode = exitErr.ExitCode()
		} else {
			exitCode = -1
		}
	}
	writeFooter(logFile, exitCode, time.Now().UTC())

	combined := output.String()
	complete, blocked, reason := ParseMarkers(combined)
	wasStopped := stopped.Load()
	return Outcome{
		OK:             !wasStopped && exitCode == 0,
		CombinedOutput: combined,
		TaskComplete:   complete,
		TaskBlocked:    blocked,
		BlockedReason:  reason,
		Stopped:        wasStopped,
		ExitCode:       exitCode,
	}, nil
}

func (r *Runner) openLog(spec ProcessSpec) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(spec.LogFilePath), 0o755); err != nil {
		return nil, err
	}
	return os.OpenFile(spec.LogFilePath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
}

func writeHeader(w io.Writer, spec ProcessSpec, start time.Time) {
	fmt.Fprintf(w, "=== agent run ===\n")
	fmt.Fprintf(w, "started:  %s\n", start.Format(time.RFC3339))
	fmt.Fprintf(w, "project:  %s\n", spec.ProjectID)
	fmt.Fprintf(w, "task:     %s\n", spec.TaskID)
	fmt.Fprintf(w, "workdir:  %s\n", spec.WorkingDirectory)
	fmt.Fprintf(w, "prompt:\n%s\n", spec.Prompt)
	fmt.Fprintf(w, "=== output ===\n")
}

func writeFooter(w io.Writer, exitCode int, end time.Time) {
	fmt.Fprintf(w, "\n=== end ===\n")
	fmt.Fprintf(w, "exit:  %d\n", exitCode)
	fmt.Fprintf(w, "ended: %s\n", end.Format(time.RFC3339))
}

// LogFileName returns <taskID>-<iso-timestamp>.log, filename-safe.
func LogFileName(taskID string, now time.Time) string {
	ts := strings.ReplaceAll(now.UTC().Format(time.RFC3339), ":", "-")
	return fmt.Sprintf("%s-%s.log", taskID, ts)
}
