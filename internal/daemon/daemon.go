// Package daemon runs the ralphd engine as a local daemon: singleton lock,
// pid/addr files, foreground and detached start, SIGTERM stop with a
// deadline. The engine container (state, workspace, git, agent, verifier,
// orchestrator, HTTP app) is assembled here and torn down on shutdown.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/mattmoran56/ralph-orchestrator-ui/internal/agent"
	"github.com/mattmoran56/ralph-orchestrator-ui/internal/config"
	"github.com/mattmoran56/ralph-orchestrator-ui/internal/gitx"
	"github.com/mattmoran56/ralph-orchestrator-ui/internal/httpapi"
	"github.com/mattmoran56/ralph-orchestrator-ui/internal/orchestrator"
	"github.com/mattmoran56/ralph-orchestrator-ui/internal/otel"
	"github.com/mattmoran56/ralph-orchestrator-ui/internal/state"
	"github.com/mattmoran56/ralph-orchestrator-ui/internal/store"
	"github.com/mattmoran56/ralph-orchestrator-ui/internal/verify"
	"github.com/mattmoran56/ralph-orchestrator-ui/internal/workspace"
)

// DefaultPort is the API listen port when neither the flag nor config.yaml
// sets one.
const DefaultPort = 7381

// StartForeground assembles the engine and serves until ctx is cancelled.
func StartForeground(ctx context.Context, opts StartOptions) error {
	if opts.Home == "" {
		return errors.New("home is required")
	}
	log := slog.Default()

	fc, err := config.LoadFileConfig(opts.Home)
	if err != nil {
		return fmt.Errorf("load config.yaml: %w", err)
	}
	if opts.Port == 0 {
		opts.Port = fc.Port
	}
	if opts.Port == 0 {
		opts.Port = DefaultPort
	}

	if err := os.MkdirAll(runDir(opts.Home), 0o755); err != nil {
		return err
	}
	lock, err := acquireLock(lockPath(opts.Home))
	if err != nil {
		return err
	}
	defer lock.release()

	startPprof(opts.PprofAddr)

	pid := os.Getpid()
	if err := os.WriteFile(pidPath(opts.Home), []byte(strconv.Itoa(pid)+"\n"), 0o644); err != nil {
		return err
	}
	addr := fmt.Sprintf("127.0.0.1:%d", opts.Port)
	_ = os.WriteFile(addrPath(opts.Home), []byte(addr+"\n"), 0o644)
	defer func() {
		_ = os.Remove(pidPath(opts.Home))
		_ = os.Remove(addrPath(opts.Home))
	}()

	if err := checkPortAvailable(addr); err != nil {
		return err
	}

	// Engine container. Everything hangs off the state manager's settings.
	st, err := state.Open(opts.Home, config.DefaultSettings(opts.Home, fc), log)
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()

	settings := st.Settings()
	ws := workspace.NewStore(settings.WorkspacesPath)
	git := gitx.NewDriver(ws)

	history, err := store.Open(config.HistoryDBPath(opts.Home))
	if err != nil {
		return fmt.Errorf("open history store: %w", err)
	}
	defer func() { _ = history.Close() }()

	hub := httpapi.NewHub()
	runner := agent.NewRunner(settings.AgentExecutable, hub, log)
	verifier := verify.NewVerifier(runner, fc.Verification.Strict, log)

	orch := orchestrator.New(orchestrator.Options{
		State:      st,
		Workspaces: ws,
		Git:        git,
		Agent:      runner,
		Verifier:   verifier,
		History:    history,
		Events:     hub,
		LogsDir:    config.LogsDir(opts.Home),
		Log:        log,
	})

	srvOpts := httpapi.ServerOptions{
		Addr: addr,
		Home: opts.Home,
		Dev:  opts.Dev,
		Log:  log,
	}
	metricsHandler, err := otel.InitMeterProvider(ctx, "ralphd")
	if err != nil {
		log.Warn("otel init failed, /metrics disabled", "err", err)
	} else {
		srvOpts.MetricsHandler = metricsHandler
		srvOpts.UseOtelHTTP = true
		if err := otel.InitMetrics(ctx, orch.RunningCount); err != nil {
			log.Warn("metric instruments init failed", "err", err)
		}
	}

	app := httpapi.NewApp(srvOpts, st, ws, orch, history, hub)
	defer app.Close()

	log.Info("daemon starting", "addr", addr, "home", opts.Home)
	errCh := make(chan error, 1)
	go func() {
		errCh <- app.Server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		orch.StopAll()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		_ = app.Server.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		orch.StopAll()
		if err == nil || errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// StartBackground re-executes the binary as a detached daemon process with
// stderr redirected to the daemon log.
func StartBackground(ctx context.Context, opts StartOptions) (int, error) {
	exe, err := os.Executable()
	if err != nil {
		return 0, err
	}
	if err := os.MkdirAll(runDir(opts.Home), 0o755); err != nil {
		return 0, err
	}
	if st, _ := Status(ctx, opts.Home); st.Running {
		return 0, fmt.Errorf("ralphd already running (pid %d)", st.PID)
	}

	stderr, err := os.OpenFile(DaemonLogPath(opts.Home), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return 0, err
	}
	// Kept open for the child's lifetime.

	args := []string{"daemon", "--home", opts.Home}
	if opts.Port != 0 {
		args = append(args, "--port", strconv.Itoa(opts.Port))
	}
	if opts.Dev {
		args = append(args, "--dev")
	}
	if opts.PprofAddr != "" {
		args = append(args, "--pprof", opts.PprofAddr)
	}

	cmd := exec.Command(exe, args...)
	cmd.Stdout = io.Discard
	cmd.Stderr = stderr
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
	if err := cmd.Start(); err != nil {
		return 0, err
	}

	// Wait briefly for the pid file or for the child to die.
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if st, _ := Status(ctx, opts.Home); st.Running {
			return st.PID, nil
		}
		time.Sleep(50 * time.Millisecond)
	}
	return cmd.Process.Pid, nil
}

// Stop signals the daemon with SIGTERM and waits up to 15s, then SIGKILLs.
// Returns false when no daemon was running.
func Stop(ctx context.Context, home string) (bool, error) {
	st, err := Status(ctx, home)
	if err != nil {
		return false, err
	}
	if !st.Running {
		return false, nil
	}
	proc, err := os.FindProcess(st.PID)
	if err != nil {
		return false, err
	}
	if err := proc.Signal(syscall.SIGTERM); err != nil {
		return false, err
	}
	deadline := time.Now().Add(15 * time.Second)
	for time.Now().Before(deadline) {
		if st2, _ := Status(ctx, home); !st2.Running {
			return true, nil
		}
		time.Sleep(100 * time.Millisecond)
	}
	_ = proc.Kill()
	return true, nil
}

// Status reads the pid file and probes the process. A stale pid file is
// removed.
func Status(ctx context.Context, home string) (StatusInfo, error) {
	pb, err := os.ReadFile(pidPath(home))
	if err != nil {
		return StatusInfo{Running: false}, nil
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(pb)))
	if err != nil || pid <= 0 {
		return StatusInfo{Running: false}, nil
	}
	// kill(pid, 0) checks existence on unix.
	if err := syscall.Kill(pid, 0); err != nil {
		_ = os.Remove(pidPath(home))
		return StatusInfo{Running: false}, nil
	}
	addr := ""
	if ab, err := os.ReadFile(addrPath(home)); err == nil {
		addr = strings.TrimSpace(string(ab))
	}
	if addr == "" {
		addr = "unknown"
	}
	return StatusInfo{Running: true, PID: pid, Addr: addr}, nil
}

func checkPortAvailable(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("address %s is already in use", addr)
	}
	_ = ln.Close()
	return nil
}
