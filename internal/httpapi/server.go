// Package httpapi serves the engine's HTTP JSON API and the SSE event
// stream. Handlers are thin: validation and status mapping here, semantics
// in the engine packages.
package httpapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/mattmoran56/ralph-orchestrator-ui/internal/orchestrator"
	"github.com/mattmoran56/ralph-orchestrator-ui/internal/state"
	"github.com/mattmoran56/ralph-orchestrator-ui/internal/store"
	"github.com/mattmoran56/ralph-orchestrator-ui/internal/workspace"
	"github.com/mattmoran56/ralph-orchestrator-ui/pkg/models"
)

// defaultMaxRequestBodyBytes bounds request bodies (1 MiB).
const defaultMaxRequestBodyBytes = 1 << 20

// ServerOptions configures the HTTP app.
type ServerOptions struct {
	Addr           string
	Home           string
	Dev            bool         // permissive CORS for a dev UI on another origin
	MetricsHandler http.Handler // Prometheus handler for /metrics
	UseOtelHTTP    bool
	Log            *slog.Logger
}

// App holds the HTTP server and its engine collaborators.
type App struct {
	Server *http.Server
	Hub    *Hub

	state      *state.Manager
	workspaces *workspace.Store
	orch       *orchestrator.Orchestrator
	history    *store.Store
	log        *slog.Logger

	stateSub chan models.State
}

// NewApp registers all routes and wires the state-change broadcast into the
// SSE hub.
func NewApp(opts ServerOptions, st *state.Manager, ws *workspace.Store, orch *orchestrator.Orchestrator, history *store.Store, hub *Hub) *App {
	log := opts.Log
	if log == nil {
		log = slog.Default()
	}
	app := &App{
		Hub:        hub,
		state:      st,
		workspaces: ws,
		orch:       orch,
		history:    history,
		log:        log,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{"ok": true})
	})
	if opts.MetricsHandler != nil {
		mux.Handle("GET /metrics", opts.MetricsHandler)
	}
	mux.HandleFunc("GET /events", hub.Handler())

	mux.HandleFunc("GET /api/state", app.handleGetState)
	mux.HandleFunc("PUT /api/settings", app.handleUpdateSettings)

	mux.HandleFunc("GET /api/repos", app.handleListRepos)
	mux.HandleFunc("POST /api/repos", app.handleCreateRepo)
	mux.HandleFunc("DELETE /api/repos/{id}", app.handleDeleteRepo)

	mux.HandleFunc("GET /api/projects", app.handleListProjects)
	mux.HandleFunc("POST /api/projects", app.handleCreateProject)
	mux.HandleFunc("GET /api/projects/{id}", app.handleGetProject)
	mux.HandleFunc("PATCH /api/projects/{id}", app.handleUpdateProject)
	mux.HandleFunc("DELETE /api/projects/{id}", app.handleDeleteProject)
	mux.HandleFunc("GET /api/projects/{id}/loop-logs", app.handleGetLoopLogs)
	mux.HandleFunc("POST /api/projects/{id}/loop-logs/clear", app.handleClearLoopLogs)
	mux.HandleFunc("GET /api/projects/{id}/orchestrator-logs", app.handleGetOrchestratorLogs)

	mux.HandleFunc("GET /api/projects/{id}/tasks", app.handleListTasks)
	mux.HandleFunc("POST /api/projects/{id}/tasks", app.handleAddTask)
	mux.HandleFunc("POST /api/projects/{id}/tasks/reorder", app.handleReorderTasks)
	mux.HandleFunc("GET /api/projects/{id}/tasks/{taskId}", app.handleGetTask)
	mux.HandleFunc("PATCH /api/projects/{id}/tasks/{taskId}", app.handleUpdateTask)
	mux.HandleFunc("DELETE /api/projects/{id}/tasks/{taskId}", app.handleDeleteTask)
	mux.HandleFunc("GET /api/projects/{id}/tasks/{taskId}/logs", app.handleGetTaskLogs)

	mux.HandleFunc("POST /api/orchestrator/{id}/start", app.handleOrchestratorStart)
	mux.HandleFunc("POST /api/orchestrator/{id}/stop", app.handleOrchestratorStop)
	mux.HandleFunc("POST /api/orchestrator/{id}/pause", app.handleOrchestratorPause)
	mux.HandleFunc("POST /api/orchestrator/{id}/resume", app.handleOrchestratorResume)
	mux.HandleFunc("GET /api/orchestrator/status", app.handleOrchestratorStatus)

	mux.HandleFunc("GET /api/github/auth", app.handleGitHubAuth)
	mux.HandleFunc("POST /api/github/login", app.handleGitHubLogin)
	mux.HandleFunc("GET /api/github/repos", app.handleGitHubRepos)

	var handler http.Handler = mux
	handler = bodyLimitMiddleware(defaultMaxRequestBodyBytes, handler)
	if opts.Dev {
		handler = corsMiddleware(handler)
	}
	handler = requestLogMiddleware(log, handler)
	if opts.UseOtelHTTP {
		handler = otelhttp.NewHandler(handler, "ralphd")
	}
	app.Server = &http.Server{
		Addr:              opts.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      0, // SSE streams stay open
		IdleTimeout:       60 * time.Second,
	}

	// Forward debounced catalog snapshots to SSE subscribers.
	app.stateSub = st.Subscribe()
	go func() {
		for snap := range app.stateSub {
			hub.StateChanged(snap)
		}
	}()

	return app
}

// Close detaches the state subscription. The http.Server is shut down by the
// daemon.
func (a *App) Close() {
	a.state.Unsubscribe(a.stateSub)
}

// limitBody wraps r.Body with http.MaxBytesReader so handlers cannot read
// more than maxBytes.
func limitBody(w http.ResponseWriter, r *http.Request, maxBytes int64) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
}

func bodyLimitMiddleware(maxBytes int64, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost || r.Method == http.MethodPut || r.Method == http.MethodPatch {
			limitBody(w, r, maxBytes)
		}
		next.ServeHTTP(w, r)
	})
}

// corsMiddleware opens the API for a dev UI served from a different origin.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// responseRecorder captures the status for logging and forwards Flusher so
// SSE keeps working through the middleware chain.
type responseRecorder struct {
	http.ResponseWriter
	status int
}

func (r *responseRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *responseRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func requestLogMiddleware(log *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		start := time.Now()
		rec := &responseRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, req)
		log.Info("request",
			"method", req.Method,
			"path", req.URL.Path,
			"status", rec.status,
			"duration_ms", time.Since(start).Milliseconds())
	})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(v)
}

// writeJSONError sends {"error": "message"} with the given status.
func writeJSONError(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]any{"error": message})
}

// writeError maps engine errors onto HTTP statuses.
func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, state.ErrNotFound),
		errors.Is(err, workspace.ErrTaskNotFound),
		errors.Is(err, workspace.ErrWorkspaceMissing):
		writeJSONError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, state.ErrHasDependents),
		errors.Is(err, orchestrator.ErrAlreadyRunning),
		errors.Is(err, orchestrator.ErrCapacityExceeded),
		errors.Is(err, orchestrator.ErrNotRunning),
		errors.Is(err, orchestrator.ErrNotPaused):
		writeJSONError(w, http.StatusConflict, err.Error())
	default:
		writeJSONError(w, http.StatusInternalServerError, err.Error())
	}
}
