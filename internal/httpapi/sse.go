package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/mattmoran56/ralph-orchestrator-ui/internal/otel"
	"github.com/mattmoran56/ralph-orchestrator-ui/pkg/models"
)

// Hub is a one-to-many broadcast of engine events to SSE subscribers. Each
// subscriber has a bounded buffer; a slow subscriber drops events rather
// than blocking the engine.
type Hub struct {
	mu   sync.RWMutex
	subs map[chan []byte]struct{}
}

// NewHub returns an empty hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[chan []byte]struct{})}
}

// Subscribe registers a new subscriber channel.
func (h *Hub) Subscribe() chan []byte {
	ch := make(chan []byte, models.DefaultSSEChannelBuffer)
	h.mu.Lock()
	h.subs[ch] = struct{}{}
	h.mu.Unlock()
	otel.AddSSEConnection()
	return ch
}

// Unsubscribe removes and closes a subscriber channel.
func (h *Hub) Unsubscribe(ch chan []byte) {
	h.mu.Lock()
	if _, ok := h.subs[ch]; ok {
		delete(h.subs, ch)
		close(ch)
		otel.RemoveSSEConnection()
	}
	h.mu.Unlock()
}

// PublishJSON broadcasts v to every subscriber, dropping for slow ones.
func (h *Hub) PublishJSON(v any) {
	b, err := json.Marshal(v)
	if err != nil {
		return
	}
	otel.RecordSSEEvent(context.Background())
	h.mu.RLock()
	defer h.mu.RUnlock()
	for ch := range h.subs {
		select {
		case ch <- b:
		default:
			// Drop if subscriber is too slow; prevents global backpressure.
		}
	}
}

// StateChanged broadcasts a debounced catalog snapshot.
func (h *Hub) StateChanged(st models.State) {
	h.PublishJSON(map[string]any{"type": models.EventStateChanged, "state": st})
}

// LogUpdate broadcasts one chunk of agent output. Also satisfies
// agent.ChunkPublisher.
func (h *Hub) LogUpdate(projectID, taskID, chunk string) {
	h.PublishJSON(map[string]any{
		"type":      models.EventLogUpdate,
		"projectId": projectID,
		"taskId":    taskID,
		"chunk":     chunk,
	})
}

// OrchestratorLog broadcasts one orchestrator message.
func (h *Hub) OrchestratorLog(l models.OrchestratorLog) {
	h.PublishJSON(map[string]any{
		"type":      models.EventOrchestratorLog,
		"projectId": l.ProjectID,
		"message":   l.Message,
		"timestamp": l.Timestamp.Format(time.RFC3339Nano),
	})
}

// WorkspaceLogsChanged signals that a project's logs.json gained entries.
func (h *Hub) WorkspaceLogsChanged(projectID string) {
	h.PublishJSON(map[string]any{"type": models.EventWorkspaceLogsChanged, "projectId": projectID})
}

// Handler serves the SSE stream.
func (h *Hub) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "streaming unsupported", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.Header().Set("X-Accel-Buffering", "no")

		ch := h.Subscribe()
		defer h.Unsubscribe(ch)

		// Initial ping so clients know the stream is live.
		_, _ = fmt.Fprintf(w, "data: %s\n\n", `{"type":"connected"}`)
		flusher.Flush()

		keepalive := time.NewTicker(30 * time.Second)
		defer keepalive.Stop()

		ctx := r.Context()
		for {
			select {
			case <-ctx.Done():
				return
			case <-keepalive.C:
				_, _ = fmt.Fprint(w, ": keepalive\n\n")
				flusher.Flush()
			case msg, ok := <-ch:
				if !ok {
					return
				}
				_, _ = fmt.Fprintf(w, "data: %s\n\n", string(msg))
				flusher.Flush()
			}
		}
	}
}
