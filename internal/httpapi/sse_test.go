package httpapi

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/mattmoran56/ralph-orchestrator-ui/pkg/models"
)

func TestHub_publishSubscribe(t *testing.T) {
	hub := NewHub()
	ch := hub.Subscribe()
	defer hub.Unsubscribe(ch)

	hub.LogUpdate("p1", "t1", "hello")

	select {
	case msg := <-ch:
		var ev map[string]any
		if err := json.Unmarshal(msg, &ev); err != nil {
			t.Fatal(err)
		}
		if ev["type"] != models.EventLogUpdate || ev["chunk"] != "hello" {
			t.Errorf("event = %v", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("no event delivered")
	}
}

func TestHub_slowSubscriberDrops(t *testing.T) {
	hub := NewHub()
	ch := hub.Subscribe()
	defer hub.Unsubscribe(ch)

	// Overfill the buffer; publishing must never block.
	done := make(chan struct{})
	go func() {
		for i := 0; i < models.DefaultSSEChannelBuffer+10; i++ {
			hub.WorkspaceLogsChanged("p1")
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked on a slow subscriber")
	}
	if len(ch) != models.DefaultSSEChannelBuffer {
		t.Errorf("buffered = %d, want full buffer %d", len(ch), models.DefaultSSEChannelBuffer)
	}
}

func TestHub_unsubscribeCloses(t *testing.T) {
	hub := NewHub()
	ch := hub.Subscribe()
	hub.Unsubscribe(ch)
	if _, ok := <-ch; ok {
		t.Fatal("channel must be closed after unsubscribe")
	}
	// Double unsubscribe is a no-op, not a panic.
	hub.Unsubscribe(ch)
}

func TestHub_handlerStreams(t *testing.T) {
	hub := NewHub()
	srv := httptest.NewServer(hub.Handler())
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL, nil)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := srv.Client().Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("content type = %q", ct)
	}

	r := bufio.NewReader(resp.Body)
	line, err := r.ReadString('\n')
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(line, `"type":"connected"`) {
		t.Fatalf("hello event = %q", line)
	}

	// Published events arrive over the wire framed as data: lines.
	go func() {
		// Give the handler a moment to register its subscription.
		time.Sleep(50 * time.Millisecond)
		hub.OrchestratorLog(models.OrchestratorLog{ProjectID: "p1", Message: "started", Timestamp: time.Now()})
	}()
	for {
		line, err = r.ReadString('\n')
		if err != nil {
			t.Fatal(err)
		}
		if strings.HasPrefix(line, "data: ") && strings.Contains(line, models.EventOrchestratorLog) {
			if !strings.Contains(line, `"message":"started"`) {
				t.Fatalf("event line = %q", line)
			}
			return
		}
	}
}
