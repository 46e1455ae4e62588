package otel

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel/metric"
)

var (
	initMetricsOnce      sync.Once
	taskOpsCounter       metric.Int64Counter
	agentRunsCounter     metric.Int64Counter
	agentRunDuration     metric.Float64Histogram
	verificationsCounter metric.Int64Counter
	projectsRunningGauge metric.Int64ObservableGauge
	sseEventsCounter     metric.Int64Counter
	sseConnectionsGauge  metric.Int64ObservableGauge
	sseConnections       int64
	sseConnectionsMu     sync.Mutex
)

// InitMetrics creates the meter instruments. Safe to call multiple times;
// only runs once. runningCount reports the current active-project count
// (may be nil before the orchestrator exists).
func InitMetrics(ctx context.Context, runningCount func() int64) error {
	var err error
	initMetricsOnce.Do(func() {
		m := Meter()
		taskOpsCounter, err = m.Int64Counter("ralphd_task_operations_total", metric.WithDescription("Total task status transitions"))
		if err != nil {
			return
		}
		agentRunsCounter, err = m.Int64Counter("ralphd_agent_runs_total", metric.WithDescription("Total agent subprocess runs"))
		if err != nil {
			return
		}
		agentRunDuration, err = m.Float64Histogram("ralphd_agent_run_duration_seconds", metric.WithDescription("Agent run duration in seconds"))
		if err != nil {
			return
		}
		verificationsCounter, err = m.Int64Counter("ralphd_verifications_total", metric.WithDescription("Total verification pipeline results"))
		if err != nil {
			return
		}
		sseEventsCounter, err = m.Int64Counter("ralphd_sse_events_total", metric.WithDescription("Total SSE events published"))
		if err != nil {
			return
		}
		sseConnectionsGauge, err = m.Int64ObservableGauge("ralphd_sse_connections", metric.WithDescription("Current SSE subscriber count"))
		if err != nil {
			return
		}
		_, err = m.RegisterCallback(func(ctx context.Context, o metric.Observer) error {
			sseConnectionsMu.Lock()
			n := sseConnections
			sseConnectionsMu.Unlock()
			o.ObserveInt64(sseConnectionsGauge, n)
			return nil
		}, sseConnectionsGauge)
		if err != nil {
			return
		}
		if runningCount != nil {
			projectsRunningGauge, err = m.Int64ObservableGauge("ralphd_projects_running", metric.WithDescription("Projects with an active orchestrator entry"))
			if err != nil {
				return
			}
			_, err = m.RegisterCallback(func(ctx context.Context, o metric.Observer) error {
				o.ObserveInt64(projectsRunningGauge, runningCount())
				return nil
			}, projectsRunningGauge)
		}
	})
	return err
}

// RecordTaskOp increments the task transition counter.
func RecordTaskOp(ctx context.Context, projectID, status string) {
	if taskOpsCounter == nil {
		return
	}
	taskOpsCounter.Add(ctx, 1, metric.WithAttributes(AttrProject.String(projectID), AttrStatus.String(status)))
}

// RecordAgentRun records one agent subprocess run and its duration.
func RecordAgentRun(ctx context.Context, projectID string, d time.Duration) {
	if agentRunsCounter != nil {
		agentRunsCounter.Add(ctx, 1, metric.WithAttributes(AttrProject.String(projectID)))
	}
	if agentRunDuration != nil {
		agentRunDuration.Record(ctx, d.Seconds(), metric.WithAttributes(AttrProject.String(projectID)))
	}
}

// RecordVerification records one verification result.
func RecordVerification(ctx context.Context, projectID string, passed bool) {
	if verificationsCounter == nil {
		return
	}
	result := "failed"
	if passed {
		result = "passed"
	}
	verificationsCounter.Add(ctx, 1, metric.WithAttributes(AttrProject.String(projectID), AttrResult.String(result)))
}

// RecordSSEEvent increments the published-event counter.
func RecordSSEEvent(ctx context.Context) {
	if sseEventsCounter == nil {
		return
	}
	sseEventsCounter.Add(ctx, 1)
}

// AddSSEConnection / RemoveSSEConnection adjust the subscriber gauge.
func AddSSEConnection() {
	sseConnectionsMu.Lock()
	sseConnections++
	sseConnectionsMu.Unlock()
}

func RemoveSSEConnection() {
	sseConnectionsMu.Lock()
	sseConnections--
	sseConnectionsMu.Unlock()
}
