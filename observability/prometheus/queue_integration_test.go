package prometheus

import (
	"context"
	"errors"
	"testing"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	taskqueue "github.com/Swind/go-task-queue"
	"github.com/Swind/go-task-queue/core"
	"github.com/Swind/go-task-queue/operation"
)

func TestMetricsExporter_WiredIntoQueue(t *testing.T) {
	reg := prom.NewRegistry()
	exporter, err := NewMetricsExporter("", reg, ExporterOptions{})
	if err != nil {
		t.Fatalf("NewMetricsExporter failed: %v", err)
	}
	poller, err := NewSnapshotPoller("", reg, time.Hour)
	if err != nil {
		t.Fatalf("NewSnapshotPoller failed: %v", err)
	}

	pool := taskqueue.NewGoroutineThreadPoolWithConfig("metrics-pool", 2, &core.TaskSchedulerConfig{Metrics: exporter})
	pool.Start(context.Background())
	defer pool.Stop()
	excl := operation.NewExclusivityController(nil)
	defer excl.Close()
	q := operation.NewQueue(pool, &operation.QueueConfig{Name: "jobs", Metrics: exporter, Exclusivity: excl})
	defer q.Close()
	poller.AddQueue(q.Name(), q)
	poller.AddPool(pool.ID(), pool)

	ok := operation.NewTask("ok", nil)
	rejected := operation.NewTask("rejected", nil, operation.WithConditions(&alwaysFails{}))
	q.SubmitAll([]operation.Runnable{ok, rejected}, true)

	assertEventually(t, 2*time.Second, func() bool {
		succeeded := testutil.ToFloat64(exporter.tasksFinishedTotal.WithLabelValues("jobs", core.OutcomeSucceeded))
		failed := testutil.ToFloat64(exporter.tasksFinishedTotal.WithLabelValues("jobs", core.OutcomeFailed))
		return succeeded == 1 && failed == 1
	})
	if got := testutil.ToFloat64(exporter.conditionFailureTotal.WithLabelValues("jobs", "AlwaysFails")); got != 1 {
		t.Fatalf("condition failures = %v, want 1", got)
	}

	poller.collectOnce()
	if got := testutil.ToFloat64(poller.queueFinished.WithLabelValues("jobs", core.OutcomeSucceeded)); got != 1 {
		t.Fatalf("queue succeeded gauge = %v, want 1", got)
	}
	if got := testutil.ToFloat64(poller.poolWorkers.WithLabelValues("metrics-pool")); got != 2 {
		t.Fatalf("pool workers gauge = %v, want 2", got)
	}
}

type alwaysFails struct{}

func (alwaysFails) Name() string                                  { return "AlwaysFails" }
func (alwaysFails) IsMutuallyExclusive() bool                     { return false }
func (alwaysFails) Dependency(*operation.Task) operation.Runnable { return nil }
func (alwaysFails) Evaluate(ctx context.Context, t *operation.Task, complete func(error)) {
	complete(errors.New("never"))
}
