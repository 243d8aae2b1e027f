package prometheus

import (
	"errors"
	"fmt"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"

	"github.com/Swind/go-task-queue/core"
)

// DefaultNamespace prefixes every collector when none is given.
const DefaultNamespace = "taskqueue"

// ExporterOptions controls collector configuration.
type ExporterOptions struct {
	DurationBuckets []float64
}

// MetricsExporter adapts core.Metrics to Prometheus collectors.
type MetricsExporter struct {
	taskDurationSeconds   *prom.HistogramVec
	tasksFinishedTotal    *prom.CounterVec
	conditionFailureTotal *prom.CounterVec
	taskPanicTotal        *prom.CounterVec
	taskRejectedTotal     *prom.CounterVec
	queueDepth            *prom.GaugeVec
}

var _ core.Metrics = (*MetricsExporter)(nil)

// NewMetricsExporter creates and registers Prometheus collectors for core.Metrics.
// Collectors already registered under the same names are reused.
func NewMetricsExporter(namespace string, reg prom.Registerer, opts ExporterOptions) (*MetricsExporter, error) {
	if namespace == "" {
		namespace = DefaultNamespace
	}
	if reg == nil {
		reg = prom.DefaultRegisterer
	}
	buckets := opts.DurationBuckets
	if len(buckets) == 0 {
		buckets = prom.DefBuckets
	}

	durationVec := prom.NewHistogramVec(prom.HistogramOpts{
		Namespace: namespace,
		Name:      "task_duration_seconds",
		Help:      "Time from a task starting to execute until it finished.",
		Buckets:   buckets,
	}, []string{"queue"})
	finishedVec := prom.NewCounterVec(prom.CounterOpts{
		Namespace: namespace,
		Name:      "tasks_finished_total",
		Help:      "Total number of finished units by outcome.",
	}, []string{"queue", "outcome"})
	conditionVec := prom.NewCounterVec(prom.CounterOpts{
		Namespace: namespace,
		Name:      "condition_failures_total",
		Help:      "Total number of condition failures by condition.",
	}, []string{"queue", "condition"})
	panicVec := prom.NewCounterVec(prom.CounterOpts{
		Namespace: namespace,
		Name:      "task_panic_total",
		Help:      "Total number of task panics.",
	}, []string{"queue"})
	rejectedVec := prom.NewCounterVec(prom.CounterOpts{
		Namespace: namespace,
		Name:      "task_rejected_total",
		Help:      "Total number of rejected tasks.",
	}, []string{"runner", "reason"})
	queueDepthVec := prom.NewGaugeVec(prom.GaugeOpts{
		Namespace: namespace,
		Name:      "queue_depth",
		Help:      "Admitted but unfinished units per queue.",
	}, []string{"queue"})

	var err error
	if durationVec, err = registerCollector(reg, durationVec); err != nil {
		return nil, err
	}
	if finishedVec, err = registerCollector(reg, finishedVec); err != nil {
		return nil, err
	}
	if conditionVec, err = registerCollector(reg, conditionVec); err != nil {
		return nil, err
	}
	if panicVec, err = registerCollector(reg, panicVec); err != nil {
		return nil, err
	}
	if rejectedVec, err = registerCollector(reg, rejectedVec); err != nil {
		return nil, err
	}
	if queueDepthVec, err = registerCollector(reg, queueDepthVec); err != nil {
		return nil, err
	}

	return &MetricsExporter{
		taskDurationSeconds:   durationVec,
		tasksFinishedTotal:    finishedVec,
		conditionFailureTotal: conditionVec,
		taskPanicTotal:        panicVec,
		taskRejectedTotal:     rejectedVec,
		queueDepth:            queueDepthVec,
	}, nil
}

// RecordTaskDuration records task execution duration.
func (m *MetricsExporter) RecordTaskDuration(queueName string, duration time.Duration) {
	if m == nil {
		return
	}
	m.taskDurationSeconds.WithLabelValues(normalizeLabel(queueName, "unknown")).Observe(duration.Seconds())
}

// RecordTaskFinished counts a finished unit under its outcome.
func (m *MetricsExporter) RecordTaskFinished(queueName string, outcome string) {
	if m == nil {
		return
	}
	m.tasksFinishedTotal.WithLabelValues(normalizeLabel(queueName, "unknown"), normalizeLabel(outcome, "unknown")).Inc()
}

// RecordConditionFailure counts a failed condition.
func (m *MetricsExporter) RecordConditionFailure(queueName string, conditionName string) {
	if m == nil {
		return
	}
	m.conditionFailureTotal.WithLabelValues(normalizeLabel(queueName, "unknown"), normalizeLabel(conditionName, "unknown")).Inc()
}

// RecordTaskPanic records task panic events.
func (m *MetricsExporter) RecordTaskPanic(queueName string, panicInfo any) {
	if m == nil {
		return
	}
	m.taskPanicTotal.WithLabelValues(normalizeLabel(queueName, "unknown")).Inc()
}

// RecordQueueDepth records queue depth.
func (m *MetricsExporter) RecordQueueDepth(queueName string, depth int) {
	if m == nil {
		return
	}
	m.queueDepth.WithLabelValues(normalizeLabel(queueName, "unknown")).Set(float64(depth))
}

// RecordTaskRejected records task rejection events.
func (m *MetricsExporter) RecordTaskRejected(runnerName string, reason string) {
	if m == nil {
		return
	}
	m.taskRejectedTotal.WithLabelValues(normalizeLabel(runnerName, "unknown"), normalizeLabel(reason, "unknown")).Inc()
}

func normalizeLabel(v string, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}

func registerCollector[T prom.Collector](reg prom.Registerer, collector T) (T, error) {
	err := reg.Register(collector)
	if err == nil {
		return collector, nil
	}

	var alreadyRegisteredErr prom.AlreadyRegisteredError
	if errors.As(err, &alreadyRegisteredErr) {
		existing, ok := alreadyRegisteredErr.ExistingCollector.(T)
		if !ok {
			return collector, fmt.Errorf("collector type mismatch for %T", collector)
		}
		return existing, nil
	}

	return collector, err
}
