package prometheus

import (
	"context"
	"sync"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"

	"github.com/Swind/go-task-queue/core"
)

// QueueSnapshotProvider provides current queue stats snapshots.
// *operation.Queue satisfies it.
type QueueSnapshotProvider interface {
	Stats() core.QueueStats
}

// PoolSnapshotProvider provides current pool stats snapshots.
// *taskqueue.GoroutineThreadPool satisfies it.
type PoolSnapshotProvider interface {
	Stats() core.PoolStats
}

// SnapshotPoller periodically exports queue/pool Stats() snapshots into Prometheus gauges.
type SnapshotPoller struct {
	interval time.Duration

	queuesMu sync.RWMutex
	queues   map[string]QueueSnapshotProvider

	poolsMu sync.RWMutex
	pools   map[string]PoolSnapshotProvider

	queuePending   *prom.GaugeVec
	queueRunning   *prom.GaugeVec
	queueSuspended *prom.GaugeVec
	queueFinished  *prom.GaugeVec

	poolQueued  *prom.GaugeVec
	poolActive  *prom.GaugeVec
	poolDelayed *prom.GaugeVec
	poolWorkers *prom.GaugeVec
	poolRunning *prom.GaugeVec

	stateMu sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewSnapshotPoller creates a snapshot poller and registers its collectors.
func NewSnapshotPoller(namespace string, reg prom.Registerer, interval time.Duration) (*SnapshotPoller, error) {
	if namespace == "" {
		namespace = DefaultNamespace
	}
	if reg == nil {
		reg = prom.DefaultRegisterer
	}
	if interval <= 0 {
		interval = time.Second
	}

	queuePending := prom.NewGaugeVec(prom.GaugeOpts{
		Namespace: namespace,
		Name:      "queue_pending",
		Help:      "Units admitted but not yet handed to the pool, per queue.",
	}, []string{"queue"})
	queueRunning := prom.NewGaugeVec(prom.GaugeOpts{
		Namespace: namespace,
		Name:      "queue_running",
		Help:      "Units handed to the pool and not finished, per queue.",
	}, []string{"queue"})
	queueSuspended := prom.NewGaugeVec(prom.GaugeOpts{
		Namespace: namespace,
		Name:      "queue_suspended",
		Help:      "Queue suspended state (1=suspended, 0=dispatching).",
	}, []string{"queue"})
	queueFinished := prom.NewGaugeVec(prom.GaugeOpts{
		Namespace: namespace,
		Name:      "queue_finished",
		Help:      "Finished unit count snapshot per queue and outcome.",
	}, []string{"queue", "outcome"})

	poolQueued := prom.NewGaugeVec(prom.GaugeOpts{
		Namespace: namespace,
		Name:      "pool_queued",
		Help:      "Queued tasks per pool.",
	}, []string{"pool"})
	poolActive := prom.NewGaugeVec(prom.GaugeOpts{
		Namespace: namespace,
		Name:      "pool_active",
		Help:      "Active tasks per pool.",
	}, []string{"pool"})
	poolDelayed := prom.NewGaugeVec(prom.GaugeOpts{
		Namespace: namespace,
		Name:      "pool_delayed",
		Help:      "Delayed tasks per pool.",
	}, []string{"pool"})
	poolWorkers := prom.NewGaugeVec(prom.GaugeOpts{
		Namespace: namespace,
		Name:      "pool_workers",
		Help:      "Worker count per pool.",
	}, []string{"pool"})
	poolRunning := prom.NewGaugeVec(prom.GaugeOpts{
		Namespace: namespace,
		Name:      "pool_running",
		Help:      "Pool running state (1=running, 0=stopped).",
	}, []string{"pool"})

	var err error
	if queuePending, err = registerCollector(reg, queuePending); err != nil {
		return nil, err
	}
	if queueRunning, err = registerCollector(reg, queueRunning); err != nil {
		return nil, err
	}
	if queueSuspended, err = registerCollector(reg, queueSuspended); err != nil {
		return nil, err
	}
	if queueFinished, err = registerCollector(reg, queueFinished); err != nil {
		return nil, err
	}
	if poolQueued, err = registerCollector(reg, poolQueued); err != nil {
		return nil, err
	}
	if poolActive, err = registerCollector(reg, poolActive); err != nil {
		return nil, err
	}
	if poolDelayed, err = registerCollector(reg, poolDelayed); err != nil {
		return nil, err
	}
	if poolWorkers, err = registerCollector(reg, poolWorkers); err != nil {
		return nil, err
	}
	if poolRunning, err = registerCollector(reg, poolRunning); err != nil {
		return nil, err
	}

	return &SnapshotPoller{
		interval:       interval,
		queues:         make(map[string]QueueSnapshotProvider),
		pools:          make(map[string]PoolSnapshotProvider),
		queuePending:   queuePending,
		queueRunning:   queueRunning,
		queueSuspended: queueSuspended,
		queueFinished:  queueFinished,
		poolQueued:     poolQueued,
		poolActive:     poolActive,
		poolDelayed:    poolDelayed,
		poolWorkers:    poolWorkers,
		poolRunning:    poolRunning,
	}, nil
}

// AddQueue adds or replaces a queue snapshot provider by name.
func (p *SnapshotPoller) AddQueue(name string, provider QueueSnapshotProvider) {
	if p == nil || provider == nil {
		return
	}
	name = normalizeLabel(name, "queue")
	p.queuesMu.Lock()
	p.queues[name] = provider
	p.queuesMu.Unlock()
}

// RemoveQueue stops exporting the named queue and drops its series.
func (p *SnapshotPoller) RemoveQueue(name string) {
	if p == nil {
		return
	}
	name = normalizeLabel(name, "queue")
	p.queuesMu.Lock()
	delete(p.queues, name)
	p.queuesMu.Unlock()

	labels := prom.Labels{"queue": name}
	p.queuePending.Delete(labels)
	p.queueRunning.Delete(labels)
	p.queueSuspended.Delete(labels)
	p.queueFinished.DeletePartialMatch(labels)
}

// AddPool adds or replaces a pool snapshot provider by name.
func (p *SnapshotPoller) AddPool(name string, provider PoolSnapshotProvider) {
	if p == nil || provider == nil {
		return
	}
	name = normalizeLabel(name, "pool")
	p.poolsMu.Lock()
	p.pools[name] = provider
	p.poolsMu.Unlock()
}

// Start begins periodic polling; repeated calls are no-ops.
func (p *SnapshotPoller) Start(ctx context.Context) {
	if p == nil {
		return
	}

	p.stateMu.Lock()
	if p.running {
		p.stateMu.Unlock()
		return
	}
	pollCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.done = make(chan struct{})
	p.running = true
	p.stateMu.Unlock()

	go p.loop(pollCtx)
}

// Stop stops periodic polling; repeated calls are safe.
func (p *SnapshotPoller) Stop() {
	if p == nil {
		return
	}

	p.stateMu.Lock()
	if !p.running {
		p.stateMu.Unlock()
		return
	}
	cancel := p.cancel
	done := p.done
	p.stateMu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}

	p.stateMu.Lock()
	p.running = false
	p.cancel = nil
	p.done = nil
	p.stateMu.Unlock()
}

func (p *SnapshotPoller) loop(ctx context.Context) {
	defer close(p.done)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.collectOnce()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.collectOnce()
		}
	}
}

func (p *SnapshotPoller) collectOnce() {
	p.queuesMu.RLock()
	for name, provider := range p.queues {
		stats := provider.Stats()
		p.queuePending.WithLabelValues(name).Set(float64(stats.Pending))
		p.queueRunning.WithLabelValues(name).Set(float64(stats.Running))
		if stats.Suspended {
			p.queueSuspended.WithLabelValues(name).Set(1)
		} else {
			p.queueSuspended.WithLabelValues(name).Set(0)
		}
		p.queueFinished.WithLabelValues(name, core.OutcomeSucceeded).Set(float64(stats.Succeeded))
		p.queueFinished.WithLabelValues(name, core.OutcomeFailed).Set(float64(stats.Failed))
		p.queueFinished.WithLabelValues(name, core.OutcomeCancelled).Set(float64(stats.Cancelled))
	}
	p.queuesMu.RUnlock()

	p.poolsMu.RLock()
	for name, provider := range p.pools {
		stats := provider.Stats()
		p.poolQueued.WithLabelValues(name).Set(float64(stats.Queued))
		p.poolActive.WithLabelValues(name).Set(float64(stats.Active))
		p.poolDelayed.WithLabelValues(name).Set(float64(stats.Delayed))
		p.poolWorkers.WithLabelValues(name).Set(float64(stats.Workers))
		if stats.Running {
			p.poolRunning.WithLabelValues(name).Set(1)
		} else {
			p.poolRunning.WithLabelValues(name).Set(0)
		}
	}
	p.poolsMu.RUnlock()
}
