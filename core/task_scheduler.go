package core

import (
	"fmt"
	"sync/atomic"
	"time"
)

// gracefulPollInterval is how often ShutdownGraceful checks for a drained pool.
const gracefulPollInterval = 50 * time.Millisecond

// TaskScheduler is the work source behind a GoroutineThreadPool: a FIFO ready
// queue, a wake-up signal for idle workers and a DelayManager for delayed posts.
type TaskScheduler struct {
	queue       TaskQueue
	signal      chan struct{}
	workerCount int

	delayManager *DelayManager

	queued atomic.Int32 // waiting in queue
	active atomic.Int32 // held by a worker

	panicHandler        PanicHandler
	metrics             Metrics
	rejectedTaskHandler RejectedTaskHandler

	shuttingDown atomic.Bool
}

// NewFIFOTaskScheduler creates a scheduler with default handlers.
func NewFIFOTaskScheduler(workerCount int) *TaskScheduler {
	return NewFIFOTaskSchedulerWithConfig(workerCount, DefaultTaskSchedulerConfig())
}

// NewFIFOTaskSchedulerWithConfig creates a scheduler. Nil config fields get
// the defaults of DefaultTaskSchedulerConfig.
func NewFIFOTaskSchedulerWithConfig(workerCount int, config *TaskSchedulerConfig) *TaskScheduler {
	if config == nil {
		config = DefaultTaskSchedulerConfig()
	}
	defaults := DefaultTaskSchedulerConfig()

	s := &TaskScheduler{
		signal:              make(chan struct{}, workerCount*2),
		workerCount:         workerCount,
		queue:               NewFIFOTaskQueue(),
		delayManager:        NewDelayManager(),
		panicHandler:        config.PanicHandler,
		metrics:             config.Metrics,
		rejectedTaskHandler: config.RejectedTaskHandler,
	}
	if s.panicHandler == nil {
		s.panicHandler = defaults.PanicHandler
	}
	if s.metrics == nil {
		s.metrics = defaults.Metrics
	}
	if s.rejectedTaskHandler == nil {
		s.rejectedTaskHandler = defaults.RejectedTaskHandler
	}
	return s
}

// =============================================================================
// Posting
// =============================================================================

// PostInternal queues task for the next idle worker. After shutdown has begun
// the task is dropped and reported to the rejection handler and metrics.
func (s *TaskScheduler) PostInternal(task Task) {
	if s.shuttingDown.Load() {
		s.reject("shutting down")
		return
	}

	s.queue.Push(task)
	s.queued.Add(1)

	// A full signal channel means enough workers are already awake.
	select {
	case s.signal <- struct{}{}:
	default:
	}
}

// PostDelayedInternal posts task to target after delay. It returns nil once
// shutdown has begun.
func (s *TaskScheduler) PostDelayedInternal(task Task, delay time.Duration, target TaskRunner) *DelayedTask {
	if s.shuttingDown.Load() {
		return nil
	}
	return s.delayManager.AddDelayedTask(task, delay, target)
}

// CancelDelayedInternal removes a delayed post that has not fired yet.
func (s *TaskScheduler) CancelDelayedInternal(handle *DelayedTask) bool {
	return s.delayManager.Remove(handle)
}

func (s *TaskScheduler) reject(reason string) {
	s.rejectedTaskHandler.HandleRejectedTask("TaskScheduler", reason)
	s.metrics.RecordTaskRejected("TaskScheduler", reason)
}

// GetWork blocks until a task is available or stopCh closes.
func (s *TaskScheduler) GetWork(stopCh <-chan struct{}) (Task, bool) {
	for {
		if task, ok := s.queue.Pop(); ok {
			s.queued.Add(-1)
			return task, true
		}

		select {
		case <-s.signal:
		case <-stopCh:
			return nil, false
		}
	}
}

// =============================================================================
// Shutdown
// =============================================================================

// Shutdown stops accepting work and drops everything still queued or delayed.
func (s *TaskScheduler) Shutdown() {
	s.shuttingDown.Store(true)
	s.delayManager.Stop()
	s.clearQueue()
}

// ShutdownGraceful stops accepting work and waits for queued and active tasks
// to complete. On timeout the remaining queue is dropped and an error returned.
func (s *TaskScheduler) ShutdownGraceful(timeout time.Duration) error {
	s.shuttingDown.Store(true)
	s.delayManager.Stop()

	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(gracefulPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-deadline.C:
			s.clearQueue()
			return fmt.Errorf("shutdown graceful timeout after %v, forced clearing", timeout)
		case <-ticker.C:
			if s.QueuedTaskCount() == 0 && s.ActiveTaskCount() == 0 {
				return nil
			}
		}
	}
}

func (s *TaskScheduler) clearQueue() {
	s.queue.Clear()
	s.queued.Store(0)
}

// =============================================================================
// Counters
// =============================================================================

func (s *TaskScheduler) WorkerCount() int      { return s.workerCount }
func (s *TaskScheduler) QueuedTaskCount() int  { return int(s.queued.Load()) }
func (s *TaskScheduler) ActiveTaskCount() int  { return int(s.active.Load()) }
func (s *TaskScheduler) DelayedTaskCount() int { return s.delayManager.TaskCount() }

// OnTaskStart and OnTaskEnd bracket one task on a worker.
func (s *TaskScheduler) OnTaskStart() { s.active.Add(1) }
func (s *TaskScheduler) OnTaskEnd()   { s.active.Add(-1) }

// GetPanicHandler returns the panic handler for this scheduler.
func (s *TaskScheduler) GetPanicHandler() PanicHandler {
	return s.panicHandler
}

// GetMetrics returns the metrics collector for this scheduler.
func (s *TaskScheduler) GetMetrics() Metrics {
	return s.metrics
}
