package taskqueue

import (
	"context"
	"runtime/debug"
	"sync"
	"time"

	"github.com/Swind/go-task-queue/core"
)

// GoroutineThreadPool runs posted closures on a fixed set of worker
// goroutines pulling from a shared FIFO scheduler. Queues hand ready units to
// it; delayed posts go through the scheduler's DelayManager.
type GoroutineThreadPool struct {
	id        string
	workers   int
	scheduler *core.TaskScheduler

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewGoroutineThreadPool creates a stopped pool with default handlers.
func NewGoroutineThreadPool(id string, workers int) *GoroutineThreadPool {
	return NewGoroutineThreadPoolWithConfig(id, workers, core.DefaultTaskSchedulerConfig())
}

// NewGoroutineThreadPoolWithConfig creates a pool whose scheduler uses the given
// panic handler, metrics and rejection handler. Nil fields fall back to defaults.
// workers is raised to at least one.
func NewGoroutineThreadPoolWithConfig(id string, workers int, config *core.TaskSchedulerConfig) *GoroutineThreadPool {
	workers = max(workers, 1)
	return &GoroutineThreadPool{
		id:        id,
		workers:   workers,
		scheduler: core.NewFIFOTaskSchedulerWithConfig(workers, config),
	}
}

// Start launches the workers. Cancelling ctx stops them; tasks receive a
// context derived from it. Starting a running pool does nothing.
func (tg *GoroutineThreadPool) Start(ctx context.Context) {
	tg.mu.Lock()
	defer tg.mu.Unlock()
	if tg.running {
		return
	}

	workerCtx, cancel := context.WithCancel(ctx)
	tg.cancel = cancel
	tg.running = true
	for i := range tg.workers {
		tg.wg.Add(1)
		go tg.workerLoop(workerCtx, i)
	}
}

// Stop drops queued and delayed work, cancels running tasks' context and
// waits for the workers to exit. The scheduler is shut down even if the pool
// was never started.
func (tg *GoroutineThreadPool) Stop() {
	tg.scheduler.Shutdown()
	tg.halt()
}

// StopGraceful stops accepting work and waits up to timeout for queued and
// running tasks to finish before stopping the workers. It returns an error if
// the timeout expired first.
func (tg *GoroutineThreadPool) StopGraceful(timeout time.Duration) error {
	if !tg.IsRunning() {
		return nil
	}
	err := tg.scheduler.ShutdownGraceful(timeout)
	tg.halt()
	return err
}

func (tg *GoroutineThreadPool) halt() {
	tg.mu.Lock()
	if !tg.running {
		tg.mu.Unlock()
		return
	}
	cancel := tg.cancel
	tg.mu.Unlock()

	cancel()
	tg.Join()

	tg.mu.Lock()
	tg.running = false
	tg.cancel = nil
	tg.mu.Unlock()
}

// ID returns the ID of the thread pool
func (tg *GoroutineThreadPool) ID() string {
	return tg.id
}

// IsRunning reports whether the workers are started.
func (tg *GoroutineThreadPool) IsRunning() bool {
	tg.mu.Lock()
	defer tg.mu.Unlock()
	return tg.running
}

func (tg *GoroutineThreadPool) workerLoop(ctx context.Context, id int) {
	defer tg.wg.Done()

	for {
		task, ok := tg.scheduler.GetWork(ctx.Done())
		if !ok {
			return
		}
		tg.runTask(ctx, id, task)
	}
}

// runTask runs one closure. A panic is reported and the worker survives.
func (tg *GoroutineThreadPool) runTask(ctx context.Context, workerID int, task core.Task) {
	tg.scheduler.OnTaskStart()
	defer func() {
		tg.scheduler.OnTaskEnd()
		if r := recover(); r != nil {
			tg.scheduler.GetMetrics().RecordTaskPanic(tg.id, r)
			tg.scheduler.GetPanicHandler().HandlePanic(ctx, tg.id, workerID, r, debug.Stack())
		}
	}()
	task(ctx)
}

// Join waits for all worker goroutines to exit.
func (tg *GoroutineThreadPool) Join() {
	tg.wg.Wait()
}

func (tg *GoroutineThreadPool) WorkerCount() int      { return tg.workers }
func (tg *GoroutineThreadPool) QueuedTaskCount() int  { return tg.scheduler.QueuedTaskCount() }
func (tg *GoroutineThreadPool) ActiveTaskCount() int  { return tg.scheduler.ActiveTaskCount() }
func (tg *GoroutineThreadPool) DelayedTaskCount() int { return tg.scheduler.DelayedTaskCount() }

// Stats returns a snapshot of the pool counters.
func (tg *GoroutineThreadPool) Stats() core.PoolStats {
	return core.PoolStats{
		ID:      tg.id,
		Workers: tg.workers,
		Queued:  tg.QueuedTaskCount(),
		Active:  tg.ActiveTaskCount(),
		Delayed: tg.DelayedTaskCount(),
		Running: tg.IsRunning(),
	}
}

func (tg *GoroutineThreadPool) PostInternal(task core.Task) {
	tg.scheduler.PostInternal(task)
}

func (tg *GoroutineThreadPool) PostDelayedInternal(task core.Task, delay time.Duration, target core.TaskRunner) *core.DelayedTask {
	return tg.scheduler.PostDelayedInternal(task, delay, target)
}

func (tg *GoroutineThreadPool) CancelDelayedInternal(handle *core.DelayedTask) bool {
	return tg.scheduler.CancelDelayedInternal(handle)
}

// =============================================================================
// Global Thread Pool Helper (Singleton)
// =============================================================================

var (
	globalThreadPool *GoroutineThreadPool
	globalMu         sync.Mutex
)

// InitGlobalThreadPool initializes the global thread pool with specified number of workers.
// It starts the pool immediately.
func InitGlobalThreadPool(workers int) {
	globalMu.Lock()
	defer globalMu.Unlock()

	if globalThreadPool != nil {
		return // Already initialized
	}

	globalThreadPool = NewGoroutineThreadPool("global-pool", workers)
	globalThreadPool.Start(context.Background())
}

// GetGlobalThreadPool returns the global thread pool instance.
// It panics if InitGlobalThreadPool has not been called.
func GetGlobalThreadPool() *GoroutineThreadPool {
	globalMu.Lock()
	defer globalMu.Unlock()

	if globalThreadPool == nil {
		panic("GlobalThreadPool not initialized. Call InitGlobalThreadPool() first.")
	}
	return globalThreadPool
}

// ShutdownGlobalThreadPool stops the global thread pool.
func ShutdownGlobalThreadPool() {
	globalMu.Lock()
	defer globalMu.Unlock()

	if globalThreadPool != nil {
		globalThreadPool.Stop()
		globalThreadPool = nil
	}
}

// CreateTaskRunner creates a new SequencedTaskRunner using the global thread pool.
func CreateTaskRunner() *SequencedTaskRunner {
	return core.NewSequencedTaskRunner(GetGlobalThreadPool())
}
