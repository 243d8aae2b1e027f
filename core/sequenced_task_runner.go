package core

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"
)

// SequencedTaskRunner runs posted tasks one at a time, in FIFO order, on the
// workers of a shared ThreadPool. Consecutive tasks may run on different
// goroutines but never concurrently.
type SequencedTaskRunner struct {
	threadPool    ThreadPool
	queue         TaskQueue
	mu            sync.Mutex
	isRunning     bool
	activeRunners int32       // atomic guard for concurrency assertion
	closed        atomic.Bool // indicates if the runner is closed

	name         string
	panicHandler PanicHandler
}

func NewSequencedTaskRunner(threadPool ThreadPool) *SequencedTaskRunner {
	if threadPool == nil {
		panic("SequencedTaskRunner: threadPool must not be nil")
	}
	return &SequencedTaskRunner{
		threadPool:   threadPool,
		queue:        NewFIFOTaskQueue(),
		name:         "sequenced",
		panicHandler: &DefaultPanicHandler{},
	}
}

// Name returns the name used when reporting panics.
func (r *SequencedTaskRunner) Name() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.name
}

// SetName sets the name used when reporting panics.
func (r *SequencedTaskRunner) SetName(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.name = name
}

// SetPanicHandler replaces the handler that receives panics from posted tasks.
func (r *SequencedTaskRunner) SetPanicHandler(h PanicHandler) {
	if h == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.panicHandler = h
}

func (r *SequencedTaskRunner) PostDelayedTask(task Task, delay time.Duration) {
	if r.closed.Load() {
		return
	}
	r.threadPool.PostDelayedInternal(task, delay, r)
}

func (r *SequencedTaskRunner) runLoop(ctx context.Context) {
	// Assertion: Ensure strictly one goroutine at a time
	if n := atomic.AddInt32(&r.activeRunners, 1); n > 1 {
		panic(fmt.Sprintf("SequencedTaskRunner: concurrent runLoop detected (count=%d)", n))
	}
	defer atomic.AddInt32(&r.activeRunners, -1)

	runCtx := context.WithValue(ctx, taskRunnerKey, r)

	// 1. Fetch SINGLE task
	task, ok := r.queue.Pop()
	if ok {
		// 2. Execute ONE task
		r.runTask(runCtx, task)
	}

	// 3. Repost if there are more tasks (Yield)
	// This ensures we yield to the Scheduler between every task
	r.mu.Lock()
	more := !r.queue.IsEmpty() && !r.closed.Load()
	if !more {
		r.isRunning = false
	}
	r.mu.Unlock()

	if more {
		r.threadPool.PostInternal(r.runLoop)
	}
}

func (r *SequencedTaskRunner) runTask(ctx context.Context, task Task) {
	defer func() {
		if rec := recover(); rec != nil {
			r.mu.Lock()
			handler, name := r.panicHandler, r.name
			r.mu.Unlock()
			handler.HandlePanic(ctx, name, -1, rec, debug.Stack())
		}
	}()
	task(ctx)
}

// scheduleRunLoop starts runLoop (if not already running)
func (r *SequencedTaskRunner) scheduleRunLoop() {
	r.mu.Lock()
	if r.isRunning {
		r.mu.Unlock()
		return
	}
	r.isRunning = true
	r.mu.Unlock()
	r.threadPool.PostInternal(r.runLoop)
}

// PostTask submits task
func (r *SequencedTaskRunner) PostTask(task Task) {
	if r.closed.Load() {
		return
	}
	r.queue.Push(task)
	r.scheduleRunLoop()
}

// =============================================================================
// Shutdown and Lifecycle Management
// =============================================================================

// Shutdown gracefully stops the runner by:
// 1. Marking it as closed (stops accepting new tasks)
// 2. Clearing all pending tasks in the queue
//
// Note: This will not interrupt currently executing tasks.
func (r *SequencedTaskRunner) Shutdown() {
	r.closed.Store(true)

	r.mu.Lock()
	r.queue.Clear()
	r.mu.Unlock()
}

// IsClosed returns true if the runner has been shut down.
func (r *SequencedTaskRunner) IsClosed() bool {
	return r.closed.Load()
}
