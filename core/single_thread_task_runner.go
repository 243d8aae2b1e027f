package core

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"
)

// SingleThreadTaskRunner binds a dedicated Goroutine to execute tasks sequentially.
// It guarantees that all tasks submitted to it run on the same Goroutine (Thread Affinity).
//
// Use cases:
// 1. Process-wide bookkeeping that must never be mutated concurrently
// 2. Blocking IO operations that should not occupy pool workers
//
// Key differences from SequencedTaskRunner:
// - SequencedTaskRunner: Tasks execute sequentially but may run on different worker goroutines
// - SingleThreadTaskRunner: Tasks execute sequentially AND always on the same dedicated goroutine
type SingleThreadTaskRunner struct {
	// Task queue: Buffered channel for tasks
	workQueue chan Task

	// Lifecycle control
	ctx    context.Context
	cancel context.CancelFunc

	// For graceful shutdown
	stopped chan struct{}
	once    sync.Once
	closed  atomic.Bool

	name         string
	panicHandler PanicHandler
	mu           sync.Mutex
}

// NewSingleThreadTaskRunner creates and starts a new SingleThreadTaskRunner.
// It immediately spawns a dedicated goroutine for task execution.
func NewSingleThreadTaskRunner() *SingleThreadTaskRunner {
	ctx, cancel := context.WithCancel(context.Background())
	r := &SingleThreadTaskRunner{
		workQueue:    make(chan Task, 100), // Buffer to avoid blocking senders
		ctx:          ctx,
		cancel:       cancel,
		stopped:      make(chan struct{}),
		name:         "single-thread",
		panicHandler: &DefaultPanicHandler{},
	}

	// Start the dedicated message loop
	go r.runLoop()

	return r
}

// Name returns the name of the task runner
func (r *SingleThreadTaskRunner) Name() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.name
}

// SetName sets the name of the task runner
func (r *SingleThreadTaskRunner) SetName(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.name = name
}

// SetPanicHandler replaces the handler that receives panics from posted tasks.
func (r *SingleThreadTaskRunner) SetPanicHandler(h PanicHandler) {
	if h == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.panicHandler = h
}

// PostTask submits a task for execution
func (r *SingleThreadTaskRunner) PostTask(task Task) {
	// Check if runner is closed to avoid blocking on a dead loop
	if r.closed.Load() {
		return
	}

	select {
	case <-r.ctx.Done():
		// Runner stopped, drop task
		return
	case r.workQueue <- task:
	}
}

// PostDelayedTask submits a delayed task.
// Uses time.AfterFunc which is independent of any ThreadPool, so the timer
// keeps firing even when pool workers are saturated.
func (r *SingleThreadTaskRunner) PostDelayedTask(task Task, delay time.Duration) {
	if r.closed.Load() {
		return
	}

	select {
	case <-r.ctx.Done():
		return
	default:
		time.AfterFunc(delay, func() {
			r.PostTask(task)
		})
	}
}

// IsClosed returns true if the runner has been stopped
func (r *SingleThreadTaskRunner) IsClosed() bool {
	return r.closed.Load()
}

// Done is closed once Stop has been called.
func (r *SingleThreadTaskRunner) Done() <-chan struct{} {
	return r.ctx.Done()
}

// Stop stops the runner and waits for the task in flight to return.
func (r *SingleThreadTaskRunner) Stop() {
	r.once.Do(func() {
		r.closed.Store(true)
		r.cancel()
		<-r.stopped
	})
}

// runLoop is the core of this runner, it occupies a dedicated goroutine
func (r *SingleThreadTaskRunner) runLoop() {
	defer close(r.stopped) // Signal that Stop() can return

	// Create context with taskRunnerKey for GetCurrentTaskRunner
	runCtx := context.WithValue(r.ctx, taskRunnerKey, r)

	for {
		select {
		case task := <-r.workQueue:
			r.runTask(runCtx, task)

		case <-r.ctx.Done():
			// Pending tasks in workQueue are dropped
			return
		}
	}
}

func (r *SingleThreadTaskRunner) runTask(ctx context.Context, task Task) {
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

// =============================================================================
// Synchronization Methods
// =============================================================================

// WaitIdle blocks until all currently queued tasks have completed execution.
// This is implemented by posting a barrier task and waiting for it to execute.
//
// Returns error if:
// - Context is cancelled or deadline exceeded
// - Runner is closed when WaitIdle is called
//
// Note: Tasks posted after WaitIdle is called are not waited for.
func (r *SingleThreadTaskRunner) WaitIdle(ctx context.Context) error {
	if r.IsClosed() {
		return fmt.Errorf("runner is closed")
	}

	done := make(chan struct{})

	// Post a barrier task that closes the done channel
	r.PostTask(func(taskCtx context.Context) {
		close(done)
	})

	select {
	case <-done:
		return nil
	case <-r.ctx.Done():
		return fmt.Errorf("runner is closed")
	case <-ctx.Done():
		return ctx.Err()
	}
}
