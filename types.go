package taskqueue

import (
	"github.com/Swind/go-task-queue/core"
	"github.com/Swind/go-task-queue/operation"
)

// Re-export commonly used types for convenience.
// Most programs only need to import this package.

// Task is the unit of work posted to runners and pools (Closure)
type Task = core.Task

// TaskRunner is the interface for posting tasks
type TaskRunner = core.TaskRunner

// SequencedTaskRunner ensures sequential execution of tasks
type SequencedTaskRunner = core.SequencedTaskRunner

// SingleThreadTaskRunner ensures all tasks execute on the same dedicated goroutine
type SingleThreadTaskRunner = core.SingleThreadTaskRunner

// ThreadPool is re-exported for type compatibility
type ThreadPool = core.ThreadPool

// Lifecycle-managed units.
type (
	Runnable      = operation.Runnable
	Operation     = operation.Task
	BlockTask     = operation.BlockTask
	GroupTask     = operation.GroupTask
	Queue         = operation.Queue
	QueueConfig   = operation.QueueConfig
	QueueDelegate = operation.QueueDelegate
	Condition     = operation.Condition
	Observer      = operation.Observer
	BlockObserver = operation.BlockObserver
	State         = operation.State
)

var (
	NewOperation     = operation.NewTask
	NewFuncOperation = operation.NewFuncTask
	NewBlockTask     = operation.NewBlockTask
	NewDelayTask     = operation.NewDelayTask
	CurrentQueue     = operation.CurrentQueue
)

// NewSequencedTaskRunner creates a new SequencedTaskRunner with the given thread pool.
func NewSequencedTaskRunner(pool ThreadPool) *SequencedTaskRunner {
	return core.NewSequencedTaskRunner(pool)
}

// NewSingleThreadTaskRunner creates a new SingleThreadTaskRunner with a dedicated goroutine.
func NewSingleThreadTaskRunner() *SingleThreadTaskRunner {
	return core.NewSingleThreadTaskRunner()
}

// GetCurrentTaskRunner retrieves the current TaskRunner from context
var GetCurrentTaskRunner = core.GetCurrentTaskRunner
