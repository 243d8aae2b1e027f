package core

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Task is the unit of work (Closure)
type Task func(ctx context.Context)

// =============================================================================
// TaskID: Stable identity for scheduled units
// =============================================================================

// TaskID identifies a scheduled unit for logging, history and metrics.
type TaskID uuid.UUID

// GenerateTaskID returns a new random TaskID.
func GenerateTaskID() TaskID {
	return TaskID(uuid.New())
}

// IsZero reports whether the ID was never assigned.
func (id TaskID) IsZero() bool {
	return uuid.UUID(id) == uuid.Nil
}

func (id TaskID) String() string {
	return uuid.UUID(id).String()
}

// =============================================================================
// TaskRunner: Define task submission interface
// =============================================================================
type TaskRunner interface {
	PostTask(task Task)
	PostDelayedTask(task Task, delay time.Duration)
}

// =============================================================================
// ThreadPool: Define task execution interface
// =============================================================================
type ThreadPool interface {
	PostInternal(task Task)
	PostDelayedInternal(task Task, delay time.Duration, target TaskRunner) *DelayedTask
	CancelDelayedInternal(handle *DelayedTask) bool

	Start(ctx context.Context)
	Stop()

	ID() string
	IsRunning() bool

	WorkerCount() int
	QueuedTaskCount() int  // In queue
	ActiveTaskCount() int  // Executing
	DelayedTaskCount() int // Delayed
}

// =============================================================================
// Context Helper
// =============================================================================
type taskRunnerKeyType struct{}

var taskRunnerKey taskRunnerKeyType

func GetCurrentTaskRunner(ctx context.Context) TaskRunner {
	if v := ctx.Value(taskRunnerKey); v != nil {
		return v.(TaskRunner)
	}
	return nil
}
