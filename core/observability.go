package core

import "time"

// TaskExecutionRecord captures one finished unit of work.
type TaskExecutionRecord struct {
	TaskID     TaskID
	Name       string
	QueueName  string
	Outcome    string // OutcomeSucceeded, OutcomeFailed or OutcomeCancelled
	Errors     []string
	StartedAt  time.Time
	FinishedAt time.Time
	Duration   time.Duration
}

// QueueStats represents runtime observability state for a task queue.
type QueueStats struct {
	Name         string
	Pending      int // admitted, not yet handed to the pool
	Running      int // handed to the pool, not yet finished
	Succeeded    int64
	Failed       int64
	Cancelled    int64
	Suspended    bool
	LastTaskName string
	LastTaskAt   time.Time
}

// PoolStats represents runtime observability state for a thread pool.
type PoolStats struct {
	ID      string
	Workers int
	Queued  int
	Active  int
	Delayed int
	Running bool
}
