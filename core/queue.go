package core

import (
	"sync"
)

const (
	defaultQueueCap     = 16
	compactMinCap       = 64 // Don't compact if capacity is less than this
	compactShrinkFactor = 4  // Trigger compaction when len < cap/4
)

// TaskQueue defines the interface for the ready queue used by TaskScheduler
// and SequencedTaskRunner.
type TaskQueue interface {
	Push(t Task)
	Pop() (Task, bool)
	PopUpTo(max int) []Task
	Len() int
	IsEmpty() bool
	MaybeCompact()
	Clear() // Clear all tasks from the queue
}

// =============================================================================
// FIFOTaskQueue: Slice-backed FIFO queue with compaction
// =============================================================================

type FIFOTaskQueue struct {
	mu    sync.Mutex
	tasks []Task
}

func NewFIFOTaskQueue() *FIFOTaskQueue {
	return &FIFOTaskQueue{
		tasks: make([]Task, 0, defaultQueueCap),
	}
}

func (q *FIFOTaskQueue) Push(t Task) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.tasks = append(q.tasks, t)
}

func (q *FIFOTaskQueue) Pop() (Task, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.tasks) == 0 {
		return nil, false
	}

	t := q.tasks[0]
	// Zero out the element in the underlying array to prevent memory leak
	q.tasks[0] = nil
	q.tasks = q.tasks[1:]
	q.maybeCompactLocked()

	return t, true
}

func (q *FIFOTaskQueue) PopUpTo(max int) []Task {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := len(q.tasks)
	if n == 0 {
		return nil
	}

	if n <= max {
		batch := q.tasks
		q.tasks = make([]Task, 0, defaultQueueCap)
		return batch
	}

	batch := make([]Task, max)
	copy(batch, q.tasks[:max])

	for i := range max {
		q.tasks[i] = nil
	}

	q.tasks = q.tasks[max:]
	q.maybeCompactLocked()

	return batch
}

func (q *FIFOTaskQueue) MaybeCompact() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.maybeCompactLocked()
}

func (q *FIFOTaskQueue) maybeCompactLocked() {
	n := len(q.tasks)
	c := cap(q.tasks)

	if c < compactMinCap {
		return
	}
	if n == 0 {
		q.tasks = make([]Task, 0, defaultQueueCap)
		return
	}
	if n*compactShrinkFactor >= c {
		return
	}

	newCap := max(max(c/2, defaultQueueCap), n)

	newSlice := make([]Task, n, newCap)
	copy(newSlice, q.tasks)
	q.tasks = newSlice
}

func (q *FIFOTaskQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.tasks)
}

func (q *FIFOTaskQueue) IsEmpty() bool {
	return q.Len() == 0
}

// Clear removes all tasks from the queue and releases references
func (q *FIFOTaskQueue) Clear() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.tasks = make([]Task, 0, defaultQueueCap)
}
