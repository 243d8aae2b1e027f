package core

import (
	"container/heap"
	"sync"
	"time"
)

// DelayedTask is a post waiting for its due time. It doubles as the handle
// returned by AddDelayedTask for cancellation.
type DelayedTask struct {
	RunAt  time.Time
	Task   Task
	Target TaskRunner
	index  int // position in the heap, -1 once fired or removed
}

// delayHeap orders waiting posts by RunAt.
type delayHeap []*DelayedTask

func (h delayHeap) Len() int           { return len(h) }
func (h delayHeap) Less(i, j int) bool { return h[i].RunAt.Before(h[j].RunAt) }

func (h delayHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *delayHeap) Push(x any) {
	item := x.(*DelayedTask)
	item.index = len(*h)
	*h = append(*h, item)
}

func (h *delayHeap) Pop() any {
	old := *h
	n := len(old) - 1
	item := old[n]
	old[n] = nil
	item.index = -1
	*h = old[:n]
	return item
}

func (h delayHeap) head() *DelayedTask {
	if len(h) == 0 {
		return nil
	}
	return h[0]
}

// DelayManager holds delayed posts in a min-heap keyed by due time and hands
// them to their target runner from a single timer goroutine.
//
// Delay tasks and Queue.AfterDelay sit on top of it, so cancelling a delay
// removes its entry instead of leaving a sleeping worker behind.
type DelayManager struct {
	mu      sync.Mutex
	pending delayHeap
	stopped bool

	wakeup chan struct{}
	done   chan struct{}
	once   sync.Once
}

// NewDelayManager starts the timer goroutine. Stop ends it.
func NewDelayManager() *DelayManager {
	dm := &DelayManager{
		wakeup: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	go dm.loop()
	return dm
}

// AddDelayedTask schedules task to be posted to target once delay has elapsed.
// The returned handle can be passed to Remove while the task is still waiting.
// After Stop it returns nil.
func (dm *DelayManager) AddDelayedTask(task Task, delay time.Duration, target TaskRunner) *DelayedTask {
	dm.mu.Lock()
	defer dm.mu.Unlock()

	if dm.stopped {
		return nil
	}

	item := &DelayedTask{
		RunAt:  time.Now().Add(delay),
		Task:   task,
		Target: target,
	}
	heap.Push(&dm.pending, item)

	if item.index == 0 {
		dm.wake()
	}
	return item
}

// Remove drops a waiting task. It reports false if the task already fired,
// was removed before, or the manager was stopped.
func (dm *DelayManager) Remove(item *DelayedTask) bool {
	if item == nil {
		return false
	}

	dm.mu.Lock()
	defer dm.mu.Unlock()

	i := item.index
	if i < 0 || i >= len(dm.pending) || dm.pending[i] != item {
		return false
	}
	heap.Remove(&dm.pending, i)
	if i == 0 {
		dm.wake()
	}
	return true
}

// wake nudges the loop to re-read the head. Callers hold mu.
func (dm *DelayManager) wake() {
	select {
	case dm.wakeup <- struct{}{}:
	default:
	}
}

func (dm *DelayManager) loop() {
	timer := time.NewTimer(0)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	for {
		// A nil channel blocks, so an empty heap only waits for wakeups.
		var due <-chan time.Time
		if wait, ok := dm.untilNext(); ok {
			timer.Reset(wait)
			due = timer.C
		}

		select {
		case <-dm.done:
			return
		case <-due:
			dm.fire(dm.popDue(time.Now()))
		case <-dm.wakeup:
			if due != nil && !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
		}
	}
}

// untilNext reports how long until the head is due. ok is false when nothing
// is waiting.
func (dm *DelayManager) untilNext() (time.Duration, bool) {
	dm.mu.Lock()
	defer dm.mu.Unlock()

	item := dm.pending.head()
	if item == nil {
		return 0, false
	}
	return max(time.Until(item.RunAt), 0), true
}

func (dm *DelayManager) popDue(now time.Time) []*DelayedTask {
	dm.mu.Lock()
	defer dm.mu.Unlock()

	var due []*DelayedTask
	for item := dm.pending.head(); item != nil && !item.RunAt.After(now); item = dm.pending.head() {
		heap.Pop(&dm.pending)
		due = append(due, item)
	}
	return due
}

// fire posts outside the lock; targets may call back into the manager.
func (dm *DelayManager) fire(items []*DelayedTask) {
	for _, item := range items {
		item.Target.PostTask(item.Task)
	}
}

// Stop ends the timer goroutine and drops every waiting post, releasing the
// target runners they reference.
func (dm *DelayManager) Stop() {
	dm.once.Do(func() { close(dm.done) })

	dm.mu.Lock()
	defer dm.mu.Unlock()
	dm.stopped = true
	for _, item := range dm.pending {
		item.index = -1
	}
	dm.pending = nil
}

// TaskCount returns the number of waiting posts.
func (dm *DelayManager) TaskCount() int {
	dm.mu.Lock()
	defer dm.mu.Unlock()
	return len(dm.pending)
}
