package operation

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/Swind/go-task-queue/core"
)

// GroupTask is a Task whose execution runs an internal queue of sub-units to
// completion. It finishes once every sub-unit, including ones added or
// produced while it runs, has finished, with their errors in finish order.
//
// The internal queue stays suspended until the group starts executing, and
// every sub-unit waits for a starting sentinel, so no sub-unit evaluates its
// conditions before the group itself runs.
type GroupTask struct {
	*Task

	internal  *Queue
	starting  *BlockTask
	finishing *BlockTask

	mu              sync.Mutex
	aggregated      []error
	subTaskFinished func(r Runnable, errs []error)

	executed atomic.Bool
}

// GroupOption configures a GroupTask at construction.
type GroupOption func(*groupOptions)

type groupOptions struct {
	taskOptions     []TaskOption
	queueConfig     *QueueConfig
	subTaskFinished func(r Runnable, errs []error)
}

// WithTaskOptions applies options to the group's own Task.
func WithTaskOptions(opts ...TaskOption) GroupOption {
	return func(o *groupOptions) { o.taskOptions = append(o.taskOptions, opts...) }
}

// WithInternalQueueConfig configures the internal queue. Suspended is ignored.
func WithInternalQueueConfig(config *QueueConfig) GroupOption {
	return func(o *groupOptions) { o.queueConfig = config }
}

// WithSubTaskFinished is called after each sub-unit finishes, with its errors,
// once they have been added to the group's aggregate.
func WithSubTaskFinished(fn func(r Runnable, errs []error)) GroupOption {
	return func(o *groupOptions) { o.subTaskFinished = fn }
}

// NewGroupTask creates a group over units. Its internal queue runs on pool.
func NewGroupTask(pool core.ThreadPool, name string, units []Runnable, opts ...GroupOption) *GroupTask {
	var o groupOptions
	for _, opt := range opts {
		opt(&o)
	}

	g := &GroupTask{subTaskFinished: o.subTaskFinished}
	g.Task = NewTask(name, g.execute, o.taskOptions...)
	g.Task.n.owner = g
	g.Task.cancelHook = g.cancelSubTasks
	g.Task.AddObserver(BlockObserver{FinishHandler: g.finished})

	config := *DefaultQueueConfig()
	if o.queueConfig != nil {
		config = *o.queueConfig
	}
	config.Name = g.Name() + "-internal"
	config.Suspended = true
	g.internal = NewQueue(pool, &config)

	g.starting = NewBlockTask(g.Name()+"-starting", nil)
	g.finishing = NewBlockTask(g.Name()+"-finishing", nil)
	g.internal.SetDelegate(groupDelegate{g: g})

	g.internal.Submit(g.starting)
	for _, r := range units {
		g.internal.Submit(r)
	}
	return g
}

// AddTask admits r into the group. Adding after the group finished collecting
// sub-units is a contract violation.
func (g *GroupTask) AddTask(r Runnable) {
	g.internal.Submit(r)
}

// AggregateError adds err to the errors the group will finish with.
func (g *GroupTask) AggregateError(err error) {
	if err == nil {
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.aggregated = append(g.aggregated, err)
}

// AggregatedErrors returns the sub-unit errors collected so far.
func (g *GroupTask) AggregatedErrors() []error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]error(nil), g.aggregated...)
}

// InternalQueue exposes the queue running the sub-units.
func (g *GroupTask) InternalQueue() *Queue { return g.internal }

func (g *GroupTask) execute(ctx context.Context, t *Task) {
	g.executed.Store(true)
	g.internal.SetSuspended(false)
	g.internal.Submit(g.finishing)
}

// cancelSubTasks cancels every sub-unit but the sentinels, so the group
// still waits for running sub-tasks to wind down.
func (g *GroupTask) cancelSubTasks() {
	for _, r := range g.internal.Units() {
		if r == Runnable(g.starting) || r == Runnable(g.finishing) {
			continue
		}
		r.Cancel()
	}
}

// finished drains the internal queue of a group that finished without
// executing: its sub-units are cancelled and left to finish on their own.
func (g *GroupTask) finished(t *Task, errs []error) {
	if g.executed.Load() {
		return
	}
	g.cancelSubTasks()
	g.internal.SetSuspended(false)
}

// groupDelegate wires sub-units around the sentinels.
type groupDelegate struct {
	g *GroupTask
}

func (d groupDelegate) WillAdd(q *Queue, r Runnable) {
	g := d.g
	q.mu.Lock()
	dispatched := g.finishing.n.dispatched
	q.mu.Unlock()
	if dispatched || g.finishing.IsFinished() || g.finishing.started.Load() || g.Task.IsFinished() {
		violation("GroupTask %q: cannot add %q after the group finished collecting sub-tasks", g.Name(), r.Name())
	}
	if r == Runnable(g.finishing) {
		return
	}
	g.finishing.AddDependency(r)
	if r != Runnable(g.starting) {
		r.AddDependency(g.starting)
	}
}

func (d groupDelegate) TaskFinished(q *Queue, r Runnable, errs []error) {
	g := d.g
	switch r {
	case Runnable(g.starting):
		return
	case Runnable(g.finishing):
		q.SetSuspended(true)
		g.Task.Finish(g.AggregatedErrors()...)
		return
	}

	g.mu.Lock()
	g.aggregated = append(g.aggregated, errs...)
	hook := g.subTaskFinished
	g.mu.Unlock()

	if hook != nil {
		hook(r, errs)
	}
}
