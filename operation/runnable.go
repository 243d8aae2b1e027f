package operation

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/Swind/go-task-queue/core"
)

// Runnable is anything a Queue can schedule: a lifecycle-managed *Task (or a
// type embedding one, such as *GroupTask) or a bare *BlockTask.
//
// The unexported methods keep the set closed to this package.
type Runnable interface {
	ID() core.TaskID
	Name() string

	// AddDependency makes this unit wait until dep has finished.
	AddDependency(dep Runnable)
	Dependencies() []Runnable

	Cancel()
	IsCancelled() bool
	IsFinished() bool

	node() *node
	isReady() bool
	start(ctx context.Context)
	asTask() *Task
}

// node is the scheduling state shared by every Runnable: dependency edges,
// cancellation, completion and the wake-up hook of the queue that owns it.
type node struct {
	id    core.TaskID
	name  string
	owner Runnable

	mu          sync.Mutex
	deps        []Runnable
	dependents  []*node
	completions []func()
	wake        func()
	queue       *Queue
	dispatched  bool

	cancelled atomic.Bool
	finished  atomic.Bool
	done      chan struct{}
}

func newNode(name string, owner Runnable) *node {
	return &node{
		id:    core.GenerateTaskID(),
		name:  name,
		owner: owner,
		done:  make(chan struct{}),
	}
}

func (n *node) addDependency(dep Runnable) {
	if dep == nil {
		return
	}
	dn := dep.node()
	if dn == n {
		violation("%s: a unit cannot depend on itself", n.name)
	}

	n.mu.Lock()
	for _, d := range n.deps {
		if d.node() == dn {
			n.mu.Unlock()
			return
		}
	}
	n.deps = append(n.deps, dep)
	n.mu.Unlock()

	dn.mu.Lock()
	if !dn.finished.Load() {
		dn.dependents = append(dn.dependents, n)
	}
	dn.mu.Unlock()
}

func (n *node) dependencies() []Runnable {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]Runnable(nil), n.deps...)
}

func (n *node) depsFinished() bool {
	for _, d := range n.dependencies() {
		if !d.IsFinished() {
			return false
		}
	}
	return true
}

// addCompletion registers fn to run once the unit finishes. If it already
// has, fn runs immediately on the caller.
func (n *node) addCompletion(fn func()) {
	n.mu.Lock()
	if n.finished.Load() {
		n.mu.Unlock()
		fn()
		return
	}
	n.completions = append(n.completions, fn)
	n.mu.Unlock()
}

// requeue returns a dispatched unit to its queue without starting it.
func (n *node) requeue() {
	n.mu.Lock()
	q := n.queue
	n.mu.Unlock()
	if q != nil {
		q.redispatch(n)
	}
}

// notify asks the owning queue to re-check readiness.
func (n *node) notify() {
	n.mu.Lock()
	wake := n.wake
	n.mu.Unlock()
	if wake != nil {
		wake()
	}
}

// markFinished flips the finished flag once, then runs completion hooks and
// wakes dependents outside the lock. done closes last.
func (n *node) markFinished() {
	n.mu.Lock()
	if n.finished.Load() {
		n.mu.Unlock()
		return
	}
	n.finished.Store(true)
	dependents := n.dependents
	completions := n.completions
	n.dependents = nil
	n.completions = nil
	n.mu.Unlock()

	for _, fn := range completions {
		fn()
	}
	for _, d := range dependents {
		d.notify()
	}
	close(n.done)
}

// =============================================================================
// BlockTask: bare schedulable unit
// =============================================================================

// BlockTask runs a closure once its dependencies finish. It has no conditions,
// observers or lifecycle states beyond started and finished.
type BlockTask struct {
	n       *node
	fn      func(ctx context.Context)
	mu      sync.Mutex // orders AddDependency against start
	started atomic.Bool
}

// NewBlockTask creates a BlockTask. An empty name is derived from fn.
func NewBlockTask(name string, fn func(ctx context.Context)) *BlockTask {
	b := &BlockTask{fn: fn}
	b.n = newNode(core.FuncName(fn, name), b)
	return b
}

func (b *BlockTask) ID() core.TaskID { return b.n.id }
func (b *BlockTask) Name() string    { return b.n.name }

func (b *BlockTask) AddDependency(dep Runnable) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.started.Load() {
		violation("BlockTask %q: dependencies cannot change after it started", b.n.name)
	}
	b.n.addDependency(dep)
}

func (b *BlockTask) Dependencies() []Runnable { return b.n.dependencies() }

// AddCompletion chains fn to run after the block finishes.
func (b *BlockTask) AddCompletion(fn func()) {
	b.n.addCompletion(fn)
}

// Cancel prevents the closure from running if it has not started yet.
func (b *BlockTask) Cancel() {
	if b.n.finished.Load() {
		return
	}
	b.n.cancelled.Store(true)
	b.n.notify()
}

func (b *BlockTask) IsCancelled() bool { return b.n.cancelled.Load() }
func (b *BlockTask) IsFinished() bool  { return b.n.finished.Load() }

func (b *BlockTask) node() *node   { return b.n }
func (b *BlockTask) asTask() *Task { return nil }

func (b *BlockTask) isReady() bool {
	if b.n.finished.Load() {
		return false
	}
	return b.n.cancelled.Load() || b.n.depsFinished()
}

func (b *BlockTask) start(ctx context.Context) {
	b.mu.Lock()
	if !b.n.cancelled.Load() && !b.n.depsFinished() {
		b.mu.Unlock()
		b.n.requeue()
		return
	}
	if !b.started.CompareAndSwap(false, true) {
		b.mu.Unlock()
		violation("BlockTask %q: started twice", b.n.name)
	}
	b.mu.Unlock()
	defer b.n.markFinished()
	if b.n.cancelled.Load() || b.fn == nil {
		return
	}
	b.fn(ctx)
}
