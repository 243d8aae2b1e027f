package operation

import (
	"context"
	"sync"
	"time"

	"github.com/Swind/go-task-queue/core"
)

// ExecuteFunc is a task's execution routine. It must eventually call one of
// t's Finish methods, from any goroutine; a task that never finishes stalls
// everything that depends on it. ctx is cancelled when the task is cancelled
// or finishes, and carries the owning Queue (see CurrentQueue).
type ExecuteFunc func(ctx context.Context, t *Task)

// Task is the lifecycle-managed schedulable unit. It moves through
//
//	initialized -> pending -> evaluatingConditions -> ready -> executing -> finishing -> finished
//
// (ready may skip straight to finishing). Any other transition, and any change
// to conditions, observers or dependencies after their cutover state, panics
// with a ContractViolation.
type Task struct {
	n *node

	mu                 sync.Mutex
	state              State
	conditions         []Condition
	observers          []Observer
	internalErrors     []error
	finishErrors       []error
	hasFinishedAlready bool
	startedAt          time.Time
	finishedAt         time.Time

	execute      ExecuteFunc
	finishedHook func(t *Task, errs []error)
	stateHandler func(t *Task, tr Transition)
	cancelHook   func()

	ctx       context.Context
	cancelCtx context.CancelFunc
}

// TaskOption configures a Task at construction.
type TaskOption func(*Task)

// WithConditions attaches conditions in order.
func WithConditions(conditions ...Condition) TaskOption {
	return func(t *Task) { t.conditions = append(t.conditions, conditions...) }
}

// WithObservers attaches observers in order.
func WithObservers(observers ...Observer) TaskOption {
	return func(t *Task) { t.observers = append(t.observers, observers...) }
}

// WithDependencies makes the task wait for deps.
func WithDependencies(deps ...Runnable) TaskOption {
	return func(t *Task) {
		for _, d := range deps {
			t.n.addDependency(d)
		}
	}
}

// WithFinishedHook sets the post-finish hook. It runs with the combined errors
// before any Observer is told the task finished.
func WithFinishedHook(fn func(t *Task, errs []error)) TaskOption {
	return func(t *Task) { t.finishedHook = fn }
}

// WithStateChangeHandler receives every transition, outside the task's lock.
func WithStateChangeHandler(fn func(t *Task, tr Transition)) TaskOption {
	return func(t *Task) { t.stateHandler = fn }
}

// NewTask creates a task in the initialized state.
func NewTask(name string, execute ExecuteFunc, opts ...TaskOption) *Task {
	t := &Task{execute: execute}
	t.n = newNode(name, t)
	t.ctx, t.cancelCtx = context.WithCancel(context.Background())
	for _, opt := range opts {
		opt(t)
	}
	if t.n.name == "" {
		t.n.name = "task-" + t.n.id.String()[:8]
	}
	return t
}

// NewFuncTask creates a task that runs fn and finishes with its error.
func NewFuncTask(name string, fn func(ctx context.Context) error, opts ...TaskOption) *Task {
	if name == "" {
		name = core.FuncName(fn, "")
	}
	return NewTask(name, func(ctx context.Context, t *Task) {
		if fn == nil {
			t.Finish()
			return
		}
		t.FinishWithError(fn(ctx))
	}, opts...)
}

// =============================================================================
// Accessors
// =============================================================================

func (t *Task) ID() core.TaskID { return t.n.id }
func (t *Task) Name() string    { return t.n.name }

// Runnable returns the unit this task belongs to: t itself, or the composite
// (such as a *GroupTask) embedding it.
func (t *Task) Runnable() Runnable { return t.n.owner }

func (t *Task) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

func (t *Task) Conditions() []Condition {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]Condition(nil), t.conditions...)
}

func (t *Task) Observers() []Observer {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]Observer(nil), t.observers...)
}

func (t *Task) Dependencies() []Runnable { return t.n.dependencies() }

// Errors returns the finish errors once the task has finished, otherwise the
// errors accumulated so far.
func (t *Task) Errors() []error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.hasFinishedAlready {
		return append([]error(nil), t.finishErrors...)
	}
	return append([]error(nil), t.internalErrors...)
}

// Context is cancelled when the task is cancelled or finishes.
func (t *Task) Context() context.Context { return t.ctx }

// Queue returns the queue the task was submitted to, or nil.
func (t *Task) Queue() *Queue {
	t.n.mu.Lock()
	defer t.n.mu.Unlock()
	return t.n.queue
}

func (t *Task) IsCancelled() bool { return t.n.cancelled.Load() }
func (t *Task) IsFinished() bool  { return t.n.finished.Load() }

func (t *Task) IsExecuting() bool { return t.State() == StateExecuting }

func (t *Task) node() *node   { return t.n }
func (t *Task) asTask() *Task { return t }

// =============================================================================
// Configuration before cutover
// =============================================================================

// AddCondition attaches c. Allowed only before condition evaluation starts.
func (t *Task) AddCondition(c Condition) {
	t.mu.Lock()
	if t.state >= StateEvaluatingConditions {
		st := t.state
		t.mu.Unlock()
		violation("Task %q: cannot add condition %q while %s", t.n.name, c.Name(), st)
	}
	t.conditions = append(t.conditions, c)
	t.mu.Unlock()
}

// AddObserver attaches o. Allowed only before execution starts.
func (t *Task) AddObserver(o Observer) {
	t.mu.Lock()
	if t.state >= StateExecuting {
		st := t.state
		t.mu.Unlock()
		violation("Task %q: cannot add observer while %s", t.n.name, st)
	}
	t.observers = append(t.observers, o)
	t.mu.Unlock()
}

// AddDependency makes t wait for dep. Allowed only before execution starts.
func (t *Task) AddDependency(dep Runnable) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state >= StateExecuting {
		violation("Task %q: cannot add dependency while %s", t.n.name, t.state)
	}
	t.n.addDependency(dep)
}

func (t *Task) AddDependencies(deps ...Runnable) {
	for _, d := range deps {
		t.AddDependency(d)
	}
}

// =============================================================================
// State machine
// =============================================================================

// fire delivers transitions outside the lock. Entering ready wakes the queue.
func (t *Task) fire(trs ...Transition) {
	for _, tr := range trs {
		if t.stateHandler != nil {
			t.stateHandler(t, tr)
		}
		if tr.To == StateReady {
			t.n.notify()
		}
	}
}

// willEnqueue moves the task to pending; called by Queue.Submit last.
func (t *Task) willEnqueue() {
	t.mu.Lock()
	if t.state != StateInitialized {
		st := t.state
		t.mu.Unlock()
		violation("Task %q: submitted while %s", t.n.name, st)
	}
	t.state = StatePending
	t.mu.Unlock()
	t.fire(Transition{From: StateInitialized, To: StatePending})
}

func (t *Task) isReady() bool {
	switch t.State() {
	case StateInitialized:
		return t.IsCancelled()
	case StatePending:
		if t.IsCancelled() {
			return true
		}
		if t.n.depsFinished() {
			t.evaluateConditions()
		}
		return false
	case StateReady:
		return t.n.depsFinished() || t.IsCancelled()
	default:
		return false
	}
}

// evaluateConditions runs at most once, guarded by the pending state.
func (t *Task) evaluateConditions() {
	t.mu.Lock()
	if t.state != StatePending {
		t.mu.Unlock()
		return
	}
	t.state = StateEvaluatingConditions
	conditions := append([]Condition(nil), t.conditions...)
	t.mu.Unlock()
	t.fire(Transition{From: StatePending, To: StateEvaluatingConditions})

	EvaluateConditions(t.ctx, t, conditions, t.conditionsEvaluated)
}

func (t *Task) conditionsEvaluated(failures []error) {
	t.mu.Lock()
	if t.state != StateEvaluatingConditions {
		// Finished while conditions were still running
		t.mu.Unlock()
		return
	}
	t.internalErrors = append(t.internalErrors, failures...)
	t.state = StateReady
	t.mu.Unlock()

	if q := t.Queue(); q != nil {
		for _, err := range failures {
			q.conditionFailed(t, err)
		}
	}
	t.fire(Transition{From: StateEvaluatingConditions, To: StateReady})
}

// start is the scheduler's run callback.
func (t *Task) start(ctx context.Context) {
	if t.IsCancelled() {
		t.Finish()
		return
	}

	t.mu.Lock()
	if t.state != StateReady {
		st := t.state
		t.mu.Unlock()
		violation("Task %q: started while %s", t.n.name, st)
	}
	if !t.n.depsFinished() {
		// A dependency was added after dispatch.
		t.mu.Unlock()
		t.n.requeue()
		return
	}
	if len(t.internalErrors) > 0 {
		t.mu.Unlock()
		t.Finish()
		return
	}
	t.state = StateExecuting
	t.startedAt = time.Now()
	observers := append([]Observer(nil), t.observers...)
	t.mu.Unlock()
	t.fire(Transition{From: StateReady, To: StateExecuting})

	for _, o := range observers {
		o.OnStart(t)
	}
	t.run()
}

func (t *Task) run() {
	q := t.Queue()
	ctx := t.ctx
	if q != nil {
		ctx = withQueue(ctx, q)
	}

	defer func() {
		if rec := recover(); rec != nil {
			if cv, ok := rec.(ContractViolation); ok {
				panic(cv)
			}
			if q != nil {
				q.taskPanicked(t, rec)
			}
			t.Finish(ExecutionFailed(map[InfoKey]any{InfoKeyPanic: rec}))
		}
	}()

	if t.execute == nil {
		t.Finish()
		return
	}
	t.execute(ctx, t)
}

// =============================================================================
// Finishing and cancellation
// =============================================================================

// Finish ends the task with errs added to any errors it already carries. Only
// the first call has an effect. Calling it on a task that was never submitted
// is a contract violation.
func (t *Task) Finish(errs ...error) {
	t.mu.Lock()
	if t.hasFinishedAlready {
		t.mu.Unlock()
		return
	}
	if t.state == StateInitialized {
		t.mu.Unlock()
		violation("Task %q: finished before it was submitted to a queue", t.n.name)
	}
	if t.state < StateReady && !t.n.cancelled.Load() {
		st := t.state
		t.mu.Unlock()
		violation("Task %q: finished while %s without being cancelled", t.n.name, st)
	}
	t.hasFinishedAlready = true

	// A task cancelled before it ran still walks every state in order.
	var trs []Transition
	for t.state < StateReady {
		next := t.state + 1
		trs = append(trs, Transition{From: t.state, To: next})
		t.state = next
	}
	trs = append(trs, Transition{From: t.state, To: StateFinishing})
	t.state = StateFinishing

	combined := append([]error(nil), t.internalErrors...)
	for _, err := range errs {
		if err != nil {
			combined = append(combined, err)
		}
	}
	t.finishErrors = combined
	observers := append([]Observer(nil), t.observers...)
	hook := t.finishedHook
	t.mu.Unlock()
	t.fire(trs...)

	if hook != nil {
		hook(t, combined)
	}
	for _, o := range observers {
		o.OnFinish(t, combined)
	}
	if q := t.Queue(); q != nil {
		q.taskFinished(t, combined)
	}

	t.mu.Lock()
	t.state = StateFinished
	t.finishedAt = time.Now()
	t.mu.Unlock()
	t.cancelCtx()
	t.fire(Transition{From: StateFinishing, To: StateFinished})
	t.n.markFinished()
}

// FinishWithError finishes with err, or with no additional error if err is nil.
func (t *Task) FinishWithError(err error) {
	if err == nil {
		t.Finish()
		return
	}
	t.Finish(err)
}

// Cancel marks the task cancelled. It does not finish the task: a task that has
// not started finishes without executing, a running one is expected to watch
// its context and call Finish.
func (t *Task) Cancel() {
	t.CancelWithError(nil)
}

// CancelWithError cancels and, if err is non-nil, records it in the task's
// errors.
func (t *Task) CancelWithError(err error) {
	t.mu.Lock()
	if t.hasFinishedAlready {
		t.mu.Unlock()
		return
	}
	if err != nil {
		t.internalErrors = append(t.internalErrors, err)
	}
	hook := t.cancelHook
	t.mu.Unlock()

	// Sub-units are cancelled before the flag is visible.
	if hook != nil && !t.n.cancelled.Load() {
		hook()
	}
	t.n.cancelled.Store(true)
	t.cancelCtx()
	t.n.notify()
}

// ProduceTask asks the owning queue to admit r, via the task's observers.
func (t *Task) ProduceTask(r Runnable) {
	for _, o := range t.Observers() {
		o.OnProduce(t, r)
	}
}

func (t *Task) timing() (startedAt, finishedAt time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.startedAt, t.finishedAt
}

// =============================================================================
// Context Helper
// =============================================================================

type queueKeyType struct{}

var queueKey queueKeyType

func withQueue(ctx context.Context, q *Queue) context.Context {
	return context.WithValue(ctx, queueKey, q)
}

// CurrentQueue returns the Queue running the current execute function, or nil.
func CurrentQueue(ctx context.Context) *Queue {
	if q, ok := ctx.Value(queueKey).(*Queue); ok {
		return q
	}
	return nil
}
