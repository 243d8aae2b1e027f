package operation

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Swind/go-task-queue/core"
)

// QueueDelegate is told about every unit a queue admits and finishes.
type QueueDelegate interface {
	// WillAdd is called during Submit, after dependencies and exclusivity are
	// wired and before the unit can be scheduled.
	WillAdd(q *Queue, r Runnable)

	// TaskFinished is called once per unit, after its observers. Bare units
	// report no errors.
	TaskFinished(q *Queue, r Runnable, errs []error)
}

// QueueConfig holds configuration options for Queue.
// All fields are optional; nil fields get defaults.
type QueueConfig struct {
	Name string

	// Logger defaults to a NoOpLogger.
	Logger core.Logger

	// Metrics defaults to NilMetrics.
	Metrics core.Metrics

	// Exclusivity defaults to DefaultExclusivityController().
	Exclusivity *ExclusivityController

	// HistoryCapacity bounds RecentTasks. Defaults to core.DefaultTaskHistoryCapacity.
	HistoryCapacity int

	// Suspended starts the queue suspended.
	Suspended bool
}

// DefaultQueueConfig returns a config with default collaborators.
func DefaultQueueConfig() *QueueConfig {
	return &QueueConfig{
		Name:            "queue",
		Logger:          core.NewNoOpLogger(),
		Metrics:         &core.NilMetrics{},
		Exclusivity:     DefaultExclusivityController(),
		HistoryCapacity: core.DefaultTaskHistoryCapacity,
	}
}

// Queue admits Runnables and hands them to a ThreadPool once they are ready.
//
// Readiness is re-checked on a SequencedTaskRunner whenever something that
// could change it happens: a submission, a dependency finishing, a task
// finishing its condition evaluation, a cancellation or an unsuspend.
type Queue struct {
	name        string
	pool        core.ThreadPool
	dispatcher  *core.SequencedTaskRunner
	logger      core.Logger
	metrics     core.Metrics
	exclusivity *ExclusivityController
	history     *core.ExecutionHistory

	mu        sync.Mutex
	units     []Runnable // admitted and not finished, in admission order
	running   int
	suspended bool
	delegate  QueueDelegate
	idle      chan struct{} // closed while units is empty

	succeeded atomic.Int64
	failed    atomic.Int64
	cancelled atomic.Int64

	dispatchQueued atomic.Bool
}

// NewQueue creates a queue running units on pool.
func NewQueue(pool core.ThreadPool, config *QueueConfig) *Queue {
	if pool == nil {
		panic("Queue: pool must not be nil")
	}
	if config == nil {
		config = DefaultQueueConfig()
	}

	q := &Queue{
		name:        config.Name,
		pool:        pool,
		dispatcher:  core.NewSequencedTaskRunner(pool),
		logger:      config.Logger,
		metrics:     config.Metrics,
		exclusivity: config.Exclusivity,
		history:     core.NewExecutionHistory(config.HistoryCapacity),
		suspended:   config.Suspended,
		idle:        make(chan struct{}),
	}
	close(q.idle)

	if q.name == "" {
		q.name = "queue"
	}
	if q.logger == nil {
		q.logger = core.NewNoOpLogger()
	}
	if q.metrics == nil {
		q.metrics = &core.NilMetrics{}
	}
	if q.exclusivity == nil {
		q.exclusivity = DefaultExclusivityController()
	}
	q.dispatcher.SetName(q.name + "-dispatch")
	q.dispatcher.SetPanicHandler(&core.DefaultPanicHandler{Logger: q.logger})
	return q
}

func (q *Queue) Name() string { return q.name }

// SetDelegate replaces the delegate; nil removes it.
func (q *Queue) SetDelegate(d QueueDelegate) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.delegate = d
}

func (q *Queue) Delegate() QueueDelegate {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.delegate
}

// =============================================================================
// Admission
// =============================================================================

// Submit admits r. For a *Task (or a type embedding one) it attaches the
// queue's observer, submits every dependency its conditions supply, registers
// its exclusivity categories and only then moves it to pending.
// Submitting the same unit twice is a contract violation.
func (q *Queue) Submit(r Runnable) {
	if r == nil {
		violation("Queue %q: nil unit", q.name)
	}
	n := r.node()
	n.mu.Lock()
	if n.queue != nil {
		n.mu.Unlock()
		violation("Queue %q: %q was already submitted", q.name, r.Name())
	}
	n.queue = q
	n.mu.Unlock()

	if t := r.asTask(); t != nil {
		q.admitTask(t)
	} else {
		n.addCompletion(func() {
			if d := q.Delegate(); d != nil {
				d.TaskFinished(q, r, nil)
			}
		})
	}

	if d := q.Delegate(); d != nil {
		d.WillAdd(q, r)
	}
	q.enqueue(r)
}

func (q *Queue) admitTask(t *Task) {
	t.AddObserver(queueObserver{q: q})

	conditions := t.Conditions()
	for _, c := range conditions {
		if dep := c.Dependency(t); dep != nil {
			t.AddDependency(dep)
			q.Submit(dep)
		}
	}

	if categories := exclusiveCategories(conditions); len(categories) > 0 {
		q.exclusivity.Register(t.Runnable(), categories)
		t.AddObserver(BlockObserver{
			FinishHandler: func(ft *Task, errs []error) {
				q.exclusivity.Deregister(ft.Runnable(), categories)
			},
		})
	}

	t.willEnqueue()
}

func (q *Queue) enqueue(r Runnable) {
	n := r.node()
	n.mu.Lock()
	n.wake = q.kick
	n.mu.Unlock()

	q.mu.Lock()
	if len(q.units) == 0 {
		q.idle = make(chan struct{})
	}
	q.units = append(q.units, r)
	depth := len(q.units)
	q.mu.Unlock()

	q.logger.Debug("unit admitted", core.F("queue", q.name), core.F("task", r.Name()), core.F("id", r.ID().String()))
	q.metrics.RecordQueueDepth(q.name, depth)

	n.addCompletion(func() { q.unitFinished(r) })
	q.kick()
}

// SubmitAll admits every unit through Submit. If wait is true it blocks until
// all of them have finished.
func (q *Queue) SubmitAll(units []Runnable, wait bool) {
	for _, r := range units {
		q.Submit(r)
	}
	if !wait {
		return
	}
	for _, r := range units {
		<-r.node().done
	}
}

// =============================================================================
// Dispatch
// =============================================================================

// kick schedules a dispatch pass unless one is already waiting to run.
func (q *Queue) kick() {
	if q.dispatchQueued.CompareAndSwap(false, true) {
		q.dispatcher.PostTask(q.dispatch)
	}
}

func (q *Queue) dispatch(ctx context.Context) {
	q.dispatchQueued.Store(false)

	q.mu.Lock()
	if q.suspended {
		q.mu.Unlock()
		return
	}
	candidates := make([]Runnable, 0, len(q.units))
	for _, r := range q.units {
		if !r.node().dispatched {
			candidates = append(candidates, r)
		}
	}
	q.mu.Unlock()

	// isReady may start condition evaluation, so it runs without q.mu.
	var ready []Runnable
	for _, r := range candidates {
		if r.isReady() {
			ready = append(ready, r)
		}
	}
	if len(ready) == 0 {
		return
	}

	q.mu.Lock()
	var launch []Runnable
	for _, r := range ready {
		n := r.node()
		if n.dispatched || n.finished.Load() {
			continue
		}
		n.dispatched = true
		q.running++
		launch = append(launch, r)
	}
	q.mu.Unlock()

	for _, r := range launch {
		q.pool.PostInternal(func(ctx context.Context) {
			q.run(ctx, r)
		})
	}
}

func (q *Queue) run(ctx context.Context, r Runnable) {
	if r.asTask() == nil {
		defer func() {
			if rec := recover(); rec != nil {
				if cv, ok := rec.(ContractViolation); ok {
					panic(cv)
				}
				q.metrics.RecordTaskPanic(q.name, rec)
				q.logger.Error("block panicked", core.F("queue", q.name), core.F("task", r.Name()), core.F("panic", rec))
			}
		}()
	}
	r.start(withQueue(ctx, q))
}

// redispatch hands a launched unit back to the dispatcher when its start found
// a dependency added after dispatch. The next pass launches it again once
// that dependency finishes.
func (q *Queue) redispatch(n *node) {
	q.mu.Lock()
	if n.dispatched {
		n.dispatched = false
		q.running--
	}
	q.mu.Unlock()
	q.logger.Debug("unit re-queued for a late dependency", core.F("queue", q.name), core.F("task", n.name))
	q.kick()
}

func (q *Queue) unitFinished(r Runnable) {
	var errs []error
	outcome := core.OutcomeSucceeded
	var startedAt, finishedAt time.Time
	if t := r.asTask(); t != nil {
		errs = t.Errors()
		startedAt, finishedAt = t.timing()
	} else {
		finishedAt = time.Now()
	}
	switch {
	case r.IsCancelled():
		outcome = core.OutcomeCancelled
		q.cancelled.Add(1)
	case len(errs) > 0:
		outcome = core.OutcomeFailed
		q.failed.Add(1)
	default:
		q.succeeded.Add(1)
	}

	q.mu.Lock()
	n := r.node()
	for i, u := range q.units {
		if u.node() == n {
			q.units = append(q.units[:i], q.units[i+1:]...)
			break
		}
	}
	if n.dispatched {
		q.running--
	}
	depth := len(q.units)
	if depth == 0 {
		close(q.idle)
	}
	q.mu.Unlock()

	record := core.TaskExecutionRecord{
		TaskID:     r.ID(),
		Name:       r.Name(),
		QueueName:  q.name,
		Outcome:    outcome,
		StartedAt:  startedAt,
		FinishedAt: finishedAt,
	}
	if !startedAt.IsZero() {
		record.Duration = finishedAt.Sub(startedAt)
		q.metrics.RecordTaskDuration(q.name, record.Duration)
	}
	for _, err := range errs {
		record.Errors = append(record.Errors, err.Error())
	}
	q.history.Add(record)
	q.metrics.RecordTaskFinished(q.name, outcome)
	q.metrics.RecordQueueDepth(q.name, depth)

	q.logger.Debug("unit finished",
		core.F("queue", q.name),
		core.F("task", r.Name()),
		core.F("outcome", outcome),
		core.F("errors", len(errs)),
	)
}

func (q *Queue) taskFinished(t *Task, errs []error) {
	if d := q.Delegate(); d != nil {
		d.TaskFinished(q, t.Runnable(), errs)
	}
}

func (q *Queue) conditionFailed(t *Task, err error) {
	name := "cancelled"
	if e, ok := err.(*Error); ok && e.ConditionName() != "" {
		name = e.ConditionName()
	}
	q.metrics.RecordConditionFailure(q.name, name)
	q.logger.Warn("condition failed", core.F("queue", q.name), core.F("task", t.Name()), core.F("condition", name))
}

func (q *Queue) taskPanicked(t *Task, rec any) {
	q.metrics.RecordTaskPanic(q.name, rec)
	q.logger.Error("task panicked", core.F("queue", q.name), core.F("task", t.Name()), core.F("panic", rec))
}

// =============================================================================
// Control
// =============================================================================

// SetSuspended stops (true) or resumes (false) handing units to the pool.
// Units already running are not affected.
func (q *Queue) SetSuspended(suspended bool) {
	q.mu.Lock()
	q.suspended = suspended
	q.mu.Unlock()
	if !suspended {
		q.kick()
	}
}

func (q *Queue) IsSuspended() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.suspended
}

// CancelAll cancels every unit the queue has admitted and not finished.
func (q *Queue) CancelAll() {
	q.mu.Lock()
	units := append([]Runnable(nil), q.units...)
	q.mu.Unlock()
	for _, r := range units {
		r.Cancel()
	}
}

// WaitUntilAllTasksAreFinished blocks until the queue has no unfinished units
// or ctx ends. Do not call it from a unit running on this queue.
func (q *Queue) WaitUntilAllTasksAreFinished(ctx context.Context) error {
	q.mu.Lock()
	idle := q.idle
	q.mu.Unlock()

	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Units returns the admitted, unfinished units in admission order.
func (q *Queue) Units() []Runnable {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]Runnable(nil), q.units...)
}

// AfterDelay runs fn on the pool once d has elapsed.
func (q *Queue) AfterDelay(d time.Duration, fn func()) *core.DelayedTask {
	return q.pool.PostDelayedInternal(func(ctx context.Context) { fn() }, d, poolRunner{q.pool})
}

// CancelDelay cancels a pending AfterDelay call. It reports false if the call
// already ran.
func (q *Queue) CancelDelay(handle *core.DelayedTask) bool {
	if handle == nil {
		return false
	}
	return q.pool.CancelDelayedInternal(handle)
}

// Close stops the dispatcher. Units not yet handed to the pool never run.
func (q *Queue) Close() {
	q.dispatcher.Shutdown()
}

// =============================================================================
// Observability
// =============================================================================

// Stats returns a snapshot of the queue counters.
func (q *Queue) Stats() core.QueueStats {
	q.mu.Lock()
	stats := core.QueueStats{
		Name:      q.name,
		Pending:   len(q.units) - q.running,
		Running:   q.running,
		Suspended: q.suspended,
	}
	q.mu.Unlock()

	stats.Succeeded = q.succeeded.Load()
	stats.Failed = q.failed.Load()
	stats.Cancelled = q.cancelled.Load()
	if last, ok := q.history.Last(); ok {
		stats.LastTaskName = last.Name
		stats.LastTaskAt = last.FinishedAt
	}
	return stats
}

// RecentTasks returns up to limit execution records, newest first.
func (q *Queue) RecentTasks(limit int) []core.TaskExecutionRecord {
	return q.history.Recent(limit)
}

// =============================================================================
// Helpers
// =============================================================================

// queueObserver admits tasks produced by a task into its queue.
type queueObserver struct {
	q *Queue
}

func (o queueObserver) OnStart(t *Task) {}

func (o queueObserver) OnProduce(t *Task, produced Runnable) {
	o.q.Submit(produced)
}

// OnFinish is a no-op: the delegate is told from Task.Finish once every
// observer has run.
func (o queueObserver) OnFinish(t *Task, errs []error) {}

// poolRunner posts straight to a ThreadPool.
type poolRunner struct {
	pool core.ThreadPool
}

func (p poolRunner) PostTask(task core.Task) { p.pool.PostInternal(task) }

func (p poolRunner) PostDelayedTask(task core.Task, delay time.Duration) {
	p.pool.PostDelayedInternal(task, delay, p)
}
