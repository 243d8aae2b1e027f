package operation

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Swind/go-task-queue/core"
)

// testPool runs every posted task on its own goroutine.
type testPool struct {
	dm *core.DelayManager
}

func newTestPool(t *testing.T) *testPool {
	t.Helper()
	p := &testPool{dm: core.NewDelayManager()}
	t.Cleanup(p.dm.Stop)
	return p
}

func (p *testPool) PostInternal(task core.Task) { go task(context.Background()) }

func (p *testPool) PostDelayedInternal(task core.Task, delay time.Duration, target core.TaskRunner) *core.DelayedTask {
	return p.dm.AddDelayedTask(task, delay, target)
}

func (p *testPool) CancelDelayedInternal(handle *core.DelayedTask) bool { return p.dm.Remove(handle) }

func (p *testPool) Start(ctx context.Context) {}
func (p *testPool) Stop()                     {}
func (p *testPool) ID() string                { return "test-pool" }
func (p *testPool) IsRunning() bool           { return true }
func (p *testPool) WorkerCount() int          { return 0 }
func (p *testPool) QueuedTaskCount() int      { return 0 }
func (p *testPool) ActiveTaskCount() int      { return 0 }
func (p *testPool) DelayedTaskCount() int     { return p.dm.TaskCount() }

// newTestQueue builds a queue with a private exclusivity controller unless one
// is passed in.
func newTestQueue(t *testing.T, name string, excl *ExclusivityController) *Queue {
	t.Helper()
	if excl == nil {
		excl = NewExclusivityController(nil)
		t.Cleanup(excl.Close)
	}
	q := NewQueue(newTestPool(t), &QueueConfig{Name: name, Exclusivity: excl})
	t.Cleanup(q.Close)
	return q
}

func waitFinished(t *testing.T, r Runnable) {
	t.Helper()
	select {
	case <-r.node().done:
	case <-time.After(3 * time.Second):
		t.Fatalf("%q did not finish", r.Name())
	}
}

// transitionRecorder collects every transition of a task.
type transitionRecorder struct {
	mu  sync.Mutex
	trs []Transition
}

func (r *transitionRecorder) handler(t *Task, tr Transition) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.trs = append(r.trs, tr)
}

func (r *transitionRecorder) states() []State {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []State
	for i, tr := range r.trs {
		if i == 0 {
			out = append(out, tr.From)
		}
		out = append(out, tr.To)
	}
	return out
}

func (r *transitionRecorder) requireValid(t *testing.T) {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, tr := range r.trs {
		require.Truef(t, tr.From.CanTransitionTo(tr.To), "invalid transition %s -> %s", tr.From, tr.To)
		if i > 0 {
			require.Equal(t, r.trs[i-1].To, tr.From, "transitions must chain")
		}
	}
}

// countingObserver counts callbacks.
type countingObserver struct {
	mu       sync.Mutex
	starts   int
	produced []Runnable
	finishes int
	errs     []error
}

func (o *countingObserver) OnStart(t *Task) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.starts++
}

func (o *countingObserver) OnProduce(t *Task, produced Runnable) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.produced = append(o.produced, produced)
}

func (o *countingObserver) OnFinish(t *Task, errs []error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.finishes++
	o.errs = append(o.errs, errs...)
}

func (o *countingObserver) counts() (starts, finishes int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.starts, o.finishes
}

// stubCondition is a configurable Condition.
type stubCondition struct {
	name      string
	exclusive bool
	err       error
	delay     time.Duration
	dep       func(t *Task) Runnable
}

func (c *stubCondition) Name() string              { return c.name }
func (c *stubCondition) IsMutuallyExclusive() bool { return c.exclusive }

func (c *stubCondition) Dependency(t *Task) Runnable {
	if c.dep == nil {
		return nil
	}
	return c.dep(t)
}

func (c *stubCondition) Evaluate(ctx context.Context, t *Task, complete func(error)) {
	if c.delay > 0 {
		time.Sleep(c.delay)
	}
	complete(c.err)
}

// interval records when a task ran.
type interval struct {
	start, end time.Time
}

// sleepTask finishes after d and records its execution interval.
func sleepTask(name string, d time.Duration, out *interval, mu *sync.Mutex, opts ...TaskOption) *Task {
	return NewTask(name, func(ctx context.Context, t *Task) {
		start := time.Now()
		time.Sleep(d)
		mu.Lock()
		*out = interval{start: start, end: time.Now()}
		mu.Unlock()
		t.Finish()
	}, opts...)
}

// recordingMetrics captures what a queue reports.
type recordingMetrics struct {
	core.NilMetrics

	mu         sync.Mutex
	outcomes   []string
	conditions []string
	panics     []any
}

func (m *recordingMetrics) RecordTaskFinished(queueName string, outcome string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.outcomes = append(m.outcomes, outcome)
}

func (m *recordingMetrics) RecordConditionFailure(queueName string, conditionName string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.conditions = append(m.conditions, conditionName)
}

func (m *recordingMetrics) RecordTaskPanic(queueName string, panicInfo any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.panics = append(m.panics, panicInfo)
}

func (m *recordingMetrics) snapshot() (outcomes, conditions []string, panics []any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.outcomes...), append([]string(nil), m.conditions...), append([]any(nil), m.panics...)
}

// requireViolation asserts fn panics with a ContractViolation.
func requireViolation(t *testing.T, fn func()) {
	t.Helper()
	defer func() {
		t.Helper()
		rec := recover()
		require.NotNil(t, rec, "expected a contract violation")
		_, ok := rec.(ContractViolation)
		require.Truef(t, ok, "expected ContractViolation, got %T: %v", rec, rec)
	}()
	fn()
}
