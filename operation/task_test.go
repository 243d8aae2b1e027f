package operation

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestTask_SuccessfulLifecycle verifies the full state walk
// Given a task with no conditions
// When it is submitted and finishes normally
// Then it passes through every state in order and reports no errors
func TestTask_SuccessfulLifecycle(t *testing.T) {
	// Arrange
	q := newTestQueue(t, "lifecycle", nil)
	rec := &transitionRecorder{}
	obs := &countingObserver{}
	task := NewTask("work", func(ctx context.Context, t *Task) { t.Finish() },
		WithStateChangeHandler(rec.handler),
		WithObservers(obs),
	)

	// Act
	q.Submit(task)
	waitFinished(t, task)

	// Assert
	rec.requireValid(t)
	assert.Equal(t, []State{
		StateInitialized, StatePending, StateEvaluatingConditions, StateReady,
		StateExecuting, StateFinishing, StateFinished,
	}, rec.states())
	starts, finishes := obs.counts()
	assert.Equal(t, 1, starts)
	assert.Equal(t, 1, finishes)
	assert.Empty(t, task.Errors())
	assert.True(t, task.IsFinished())
	assert.Equal(t, StateFinished, task.State())
}

// TestTask_FinishTwice verifies only the first Finish counts
// Given a task whose execute function calls Finish twice
// When it runs
// Then observers hear about one finish, without the second call's error
func TestTask_FinishTwice(t *testing.T) {
	// Arrange
	q := newTestQueue(t, "double", nil)
	obs := &countingObserver{}
	task := NewTask("twice", func(ctx context.Context, t *Task) {
		t.Finish()
		t.Finish(errors.New("late"))
	}, WithObservers(obs))

	// Act
	q.Submit(task)
	waitFinished(t, task)

	// Assert
	_, finishes := obs.counts()
	assert.Equal(t, 1, finishes)
	assert.Empty(t, task.Errors())
}

// TestTask_FinishWithErrors verifies error accumulation
// Given a task finishing with a nil and a real error
// When it finishes
// Then only the real error is kept and the finished hook sees it before observers
func TestTask_FinishWithErrors(t *testing.T) {
	// Arrange
	q := newTestQueue(t, "errors", nil)
	boom := errors.New("boom")
	var order []string
	task := NewTask("fails", func(ctx context.Context, t *Task) { t.Finish(nil, boom) },
		WithFinishedHook(func(t *Task, errs []error) { order = append(order, "hook") }),
		WithObservers(BlockObserver{FinishHandler: func(t *Task, errs []error) { order = append(order, "observer") }}),
	)

	// Act
	q.Submit(task)
	waitFinished(t, task)

	// Assert
	require.Len(t, task.Errors(), 1)
	assert.Same(t, boom, task.Errors()[0])
	assert.Equal(t, []string{"hook", "observer"}, order)
}

// TestNewFuncTask verifies the function adapter
// Given a func task returning an error
// When it runs
// Then the task finishes with that error
func TestNewFuncTask(t *testing.T) {
	// Arrange
	q := newTestQueue(t, "func", nil)
	want := errors.New("nope")
	var seen *Queue
	task := NewFuncTask("fn", func(ctx context.Context) error {
		seen = CurrentQueue(ctx)
		return want
	})

	// Act
	q.Submit(task)
	waitFinished(t, task)

	// Assert
	assert.Equal(t, []error{want}, task.Errors())
	assert.Equal(t, "fn", task.Name())
	assert.Same(t, q, seen)
}

// TestTask_DefaultName verifies generated names
// Given a task created without a name
// When its name is read
// Then it is derived from its ID
func TestTask_DefaultName(t *testing.T) {
	task := NewTask("", nil)
	assert.Equal(t, "task-"+task.ID().String()[:8], task.Name())
	assert.Same(t, task, task.Runnable())
}

// TestTask_CancelledBeforeStart verifies the cancelled fast path
// Given a task cancelled while waiting on an unfinished dependency
// When the queue notices the cancellation
// Then it finishes without executing and still walks every state up to ready
func TestTask_CancelledBeforeStart(t *testing.T) {
	// Arrange
	q := newTestQueue(t, "cancel", nil)
	gate := NewBlockTask("gate", nil)
	gate.AddDependency(NewBlockTask("never", nil))
	rec := &transitionRecorder{}
	executed := false
	task := NewTask("victim", func(ctx context.Context, t *Task) {
		executed = true
		t.Finish()
	}, WithDependencies(gate), WithStateChangeHandler(rec.handler))
	q.Submit(task)

	// Act
	task.Cancel()
	waitFinished(t, task)

	// Assert
	assert.False(t, executed)
	assert.True(t, task.IsCancelled())
	rec.requireValid(t)
	assert.Equal(t, []State{
		StateInitialized, StatePending, StateEvaluatingConditions, StateReady,
		StateFinishing, StateFinished,
	}, rec.states())
}

// TestTask_CancelWithErrorWhileRunning verifies cooperative cancellation
// Given a running task watching its context
// When it is cancelled with an error
// Then the context ends and the error is part of the finish errors
func TestTask_CancelWithErrorWhileRunning(t *testing.T) {
	// Arrange
	q := newTestQueue(t, "cancel-running", nil)
	started := make(chan struct{})
	task := NewTask("loop", func(ctx context.Context, t *Task) {
		close(started)
		<-ctx.Done()
		t.Finish()
	})
	q.Submit(task)
	<-started
	reason := errors.New("stop")

	// Act
	task.CancelWithError(reason)
	waitFinished(t, task)

	// Assert
	assert.Equal(t, []error{reason}, task.Errors())
	assert.True(t, task.IsCancelled())
}

// TestTask_PanicRecovered verifies panics become execution failures
// Given a task whose execute function panics
// When it runs
// Then it finishes with an execution failure carrying the panic value
func TestTask_PanicRecovered(t *testing.T) {
	// Arrange
	metrics := &recordingMetrics{}
	excl := NewExclusivityController(nil)
	t.Cleanup(excl.Close)
	q := NewQueue(newTestPool(t), &QueueConfig{Name: "panics", Metrics: metrics, Exclusivity: excl})
	t.Cleanup(q.Close)
	task := NewTask("explodes", func(ctx context.Context, t *Task) { panic("kaboom") })

	// Act
	q.Submit(task)
	waitFinished(t, task)

	// Assert
	errs := task.Errors()
	require.Len(t, errs, 1)
	assert.ErrorIs(t, errs[0], ErrExecutionFailed)
	var opErr *Error
	require.ErrorAs(t, errs[0], &opErr)
	assert.Equal(t, "kaboom", opErr.Info[InfoKeyPanic])
	_, _, panics := metrics.snapshot()
	assert.Equal(t, []any{"kaboom"}, panics)
}

// TestTask_ContractViolations verifies misuse panics
// Given tasks in various states
// When they are mutated past their cutover state
// Then each call panics with a ContractViolation
func TestTask_ContractViolations(t *testing.T) {
	t.Run("finish before submit", func(t *testing.T) {
		task := NewTask("early", nil)
		requireViolation(t, func() { task.Finish() })
	})

	t.Run("finish while waiting on a dependency", func(t *testing.T) {
		q := newTestQueue(t, "pending", nil)
		release := make(chan struct{})
		dep := NewTask("running-dep", func(ctx context.Context, t *Task) {
			<-release
			t.Finish()
		})
		task := NewTask("waiting", nil, WithDependencies(dep))
		q.Submit(task)
		q.Submit(dep)
		require.Eventually(t, func() bool { return dep.IsExecuting() }, time.Second, time.Millisecond)
		require.Equal(t, StatePending, task.State())

		requireViolation(t, func() { task.Finish() })

		assert.Equal(t, StatePending, task.State())
		assert.False(t, task.IsFinished())
		close(release)
		waitFinished(t, task)
		assert.Empty(t, task.Errors())
	})

	t.Run("self dependency", func(t *testing.T) {
		task := NewTask("self", nil)
		requireViolation(t, func() { task.AddDependency(task) })
	})

	t.Run("mutation after finish", func(t *testing.T) {
		q := newTestQueue(t, "late", nil)
		task := NewTask("done", nil)
		q.Submit(task)
		waitFinished(t, task)

		requireViolation(t, func() { task.AddCondition(&stubCondition{name: "late"}) })
		requireViolation(t, func() { task.AddObserver(BlockObserver{}) })
		requireViolation(t, func() { task.AddDependency(NewBlockTask("dep", nil)) })
	})

	t.Run("submit twice", func(t *testing.T) {
		q := newTestQueue(t, "twice", nil)
		task := NewTask("once", nil)
		q.Submit(task)
		requireViolation(t, func() { q.Submit(task) })
	})
}

// TestTask_ProduceTask verifies produced units join the producer's queue
// Given a task that produces another task while executing
// When it runs
// Then the produced task is admitted to the same queue and runs
func TestTask_ProduceTask(t *testing.T) {
	// Arrange
	q := newTestQueue(t, "produce", nil)
	child := NewTask("child", nil)
	obs := &countingObserver{}
	parent := NewTask("parent", func(ctx context.Context, t *Task) {
		t.ProduceTask(child)
		t.Finish()
	}, WithObservers(obs))

	// Act
	q.Submit(parent)
	waitFinished(t, parent)
	waitFinished(t, child)

	// Assert
	assert.Same(t, q, child.Queue())
	obs.mu.Lock()
	defer obs.mu.Unlock()
	assert.Equal(t, []Runnable{child}, obs.produced)
}

// TestTask_ContextEndsOnFinish verifies the task context lifetime
// Given a submitted task
// When it finishes
// Then its context is done
func TestTask_ContextEndsOnFinish(t *testing.T) {
	q := newTestQueue(t, "ctx", nil)
	task := NewTask("ctx", nil)
	q.Submit(task)
	waitFinished(t, task)

	select {
	case <-task.Context().Done():
	case <-time.After(time.Second):
		t.Fatal("context not cancelled")
	}
}
