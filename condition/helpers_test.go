package condition_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	taskqueue "github.com/Swind/go-task-queue"
	"github.com/Swind/go-task-queue/operation"
)

func newQueue(t *testing.T, name string, excl *operation.ExclusivityController) *operation.Queue {
	t.Helper()
	pool := taskqueue.NewGoroutineThreadPool(name+"-pool", 4)
	pool.Start(context.Background())
	t.Cleanup(pool.Stop)
	if excl == nil {
		excl = operation.NewExclusivityController(nil)
		t.Cleanup(excl.Close)
	}
	q := operation.NewQueue(pool, &operation.QueueConfig{Name: name, Exclusivity: excl})
	t.Cleanup(q.Close)
	return q
}

func evaluate(t *testing.T, task *operation.Task, c operation.Condition) error {
	t.Helper()
	done := make(chan []error, 1)
	operation.EvaluateConditions(context.Background(), task, []operation.Condition{c}, func(failures []error) {
		done <- failures
	})
	select {
	case failures := <-done:
		require.LessOrEqual(t, len(failures), 1)
		if len(failures) == 0 {
			return nil
		}
		return failures[0]
	case <-time.After(2 * time.Second):
		t.Fatal("evaluation did not complete")
		return nil
	}
}

func waitDone(t *testing.T, task *operation.Task) {
	t.Helper()
	require.Eventually(t, task.IsFinished, 3*time.Second, time.Millisecond, "%s did not finish", task.Name())
}

// withDependency passes and supplies a fixed dependency.
type withDependency struct {
	dep operation.Runnable
}

func (c withDependency) Name() string              { return "WithDependency" }
func (c withDependency) IsMutuallyExclusive() bool { return false }

func (c withDependency) Dependency(t *operation.Task) operation.Runnable { return c.dep }

func (c withDependency) Evaluate(ctx context.Context, t *operation.Task, complete func(error)) {
	complete(nil)
}
