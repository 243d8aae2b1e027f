package condition

import (
	"context"

	"github.com/Swind/go-task-queue/operation"
)

type noCancelledDependencies struct{}

// NoCancelledDependencies fails if any of the task's dependencies was
// cancelled. The failure lists exactly the cancelled dependencies under
// operation.InfoKeyCancelledDependencies, so cancellation cascades.
func NoCancelledDependencies() operation.Condition { return noCancelledDependencies{} }

func (noCancelledDependencies) Name() string              { return "NoCancelledDependencies" }
func (noCancelledDependencies) IsMutuallyExclusive() bool { return false }

func (noCancelledDependencies) Dependency(t *operation.Task) operation.Runnable { return nil }

func (c noCancelledDependencies) Evaluate(ctx context.Context, t *operation.Task, complete func(error)) {
	var cancelled []operation.Runnable
	for _, dep := range t.Dependencies() {
		if dep.IsCancelled() {
			cancelled = append(cancelled, dep)
		}
	}
	if len(cancelled) == 0 {
		complete(nil)
		return
	}
	complete(operation.ConditionFailed(c.Name(), map[operation.InfoKey]any{
		operation.InfoKeyCancelledDependencies: cancelled,
	}))
}
