package condition

import (
	"context"

	"github.com/Swind/go-task-queue/operation"
)

// =============================================================================
// Negated
// =============================================================================

type negated struct {
	inner operation.Condition
}

// Negated inverts inner: the task may run only if inner fails. It keeps inner's
// exclusivity and dependency.
func Negated(inner operation.Condition) operation.Condition {
	if inner == nil {
		panic("Negated: inner condition must not be nil")
	}
	return negated{inner: inner}
}

func (c negated) Name() string              { return "Not" + c.inner.Name() }
func (c negated) IsMutuallyExclusive() bool { return c.inner.IsMutuallyExclusive() }

func (c negated) Dependency(t *operation.Task) operation.Runnable {
	return c.inner.Dependency(t)
}

func (c negated) Evaluate(ctx context.Context, t *operation.Task, complete func(error)) {
	c.inner.Evaluate(ctx, t, func(err error) {
		if err != nil {
			complete(nil)
			return
		}
		complete(operation.ConditionFailed(c.Name(), map[operation.InfoKey]any{
			operation.InfoKeyNegatedCondition: c.inner.Name(),
		}))
	})
}

// =============================================================================
// Silent
// =============================================================================

type silent struct {
	inner operation.Condition
}

// Silent evaluates inner but never injects its dependency.
func Silent(inner operation.Condition) operation.Condition {
	if inner == nil {
		panic("Silent: inner condition must not be nil")
	}
	return silent{inner: inner}
}

func (c silent) Name() string              { return "Silent" + c.inner.Name() }
func (c silent) IsMutuallyExclusive() bool { return c.inner.IsMutuallyExclusive() }

func (c silent) Dependency(t *operation.Task) operation.Runnable { return nil }

func (c silent) Evaluate(ctx context.Context, t *operation.Task, complete func(error)) {
	c.inner.Evaluate(ctx, t, complete)
}
