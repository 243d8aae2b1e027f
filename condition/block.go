package condition

import (
	"context"

	"github.com/Swind/go-task-queue/operation"
)

// Predicate decides synchronously whether t may run.
type Predicate func(ctx context.Context, t *operation.Task) error

type block struct {
	name string
	fn   Predicate
}

// Block wraps fn as a condition named name. A nil error lets the task run.
func Block(name string, fn Predicate) operation.Condition {
	if fn == nil {
		panic("Block: predicate must not be nil")
	}
	if name == "" {
		name = "Block"
	}
	return block{name: name, fn: fn}
}

func (c block) Name() string              { return c.name }
func (c block) IsMutuallyExclusive() bool { return false }

func (c block) Dependency(t *operation.Task) operation.Runnable { return nil }

func (c block) Evaluate(ctx context.Context, t *operation.Task, complete func(error)) {
	complete(c.fn(ctx, t))
}
