package condition

import (
	"context"

	"github.com/Swind/go-task-queue/operation"
)

// Exclusive is a condition that always passes and keeps every task carrying
// the same category from running concurrently with another.
type Exclusive struct {
	category string
}

// MutuallyExclusive returns the exclusivity condition for category. Two
// conditions with the same category share one exclusivity slot, whichever
// package created them.
func MutuallyExclusive(category string) *Exclusive {
	if category == "" {
		panic("MutuallyExclusive: category must not be empty")
	}
	return &Exclusive{category: category}
}

// Category returns the caller-provided category.
func (c *Exclusive) Category() string { return c.category }

// Name is also the exclusivity key the queue registers.
func (c *Exclusive) Name() string              { return "MutuallyExclusive" + c.category }
func (c *Exclusive) IsMutuallyExclusive() bool { return true }

func (c *Exclusive) Dependency(t *operation.Task) operation.Runnable { return nil }

func (c *Exclusive) Evaluate(ctx context.Context, t *operation.Task, complete func(error)) {
	complete(nil)
}
