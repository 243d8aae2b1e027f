package operation

import (
	"context"
	"time"
)

// NewDelayTask creates a task that finishes d after it starts executing.
// Cancelling it finishes it right away. A non-positive d finishes immediately.
func NewDelayTask(name string, d time.Duration, opts ...TaskOption) *Task {
	if name == "" {
		name = "delay-" + d.String()
	}
	return newDelayTask(name, func() time.Duration { return d }, opts)
}

// NewDelayUntilTask creates a task that finishes at deadline, measured when
// it starts executing.
func NewDelayUntilTask(name string, deadline time.Time, opts ...TaskOption) *Task {
	if name == "" {
		name = "delay-until-" + deadline.Format(time.RFC3339)
	}
	return newDelayTask(name, func() time.Duration { return time.Until(deadline) }, opts)
}

func newDelayTask(name string, delay func() time.Duration, opts []TaskOption) *Task {
	return NewTask(name, func(ctx context.Context, t *Task) {
		d := delay()
		if d <= 0 {
			t.Finish()
			return
		}

		q := CurrentQueue(ctx)
		if q == nil {
			timer := time.AfterFunc(d, func() { t.Finish() })
			context.AfterFunc(ctx, func() {
				if timer.Stop() {
					t.Finish()
				}
			})
			return
		}

		handle := q.AfterDelay(d, func() { t.Finish() })
		if handle == nil {
			// pool is shutting down
			t.Finish()
			return
		}
		context.AfterFunc(ctx, func() {
			if q.CancelDelay(handle) {
				t.Finish()
			}
		})
	}, opts...)
}

