// Package observer provides stock operation.Observer implementations.
package observer

import (
	"sync"
	"time"

	"github.com/Swind/go-task-queue/operation"
)

// TimeoutObserver cancels a task that is still running d after it started.
// The cancellation carries an execution failure with operation.InfoKeyTimeout;
// the task still has to notice its context ending and finish.
type TimeoutObserver struct {
	d time.Duration

	mu     sync.Mutex
	timers map[*operation.Task]*time.Timer
}

var _ operation.Observer = (*TimeoutObserver)(nil)

// Timeout returns an observer that bounds execution time to d. One observer
// may be shared by several tasks.
func Timeout(d time.Duration) *TimeoutObserver {
	if d <= 0 {
		panic("Timeout: duration must be positive")
	}
	return &TimeoutObserver{d: d, timers: make(map[*operation.Task]*time.Timer)}
}

func (o *TimeoutObserver) OnStart(t *operation.Task) {
	timer := time.AfterFunc(o.d, func() {
		o.forget(t)
		if t.IsFinished() || t.IsCancelled() {
			return
		}
		t.CancelWithError(operation.ExecutionFailed(map[operation.InfoKey]any{
			operation.InfoKeyTimeout: o.d,
		}))
	})

	o.mu.Lock()
	o.timers[t] = timer
	o.mu.Unlock()
}

func (o *TimeoutObserver) OnProduce(t *operation.Task, produced operation.Runnable) {}

func (o *TimeoutObserver) OnFinish(t *operation.Task, errs []error) {
	if timer := o.forget(t); timer != nil {
		timer.Stop()
	}
}

func (o *TimeoutObserver) forget(t *operation.Task) *time.Timer {
	o.mu.Lock()
	defer o.mu.Unlock()
	timer := o.timers[t]
	delete(o.timers, t)
	return timer
}
