package operation

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// TestDelayTask_Elapses verifies the delay
// Given a delay task of 40ms
// When it runs on a queue
// Then it finishes no sooner than 40ms later without errors
func TestDelayTask_Elapses(t *testing.T) {
	// Arrange
	q := newTestQueue(t, "delay", nil)
	task := NewDelayTask("", 40*time.Millisecond)
	start := time.Now()

	// Act
	q.Submit(task)
	waitFinished(t, task)

	// Assert
	assert.GreaterOrEqual(t, time.Since(start), 40*time.Millisecond)
	assert.Empty(t, task.Errors())
	assert.Equal(t, "delay-40ms", task.Name())
}

// TestDelayTask_CancelFinishesEarly verifies cancellation cuts the wait
// Given a long running delay task
// When it is cancelled
// Then it finishes right away
func TestDelayTask_CancelFinishesEarly(t *testing.T) {
	// Arrange
	q := newTestQueue(t, "delay-cancel", nil)
	task := NewDelayTask("long", time.Hour)
	q.Submit(task)
	assert.Eventually(t, task.IsExecuting, time.Second, time.Millisecond)

	// Act
	task.Cancel()

	// Assert
	waitFinished(t, task)
	assert.True(t, task.IsCancelled())
}

// TestDelayUntilTask_PastDeadline verifies past deadlines finish at once
// Given a deadline in the past
// When the task runs
// Then it finishes immediately
func TestDelayUntilTask_PastDeadline(t *testing.T) {
	q := newTestQueue(t, "delay-until", nil)
	task := NewDelayUntilTask("past", time.Now().Add(-time.Minute))

	q.Submit(task)
	waitFinished(t, task)

	assert.Empty(t, task.Errors())
}
