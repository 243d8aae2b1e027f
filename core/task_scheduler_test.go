package core

import (
	"context"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

// TestFIFOTaskScheduler_ExecutionOrder tests FIFO execution order
// Given: A scheduler with five tasks posted in order
// When: Work is pulled with GetWork
// Then: Tasks come back in insertion order and the queued metric drains to zero
func TestFIFOTaskScheduler_ExecutionOrder(t *testing.T) {
	// Arrange
	s := NewFIFOTaskScheduler(1)
	defer s.Shutdown()

	results := make(chan string, 10)
	makeTask := func(name string) Task {
		return func(ctx context.Context) { results <- name }
	}
	expected := []string{"a", "b", "c", "d", "e"}
	for _, name := range expected {
		s.PostInternal(makeTask(name))
	}

	// Act and Assert
	if s.QueuedTaskCount() != 5 {
		t.Fatalf("QueuedTaskCount() = %d, want 5", s.QueuedTaskCount())
	}
	stopCh := make(chan struct{})
	for i, exp := range expected {
		task, ok := s.GetWork(stopCh)
		if !ok {
			t.Fatalf("step %d: expected task but got none", i)
		}
		task(context.Background())
		if got := <-results; got != exp {
			t.Errorf("step %d: got %s, want %s", i, got, exp)
		}
	}
	if s.QueuedTaskCount() != 0 {
		t.Fatalf("QueuedTaskCount() = %d, want 0", s.QueuedTaskCount())
	}
}

// TestTaskScheduler_GetWorkStops verifies GetWork returns when stopped
// Given: An empty scheduler
// When: The stop channel is closed while GetWork waits
// Then: GetWork returns ok=false
func TestTaskScheduler_GetWorkStops(t *testing.T) {
	// Arrange
	s := NewFIFOTaskScheduler(1)
	defer s.Shutdown()
	stopCh := make(chan struct{})
	done := make(chan bool, 1)

	// Act
	go func() {
		_, ok := s.GetWork(stopCh)
		done <- ok
	}()
	close(stopCh)

	// Assert
	select {
	case ok := <-done:
		if ok {
			t.Fatal("GetWork should report no work after stop")
		}
	case <-time.After(time.Second):
		t.Fatal("GetWork did not return after stop")
	}
}

type recordingRejectHandler struct {
	count  atomic.Int32
	reason atomic.Value
}

func (h *recordingRejectHandler) HandleRejectedTask(runnerName string, reason string) {
	h.count.Add(1)
	h.reason.Store(reason)
}

// TestTaskScheduler_RejectsAfterShutdown verifies rejection during shutdown
// Given: A scheduler configured with a recording RejectedTaskHandler
// When: A task is posted after Shutdown
// Then: The handler is called and nothing is queued
func TestTaskScheduler_RejectsAfterShutdown(t *testing.T) {
	// Arrange
	h := &recordingRejectHandler{}
	s := NewFIFOTaskSchedulerWithConfig(1, &TaskSchedulerConfig{RejectedTaskHandler: h})
	s.Shutdown()

	// Act
	s.PostInternal(func(ctx context.Context) {})
	handle := s.PostDelayedInternal(func(ctx context.Context) {}, time.Millisecond, &MockTaskRunner{})

	// Assert
	if h.count.Load() != 1 {
		t.Fatalf("rejections = %d, want 1", h.count.Load())
	}
	if reason, _ := h.reason.Load().(string); !strings.Contains(reason, "shutting down") {
		t.Fatalf("reason = %q", reason)
	}
	if s.QueuedTaskCount() != 0 {
		t.Fatalf("QueuedTaskCount() = %d, want 0", s.QueuedTaskCount())
	}
	if handle != nil {
		t.Fatal("delayed post after shutdown should return a nil handle")
	}
}

// TestTaskScheduler_DelayedPostAndCancel verifies delayed posting and cancellation
// Given: A scheduler and a recording runner
// When: One delayed task is cancelled and another is left to fire
// Then: Only the uncancelled task reaches the runner
func TestTaskScheduler_DelayedPostAndCancel(t *testing.T) {
	// Arrange
	s := NewFIFOTaskScheduler(1)
	defer s.Shutdown()
	runner := &MockTaskRunner{notify: make(chan struct{}, 2)}

	// Act
	cancelled := s.PostDelayedInternal(func(ctx context.Context) {}, 20*time.Millisecond, runner)
	s.PostDelayedInternal(func(ctx context.Context) {}, 20*time.Millisecond, runner)
	ok := s.CancelDelayedInternal(cancelled)

	// Assert
	if !ok {
		t.Fatal("CancelDelayedInternal should succeed before the task fires")
	}
	select {
	case <-runner.notify:
	case <-time.After(time.Second):
		t.Fatal("delayed task never fired")
	}
	time.Sleep(30 * time.Millisecond)
	if runner.PostedCount() != 1 {
		t.Fatalf("posted = %d, want 1", runner.PostedCount())
	}
	if s.CancelDelayedInternal(cancelled) {
		t.Fatal("second cancel should report false")
	}
}

// TestTaskScheduler_ShutdownGracefulTimeout verifies graceful shutdown timeout
// Given: A scheduler with an active task that never ends
// When: ShutdownGraceful is called with a short timeout
// Then: An error is returned and queued work is cleared
func TestTaskScheduler_ShutdownGracefulTimeout(t *testing.T) {
	// Arrange
	s := NewFIFOTaskScheduler(1)
	s.OnTaskStart()
	s.PostInternal(func(ctx context.Context) {})

	// Act
	err := s.ShutdownGraceful(100 * time.Millisecond)

	// Assert
	if err == nil {
		t.Fatal("expected timeout error")
	}
	if s.QueuedTaskCount() != 0 {
		t.Fatalf("QueuedTaskCount() = %d, want 0", s.QueuedTaskCount())
	}
}
