package core

import (
	"context"
	"testing"
)

func tagged(id int, out *[]int) Task {
	return func(ctx context.Context) { *out = append(*out, id) }
}

// TestFIFOTaskQueue_Order verifies first-in first-out ordering
// Given: A FIFO queue with three tasks
// When: Tasks are popped one by one
// Then: They come out in push order and the queue ends empty
func TestFIFOTaskQueue_Order(t *testing.T) {
	// Arrange
	q := NewFIFOTaskQueue()
	var got []int
	for i := 1; i <= 3; i++ {
		q.Push(tagged(i, &got))
	}

	// Act
	for {
		task, ok := q.Pop()
		if !ok {
			break
		}
		task(context.Background())
	}

	// Assert
	if len(got) != 3 || got[0] != 1 || got[1] != 2 || got[2] != 3 {
		t.Fatalf("order = %v, want [1 2 3]", got)
	}
	if !q.IsEmpty() {
		t.Fatal("queue should be empty after draining")
	}
}

// TestFIFOTaskQueue_PopUpTo verifies batch retrieval
// Given: A FIFO queue with 5 tasks
// When: PopUpTo(3) is called and more tasks are pushed afterwards
// Then: The returned batch keeps its 3 tasks and 2+2 remain queued
func TestFIFOTaskQueue_PopUpTo(t *testing.T) {
	// Arrange
	q := NewFIFOTaskQueue()
	var got []int
	for i := 1; i <= 5; i++ {
		q.Push(tagged(i, &got))
	}

	// Act
	batch := q.PopUpTo(3)
	q.Push(tagged(6, &got))
	q.Push(tagged(7, &got))
	for _, task := range batch {
		task(context.Background())
	}

	// Assert
	if len(batch) != 3 {
		t.Fatalf("batch size = %d, want 3", len(batch))
	}
	if len(got) != 3 || got[0] != 1 || got[2] != 3 {
		t.Fatalf("batch order = %v, want [1 2 3]", got)
	}
	if q.Len() != 4 {
		t.Fatalf("remaining = %d, want 4", q.Len())
	}
}

// TestFIFOTaskQueue_Clear verifies Clear drops every task
// Given: A FIFO queue with tasks
// When: Clear is called
// Then: Len is zero and Pop reports empty
func TestFIFOTaskQueue_Clear(t *testing.T) {
	// Arrange
	q := NewFIFOTaskQueue()
	q.Push(func(ctx context.Context) {})
	q.Push(func(ctx context.Context) {})

	// Act
	q.Clear()

	// Assert
	if q.Len() != 0 {
		t.Fatalf("Len() = %d, want 0", q.Len())
	}
	if _, ok := q.Pop(); ok {
		t.Fatal("Pop() should report empty after Clear")
	}
}
