package events

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	taskqueue "github.com/Swind/go-task-queue"
	"github.com/Swind/go-task-queue/operation"
)

type message struct {
	subject string
	event   Event
}

type fakePublisher struct {
	mu   sync.Mutex
	msgs []message
	err  error
}

func (p *fakePublisher) Publish(subject string, data []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	var ev Event
	if err := json.Unmarshal(data, &ev); err != nil {
		return err
	}
	p.msgs = append(p.msgs, message{subject: subject, event: ev})
	return nil
}

func (p *fakePublisher) messages() []message {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]message(nil), p.msgs...)
}

func newQueue(t *testing.T) *operation.Queue {
	t.Helper()
	pool := taskqueue.NewGoroutineThreadPool("events-pool", 2)
	pool.Start(context.Background())
	t.Cleanup(pool.Stop)
	excl := operation.NewExclusivityController(nil)
	t.Cleanup(excl.Close)
	q := operation.NewQueue(pool, &operation.QueueConfig{Name: "events", Exclusivity: excl})
	t.Cleanup(q.Close)
	return q
}

// TestObserver_PublishesLifecycle verifies the published stream
// Given a task observed by the events Observer
// When it produces a child and finishes with an error
// Then started, produced and finished events go to their subjects in order
func TestObserver_PublishesLifecycle(t *testing.T) {
	// Arrange
	pub := &fakePublisher{}
	obs := NewObserver(pub, Options{SubjectPrefix: "jobs"})
	q := newQueue(t)
	child := operation.NewTask("child", nil)
	task := operation.NewTask("parent", func(ctx context.Context, t *operation.Task) {
		t.ProduceTask(child)
		t.Finish(errors.New("broken"))
	}, operation.WithObservers(obs))

	// Act
	q.Submit(task)
	require.Eventually(t, task.IsFinished, 2*time.Second, time.Millisecond)

	// Assert
	msgs := pub.messages()
	require.Len(t, msgs, 3)
	assert.Equal(t, "jobs.started", msgs[0].subject)
	assert.Equal(t, "jobs.produced", msgs[1].subject)
	assert.Equal(t, "child", msgs[1].event.Produced)
	assert.Equal(t, "jobs.finished", msgs[2].subject)
	assert.Equal(t, []string{"broken"}, msgs[2].event.Errors)
	for _, m := range msgs {
		assert.Equal(t, task.ID().String(), m.event.TaskID)
		assert.Equal(t, "events", m.event.Queue)
	}
}

// TestObserver_PublishFailureIgnored verifies failures stay out of the task
// Given a publisher that always fails
// When an observed task runs
// Then the task still finishes cleanly
func TestObserver_PublishFailureIgnored(t *testing.T) {
	// Arrange
	obs := NewObserver(&fakePublisher{err: errors.New("no connection")}, Options{})
	q := newQueue(t)
	task := operation.NewTask("quiet", nil, operation.WithObservers(obs))

	// Act
	q.Submit(task)
	require.Eventually(t, task.IsFinished, 2*time.Second, time.Millisecond)

	// Assert
	assert.Empty(t, task.Errors())
	assert.Equal(t, DefaultSubjectPrefix+".finished", obs.Subject(KindFinished))
}
