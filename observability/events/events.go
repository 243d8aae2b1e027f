// Package events publishes task lifecycle events to NATS.
package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/Swind/go-task-queue/core"
	"github.com/Swind/go-task-queue/operation"
)

// Event kinds, also the last subject token.
const (
	KindStarted  = "started"
	KindProduced = "produced"
	KindFinished = "finished"
)

// DefaultSubjectPrefix is used when Options.SubjectPrefix is empty.
const DefaultSubjectPrefix = "taskqueue.events"

// Publisher is the subset of *nats.Conn the observer needs.
type Publisher interface {
	Publish(subject string, data []byte) error
}

var _ Publisher = (*nats.Conn)(nil)

// Event is the JSON payload of every message.
type Event struct {
	Kind      string    `json:"kind"`
	TaskID    string    `json:"task_id"`
	Task      string    `json:"task"`
	Queue     string    `json:"queue,omitempty"`
	Produced  string    `json:"produced,omitempty"`
	Cancelled bool      `json:"cancelled,omitempty"`
	Errors    []string  `json:"errors,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Options configures an Observer.
type Options struct {
	SubjectPrefix string

	// Logger receives publish failures. Defaults to a NoOpLogger.
	Logger core.Logger
}

// Observer publishes every lifecycle callback as an Event on
// <prefix>.<kind>. Publish failures are logged and never affect the task.
type Observer struct {
	pub    Publisher
	prefix string
	logger core.Logger
	now    func() time.Time
}

var _ operation.Observer = (*Observer)(nil)

// NewObserver creates an Observer publishing through pub.
func NewObserver(pub Publisher, opts Options) *Observer {
	if pub == nil {
		panic("events.NewObserver: publisher must not be nil")
	}
	if opts.SubjectPrefix == "" {
		opts.SubjectPrefix = DefaultSubjectPrefix
	}
	if opts.Logger == nil {
		opts.Logger = core.NewNoOpLogger()
	}
	return &Observer{pub: pub, prefix: opts.SubjectPrefix, logger: opts.Logger, now: time.Now}
}

// Subject returns the subject events of kind are published on.
func (o *Observer) Subject(kind string) string {
	return o.prefix + "." + kind
}

func (o *Observer) OnStart(t *operation.Task) {
	o.publish(o.event(KindStarted, t))
}

func (o *Observer) OnProduce(t *operation.Task, produced operation.Runnable) {
	ev := o.event(KindProduced, t)
	ev.Produced = produced.Name()
	o.publish(ev)
}

func (o *Observer) OnFinish(t *operation.Task, errs []error) {
	ev := o.event(KindFinished, t)
	ev.Cancelled = t.IsCancelled()
	for _, err := range errs {
		ev.Errors = append(ev.Errors, err.Error())
	}
	o.publish(ev)
}

func (o *Observer) event(kind string, t *operation.Task) Event {
	ev := Event{
		Kind:      kind,
		TaskID:    t.ID().String(),
		Task:      t.Name(),
		Timestamp: o.now(),
	}
	if q := t.Queue(); q != nil {
		ev.Queue = q.Name()
	}
	return ev
}

func (o *Observer) publish(ev Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		o.logger.Error("encode event failed", core.F("task", ev.Task), core.F("error", err))
		return
	}
	subject := o.Subject(ev.Kind)
	if err := o.pub.Publish(subject, data); err != nil {
		o.logger.Warn("publish event failed",
			core.F("subject", subject),
			core.F("task", ev.Task),
			core.F("error", err),
		)
	}
}

// Connect dials a NATS server for use as a Publisher.
func Connect(url, name string) (*nats.Conn, error) {
	if url == "" {
		url = nats.DefaultURL
	}
	conn, err := nats.Connect(url,
		nats.Name(name),
		nats.MaxReconnects(5),
		nats.ReconnectWait(time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS at %s: %w", url, err)
	}
	return conn, nil
}
