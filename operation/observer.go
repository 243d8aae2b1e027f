package operation

// Observer receives a task's lifecycle callbacks. Callbacks run on whatever
// goroutine drives the transition and must not block.
type Observer interface {
	// OnStart is called once the task enters executing, before its execute
	// function runs.
	OnStart(t *Task)

	// OnProduce is called when t asks for produced to be admitted.
	OnProduce(t *Task, produced Runnable)

	// OnFinish is called once with the combined errors, after the task's
	// finished hook.
	OnFinish(t *Task, errs []error)
}

// BlockObserver adapts optional closures to Observer.
type BlockObserver struct {
	StartHandler   func(t *Task)
	ProduceHandler func(t *Task, produced Runnable)
	FinishHandler  func(t *Task, errs []error)
}

func (o BlockObserver) OnStart(t *Task) {
	if o.StartHandler != nil {
		o.StartHandler(t)
	}
}

func (o BlockObserver) OnProduce(t *Task, produced Runnable) {
	if o.ProduceHandler != nil {
		o.ProduceHandler(t, produced)
	}
}

func (o BlockObserver) OnFinish(t *Task, errs []error) {
	if o.FinishHandler != nil {
		o.FinishHandler(t, errs)
	}
}
