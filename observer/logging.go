package observer

import (
	"github.com/Swind/go-task-queue/core"
	"github.com/Swind/go-task-queue/operation"
)

// LoggingObserver writes every lifecycle event of a task to a core.Logger.
type LoggingObserver struct {
	logger core.Logger
}

var _ operation.Observer = LoggingObserver{}

// Logging returns an observer logging to logger, or to a NoOpLogger if nil.
func Logging(logger core.Logger) LoggingObserver {
	if logger == nil {
		logger = core.NewNoOpLogger()
	}
	return LoggingObserver{logger: logger}
}

func (o LoggingObserver) OnStart(t *operation.Task) {
	o.logger.Info("task started", taskFields(t)...)
}

func (o LoggingObserver) OnProduce(t *operation.Task, produced operation.Runnable) {
	o.logger.Debug("task produced",
		append(taskFields(t), core.F("produced", produced.Name()))...)
}

func (o LoggingObserver) OnFinish(t *operation.Task, errs []error) {
	fields := append(taskFields(t), core.F("cancelled", t.IsCancelled()))
	if len(errs) == 0 {
		o.logger.Info("task finished", fields...)
		return
	}
	msgs := make([]string, 0, len(errs))
	for _, err := range errs {
		msgs = append(msgs, err.Error())
	}
	o.logger.Warn("task finished with errors", append(fields, core.F("errors", msgs))...)
}

func taskFields(t *operation.Task) []core.Field {
	fields := []core.Field{
		core.F("task", t.Name()),
		core.F("id", t.ID().String()),
	}
	if q := t.Queue(); q != nil {
		fields = append(fields, core.F("queue", q.Name()))
	}
	return fields
}
