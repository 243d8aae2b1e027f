package taskqueue

import "github.com/Swind/go-task-queue/operation"

// CreateQueue creates a Queue named name on the global thread pool, sharing the
// process-wide exclusivity controller.
// It panics if InitGlobalThreadPool has not been called.
func CreateQueue(name string) *Queue {
	config := operation.DefaultQueueConfig()
	config.Name = name
	return operation.NewQueue(GetGlobalThreadPool(), config)
}

// NewGroupTask creates a GroupTask whose internal queue runs on the global thread pool.
func NewGroupTask(name string, units ...Runnable) *GroupTask {
	return operation.NewGroupTask(GetGlobalThreadPool(), name, units)
}
