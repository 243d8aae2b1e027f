// Package taskqueue provides lifecycle-managed tasks on top of a goroutine
// thread pool.
//
// A task moves through initialized, pending, evaluatingConditions, ready,
// executing, finishing and finished. Before it runs, every dependency must
// finish and every attached Condition is evaluated concurrently; a failed
// condition makes the task finish without executing, carrying the failure in
// its error list. Conditions can inject dependency tasks and can declare a
// mutual-exclusion category so that tasks sharing it never overlap, even
// across independent queues.
//
// # Quick Start
//
//	taskqueue.InitGlobalThreadPool(4)
//	defer taskqueue.ShutdownGlobalThreadPool()
//
//	q := taskqueue.CreateQueue("downloads")
//	fetch := taskqueue.NewFuncOperation("fetch", func(ctx context.Context) error {
//		return download(ctx)
//	})
//	fetch.AddCondition(condition.MutuallyExclusive("network"))
//	fetch.AddObserver(observer.Timeout(30 * time.Second))
//	q.Submit(fetch)
//	_ = q.WaitUntilAllTasksAreFinished(ctx)
//
// # Key Concepts
//
// Operation (operation.Task): the state machine. Its execute function must
// eventually call Finish, from any goroutine.
//
// Condition: a readiness predicate plugin. See the condition package for
// Negated, Silent, MutuallyExclusive and NoCancelledDependencies.
//
// Observer: start, produce and finish callbacks. See the observer package for
// timeouts and logging.
//
// GroupTask: a task that runs an internal queue of sub-tasks and finishes with
// their aggregated errors.
//
// Queue: the admission pipeline. It submits condition dependencies, registers
// exclusivity categories and hands ready units to the thread pool.
//
// The lower layer (core.TaskScheduler, SequencedTaskRunner,
// SingleThreadTaskRunner) stays available for plain closures.
package taskqueue
