// Package pipeline turns a config.Config task list into Runnables wired with
// the stock conditions and observers.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/Swind/go-task-queue/condition"
	"github.com/Swind/go-task-queue/config"
	"github.com/Swind/go-task-queue/core"
	"github.com/Swind/go-task-queue/observer"
	"github.com/Swind/go-task-queue/operation"
)

// Builder creates the units of a pipeline.
type Builder struct {
	// Pool runs the internal queues of group tasks.
	Pool core.ThreadPool

	// QueueConfig is the template for group internal queues. Name is replaced.
	QueueConfig *operation.QueueConfig

	// Observers are attached to every task, nested ones included.
	Observers []operation.Observer
}

// Build creates one Runnable per entry, with dependencies resolved by name.
// tasks must already have passed config validation.
func (b *Builder) Build(tasks []config.TaskConfig) ([]operation.Runnable, error) {
	if b.Pool == nil {
		return nil, errors.New("pipeline: builder has no pool")
	}

	units := make([]operation.Runnable, 0, len(tasks))
	byName := make(map[string]operation.Runnable, len(tasks))
	for _, tc := range tasks {
		unit, err := b.build(tc)
		if err != nil {
			return nil, err
		}
		units = append(units, unit)
		byName[tc.Name] = unit
	}

	for i, tc := range tasks {
		for _, dep := range tc.DependsOn {
			target, ok := byName[dep]
			if !ok {
				return nil, fmt.Errorf("pipeline: %s: unknown dependency %q", tc.Name, dep)
			}
			units[i].AddDependency(target)
		}
	}
	return units, nil
}

func (b *Builder) build(tc config.TaskConfig) (operation.Runnable, error) {
	opts := []operation.TaskOption{
		operation.WithConditions(conditions(tc)...),
		operation.WithObservers(b.Observers...),
	}
	if tc.Timeout > 0 {
		opts = append(opts, operation.WithObservers(observer.Timeout(tc.Timeout)))
	}

	if len(tc.Group) == 0 {
		return operation.NewTask(tc.Name, work(tc), opts...), nil
	}

	children, err := b.Build(tc.Group)
	if err != nil {
		return nil, fmt.Errorf("pipeline: group %s: %w", tc.Name, err)
	}
	groupOpts := []operation.GroupOption{operation.WithTaskOptions(opts...)}
	if b.QueueConfig != nil {
		groupOpts = append(groupOpts, operation.WithInternalQueueConfig(b.QueueConfig))
	}
	return operation.NewGroupTask(b.Pool, tc.Name, children, groupOpts...), nil
}

func conditions(tc config.TaskConfig) []operation.Condition {
	var out []operation.Condition
	for _, category := range tc.Exclusive {
		out = append(out, condition.MutuallyExclusive(category))
	}
	if tc.WaitForFile != "" {
		out = append(out, condition.FileExists(tc.WaitForFile, tc.WaitTimeout))
	}
	if tc.Unless != "" {
		path := tc.Unless
		out = append(out, condition.Negated(condition.Block("PathExists", func(ctx context.Context, t *operation.Task) error {
			_, err := os.Stat(path)
			return err
		})))
	}
	if tc.NoCancelledDependencies {
		out = append(out, condition.NoCancelledDependencies())
	}
	return out
}

// work sleeps for tc.Sleep, ending early on cancellation, then finishes with
// tc.Fail as an execution failure if set.
func work(tc config.TaskConfig) operation.ExecuteFunc {
	return func(ctx context.Context, t *operation.Task) {
		if tc.Sleep > 0 {
			timer := time.NewTimer(tc.Sleep)
			defer timer.Stop()
			select {
			case <-timer.C:
			case <-ctx.Done():
				t.Finish()
				return
			}
		}
		if tc.Fail != "" {
			t.Finish(operation.WrapExecutionError(errors.New(tc.Fail)))
			return
		}
		t.Finish()
	}
}
