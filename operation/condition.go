package operation

import (
	"context"
	"errors"
	"sync"
)

// Condition gates a task's readiness. Implementations are plugins; the
// condition package provides the generic combinators.
type Condition interface {
	// Name identifies the condition. For mutually exclusive conditions it is
	// also the exclusivity category.
	Name() string

	// IsMutuallyExclusive reports whether tasks carrying this condition must
	// never run at the same time as each other.
	IsMutuallyExclusive() bool

	// Dependency optionally returns a unit that must finish before t may
	// evaluate its conditions. The queue submits it alongside t.
	Dependency(t *Task) Runnable

	// Evaluate decides whether t may run and reports the result exactly once
	// through complete: nil for success, an error for failure. It may complete
	// synchronously or from another goroutine.
	Evaluate(ctx context.Context, t *Task, complete func(error))
}

// EvaluateConditions evaluates every condition concurrently and, once all have
// completed, calls complete with the failures in condition order. If t was
// cancelled by then, one generic condition failure is appended. complete never
// runs on the caller's goroutine.
func EvaluateConditions(ctx context.Context, t *Task, conditions []Condition, complete func(failures []error)) {
	results := make([]error, len(conditions))
	var wg sync.WaitGroup
	wg.Add(len(conditions))

	for i, c := range conditions {
		go func() {
			var once sync.Once
			c.Evaluate(ctx, t, func(err error) {
				once.Do(func() {
					results[i] = asConditionFailure(c, err)
					wg.Done()
				})
			})
		}()
	}

	go func() {
		wg.Wait()

		var failures []error
		for _, err := range results {
			if err != nil {
				failures = append(failures, err)
			}
		}
		if t.IsCancelled() {
			failures = append(failures, ConditionFailed("", nil))
		}
		complete(failures)
	}()
}

// asConditionFailure makes sure a failed evaluation surfaces as a condition
// failure naming c, keeping the plugin's error as the underlying cause.
func asConditionFailure(c Condition, err error) error {
	if err == nil {
		return nil
	}
	var opErr *Error
	if errors.As(err, &opErr) && opErr.Code == CodeConditionFailed {
		return err
	}
	return ConditionFailed(c.Name(), map[InfoKey]any{InfoKeyUnderlyingError: err})
}

// exclusiveCategories returns the names of mutually exclusive conditions,
// deduplicated in first-appearance order.
func exclusiveCategories(conditions []Condition) []string {
	var categories []string
	seen := make(map[string]struct{})
	for _, c := range conditions {
		if !c.IsMutuallyExclusive() {
			continue
		}
		name := c.Name()
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		categories = append(categories, name)
	}
	return categories
}
