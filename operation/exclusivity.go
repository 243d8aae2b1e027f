package operation

import (
	"context"
	"sync"

	"github.com/Swind/go-task-queue/core"
)

// ExclusivityController turns mutual exclusion into dependencies: every unit
// registered under a category depends on the unit registered before it, so
// two units sharing a category never run at the same time, whichever queues
// they were submitted to.
//
// The category map is only touched from the controller's dedicated goroutine.
type ExclusivityController struct {
	runner *core.SingleThreadTaskRunner
	tasks  map[string][]Runnable // owned by runner
	logger core.Logger
}

// NewExclusivityController creates a controller with its own serial goroutine.
// Most programs share DefaultExclusivityController instead.
func NewExclusivityController(logger core.Logger) *ExclusivityController {
	if logger == nil {
		logger = core.NewNoOpLogger()
	}
	runner := core.NewSingleThreadTaskRunner()
	runner.SetName("exclusivity")
	runner.SetPanicHandler(&core.DefaultPanicHandler{Logger: logger})
	return &ExclusivityController{
		runner: runner,
		tasks:  make(map[string][]Runnable),
		logger: logger,
	}
}

var (
	defaultController     *ExclusivityController
	defaultControllerOnce sync.Once
)

// DefaultExclusivityController returns the process-wide controller.
func DefaultExclusivityController() *ExclusivityController {
	defaultControllerOnce.Do(func() {
		defaultController = NewExclusivityController(nil)
	})
	return defaultController
}

// Register appends r to each category and makes it depend on the previous
// last entry. It returns once the dependencies are in place.
func (c *ExclusivityController) Register(r Runnable, categories []string) {
	if len(categories) == 0 {
		return
	}
	c.sync("Register", func() {
		for _, category := range categories {
			list := c.tasks[category]
			if n := len(list); n > 0 {
				r.AddDependency(list[n-1])
			}
			c.tasks[category] = append(list, r)
			c.logger.Debug("exclusivity registered",
				core.F("task", r.Name()),
				core.F("category", category),
				core.F("position", len(list)),
			)
		}
	})
}

// Deregister removes r from each category. It does not wait; removals are
// ordered with every other Register and Deregister on this controller.
func (c *ExclusivityController) Deregister(r Runnable, categories []string) {
	if len(categories) == 0 {
		return
	}
	c.runner.PostTask(func(ctx context.Context) {
		for _, category := range categories {
			c.remove(category, r)
		}
	})
}

func (c *ExclusivityController) remove(category string, r Runnable) {
	list := c.tasks[category]
	for i, entry := range list {
		if entry.node() != r.node() {
			continue
		}
		list = append(list[:i], list[i+1:]...)
		break
	}
	if len(list) == 0 {
		delete(c.tasks, category)
		return
	}
	c.tasks[category] = list
}

// Count returns how many units are registered under category.
func (c *ExclusivityController) Count(category string) int {
	var n int
	c.sync("Count", func() { n = len(c.tasks[category]) })
	return n
}

// Categories returns the number of categories with at least one unit.
func (c *ExclusivityController) Categories() int {
	var n int
	c.sync("Categories", func() { n = len(c.tasks) })
	return n
}

// Close drains pending deregistrations and stops the controller goroutine.
// Register after Close panics.
func (c *ExclusivityController) Close() {
	_ = c.runner.WaitIdle(context.Background())
	c.runner.Stop()
}

// sync runs fn on the controller goroutine and waits for it. The runner is
// serial, so it is idle again only once fn has returned.
func (c *ExclusivityController) sync(op string, fn func()) {
	if c.runner.IsClosed() {
		violation("ExclusivityController: %s after Close", op)
	}
	c.runner.PostTask(func(ctx context.Context) { fn() })
	if err := c.runner.WaitIdle(context.Background()); err != nil {
		violation("ExclusivityController: closed during %s: %v", op, err)
	}
}
