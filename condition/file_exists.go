package condition

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/Swind/go-task-queue/operation"
)

// ErrFileWaitTimeout is the underlying error when a FileExists condition gives
// up waiting.
var ErrFileWaitTimeout = errors.New("timed out waiting for file")

type fileExists struct {
	path    string
	timeout time.Duration
}

// FileExists passes once path exists. If it does not exist yet, the parent
// directory is watched until the file appears, the task is cancelled, or
// timeout elapses (zero waits indefinitely).
func FileExists(path string, timeout time.Duration) operation.Condition {
	return fileExists{path: filepath.Clean(path), timeout: timeout}
}

func (c fileExists) Name() string              { return "FileExists" }
func (c fileExists) IsMutuallyExclusive() bool { return false }

func (c fileExists) Dependency(t *operation.Task) operation.Runnable { return nil }

func (c fileExists) Evaluate(ctx context.Context, t *operation.Task, complete func(error)) {
	complete(c.wait(ctx))
}

func (c fileExists) fail(err error) error {
	return operation.ConditionFailed(c.Name(), map[operation.InfoKey]any{
		operation.InfoKeyPath:            c.path,
		operation.InfoKeyUnderlyingError: err,
	})
}

func (c fileExists) wait(ctx context.Context) error {
	if exists(c.path) {
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return c.fail(fmt.Errorf("create watcher: %w", err))
	}
	defer watcher.Close()

	if err := watcher.Add(filepath.Dir(c.path)); err != nil {
		return c.fail(fmt.Errorf("watch %s: %w", filepath.Dir(c.path), err))
	}
	// The file may have appeared before the watch was in place
	if exists(c.path) {
		return nil
	}

	var deadline <-chan time.Time
	if c.timeout > 0 {
		timer := time.NewTimer(c.timeout)
		defer timer.Stop()
		deadline = timer.C
	}

	for {
		select {
		case <-ctx.Done():
			return c.fail(ctx.Err())
		case <-deadline:
			return c.fail(ErrFileWaitTimeout)
		case err, ok := <-watcher.Errors:
			if !ok {
				return c.fail(errors.New("watcher closed"))
			}
			return c.fail(err)
		case event, ok := <-watcher.Events:
			if !ok {
				return c.fail(errors.New("watcher closed"))
			}
			if filepath.Clean(event.Name) != c.path {
				continue
			}
			if event.Has(fsnotify.Create) || event.Has(fsnotify.Write) || event.Has(fsnotify.Rename) {
				if exists(c.path) {
					return nil
				}
			}
		}
	}
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
