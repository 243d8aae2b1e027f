package core

import (
	"reflect"
	"runtime"
	"strings"
	"sync"
)

const DefaultTaskHistoryCapacity = 100

// ExecutionHistory is a fixed-size ring of the most recent execution records.
type ExecutionHistory struct {
	mu    sync.Mutex
	items []TaskExecutionRecord
	head  int
	count int
}

func NewExecutionHistory(capacity int) *ExecutionHistory {
	if capacity < 1 {
		capacity = DefaultTaskHistoryCapacity
	}
	return &ExecutionHistory{items: make([]TaskExecutionRecord, capacity)}
}

func (h *ExecutionHistory) Add(record TaskExecutionRecord) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if len(h.items) == 0 {
		return
	}

	h.items[h.head] = record
	h.head = (h.head + 1) % len(h.items)
	if h.count < len(h.items) {
		h.count++
	}
}

// Recent returns up to limit records, newest first. limit <= 0 returns all.
func (h *ExecutionHistory) Recent(limit int) []TaskExecutionRecord {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.count == 0 {
		return nil
	}

	if limit <= 0 || limit > h.count {
		limit = h.count
	}

	out := make([]TaskExecutionRecord, 0, limit)
	for i := range limit {
		idx := (h.head - 1 - i + len(h.items)) % len(h.items)
		out = append(out, h.items[idx])
	}
	return out
}

func (h *ExecutionHistory) Last() (TaskExecutionRecord, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.count == 0 {
		return TaskExecutionRecord{}, false
	}

	idx := (h.head - 1 + len(h.items)) % len(h.items)
	return h.items[idx], true
}

func (h *ExecutionHistory) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.count
}

// FuncName derives a readable name from a function value, falling back to
// explicit when it is set and to "anonymous" when nothing can be resolved.
func FuncName(fn any, explicit string) string {
	if explicit != "" {
		return explicit
	}

	if fn == nil {
		return "anonymous"
	}

	v := reflect.ValueOf(fn)
	if v.Kind() != reflect.Func || v.IsNil() {
		return "anonymous"
	}

	f := runtime.FuncForPC(v.Pointer())
	if f == nil {
		return "anonymous"
	}

	name := f.Name()
	if name == "" {
		return "anonymous"
	}
	if i := strings.LastIndex(name, "/"); i >= 0 {
		name = name[i+1:]
	}
	return name
}
