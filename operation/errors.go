package operation

import (
	"fmt"
	"sort"
	"strings"
)

// Domain tags every error raised by this package.
const Domain = "go-task-queue.operation"

// Code classifies an Error.
type Code int

const (
	CodeConditionFailed Code = 1
	CodeExecutionFailed Code = 2
)

func (c Code) String() string {
	switch c {
	case CodeConditionFailed:
		return "condition failed"
	case CodeExecutionFailed:
		return "execution failed"
	default:
		return fmt.Sprintf("code(%d)", int(c))
	}
}

// InfoKey names an entry of Error.Info.
type InfoKey string

const (
	InfoKeyCondition             InfoKey = "condition"
	InfoKeyNegatedCondition      InfoKey = "negatedCondition"
	InfoKeyCancelledDependencies InfoKey = "cancelledDependencies"
	InfoKeyCategory              InfoKey = "category"
	InfoKeyTimeout               InfoKey = "timeout"
	InfoKeyPath                  InfoKey = "path"
	InfoKeyPanic                 InfoKey = "panic"
	InfoKeyUnderlyingError       InfoKey = "underlyingError"
)

// Error is the value carried in a task's error list for condition and
// execution failures. Info is an open diagnostic payload.
type Error struct {
	Code Code
	Info map[InfoKey]any
}

// Sentinels for errors.Is; they match any *Error with the same Code.
var (
	ErrConditionFailed = &Error{Code: CodeConditionFailed}
	ErrExecutionFailed = &Error{Code: CodeExecutionFailed}
)

// ConditionFailed builds a condition failure naming the condition.
func ConditionFailed(condition string, info map[InfoKey]any) *Error {
	e := &Error{Code: CodeConditionFailed, Info: make(map[InfoKey]any, len(info)+1)}
	for k, v := range info {
		e.Info[k] = v
	}
	if condition != "" {
		e.Info[InfoKeyCondition] = condition
	}
	return e
}

// ExecutionFailed builds an execution failure.
func ExecutionFailed(info map[InfoKey]any) *Error {
	e := &Error{Code: CodeExecutionFailed, Info: make(map[InfoKey]any, len(info))}
	for k, v := range info {
		e.Info[k] = v
	}
	return e
}

// WrapExecutionError wraps err as an execution failure. It returns err
// unchanged if it already is an *Error, and nil for nil.
func WrapExecutionError(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := err.(*Error); ok {
		return err
	}
	return ExecutionFailed(map[InfoKey]any{InfoKeyUnderlyingError: err})
}

func (e *Error) Domain() string { return Domain }

// ConditionName returns the failed condition's name, if recorded.
func (e *Error) ConditionName() string {
	name, _ := e.Info[InfoKeyCondition].(string)
	return name
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(Domain)
	b.WriteString(": ")
	b.WriteString(e.Code.String())
	if name := e.ConditionName(); name != "" {
		fmt.Fprintf(&b, " (%s)", name)
	}

	keys := make([]string, 0, len(e.Info))
	for k := range e.Info {
		if k != InfoKeyCondition {
			keys = append(keys, string(k))
		}
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, " %s=%v", k, e.Info[InfoKey(k)])
	}
	return b.String()
}

// Is matches the package sentinels by code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t == e {
		return true
	}
	return len(t.Info) == 0 && t.Code == e.Code
}

func (e *Error) Unwrap() error {
	err, _ := e.Info[InfoKeyUnderlyingError].(error)
	return err
}

// ContractViolation is the panic value for API misuse: invalid state
// transitions, mutating a task after its cutover state, submitting a unit
// twice. It is never recovered by this package.
type ContractViolation string

func (c ContractViolation) Error() string { return string(c) }

func violation(format string, args ...any) {
	panic(ContractViolation(fmt.Sprintf(format, args...)))
}
