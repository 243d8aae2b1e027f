package operation

import "fmt"

// State is a task's lifecycle phase. States only move forward.
type State int

const (
	StateInitialized State = iota
	StatePending
	StateEvaluatingConditions
	StateReady
	StateExecuting
	StateFinishing
	StateFinished
)

var stateNames = [...]string{
	StateInitialized:          "initialized",
	StatePending:              "pending",
	StateEvaluatingConditions: "evaluatingConditions",
	StateReady:                "ready",
	StateExecuting:            "executing",
	StateFinishing:            "finishing",
	StateFinished:             "finished",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("State(%d)", int(s))
	}
	return stateNames[s]
}

// allowedTransitions lists every legal (from, to) pair.
var allowedTransitions = map[State][]State{
	StateInitialized:          {StatePending},
	StatePending:              {StateEvaluatingConditions},
	StateEvaluatingConditions: {StateReady},
	StateReady:                {StateExecuting, StateFinishing},
	StateExecuting:            {StateFinishing},
	StateFinishing:            {StateFinished},
}

// CanTransitionTo reports whether s -> target is a legal transition.
func (s State) CanTransitionTo(target State) bool {
	for _, next := range allowedTransitions[s] {
		if next == target {
			return true
		}
	}
	return false
}

// Transition is one observed state change.
type Transition struct {
	From State
	To   State
}
