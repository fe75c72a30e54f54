// Package agent runs the model/executor loop that works a task to
// completion: ask the model for an action, perform it, observe the
// screen, repeat.
package agent

import "fmt"

// State represents where a run is in its lifecycle.
type State string

const (
	StateIdle      State = "idle"
	StateRunning   State = "running"
	StateSucceeded State = "succeeded"
	StateFailed    State = "failed"
	StateCancelled State = "cancelled"
)

// Terminal reports whether the state is an end state.
func (s State) Terminal() bool {
	switch s {
	case StateSucceeded, StateFailed, StateCancelled:
		return true
	}
	return false
}

// InvalidTaskError rejects a task before the run starts.
type InvalidTaskError struct {
	Reason string
}

func (e *InvalidTaskError) Error() string { return "invalid task: " + e.Reason }

// CycleLimitError reports that the loop hit its iteration ceiling
// without the model calling finish.
type CycleLimitError struct {
	Limit int
}

func (e *CycleLimitError) Error() string {
	return fmt.Sprintf("cycle limit of %d exceeded", e.Limit)
}
