// Package executor dispatches decoded actions to a desktop environment
// and captures screenshots of the result.
package executor

import (
	"context"

	"github.com/GoCodeAlone/pilot/action"
)

// Observation is what the environment reported back after an action:
// a screenshot of the current screen plus optional textual detail.
type Observation struct {
	// Image holds the encoded screenshot bytes; empty when the action
	// produced no visual observation (e.g. wait).
	Image  []byte `json:"-"`
	Format string `json:"format,omitempty"`
	// TokenCost is the producer-declared token price of the image when
	// sent to the model.
	TokenCost int    `json:"token_cost,omitempty"`
	Text      string `json:"text,omitempty"`
	// Region is the captured screen area, when the producer reports one.
	Region *Region `json:"region,omitempty"`
}

// Region is a rectangle in screen coordinates.
type Region struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Executor runs actions against one desktop environment. Implementations
// are not required to be safe for concurrent use; each task owns its
// executor for the duration of a run.
type Executor interface {
	// Name returns the executor identifier used in config and logs.
	Name() string

	// Execute performs the action and returns the resulting observation.
	// Errors are *TransientError when a retry against the same
	// environment may succeed, *FatalError otherwise.
	Execute(ctx context.Context, act action.Action) (*Observation, error)

	// Close releases the environment.
	Close() error
}
