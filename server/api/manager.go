// Package api defines the REST API handlers and interfaces for the Pilot server.
package api

import "github.com/GoCodeAlone/pilot/task"

// RunnerManager is the interface the API uses to control task runs.
type RunnerManager interface {
	// Submit creates a task and starts a run for it.
	Submit(text string, metadata map[string]string) (*task.Task, error)

	// Cancel requests the run for the given task stop.
	Cancel(id string) error

	// Running reports whether the given task currently has a live run.
	Running(id string) bool
}
