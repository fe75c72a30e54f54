// Package comms provides the run event stream: every task lifecycle
// change and agent step is published here for the API and UI to watch.
package comms

import (
	"context"
	"time"
)

// EventType identifies the kind of run event.
type EventType string

const (
	TypeTaskStarted   EventType = "task.started"
	TypeActionChosen  EventType = "action.chosen"   // model picked an action
	TypeActionDone    EventType = "action.done"     // executor finished it
	TypeObservation   EventType = "observation"     // screenshot captured
	TypeTaskSucceeded EventType = "task.succeeded"
	TypeTaskFailed    EventType = "task.failed"
	TypeTaskCancelled EventType = "task.cancelled"
)

// Event is one entry in a task's run stream.
type Event struct {
	ID     string    `json:"id"`
	Type   EventType `json:"type"`
	TaskID string    `json:"task_id"`
	// Cycle is the agent loop iteration the event belongs to; zero for
	// lifecycle events emitted outside the loop.
	Cycle int `json:"cycle,omitempty"`
	// Action is the compact rendering of the chosen action, for
	// action.chosen and action.done events.
	Action string `json:"action,omitempty"`
	// Detail carries failure reasons and closing messages.
	Detail    string            `json:"detail,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
}

// Handler processes events for a subscriber.
type Handler func(ctx context.Context, ev *Event) error

// AllTasks subscribes to every task's events.
const AllTasks = "*"

// Bus carries run events from agents to watchers.
type Bus interface {
	// Publish delivers an event to subscribers of its task and to
	// subscribers of AllTasks.
	Publish(ctx context.Context, ev *Event) error

	// Subscribe registers a handler for events of the given task ID,
	// or all events when taskID is AllTasks.
	// Returns an unsubscribe function.
	Subscribe(taskID string, handler Handler) (unsubscribe func())

	// History returns recent events for the given task.
	History(taskID string, limit int) ([]*Event, error)
}
