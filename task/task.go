// Package task defines the task model and persistence for agent runs.
package task

import "time"

// Status represents the lifecycle state of a task.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether the status is an end state.
func (s Status) Terminal() bool {
	switch s {
	case StatusSucceeded, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// Task is one natural-language instruction the agent works on.
type Task struct {
	ID   string `json:"id"`
	Text string `json:"text"`
	// Status transitions pending -> running -> one terminal state.
	Status Status `json:"status"`
	// Reason explains a failed or cancelled outcome; for succeeded it
	// carries the model's closing message, if any.
	Reason string `json:"reason,omitempty"`
	// Cycles counts completed model/executor round trips.
	Cycles     int               `json:"cycles"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	CreatedAt  time.Time         `json:"created_at"`
	UpdatedAt  time.Time         `json:"updated_at"`
	StartedAt  *time.Time        `json:"started_at,omitempty"`
	FinishedAt *time.Time        `json:"finished_at,omitempty"`
}

// Store persists and retrieves tasks and their conversation turns.
type Store interface {
	// Create persists a new task and returns its assigned ID.
	Create(t *Task) (string, error)

	// Get retrieves a task by ID.
	Get(id string) (*Task, error)

	// Update saves changes to an existing task.
	Update(t *Task) error

	// List returns tasks matching the given filter.
	List(filter Filter) ([]*Task, error)

	// Delete removes a task and its turns by ID.
	Delete(id string) error

	// AppendTurn persists one conversation turn for a task.
	AppendTurn(taskID string, turn Turn) error

	// Turns returns a task's turns ordered by sequence number.
	Turns(taskID string) ([]Turn, error)
}

// Turn is the persisted record of one conversation turn. Screenshot
// bytes are stored alongside the text so a run can be replayed.
type Turn struct {
	TaskID      string    `json:"task_id"`
	Seq         int       `json:"seq"`
	Role        string    `json:"role"`
	Text        string    `json:"text,omitempty"`
	ActionKind  string    `json:"action_kind,omitempty"`
	Image       []byte    `json:"-"`
	ImageFormat string    `json:"image_format,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// Filter controls which tasks are returned by List.
type Filter struct {
	Status *Status `json:"status,omitempty"`
	Limit  int     `json:"limit,omitempty"`
	Offset int     `json:"offset,omitempty"`
}
