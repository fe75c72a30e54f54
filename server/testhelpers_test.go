package server

import (
	"context"
	"io"
	"log/slog"

	"github.com/GoCodeAlone/pilot/comms"
	"github.com/GoCodeAlone/pilot/task"
)

// noopRunnerManager satisfies api.RunnerManager for tests.
type noopRunnerManager struct{}

func (n *noopRunnerManager) Submit(text string, _ map[string]string) (*task.Task, error) {
	return &task.Task{ID: "test-id", Text: text, Status: task.StatusRunning}, nil
}
func (n *noopRunnerManager) Cancel(_ string) error { return nil }
func (n *noopRunnerManager) Running(_ string) bool { return false }

// noopTaskStore satisfies task.Store for tests.
type noopTaskStore struct{}

func (n *noopTaskStore) Create(_ *task.Task) (string, error)      { return "test-id", nil }
func (n *noopTaskStore) Get(_ string) (*task.Task, error)         { return &task.Task{ID: "test-id"}, nil }
func (n *noopTaskStore) Update(_ *task.Task) error                { return nil }
func (n *noopTaskStore) List(_ task.Filter) ([]*task.Task, error) { return nil, nil }
func (n *noopTaskStore) Delete(_ string) error                    { return nil }
func (n *noopTaskStore) AppendTurn(_ string, _ task.Turn) error   { return nil }
func (n *noopTaskStore) Turns(_ string) ([]task.Turn, error)      { return nil, nil }

// noopBus satisfies comms.Bus for tests.
type noopBus struct{}

func (n *noopBus) Publish(_ context.Context, _ *comms.Event) error          { return nil }
func (n *noopBus) Subscribe(_ string, _ comms.Handler) (unsubscribe func()) { return func() {} }
func (n *noopBus) History(_ string, _ int) ([]*comms.Event, error)          { return nil, nil }

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
