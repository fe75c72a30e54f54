package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/GoCodeAlone/pilot/action"
	"github.com/GoCodeAlone/pilot/agent"
	"github.com/GoCodeAlone/pilot/comms"
	"github.com/GoCodeAlone/pilot/executor"
	execmock "github.com/GoCodeAlone/pilot/executor/mock"
	"github.com/GoCodeAlone/pilot/internal/clock"
	"github.com/GoCodeAlone/pilot/provider"
	"github.com/GoCodeAlone/pilot/task"
)

// stubSource returns the same decoded action every call.
type stubSource struct {
	act action.Action
}

func (s *stubSource) NextAction(_ context.Context, _ *provider.Request) (*provider.Response, error) {
	return &provider.Response{Action: s.act}, nil
}

func newTestManager(t *testing.T, src agent.ActionSource) (*Manager, *MemStore) {
	t.Helper()
	store := NewMemStore()
	cfg := agent.Config{
		SystemPrompt: "drive the computer",
		MaxCycles:    5,
		Source:       src,
		Clock:        clock.Real(),
		Logger:       slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	mgr := NewManager(cfg, func() (executor.Executor, error) { return execmock.New(), nil }, store, comms.NewInMemoryBus(), cfg.Logger)
	return mgr, store
}

func waitTerminal(t *testing.T, store task.Store, id string) *task.Task {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		got, err := store.Get(id)
		if err != nil {
			t.Fatalf("get task: %v", err)
		}
		if got.Status.Terminal() {
			return got
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("task never reached a terminal state")
	return nil
}

func TestManagerSubmitRunsToCompletion(t *testing.T) {
	src := &stubSource{act: action.Action{Kind: action.KindFinish, Success: true}}
	mgr, store := newTestManager(t, src)

	created, err := mgr.Submit("log into the dashboard", map[string]string{"origin": "test"})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if created.ID == "" {
		t.Fatal("expected assigned task ID")
	}

	got := waitTerminal(t, store, created.ID)
	if got.Status != task.StatusSucceeded {
		t.Errorf("expected succeeded, got %s (%s)", got.Status, got.Reason)
	}
}

func TestManagerSubmitRejectsEmptyText(t *testing.T) {
	mgr, _ := newTestManager(t, &stubSource{act: action.Action{Kind: action.KindFinish, Success: true}})

	_, err := mgr.Submit("   ", nil)
	var invalid *agent.InvalidTaskError
	if !errors.As(err, &invalid) {
		t.Fatalf("expected InvalidTaskError, got %v", err)
	}
}

func TestManagerSubmitExecutorFailureMarksTaskFailed(t *testing.T) {
	store := NewMemStore()
	cfg := agent.Config{
		Source: &stubSource{act: action.Action{Kind: action.KindFinish, Success: true}},
		Clock:  clock.Real(),
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	mgr := NewManager(cfg, func() (executor.Executor, error) {
		return nil, fmt.Errorf("docker daemon unreachable")
	}, store, comms.NewInMemoryBus(), cfg.Logger)

	if _, err := mgr.Submit("open the settings page", nil); err == nil {
		t.Fatal("expected submit error")
	}

	tasks, err := store.List(task.Filter{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(tasks) != 1 || tasks[0].Status != task.StatusFailed {
		t.Fatalf("expected one failed task, got %+v", tasks)
	}
}

func TestManagerCancelUnknownTask(t *testing.T) {
	mgr, _ := newTestManager(t, &stubSource{act: action.Action{Kind: action.KindFinish, Success: true}})
	if err := mgr.Cancel("no-such-task"); err == nil {
		t.Fatal("expected error cancelling unknown task")
	}
}

func TestManagerPruneDropsFinishedRuns(t *testing.T) {
	src := &stubSource{act: action.Action{Kind: action.KindFinish, Success: true}}
	mgr, store := newTestManager(t, src)

	created, err := mgr.Submit("check the inbox", nil)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	waitTerminal(t, store, created.ID)

	if n := mgr.Prune(); n != 1 {
		t.Errorf("Prune() = %d, want 1", n)
	}
	if mgr.Running(created.ID) {
		t.Error("task should not be running after prune")
	}
}

func TestMemStoreListNewestFirst(t *testing.T) {
	store := NewMemStore()
	for i := 0; i < 3; i++ {
		if _, err := store.Create(&task.Task{Text: fmt.Sprintf("task %d", i)}); err != nil {
			t.Fatalf("create: %v", err)
		}
		time.Sleep(time.Millisecond)
	}

	tasks, err := store.List(task.Filter{Limit: 2})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(tasks) != 2 {
		t.Fatalf("expected 2 tasks, got %d", len(tasks))
	}
	if !tasks[0].CreatedAt.After(tasks[1].CreatedAt) {
		t.Error("expected newest-first ordering")
	}
}
