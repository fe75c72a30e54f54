package agent

import (
	"context"
	"errors"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/GoCodeAlone/pilot/action"
	"github.com/GoCodeAlone/pilot/comms"
	"github.com/GoCodeAlone/pilot/executor"
	execmock "github.com/GoCodeAlone/pilot/executor/mock"
	"github.com/GoCodeAlone/pilot/provider"
	provmock "github.com/GoCodeAlone/pilot/provider/mock"
	"github.com/GoCodeAlone/pilot/task"
)

func screenshotResponse() *provider.Response {
	return &provider.Response{
		ToolUse: &provider.ToolUse{
			Name:  action.ToolComputer,
			Input: map[string]any{"action": "screenshot"},
		},
	}
}

func clickResponse(x, y int) *provider.Response {
	return &provider.Response{
		Text: "clicking the button",
		ToolUse: &provider.ToolUse{
			Name:  action.ToolComputer,
			Input: map[string]any{"action": "left_click", "coordinate": []any{x, y}},
		},
	}
}

func finishResponse(success bool, msg string) *provider.Response {
	input := map[string]any{"success": success}
	if msg != "" {
		input["error"] = msg
	}
	return &provider.Response{
		ToolUse: &provider.ToolUse{Name: action.ToolFinish, Input: input},
	}
}

// newTestSource wraps a scripted provider in the resilience client so
// responses carry decoded actions, as in production wiring.
func newTestSource(steps ...provmock.Step) (*provider.Client, *provmock.MockProvider) {
	p := provmock.New(steps...)
	cfg := provider.ClientConfig{
		MaxAttempts: 2,
		Backoff:     provider.BackoffConfig{Base: time.Millisecond, Max: 2 * time.Millisecond, JitterFactor: 0.25},
	}
	return provider.NewClient(p, cfg), p
}

func newTestStore(t *testing.T) *task.SQLiteStore {
	t.Helper()
	f, err := os.CreateTemp("", "pilot-agent-*.db")
	if err != nil {
		t.Fatalf("create temp file: %v", err)
	}
	f.Close()
	path := f.Name()
	t.Cleanup(func() { os.Remove(path) })

	store, err := task.NewSQLiteStore(path)
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func createTask(t *testing.T, store *task.SQLiteStore, text string) *task.Task {
	t.Helper()
	tk := &task.Task{Text: text}
	if _, err := store.Create(tk); err != nil {
		t.Fatalf("Create: %v", err)
	}
	return tk
}

func waitDone(t *testing.T, r *Runner) {
	t.Helper()
	done := make(chan struct{})
	go func() { r.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("runner did not finish in time")
	}
}

func TestRunnerSucceedsOnFinish(t *testing.T) {
	store := newTestStore(t)
	source, _ := newTestSource(
		provmock.Step{Response: screenshotResponse()},
		provmock.Step{Response: finishResponse(true, "")},
	)
	exec := execmock.New()

	r := NewRunner(Config{
		SystemPrompt: "drive the desktop",
		Source:       source,
		Executor:     exec,
		Store:        store,
	})
	tk := createTask(t, store, "take a screenshot")
	if err := r.Start(context.Background(), tk); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitDone(t, r)

	if r.State() != StateSucceeded {
		t.Errorf("State = %q, want succeeded", r.State())
	}
	got, err := store.Get(tk.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Status != task.StatusSucceeded {
		t.Errorf("stored status = %q, want succeeded", got.Status)
	}
	if got.Cycles != 1 {
		t.Errorf("stored cycles = %d, want 1", got.Cycles)
	}

	// anchor + assistant/observation pair + final assistant turn
	turns, err := store.Turns(tk.ID)
	if err != nil {
		t.Fatalf("Turns: %v", err)
	}
	if len(turns) != 4 {
		t.Fatalf("persisted turns = %d, want 4", len(turns))
	}
	if turns[1].Role != "assistant" || turns[2].Role != "observation" {
		t.Errorf("turn pair roles = %q/%q, want assistant/observation", turns[1].Role, turns[2].Role)
	}
	if turns[2].ImageFormat != "png" {
		t.Errorf("observation image format = %q, want png", turns[2].ImageFormat)
	}
}

func TestRunnerFailsOnModelFailureReport(t *testing.T) {
	source, _ := newTestSource(
		provmock.Step{Response: finishResponse(false, "login page unreachable")},
	)
	r := NewRunner(Config{Source: source, Executor: execmock.New()})
	if err := r.Start(context.Background(), &task.Task{ID: "t1", Text: "log in"}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitDone(t, r)

	if r.State() != StateFailed {
		t.Errorf("State = %q, want failed", r.State())
	}
	if r.Task().Reason != "login page unreachable" {
		t.Errorf("Reason = %q, want model's error message", r.Task().Reason)
	}
}

func TestRunnerCycleLimit(t *testing.T) {
	// The model never calls finish; the loop must stop on its own.
	source, p := newTestSource(provmock.Step{Response: screenshotResponse()})
	exec := execmock.New()

	r := NewRunner(Config{Source: source, Executor: exec, MaxCycles: 3})
	if err := r.Start(context.Background(), &task.Task{ID: "t1", Text: "loop forever"}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitDone(t, r)

	if r.State() != StateFailed {
		t.Errorf("State = %q, want failed", r.State())
	}
	if !strings.Contains(r.Task().Reason, "cycle limit") {
		t.Errorf("Reason = %q, want cycle limit mention", r.Task().Reason)
	}
	if p.Calls() != 3 {
		t.Errorf("model calls = %d, want exactly 3", p.Calls())
	}
	if got := len(exec.Actions()); got != 3 {
		t.Errorf("executed actions = %d, want 3", got)
	}
	if r.Cycles() != 3 {
		t.Errorf("Cycles() = %d, want 3", r.Cycles())
	}
}

// blockingExecutor signals when Execute begins, then blocks until the
// context is cancelled.
type blockingExecutor struct {
	started chan struct{}
	once    sync.Once
}

func (b *blockingExecutor) Name() string { return "blocking" }

func (b *blockingExecutor) Execute(ctx context.Context, _ action.Action) (*executor.Observation, error) {
	b.once.Do(func() { close(b.started) })
	<-ctx.Done()
	return nil, ctx.Err()
}

func (b *blockingExecutor) Close() error { return nil }

func TestRunnerCancelMidStepLeavesNoDanglingPair(t *testing.T) {
	store := newTestStore(t)
	source, _ := newTestSource(provmock.Step{Response: clickResponse(10, 20)})
	exec := &blockingExecutor{started: make(chan struct{})}

	r := NewRunner(Config{Source: source, Executor: exec, Store: store})
	tk := createTask(t, store, "click something")
	if err := r.Start(context.Background(), tk); err != nil {
		t.Fatalf("Start: %v", err)
	}

	// Cancel while the action is in flight, after dispatch and before
	// any observation can arrive.
	<-exec.started
	r.Cancel()
	waitDone(t, r)

	if r.State() != StateCancelled {
		t.Errorf("State = %q, want cancelled", r.State())
	}
	turns, err := store.Turns(tk.ID)
	if err != nil {
		t.Fatalf("Turns: %v", err)
	}
	if len(turns) != 1 {
		t.Fatalf("persisted turns = %d, want 1 (anchor only, no dangling pair)", len(turns))
	}
	if r.History().Len() != 1 {
		t.Errorf("history length = %d, want 1", r.History().Len())
	}
}

func TestRunnerFatalExecutorError(t *testing.T) {
	source, _ := newTestSource(provmock.Step{Response: clickResponse(1, 2)})
	exec := execmock.New(execmock.Step{Err: &executor.FatalError{Reason: "browser crashed"}})

	r := NewRunner(Config{Source: source, Executor: exec})
	if err := r.Start(context.Background(), &task.Task{ID: "t1", Text: "click"}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitDone(t, r)

	if r.State() != StateFailed {
		t.Errorf("State = %q, want failed", r.State())
	}
	if !strings.Contains(r.Task().Reason, "browser crashed") {
		t.Errorf("Reason = %q, want executor failure detail", r.Task().Reason)
	}
}

func TestRunnerRetriesTransientExecutorError(t *testing.T) {
	source, _ := newTestSource(
		provmock.Step{Response: screenshotResponse()},
		provmock.Step{Response: finishResponse(true, "")},
	)
	exec := execmock.New(
		execmock.Step{Err: &executor.TransientError{Reason: "page still loading"}},
	)

	r := NewRunner(Config{Source: source, Executor: exec, ExecRetries: 2})
	if err := r.Start(context.Background(), &task.Task{ID: "t1", Text: "screenshot"}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitDone(t, r)

	if r.State() != StateSucceeded {
		t.Errorf("State = %q, want succeeded after transient retry", r.State())
	}
	if got := len(exec.Actions()); got != 2 {
		t.Errorf("executor attempts = %d, want 2 (failure then retry)", got)
	}
}

func TestRunnerRejectsInvalidTask(t *testing.T) {
	source, _ := newTestSource()
	r := NewRunner(Config{Source: source, Executor: execmock.New()})

	err := r.Start(context.Background(), &task.Task{ID: "t1", Text: "   "})
	var invalid *InvalidTaskError
	if !errors.As(err, &invalid) {
		t.Fatalf("Start error = %v, want InvalidTaskError", err)
	}
	if r.State() != StateIdle {
		t.Errorf("State = %q, want idle after rejected start", r.State())
	}
}

func TestRunnerRejectsDoubleStart(t *testing.T) {
	source, _ := newTestSource(provmock.Step{Response: finishResponse(true, "")})
	r := NewRunner(Config{Source: source, Executor: execmock.New()})

	if err := r.Start(context.Background(), &task.Task{ID: "t1", Text: "once"}); err != nil {
		t.Fatalf("first Start: %v", err)
	}
	if err := r.Start(context.Background(), &task.Task{ID: "t2", Text: "twice"}); err == nil {
		t.Error("second Start error = nil, want already-started error")
	}
	waitDone(t, r)
}

func TestRunnerPublishesLifecycleEvents(t *testing.T) {
	bus := comms.NewInMemoryBus()
	source, _ := newTestSource(
		provmock.Step{Response: screenshotResponse()},
		provmock.Step{Response: finishResponse(true, "done")},
	)

	r := NewRunner(Config{Source: source, Executor: execmock.New(), Bus: bus})
	if err := r.Start(context.Background(), &task.Task{ID: "t1", Text: "screenshot"}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitDone(t, r)

	events, err := bus.History("t1", 0)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	var types []comms.EventType
	for _, ev := range events {
		types = append(types, ev.Type)
	}
	want := []comms.EventType{
		comms.TypeTaskStarted,
		comms.TypeActionChosen,
		comms.TypeActionDone,
		comms.TypeObservation,
		comms.TypeActionChosen,
		comms.TypeTaskSucceeded,
	}
	if len(types) != len(want) {
		t.Fatalf("event types = %v, want %v", types, want)
	}
	for i := range want {
		if types[i] != want[i] {
			t.Errorf("event[%d] = %q, want %q", i, types[i], want[i])
		}
	}
}
