package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/GoCodeAlone/pilot/action"
	"github.com/GoCodeAlone/pilot/comms"
	"github.com/GoCodeAlone/pilot/executor"
	"github.com/GoCodeAlone/pilot/history"
	"github.com/GoCodeAlone/pilot/internal/clock"
	"github.com/GoCodeAlone/pilot/provider"
	"github.com/GoCodeAlone/pilot/task"
)

const (
	// DefaultMaxCycles bounds the model/executor loop per task.
	DefaultMaxCycles = 25

	// DefaultTokenBudget is the conversation window the history is
	// truncated to before each model call.
	DefaultTokenBudget = 150000

	defaultExecRetries = 2
	execRetryDelay     = 500 * time.Millisecond
)

// ActionSource resolves the next action for a conversation. Satisfied
// by *provider.Client.
type ActionSource interface {
	NextAction(ctx context.Context, req *provider.Request) (*provider.Response, error)
}

// Config wires a Runner's collaborators.
type Config struct {
	SystemPrompt string
	Model        string
	MaxTokens    int
	MaxCycles    int
	TokenBudget  int
	// ExecRetries is how many times a transient executor failure is
	// retried within one cycle before the run fails.
	ExecRetries int

	Source   ActionSource
	Executor executor.Executor
	Store    task.Store // optional
	Bus      comms.Bus  // optional
	Clock    clock.Clock
	Logger   *slog.Logger
	// Estimator prices turns for history truncation.
	Estimator history.Estimator
}

// Runner owns one task's run: the conversation history, the loop
// goroutine, and the state machine idle -> running -> terminal.
type Runner struct {
	mu     sync.RWMutex
	cfg    Config
	state  State
	task   *task.Task
	hist   *history.History
	cycles int

	cancel context.CancelFunc
	done   chan struct{}
}

// NewRunner creates a Runner in the idle state.
func NewRunner(cfg Config) *Runner {
	if cfg.MaxCycles <= 0 {
		cfg.MaxCycles = DefaultMaxCycles
	}
	if cfg.TokenBudget <= 0 {
		cfg.TokenBudget = DefaultTokenBudget
	}
	if cfg.ExecRetries < 0 {
		cfg.ExecRetries = 0
	} else if cfg.ExecRetries == 0 {
		cfg.ExecRetries = defaultExecRetries
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Estimator == nil {
		cfg.Estimator = provider.CharEstimator{}
	}
	return &Runner{cfg: cfg, state: StateIdle, done: make(chan struct{})}
}

// State returns the run's current state.
func (r *Runner) State() State {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.state
}

// Task returns the task being run, or nil before Start.
func (r *Runner) Task() *task.Task {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.task
}

// Cycles returns the number of completed loop iterations.
func (r *Runner) Cycles() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.cycles
}

// History exposes the conversation for inspection.
func (r *Runner) History() *history.History {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.hist
}

// Start validates the task and launches the loop goroutine. The task
// transitions to running; completion is observable via Wait and State.
func (r *Runner) Start(ctx context.Context, t *task.Task) error {
	if t == nil || strings.TrimSpace(t.Text) == "" {
		return &InvalidTaskError{Reason: "instruction text is empty"}
	}
	if r.cfg.Source == nil {
		return errors.New("runner: no action source configured")
	}
	if r.cfg.Executor == nil {
		return errors.New("runner: no executor configured")
	}

	r.mu.Lock()
	if r.state != StateIdle {
		r.mu.Unlock()
		return fmt.Errorf("runner already started (state=%s)", r.state)
	}
	ctx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.state = StateRunning
	r.task = t
	r.hist = history.New(t.Text, r.cfg.Estimator)
	r.mu.Unlock()

	now := time.Now().UTC()
	t.Status = task.StatusRunning
	t.StartedAt = &now
	r.updateStore(t)
	r.persistTurn(r.hist.Anchor())
	r.publish(ctx, &comms.Event{Type: comms.TypeTaskStarted, TaskID: t.ID})

	go r.loop(ctx)
	return nil
}

// Cancel requests the run stop at the next checkpoint. It returns
// immediately; Wait observes the cancelled state.
func (r *Runner) Cancel() {
	r.mu.Lock()
	cancel := r.cancel
	r.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Wait blocks until the run reaches a terminal state.
func (r *Runner) Wait() {
	<-r.done
}

// loop is the model/executor cycle. Cancellation is honored at two
// checkpoints: before the model call and before dispatching an action.
// Turns are appended only after the observation arrives, so a cancelled
// run never records an assistant turn without its observation.
func (r *Runner) loop(ctx context.Context) {
	for cycle := 1; ; cycle++ {
		if ctx.Err() != nil {
			r.finish(StateCancelled, "cancelled")
			return
		}
		if cycle > r.cfg.MaxCycles {
			r.finish(StateFailed, (&CycleLimitError{Limit: r.cfg.MaxCycles}).Error())
			return
		}

		r.hist.Truncate(r.cfg.TokenBudget)

		resp, err := r.cfg.Source.NextAction(ctx, &provider.Request{
			System:    r.cfg.SystemPrompt,
			Turns:     r.hist.ContextWindow(),
			Model:     r.cfg.Model,
			MaxTokens: r.cfg.MaxTokens,
		})
		if err != nil {
			if ctx.Err() != nil {
				r.finish(StateCancelled, "cancelled")
				return
			}
			r.finish(StateFailed, fmt.Sprintf("model call failed: %v", err))
			return
		}

		act := resp.Action
		r.logger().Debug("action chosen", "task", r.task.ID, "cycle", cycle, "action", act.String())
		r.publish(ctx, &comms.Event{
			Type: comms.TypeActionChosen, TaskID: r.task.ID, Cycle: cycle, Action: act.String(),
		})

		switch act.Kind {
		case action.KindFinish:
			r.recordFinalTurn(resp, act)
			if act.Success {
				r.finish(StateSucceeded, act.Message)
			} else {
				reason := act.Message
				if reason == "" {
					reason = "model reported failure"
				}
				r.finish(StateFailed, reason)
			}
			return
		case action.KindError:
			r.finish(StateFailed, "undecodable model action: "+act.Message)
			return
		}

		// Checkpoint: nothing has been dispatched or recorded yet, so
		// cancelling here leaves the history untouched.
		if ctx.Err() != nil {
			r.finish(StateCancelled, "cancelled")
			return
		}

		obs, err := r.execute(ctx, act)
		if err != nil {
			if ctx.Err() != nil {
				r.finish(StateCancelled, "cancelled")
				return
			}
			r.finish(StateFailed, fmt.Sprintf("action %s failed: %v", act.String(), err))
			return
		}

		r.publish(ctx, &comms.Event{
			Type: comms.TypeActionDone, TaskID: r.task.ID, Cycle: cycle, Action: act.String(),
		})

		if err := r.appendTurnPair(resp, act, obs); err != nil {
			r.finish(StateFailed, fmt.Sprintf("record turn: %v", err))
			return
		}
		r.publish(ctx, &comms.Event{
			Type: comms.TypeObservation, TaskID: r.task.ID, Cycle: cycle,
		})

		r.mu.Lock()
		r.cycles = cycle
		r.task.Cycles = cycle
		r.mu.Unlock()
		r.updateStore(r.task)
	}
}

// execute dispatches the action, retrying transient failures within
// the cycle.
func (r *Runner) execute(ctx context.Context, act action.Action) (*executor.Observation, error) {
	var lastErr error
	for attempt := 0; attempt <= r.cfg.ExecRetries; attempt++ {
		if attempt > 0 {
			r.logger().Debug("retrying action", "task", r.task.ID, "attempt", attempt+1, "error", lastErr)
			select {
			case <-r.cfg.Clock.After(execRetryDelay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
		obs, err := r.cfg.Executor.Execute(ctx, act)
		if err == nil {
			return obs, nil
		}
		var transient *executor.TransientError
		if !errors.As(err, &transient) {
			return nil, err
		}
		lastErr = err
	}
	return nil, fmt.Errorf("%d executor attempts exhausted: %w", r.cfg.ExecRetries+1, lastErr)
}

// appendTurnPair records the assistant turn and its observation as a
// unit: sequence numbers are reserved together and both turns are
// appended back to back.
func (r *Runner) appendTurnPair(resp *provider.Response, act action.Action, obs *executor.Observation) error {
	assistant := history.Turn{
		Seq:        r.hist.NextSeq(),
		Role:       history.RoleAssistant,
		Text:       resp.Text,
		ActionKind: string(act.Kind),
		CreatedAt:  time.Now().UTC(),
	}
	observation := history.Turn{
		Seq:       r.hist.NextSeq(),
		Role:      history.RoleObservation,
		Text:      obs.Text,
		CreatedAt: time.Now().UTC(),
	}
	if len(obs.Image) > 0 {
		observation.Image = &history.Image{
			Data:      obs.Image,
			Format:    obs.Format,
			TokenCost: obs.TokenCost,
		}
	}

	if err := r.hist.Append(assistant); err != nil {
		return err
	}
	if err := r.hist.Append(observation); err != nil {
		return err
	}
	r.persistTurn(assistant)
	r.persistTurn(observation)
	return nil
}

// recordFinalTurn keeps the model's closing message in the history and
// store so a replay shows how the run ended.
func (r *Runner) recordFinalTurn(resp *provider.Response, act action.Action) {
	final := history.Turn{
		Seq:        r.hist.NextSeq(),
		Role:       history.RoleAssistant,
		Text:       resp.Text,
		ActionKind: string(act.Kind),
		CreatedAt:  time.Now().UTC(),
	}
	if err := r.hist.Append(final); err != nil {
		r.logger().Warn("record final turn", "task", r.task.ID, "error", err)
		return
	}
	r.persistTurn(final)
}

// finish moves the run to a terminal state exactly once.
func (r *Runner) finish(state State, reason string) {
	r.mu.Lock()
	if r.state.Terminal() {
		r.mu.Unlock()
		return
	}
	r.state = state
	t := r.task
	cycles := r.cycles
	r.mu.Unlock()

	now := time.Now().UTC()
	t.Reason = reason
	t.Cycles = cycles
	t.FinishedAt = &now
	switch state {
	case StateSucceeded:
		t.Status = task.StatusSucceeded
	case StateCancelled:
		t.Status = task.StatusCancelled
	default:
		t.Status = task.StatusFailed
	}
	r.updateStore(t)

	eventType := comms.TypeTaskFailed
	switch state {
	case StateSucceeded:
		eventType = comms.TypeTaskSucceeded
	case StateCancelled:
		eventType = comms.TypeTaskCancelled
	}
	r.publish(context.Background(), &comms.Event{Type: eventType, TaskID: t.ID, Detail: reason})

	r.logger().Info("task finished",
		"task", t.ID, "state", string(state), "cycles", cycles, "reason", reason)
	close(r.done)
}

func (r *Runner) updateStore(t *task.Task) {
	if r.cfg.Store == nil {
		return
	}
	if err := r.cfg.Store.Update(t); err != nil {
		r.logger().Warn("update task", "task", t.ID, "error", err)
	}
}

func (r *Runner) persistTurn(turn history.Turn) {
	if r.cfg.Store == nil {
		return
	}
	rec := task.Turn{
		TaskID:     r.task.ID,
		Seq:        turn.Seq,
		Role:       string(turn.Role),
		Text:       turn.Text,
		ActionKind: turn.ActionKind,
		CreatedAt:  turn.CreatedAt,
	}
	if turn.Image != nil {
		rec.Image = turn.Image.Data
		rec.ImageFormat = turn.Image.Format
	}
	if err := r.cfg.Store.AppendTurn(r.task.ID, rec); err != nil {
		r.logger().Warn("persist turn", "task", r.task.ID, "seq", turn.Seq, "error", err)
	}
}

func (r *Runner) publish(ctx context.Context, ev *comms.Event) {
	if r.cfg.Bus == nil {
		return
	}
	if err := r.cfg.Bus.Publish(ctx, ev); err != nil {
		r.logger().Warn("publish event", "type", string(ev.Type), "error", err)
	}
}

func (r *Runner) logger() *slog.Logger { return r.cfg.Logger }
