// Package mock provides a scripted executor for testing.
package mock

import (
	"context"
	"sync"

	"github.com/GoCodeAlone/pilot/action"
	"github.com/GoCodeAlone/pilot/executor"
)

// Step is one scripted result: an observation or an error.
type Step struct {
	Observation *executor.Observation
	Err         error
}

// MockExecutor implements executor.Executor for testing. It replays
// scripted steps in order and records every action it receives.
type MockExecutor struct {
	mu      sync.Mutex
	steps   []Step
	idx     int
	actions []action.Action
	closed  bool
}

// New creates a MockExecutor replaying the given steps. Once the script
// is exhausted it keeps returning a blank screenshot observation.
func New(steps ...Step) *MockExecutor {
	return &MockExecutor{steps: steps}
}

// Observe appends a scripted observation step.
func (m *MockExecutor) Observe(obs *executor.Observation) *MockExecutor {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.steps = append(m.steps, Step{Observation: obs})
	return m
}

// Fail appends a scripted error step.
func (m *MockExecutor) Fail(err error) *MockExecutor {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.steps = append(m.steps, Step{Err: err})
	return m
}

// Name returns the executor identifier.
func (m *MockExecutor) Name() string { return "mock" }

// Execute records the action and replays the next scripted step.
func (m *MockExecutor) Execute(_ context.Context, act action.Action) (*executor.Observation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.actions = append(m.actions, act)
	if m.idx >= len(m.steps) {
		return &executor.Observation{
			Image:     []byte{0x89, 'P', 'N', 'G'},
			Format:    "png",
			TokenCost: 1,
		}, nil
	}
	step := m.steps[m.idx]
	m.idx++
	if step.Err != nil {
		return nil, step.Err
	}
	return step.Observation, nil
}

// Close marks the executor closed.
func (m *MockExecutor) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// Closed reports whether Close was called.
func (m *MockExecutor) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// Actions returns a copy of the recorded actions.
func (m *MockExecutor) Actions() []action.Action {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]action.Action, len(m.actions))
	copy(out, m.actions)
	return out
}
