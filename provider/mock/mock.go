// Package mock provides a scripted AI provider for testing.
package mock

import (
	"context"
	"sync"

	"github.com/GoCodeAlone/pilot/provider"
)

// Step is one scripted reply: either a response or an error.
type Step struct {
	Response *provider.Response
	Err      error
}

// MockProvider implements provider.Provider for testing.
// It replays scripted steps in order and records every request it sees.
type MockProvider struct {
	mu       sync.Mutex
	steps    []Step
	idx      int
	requests []*provider.Request
}

// New creates a MockProvider that replays the given steps in order.
// Once the script is exhausted it keeps returning the final step.
func New(steps ...Step) *MockProvider {
	return &MockProvider{steps: steps}
}

// Respond appends a scripted response step.
func (m *MockProvider) Respond(resp *provider.Response) *MockProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.steps = append(m.steps, Step{Response: resp})
	return m
}

// Fail appends a scripted error step.
func (m *MockProvider) Fail(err error) *MockProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.steps = append(m.steps, Step{Err: err})
	return m
}

// Name returns the provider identifier.
func (m *MockProvider) Name() string { return "mock" }

// NextAction replays the next scripted step and records the request.
func (m *MockProvider) NextAction(_ context.Context, req *provider.Request) (*provider.Response, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.requests = append(m.requests, req)
	if len(m.steps) == 0 {
		return &provider.Response{
			ToolUse: &provider.ToolUse{
				Name:  "finish_run",
				Input: map[string]any{"success": true},
			},
		}, nil
	}
	step := m.steps[m.idx]
	if m.idx < len(m.steps)-1 {
		m.idx++
	}
	if step.Err != nil {
		return nil, step.Err
	}
	return step.Response, nil
}

// Calls reports how many requests the provider has served.
func (m *MockProvider) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requests)
}

// Requests returns a copy of the recorded requests.
func (m *MockProvider) Requests() []*provider.Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*provider.Request, len(m.requests))
	copy(out, m.requests)
	return out
}
