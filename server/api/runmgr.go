package api

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/GoCodeAlone/pilot/agent"
	"github.com/GoCodeAlone/pilot/comms"
	"github.com/GoCodeAlone/pilot/executor"
	"github.com/GoCodeAlone/pilot/task"
)

// ExecutorFactory builds a fresh executor for each run.
type ExecutorFactory func() (executor.Executor, error)

// Manager starts and tracks one Runner per task. The model client and
// its caches are shared across runs; each run gets its own executor.
type Manager struct {
	mu      sync.RWMutex
	runners map[string]*agent.Runner

	agentCfg agent.Config
	newExec  ExecutorFactory
	store    task.Store
	bus      comms.Bus
	logger   *slog.Logger
}

// NewManager creates a Manager. agentCfg carries the shared action
// source and loop tuning; its Executor field is ignored in favor of
// the per-run factory.
func NewManager(agentCfg agent.Config, newExec ExecutorFactory, store task.Store, bus comms.Bus, logger *slog.Logger) *Manager {
	if store == nil {
		store = NewMemStore()
	}
	if logger == nil {
		logger = slog.Default()
	}
	agentCfg.Store = store
	agentCfg.Bus = bus
	return &Manager{
		runners:  make(map[string]*agent.Runner),
		agentCfg: agentCfg,
		newExec:  newExec,
		store:    store,
		bus:      bus,
		logger:   logger,
	}
}

// Store returns the task store runs persist into.
func (m *Manager) Store() task.Store { return m.store }

// Submit creates a task and starts its run.
func (m *Manager) Submit(text string, metadata map[string]string) (*task.Task, error) {
	if strings.TrimSpace(text) == "" {
		return nil, &agent.InvalidTaskError{Reason: "instruction text is empty"}
	}

	t := &task.Task{Text: text, Metadata: metadata}
	if _, err := m.store.Create(t); err != nil {
		return nil, fmt.Errorf("create task: %w", err)
	}

	exec, err := m.newExec()
	if err != nil {
		m.failTask(t, fmt.Sprintf("build executor: %v", err))
		return nil, fmt.Errorf("build executor: %w", err)
	}

	cfg := m.agentCfg
	cfg.Executor = exec
	runner := agent.NewRunner(cfg)

	if err := runner.Start(context.Background(), t); err != nil {
		_ = exec.Close()
		m.failTask(t, err.Error())
		return nil, err
	}

	m.mu.Lock()
	m.runners[t.ID] = runner
	m.mu.Unlock()

	go func() {
		runner.Wait()
		_ = exec.Close()
		m.logger.Info("run finished", slog.String("task", t.ID), slog.String("state", string(runner.State())))
	}()

	return t, nil
}

// Cancel requests the run for the given task stop. Cancelling a task
// with no live run fails unless the task is already terminal.
func (m *Manager) Cancel(id string) error {
	m.mu.RLock()
	runner, ok := m.runners[id]
	m.mu.RUnlock()
	if !ok {
		return fmt.Errorf("task %s has no run", id)
	}
	if runner.State().Terminal() {
		return fmt.Errorf("task %s already finished", id)
	}
	runner.Cancel()
	return nil
}

// Running reports whether the task has a live, non-terminal run.
func (m *Manager) Running(id string) bool {
	m.mu.RLock()
	runner, ok := m.runners[id]
	m.mu.RUnlock()
	return ok && !runner.State().Terminal()
}

// Prune drops finished runners from the tracking map and returns how
// many were removed. The task records themselves stay in the store.
func (m *Manager) Prune() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for id, runner := range m.runners {
		if runner.State().Terminal() {
			delete(m.runners, id)
			n++
		}
	}
	return n
}

func (m *Manager) failTask(t *task.Task, reason string) {
	now := time.Now().UTC()
	t.Status = task.StatusFailed
	t.Reason = reason
	t.FinishedAt = &now
	if err := m.store.Update(t); err != nil {
		m.logger.Warn("mark task failed", slog.String("task", t.ID), slog.Any("err", err))
	}
}

// --- in-memory task store (fallback when SQLite is unavailable) ---

// MemStore is a task.Store kept entirely in memory, used by tests and
// as a fallback when no data directory is configured.
type MemStore struct {
	mu    sync.RWMutex
	tasks map[string]*task.Task
	turns map[string][]task.Turn
	seq   int
}

// NewMemStore creates an empty MemStore.
func NewMemStore() *MemStore {
	return &MemStore{
		tasks: make(map[string]*task.Task),
		turns: make(map[string][]task.Turn),
	}
}

func (s *MemStore) Create(t *task.Task) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	if t.ID == "" {
		t.ID = fmt.Sprintf("t-%d", s.seq)
	}
	now := time.Now().UTC()
	t.CreatedAt = now
	t.UpdatedAt = now
	if t.Status == "" {
		t.Status = task.StatusPending
	}
	cp := *t
	s.tasks[t.ID] = &cp
	return t.ID, nil
}

func (s *MemStore) Get(id string) (*task.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tasks[id]
	if !ok {
		return nil, fmt.Errorf("task %s not found", id)
	}
	cp := *t
	return &cp, nil
}

func (s *MemStore) Update(t *task.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tasks[t.ID]; !ok {
		return fmt.Errorf("task %s not found", t.ID)
	}
	t.UpdatedAt = time.Now().UTC()
	cp := *t
	s.tasks[t.ID] = &cp
	return nil
}

func (s *MemStore) List(filter task.Filter) ([]*task.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var result []*task.Task
	for _, t := range s.tasks {
		if filter.Status != nil && t.Status != *filter.Status {
			continue
		}
		cp := *t
		result = append(result, &cp)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	if filter.Offset > 0 {
		if filter.Offset >= len(result) {
			return nil, nil
		}
		result = result[filter.Offset:]
	}
	if filter.Limit > 0 && len(result) > filter.Limit {
		result = result[:filter.Limit]
	}
	return result, nil
}

func (s *MemStore) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tasks[id]; !ok {
		return fmt.Errorf("task %s not found", id)
	}
	delete(s.tasks, id)
	delete(s.turns, id)
	return nil
}

func (s *MemStore) AppendTurn(taskID string, turn task.Turn) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	turn.TaskID = taskID
	if turn.CreatedAt.IsZero() {
		turn.CreatedAt = time.Now().UTC()
	}
	for _, existing := range s.turns[taskID] {
		if existing.Seq == turn.Seq {
			return fmt.Errorf("turn %d already recorded for task %s", turn.Seq, taskID)
		}
	}
	s.turns[taskID] = append(s.turns[taskID], turn)
	return nil
}

func (s *MemStore) Turns(taskID string) ([]task.Turn, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	turns := make([]task.Turn, len(s.turns[taskID]))
	copy(turns, s.turns[taskID])
	sort.Slice(turns, func(i, j int) bool { return turns[i].Seq < turns[j].Seq })
	return turns, nil
}
