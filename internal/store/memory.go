// Package store — in-memory Store implementation.
// Used when DATABASE_URL is unset (local dev, tests).
package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/voicepilot/voicepilot/pkg/models"
)

// MemoryStore implements Store with in-memory maps.
type MemoryStore struct {
	mu        sync.RWMutex
	tasks     map[string]*models.Task
	approvals map[string]*models.Approval

	*signalRegistry
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		tasks:          make(map[string]*models.Task),
		approvals:      make(map[string]*models.Approval),
		signalRegistry: newSignalRegistry(),
	}
}

// ── Tasks ────────────────────────────────────────────────────

func (m *MemoryStore) SaveTask(ctx context.Context, task *models.Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	task.UpdatedAt = time.Now().UTC()
	cp := cloneTask(task)
	m.tasks[task.ID] = cp
	return nil
}

func (m *MemoryStore) GetTask(ctx context.Context, id string) (*models.Task, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	t, ok := m.tasks[id]
	if !ok {
		return nil, &ErrNotFound{Entity: "task", Key: id}
	}
	return cloneTask(t), nil
}

func (m *MemoryStore) ListTasks(ctx context.Context) ([]models.Task, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	tasks := make([]models.Task, 0, len(m.tasks))
	for _, t := range m.tasks {
		tasks = append(tasks, *cloneTask(t))
	}
	sort.Slice(tasks, func(i, j int) bool {
		return tasks[i].CreatedAt.After(tasks[j].CreatedAt)
	})
	return tasks, nil
}

// ── Approvals ────────────────────────────────────────────────

func (m *MemoryStore) SaveApproval(ctx context.Context, approval *models.Approval) error {
	m.mu.Lock()
	if _, exists := m.approvals[approval.ID]; !exists {
		cp := *approval
		m.approvals[approval.ID] = &cp
	}
	m.mu.Unlock()

	m.ensure(approval.ID)
	return nil
}

func (m *MemoryStore) GetApproval(ctx context.Context, id string) (*models.Approval, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	a, ok := m.approvals[id]
	if !ok {
		return nil, &ErrNotFound{Entity: "approval", Key: id}
	}
	cp := *a
	return &cp, nil
}

func (m *MemoryStore) ResolveApproval(ctx context.Context, id string) (bool, error) {
	m.mu.Lock()
	a, ok := m.approvals[id]
	if !ok || a.Approved {
		m.mu.Unlock()
		return false, nil
	}
	now := time.Now().UTC()
	a.Approved = true
	a.ResolvedAt = &now
	m.mu.Unlock()

	if s := m.get(id); s != nil {
		s.Fire()
	}
	return true, nil
}

func (m *MemoryStore) Signal(approvalID string) *Signal {
	return m.get(approvalID)
}

// ── Lifecycle ────────────────────────────────────────────────

func (m *MemoryStore) SweepInterrupted(ctx context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	swept := 0
	msg := "interrupted by restart"
	for _, t := range m.tasks {
		if t.Status == models.TaskRunning || t.Status == models.TaskPausedForApproval {
			t.Status = models.TaskFailed
			t.Error = &msg
			t.PendingApprovalID = nil
			t.UpdatedAt = time.Now().UTC()
			swept++
		}
	}
	return swept, nil
}

func (m *MemoryStore) Ping(ctx context.Context) error { return nil }

func (m *MemoryStore) Close() error { return nil }

// cloneTask deep-copies the mutable parts so callers cannot alias
// state still owned by a running executor.
func cloneTask(t *models.Task) *models.Task {
	cp := *t
	if t.Results != nil {
		cp.Results = make([]models.StepResult, len(t.Results))
		copy(cp.Results, t.Results)
	}
	if t.Plan != nil {
		plan := *t.Plan
		plan.Steps = make([]models.PlanStep, len(t.Plan.Steps))
		copy(plan.Steps, t.Plan.Steps)
		cp.Plan = &plan
	}
	return &cp
}
