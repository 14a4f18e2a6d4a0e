package tasks

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is an in-memory Store for tests and ephemeral runs.
type MemoryStore struct {
	mu    sync.RWMutex
	tasks map[string]*ScheduledTask
	order []string
	now   func() time.Time
}

// NewMemoryStore creates an empty in-memory task store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		tasks: make(map[string]*ScheduledTask),
		now:   time.Now,
	}
}

func (s *MemoryStore) Create(_ context.Context, task *ScheduledTask) error {
	if task == nil {
		return fmt.Errorf("%w: nil task", ErrInvalidTrigger)
	}

	now := s.now()
	if err := task.Trigger.Validate(now); err != nil {
		return err
	}
	next, _, err := task.Trigger.Next(now)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if task.ID == "" {
		task.ID = uuid.NewString()
	}
	task.Status = StatusPending
	task.NextRun = next
	task.CreatedAt = now
	task.UpdatedAt = now

	s.tasks[task.ID] = cloneTask(task)
	s.order = append(s.order, task.ID)
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (*ScheduledTask, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	task, ok := s.tasks[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return cloneTask(task), nil
}

func (s *MemoryStore) List(_ context.Context, sessionID string) ([]*ScheduledTask, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*ScheduledTask
	for _, id := range s.order {
		task := s.tasks[id]
		if task.SessionID == sessionID {
			out = append(out, cloneTask(task))
		}
	}
	return out, nil
}

func (s *MemoryStore) Cancel(_ context.Context, sessionID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	task, ok := s.tasks[id]
	if !ok || task.SessionID != sessionID {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if task.Terminal() {
		return fmt.Errorf("%w: %s is %s", ErrAlreadyTerminal, id, task.Status)
	}

	task.Status = StatusCanceled
	task.UpdatedAt = s.now()
	return nil
}

func (s *MemoryStore) Due(_ context.Context, now time.Time) ([]*ScheduledTask, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*ScheduledTask
	for _, id := range s.order {
		task := s.tasks[id]
		if task.Status == StatusPending && !task.NextRun.After(now) {
			out = append(out, cloneTask(task))
		}
	}
	return out, nil
}

func (s *MemoryStore) MarkFired(_ context.Context, id string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	task, ok := s.tasks[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if task.Status != StatusPending {
		return fmt.Errorf("%w: %s is %s", ErrAlreadyTerminal, id, task.Status)
	}

	task.LastRun = now
	task.FiredCount++
	task.UpdatedAt = now

	if task.Trigger.Recurring() {
		next, _, err := task.Trigger.Next(now)
		if err != nil {
			return err
		}
		task.NextRun = next
	} else {
		task.Status = StatusFired
	}
	return nil
}

func cloneTask(t *ScheduledTask) *ScheduledTask {
	c := *t
	return &c
}
