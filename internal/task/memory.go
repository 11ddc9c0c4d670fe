package task

import (
	"context"
	"sync"
)

// Compile-time check that MemoryStore implements Store.
var _ Store = (*MemoryStore)(nil)

// MemoryStore is an in-memory implementation of Store.
// It uses a map with RWMutex for thread-safe access; all mutations are
// serialized by the write lock. State does not survive a restart.
type MemoryStore struct {
	mu    sync.RWMutex
	tasks map[string]*Task
}

// NewMemoryStore creates a new in-memory task store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		tasks: make(map[string]*Task),
	}
}

// Create stores a clone of task.
func (s *MemoryStore) Create(_ context.Context, task *Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tasks[task.ID]; ok {
		return ErrTaskExists
	}
	s.tasks[task.ID] = task.Clone()
	return nil
}

// Get retrieves a task by its ID.
// Returns a clone to prevent external mutations.
func (s *MemoryStore) Get(_ context.Context, id string) (*Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	task, ok := s.tasks[id]
	if !ok {
		return nil, ErrTaskNotFound
	}
	return task.Clone(), nil
}

// Update mutates a clone under the write lock and swaps it in on success,
// so readers never see a half-applied change.
func (s *MemoryStore) Update(_ context.Context, id string, fn func(*Task) error) (*Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.tasks[id]
	if !ok {
		return nil, ErrTaskNotFound
	}
	next := current.Clone()
	if err := fn(next); err != nil {
		return nil, err
	}
	s.tasks[id] = next
	return next.Clone(), nil
}

// List returns all tasks in the store.
// Returns clones to prevent external mutations.
func (s *MemoryStore) List(_ context.Context) ([]*Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make([]*Task, 0, len(s.tasks))
	for _, task := range s.tasks {
		result = append(result, task.Clone())
	}
	return result, nil
}

// Delete removes a task from the store. Missing IDs are ignored.
func (s *MemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tasks, id)
	return nil
}
