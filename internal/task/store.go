package task

import "context"

// Store defines the interface for task state.
// It acts as a port in the hexagonal architecture pattern.
//
// Implementations must make every mutation atomic with respect to readers:
// a concurrent Get observes a task either before or after an Update, never
// a mix of both.
type Store interface {
	// Create registers a new task.
	// Returns ErrTaskExists if the ID is already present.
	Create(ctx context.Context, task *Task) error

	// Get retrieves a snapshot of a task by its unique identifier.
	// Returns ErrTaskNotFound if the task does not exist.
	Get(ctx context.Context, id string) (*Task, error)

	// Update applies fn to a copy of the stored task and commits the copy
	// only if fn returns nil. It returns a snapshot of the committed task.
	// Returns ErrTaskNotFound if the task does not exist.
	Update(ctx context.Context, id string, fn func(*Task) error) (*Task, error)

	// List returns snapshots of all tasks.
	List(ctx context.Context) ([]*Task, error)

	// Delete removes a task. Deleting a missing task is not an error.
	Delete(ctx context.Context, id string) error
}
