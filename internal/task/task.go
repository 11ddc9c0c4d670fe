// Package task provides the Task aggregate for audio split jobs, its
// lifecycle state machine, the store that serializes transitions, and the
// service that accepts submissions and releases artifacts.
package task

import (
	"maps"
	"slices"
	"time"

	"github.com/maauso/audiosplit-api/internal/task/id"
)

// Status represents the current state of a Task.
type Status string

const (
	// StatusPending indicates the task is waiting for a worker.
	StatusPending Status = "pending"
	// StatusProcessing indicates the task is being split.
	StatusProcessing Status = "processing"
	// StatusCompleted indicates every window was written.
	StatusCompleted Status = "completed"
	// StatusFailed indicates the task stopped with an error.
	StatusFailed Status = "failed"
)

// IsTerminal returns true if no further state transitions are possible.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// validTransitions defines which state transitions are allowed.
// A pending task may fail directly when it is cancelled or times out
// before a worker picks it up.
var validTransitions = map[Status][]Status{
	StatusPending:    {StatusProcessing, StatusFailed},
	StatusProcessing: {StatusCompleted, StatusFailed},
	StatusCompleted:  {},
	StatusFailed:     {},
}

// canTransition checks if a transition from one status to another is valid.
func canTransition(from, to Status) bool {
	return slices.Contains(validTransitions[from], to)
}

// Params are the windowing parameters a task was submitted with.
type Params struct {
	// MaxChunkMs is the maximum length of a chunk in milliseconds.
	MaxChunkMs int64
	// OverlapMs is how much consecutive chunks share, in milliseconds.
	OverlapMs int64
}

// Task represents one submitted split job.
//
// A Task value is owned by whoever holds it; shared state lives in a Store,
// which hands out clones and applies mutations atomically.
type Task struct {
	// ID is the unique identifier for this task.
	ID string
	// Status is the current lifecycle state.
	Status Status
	// Files lists the artifact names in sequence order. Set only on completion.
	Files []string
	// ArtifactURLs maps artifact names to their mirrored object URLs, when mirroring is enabled.
	ArtifactURLs map[string]string
	// ScratchDir is the task's private directory.
	ScratchDir string
	// InputPath is the uploaded file inside ScratchDir. Removed once processing ends.
	InputPath string
	// OriginalFilename is the file name supplied by the client.
	OriginalFilename string
	// Extension is the lowercased extension of OriginalFilename, with its dot.
	Extension string
	// Params holds the windowing parameters.
	Params Params
	// Error contains a human-readable message if the task failed.
	Error string
	// ErrorKind classifies Error.
	ErrorKind ErrorKind
	// CreatedAt is when the task was submitted.
	CreatedAt time.Time
	// UpdatedAt is when the task was last changed.
	UpdatedAt time.Time
	// StartedAt is when processing started.
	StartedAt time.Time
	// CompletedAt is when the task reached a terminal state.
	CompletedAt time.Time
	// LastAccessedAt is when an artifact was last served.
	LastAccessedAt time.Time
}

// New creates a new Task with a generated ID and initial pending status.
func New() *Task {
	return NewWithID(id.Generate())
}

// NewWithID creates a new pending Task with the specified ID.
// Useful for testing or when ID needs to be externally generated.
func NewWithID(taskID string) *Task {
	now := time.Now()
	return &Task{
		ID:        taskID,
		Status:    StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// TransitionTo attempts to change the task status to the specified state.
// Returns ErrInvalidTransition if the transition is not allowed.
func (t *Task) TransitionTo(status Status) error {
	if !canTransition(t.Status, status) {
		return ErrInvalidTransition
	}

	t.Status = status
	t.UpdatedAt = time.Now()

	switch status {
	case StatusProcessing:
		t.StartedAt = t.UpdatedAt
	case StatusCompleted, StatusFailed:
		t.CompletedAt = t.UpdatedAt
	}

	return nil
}

// Start transitions the task from pending to processing.
func (t *Task) Start() error {
	return t.TransitionTo(StatusProcessing)
}

// Complete records the produced artifacts and transitions to completed.
// Returns ErrNoArtifacts if files is empty.
func (t *Task) Complete(files []string) error {
	if len(files) == 0 {
		return ErrNoArtifacts
	}
	if err := t.TransitionTo(StatusCompleted); err != nil {
		return err
	}
	t.Files = slices.Clone(files)
	return nil
}

// Fail transitions the task to failed with a classified error message.
func (t *Task) Fail(kind ErrorKind, msg string) error {
	if err := t.TransitionTo(StatusFailed); err != nil {
		return err
	}
	t.Files = nil
	t.ArtifactURLs = nil
	t.Error = msg
	t.ErrorKind = kind
	return nil
}

// Touch records that an artifact of the task was served.
func (t *Task) Touch(at time.Time) {
	t.LastAccessedAt = at
}

// IsTerminal returns true if the task is in a terminal state.
func (t *Task) IsTerminal() bool {
	return t.Status.IsTerminal()
}

// HasFile reports whether name is one of the task's recorded artifacts.
func (t *Task) HasFile(name string) bool {
	return slices.Contains(t.Files, name)
}

// LastActivity returns the latest of completion and last artifact access.
func (t *Task) LastActivity() time.Time {
	if t.LastAccessedAt.After(t.CompletedAt) {
		return t.LastAccessedAt
	}
	return t.CompletedAt
}

// Clone creates a deep copy of the task for safe reads.
func (t *Task) Clone() *Task {
	c := *t
	c.Files = slices.Clone(t.Files)
	c.ArtifactURLs = maps.Clone(t.ArtifactURLs)
	return &c
}
