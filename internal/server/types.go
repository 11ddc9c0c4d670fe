// Package server provides the HTTP server for the audio split API.
// It includes handlers, middleware, routes, and DTOs separated from domain types.
package server

import (
	"time"

	"github.com/maauso/audiosplit-api/internal/task"
)

// SubmitTaskForm holds the non-file fields of a multipart split request.
type SubmitTaskForm struct {
	// MaxDurationMinutes is the maximum chunk length in minutes.
	MaxDurationMinutes int `validate:"min=1,max=1440"`
	// OverlapSeconds is how much consecutive chunks share, in seconds.
	OverlapSeconds int `validate:"min=0"`
}

// SubmitTaskResponse is the HTTP response after submitting a task.
type SubmitTaskResponse struct {
	// TaskID is the unique identifier for the created task.
	TaskID string `json:"task_id"`
	// Status is the initial task status.
	Status string `json:"status"`
}

// TaskResponse is the HTTP response for getting task details.
type TaskResponse struct {
	TaskID             string            `json:"task_id"`
	Status             string            `json:"status"`
	Files              []string          `json:"files"`
	ArtifactURLs       map[string]string `json:"artifact_urls,omitempty"`
	Error              string            `json:"error,omitempty"`
	ErrorKind          string            `json:"error_kind,omitempty"`
	OriginalFilename   string            `json:"original_filename"`
	MaxDurationMinutes int64             `json:"max_duration_minutes"`
	OverlapSeconds     int64             `json:"overlap_seconds"`
	CreatedAt          time.Time         `json:"created_at"`
	StartedAt          *time.Time        `json:"started_at,omitempty"`
	CompletedAt        *time.Time        `json:"completed_at,omitempty"`
}

// newTaskResponse maps a task snapshot to its wire form.
func newTaskResponse(t *task.Task) TaskResponse {
	files := t.Files
	if files == nil {
		files = []string{}
	}

	return TaskResponse{
		TaskID:             t.ID,
		Status:             string(t.Status),
		Files:              files,
		ArtifactURLs:       t.ArtifactURLs,
		Error:              t.Error,
		ErrorKind:          string(t.ErrorKind),
		OriginalFilename:   t.OriginalFilename,
		MaxDurationMinutes: t.Params.MaxChunkMs / int64(time.Minute/time.Millisecond),
		OverlapSeconds:     t.Params.OverlapMs / int64(time.Second/time.Millisecond),
		CreatedAt:          t.CreatedAt,
		StartedAt:          optionalTime(t.StartedAt),
		CompletedAt:        optionalTime(t.CompletedAt),
	}
}

func optionalTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

// ErrorResponse is the standard error response format.
type ErrorResponse struct {
	// Error is the human-readable error message.
	Error string `json:"error"`
	// Code is the error code for programmatic handling.
	Code string `json:"code"`
}

// HealthResponse is the HTTP response for the health check endpoint.
type HealthResponse struct {
	// Status is the health status of the service.
	Status string `json:"status"`
}
