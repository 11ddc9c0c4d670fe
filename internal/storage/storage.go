// Package storage provides the task scratch area on local disk and an
// optional object storage mirror for finished artifacts.
// It defines the ports (Scratch, Mirror) and their implementations.
package storage

import (
	"context"
	"errors"
	"io"
	"os"
	"time"
)

// Static errors for storage operations.
var (
	// ErrUnsafePath is returned when a name or directory would escape the scratch root.
	ErrUnsafePath = errors.New("path escapes scratch area")
	// ErrS3NotConfigured is returned when S3 operations are attempted
	// without proper configuration.
	ErrS3NotConfigured = errors.New("S3 storage is not configured")
)

// TaskDirPrefix prefixes every per-task directory under the scratch root.
const TaskDirPrefix = "task_"

// TaskDir describes a per-task directory found on disk.
type TaskDir struct {
	// TaskID is the identifier the directory was named after.
	TaskID string
	// Path is the absolute directory path.
	Path string
	// ModTime is the directory's last modification time.
	ModTime time.Time
}

// Scratch defines the interface for the task-private filesystem area.
// Every task owns exactly one directory; no two tasks share a path.
type Scratch interface {
	// CreateTaskDir creates the directory for taskID and returns its path.
	CreateTaskDir(ctx context.Context, taskID string) (string, error)

	// SaveFile writes data to name inside dir and returns the file path.
	// Only the base name of name is used.
	SaveFile(ctx context.Context, dir, name string, data io.Reader) (string, error)

	// OpenFile opens name inside dir for reading.
	// Returns ErrUnsafePath if name is not a plain file name.
	// The caller is responsible for closing the returned file.
	OpenFile(ctx context.Context, dir, name string) (*os.File, error)

	// RemoveFiles removes the specified files.
	// It continues even if some files fail to delete.
	RemoveFiles(ctx context.Context, paths []string) error

	// RemoveTaskDir recursively removes a task directory.
	// Removing a missing directory is not an error.
	RemoveTaskDir(ctx context.Context, dir string) error

	// ListTaskDirs returns every task directory under the scratch root.
	ListTaskDirs(ctx context.Context) ([]TaskDir, error)
}

// Mirror defines the interface for copying finished artifacts to object storage.
type Mirror interface {
	// Upload stores data under key and returns its public URL.
	Upload(ctx context.Context, key string, data io.Reader) (url string, err error)
}
