package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// Compile-time check that LocalScratch implements Scratch.
var _ Scratch = (*LocalScratch)(nil)

// LocalScratch implements the Scratch interface using local disk.
// Task directories live directly under a single root directory.
type LocalScratch struct {
	root string
}

// NewLocalScratch creates a new LocalScratch instance.
// If root is empty, a directory under os.TempDir() is used.
// The directory is created if it doesn't exist.
func NewLocalScratch(root string) (*LocalScratch, error) {
	if root == "" {
		root = filepath.Join(os.TempDir(), "audiosplit")
	}

	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve scratch root: %w", err)
	}

	if err := os.MkdirAll(abs, 0750); err != nil {
		return nil, fmt.Errorf("create scratch root: %w", err)
	}

	return &LocalScratch{root: abs}, nil
}

// Root returns the scratch root directory path.
func (s *LocalScratch) Root() string {
	return s.root
}

// CreateTaskDir creates <root>/task_<taskID>.
func (s *LocalScratch) CreateTaskDir(ctx context.Context, taskID string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("context cancelled: %w", err)
	}
	if !isPlainName(taskID) {
		return "", fmt.Errorf("%w: task id %q", ErrUnsafePath, taskID)
	}

	dir := filepath.Join(s.root, TaskDirPrefix+taskID)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return "", fmt.Errorf("create task directory: %w", err)
	}
	return dir, nil
}

// SaveFile writes data to the base name of name inside dir.
func (s *LocalScratch) SaveFile(ctx context.Context, dir, name string, data io.Reader) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("context cancelled: %w", err)
	}

	path, err := s.resolve(dir, filepath.Base(name))
	if err != nil {
		return "", err
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600) // #nosec G304 - path is confined by resolve
	if err != nil {
		return "", fmt.Errorf("create file: %w", err)
	}

	if _, err := io.Copy(f, data); err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return "", fmt.Errorf("write file: %w", err)
	}

	if err := f.Close(); err != nil {
		_ = os.Remove(path)
		return "", fmt.Errorf("close file: %w", err)
	}

	return path, nil
}

// OpenFile opens a plain file name inside dir.
func (s *LocalScratch) OpenFile(ctx context.Context, dir, name string) (*os.File, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("context cancelled: %w", err)
	}

	path, err := s.resolve(dir, name)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(path) // #nosec G304 - path is confined by resolve
	if err != nil {
		return nil, fmt.Errorf("open file: %w", err)
	}
	return f, nil
}

// RemoveFiles removes the specified files.
// It continues cleanup even if some files fail to delete,
// returning the first error encountered.
func (s *LocalScratch) RemoveFiles(ctx context.Context, paths []string) error {
	var firstErr error
	for _, p := range paths {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("context cancelled: %w", err)
		}

		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			if firstErr == nil {
				firstErr = fmt.Errorf("remove file %s: %w", p, err)
			}
		}
	}
	return firstErr
}

// RemoveTaskDir recursively removes dir, which must sit directly under the root.
func (s *LocalScratch) RemoveTaskDir(_ context.Context, dir string) error {
	if dir == "" {
		return nil
	}
	if !s.isTaskDir(dir) {
		return fmt.Errorf("%w: %s", ErrUnsafePath, dir)
	}
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("remove task directory: %w", err)
	}
	return nil
}

// ListTaskDirs returns the task directories currently under the root.
func (s *LocalScratch) ListTaskDirs(ctx context.Context) ([]TaskDir, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, fmt.Errorf("read scratch root: %w", err)
	}

	var dirs []TaskDir
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("context cancelled: %w", err)
		}
		if !entry.IsDir() || !strings.HasPrefix(entry.Name(), TaskDirPrefix) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			// Removed between ReadDir and Info.
			continue
		}
		dirs = append(dirs, TaskDir{
			TaskID:  strings.TrimPrefix(entry.Name(), TaskDirPrefix),
			Path:    filepath.Join(s.root, entry.Name()),
			ModTime: info.ModTime(),
		})
	}
	return dirs, nil
}

// resolve joins a plain file name onto a task directory under the root.
func (s *LocalScratch) resolve(dir, name string) (string, error) {
	if !s.isTaskDir(dir) {
		return "", fmt.Errorf("%w: %s", ErrUnsafePath, dir)
	}
	if !isPlainName(name) {
		return "", fmt.Errorf("%w: %q", ErrUnsafePath, name)
	}
	return filepath.Join(dir, name), nil
}

// isTaskDir reports whether dir is a direct task child of the root.
func (s *LocalScratch) isTaskDir(dir string) bool {
	clean := filepath.Clean(dir)
	return filepath.Dir(clean) == s.root &&
		strings.HasPrefix(filepath.Base(clean), TaskDirPrefix)
}

// isPlainName reports whether name is a single path element.
func isPlainName(name string) bool {
	return name != "" &&
		name != "." &&
		name != ".." &&
		!strings.ContainsAny(name, `/\`) &&
		filepath.Base(name) == name
}
