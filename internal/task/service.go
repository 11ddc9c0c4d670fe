package task

import (
	"archive/zip"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/maauso/audiosplit-api/internal/audio"
	"github.com/maauso/audiosplit-api/internal/metrics"
	"github.com/maauso/audiosplit-api/internal/storage"
)

// inputPrefix keeps the stored upload from colliding with chunk artifacts.
const inputPrefix = "upload_"

// Dispatcher hands tasks to background execution.
type Dispatcher interface {
	// Dispatch schedules t for processing and returns without waiting for it.
	Dispatch(t *Task) error

	// Cancel requests cancellation of an in-flight task. When it returns true,
	// after runs once the task has been finalized. When it returns false the
	// task is not in flight and after is not called.
	Cancel(id string, after func()) bool
}

// SubmitInput contains the parameters of a split request.
type SubmitInput struct {
	// Filename is the client-supplied name of the upload.
	Filename string
	// Body is the uploaded audio.
	Body io.Reader
	// MaxDurationMinutes is the maximum chunk length.
	MaxDurationMinutes int
	// OverlapSeconds is how much consecutive chunks share.
	OverlapSeconds int
}

// Service accepts split submissions and serves their results.
//
// It owns the synchronous side of the task lifecycle: validation, scratch
// area setup, status lookup, artifact retrieval, deletion and expiry.
// Processing itself happens behind the Dispatcher.
type Service struct {
	store      Store
	scratch    storage.Scratch
	dispatcher Dispatcher
	metrics    *metrics.Metrics
	logger     *slog.Logger
	now        func() time.Time
}

// NewService creates a new Service.
func NewService(store Store, scratch storage.Scratch, dispatcher Dispatcher, m *metrics.Metrics, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:      store,
		scratch:    scratch,
		dispatcher: dispatcher,
		metrics:    m,
		logger:     logger,
		now:        time.Now,
	}
}

// Submit validates the request, stores the upload in a fresh scratch area
// and dispatches the task. It returns as soon as the task is pending.
// Validation failures wrap ErrValidation and leave nothing behind.
func (s *Service) Submit(ctx context.Context, input SubmitInput) (*Task, error) {
	if input.Body == nil {
		return nil, fmt.Errorf("%w: file is required", ErrValidation)
	}

	name := cleanFilename(input.Filename)
	if name == "" {
		return nil, fmt.Errorf("%w: file name is required", ErrValidation)
	}

	ext := audio.Extension(name)
	if ext == "" {
		return nil, fmt.Errorf("%w: cannot determine file extension of %q", ErrValidation, name)
	}

	params := Params{
		MaxChunkMs: int64(input.MaxDurationMinutes) * int64(time.Minute/time.Millisecond),
		OverlapMs:  int64(input.OverlapSeconds) * int64(time.Second/time.Millisecond),
	}
	if err := audio.ValidateWindowParams(params.MaxChunkMs, params.OverlapMs); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrValidation, err)
	}

	t := New()
	t.OriginalFilename = name
	t.Extension = ext
	t.Params = params

	dir, err := s.scratch.CreateTaskDir(ctx, t.ID)
	if err != nil {
		return nil, fmt.Errorf("create scratch area: %w", err)
	}
	t.ScratchDir = dir

	path, err := s.scratch.SaveFile(ctx, dir, inputPrefix+name, input.Body)
	if err != nil {
		s.removeDir(t)
		return nil, fmt.Errorf("save upload: %w", err)
	}
	t.InputPath = path

	if err := s.store.Create(ctx, t); err != nil {
		s.removeDir(t)
		return nil, fmt.Errorf("register task: %w", err)
	}

	if err := s.dispatcher.Dispatch(t.Clone()); err != nil {
		_ = s.store.Delete(ctx, t.ID)
		s.removeDir(t)
		return nil, fmt.Errorf("dispatch task: %w", err)
	}

	s.metrics.TaskSubmitted()
	s.logger.Info("task submitted",
		slog.String("task_id", t.ID),
		slog.String("filename", name),
		slog.Int64("max_chunk_ms", params.MaxChunkMs),
		slog.Int64("overlap_ms", params.OverlapMs),
	)

	return t, nil
}

// Get returns a snapshot of the task.
func (s *Service) Get(ctx context.Context, id string) (*Task, error) {
	return s.store.Get(ctx, id)
}

// OpenArtifact opens one artifact of a completed task for reading.
// Returns ErrTaskNotCompleted while the task is still running or if it failed,
// and ErrArtifactNotFound if name is not one of its recorded files.
// The caller must close the returned file.
func (s *Service) OpenArtifact(ctx context.Context, id, name string) (*os.File, error) {
	t, err := s.completed(ctx, id)
	if err != nil {
		return nil, err
	}
	if !t.HasFile(name) {
		return nil, fmt.Errorf("%w: %s", ErrArtifactNotFound, name)
	}

	f, err := s.scratch.OpenFile(ctx, t.ScratchDir, name)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) || errors.Is(err, storage.ErrUnsafePath) {
			return nil, fmt.Errorf("%w: %s", ErrArtifactNotFound, name)
		}
		return nil, err
	}

	s.touch(ctx, id)
	return f, nil
}

// Bundle returns the snapshot of a completed task and the file name its
// zip archive is served under.
func (s *Service) Bundle(ctx context.Context, id string) (*Task, string, error) {
	t, err := s.completed(ctx, id)
	if err != nil {
		return nil, "", err
	}
	return t, BundleName(t), nil
}

// WriteBundle streams every artifact of t, in sequence order, into a zip archive.
func (s *Service) WriteBundle(ctx context.Context, t *Task, w io.Writer) error {
	zw := zip.NewWriter(w)

	for _, name := range t.Files {
		if err := s.addToZip(ctx, zw, t.ScratchDir, name); err != nil {
			_ = zw.Close()
			return err
		}
	}

	if err := zw.Close(); err != nil {
		return fmt.Errorf("finish archive: %w", err)
	}

	s.touch(ctx, t.ID)
	return nil
}

func (s *Service) addToZip(ctx context.Context, zw *zip.Writer, dir, name string) error {
	f, err := s.scratch.OpenFile(ctx, dir, name)
	if err != nil {
		return fmt.Errorf("open artifact %s: %w", name, err)
	}
	defer func() { _ = f.Close() }()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat artifact %s: %w", name, err)
	}

	header, err := zip.FileInfoHeader(info)
	if err != nil {
		return fmt.Errorf("archive header %s: %w", name, err)
	}
	header.Name = name
	header.Method = zip.Deflate

	dst, err := zw.CreateHeader(header)
	if err != nil {
		return fmt.Errorf("archive entry %s: %w", name, err)
	}
	if _, err := io.Copy(dst, f); err != nil {
		return fmt.Errorf("archive artifact %s: %w", name, err)
	}
	return nil
}

// BundleName returns "split_<stem>.zip" for the task's original file name.
func BundleName(t *Task) string {
	stem := strings.TrimSuffix(t.OriginalFilename, filepath.Ext(t.OriginalFilename))
	if stem == "" {
		stem = t.ID
	}
	return "split_" + stem + ".zip"
}

// Delete removes the task and its scratch area. It never fails: unknown IDs
// are ignored and cleanup errors are only logged. A task that is still being
// processed is cancelled first and purged once its runner lets go of it.
func (s *Service) Delete(ctx context.Context, id string) {
	purge := func() {
		s.purge(context.WithoutCancel(ctx), id, metrics.ReasonDeleted)
	}

	if s.dispatcher.Cancel(id, purge) {
		s.logger.Info("cancellation requested", slog.String("task_id", id))
		return
	}
	purge()
}

// Sweep purges terminal tasks whose last activity is older than retention,
// and task directories that no longer belong to any task.
// It returns the number of task areas removed.
func (s *Service) Sweep(ctx context.Context, retention time.Duration) (int, error) {
	cutoff := s.now().Add(-retention)

	tasks, err := s.store.List(ctx)
	if err != nil {
		return 0, fmt.Errorf("list tasks: %w", err)
	}

	removed := 0
	for _, t := range tasks {
		if !t.IsTerminal() || !t.LastActivity().Before(cutoff) {
			continue
		}
		s.purge(ctx, t.ID, metrics.ReasonExpired)
		removed++
	}

	dirs, err := s.scratch.ListTaskDirs(ctx)
	if err != nil {
		return removed, fmt.Errorf("list scratch area: %w", err)
	}

	for _, dir := range dirs {
		if !dir.ModTime.Before(cutoff) {
			continue
		}
		if _, err := s.store.Get(ctx, dir.TaskID); !errors.Is(err, ErrTaskNotFound) {
			continue
		}
		if err := s.scratch.RemoveTaskDir(ctx, dir.Path); err != nil {
			s.logger.Warn("failed to remove orphan directory",
				slog.String("path", dir.Path),
				slog.String("error", err.Error()),
			)
			continue
		}
		s.metrics.TaskPurged(metrics.ReasonOrphan)
		removed++
	}

	return removed, nil
}

// purge removes a task from the store and deletes its scratch area.
func (s *Service) purge(ctx context.Context, id, reason string) {
	t, err := s.store.Get(ctx, id)
	if err != nil {
		return
	}

	_ = s.store.Delete(ctx, id)
	s.removeDir(t)
	s.metrics.TaskPurged(reason)

	s.logger.Info("task purged",
		slog.String("task_id", id),
		slog.String("reason", reason),
	)
}

func (s *Service) removeDir(t *Task) {
	if err := s.scratch.RemoveTaskDir(context.Background(), t.ScratchDir); err != nil {
		s.logger.Warn("failed to remove scratch area",
			slog.String("task_id", t.ID),
			slog.String("path", t.ScratchDir),
			slog.String("error", err.Error()),
		)
	}
}

func (s *Service) completed(ctx context.Context, id string) (*Task, error) {
	t, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if t.Status != StatusCompleted {
		return nil, fmt.Errorf("%w: status is %s", ErrTaskNotCompleted, t.Status)
	}
	return t, nil
}

// touch records an artifact access so retention counts from the last download.
func (s *Service) touch(ctx context.Context, id string) {
	now := s.now()
	_, err := s.store.Update(ctx, id, func(t *Task) error {
		t.Touch(now)
		return nil
	})
	if err != nil && !errors.Is(err, ErrTaskNotFound) {
		s.logger.Warn("failed to record artifact access",
			slog.String("task_id", id),
			slog.String("error", err.Error()),
		)
	}
}

// cleanFilename reduces a client-supplied name to its base name.
func cleanFilename(name string) string {
	name = filepath.Base(strings.ReplaceAll(strings.TrimSpace(name), `\`, "/"))
	if name == "." || name == "/" || name == ".." {
		return ""
	}
	return name
}
