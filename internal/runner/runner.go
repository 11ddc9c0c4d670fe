// Package runner executes split tasks in the background.
//
// Each dispatched task gets its own goroutine, bounded by a weighted
// semaphore. Whatever happens during processing, including panics, the
// task ends in exactly one call to finalize, which records the terminal
// state in the store and removes the uploaded input.
package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/maauso/audiosplit-api/internal/audio"
	"github.com/maauso/audiosplit-api/internal/metrics"
	"github.com/maauso/audiosplit-api/internal/storage"
	"github.com/maauso/audiosplit-api/internal/task"
)

// Static errors for runner operations.
var (
	// ErrAlreadyRunning is returned when a task ID is dispatched twice.
	ErrAlreadyRunning = errors.New("task is already in flight")
	// ErrStopped is returned when dispatching after Shutdown.
	ErrStopped = errors.New("runner is stopped")
)

// Compile-time check that Runner implements task.Dispatcher.
var _ task.Dispatcher = (*Runner)(nil)

// DefaultMaxConcurrent is the number of tasks processed at once when not configured.
const DefaultMaxConcurrent = 2

// Option configures a Runner.
type Option func(*Runner)

// WithMaxConcurrent bounds how many tasks are processed at the same time.
func WithMaxConcurrent(n int) Option {
	return func(r *Runner) {
		if n > 0 {
			r.maxConcurrent = n
		}
	}
}

// WithTimeout bounds the processing time of a single task. Zero disables it.
func WithTimeout(d time.Duration) Option {
	return func(r *Runner) {
		if d >= 0 {
			r.timeout = d
		}
	}
}

// WithMirror uploads finished artifacts to object storage.
func WithMirror(m storage.Mirror) Option {
	return func(r *Runner) {
		r.mirror = m
	}
}

// WithMetrics records task outcomes.
func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Runner) {
		r.metrics = m
	}
}

// execution tracks one in-flight task.
type execution struct {
	cancel context.CancelFunc
	after  []func()
}

// Runner processes dispatched tasks asynchronously.
type Runner struct {
	store    task.Store
	codec    audio.Codec
	producer *audio.Producer
	scratch  storage.Scratch
	mirror   storage.Mirror
	metrics  *metrics.Metrics
	logger   *slog.Logger

	maxConcurrent int
	timeout       time.Duration
	sem           *semaphore.Weighted

	baseCtx context.Context
	stop    context.CancelFunc
	wg      sync.WaitGroup

	mu       sync.Mutex
	inflight map[string]*execution
	stopped  bool
}

// New creates a new Runner.
func New(store task.Store, codec audio.Codec, scratch storage.Scratch, logger *slog.Logger, opts ...Option) *Runner {
	if logger == nil {
		logger = slog.Default()
	}

	r := &Runner{
		store:         store,
		codec:         codec,
		scratch:       scratch,
		logger:        logger,
		maxConcurrent: DefaultMaxConcurrent,
		inflight:      make(map[string]*execution),
	}
	for _, opt := range opts {
		opt(r)
	}

	r.producer = audio.NewProducer(codec, logger)
	r.sem = semaphore.NewWeighted(int64(r.maxConcurrent))
	r.baseCtx, r.stop = context.WithCancel(context.Background())
	return r
}

// Dispatch starts processing t in the background and returns immediately.
// The task must already be registered in the store with status pending.
func (r *Runner) Dispatch(t *task.Task) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.stopped {
		return ErrStopped
	}
	if _, ok := r.inflight[t.ID]; ok {
		return fmt.Errorf("%w: %s", ErrAlreadyRunning, t.ID)
	}

	ctx, cancel := context.WithCancel(r.baseCtx)
	r.inflight[t.ID] = &execution{cancel: cancel}
	r.metrics.TaskDispatched()

	r.wg.Add(1)
	go r.run(ctx, t.Clone())

	return nil
}

// Cancel requests cooperative cancellation of an in-flight task. The task
// stops at the next window boundary. If the task is in flight, after is
// called once it has been finalized and Cancel returns true.
func (r *Runner) Cancel(id string, after func()) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	exec, ok := r.inflight[id]
	if !ok {
		return false
	}
	if after != nil {
		exec.after = append(exec.after, after)
	}
	exec.cancel()
	return true
}

// InFlight returns the number of dispatched tasks not yet finalized.
func (r *Runner) InFlight() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.inflight)
}

// Wait blocks until every dispatched task has been finalized.
func (r *Runner) Wait() {
	r.wg.Wait()
}

// Shutdown stops accepting tasks and waits for in-flight ones to finish.
// When ctx expires first, the remaining tasks are cancelled and Shutdown
// waits for them to finalize before returning ctx's error.
func (r *Runner) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	r.stopped = true
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		r.stop()
		return nil
	case <-ctx.Done():
		r.stop()
		<-done
		return ctx.Err()
	}
}

func (r *Runner) run(ctx context.Context, t *task.Task) {
	defer r.wg.Done()

	var (
		files []string
		urls  map[string]string
		err   error
	)

	func() {
		defer func() {
			if p := recover(); p != nil {
				r.logger.Error("task panicked",
					slog.String("task_id", t.ID),
					slog.Any("panic", p),
					slog.String("stack", string(debug.Stack())),
				)
				err = fmt.Errorf("internal error: %v", p)
			}
		}()
		files, urls, err = r.process(ctx, t)
	}()

	r.finalize(t, files, urls, err)
}

// process runs one task from pending to the point where its outcome is known.
func (r *Runner) process(ctx context.Context, t *task.Task) ([]string, map[string]string, error) {
	if err := r.sem.Acquire(ctx, 1); err != nil {
		return nil, nil, fmt.Errorf("waiting for worker: %w", err)
	}
	defer r.sem.Release(1)

	if _, err := r.store.Update(ctx, t.ID, (*task.Task).Start); err != nil {
		return nil, nil, fmt.Errorf("start task: %w", err)
	}

	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	logger := r.logger.With(slog.String("task_id", t.ID))
	logger.Info("processing task", slog.String("filename", t.OriginalFilename))

	src, err := r.codec.Decode(ctx, t.InputPath)
	if err != nil {
		return nil, nil, err
	}

	windows, err := audio.ComputeWindows(src.DurationMs, t.Params.MaxChunkMs, t.Params.OverlapMs)
	if err != nil {
		return nil, nil, err
	}
	if len(windows) == 0 {
		return nil, nil, task.ErrFileTooShort
	}

	logger.Debug("windows computed",
		slog.Int64("duration_ms", src.DurationMs),
		slog.Int("windows", len(windows)),
	)

	artifacts, err := r.producer.Produce(ctx, src, windows, t.Extension, t.ScratchDir)
	if err != nil {
		r.removeArtifacts(t.ID, artifacts)
		return nil, nil, err
	}

	files := make([]string, len(artifacts))
	for i, a := range artifacts {
		files[i] = a.Name
	}

	urls, err := r.mirrorArtifacts(ctx, t, files)
	if err != nil {
		r.removeArtifacts(t.ID, artifacts)
		return nil, nil, err
	}

	return files, urls, nil
}

// mirrorArtifacts uploads every artifact under <taskID>/<name>.
func (r *Runner) mirrorArtifacts(ctx context.Context, t *task.Task, files []string) (map[string]string, error) {
	if r.mirror == nil {
		return nil, nil
	}

	urls := make(map[string]string, len(files))
	for _, name := range files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		url, err := r.upload(ctx, t, name)
		if err != nil {
			return nil, fmt.Errorf("mirror %s: %w", name, err)
		}
		urls[name] = url
	}
	return urls, nil
}

func (r *Runner) upload(ctx context.Context, t *task.Task, name string) (string, error) {
	f, err := r.scratch.OpenFile(ctx, t.ScratchDir, name)
	if err != nil {
		return "", err
	}
	defer func() { _ = f.Close() }()
	return r.mirror.Upload(ctx, t.ID+"/"+name, f)
}

// finalize is the only place a dispatched task reaches a terminal state.
func (r *Runner) finalize(t *task.Task, files []string, urls map[string]string, procErr error) {
	ctx := context.Background()
	logger := r.logger.With(slog.String("task_id", t.ID))

	if err := r.scratch.RemoveFiles(ctx, []string{t.InputPath}); err != nil {
		logger.Warn("failed to remove input", slog.String("error", err.Error()))
	}

	kind := task.Classify(procErr)
	final, err := r.store.Update(ctx, t.ID, func(current *task.Task) error {
		if procErr == nil {
			if err := current.Complete(files); err != nil {
				return err
			}
			current.ArtifactURLs = urls
			return nil
		}
		return current.Fail(kind, procErr.Error())
	})

	switch {
	case err != nil:
		logger.Error("failed to record task outcome",
			slog.String("error", err.Error()),
			slog.Any("cause", procErr),
		)
	case procErr != nil:
		logger.Warn("task failed",
			slog.String("error_kind", string(kind)),
			slog.String("error", procErr.Error()),
		)
	default:
		logger.Info("task completed", slog.Int("files", len(files)))
	}

	status := string(task.StatusFailed)
	elapsed := time.Since(t.CreatedAt)
	if final != nil {
		status = string(final.Status)
		elapsed = final.CompletedAt.Sub(final.CreatedAt)
	}
	r.metrics.TaskFinished(status, string(kind), elapsed)

	r.mu.Lock()
	exec := r.inflight[t.ID]
	delete(r.inflight, t.ID)
	r.mu.Unlock()

	if exec == nil {
		return
	}
	exec.cancel()
	for _, after := range exec.after {
		after()
	}
}

func (r *Runner) removeArtifacts(taskID string, artifacts []audio.Artifact) {
	if len(artifacts) == 0 {
		return
	}
	paths := make([]string, len(artifacts))
	for i, a := range artifacts {
		paths[i] = a.Path
	}
	if err := r.scratch.RemoveFiles(context.Background(), paths); err != nil {
		r.logger.Warn("failed to remove partial artifacts",
			slog.String("task_id", taskID),
			slog.String("error", err.Error()),
		)
	}
}
