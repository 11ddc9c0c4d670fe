package task

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maauso/audiosplit-api/internal/metrics"
	"github.com/maauso/audiosplit-api/internal/storage"
)

// fakeDispatcher records dispatched tasks and simulates in-flight cancellation.
type fakeDispatcher struct {
	mu          sync.Mutex
	dispatched  []*Task
	inFlight    map[string]bool
	afters      map[string]func()
	dispatchErr error
}

func newFakeDispatcher() *fakeDispatcher {
	return &fakeDispatcher{
		inFlight: make(map[string]bool),
		afters:   make(map[string]func()),
	}
}

func (d *fakeDispatcher) Dispatch(t *Task) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.dispatchErr != nil {
		return d.dispatchErr
	}
	d.dispatched = append(d.dispatched, t)
	d.inFlight[t.ID] = true
	return nil
}

func (d *fakeDispatcher) Cancel(id string, after func()) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.inFlight[id] {
		return false
	}
	d.afters[id] = after
	return true
}

// finish simulates the runner letting go of a task.
func (d *fakeDispatcher) finish(id string) {
	d.mu.Lock()
	after := d.afters[id]
	delete(d.inFlight, id)
	delete(d.afters, id)
	d.mu.Unlock()
	if after != nil {
		after()
	}
}

type serviceFixture struct {
	svc        *Service
	store      *MemoryStore
	scratch    *storage.LocalScratch
	dispatcher *fakeDispatcher
}

func newServiceFixture(t *testing.T) *serviceFixture {
	t.Helper()

	scratch, err := storage.NewLocalScratch(t.TempDir())
	require.NoError(t, err)

	store := NewMemoryStore()
	dispatcher := newFakeDispatcher()
	svc := NewService(store, scratch, dispatcher, metrics.New(prometheus.NewRegistry()), nil)

	return &serviceFixture{svc: svc, store: store, scratch: scratch, dispatcher: dispatcher}
}

func validInput(name string) SubmitInput {
	return SubmitInput{
		Filename:           name,
		Body:               strings.NewReader("RIFF-audio-bytes"),
		MaxDurationMinutes: 10,
		OverlapSeconds:     60,
	}
}

// completeTask stands in for the runner: it writes artifacts and completes the task.
func (f *serviceFixture) completeTask(t *testing.T, task *Task, files map[string]string) {
	t.Helper()

	names := make([]string, 0, len(files))
	for i := 1; i <= len(files); i++ {
		name := "chunk_" + string(rune('0'+i)) + task.Extension
		_, err := f.scratch.SaveFile(context.Background(), task.ScratchDir, name, strings.NewReader(files[name]))
		require.NoError(t, err)
		names = append(names, name)
	}

	_, err := f.store.Update(context.Background(), task.ID, func(t *Task) error {
		if err := t.Start(); err != nil {
			return err
		}
		return t.Complete(names)
	})
	require.NoError(t, err)
	f.dispatcher.finish(task.ID)
}

func TestService_Submit(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	task, err := f.svc.Submit(ctx, validInput("My Podcast.MP3"))
	require.NoError(t, err)

	assert.Equal(t, StatusPending, task.Status)
	assert.Equal(t, "My Podcast.MP3", task.OriginalFilename)
	assert.Equal(t, ".mp3", task.Extension)
	assert.Equal(t, int64(600_000), task.Params.MaxChunkMs)
	assert.Equal(t, int64(60_000), task.Params.OverlapMs)
	assert.Empty(t, task.Files)

	assert.Equal(t, filepath.Join(f.scratch.Root(), "task_"+task.ID), task.ScratchDir)
	data, err := os.ReadFile(task.InputPath)
	require.NoError(t, err)
	assert.Equal(t, "RIFF-audio-bytes", string(data))

	stored, err := f.svc.Get(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, stored.Status)

	require.Len(t, f.dispatcher.dispatched, 1)
	assert.Equal(t, task.ID, f.dispatcher.dispatched[0].ID)
}

func TestService_Submit_StripsDirectories(t *testing.T) {
	f := newServiceFixture(t)

	task, err := f.svc.Submit(context.Background(), validInput(`..\..\etc/../evil.wav`))
	require.NoError(t, err)

	assert.Equal(t, "evil.wav", task.OriginalFilename)
	assert.Equal(t, task.ScratchDir, filepath.Dir(task.InputPath))
}

func TestService_Submit_Validation(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*SubmitInput)
	}{
		{"missing body", func(in *SubmitInput) { in.Body = nil }},
		{"missing name", func(in *SubmitInput) { in.Filename = "" }},
		{"no extension", func(in *SubmitInput) { in.Filename = "recording" }},
		{"trailing dot", func(in *SubmitInput) { in.Filename = "recording." }},
		{"zero duration", func(in *SubmitInput) { in.MaxDurationMinutes = 0 }},
		{"negative overlap", func(in *SubmitInput) { in.OverlapSeconds = -1 }},
		{"overlap equals duration", func(in *SubmitInput) { in.MaxDurationMinutes = 1; in.OverlapSeconds = 60 }},
		{"overlap exceeds duration", func(in *SubmitInput) { in.MaxDurationMinutes = 1; in.OverlapSeconds = 90 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newServiceFixture(t)
			input := validInput("audio.mp3")
			tt.modify(&input)

			_, err := f.svc.Submit(context.Background(), input)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrValidation)
			assert.Equal(t, KindValidation, Classify(err))

			tasks, _ := f.store.List(context.Background())
			assert.Empty(t, tasks, "no task must be created")
			dirs, _ := f.scratch.ListTaskDirs(context.Background())
			assert.Empty(t, dirs, "no scratch area must be left behind")
		})
	}
}

func TestService_Submit_DispatchFailure(t *testing.T) {
	f := newServiceFixture(t)
	f.dispatcher.dispatchErr = errors.New("runner stopped")

	_, err := f.svc.Submit(context.Background(), validInput("audio.mp3"))
	require.Error(t, err)

	tasks, _ := f.store.List(context.Background())
	assert.Empty(t, tasks)
	dirs, _ := f.scratch.ListTaskDirs(context.Background())
	assert.Empty(t, dirs)
}

func TestService_Get_NotFound(t *testing.T) {
	f := newServiceFixture(t)

	_, err := f.svc.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrTaskNotFound)
}

func TestService_OpenArtifact(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	task, err := f.svc.Submit(ctx, validInput("talk.mp3"))
	require.NoError(t, err)

	t.Run("pending task is not completed", func(t *testing.T) {
		_, err := f.svc.OpenArtifact(ctx, task.ID, "chunk_1.mp3")
		assert.ErrorIs(t, err, ErrTaskNotCompleted)
	})

	f.completeTask(t, task, map[string]string{"chunk_1.mp3": "first", "chunk_2.mp3": "second"})

	t.Run("recorded artifact", func(t *testing.T) {
		file, err := f.svc.OpenArtifact(ctx, task.ID, "chunk_2.mp3")
		require.NoError(t, err)
		defer func() { _ = file.Close() }()

		data, err := io.ReadAll(file)
		require.NoError(t, err)
		assert.Equal(t, "second", string(data))

		stored, _ := f.svc.Get(ctx, task.ID)
		assert.False(t, stored.LastAccessedAt.IsZero(), "access should be recorded")
	})

	t.Run("unknown artifact", func(t *testing.T) {
		_, err := f.svc.OpenArtifact(ctx, task.ID, "chunk_9.mp3")
		assert.ErrorIs(t, err, ErrArtifactNotFound)
	})

	t.Run("input file is not an artifact", func(t *testing.T) {
		_, err := f.svc.OpenArtifact(ctx, task.ID, filepath.Base(task.InputPath))
		assert.ErrorIs(t, err, ErrArtifactNotFound)
	})

	t.Run("traversal", func(t *testing.T) {
		_, err := f.svc.OpenArtifact(ctx, task.ID, "../../etc/passwd")
		assert.ErrorIs(t, err, ErrArtifactNotFound)
	})

	t.Run("unknown task", func(t *testing.T) {
		_, err := f.svc.OpenArtifact(ctx, "missing", "chunk_1.mp3")
		assert.ErrorIs(t, err, ErrTaskNotFound)
	})
}

func TestService_Bundle(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	task, err := f.svc.Submit(ctx, validInput("lecture.ogg"))
	require.NoError(t, err)

	_, _, err = f.svc.Bundle(ctx, task.ID)
	assert.ErrorIs(t, err, ErrTaskNotCompleted)

	f.completeTask(t, task, map[string]string{"chunk_1.ogg": "one", "chunk_2.ogg": "two"})

	snapshot, name, err := f.svc.Bundle(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, "split_lecture.zip", name)

	var buf bytes.Buffer
	require.NoError(t, f.svc.WriteBundle(ctx, snapshot, &buf))

	zr, err := zip.NewReader(bytes.NewReader(buf.Bytes()), int64(buf.Len()))
	require.NoError(t, err)
	require.Len(t, zr.File, 2)
	assert.Equal(t, "chunk_1.ogg", zr.File[0].Name)
	assert.Equal(t, "chunk_2.ogg", zr.File[1].Name)

	rc, err := zr.File[1].Open()
	require.NoError(t, err)
	data, _ := io.ReadAll(rc)
	_ = rc.Close()
	assert.Equal(t, "two", string(data))
}

func TestBundleName(t *testing.T) {
	assert.Equal(t, "split_episode 12.zip", BundleName(&Task{OriginalFilename: "episode 12.m4a"}))
	assert.Equal(t, "split_abc.zip", BundleName(&Task{ID: "abc", OriginalFilename: ".mp3"}))
}

func TestService_Delete(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	task, err := f.svc.Submit(ctx, validInput("audio.wav"))
	require.NoError(t, err)
	f.completeTask(t, task, map[string]string{"chunk_1.wav": "x"})

	f.svc.Delete(ctx, task.ID)

	_, err = f.svc.Get(ctx, task.ID)
	assert.ErrorIs(t, err, ErrTaskNotFound)
	_, err = os.Stat(task.ScratchDir)
	assert.True(t, os.IsNotExist(err), "scratch area should be removed")

	// Idempotent.
	assert.NotPanics(t, func() { f.svc.Delete(ctx, task.ID) })
	assert.NotPanics(t, func() { f.svc.Delete(ctx, "never-existed") })
}

func TestService_Delete_InFlightWaitsForRunner(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	task, err := f.svc.Submit(ctx, validInput("audio.wav"))
	require.NoError(t, err)

	f.svc.Delete(ctx, task.ID)

	// Still present while the runner owns it.
	_, err = f.svc.Get(ctx, task.ID)
	require.NoError(t, err)
	_, err = os.Stat(task.ScratchDir)
	require.NoError(t, err)

	f.dispatcher.finish(task.ID)

	_, err = f.svc.Get(ctx, task.ID)
	assert.ErrorIs(t, err, ErrTaskNotFound)
	_, err = os.Stat(task.ScratchDir)
	assert.True(t, os.IsNotExist(err))
}

func TestService_Sweep(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	now := time.Now()

	expired, err := f.svc.Submit(ctx, validInput("old.mp3"))
	require.NoError(t, err)
	f.completeTask(t, expired, map[string]string{"chunk_1.mp3": "x"})

	fresh, err := f.svc.Submit(ctx, validInput("new.mp3"))
	require.NoError(t, err)
	f.completeTask(t, fresh, map[string]string{"chunk_1.mp3": "x"})

	running, err := f.svc.Submit(ctx, validInput("busy.mp3"))
	require.NoError(t, err)

	// Age the first task and an orphan directory past retention.
	_, err = f.store.Update(ctx, expired.ID, func(t *Task) error {
		t.CompletedAt = now.Add(-2 * time.Hour)
		t.LastAccessedAt = time.Time{}
		return nil
	})
	require.NoError(t, err)

	orphan, err := f.scratch.CreateTaskDir(ctx, "orphan")
	require.NoError(t, err)
	old := now.Add(-3 * time.Hour)
	require.NoError(t, os.Chtimes(orphan, old, old))

	removed, err := f.svc.Sweep(ctx, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 2, removed)

	_, err = f.svc.Get(ctx, expired.ID)
	assert.ErrorIs(t, err, ErrTaskNotFound)
	_, err = f.svc.Get(ctx, fresh.ID)
	assert.NoError(t, err)
	_, err = f.svc.Get(ctx, running.ID)
	assert.NoError(t, err)

	_, err = os.Stat(orphan)
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(running.ScratchDir)
	assert.NoError(t, err)
}

func TestService_Sweep_RecentAccessExtendsRetention(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	task, err := f.svc.Submit(ctx, validInput("talk.mp3"))
	require.NoError(t, err)
	f.completeTask(t, task, map[string]string{"chunk_1.mp3": "x"})

	_, err = f.store.Update(ctx, task.ID, func(t *Task) error {
		t.CompletedAt = time.Now().Add(-2 * time.Hour)
		return nil
	})
	require.NoError(t, err)

	file, err := f.svc.OpenArtifact(ctx, task.ID, "chunk_1.mp3")
	require.NoError(t, err)
	_ = file.Close()

	removed, err := f.svc.Sweep(ctx, time.Hour)
	require.NoError(t, err)
	assert.Zero(t, removed)
}
