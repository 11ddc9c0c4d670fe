package audio

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// mockCodec implements Codec for testing.
type mockCodec struct {
	mock.Mock
}

func (m *mockCodec) Decode(ctx context.Context, path string) (Source, error) {
	args := m.Called(ctx, path)
	return args.Get(0).(Source), args.Error(1)
}

func (m *mockCodec) Encode(ctx context.Context, src Source, w Window, format, dst string) error {
	args := m.Called(ctx, src, w, format, dst)
	return args.Error(0)
}

func TestProducer_Produce(t *testing.T) {
	codec := &mockCodec{}
	producer := NewProducer(codec, nil)
	outDir := t.TempDir()
	src := Source{Path: "/scratch/in.m4a", DurationMs: 1_200_000}

	windows, err := ComputeWindows(src.DurationMs, 600_000, 60_000)
	require.NoError(t, err)

	var order []int
	for _, w := range windows {
		w := w
		codec.On("Encode", mock.Anything, src, w, "mp4", filepath.Join(outDir, ArtifactName(w.Index, ".m4a"))).
			Run(func(mock.Arguments) { order = append(order, w.Index) }).
			Return(nil).Once()
	}

	artifacts, err := producer.Produce(context.Background(), src, windows, ".m4a", outDir)
	require.NoError(t, err)
	require.Len(t, artifacts, 3)

	assert.Equal(t, []int{1, 2, 3}, order)
	assert.Equal(t, "chunk_1.m4a", artifacts[0].Name)
	assert.Equal(t, "chunk_2.m4a", artifacts[1].Name)
	assert.Equal(t, "chunk_3.m4a", artifacts[2].Name)
	assert.Equal(t, windows[1], artifacts[1].Window)
	codec.AssertExpectations(t)
}

func TestProducer_Produce_EncodeFailure(t *testing.T) {
	codec := &mockCodec{}
	producer := NewProducer(codec, nil)
	outDir := t.TempDir()
	src := Source{Path: "/scratch/in.mp3", DurationMs: 30}

	windows, err := ComputeWindows(src.DurationMs, 10, 0)
	require.NoError(t, err)
	require.Len(t, windows, 3)

	encodeErr := errors.New("encoder exploded")
	codec.On("Encode", mock.Anything, src, windows[0], "mp3", mock.Anything).Return(nil).Once()
	codec.On("Encode", mock.Anything, src, windows[1], "mp3", mock.Anything).Return(encodeErr).Once()

	artifacts, err := producer.Produce(context.Background(), src, windows, ".mp3", outDir)
	require.ErrorIs(t, err, encodeErr)

	// The written artifact and the failed one are handed back for cleanup.
	require.Len(t, artifacts, 2)
	assert.Equal(t, "chunk_1.mp3", artifacts[0].Name)
	assert.Equal(t, "chunk_2.mp3", artifacts[1].Name)
	codec.AssertNotCalled(t, "Encode", mock.Anything, src, windows[2], "mp3", mock.Anything)
}

func TestProducer_Produce_CancelledBetweenWindows(t *testing.T) {
	codec := &mockCodec{}
	producer := NewProducer(codec, nil)
	src := Source{Path: "/scratch/in.wav", DurationMs: 30}

	windows, err := ComputeWindows(src.DurationMs, 10, 0)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	codec.On("Encode", mock.Anything, src, windows[0], "wav", mock.Anything).
		Run(func(mock.Arguments) { cancel() }).
		Return(nil).Once()

	artifacts, err := producer.Produce(ctx, src, windows, ".wav", t.TempDir())
	require.ErrorIs(t, err, context.Canceled)
	assert.Len(t, artifacts, 1)
	codec.AssertNumberOfCalls(t, "Encode", 1)
}

func TestProducer_Produce_NoWindows(t *testing.T) {
	codec := &mockCodec{}
	producer := NewProducer(codec, nil)

	artifacts, err := producer.Produce(context.Background(), Source{}, nil, ".wav", t.TempDir())
	require.NoError(t, err)
	assert.Empty(t, artifacts)
	codec.AssertNotCalled(t, "Encode", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}
