package janitor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockSweeper struct {
	mock.Mock
}

func (m *mockSweeper) Sweep(ctx context.Context, retention time.Duration) (int, error) {
	args := m.Called(ctx, retention)
	return args.Int(0), args.Error(1)
}

func TestNew_InvalidSchedule(t *testing.T) {
	_, err := New(&mockSweeper{}, "every now and then", time.Hour, nil)
	assert.Error(t, err)
}

func TestJanitor_RunOnce(t *testing.T) {
	sweeper := &mockSweeper{}
	sweeper.On("Sweep", mock.Anything, 2*time.Hour).Return(3, nil).Once()

	j, err := New(sweeper, "@every 5m", 2*time.Hour, nil)
	require.NoError(t, err)

	removed, err := j.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, removed)
	sweeper.AssertExpectations(t)
}

func TestJanitor_RunOnce_Error(t *testing.T) {
	sweeper := &mockSweeper{}
	sweeper.On("Sweep", mock.Anything, time.Hour).Return(0, errors.New("disk gone"))

	j, err := New(sweeper, "@every 5m", time.Hour, nil)
	require.NoError(t, err)

	_, err = j.RunOnce(context.Background())
	assert.EqualError(t, err, "disk gone")

	// A failed scheduled run is logged, not propagated.
	assert.NotPanics(t, j.run)
}

func TestJanitor_Schedule(t *testing.T) {
	swept := make(chan struct{}, 1)
	sweeper := &mockSweeper{}
	sweeper.On("Sweep", mock.Anything, time.Hour).Return(0, nil).Run(func(mock.Arguments) {
		select {
		case swept <- struct{}{}:
		default:
		}
	})

	j, err := New(sweeper, "@every 1s", time.Hour, nil)
	require.NoError(t, err)

	j.Start()
	defer j.Stop()

	select {
	case <-swept:
	case <-time.After(3 * time.Second):
		t.Fatal("sweep did not run on schedule")
	}

	j.Stop()
	assert.NotPanics(t, j.Stop)
}
