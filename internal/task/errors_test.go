package task

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/maauso/audiosplit-api/internal/audio"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorKind
	}{
		{"nil", nil, ""},
		{"deadline", fmt.Errorf("stopped before window 3: %w", context.DeadlineExceeded), KindTimeout},
		{"cancelled", fmt.Errorf("ffmpeg cancelled: %w", context.Canceled), KindCancelled},
		{"deadline wins over codec", fmt.Errorf("%w: window 1: %w", audio.ErrEncode, context.DeadlineExceeded), KindTimeout},
		{"validation", fmt.Errorf("%w: bad", ErrValidation), KindValidation},
		{"overlap", audio.ErrInvalidOverlap, KindValidation},
		{"chunk duration", audio.ErrInvalidChunkDuration, KindValidation},
		{"too short", ErrFileTooShort, KindTooShort},
		{"decode", fmt.Errorf("%w: no duration", audio.ErrDecode), KindCodec},
		{"encode", fmt.Errorf("%w: window 2", audio.ErrEncode), KindCodec},
		{"ffmpeg", &audio.FFmpegError{Args: []string{"-i"}, Err: errors.New("exit status 1")}, KindCodec},
		{"path", &fs.PathError{Op: "open", Path: "/x", Err: fs.ErrPermission}, KindStorage},
		{"other", errors.New("boom"), KindInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.err))
		})
	}
}
