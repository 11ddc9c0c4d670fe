package task

import (
	"context"
	"errors"
	"io/fs"

	"github.com/maauso/audiosplit-api/internal/audio"
)

// Static errors for task operations.
var (
	// ErrTaskNotFound is returned when a task cannot be found by ID.
	ErrTaskNotFound = errors.New("task not found")
	// ErrTaskExists is returned when a task ID is already registered.
	ErrTaskExists = errors.New("task already exists")
	// ErrInvalidTransition is returned when an invalid state transition is attempted.
	ErrInvalidTransition = errors.New("invalid state transition")
	// ErrNoArtifacts is returned when a task is completed without artifacts.
	ErrNoArtifacts = errors.New("completed task requires at least one artifact")
	// ErrTaskNotCompleted is returned when artifacts are requested before completion.
	ErrTaskNotCompleted = errors.New("task is not completed")
	// ErrArtifactNotFound is returned when a file is not one of the task's artifacts.
	ErrArtifactNotFound = errors.New("artifact not found")
	// ErrValidation is returned when a submission is rejected.
	ErrValidation = errors.New("validation failed")
	// ErrFileTooShort is returned when the source yields no windows.
	ErrFileTooShort = errors.New("file too short or empty")
)

// ErrorKind classifies why a task failed.
type ErrorKind string

const (
	// KindValidation marks rejected input parameters.
	KindValidation ErrorKind = "validation"
	// KindTooShort marks a source that produced no windows.
	KindTooShort ErrorKind = "too_short"
	// KindCodec marks a decode or encode failure.
	KindCodec ErrorKind = "codec"
	// KindStorage marks a filesystem or object storage failure.
	KindStorage ErrorKind = "storage"
	// KindTimeout marks a task that exceeded its processing time.
	KindTimeout ErrorKind = "timeout"
	// KindCancelled marks a task stopped on request.
	KindCancelled ErrorKind = "cancelled"
	// KindInternal marks anything else, including recovered panics.
	KindInternal ErrorKind = "internal"
)

// Classify maps an error raised while processing a task to its ErrorKind.
// Context errors win over the operation they interrupted.
func Classify(err error) ErrorKind {
	var (
		ffmpegErr *audio.FFmpegError
		pathErr   *fs.PathError
	)

	switch {
	case err == nil:
		return ""
	case errors.Is(err, context.DeadlineExceeded):
		return KindTimeout
	case errors.Is(err, context.Canceled):
		return KindCancelled
	case errors.Is(err, ErrValidation),
		errors.Is(err, audio.ErrInvalidChunkDuration),
		errors.Is(err, audio.ErrInvalidOverlap):
		return KindValidation
	case errors.Is(err, ErrFileTooShort):
		return KindTooShort
	case errors.Is(err, audio.ErrDecode),
		errors.Is(err, audio.ErrEncode),
		errors.As(err, &ffmpegErr):
		return KindCodec
	case errors.As(err, &pathErr):
		return KindStorage
	default:
		return KindInternal
	}
}
