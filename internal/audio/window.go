package audio

import (
	"errors"
	"fmt"
)

// Static errors for window parameters.
var (
	// ErrInvalidChunkDuration is returned when the maximum chunk duration is not positive.
	ErrInvalidChunkDuration = errors.New("invalid chunk duration: must be positive")
	// ErrInvalidOverlap is returned when the overlap is negative or not shorter than the chunk duration.
	ErrInvalidOverlap = errors.New("invalid overlap: must be non-negative and shorter than the chunk duration")
)

// Window is one [StartMs, EndMs) slice of the source audio.
type Window struct {
	// Index is the 1-based position of the window in the sequence.
	Index int
	// StartMs is the inclusive start offset in milliseconds.
	StartMs int64
	// EndMs is the exclusive end offset in milliseconds.
	EndMs int64
}

// DurationMs returns the length of the window in milliseconds.
func (w Window) DurationMs() int64 {
	return w.EndMs - w.StartMs
}

// ValidateWindowParams checks that maxChunkMs and overlapMs describe a
// progressing sequence of windows.
func ValidateWindowParams(maxChunkMs, overlapMs int64) error {
	if maxChunkMs <= 0 {
		return fmt.Errorf("%w: got %dms", ErrInvalidChunkDuration, maxChunkMs)
	}
	if overlapMs < 0 || overlapMs >= maxChunkMs {
		return fmt.Errorf("%w: overlap=%dms, chunk=%dms", ErrInvalidOverlap, overlapMs, maxChunkMs)
	}
	return nil
}

// ComputeWindows splits totalMs into windows of at most maxChunkMs where each
// window after the first starts overlapMs before its predecessor ends.
// The last window always ends at totalMs. A non-positive total yields no windows.
func ComputeWindows(totalMs, maxChunkMs, overlapMs int64) ([]Window, error) {
	if err := ValidateWindowParams(maxChunkMs, overlapMs); err != nil {
		return nil, err
	}
	if totalMs <= 0 {
		return []Window{}, nil
	}

	windows := make([]Window, 0, WindowCount(totalMs, maxChunkMs, overlapMs))
	start := int64(0)
	for {
		end := min(start+maxChunkMs, totalMs)
		windows = append(windows, Window{
			Index:   len(windows) + 1,
			StartMs: start,
			EndMs:   end,
		})
		if end >= totalMs {
			return windows, nil
		}
		start = end - overlapMs
	}
}

// WindowCount returns the number of windows ComputeWindows produces for valid
// parameters: ceil((total - overlap) / (chunk - overlap)), and 0 for an empty source.
func WindowCount(totalMs, maxChunkMs, overlapMs int64) int {
	if totalMs <= 0 || maxChunkMs <= 0 || overlapMs < 0 || overlapMs >= maxChunkMs {
		return 0
	}
	if totalMs <= maxChunkMs {
		return 1
	}
	step := maxChunkMs - overlapMs
	return int((totalMs - overlapMs + step - 1) / step)
}
