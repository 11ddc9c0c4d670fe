package audio

import (
	"bytes"
	"context"
	"fmt"
	"math"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
)

// Verify interface implementation at compile time.
var _ Codec = (*FFmpegCodec)(nil)

var durationRe = regexp.MustCompile(`Duration:\s*(\d+):(\d+):(\d+)\.(\d+)`)

// FFmpegCodec implements Codec using the ffmpeg and ffprobe CLIs.
type FFmpegCodec struct {
	ffmpegPath  string
	ffprobePath string
}

// NewFFmpegCodec creates a new FFmpegCodec.
// Empty paths default to "ffmpeg" and "ffprobe" (found in PATH).
func NewFFmpegCodec(ffmpegPath, ffprobePath string) *FFmpegCodec {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	if ffprobePath == "" {
		ffprobePath = "ffprobe"
	}
	return &FFmpegCodec{ffmpegPath: ffmpegPath, ffprobePath: ffprobePath}
}

// Decode implements Codec.Decode. The duration is read with ffprobe; when the
// container does not report one, the Duration line of ffmpeg's banner is used.
func (c *FFmpegCodec) Decode(ctx context.Context, path string) (Source, error) {
	if _, err := os.Stat(path); err != nil {
		return Source{}, fmt.Errorf("%w: %w", ErrDecode, err)
	}

	seconds, err := c.probeDuration(ctx, path)
	if err != nil {
		seconds, err = c.bannerDuration(ctx, path)
		if err != nil {
			return Source{}, fmt.Errorf("%w: %w", ErrDecode, err)
		}
	}

	return Source{
		Path:       path,
		DurationMs: int64(math.Round(seconds * 1000)),
	}, nil
}

// Encode implements Codec.Encode by re-encoding the window into the target muxer.
func (c *FFmpegCodec) Encode(ctx context.Context, src Source, w Window, format, dst string) error {
	if w.DurationMs() <= 0 {
		return fmt.Errorf("%w: empty window %d", ErrEncode, w.Index)
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0750); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}

	args := []string{
		"-y", // Overwrite output
		"-hide_banner",
		"-ss", formatSeconds(w.StartMs),
		"-t", formatSeconds(w.DurationMs()),
		"-i", src.Path,
		"-vn", // Drop embedded cover art
		"-f", format,
		dst,
	}
	if err := c.runFFmpeg(ctx, args); err != nil {
		return fmt.Errorf("%w: window %d: %w", ErrEncode, w.Index, err)
	}
	return nil
}

// probeDuration returns the container duration in seconds using ffprobe.
func (c *FFmpegCodec) probeDuration(ctx context.Context, path string) (float64, error) {
	// #nosec G204 - ffprobePath is set by the application, not user input
	cmd := exec.CommandContext(ctx, c.ffprobePath,
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		path,
	)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return 0, fmt.Errorf("ffprobe cancelled: %w", ctx.Err())
		}
		return 0, fmt.Errorf("ffprobe: %w, stderr: %s", err, stderr.String())
	}

	duration, err := strconv.ParseFloat(strings.TrimSpace(stdout.String()), 64)
	if err != nil {
		return 0, fmt.Errorf("parse duration %q: %w", strings.TrimSpace(stdout.String()), err)
	}
	return duration, nil
}

// bannerDuration parses the Duration line ffmpeg prints for its input.
func (c *FFmpegCodec) bannerDuration(ctx context.Context, path string) (float64, error) {
	// #nosec G204 - ffmpegPath is set by the application, not user input
	cmd := exec.CommandContext(ctx, c.ffmpegPath,
		"-hide_banner",
		"-i", path,
		"-f", "null", "-",
	)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	// ffmpeg exits non-zero for some inputs even after printing the header
	_ = cmd.Run()
	if ctx.Err() != nil {
		return 0, fmt.Errorf("ffmpeg cancelled: %w", ctx.Err())
	}

	return parseDuration(stderr.String())
}

// parseDuration extracts "Duration: HH:MM:SS.ff" from ffmpeg output as seconds.
func parseDuration(output string) (float64, error) {
	matches := durationRe.FindStringSubmatch(output)
	if len(matches) < 5 {
		return 0, fmt.Errorf("could not parse duration from ffmpeg output")
	}

	hours, _ := strconv.ParseFloat(matches[1], 64)
	minutes, _ := strconv.ParseFloat(matches[2], 64)
	seconds, _ := strconv.ParseFloat(matches[3], 64)
	frac, _ := strconv.ParseFloat("0."+matches[4], 64)

	return hours*3600 + minutes*60 + seconds + frac, nil
}

// formatSeconds renders a millisecond offset the way ffmpeg expects it.
func formatSeconds(ms int64) string {
	return fmt.Sprintf("%d.%03d", ms/1000, ms%1000)
}

// runFFmpeg executes ffmpeg with the given arguments and returns an error
// containing stderr output if the command fails.
func (c *FFmpegCodec) runFFmpeg(ctx context.Context, args []string) error {
	// #nosec G204 - ffmpegPath is set by the application, not user input
	cmd := exec.CommandContext(ctx, c.ffmpegPath, args...)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("ffmpeg cancelled: %w", ctx.Err())
		}
		return &FFmpegError{
			Args:   args,
			Stderr: stderr.String(),
			Err:    err,
		}
	}

	return nil
}

// FFmpegError represents an error from running ffmpeg, including the stderr output.
type FFmpegError struct {
	Args   []string
	Stderr string
	Err    error
}

func (e *FFmpegError) Error() string {
	return fmt.Sprintf("ffmpeg error: %v\nargs: %v\nstderr: %s", e.Err, e.Args, e.Stderr)
}

func (e *FFmpegError) Unwrap() error {
	return e.Err
}
