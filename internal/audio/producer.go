package audio

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
)

// Artifact is one encoded window written to scratch storage.
type Artifact struct {
	// Name is the file name inside the output directory, e.g. "chunk_1.mp3".
	Name string
	// Path is the absolute location of the file.
	Path string
	// Window is the slice of the source the artifact covers.
	Window Window
}

// ArtifactName returns the deterministic file name for the window at the
// given 1-based index, keeping the original extension.
func ArtifactName(index int, ext string) string {
	return fmt.Sprintf("chunk_%d%s", index, ext)
}

// Producer materializes windows into artifacts through a Codec.
type Producer struct {
	codec  Codec
	logger *slog.Logger
}

// NewProducer creates a new Producer.
func NewProducer(codec Codec, logger *slog.Logger) *Producer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Producer{codec: codec, logger: logger}
}

// Produce encodes every window of src, in order, into outputDir using the
// muxer that matches ext. Each encode finishes before the next begins.
//
// Cancellation of ctx is honoured between windows. On any failure the
// artifacts written so far are returned together with the error so the
// caller can remove them; there is no partial success.
func (p *Producer) Produce(ctx context.Context, src Source, windows []Window, ext, outputDir string) ([]Artifact, error) {
	format := EncoderFormat(ext)
	artifacts := make([]Artifact, 0, len(windows))

	for _, w := range windows {
		if err := ctx.Err(); err != nil {
			return artifacts, fmt.Errorf("stopped before window %d: %w", w.Index, err)
		}

		name := ArtifactName(w.Index, ext)
		dst := filepath.Join(outputDir, name)

		if err := p.codec.Encode(ctx, src, w, format, dst); err != nil {
			// The encoder may have left a truncated file behind.
			return append(artifacts, Artifact{Name: name, Path: dst, Window: w}), err
		}

		artifacts = append(artifacts, Artifact{Name: name, Path: dst, Window: w})
		p.logger.Debug("chunk encoded",
			slog.String("file", name),
			slog.Int64("start_ms", w.StartMs),
			slog.Int64("end_ms", w.EndMs),
			slog.String("format", format),
		)
	}

	return artifacts, nil
}
