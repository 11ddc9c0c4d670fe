// Package audio provides overlapping window computation and the codec
// boundary used to cut an audio file into chunk artifacts.
package audio

import (
	"context"
	"errors"
)

// Static errors for codec operations.
var (
	// ErrDecode is returned when a source file cannot be opened as audio.
	ErrDecode = errors.New("decode audio")
	// ErrEncode is returned when a window cannot be encoded into its artifact.
	ErrEncode = errors.New("encode audio")
)

// Source is a decoded audio input ready to be cut into windows.
type Source struct {
	// Path is the location of the input file on scratch storage.
	Path string
	// DurationMs is the total playable length in milliseconds.
	DurationMs int64
}

// Codec defines the decoding and encoding capabilities the chunk producer relies on.
type Codec interface {
	// Decode inspects the file at path and returns it as a Source.
	// Errors wrap ErrDecode.
	Decode(ctx context.Context, path string) (Source, error)

	// Encode writes the samples covered by w to dst using the given muxer format.
	// Errors wrap ErrEncode.
	Encode(ctx context.Context, src Source, w Window, format, dst string) error
}
