package audio

import (
	"path/filepath"
	"strings"
)

// containerFormats maps file extensions to the ffmpeg muxer that writes them
// when the two names differ.
var containerFormats = map[string]string{
	"m4a":  "mp4",
	"m4b":  "mp4",
	"aac":  "adts",
	"wma":  "asf",
	"mka":  "matroska",
	"oga":  "ogg",
	"opus": "ogg",
	"weba": "webm",
}

// Extension returns the lowercased extension of name including the leading dot,
// or an empty string when name has none.
func Extension(name string) string {
	ext := filepath.Ext(filepath.Base(name))
	if ext == "." {
		return ""
	}
	return strings.ToLower(ext)
}

// EncoderFormat returns the muxer name used to encode a file with the given
// extension. The extension may be given with or without its leading dot.
func EncoderFormat(ext string) string {
	name := strings.ToLower(strings.TrimPrefix(ext, "."))
	if format, ok := containerFormats[name]; ok {
		return format
	}
	return name
}
