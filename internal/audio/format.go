package audio

import (
	"bytes"
	"path/filepath"
	"strings"
)

// Format is a container format accepted at ingress.
type Format string

const (
	FormatWAV  Format = "wav"
	FormatMP3  Format = "mp3"
	FormatFLAC Format = "flac"
	FormatM4A  Format = "m4a"
	FormatOGG  Format = "ogg"
)

// Supported lists the accepted formats in catalog order.
var Supported = []Format{FormatWAV, FormatMP3, FormatFLAC, FormatM4A, FormatOGG}

var mimeFormats = map[string]Format{
	"audio/wav":       FormatWAV,
	"audio/x-wav":     FormatWAV,
	"audio/wave":      FormatWAV,
	"audio/vnd.wave":  FormatWAV,
	"audio/mpeg":      FormatMP3,
	"audio/mp3":       FormatMP3,
	"audio/mpeg3":     FormatMP3,
	"audio/x-mpeg-3":  FormatMP3,
	"audio/flac":      FormatFLAC,
	"audio/x-flac":    FormatFLAC,
	"audio/mp4":       FormatM4A,
	"audio/m4a":       FormatM4A,
	"audio/x-m4a":     FormatM4A,
	"audio/ogg":       FormatOGG,
	"application/ogg": FormatOGG,
	"audio/opus":      FormatOGG,
}

var extFormats = map[string]Format{
	"wav":  FormatWAV,
	"wave": FormatWAV,
	"mp3":  FormatMP3,
	"flac": FormatFLAC,
	"m4a":  FormatM4A,
	"mp4":  FormatM4A,
	"ogg":  FormatOGG,
	"oga":  FormatOGG,
	"opus": FormatOGG,
}

// ParseFormat maps a MIME type, a bare extension (".mp3", "mp3") or a
// format name onto a Format.
func ParseFormat(declared string) (Format, bool) {
	s := strings.ToLower(strings.TrimSpace(declared))
	if i := strings.IndexByte(s, ';'); i >= 0 {
		s = strings.TrimSpace(s[:i])
	}
	if s == "" {
		return "", false
	}
	if f, ok := mimeFormats[s]; ok {
		return f, true
	}
	f, ok := extFormats[strings.TrimPrefix(s, ".")]
	return f, ok
}

// Sniff recognizes a format from its leading magic bytes.
func Sniff(data []byte) (Format, bool) {
	switch {
	case len(data) >= 12 && bytes.Equal(data[:4], []byte("RIFF")) && bytes.Equal(data[8:12], []byte("WAVE")):
		return FormatWAV, true
	case bytes.HasPrefix(data, []byte("fLaC")):
		return FormatFLAC, true
	case bytes.HasPrefix(data, []byte("OggS")):
		return FormatOGG, true
	case len(data) >= 8 && bytes.Equal(data[4:8], []byte("ftyp")):
		return FormatM4A, true
	case bytes.HasPrefix(data, []byte("ID3")):
		return FormatMP3, true
	case len(data) >= 2 && data[0] == 0xFF && data[1]&0xE0 == 0xE0:
		return FormatMP3, true
	}
	return "", false
}

// ResolveFormat tries the declared format, then the filename extension,
// then the payload's magic bytes.
func ResolveFormat(declared, filename string, data []byte) (Format, bool) {
	if f, ok := ParseFormat(declared); ok {
		return f, true
	}
	if ext := filepath.Ext(filename); ext != "" {
		if f, ok := ParseFormat(ext); ok {
			return f, true
		}
	}
	return Sniff(data)
}
