package audio

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"strings"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/hajimehoshi/go-mp3"
)

var (
	// ErrNotHandled is returned by a decoder that does not support the
	// format or encoding.
	ErrNotHandled = errors.New("format not handled by decoder")
	// ErrUnavailable is returned by a decoder that cannot run on this host.
	ErrUnavailable = errors.New("decoder unavailable")
)

// PCM is decoded audio as interleaved samples in [-1, 1].
type PCM struct {
	Samples    []float64
	Channels   int
	SampleRate int
}

func (p *PCM) Frames() int {
	if p == nil || p.Channels == 0 {
		return 0
	}
	return len(p.Samples) / p.Channels
}

// Decoder is one decoding strategy. Implementations hold no state between
// calls.
type Decoder interface {
	Name() string
	Decode(ctx context.Context, format Format, data []byte) (*PCM, error)
}

// safeDecode turns a decoder panic into an error.
func safeDecode(ctx context.Context, d Decoder, format Format, data []byte) (pcm *PCM, err error) {
	defer func() {
		if r := recover(); r != nil {
			pcm = nil
			err = fmt.Errorf("%s decoder panicked: %v", d.Name(), r)
		}
	}()
	return d.Decode(ctx, format, data)
}

// NativeDecoder decodes WAV and MP3 in-process.
type NativeDecoder struct{}

func (NativeDecoder) Name() string { return "native" }

func (NativeDecoder) Decode(_ context.Context, format Format, data []byte) (*PCM, error) {
	switch format {
	case FormatWAV:
		return decodeWAV(data)
	case FormatMP3:
		return decodeMP3(data)
	}
	return nil, ErrNotHandled
}

func decodeWAV(data []byte) (*PCM, error) {
	d := wav.NewDecoder(bytes.NewReader(data))
	if !d.IsValidFile() {
		return nil, errors.New("invalid wav header")
	}
	// 1 is integer PCM; float, extensible and compressed payloads go to ffmpeg.
	if d.WavAudioFormat != 1 {
		return nil, fmt.Errorf("%w: wav encoding %d is not integer pcm", ErrNotHandled, d.WavAudioFormat)
	}
	buf, err := d.FullPCMBuffer()
	if err != nil {
		return nil, fmt.Errorf("read wav samples: %w", err)
	}
	channels := int(d.NumChans)
	bitDepth := int(d.BitDepth)
	if channels < 1 || bitDepth < 8 || bitDepth > 32 || d.SampleRate == 0 {
		return nil, fmt.Errorf("unsupported wav layout: %d ch, %d bit, %d Hz", channels, bitDepth, d.SampleRate)
	}
	return &PCM{
		Samples:    intsToFloat(buf.Data, bitDepth),
		Channels:   channels,
		SampleRate: int(d.SampleRate),
	}, nil
}

func intsToFloat(data []int, bitDepth int) []float64 {
	out := make([]float64, len(data))
	scale := float64(int64(1) << (bitDepth - 1))
	for i, v := range data {
		if bitDepth == 8 {
			// 8-bit wav is unsigned.
			v -= 128
		}
		out[i] = float64(v) / scale
	}
	return out
}

func decodeMP3(data []byte) (*PCM, error) {
	d, err := mp3.NewDecoder(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("open mp3: %w", err)
	}
	raw, err := io.ReadAll(d)
	if err != nil {
		return nil, fmt.Errorf("read mp3 frames: %w", err)
	}
	// go-mp3 always emits 16-bit little-endian stereo.
	return &PCM{Samples: s16leToFloat(raw), Channels: 2, SampleRate: d.SampleRate()}, nil
}

func s16leToFloat(raw []byte) []float64 {
	out := make([]float64, len(raw)/2)
	for i := range out {
		out[i] = float64(int16(binary.LittleEndian.Uint16(raw[2*i:]))) / 32768
	}
	return out
}

// FFmpegDecoder pipes the payload through an ffmpeg subprocess and reads
// mono s16le PCM at the target rate from its stdout. Nothing touches disk.
type FFmpegDecoder struct {
	Path       string
	TargetRate int
}

func (f FFmpegDecoder) Name() string { return "ffmpeg" }

// Available reports whether the ffmpeg binary can be found.
func (f FFmpegDecoder) Available() bool {
	_, err := exec.LookPath(f.Path)
	return err == nil
}

func (f FFmpegDecoder) Decode(ctx context.Context, format Format, data []byte) (*PCM, error) {
	if !f.Available() {
		return nil, fmt.Errorf("%w: ffmpeg not found at %q", ErrUnavailable, f.Path)
	}
	cmd := exec.CommandContext(ctx, f.Path,
		"-hide_banner", "-loglevel", "error",
		"-f", demuxer(format),
		"-i", "pipe:0",
		"-f", "s16le", "-acodec", "pcm_s16le",
		"-ac", "1", "-ar", strconv.Itoa(f.TargetRate),
		"pipe:1",
	)
	var stdout, stderr bytes.Buffer
	cmd.Stdin = bytes.NewReader(data)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if errors.Is(err, exec.ErrNotFound) || errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return nil, fmt.Errorf("ffmpeg: %w: %s", err, msg)
		}
		return nil, fmt.Errorf("ffmpeg: %w", err)
	}
	return &PCM{Samples: s16leToFloat(stdout.Bytes()), Channels: 1, SampleRate: f.TargetRate}, nil
}

func demuxer(f Format) string {
	switch f {
	case FormatM4A:
		return "mov"
	case FormatOGG:
		return "ogg"
	}
	return string(f)
}

// encodeWAV writes mono 16-bit PCM WAV.
func encodeWAV(samples []float64, rate int) ([]byte, error) {
	ints := make([]int, len(samples))
	for i, s := range samples {
		ints[i] = quantize16(s)
	}
	out := &writeSeeker{}
	enc := wav.NewEncoder(out, rate, 16, 1, 1)
	buf := &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: 1, SampleRate: rate},
		Data:           ints,
		SourceBitDepth: 16,
	}
	if err := enc.Write(buf); err != nil {
		return nil, fmt.Errorf("write wav samples: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("finalize wav: %w", err)
	}
	return out.Bytes(), nil
}

func quantize16(s float64) int {
	switch {
	case s >= 1:
		return 32767
	case s <= -1:
		return -32768
	}
	return int(s * 32767)
}

// writeSeeker is an in-memory io.WriteSeeker; the wav encoder seeks back to
// patch chunk sizes on Close.
type writeSeeker struct {
	buf []byte
	pos int
}

func (w *writeSeeker) Write(p []byte) (int, error) {
	if end := w.pos + len(p); end > len(w.buf) {
		w.buf = append(w.buf, make([]byte, end-len(w.buf))...)
	}
	n := copy(w.buf[w.pos:], p)
	w.pos += n
	return n, nil
}

func (w *writeSeeker) Seek(offset int64, whence int) (int64, error) {
	var base int64
	switch whence {
	case io.SeekStart:
	case io.SeekCurrent:
		base = int64(w.pos)
	case io.SeekEnd:
		base = int64(len(w.buf))
	default:
		return 0, fmt.Errorf("seek: invalid whence %d", whence)
	}
	next := base + offset
	if next < 0 {
		return 0, errors.New("seek: negative position")
	}
	w.pos = int(next)
	return next, nil
}

func (w *writeSeeker) Bytes() []byte { return w.buf }
