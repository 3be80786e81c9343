// Package audio turns an uploaded recording into 16-bit mono WAV at a fixed
// sample rate.
package audio

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/sirupsen/logrus"

	"meeting-assistant-go/internal/types"
)

type Normalizer struct {
	targetRate int
	decoders   []Decoder
	ffmpeg     FFmpegDecoder
	log        *logrus.Entry
}

// NewNormalizer builds the decoder chain: in-process decoders first, then
// ffmpeg at ffmpegPath.
func NewNormalizer(targetRate int, ffmpegPath string, log *logrus.Entry) *Normalizer {
	ff := FFmpegDecoder{Path: ffmpegPath, TargetRate: targetRate}
	return &Normalizer{
		targetRate: targetRate,
		decoders:   []Decoder{NativeDecoder{}, ff},
		ffmpeg:     ff,
		log:        log.WithField("component", "audio"),
	}
}

func (n *Normalizer) TargetRate() int { return n.targetRate }

// FallbackAvailable reports whether the ffmpeg decoder can run.
func (n *Normalizer) FallbackAvailable() bool { return n.ffmpeg.Available() }

// Normalize decodes in, down-mixes to mono, resamples to the target rate and
// encodes WAV. Failures are input errors.
func (n *Normalizer) Normalize(ctx context.Context, in types.AudioInput) (types.NormalizedAudio, error) {
	if len(in.Data) == 0 {
		return types.NormalizedAudio{}, types.InputErrorf(types.CodeEmptyAudio, "audio payload is empty")
	}
	format, ok := ResolveFormat(in.Format, in.Filename, in.Data)
	if !ok {
		return types.NormalizedAudio{}, types.InputErrorf(types.CodeUnsupportedFormat,
			"unsupported audio format %q", in.Format)
	}
	log := n.log.WithFields(logrus.Fields{"format": format, "bytes": len(in.Data)})

	pcm, decoder, err := n.decode(ctx, log, format, in.Data)
	if err != nil {
		return types.NormalizedAudio{}, err
	}
	if pcm.Frames() == 0 || pcm.SampleRate <= 0 {
		return types.NormalizedAudio{}, types.InputErrorf(types.CodeEmptyAudio, "audio contains no samples")
	}

	mono := Downmix(pcm.Samples, pcm.Channels)
	resampled := Resample(mono, pcm.SampleRate, n.targetRate)
	data, err := encodeWAV(resampled, n.targetRate)
	if err != nil {
		return types.NormalizedAudio{}, types.NewError(types.KindInternalError, types.CodeInternalError, "encode wav", err)
	}

	out := types.NormalizedAudio{
		Data:       data,
		SampleRate: n.targetRate,
		Channels:   1,
		Encoding:   "pcm_s16le",
		Duration:   time.Duration(float64(len(resampled)) / float64(n.targetRate) * float64(time.Second)),
		Decoder:    decoder,

		SourceFormat: string(format),
	}
	log.WithFields(logrus.Fields{
		"decoder":     decoder,
		"source_rate": pcm.SampleRate,
		"channels":    pcm.Channels,
		"duration_ms": out.Duration.Milliseconds(),
	}).Debug("audio normalized")
	return out, nil
}

func (n *Normalizer) decode(ctx context.Context, log *logrus.Entry, format Format, data []byte) (*PCM, string, error) {
	var errs, unavailable []error
	for _, d := range n.decoders {
		if err := ctx.Err(); err != nil {
			return nil, "", types.NewError(types.KindDeadlineExceeded, types.CodeDecodeError, "decoding interrupted", err)
		}
		pcm, err := safeDecode(ctx, d, format, data)
		switch {
		case err == nil:
			return pcm, d.Name(), nil
		case errors.Is(err, ErrUnavailable):
			log.WithField("decoder", d.Name()).WithError(err).Warn("decoder unavailable")
			unavailable = append(unavailable, err)
		case errors.Is(err, ErrNotHandled):
		default:
			log.WithField("decoder", d.Name()).WithError(err).Debug("decoder failed")
			errs = append(errs, err)
		}
	}
	// Only a decoder that actually read the payload can call it corrupt.
	if len(errs) == 0 && len(unavailable) > 0 {
		return nil, "", types.NewError(types.KindInternalError, types.CodeDecoderUnavailable,
			fmt.Sprintf("no decoder available for %s audio", format), errors.Join(unavailable...))
	}
	return nil, "", types.NewError(types.KindInputError, types.CodeDecodeError,
		"audio could not be decoded", errors.Join(append(errs, unavailable...)...))
}

// Downmix averages interleaved channels into one.
func Downmix(samples []float64, channels int) []float64 {
	if channels <= 1 {
		return samples
	}
	frames := len(samples) / channels
	out := make([]float64, frames)
	for i := 0; i < frames; i++ {
		var sum float64
		for c := 0; c < channels; c++ {
			sum += samples[i*channels+c]
		}
		out[i] = sum / float64(channels)
	}
	return out
}

// Resample converts mono samples from rate `from` to rate `to` by linear
// interpolation.
func Resample(samples []float64, from, to int) []float64 {
	if from == to || len(samples) == 0 {
		return samples
	}
	n := int(math.Round(float64(len(samples)) * float64(to) / float64(from)))
	if n < 1 {
		n = 1
	}
	out := make([]float64, n)
	step := float64(from) / float64(to)
	last := len(samples) - 1
	for i := range out {
		pos := float64(i) * step
		i0 := int(pos)
		if i0 >= last {
			out[i] = samples[last]
			continue
		}
		frac := pos - float64(i0)
		out[i] = samples[i0]*(1-frac) + samples[i0+1]*frac
	}
	return out
}
