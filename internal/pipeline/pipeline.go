// Package pipeline runs one meeting recording through normalization,
// transcription and summarization, in that order.
package pipeline

import (
	"context"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"meeting-assistant-go/internal/resilient"
	"meeting-assistant-go/internal/types"
)

type Normalizer interface {
	Normalize(ctx context.Context, in types.AudioInput) (types.NormalizedAudio, error)
}

type Transcriber interface {
	Transcribe(ctx context.Context, rec resilient.Recorder, audio types.NormalizedAudio, hints types.LanguageHints) (types.TranscriptionResult, error)
}

type Summarizer interface {
	Summarize(ctx context.Context, rec resilient.Recorder, tr types.TranscriptionResult, notes string) (types.SummaryResult, error)
}

// Observer is told about every attempt as it happens and about each run
// once it has finished.
type Observer interface {
	ObserveAttempt(types.AttemptRecord)
	ObserveRun(*Run)
}

type Options struct {
	// Deadline bounds a whole run. Zero leaves only the caller's context.
	Deadline time.Duration
	Observer Observer
}

type Pipeline struct {
	normalizer  Normalizer
	transcriber Transcriber
	summarizer  Summarizer
	opts        Options
	log         *logrus.Entry
}

func New(n Normalizer, t Transcriber, s Summarizer, opts Options, log *logrus.Entry) *Pipeline {
	return &Pipeline{
		normalizer:  n,
		transcriber: t,
		summarizer:  s,
		opts:        opts,
		log:         log.WithField("component", "pipeline"),
	}
}

// Process executes req and returns the finished run. It never returns nil;
// failures are recorded on the run.
func (p *Pipeline) Process(ctx context.Context, req types.ProcessRequest) *Run {
	if p.opts.Deadline > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.opts.Deadline)
		defer cancel()
	}

	run := newRun(req, p.opts.Observer)
	log := p.log.WithField("run_id", run.ID)
	defer p.finish(run, log)

	run.advance(types.StageNormalizing)
	if err := expired(ctx); err != nil {
		run.fail(err)
		return run
	}
	audio, err := p.normalizer.Normalize(ctx, run.Request.Audio)
	if err != nil {
		run.fail(p.typed(ctx, err, log))
		return run
	}
	run.Audio = &audio
	// The raw upload is no longer needed.
	run.Request.Audio.Data = nil

	run.advance(types.StageTranscribing)
	if err := expired(ctx); err != nil {
		run.fail(err)
		return run
	}
	tr, err := p.transcriber.Transcribe(ctx, run, audio, run.Request.Languages)
	if err != nil {
		run.fail(p.typed(ctx, err, log))
		return run
	}
	run.Transcription = &tr

	run.advance(types.StageSummarizing)
	if err := expired(ctx); err != nil {
		run.degrade(err)
		return run
	}
	sum, err := p.summarizer.Summarize(ctx, run, tr, strings.TrimSpace(run.Request.PreMeetingNotes))
	if err != nil {
		run.degrade(p.typed(ctx, err, log))
		return run
	}
	run.Summary = &sum
	run.complete()
	return run
}

func (p *Pipeline) finish(run *Run, log *logrus.Entry) {
	run.Finished = time.Now()
	fields := logrus.Fields{
		"status":      run.Status,
		"attempts":    len(run.Attempts),
		"duration_ms": run.Duration().Milliseconds(),
	}
	if run.Err != nil {
		fields["error_kind"] = run.Err.Kind
		fields["error_code"] = run.Err.Code
		fields["error_stage"] = run.Err.Stage
		log.WithFields(fields).WithError(run.Err).Warn("run finished with error")
	} else {
		log.WithFields(fields).Info("run finished")
	}
	if p.opts.Observer != nil {
		p.opts.Observer.ObserveRun(run)
	}
}

// typed passes *types.Error through and wraps anything else as an
// internal error. A failure that races the deadline is reported as the
// deadline.
func (p *Pipeline) typed(ctx context.Context, err error, log *logrus.Entry) *types.Error {
	e, ok := types.AsError(err)
	if ctx.Err() != nil && (!ok || e.Kind != types.KindDeadlineExceeded) {
		return types.NewError(types.KindDeadlineExceeded, types.CodeDeadlineExceeded, "request deadline exceeded", err)
	}
	if ok {
		return e
	}
	log.WithError(err).Error("untyped stage failure")
	return types.NewError(types.KindInternalError, types.CodeInternalError, "unexpected failure", err)
}

func expired(ctx context.Context) *types.Error {
	if err := ctx.Err(); err != nil {
		return types.NewError(types.KindDeadlineExceeded, types.CodeDeadlineExceeded, "request deadline exceeded", err)
	}
	return nil
}
