package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"meeting-assistant-go/internal/aggregator"
	"meeting-assistant-go/internal/audio"
	"meeting-assistant-go/internal/config"
	"meeting-assistant-go/internal/dataset"
	"meeting-assistant-go/internal/logger"
	"meeting-assistant-go/internal/pipeline"
	"meeting-assistant-go/internal/resilient"
	"meeting-assistant-go/internal/summarizer"
	"meeting-assistant-go/internal/transcription"
	"meeting-assistant-go/internal/types"
)

func main() {
	manifest := flag.String("manifest", "meetings.xlsx", "spreadsheet listing recordings to process")
	out := flag.String("out", "meeting_results.xlsx", "where to write the results workbook")
	workers := flag.Int("workers", 2, "recordings processed concurrently")
	flag.Parse()

	_ = godotenv.Load()

	log := logger.New()
	log.WithField("service", "meeting-assistant-batch").Info("starting batch")

	cfg := config.MustLoad()

	entries, err := dataset.LoadManifest(*manifest)
	if err != nil {
		log.WithError(err).WithField("manifest", *manifest).Fatal("failed to load manifest")
	}
	log.WithField("recordings", len(entries)).Info("manifest loaded")

	caller := resilient.New(resilient.NewHTTPClient(), resilient.PolicyFromConfig(cfg.Pipeline), log.Entry)
	pipe := pipeline.New(
		audio.NewNormalizer(cfg.Pipeline.TargetSampleRate, cfg.FFmpegPath, log.Entry),
		transcription.New(cfg.Bhashini, caller, log.Entry),
		summarizer.New(cfg.Gemini, caller, log.Entry),
		pipeline.Options{Deadline: cfg.Pipeline.RequestDeadline},
		log.Entry,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	results := make([]dataset.Result, len(entries))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(*workers, 1))
	for i, e := range entries {
		i, e := i, e
		g.Go(func() error {
			results[i] = processEntry(gctx, pipe, e, log.WithField("meeting_id", e.ID))
			return nil
		})
	}
	_ = g.Wait()

	responses := make([]types.Response, len(results))
	for i, r := range results {
		responses[i] = r.Response
	}
	insight := aggregator.Aggregate(responses)
	if err := dataset.WriteResults(*out, results, insight); err != nil {
		log.WithError(err).Fatal("failed to write results")
	}
	log.WithFields(logrus.Fields{
		"out":          *out,
		"runs":         insight.Runs,
		"success_rate": insight.SuccessRate(),
		"retried_runs": insight.RetriedRuns,
	}).Info("batch complete")
}

func processEntry(ctx context.Context, pipe *pipeline.Pipeline, e dataset.Entry, log *logrus.Entry) dataset.Result {
	data, err := os.ReadFile(e.AudioPath)
	if err != nil {
		log.WithError(err).Warn("cannot read recording")
		perr := types.InputErrorf(types.CodeInvalidRequest, "read %s: %v", e.AudioPath, err)
		perr.Stage = types.StageCreated
		return dataset.Result{Entry: e, Response: types.FailureResponse(e.ID, perr)}
	}
	run := pipe.Process(ctx, types.ProcessRequest{
		Audio:           types.AudioInput{Data: data, Filename: filepath.Base(e.AudioPath)},
		Languages:       types.LanguageHints{Source: e.SourceLanguage, Target: e.TargetLanguage},
		PreMeetingNotes: e.Notes,
	})
	log.WithFields(logrus.Fields{
		"run_id":      run.ID,
		"status":      run.Status,
		"duration_ms": run.Duration().Milliseconds(),
	}).Info("recording processed")
	return dataset.Result{Entry: e, Response: run.Response()}
}
