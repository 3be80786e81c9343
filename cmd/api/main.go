package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"meeting-assistant-go/internal/audio"
	"meeting-assistant-go/internal/config"
	"meeting-assistant-go/internal/handler"
	"meeting-assistant-go/internal/logger"
	"meeting-assistant-go/internal/metrics"
	"meeting-assistant-go/internal/pipeline"
	"meeting-assistant-go/internal/resilient"
	"meeting-assistant-go/internal/summarizer"
	"meeting-assistant-go/internal/transcription"
)

func main() {
	_ = godotenv.Load() // loads .env

	log := logger.New()
	log.WithField("service", "meeting-assistant-go").Info("starting service")

	cfg, err := config.Load()
	if err != nil {
		log.WithError(err).Fatal("invalid configuration")
	}

	caller := resilient.New(resilient.NewHTTPClient(), resilient.PolicyFromConfig(cfg.Pipeline), log.Entry)
	normalizer := audio.NewNormalizer(cfg.Pipeline.TargetSampleRate, cfg.FFmpegPath, log.Entry)
	asr := transcription.New(cfg.Bhashini, caller, log.Entry)
	llm := summarizer.New(cfg.Gemini, caller, log.Entry)

	if !asr.Configured() {
		log.Warn("BHASHINI_AUTH_TOKEN not set; transcription calls will fail")
	}
	if !llm.Configured() {
		log.Warn("GEMINI_API_KEY not set; runs will end partial")
	}
	if !normalizer.FallbackAvailable() {
		log.WithField("ffmpeg", cfg.FFmpegPath).Warn("ffmpeg not found; only wav and mp3 can be decoded")
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	pipe := pipeline.New(normalizer, asr, llm, pipeline.Options{
		Deadline: cfg.Pipeline.RequestDeadline,
		Observer: m,
	}, log.Entry)

	h := handler.New(pipe, handler.Options{
		MaxConcurrentRuns: cfg.MaxConcurrentRuns,
		QueueWait:         cfg.QueueWait,
		MaxUploadBytes:    cfg.MaxUploadBytes,
		Gauge:             m,
		Checks: map[string]handler.Check{
			transcription.Service: asr.Configured,
			summarizer.Service:    llm.Configured,
			"ffmpeg":              normalizer.FallbackAvailable,
		},
	}, log)

	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           h.Routes(promhttp.HandlerFor(reg, promhttp.HandlerOpts{})),
		ReadHeaderTimeout: 15 * time.Second,
		// uploads are streamed into the run, so reads share the run budget
		ReadTimeout:  cfg.Pipeline.RequestDeadline + cfg.QueueWait,
		WriteTimeout: cfg.Pipeline.RequestDeadline + cfg.QueueWait + 30*time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		log.WithField("addr", addr).Info("listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Fatal("server terminated")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	sig := <-stop
	log.WithField("signal", sig.String()).Info("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Pipeline.RequestDeadline)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.WithError(err).Error("graceful shutdown failed")
	}
}
