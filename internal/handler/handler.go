// Package handler exposes the pipeline over HTTP.
package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"

	"meeting-assistant-go/internal/logger"
	"meeting-assistant-go/internal/pipeline"
	"meeting-assistant-go/internal/transcription"
	"meeting-assistant-go/internal/types"
)

type Processor interface {
	Process(ctx context.Context, req types.ProcessRequest) *pipeline.Run
}

// RunGauge is told when runs take and release a worker slot.
type RunGauge interface {
	RunStarted()
	RunFinished()
	RunRejected()
}

// Check reports whether a dependency is usable.
type Check func() bool

type Options struct {
	MaxConcurrentRuns int64
	// QueueWait is how long a request may wait for a worker slot.
	QueueWait      time.Duration
	MaxUploadBytes int64
	Checks         map[string]Check
	Gauge          RunGauge
}

type Handler struct {
	proc Processor
	sem  *semaphore.Weighted
	opts Options
	log  *logger.Logger
}

func New(proc Processor, opts Options, log *logger.Logger) *Handler {
	if opts.MaxConcurrentRuns < 1 {
		opts.MaxConcurrentRuns = 1
	}
	return &Handler{
		proc: proc,
		sem:  semaphore.NewWeighted(opts.MaxConcurrentRuns),
		opts: opts,
		log:  log,
	}
}

// Routes builds the router. metrics may be nil.
func (h *Handler) Routes(metrics http.Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-ID"},
		ExposedHeaders: []string{"X-Request-ID"},
		MaxAge:         300,
	}))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "ok")
	})
	if metrics != nil {
		r.Handle("/metrics", metrics)
	}
	r.Route("/api/v1", func(api chi.Router) {
		api.Post("/process", h.Process)
		api.Get("/health", h.Health)
		api.Get("/languages", h.Languages)
		api.Get("/formats", h.Formats)
	})
	return r
}

// Process runs one recording through the pipeline and always answers with
// a types.Response.
func (h *Handler) Process(w http.ResponseWriter, r *http.Request) {
	reqID := logger.RequestID(r)
	r.Header.Set("X-Request-ID", reqID)
	w.Header().Set("X-Request-ID", reqID)
	reqLog := h.log.WithRequest(r).WithField("handler", "process")

	// Parse before taking a slot so a slow upload does not hold one.
	req, perr := h.parse(w, r)
	if perr != nil {
		reqLog.WithField("error_code", perr.Code).WithError(perr).Warn("rejected request")
		h.reject(w, perr, pipeline.StatusFor(perr))
		return
	}

	if !h.acquire(r.Context()) {
		reqLog.Warn("no worker slot available")
		h.reject(w, types.NewError(types.KindInternalError, types.CodeInternalError, "server busy, retry later", nil), http.StatusServiceUnavailable)
		return
	}
	defer h.release()
	reqLog = reqLog.WithFields(logrus.Fields{
		"bytes":  len(req.Audio.Data),
		"format": req.Audio.Format,
		"source": req.Languages.Source,
		"target": req.Languages.Target,
	})
	reqLog.Info("process request received")

	run := h.proc.Process(r.Context(), req)
	reqLog.WithFields(logrus.Fields{
		"run_id":      run.ID,
		"status":      run.Status,
		"duration_ms": run.Duration().Milliseconds(),
	}).Info("processor finished")
	writeJSON(w, run.HTTPStatus(), run.Response(), reqLog)
}

func (h *Handler) acquire(ctx context.Context) bool {
	ok := h.sem.TryAcquire(1)
	if !ok && h.opts.QueueWait > 0 {
		wctx, cancel := context.WithTimeout(ctx, h.opts.QueueWait)
		defer cancel()
		ok = h.sem.Acquire(wctx, 1) == nil
	}
	if h.opts.Gauge != nil {
		if ok {
			h.opts.Gauge.RunStarted()
		} else {
			h.opts.Gauge.RunRejected()
		}
	}
	return ok
}

func (h *Handler) release() {
	h.sem.Release(1)
	if h.opts.Gauge != nil {
		h.opts.Gauge.RunFinished()
	}
}

func (h *Handler) reject(w http.ResponseWriter, err *types.Error, status int) {
	err.Stage = types.StageCreated
	resp := types.FailureResponse(uuidString(), err)
	resp.Metadata.ProcessedAt = time.Now().UTC().Format(time.RFC3339)
	writeJSON(w, status, resp, h.log.Entry)
}

type healthResponse struct {
	Status    string            `json:"status"`
	Services  map[string]string `json:"services"`
	Timestamp string            `json:"timestamp"`
}

// Health reports whether each outbound dependency is configured.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{
		Status:    "healthy",
		Services:  map[string]string{},
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
	for name, check := range h.opts.Checks {
		if check() {
			resp.Services[name] = "healthy"
			continue
		}
		resp.Services[name] = "unhealthy - not configured"
		resp.Status = "degraded"
	}
	status := http.StatusOK
	if resp.Status != "healthy" {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp, h.log.WithRequest(r))
}

func (h *Handler) Languages(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"languages": transcription.Languages()}, h.log.Entry)
}

func (h *Handler) Formats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"formats": transcription.Formats()}, h.log.Entry)
}

func writeJSON(w http.ResponseWriter, status int, v any, log *logrus.Entry) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		log.WithError(err).Error("failed to write response")
	}
}
