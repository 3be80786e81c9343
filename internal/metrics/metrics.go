// Package metrics exports pipeline activity to Prometheus.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"meeting-assistant-go/internal/pipeline"
	"meeting-assistant-go/internal/types"
)

const namespace = "meeting_pipeline"

// Metrics implements pipeline.Observer.
type Metrics struct {
	runs            *prometheus.CounterVec
	runDuration     *prometheus.HistogramVec
	attempts        *prometheus.CounterVec
	attemptDuration *prometheus.HistogramVec
	inFlight        prometheus.Gauge
	rejected        prometheus.Counter
}

// New registers the collectors on reg. A nil reg leaves them unregistered.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		runs: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Finished pipeline runs by status and failing stage.",
		}, []string{"status", "error_stage"}),
		runDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Wall time of a pipeline run.",
			Buckets:   []float64{0.5, 1, 2.5, 5, 10, 20, 40, 80, 160},
		}, []string{"status"}),
		attempts: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "attempts_total",
			Help:      "Outbound call attempts by service and outcome.",
		}, []string{"service", "outcome"}),
		attemptDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "attempt_duration_seconds",
			Help:      "Latency of a single outbound attempt.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
		}, []string{"service"}),
		inFlight: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "runs_in_flight",
			Help:      "Runs currently holding a worker slot.",
		}),
		rejected: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_rejected_total",
			Help:      "Requests turned away because no worker slot was free.",
		}),
	}
}

func (m *Metrics) ObserveAttempt(a types.AttemptRecord) {
	m.attempts.WithLabelValues(a.Service, string(a.Outcome)).Inc()
	m.attemptDuration.WithLabelValues(a.Service).Observe(a.Duration.Seconds())
}

func (m *Metrics) ObserveRun(r *pipeline.Run) {
	stage := ""
	if r.Err != nil {
		stage = string(r.Err.Stage)
	}
	m.runs.WithLabelValues(string(r.Status), stage).Inc()
	m.runDuration.WithLabelValues(string(r.Status)).Observe(r.Duration().Seconds())
}

func (m *Metrics) RunStarted()  { m.inFlight.Inc() }
func (m *Metrics) RunFinished() { m.inFlight.Dec() }
func (m *Metrics) RunRejected() { m.rejected.Inc() }
