// Package metrics records Prometheus metrics for wizard transitions,
// collaborator calls and HTTP traffic.
package metrics

import (
	"errors"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/jonathan/resume-tailor/internal/wizard"
)

// Operation results.
const (
	ResultOK       = "ok"
	ResultRejected = "rejected"
	ResultError    = "error"
)

// Recorder holds the registered collectors.
type Recorder struct {
	operationsTotal   *prometheus.CounterVec
	activeSessions    prometheus.Gauge
	llmRequestsTotal  *prometheus.CounterVec
	llmDuration       *prometheus.HistogramVec
	exportsTotal      *prometheus.CounterVec
	httpRequestsTotal *prometheus.CounterVec
	httpDuration      *prometheus.HistogramVec
}

// NewRecorder registers the collectors with reg.
func NewRecorder(reg prometheus.Registerer) *Recorder {
	factory := promauto.With(reg)
	return &Recorder{
		operationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wizard_operations_total",
				Help: "Wizard controller operations by op, source step, target step and result",
			},
			[]string{"op", "from", "to", "result"},
		),
		activeSessions: factory.NewGauge(prometheus.GaugeOpts{
			Name: "wizard_active_sessions",
			Help: "Wizard sessions with a controller loaded in memory",
		}),
		llmRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "llm_requests_total",
				Help: "LLM calls by collaborator endpoint and status",
			},
			[]string{"endpoint", "status"},
		),
		llmDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "llm_request_duration_seconds",
				Help:    "Duration of LLM calls in seconds",
				Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 180},
			},
			[]string{"endpoint"},
		),
		exportsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "exports_total",
				Help: "Rendered resume exports by format and whether they were stored",
			},
			[]string{"format", "stored"},
		),
		httpRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "HTTP requests by method, route and status code",
			},
			[]string{"method", "route", "code"},
		),
		httpDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
	}
}

// Observe implements wizard.Observer.
func (r *Recorder) Observe(e wizard.Event) {
	r.operationsTotal.WithLabelValues(e.Op, e.From.String(), e.To.String(), resultOf(e.Err)).Inc()
}

func resultOf(err error) string {
	var te *wizard.TransitionError
	switch {
	case err == nil:
		return ResultOK
	case errors.As(err, &te):
		return ResultRejected
	default:
		return ResultError
	}
}

// SessionLoaded and SessionEvicted track controllers held in memory.
func (r *Recorder) SessionLoaded()  { r.activeSessions.Inc() }
func (r *Recorder) SessionEvicted() { r.activeSessions.Dec() }

// ObserveLLM records one collaborator LLM call.
func (r *Recorder) ObserveLLM(endpoint string, err error, duration time.Duration) {
	status := "success"
	if err != nil {
		status = "error"
	}
	r.llmRequestsTotal.WithLabelValues(endpoint, status).Inc()
	r.llmDuration.WithLabelValues(endpoint).Observe(duration.Seconds())
}

// IncExport counts a rendered export.
func (r *Recorder) IncExport(format string, stored bool) {
	r.exportsTotal.WithLabelValues(format, strconv.FormatBool(stored)).Inc()
}

// ObserveHTTP records one served request.
func (r *Recorder) ObserveHTTP(method, route string, code int, duration time.Duration) {
	r.httpRequestsTotal.WithLabelValues(method, route, strconv.Itoa(code)).Inc()
	r.httpDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}
