// Package metrics holds the server's Prometheus collectors and serves them
// in the text exposition format.
package metrics

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
)

// Metrics is the set of collectors registered on a private registry.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	reg *prometheus.Registry

	requests     *prometheus.CounterVec
	duration     *prometheus.HistogramVec
	streams      prometheus.Gauge
	ingested     *prometheus.CounterVec
	ingestErrors *prometheus.CounterVec
	reloads      *prometheus.CounterVec
}

// New creates and registers every collector, including the Go runtime and
// process collectors.
func New() *Metrics {
	m := &Metrics{
		reg: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "analytics_requests_total",
			Help: "Module responses by module and HTTP status code.",
		}, []string{"module", "code"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "analytics_compute_seconds",
			Help:    "Time spent computing one module response.",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
		}, []string{"module"}),
		streams: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "analytics_active_streams",
			Help: "Streaming HTTP and WebSocket responses currently open.",
		}),
		ingested: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "analytics_samples_ingested_total",
			Help: "Samples written to the store by ingest source.",
		}, []string{"source"}),
		ingestErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "analytics_ingest_errors_total",
			Help: "Ingest messages that could not be decoded or stored.",
		}, []string{"source"}),
		reloads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "analytics_rules_reloads_total",
			Help: "Rules configuration reloads by result.",
		}, []string{"result"}),
	}
	m.reg.MustRegister(
		m.requests, m.duration, m.streams, m.ingested, m.ingestErrors, m.reloads,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.reg }

// ObserveRequest records one module response.
func (m *Metrics) ObserveRequest(module string, code int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(module, strconv.Itoa(code)).Inc()
	m.duration.WithLabelValues(module).Observe(elapsed.Seconds())
}

// StreamOpened increments the open stream gauge and returns a func that
// decrements it.
func (m *Metrics) StreamOpened() (closed func()) {
	if m == nil {
		return func() {}
	}
	m.streams.Inc()
	return m.streams.Dec
}

// Ingested adds n stored samples for source.
func (m *Metrics) Ingested(source string, n int) {
	if m == nil {
		return
	}
	m.ingested.WithLabelValues(source).Add(float64(n))
}

// IngestFailed counts one rejected ingest message for source.
func (m *Metrics) IngestFailed(source string) {
	if m == nil {
		return
	}
	m.ingestErrors.WithLabelValues(source).Inc()
}

// RulesReloaded counts a rules reload attempt.
func (m *Metrics) RulesReloaded(err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.reloads.WithLabelValues(result).Inc()
}

// Handler serves the registry in the exposition format negotiated from the
// request's Accept header.
func (m *Metrics) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mfs, err := m.reg.Gather()
		if err != nil {
			slog.Error("metrics: gather", "err", err)
			http.Error(w, "gather metrics: "+err.Error(), http.StatusInternalServerError)
			return
		}
		format := expfmt.Negotiate(r.Header)
		w.Header().Set("Content-Type", string(format))
		if err := encode(w, format, mfs); err != nil {
			slog.Warn("metrics: encode", "err", err)
		}
	})
}

func encode(w http.ResponseWriter, format expfmt.Format, mfs []*dto.MetricFamily) error {
	enc := expfmt.NewEncoder(w, format)
	for _, mf := range mfs {
		if err := enc.Encode(mf); err != nil {
			return err
		}
	}
	if c, ok := enc.(expfmt.Closer); ok {
		return c.Close()
	}
	return nil
}
