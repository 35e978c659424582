// Package metrics exposes collector counters in Prometheus format.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/ternarybob/arbor"
)

// Metrics holds the collector's counters on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	comments    *prometheus.CounterVec
	requests    *prometheus.CounterVec
	retries     prometheus.Counter
	flushes     *prometheus.CounterVec
	videos      *prometheus.CounterVec
	inFlight    prometheus.Gauge
	flushedRecs *prometheus.CounterVec
}

// New creates and registers all collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		comments: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ytcomments_comments_total",
			Help: "Comments emitted by the tree walker, by kind (top, reply).",
		}, []string{"kind"}),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ytcomments_api_requests_total",
			Help: "Outbound API requests by endpoint and outcome (ok, transient, fatal).",
		}, []string{"endpoint", "outcome"}),
		retries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ytcomments_fetch_retries_total",
			Help: "Page requests retried after a transient failure.",
		}),
		flushes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ytcomments_flushes_total",
			Help: "Sink flushes by sink (jsonl, csv) and outcome (ok, error).",
		}, []string{"sink", "outcome"}),
		flushedRecs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ytcomments_flushed_records_total",
			Help: "Records durably written, by sink.",
		}, []string{"sink"}),
		videos: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ytcomments_videos_total",
			Help: "Videos reaching a terminal state, by status.",
		}, []string{"status"}),
		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ytcomments_videos_in_flight",
			Help: "Videos currently being collected.",
		}),
	}
	m.registry.MustRegister(m.comments, m.requests, m.retries, m.flushes, m.flushedRecs, m.videos, m.inFlight)
	return m
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) IncComment(reply bool) {
	if m == nil {
		return
	}
	kind := "top"
	if reply {
		kind = "reply"
	}
	m.comments.WithLabelValues(kind).Inc()
}

func (m *Metrics) ObserveRequest(endpoint, outcome string) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(endpoint, outcome).Inc()
}

func (m *Metrics) IncRetry() {
	if m == nil {
		return
	}
	m.retries.Inc()
}

func (m *Metrics) ObserveFlush(sink string, records int, err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.flushes.WithLabelValues(sink, "error").Inc()
		return
	}
	m.flushes.WithLabelValues(sink, "ok").Inc()
	m.flushedRecs.WithLabelValues(sink).Add(float64(records))
}

func (m *Metrics) VideoStarted() {
	if m == nil {
		return
	}
	m.inFlight.Inc()
}

func (m *Metrics) VideoFinished(status string) {
	if m == nil {
		return
	}
	m.inFlight.Dec()
	m.videos.WithLabelValues(status).Inc()
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry(), promhttp.HandlerOpts{})
}

// Serve exposes /metrics on addr until ctx is done.
func (m *Metrics) Serve(ctx context.Context, addr string, logger arbor.ILogger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info().Str("addr", addr).Msg("Metrics endpoint listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
