// Package metrics provides Prometheus metrics for the engagement pipeline
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the pipeline. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	// Scheduling loop metrics
	TicksTotal   *prometheus.CounterVec
	TickDuration *prometheus.HistogramVec

	// Pipeline metrics
	LeadsTotal            *prometheus.CounterVec
	RepliesTotal          *prometheus.CounterVec
	ProviderAttemptsTotal *prometheus.CounterVec
	ProviderDuration      *prometheus.HistogramVec
	RetrievalDuration     *prometheus.HistogramVec
	NotificationsTotal    *prometheus.CounterVec
	CorpusChunks          prometheus.Gauge
}

// NewMetrics creates all metrics on a private registry
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	m := &Metrics{registry: reg}

	m.TicksTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "leadpilot_ticks_total",
			Help: "Total number of scheduling loop ticks",
		},
		[]string{"loop", "status"},
	)

	m.TickDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "leadpilot_tick_duration_seconds",
			Help:    "Duration of scheduling loop ticks in seconds",
			Buckets: []float64{.05, .1, .5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		},
		[]string{"loop"},
	)

	m.LeadsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "leadpilot_leads_total",
			Help: "Lead ingestion attempts by result",
		},
		[]string{"status"},
	)

	m.RepliesTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "leadpilot_inbox_messages_total",
			Help: "Inbound messages processed by outcome",
		},
		[]string{"outcome"},
	)

	m.ProviderAttemptsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "leadpilot_generation_attempts_total",
			Help: "Generation provider attempts by result",
		},
		[]string{"provider", "status"},
	)

	m.ProviderDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "leadpilot_generation_duration_seconds",
			Help:    "Duration of generation provider calls in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"provider"},
	)

	m.RetrievalDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "leadpilot_retrieval_duration_seconds",
			Help:    "Duration of retrieval calls in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		},
		[]string{"strategy"},
	)

	m.NotificationsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "leadpilot_notifications_total",
			Help: "Outbound notifications by kind and result",
		},
		[]string{"kind", "status"},
	)

	m.CorpusChunks = factory.NewGauge(
		prometheus.GaugeOpts{
			Name: "leadpilot_corpus_chunks",
			Help: "Number of knowledge chunks loaded",
		},
	)

	return m
}

// Registry exposes the private registry, mainly for tests
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

// RecordTick records one scheduling loop tick
func (m *Metrics) RecordTick(loop string, err error, duration time.Duration) {
	if m == nil {
		return
	}
	m.TicksTotal.WithLabelValues(loop, status(err)).Inc()
	m.TickDuration.WithLabelValues(loop).Observe(duration.Seconds())
}

// RecordLead records a lead ingestion result ("success" or "skipped")
func (m *Metrics) RecordLead(result string) {
	if m == nil {
		return
	}
	m.LeadsTotal.WithLabelValues(result).Inc()
}

// RecordInbound records how an inbound message was handled
func (m *Metrics) RecordInbound(outcome string) {
	if m == nil {
		return
	}
	m.RepliesTotal.WithLabelValues(outcome).Inc()
}

// RecordProviderAttempt records one generation provider call
func (m *Metrics) RecordProviderAttempt(provider string, err error, duration time.Duration) {
	if m == nil {
		return
	}
	m.ProviderAttemptsTotal.WithLabelValues(provider, status(err)).Inc()
	m.ProviderDuration.WithLabelValues(provider).Observe(duration.Seconds())
}

// RecordRetrieval records one retrieval call
func (m *Metrics) RecordRetrieval(strategy string, duration time.Duration) {
	if m == nil {
		return
	}
	m.RetrievalDuration.WithLabelValues(strategy).Observe(duration.Seconds())
}

// RecordNotification records one notification attempt
func (m *Metrics) RecordNotification(kind string, err error) {
	if m == nil {
		return
	}
	m.NotificationsTotal.WithLabelValues(kind, status(err)).Inc()
}

// SetCorpusChunks records the size of the loaded corpus
func (m *Metrics) SetCorpusChunks(n int) {
	if m == nil {
		return
	}
	m.CorpusChunks.Set(float64(n))
}
