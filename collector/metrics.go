package collector

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics are the collector's Prometheus series.
type Metrics struct {
	registry *prometheus.Registry

	events     *prometheus.CounterVec
	batches    *prometheus.CounterVec
	duplicates *prometheus.CounterVec
	rejected   *prometheus.CounterVec
	trimmed    prometheus.Counter
	ingestDur  *prometheus.HistogramVec
}

// NewMetrics registers the series on reg. A nil reg gets a fresh registry
// that also carries the Go runtime and process collectors.
func NewMetrics(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}

	m := &Metrics{registry: reg}
	m.events = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "activity",
		Name:      "events_total",
		Help:      "Stored events by type",
	}, []string{"type"})
	m.batches = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "activity",
		Name:      "batches_total",
		Help:      "Stored batches by ingest source",
	}, []string{"source"})
	m.duplicates = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "activity",
		Name:      "duplicate_batches_total",
		Help:      "Batches dropped because their batch id was already stored",
	}, []string{"source"})
	m.rejected = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "activity",
		Name:      "rejected_batches_total",
		Help:      "Batches not stored, by reason",
	}, []string{"reason"})
	m.trimmed = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "activity",
		Name:      "trimmed_events_total",
		Help:      "Stored events whose payload was trimmed by the sender",
	})
	m.ingestDur = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "activity",
		Name:      "ingest_duration_seconds",
		Help:      "Time spent decoding and storing one batch",
		Buckets:   prometheus.DefBuckets,
	}, []string{"source"})

	reg.MustRegister(m.events, m.batches, m.duplicates, m.rejected, m.trimmed, m.ingestDur)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry returns the registry the series live on.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

func (m *Metrics) stored(source string, types map[string]int, trimmed int, took time.Duration) {
	m.batches.WithLabelValues(source).Inc()
	for typ, n := range types {
		m.events.WithLabelValues(typ).Add(float64(n))
	}
	m.trimmed.Add(float64(trimmed))
	m.ingestDur.WithLabelValues(source).Observe(took.Seconds())
}

func (m *Metrics) duplicate(source string) {
	m.duplicates.WithLabelValues(source).Inc()
}

func (m *Metrics) reject(reason string) {
	m.rejected.WithLabelValues(reason).Inc()
}
