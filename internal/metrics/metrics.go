// Package metrics holds the engine's Prometheus collectors.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics is the collection of all engine metrics. Each engine instance
// carries its own registry so embedding applications and tests never fight
// over the global one.
type Metrics struct {
	registry *prometheus.Registry

	CyclesTotal     *prometheus.CounterVec
	CycleDuration   *prometheus.HistogramVec
	RecordsIngested *prometheus.CounterVec
	RecordsSkipped  *prometheus.CounterVec
	SourceState     *prometheus.GaugeVec
	IndexSize       prometheus.Gauge
	IndexStale      prometheus.Gauge
}

// New creates and registers all engine metrics.
func New() *Metrics {
	m := &Metrics{registry: prometheus.NewRegistry()}

	m.CyclesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stackscout_ingest_cycles_total",
			Help: "Total ingestion cycles per source and outcome",
		},
		[]string{"source", "result"},
	)

	m.CycleDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "stackscout_ingest_cycle_duration_seconds",
			Help:    "Duration of ingestion cycles",
			Buckets: prometheus.ExponentialBuckets(0.1, 3, 10),
		},
		[]string{"source"},
	)

	m.RecordsIngested = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stackscout_records_ingested_total",
			Help: "Records normalized, scored and committed per source",
		},
		[]string{"source"},
	)

	m.RecordsSkipped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stackscout_records_skipped_total",
			Help: "Records dropped during ingestion per source and reason",
		},
		[]string{"source", "reason"},
	)

	m.SourceState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "stackscout_source_state",
			Help: "Scheduler state per source (0 idle, 1 fetching, 2 normalizing, 3 committing, 4 failed)",
		},
		[]string{"source"},
	)

	m.IndexSize = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "stackscout_index_records",
			Help: "Records currently held in the index",
		},
	)

	m.IndexStale = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "stackscout_index_stale_records",
			Help: "Records currently marked stale",
		},
	)

	m.registry.MustRegister(
		m.CyclesTotal,
		m.CycleDuration,
		m.RecordsIngested,
		m.RecordsSkipped,
		m.SourceState,
		m.IndexSize,
		m.IndexStale,
	)

	return m
}

// Handler returns the HTTP handler serving this engine's metrics.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
