// Package metrics holds the prometheus collectors for refresh cycles.
//
// All methods are safe on a nil *Metrics, so components can be built
// without instrumentation in tests.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "marketwatch"

// Provenance gauge values.
const (
	ProvenancePrimary     = 0
	ProvenanceFallback    = 1
	ProvenanceUnavailable = 2
)

type Metrics struct {
	reg *prometheus.Registry

	FetchTotal    *prometheus.CounterVec
	CyclesTotal   prometheus.Counter
	TicksSkipped  prometheus.Counter
	CycleDuration prometheus.Histogram
	Provenance    *prometheus.GaugeVec
	HistoryPoints *prometheus.GaugeVec
}

// New builds the collectors on a private registry together with the Go
// runtime and process collectors.
func New() *Metrics {
	m := &Metrics{
		reg: prometheus.NewRegistry(),
		FetchTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fetch_total",
			Help:      "Upstream fetches by source and result kind.",
		}, []string{"source", "result"}),
		CyclesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cycles_total",
			Help:      "Completed refresh cycles.",
		}),
		TicksSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ticks_skipped_total",
			Help:      "Ticks dropped because a cycle was still running.",
		}),
		CycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "cycle_duration_seconds",
			Help:      "Wall time of a refresh cycle.",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 4, 8, 16},
		}),
		Provenance: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "provenance",
			Help:      "Current provenance per symbol (0 primary, 1 fallback, 2 unavailable).",
		}, []string{"symbol"}),
		HistoryPoints: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "history_points",
			Help:      "Points held in the history buffer per symbol.",
		}, []string{"symbol"}),
	}
	m.reg.MustRegister(
		m.FetchTotal,
		m.CyclesTotal,
		m.TicksSkipped,
		m.CycleDuration,
		m.Provenance,
		m.HistoryPoints,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry exposes the private registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.reg
}

// Handler serves the registry in the prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}

func (m *Metrics) ObserveFetch(src, result string) {
	if m == nil {
		return
	}
	m.FetchTotal.WithLabelValues(src, result).Inc()
}

func (m *Metrics) ObserveCycle(d time.Duration) {
	if m == nil {
		return
	}
	m.CyclesTotal.Inc()
	m.CycleDuration.Observe(d.Seconds())
}

func (m *Metrics) TickSkipped() {
	if m == nil {
		return
	}
	m.TicksSkipped.Inc()
}

func (m *Metrics) SetProvenance(symbol string, v int) {
	if m == nil {
		return
	}
	m.Provenance.WithLabelValues(symbol).Set(float64(v))
}

func (m *Metrics) SetHistoryPoints(symbol string, n int) {
	if m == nil {
		return
	}
	m.HistoryPoints.WithLabelValues(symbol).Set(float64(n))
}
