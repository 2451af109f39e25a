package fees

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the engine's Prometheus collectors. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	ComponentsTotal     *prometheus.CounterVec
	UpsertConflicts     prometheus.Counter
	StudentsTotal       *prometheus.CounterVec
	BatchDuration       prometheus.Histogram
	VersionCacheResults *prometheus.CounterVec
}

// NewMetrics creates and registers the collectors on registry.
func NewMetrics(registry prometheus.Registerer) *Metrics {
	m := &Metrics{
		ComponentsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fees_components_total",
				Help: "Ledger component upserts by outcome",
			},
			[]string{"outcome"},
		),
		UpsertConflicts: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "fees_upsert_conflicts_total",
				Help: "Ledger updates rejected by the row version check",
			},
		),
		StudentsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fees_generation_students_total",
				Help: "Students handled by batch generation by result",
			},
			[]string{"result"},
		),
		BatchDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "fees_generation_run_duration_seconds",
				Help:    "Duration of a full generation run",
				Buckets: prometheus.ExponentialBuckets(0.5, 2, 12),
			},
		),
		VersionCacheResults: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fees_version_cache_total",
				Help: "Fee version cache lookups by result",
			},
			[]string{"result"},
		),
	}

	registry.MustRegister(
		m.ComponentsTotal,
		m.UpsertConflicts,
		m.StudentsTotal,
		m.BatchDuration,
		m.VersionCacheResults,
	)
	return m
}

func (m *Metrics) component(outcome UpsertOutcome) {
	if m == nil {
		return
	}
	m.ComponentsTotal.WithLabelValues(string(outcome)).Inc()
}

func (m *Metrics) conflict() {
	if m == nil {
		return
	}
	m.UpsertConflicts.Inc()
}

func (m *Metrics) student(result string) {
	if m == nil {
		return
	}
	m.StudentsTotal.WithLabelValues(result).Inc()
}

func (m *Metrics) run(d time.Duration) {
	if m == nil {
		return
	}
	m.BatchDuration.Observe(d.Seconds())
}

func (m *Metrics) cache(hit bool) {
	if m == nil {
		return
	}
	if hit {
		m.VersionCacheResults.WithLabelValues("hit").Inc()
	} else {
		m.VersionCacheResults.WithLabelValues("miss").Inc()
	}
}
