// Package metrics holds the prometheus collectors for migration and query
// activity. A nil *Metrics is valid and records nothing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Directions used as the "direction" label.
const (
	Up   = "up"
	Down = "down"
)

// Metrics groups every lodestone collector.
type Metrics struct {
	applied         *prometheus.CounterVec   // lode_migrations_applied_total
	rolledBack      *prometheus.CounterVec   // lode_migrations_rolled_back_total
	duration        *prometheus.HistogramVec // lode_migration_duration_seconds
	queriesCompiled *prometheus.CounterVec   // lode_queries_compiled_total
	failures        *prometheus.CounterVec   // lode_migration_failures_total
}

// New creates the collectors and registers them on reg. A nil reg leaves
// them unregistered, which tests use to read values directly.
func New(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		applied: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lode_migrations_applied_total",
			Help: "Migrations applied, by backend.",
		}, []string{"backend"}),
		rolledBack: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lode_migrations_rolled_back_total",
			Help: "Migrations rolled back, by backend.",
		}, []string{"backend"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "lode_migration_duration_seconds",
			Help:    "Time spent running one migration script, by backend and direction.",
			Buckets: prometheus.ExponentialBuckets(0.001, 4, 8),
		}, []string{"backend", "direction"}),
		queriesCompiled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lode_queries_compiled_total",
			Help: "Statements compiled from query expressions, by backend and kind.",
		}, []string{"backend", "kind"}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lode_migration_failures_total",
			Help: "Migration scripts that failed and were rolled back, by backend and direction.",
		}, []string{"backend", "direction"}),
	}
	if reg == nil {
		return m, nil
	}
	for _, c := range m.collectors() {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// MustNew is New that panics on a registration conflict.
func MustNew(reg prometheus.Registerer) *Metrics {
	m, err := New(reg)
	if err != nil {
		panic(err)
	}
	return m
}

func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{m.applied, m.rolledBack, m.duration, m.queriesCompiled, m.failures}
}

// Unregister removes the collectors from reg.
func (m *Metrics) Unregister(reg prometheus.Registerer) {
	if m == nil || reg == nil {
		return
	}
	for _, c := range m.collectors() {
		reg.Unregister(c)
	}
}

// -----------------------------------------------------------------------------
// Recording
// -----------------------------------------------------------------------------

// MigrationDone records a successful migration in direction.
func (m *Metrics) MigrationDone(backend, direction string, elapsed time.Duration) {
	if m == nil {
		return
	}
	if direction == Down {
		m.rolledBack.WithLabelValues(backend).Inc()
	} else {
		m.applied.WithLabelValues(backend).Inc()
	}
	m.duration.WithLabelValues(backend, direction).Observe(elapsed.Seconds())
}

// MigrationFailed records a migration that was rolled back on error.
func (m *Metrics) MigrationFailed(backend, direction string) {
	if m == nil {
		return
	}
	m.failures.WithLabelValues(backend, direction).Inc()
}

// QueryCompiled records one compiled statement of kind (select, count, delete, update).
func (m *Metrics) QueryCompiled(backend, kind string) {
	if m == nil {
		return
	}
	m.queriesCompiled.WithLabelValues(backend, kind).Inc()
}
