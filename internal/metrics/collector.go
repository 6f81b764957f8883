// Package metrics provides internal metrics collection.
// This package is internal and should not be imported by external projects.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// Collector exposes memory-store operation metrics. All methods are safe on
// a nil receiver so uninstrumented stores pay no cost.
type Collector struct {
	queriesTotal     *prometheus.CounterVec
	entryHitsTotal   prometheus.Counter
	prunedTotal      *prometheus.CounterVec
	persistenceTotal *prometheus.CounterVec
	entries          prometheus.Gauge

	logger *zap.Logger
}

// NewCollector creates a collector and registers its metrics on reg.
// A nil reg falls back to the default prometheus registerer.
func NewCollector(namespace string, reg prometheus.Registerer, logger *zap.Logger) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	c := &Collector{
		logger: logger.With(zap.String("component", "metrics")),
	}

	c.queriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "queries_total",
			Help:      "Total number of counted store queries",
		},
		[]string{"kind"},
	)

	c.entryHitsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "entry_hits_total",
			Help:      "Total number of entry hit-count increments",
		},
	)

	c.prunedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pruned_entries_total",
			Help:      "Total number of entries removed by pruning",
		},
		[]string{"strategy"},
	)

	c.persistenceTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "persistence_total",
			Help:      "Total number of persistence operations by outcome",
		},
		[]string{"op", "outcome"},
	)

	c.entries = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "entries",
			Help:      "Current number of entries in the store",
		},
	)

	reg.MustRegister(c.queriesTotal, c.entryHitsTotal, c.prunedTotal, c.persistenceTotal, c.entries)
	return c
}

// RecordQuery counts one counted query of the given kind.
func (c *Collector) RecordQuery(kind string) {
	if c == nil {
		return
	}
	c.queriesTotal.WithLabelValues(kind).Inc()
}

// RecordHits counts n entry hit-count increments.
func (c *Collector) RecordHits(n int) {
	if c == nil || n <= 0 {
		return
	}
	c.entryHitsTotal.Add(float64(n))
}

// RecordPrune counts removed entries for a pruning strategy.
func (c *Collector) RecordPrune(strategy string, removed int) {
	if c == nil || removed <= 0 {
		return
	}
	c.prunedTotal.WithLabelValues(strategy).Add(float64(removed))
}

// RecordPersistence counts one save/load with its outcome.
func (c *Collector) RecordPersistence(op, outcome string) {
	if c == nil {
		return
	}
	c.persistenceTotal.WithLabelValues(op, outcome).Inc()
}

// SetEntries updates the entry-count gauge.
func (c *Collector) SetEntries(n int) {
	if c == nil {
		return
	}
	c.entries.Set(float64(n))
}
