package metrics

import (
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

var collectorNamespaceSeq uint64

func nextTestNamespace() string {
	seq := atomic.AddUint64(&collectorNamespaceSeq, 1)
	return fmt.Sprintf("test_%d", seq)
}

func TestNewCollector(t *testing.T) {
	logger := zap.NewNop()
	collector := NewCollector(nextTestNamespace(), prometheus.NewRegistry(), logger)

	assert.NotNil(t, collector)
	assert.NotNil(t, collector.queriesTotal)
	assert.NotNil(t, collector.entryHitsTotal)
	assert.NotNil(t, collector.prunedTotal)
	assert.NotNil(t, collector.persistenceTotal)
	assert.NotNil(t, collector.entries)
}

func TestCollector_RecordQuery(t *testing.T) {
	collector := NewCollector(nextTestNamespace(), prometheus.NewRegistry(), zap.NewNop())

	collector.RecordQuery("filter")
	collector.RecordQuery("filter")
	collector.RecordQuery("similar")

	assert.Equal(t, 2.0, testutil.ToFloat64(collector.queriesTotal.WithLabelValues("filter")))
	assert.Equal(t, 1.0, testutil.ToFloat64(collector.queriesTotal.WithLabelValues("similar")))
}

func TestCollector_RecordHits(t *testing.T) {
	collector := NewCollector(nextTestNamespace(), prometheus.NewRegistry(), zap.NewNop())

	collector.RecordHits(3)
	collector.RecordHits(0)
	collector.RecordHits(-1)

	assert.Equal(t, 3.0, testutil.ToFloat64(collector.entryHitsTotal))
}

func TestCollector_RecordPrune(t *testing.T) {
	collector := NewCollector(nextTestNamespace(), prometheus.NewRegistry(), zap.NewNop())

	collector.RecordPrune("relevance", 5)
	collector.RecordPrune("age", 2)
	collector.RecordPrune("relevance", 0)

	assert.Equal(t, 5.0, testutil.ToFloat64(collector.prunedTotal.WithLabelValues("relevance")))
	assert.Equal(t, 2.0, testutil.ToFloat64(collector.prunedTotal.WithLabelValues("age")))
}

func TestCollector_RecordPersistence(t *testing.T) {
	collector := NewCollector(nextTestNamespace(), prometheus.NewRegistry(), zap.NewNop())

	collector.RecordPersistence("save", "ok")
	collector.RecordPersistence("load", "error")

	assert.Equal(t, 1.0, testutil.ToFloat64(collector.persistenceTotal.WithLabelValues("save", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(collector.persistenceTotal.WithLabelValues("load", "error")))
}

func TestCollector_SetEntries(t *testing.T) {
	collector := NewCollector(nextTestNamespace(), prometheus.NewRegistry(), zap.NewNop())

	collector.SetEntries(42)
	assert.Equal(t, 42.0, testutil.ToFloat64(collector.entries))

	collector.SetEntries(7)
	assert.Equal(t, 7.0, testutil.ToFloat64(collector.entries))
}

func TestCollector_NilReceiver(t *testing.T) {
	var collector *Collector

	assert.NotPanics(t, func() {
		collector.RecordQuery("filter")
		collector.RecordHits(1)
		collector.RecordPrune("age", 1)
		collector.RecordPersistence("save", "ok")
		collector.SetEntries(1)
	})
}
