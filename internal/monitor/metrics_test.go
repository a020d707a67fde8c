package monitor

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestHistogramStats(t *testing.T) {
	h := NewHistogram(100)
	for _, v := range []float64{10, 20, 30, 40, 50} {
		h.Record(v)
	}

	stats := h.Stats()
	assert.Equal(t, 5, stats.Count)
	assert.Equal(t, 10.0, stats.Min)
	assert.Equal(t, 50.0, stats.Max)
	assert.InDelta(t, 30.0, stats.Avg, 1e-9)
	assert.Equal(t, 30.0, stats.P50)
}

func TestHistogramSlidingWindow(t *testing.T) {
	h := NewHistogram(3)
	for _, v := range []float64{1, 2, 3, 4} {
		h.Record(v)
	}

	stats := h.Stats()
	assert.Equal(t, 3, stats.Count)
	assert.Equal(t, 2.0, stats.Min, "oldest sample evicted")
}

func TestHistogramCacheInvalidation(t *testing.T) {
	h := NewHistogram(10)
	h.Record(5)
	first := h.Stats()
	assert.Equal(t, 1, first.Count)

	h.Record(15)
	second := h.Stats()
	assert.Equal(t, 2, second.Count)
	assert.Equal(t, 15.0, second.Max)
}

func TestSnapshotCounters(t *testing.T) {
	m := NewMetrics()
	m.IncrementCycles()
	m.IncrementOrders()
	m.IncrementOrders()
	m.IncrementSignals()
	m.CycleLatency.RecordDuration(50 * time.Millisecond)

	snap := m.GetSnapshot()
	assert.Equal(t, uint64(1), snap.CyclesCompleted)
	assert.Equal(t, uint64(2), snap.OrdersPlaced)
	assert.Equal(t, uint64(1), snap.SignalsGenerated)
	assert.Equal(t, 1, snap.CycleLatency.Count)
	assert.Greater(t, snap.GoroutineCount, 0)
}
