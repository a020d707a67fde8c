// Package monitor collects runtime health data: latency histograms for the
// hot paths, throughput counters, and an alert bridge from the event bus to
// the operator channel.
package monitor

import (
	"runtime"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// Metrics tracks trading-core performance. Counters are atomic; histograms
// carry their own locks.
type Metrics struct {
	CycleLatency *Histogram // full trading cycle, per symbol set
	OrderLatency *Histogram // router pipeline through venue ack
	VenueLatency *Histogram // raw venue HTTP round trips

	cyclesCompleted  uint64
	ordersPlaced     uint64
	signalsGenerated uint64
	errorsCount      uint64

	startedAt time.Time
}

// NewMetrics creates a metrics instance with sliding windows of 1000 samples.
func NewMetrics() *Metrics {
	return &Metrics{
		CycleLatency: NewHistogram(1000),
		OrderLatency: NewHistogram(1000),
		VenueLatency: NewHistogram(1000),
		startedAt:    time.Now(),
	}
}

// Histogram keeps a sliding window of latency samples in milliseconds.
// Stats are recomputed lazily, only when samples changed.
type Histogram struct {
	mu      sync.Mutex
	samples []float64
	maxSize int
	dirty   bool
	cached  LatencyStats
}

// NewHistogram creates a sliding-window histogram of the given size.
func NewHistogram(size int) *Histogram {
	if size <= 0 {
		size = 1000
	}
	return &Histogram{samples: make([]float64, 0, size), maxSize: size, dirty: true}
}

// Record adds one sample in milliseconds, evicting the oldest when full.
func (h *Histogram) Record(ms float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.samples) >= h.maxSize {
		h.samples = h.samples[1:]
	}
	h.samples = append(h.samples, ms)
	h.dirty = true
}

// RecordDuration records a duration as milliseconds.
func (h *Histogram) RecordDuration(d time.Duration) {
	h.Record(float64(d.Nanoseconds()) / 1e6)
}

// LatencyStats is a computed summary of one histogram window.
type LatencyStats struct {
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
	Avg   float64 `json:"avg"`
	P50   float64 `json:"p50"`
	P95   float64 `json:"p95"`
	P99   float64 `json:"p99"`
	Count int     `json:"count"`
}

// Stats returns the window summary, reusing the cache when nothing changed.
func (h *Histogram) Stats() LatencyStats {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.dirty && h.cached.Count > 0 {
		return h.cached
	}
	n := len(h.samples)
	if n == 0 {
		return LatencyStats{}
	}

	sorted := make([]float64, n)
	copy(sorted, h.samples)
	sort.Float64s(sorted)

	var sum float64
	for _, v := range sorted {
		sum += v
	}
	h.cached = LatencyStats{
		Min:   sorted[0],
		Max:   sorted[n-1],
		Avg:   sum / float64(n),
		P50:   sorted[n/2],
		P95:   sorted[int(float64(n)*0.95)],
		P99:   sorted[int(float64(n)*0.99)],
		Count: n,
	}
	h.dirty = false
	return h.cached
}

func (m *Metrics) IncrementCycles()  { atomic.AddUint64(&m.cyclesCompleted, 1) }
func (m *Metrics) IncrementOrders()  { atomic.AddUint64(&m.ordersPlaced, 1) }
func (m *Metrics) IncrementSignals() { atomic.AddUint64(&m.signalsGenerated, 1) }
func (m *Metrics) IncrementErrors()  { atomic.AddUint64(&m.errorsCount, 1) }

// Snapshot is a point-in-time view of all metrics plus process health.
type Snapshot struct {
	CycleLatency     LatencyStats `json:"cycle_latency"`
	OrderLatency     LatencyStats `json:"order_latency"`
	VenueLatency     LatencyStats `json:"venue_latency"`
	CyclesCompleted  uint64       `json:"cycles_completed"`
	OrdersPlaced     uint64       `json:"orders_placed"`
	SignalsGenerated uint64       `json:"signals_generated"`
	ErrorsCount      uint64       `json:"errors_count"`
	GoroutineCount   int          `json:"goroutine_count"`
	HeapAlloc        uint64       `json:"heap_alloc_bytes"`
	UptimeSeconds    float64      `json:"uptime_seconds"`
	Timestamp        time.Time    `json:"timestamp"`
}

// GetSnapshot assembles the current snapshot.
func (m *Metrics) GetSnapshot() Snapshot {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	return Snapshot{
		CycleLatency:     m.CycleLatency.Stats(),
		OrderLatency:     m.OrderLatency.Stats(),
		VenueLatency:     m.VenueLatency.Stats(),
		CyclesCompleted:  atomic.LoadUint64(&m.cyclesCompleted),
		OrdersPlaced:     atomic.LoadUint64(&m.ordersPlaced),
		SignalsGenerated: atomic.LoadUint64(&m.signalsGenerated),
		ErrorsCount:      atomic.LoadUint64(&m.errorsCount),
		GoroutineCount:   runtime.NumGoroutine(),
		HeapAlloc:        memStats.HeapAlloc,
		UptimeSeconds:    time.Since(m.startedAt).Seconds(),
		Timestamp:        time.Now(),
	}
}

// Timer measures one operation into a histogram.
type Timer struct {
	start time.Time
	hist  *Histogram
}

// NewTimer starts a timer recording into h on Stop.
func NewTimer(h *Histogram) *Timer {
	return &Timer{start: time.Now(), hist: h}
}

// Stop records the elapsed time and returns it.
func (t *Timer) Stop() time.Duration {
	elapsed := time.Since(t.start)
	if t.hist != nil {
		t.hist.RecordDuration(elapsed)
	}
	return elapsed
}
