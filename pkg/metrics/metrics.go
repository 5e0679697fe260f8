// Package metrics exposes Prometheus instrumentation for the map,
// gated behind an enable flag the way the teacher's metrics packages
// gate registration behind IsEnabled so unconfigured processes pay
// nothing for metrics collection.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	mu      sync.Mutex
	enabled bool
	reg     *prometheus.Registry
	set     *MapMetrics
)

// IsEnabled reports whether metrics collection has been turned on via
// InitRegistry.
func IsEnabled() bool {
	mu.Lock()
	defer mu.Unlock()
	return enabled
}

// InitRegistry turns on metrics collection against reg, building the one
// process-wide MapMetrics set. Safe to call more than once; later calls
// are no-ops.
func InitRegistry(registry *prometheus.Registry) *MapMetrics {
	mu.Lock()
	defer mu.Unlock()
	if enabled {
		return set
	}
	enabled = true
	reg = registry
	set = newMapMetrics(reg)
	return set
}

// Registry returns the registry passed to InitRegistry, or nil.
func Registry() *prometheus.Registry {
	mu.Lock()
	defer mu.Unlock()
	return reg
}

// Get returns the process-wide metric set, or nil if metrics are
// disabled. Every method on MapMetrics is nil-receiver-safe so callers
// never need to check.
func Get() *MapMetrics {
	mu.Lock()
	defer mu.Unlock()
	return set
}

// MapMetrics is the full set of counters/histograms/gauges the map
// instruments. A nil *MapMetrics is valid and every method is a no-op,
// matching the teacher's nil-receiver-safe metric structs.
type MapMetrics struct {
	appendLatency   *prometheus.HistogramVec
	refcountOps     *prometheus.CounterVec
	gcScanDuration  prometheus.Histogram
	zeroRefFiles    prometheus.Gauge
	corruptionCount *prometheus.CounterVec
}

func newMapMetrics(reg *prometheus.Registry) *MapMetrics {
	factory := promauto.With(reg)
	return &MapMetrics{
		appendLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "dboxmap",
			Subsystem: "append",
			Name:      "latency_seconds",
			Help:      "Latency of append context operations by stage.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"stage"}),
		refcountOps: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dboxmap",
			Subsystem: "refcount",
			Name:      "ops_total",
			Help:      "Refcount transaction operations by outcome.",
		}, []string{"op", "outcome"}),
		gcScanDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "dboxmap",
			Subsystem: "gc",
			Name:      "scan_duration_seconds",
			Help:      "Duration of a GetZeroRefFiles scan.",
			Buckets:   prometheus.DefBuckets,
		}),
		zeroRefFiles: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "dboxmap",
			Subsystem: "gc",
			Name:      "zero_ref_files",
			Help:      "Number of file_ids found with every entry at refcount zero in the last scan.",
		}),
		corruptionCount: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dboxmap",
			Name:      "corruption_events_total",
			Help:      "Corruption events surfaced by the map, by operation.",
		}, []string{"operation"}),
	}
}

func (m *MapMetrics) ObserveAppendLatency(stage string, seconds float64) {
	if m == nil {
		return
	}
	m.appendLatency.WithLabelValues(stage).Observe(seconds)
}

func (m *MapMetrics) IncRefcountOp(op, outcome string) {
	if m == nil {
		return
	}
	m.refcountOps.WithLabelValues(op, outcome).Inc()
}

func (m *MapMetrics) ObserveGCScan(seconds float64, zeroRefCount int) {
	if m == nil {
		return
	}
	m.gcScanDuration.Observe(seconds)
	m.zeroRefFiles.Set(float64(zeroRefCount))
}

func (m *MapMetrics) IncCorruption(operation string) {
	if m == nil {
		return
	}
	m.corruptionCount.WithLabelValues(operation).Inc()
}
