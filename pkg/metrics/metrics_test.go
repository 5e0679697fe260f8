package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilMetricSetMethodsAreNoOps(t *testing.T) {
	var m *MapMetrics
	assert.NotPanics(t, func() {
		m.ObserveAppendLatency("assign_map_uids", 0.01)
		m.IncRefcountOp("update", "ok")
		m.ObserveGCScan(0.2, 3)
		m.IncCorruption("lookup")
	})
}

func TestGetReturnsNilBeforeInitRegistry(t *testing.T) {
	mu.Lock()
	enabled, reg, set = false, nil, nil
	mu.Unlock()

	assert.False(t, IsEnabled())
	assert.Nil(t, Get())
}

func TestInitRegistryIsIdempotent(t *testing.T) {
	mu.Lock()
	enabled, reg, set = false, nil, nil
	mu.Unlock()

	r := prometheus.NewRegistry()
	first := InitRegistry(r)
	require.NotNil(t, first)
	assert.True(t, IsEnabled())
	assert.Same(t, r, Registry())

	second := InitRegistry(prometheus.NewRegistry())
	assert.Same(t, first, second, "a second InitRegistry call must not replace the process-wide set")
}
