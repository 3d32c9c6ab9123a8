// Package metrics provides tests for the registry client counters.
package metrics

import (
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestNewWithRegistry verifies collector registration and counter updates
// against an isolated registry.
func TestNewWithRegistry(t *testing.T) {
	registry := prometheus.NewRegistry()

	handler, err := NewWithRegistry(registry)
	require.NoError(t, err)

	handler.RegisterRequest("GET")
	handler.RegisterRequest("GET")
	handler.RegisterRequest("HEAD")
	handler.RegisterCacheHit()
	handler.RegisterCacheMiss()
	handler.RegisterCacheMiss()
	handler.RegisterAuthNegotiation()
	handler.RegisterRetry()

	assert.InDelta(t, 2.0, testutil.ToFloat64(handler.requests.WithLabelValues("GET")), 0)
	assert.InDelta(t, 1.0, testutil.ToFloat64(handler.requests.WithLabelValues("HEAD")), 0)
	assert.InDelta(t, 1.0, testutil.ToFloat64(handler.cacheHits), 0)
	assert.InDelta(t, 2.0, testutil.ToFloat64(handler.cacheMisses), 0)
	assert.InDelta(t, 1.0, testutil.ToFloat64(handler.authNegotiations), 0)
	assert.InDelta(t, 1.0, testutil.ToFloat64(handler.retries), 0)
}

// TestNewWithRegistry_ReusesExistingCollectors verifies that a second handler
// against the same registry shares the first handler's counters instead of
// failing on duplicate registration.
func TestNewWithRegistry_ReusesExistingCollectors(t *testing.T) {
	registry := prometheus.NewRegistry()

	first, err := NewWithRegistry(registry)
	require.NoError(t, err)

	second, err := NewWithRegistry(registry)
	require.NoError(t, err)

	first.RegisterCacheHit()
	second.RegisterCacheHit()

	assert.InDelta(t, 2.0, testutil.ToFloat64(second.cacheHits), 0)
	assert.InDelta(t, 2.0, testutil.ToFloat64(first.cacheHits), 0)
}

// TestNewWithRegistry_ConflictingCollector verifies that a genuine
// registration conflict is surfaced instead of swallowed.
func TestNewWithRegistry_ConflictingCollector(t *testing.T) {
	registry := prometheus.NewRegistry()
	registry.MustRegister(prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "imagemeta_registry_requests_total",
		Help: "Unrelated gauge occupying the request counter's name",
	}))

	_, err := NewWithRegistry(registry)
	require.Error(t, err)
	assert.ErrorContains(t, err, "failed to register metric")
}

// TestDefault verifies the singleton is created once and reused.
func TestDefault(t *testing.T) {
	first := Default()
	require.NotNil(t, first)

	assert.Same(t, first, Default())
}

// TestDefault_Concurrent verifies that parallel first-time callers all get
// the same handler back.
func TestDefault_Concurrent(t *testing.T) {
	const callers = 32

	handlers := make([]*Metrics, callers)

	var wg sync.WaitGroup
	for i := range callers {
		wg.Add(1)

		go func() {
			defer wg.Done()

			handlers[i] = Default()
		}()
	}

	wg.Wait()

	for i := range callers {
		require.NotNil(t, handlers[i])
		assert.Same(t, handlers[0], handlers[i])
	}
}
