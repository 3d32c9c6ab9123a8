// Package metrics exposes process-wide Prometheus counters for registry
// client activity: outbound registry requests, manifest cache hits and
// misses, token negotiations, and transport retries. Registration is
// optional; clients increment the default handler lazily, and the counters
// only become visible when the caller wires the default registry into an
// exporter.
package metrics

import (
	"errors"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// defaultMetrics is the package-level singleton returned by Default.
var (
	defaultMetrics *Metrics
	defaultOnce    sync.Once
)

// Metrics holds the Prometheus collectors for registry client activity.
type Metrics struct {
	requests         *prometheus.CounterVec // Outbound registry requests by method.
	cacheHits        prometheus.Counter     // Manifest responses served from cache.
	cacheMisses      prometheus.Counter     // Manifest responses fetched anew.
	authNegotiations prometheus.Counter     // Bearer-token negotiations performed.
	retries          prometheus.Counter     // Transport attempts retried.
}

// NewWithRegistry creates a Metrics handler registered against the given
// Prometheus registerer. Collectors already registered there are reused, so
// repeated calls against the same registerer share the same counters; any
// other registration failure is returned as an error.
func NewWithRegistry(registry prometheus.Registerer) (*Metrics, error) {
	requests, err := register(registry, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "imagemeta_registry_requests_total",
		Help: "Number of outbound registry API requests, by HTTP method",
	}, []string{"method"}))
	if err != nil {
		return nil, err
	}

	cacheHits, err := register(registry, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "imagemeta_manifest_cache_hits_total",
		Help: "Number of manifest retrievals served from the response cache",
	}))
	if err != nil {
		return nil, err
	}

	cacheMisses, err := register(registry, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "imagemeta_manifest_cache_misses_total",
		Help: "Number of manifest retrievals that went to the registry",
	}))
	if err != nil {
		return nil, err
	}

	authNegotiations, err := register(registry, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "imagemeta_auth_negotiations_total",
		Help: "Number of bearer-token negotiations performed",
	}))
	if err != nil {
		return nil, err
	}

	retries, err := register(registry, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "imagemeta_transport_retries_total",
		Help: "Number of registry requests retried after a failure",
	}))
	if err != nil {
		return nil, err
	}

	return &Metrics{
		requests:         requests,
		cacheHits:        cacheHits,
		cacheMisses:      cacheMisses,
		authNegotiations: authNegotiations,
		retries:          retries,
	}, nil
}

// register adds the collector to the registerer, returning the collector
// already registered under the same descriptor when there is one.
func register[C prometheus.Collector](registry prometheus.Registerer, collector C) (C, error) {
	err := registry.Register(collector)
	if err == nil {
		return collector, nil
	}

	alreadyRegistered := prometheus.AlreadyRegisteredError{}
	if errors.As(err, &alreadyRegistered) {
		if existing, ok := alreadyRegistered.ExistingCollector.(C); ok {
			return existing, nil
		}
	}

	var zero C

	return zero, fmt.Errorf("failed to register metric: %w", err)
}

// Default initializes or returns the singleton Metrics handler registered
// against the default Prometheus registry. Initialization is safe for
// concurrent callers; it panics on registration failure.
func Default() *Metrics {
	defaultOnce.Do(func() {
		handler, err := NewWithRegistry(prometheus.DefaultRegisterer)
		if err != nil {
			panic(err)
		}

		defaultMetrics = handler
	})

	return defaultMetrics
}

// RegisterRequest counts one outbound registry request.
func (m *Metrics) RegisterRequest(method string) {
	m.requests.WithLabelValues(method).Inc()
}

// RegisterCacheHit counts one manifest retrieval served from cache.
func (m *Metrics) RegisterCacheHit() {
	m.cacheHits.Inc()
}

// RegisterCacheMiss counts one manifest retrieval that went to the registry.
func (m *Metrics) RegisterCacheMiss() {
	m.cacheMisses.Inc()
}

// RegisterAuthNegotiation counts one bearer-token negotiation.
func (m *Metrics) RegisterAuthNegotiation() {
	m.authNegotiations.Inc()
}

// RegisterRetry counts one retried transport attempt.
func (m *Metrics) RegisterRetry() {
	m.retries.Inc()
}
