package service

import (
	"fmt"
	"net/http"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsService encapsulates Prometheus instrumentation for the exchange
// engine.
type MetricsService struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestDuration *prometheus.HistogramVec
	requestTotal    *prometheus.CounterVec
	cacheHits       *prometheus.CounterVec
	cacheMisses     *prometheus.CounterVec
	swapTransitions *prometheus.CounterVec
	swapCommits     prometheus.Counter
	swapConflicts   *prometheus.CounterVec
	activeRequests  prometheus.Gauge
}

// NewMetricsService registers core Prometheus collectors.
func NewMetricsService() *MetricsService {
	registry := prometheus.NewRegistry()

	requestDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "Duration of HTTP requests in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	requestTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})

	cacheHits := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "cache_hits_total",
		Help: "Total cache hits by resource",
	}, []string{"resource"})

	cacheMisses := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "cache_misses_total",
		Help: "Total cache misses by resource",
	}, []string{"resource"})

	swapTransitions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "swap_transitions_total",
		Help: "Swap request state transitions by resulting status",
	}, []string{"status"})

	swapCommits := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "swap_commits_total",
		Help: "Successfully committed slot exchanges",
	})

	swapConflicts := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "swap_conflicts_total",
		Help: "Swap operations rejected by concurrency guards",
	}, []string{"reason"})

	activeRequests := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "swap_requests_active",
		Help: "Swap requests currently in a non-terminal state",
	})

	goroutines := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "goroutines_total",
		Help: "Total number of goroutines",
	}, func() float64 {
		return float64(runtime.NumGoroutine())
	})

	registry.MustRegister(requestDuration, requestTotal, cacheHits, cacheMisses,
		swapTransitions, swapCommits, swapConflicts, activeRequests, goroutines)

	return &MetricsService{
		registry:        registry,
		handler:         promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestDuration: requestDuration,
		requestTotal:    requestTotal,
		cacheHits:       cacheHits,
		cacheMisses:     cacheMisses,
		swapTransitions: swapTransitions,
		swapCommits:     swapCommits,
		swapConflicts:   swapConflicts,
		activeRequests:  activeRequests,
	}
}

// Handler exposes the Prometheus HTTP handler.
func (m *MetricsService) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// ObserveHTTPRequest records request metrics.
func (m *MetricsService) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	labelStatus := fmt.Sprintf("%d", status)
	m.requestDuration.WithLabelValues(method, path, labelStatus).Observe(duration.Seconds())
	m.requestTotal.WithLabelValues(method, path, labelStatus).Inc()
}

// RecordCacheHit counts a cache hit for the given resource.
func (m *MetricsService) RecordCacheHit(resource string) {
	if m == nil {
		return
	}
	m.cacheHits.WithLabelValues(resource).Inc()
}

// RecordCacheMiss counts a cache miss for the given resource.
func (m *MetricsService) RecordCacheMiss(resource string) {
	if m == nil {
		return
	}
	m.cacheMisses.WithLabelValues(resource).Inc()
}

// RecordSwapTransition counts a state transition by resulting status.
func (m *MetricsService) RecordSwapTransition(status string) {
	if m == nil {
		return
	}
	m.swapTransitions.WithLabelValues(status).Inc()
}

// RecordSwapCommit counts a successful slot exchange.
func (m *MetricsService) RecordSwapCommit() {
	if m == nil {
		return
	}
	m.swapCommits.Inc()
}

// RecordSwapConflict counts a concurrency-guard rejection.
func (m *MetricsService) RecordSwapConflict(reason string) {
	if m == nil {
		return
	}
	m.swapConflicts.WithLabelValues(reason).Inc()
}

// SetActiveRequests updates the non-terminal request gauge.
func (m *MetricsService) SetActiveRequests(n int) {
	if m == nil {
		return
	}
	m.activeRequests.Set(float64(n))
}
