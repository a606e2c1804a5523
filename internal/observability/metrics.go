package observability

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce          sync.Once
	httpRequestsTotal     *prometheus.CounterVec
	httpLatencySeconds    *prometheus.HistogramVec
	pollCyclesTotal       *prometheus.CounterVec
	pollCycleSeconds      prometheus.Histogram
	pollToleratedFailures *prometheus.CounterVec
)

// RegisterMetrics initialises the Prometheus collectors used by the HTTP
// surface and the poll loop.
func RegisterMetrics() {
	registerOnce.Do(func() {
		httpRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "canvaswatch",
			Name:      "http_requests_total",
			Help:      "Total number of API requests served.",
		}, []string{"method", "route", "status"})

		httpLatencySeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "canvaswatch",
			Name:      "http_latency_seconds",
			Help:      "Latency distribution for API requests.",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
		}, []string{"method", "route"})

		pollCyclesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "canvaswatch",
			Name:      "poll_cycles_total",
			Help:      "Refresh cycles run, labelled by outcome.",
		}, []string{"outcome"})

		pollCycleSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "canvaswatch",
			Name:      "poll_cycle_duration_seconds",
			Help:      "Duration of full refresh cycles.",
			Buckets:   []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		})

		pollToleratedFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "canvaswatch",
			Name:      "poll_tolerated_failures_total",
			Help:      "Per-course fetch failures that were tolerated, labelled by pipeline step.",
		}, []string{"step"})

		prometheus.MustRegister(httpRequestsTotal, httpLatencySeconds, pollCyclesTotal, pollCycleSeconds, pollToleratedFailures)
	})
}

// HTTPRequests exposes the counter for API requests.
func HTTPRequests() *prometheus.CounterVec {
	RegisterMetrics()
	return httpRequestsTotal
}

// HTTPLatency exposes the latency histogram for API requests.
func HTTPLatency() *prometheus.HistogramVec {
	RegisterMetrics()
	return httpLatencySeconds
}

// PollCycles exposes the refresh cycle outcome counter.
func PollCycles() *prometheus.CounterVec {
	RegisterMetrics()
	return pollCyclesTotal
}

// PollCycleDuration exposes the refresh cycle duration histogram.
func PollCycleDuration() prometheus.Histogram {
	RegisterMetrics()
	return pollCycleSeconds
}

// PollToleratedFailures exposes the tolerated per-course failure counter.
func PollToleratedFailures() *prometheus.CounterVec {
	RegisterMetrics()
	return pollToleratedFailures
}
