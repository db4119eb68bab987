package metrics

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

var (
	// Registry is the dedicated Prometheus registry for the API
	Registry = prometheus.NewRegistry()
	// HTTPRequests counts requests by method, path, and status
	HTTPRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "http_requests_total", Help: "Total HTTP requests."},
		[]string{"method", "path", "status"},
	)
	// HTTPDuration records request durations in seconds
	HTTPDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Name: "http_request_duration_seconds", Help: "HTTP request duration in seconds.", Buckets: prometheus.DefBuckets},
		[]string{"method", "path", "status"},
	)

	// SolvesTotal counts optimization runs by algorithm and outcome
	SolvesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "solves_total", Help: "Optimization runs by algorithm and convergence."},
		[]string{"algorithm", "converged"},
	)
	// SolveIterations tracks iterations consumed per run
	SolveIterations = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Name: "solve_iterations", Help: "Iterations per optimization run.", Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000}},
		[]string{"algorithm"},
	)

	// WebhookDeliveries counts webhook delivery outcomes by event type and status
	WebhookDeliveries = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "webhook_deliveries_total", Help: "Webhook deliveries by event type and status."},
		[]string{"event_type", "status"},
	)
	// WebhookLatency tracks webhook delivery latencies in milliseconds
	WebhookLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Name: "webhook_delivery_latency_ms", Help: "Webhook delivery latency in ms.", Buckets: []float64{10, 50, 100, 200, 500, 1000, 2000, 5000}},
		[]string{"event_type", "status"},
	)
)

// RegisterDefault registers collectors to the package registry.
func RegisterDefault() {
	regOnce.Do(func() {
		Registry.MustRegister(HTTPRequests)
		Registry.MustRegister(HTTPDuration)
		Registry.MustRegister(SolvesTotal)
		Registry.MustRegister(SolveIterations)
		Registry.MustRegister(WebhookDeliveries)
		Registry.MustRegister(WebhookLatency)
		// Go/process collectors on our registry
		Registry.MustRegister(collectors.NewGoCollector())
		Registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	})
}

var regOnce sync.Once

// ObserveHTTP records one served request.
func ObserveHTTP(method, path string, status int, dur time.Duration) {
	st := strconv.Itoa(status)
	HTTPRequests.WithLabelValues(method, path, st).Inc()
	HTTPDuration.WithLabelValues(method, path, st).Observe(dur.Seconds())
}

// ObserveSolve records one optimization run.
func ObserveSolve(algorithm string, converged bool, iterations int) {
	SolvesTotal.WithLabelValues(algorithm, strconv.FormatBool(converged)).Inc()
	SolveIterations.WithLabelValues(algorithm).Observe(float64(iterations))
}

// ObserveWebhook records one delivery attempt outcome.
func ObserveWebhook(eventType, status string, latency time.Duration) {
	WebhookDeliveries.WithLabelValues(eventType, status).Inc()
	WebhookLatency.WithLabelValues(eventType, status).Observe(float64(latency.Milliseconds()))
}
