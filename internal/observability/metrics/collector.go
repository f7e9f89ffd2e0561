// Package metrics exposes the Prometheus instrumentation for the router.
package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Instruments are package-level and registered once so multiple
// collectors (tests, embedded use) share the same series instead of
// panicking on duplicate registration.
var (
	metricsOnce sync.Once

	httpRequestDuration *prometheus.HistogramVec
	httpRequestCount    *prometheus.CounterVec

	generationRequests *prometheus.CounterVec

	providerLatency *prometheus.HistogramVec
	providerErrors  *prometheus.CounterVec
	providerTokens  *prometheus.CounterVec
)

func initMetrics() {
	metricsOnce.Do(func() {
		httpRequestDuration = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "helixrouter_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"method", "endpoint", "status"},
		)

		httpRequestCount = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "helixrouter_http_requests_total",
				Help: "Total HTTP requests served",
			},
			[]string{"method", "endpoint", "status"},
		)

		generationRequests = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "helixrouter_generation_requests_total",
				Help: "Generation requests by surface and outcome",
			},
			[]string{"surface", "outcome"},
		)

		providerLatency = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "helixrouter_provider_latency_seconds",
				Help:    "LLM provider latency in seconds",
				Buckets: []float64{.1, .25, .5, 1, 2.5, 5, 10, 30, 60},
			},
			[]string{"provider", "model"},
		)

		providerErrors = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "helixrouter_provider_errors_total",
				Help: "Provider failures by error kind",
			},
			[]string{"provider", "kind"},
		)

		providerTokens = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "helixrouter_provider_tokens_total",
				Help: "Total tokens reported by providers",
			},
			[]string{"provider"},
		)
	})
}

// Collector records router metrics and serves the scrape endpoint.
type Collector struct{}

// NewCollector returns a collector backed by the shared instruments.
func NewCollector() *Collector {
	initMetrics()
	return &Collector{}
}

// RecordHTTPRequest records one served HTTP request.
func (c *Collector) RecordHTTPRequest(method, endpoint, status string, duration time.Duration) {
	httpRequestDuration.WithLabelValues(method, endpoint, status).Observe(duration.Seconds())
	httpRequestCount.WithLabelValues(method, endpoint, status).Inc()
}

// RecordGeneration counts one generation request on a service surface
// ("generate" or "route") with outcome "success" or "error".
func (c *Collector) RecordGeneration(surface, outcome string) {
	generationRequests.WithLabelValues(surface, outcome).Inc()
}

// RecordProviderCall records latency and token usage for a successful
// provider call.
func (c *Collector) RecordProviderCall(provider, model string, tokens int, duration time.Duration) {
	providerLatency.WithLabelValues(provider, model).Observe(duration.Seconds())
	if tokens > 0 {
		providerTokens.WithLabelValues(provider).Add(float64(tokens))
	}
}

// RecordProviderError counts one provider failure by error kind.
func (c *Collector) RecordProviderError(provider, kind string) {
	providerErrors.WithLabelValues(provider, kind).Inc()
}

// Handler returns the Prometheus scrape handler.
func (c *Collector) Handler() http.Handler {
	return promhttp.Handler()
}
