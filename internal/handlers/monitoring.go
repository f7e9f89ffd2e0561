package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"dev.helix.router/internal/llm"
	"dev.helix.router/internal/services"
)

// MonitoringHandler serves routing statistics and the service health
// probe.
type MonitoringHandler struct {
	router   *llm.Router
	registry *services.ProviderRegistry
	monitor  *services.ProviderHealthMonitor
	started  time.Time
}

// NewMonitoringHandler creates a new monitoring handler.
func NewMonitoringHandler(router *llm.Router, registry *services.ProviderRegistry, monitor *services.ProviderHealthMonitor) *MonitoringHandler {
	return &MonitoringHandler{
		router:   router,
		registry: registry,
		monitor:  monitor,
		started:  time.Now(),
	}
}

// RegisterRoutes mounts the statistics endpoint on the given group.
// The health probe is mounted at the engine root by the caller so it
// stays outside authentication.
func (h *MonitoringHandler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/stats", h.Stats)
}

// StatsResponse is the body of GET /api/v1/stats.
type StatsResponse struct {
	Routing         map[string]any                     `json:"routing"`
	CircuitBreakers map[string]llm.CircuitBreakerStats `json:"circuit_breakers"`
}

// Stats handles GET /api/v1/stats.
func (h *MonitoringHandler) Stats(c *gin.Context) {
	c.JSON(http.StatusOK, StatsResponse{
		Routing:         h.router.GetRoutingStatistics(),
		CircuitBreakers: h.registry.BreakerStats(),
	})
}

// HealthProviderCounts summarizes the monitor's view of the backends.
type HealthProviderCounts struct {
	Total     int `json:"total"`
	Healthy   int `json:"healthy"`
	Unhealthy int `json:"unhealthy"`
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status    string               `json:"status"`
	Uptime    string               `json:"uptime"`
	Providers HealthProviderCounts `json:"providers"`
}

// Health handles GET /health. The service reports degraded while any
// backend is unhealthy and unhealthy with a 503 only when every
// monitored backend is down, since a single live provider is enough to
// serve traffic.
func (h *MonitoringHandler) Health(c *gin.Context) {
	resp := HealthResponse{
		Status: "healthy",
		Uptime: time.Since(h.started).Round(time.Second).String(),
	}
	resp.Providers.Total = len(h.registry.List())

	if h.monitor != nil {
		for _, ph := range h.monitor.GetStatus() {
			if ph.Healthy {
				resp.Providers.Healthy++
			} else {
				resp.Providers.Unhealthy++
			}
		}
	}

	status := http.StatusOK
	switch {
	case resp.Providers.Unhealthy > 0 && resp.Providers.Healthy == 0:
		resp.Status = "unhealthy"
		status = http.StatusServiceUnavailable
	case resp.Providers.Unhealthy > 0:
		resp.Status = "degraded"
	}

	c.JSON(status, resp)
}
