package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"dev.helix.router/internal/llm"
	"dev.helix.router/internal/models"
	"dev.helix.router/internal/services"
)

// ProviderHandler serves the provider management surface: listing,
// health inspection and capability profile updates.
type ProviderHandler struct {
	registry *services.ProviderRegistry
	monitor  *services.ProviderHealthMonitor
	router   *llm.Router
	log      *logrus.Logger
}

// NewProviderHandler creates a new provider handler.
func NewProviderHandler(registry *services.ProviderRegistry, monitor *services.ProviderHealthMonitor, router *llm.Router, log *logrus.Logger) *ProviderHandler {
	if log == nil {
		log = logrus.New()
	}
	return &ProviderHandler{registry: registry, monitor: monitor, router: router, log: log}
}

// RegisterRoutes mounts the provider endpoints on the given group.
func (h *ProviderHandler) RegisterRoutes(r *gin.RouterGroup) {
	providers := r.Group("/providers")
	{
		providers.GET("", h.List)
		providers.GET("/health", h.Health)
		providers.PUT("/:name/capabilities", h.UpdateCapabilities)
	}
}

// ProviderInfo describes one registered provider.
type ProviderInfo struct {
	Name         string                       `json:"name"`
	Available    bool                         `json:"available"`
	Models       []string                     `json:"models,omitempty"`
	Capabilities *models.ProviderCapabilities `json:"capabilities,omitempty"`
}

// ListProvidersResponse is the body of GET /api/v1/providers.
type ListProvidersResponse struct {
	Providers []ProviderInfo `json:"providers"`
	Total     int            `json:"total"`
}

// List handles GET /api/v1/providers. Providers appear in failover
// order; capabilities are omitted for unprofiled providers.
func (h *ProviderHandler) List(c *gin.Context) {
	names := h.registry.List()
	resp := ListProvidersResponse{
		Providers: make([]ProviderInfo, 0, len(names)),
		Total:     len(names),
	}

	for _, name := range names {
		adapter, err := h.registry.Create(name)
		if err != nil {
			continue
		}
		info := ProviderInfo{
			Name:      name,
			Available: adapter.IsAvailable(),
			Models:    adapter.SupportedModels(),
		}
		if caps, ok := h.router.Capabilities(name); ok {
			info.Capabilities = &caps
		}
		resp.Providers = append(resp.Providers, info)
	}

	c.JSON(http.StatusOK, resp)
}

// ProvidersHealthResponse is the body of GET /api/v1/providers/health.
type ProvidersHealthResponse struct {
	Providers       map[string]services.ProviderHealth `json:"providers"`
	CircuitBreakers map[string]llm.CircuitBreakerStats `json:"circuit_breakers"`
	HealthyCount    int                                `json:"healthy_count"`
	UnhealthyCount  int                                `json:"unhealthy_count"`
}

// Health handles GET /api/v1/providers/health. Passing ?refresh=true
// probes every backend before answering instead of reporting the last
// scheduled check.
func (h *ProviderHandler) Health(c *gin.Context) {
	if h.monitor == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "health monitor not available"})
		return
	}

	if c.Query("refresh") == "true" {
		h.monitor.ForceCheck(c.Request.Context())
	}

	status := h.monitor.GetStatus()
	resp := ProvidersHealthResponse{
		Providers:       status,
		CircuitBreakers: h.registry.BreakerStats(),
	}
	for _, ph := range status {
		if ph.Healthy {
			resp.HealthyCount++
		} else {
			resp.UnhealthyCount++
		}
	}

	c.JSON(http.StatusOK, resp)
}

// CapabilitiesRequest is the body of PUT /api/v1/providers/:name/capabilities.
// The payload replaces the provider's whole scoring profile, so callers
// send every field they want to keep, not just the ones that changed.
type CapabilitiesRequest struct {
	QualityScore          float64 `json:"quality_score"`
	SpeedScore            float64 `json:"speed_score"`
	CostScore             float64 `json:"cost_score"`
	PhilosophicalAccuracy float64 `json:"philosophical_accuracy"`
	ReliabilityScore      float64 `json:"reliability_score"`
	MaxTokens             int     `json:"max_tokens"`
	SupportsStreaming     bool    `json:"supports_streaming"`
	OverrideMinQuality    bool    `json:"override_min_quality"`
}

// invalidScores names every score dimension outside [0, 1].
func (r *CapabilitiesRequest) invalidScores() []string {
	fields := []struct {
		name  string
		value float64
	}{
		{"quality_score", r.QualityScore},
		{"speed_score", r.SpeedScore},
		{"cost_score", r.CostScore},
		{"philosophical_accuracy", r.PhilosophicalAccuracy},
		{"reliability_score", r.ReliabilityScore},
	}

	var bad []string
	for _, f := range fields {
		if f.value < 0 || f.value > 1 {
			bad = append(bad, f.name)
		}
	}
	return bad
}

// UpdateCapabilitiesResponse is the body of a successful capabilities
// update.
type UpdateCapabilitiesResponse struct {
	Provider     string                      `json:"provider"`
	Capabilities models.ProviderCapabilities `json:"capabilities"`
}

// UpdateCapabilities handles PUT /api/v1/providers/:name/capabilities.
func (h *ProviderHandler) UpdateCapabilities(c *gin.Context) {
	name := c.Param("name")

	var req CapabilitiesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.log.WithError(err).Error("Invalid capabilities request")
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if bad := req.invalidScores(); len(bad) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":          "scores must be between 0 and 1",
			"invalid_fields": bad,
		})
		return
	}
	if req.MaxTokens < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "max_tokens must not be negative"})
		return
	}

	caps := models.ProviderCapabilities{
		Name:                  name,
		QualityScore:          req.QualityScore,
		SpeedScore:            req.SpeedScore,
		CostScore:             req.CostScore,
		PhilosophicalAccuracy: req.PhilosophicalAccuracy,
		ReliabilityScore:      req.ReliabilityScore,
		MaxTokens:             req.MaxTokens,
		SupportsStreaming:     req.SupportsStreaming,
		OverrideMinQuality:    req.OverrideMinQuality,
	}

	if err := h.router.UpdateCapabilities(name, caps); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error(), "provider": name})
		return
	}

	c.JSON(http.StatusOK, UpdateCapabilitiesResponse{Provider: name, Capabilities: caps})
}
