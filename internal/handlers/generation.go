package handlers

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"dev.helix.router/internal/llm"
	"dev.helix.router/internal/models"
	"dev.helix.router/internal/services"
)

// GenerationHandler serves the generation surface: failover-ordered
// generation, scored routing, and routing recommendations.
type GenerationHandler struct {
	service *services.GenerationService
	router  *llm.Router
	log     *logrus.Logger
}

// NewGenerationHandler creates a new generation handler.
func NewGenerationHandler(service *services.GenerationService, router *llm.Router, log *logrus.Logger) *GenerationHandler {
	if log == nil {
		log = logrus.New()
	}
	return &GenerationHandler{service: service, router: router, log: log}
}

// RegisterRoutes mounts the generation endpoints on the given group.
// Extra handlers run before the two body-carrying endpoints; this is
// where request validation mounts without touching the GET.
func (h *GenerationHandler) RegisterRoutes(r *gin.RouterGroup, bodyMiddleware ...gin.HandlerFunc) {
	r.POST("/generate", append(append([]gin.HandlerFunc{}, bodyMiddleware...), h.Generate)...)
	r.POST("/route", append(append([]gin.HandlerFunc{}, bodyMiddleware...), h.Route)...)
	r.GET("/route/recommend", h.Recommend)
}

// GenerateRequest is the body of POST /api/v1/generate. A non-empty
// provider pins the call to that backend instead of walking the
// failover order.
type GenerateRequest struct {
	Messages      []models.Message `json:"messages" binding:"required"`
	Provider      string           `json:"provider,omitempty"`
	Model         string           `json:"model,omitempty"`
	MaxTokens     int              `json:"max_tokens,omitempty"`
	Temperature   float64          `json:"temperature,omitempty"`
	TopP          float64          `json:"top_p,omitempty"`
	StopSequences []string         `json:"stop_sequences,omitempty"`
	Stream        bool             `json:"stream,omitempty"`
}

// Generate handles POST /api/v1/generate.
func (h *GenerationHandler) Generate(c *gin.Context) {
	var req GenerateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.log.WithError(err).Error("Invalid generate request")
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	opts := &models.GenerationOptions{
		Provider:      req.Provider,
		Model:         req.Model,
		MaxTokens:     req.MaxTokens,
		Temperature:   req.Temperature,
		TopP:          req.TopP,
		StopSequences: req.StopSequences,
		Stream:        req.Stream,
	}

	resp, err := h.service.GenerateResponse(c.Request.Context(), req.Messages, opts)
	if err != nil {
		writeProviderError(c, h.log, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

// RouteRequest is the body of POST /api/v1/route. Priority and
// request_type default to "normal" and "general" when omitted.
type RouteRequest struct {
	Messages           []models.Message `json:"messages" binding:"required"`
	Priority           string           `json:"priority,omitempty"`
	RequestType        string           `json:"request_type,omitempty"`
	MaxCost            *float64         `json:"max_cost,omitempty"`
	MinQuality         *float64         `json:"min_quality,omitempty"`
	PreferredProviders []string         `json:"preferred_providers,omitempty"`
	ExcludeProviders   []string         `json:"exclude_providers,omitempty"`
	RequireStreaming   bool             `json:"require_streaming,omitempty"`
	Model              string           `json:"model,omitempty"`
	MaxTokens          int              `json:"max_tokens,omitempty"`
	Temperature        float64          `json:"temperature,omitempty"`
}

// Route handles POST /api/v1/route.
func (h *GenerationHandler) Route(c *gin.Context) {
	var req RouteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.log.WithError(err).Error("Invalid route request")
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	priority, ok := parsePriority(req.Priority)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":            fmt.Sprintf("invalid priority '%s'", req.Priority),
			"valid_priorities": knownPriorities,
		})
		return
	}

	requestType, ok := parseRequestType(req.RequestType)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":       fmt.Sprintf("invalid request type '%s'", req.RequestType),
			"valid_types": knownRequestTypes,
		})
		return
	}

	routing := &models.RoutingRequest{
		Messages:           req.Messages,
		Priority:           priority,
		RequestType:        requestType,
		MaxCost:            req.MaxCost,
		MinQuality:         req.MinQuality,
		PreferredProviders: req.PreferredProviders,
		ExcludeProviders:   req.ExcludeProviders,
		RequireStreaming:   req.RequireStreaming,
		Model:              req.Model,
		MaxTokens:          req.MaxTokens,
		Temperature:        req.Temperature,
	}

	resp, err := h.service.RouteRequest(c.Request.Context(), routing)
	if err != nil {
		writeProviderError(c, h.log, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

// RecommendResponse names the provider the scorer would pick right now
// for the given priority and request type.
type RecommendResponse struct {
	Provider    string             `json:"provider"`
	Priority    models.Priority    `json:"priority"`
	RequestType models.RequestType `json:"request_type"`
}

// Recommend handles GET /api/v1/route/recommend.
func (h *GenerationHandler) Recommend(c *gin.Context) {
	priority, ok := parsePriority(c.Query("priority"))
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":            fmt.Sprintf("invalid priority '%s'", c.Query("priority")),
			"valid_priorities": knownPriorities,
		})
		return
	}

	requestType, ok := parseRequestType(c.Query("request_type"))
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":       fmt.Sprintf("invalid request type '%s'", c.Query("request_type")),
			"valid_types": knownRequestTypes,
		})
		return
	}

	provider, ok := h.router.GetRecommendedProvider(priority, requestType)
	if !ok {
		writeProviderError(c, h.log, llm.ErrNoProvidersAvailable)
		return
	}

	c.JSON(http.StatusOK, RecommendResponse{
		Provider:    provider,
		Priority:    priority,
		RequestType: requestType,
	})
}

var (
	knownPriorities = []string{
		string(models.PriorityLow),
		string(models.PriorityNormal),
		string(models.PriorityHigh),
		string(models.PriorityCritical),
	}
	knownRequestTypes = []string{
		string(models.RequestTypeGeneral),
		string(models.RequestTypePhilosophical),
		string(models.RequestTypeAnalytical),
		string(models.RequestTypeCreative),
		string(models.RequestTypeCode),
	}
)

// parsePriority resolves a wire priority value, defaulting the empty
// string to normal.
func parsePriority(value string) (models.Priority, bool) {
	switch p := models.Priority(value); p {
	case "":
		return models.PriorityNormal, true
	case models.PriorityLow, models.PriorityNormal, models.PriorityHigh, models.PriorityCritical:
		return p, true
	}
	return "", false
}

// parseRequestType resolves a wire request type, defaulting the empty
// string to general.
func parseRequestType(value string) (models.RequestType, bool) {
	switch t := models.RequestType(value); t {
	case "":
		return models.RequestTypeGeneral, true
	case models.RequestTypeGeneral, models.RequestTypePhilosophical, models.RequestTypeAnalytical,
		models.RequestTypeCreative, models.RequestTypeCode:
		return t, true
	}
	return "", false
}
