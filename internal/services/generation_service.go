package services

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/trace"

	"dev.helix.router/internal/llm"
	"dev.helix.router/internal/models"
	"dev.helix.router/internal/observability"
	"dev.helix.router/internal/observability/metrics"
)

// GenerationDefaults fill in request knobs the caller left unset.
type GenerationDefaults struct {
	MaxTokens   int
	Temperature float64
}

// GenerationService is the facade the HTTP layer talks to. It owns the
// two request surfaces: ordered-failover generation and scored routing.
// A non-empty GenerationOptions.Provider bypasses both and targets that
// backend directly, still behind its circuit breaker.
type GenerationService struct {
	registry    *ProviderRegistry
	coordinator *llm.Coordinator
	router      *llm.Router
	collector   *metrics.Collector
	defaults    GenerationDefaults
	logger      *logrus.Logger
}

// NewGenerationService wires the service over an already constructed
// registry, coordinator and router.
func NewGenerationService(registry *ProviderRegistry, coordinator *llm.Coordinator, router *llm.Router, defaults GenerationDefaults, logger *logrus.Logger) *GenerationService {
	if logger == nil {
		logger = logrus.New()
	}
	return &GenerationService{
		registry:    registry,
		coordinator: coordinator,
		router:      router,
		collector:   metrics.NewCollector(),
		defaults:    defaults,
		logger:      logger,
	}
}

// GenerateResponse runs one generation through the ordered failover
// chain, or directly against opts.Provider when set.
func (s *GenerationService) GenerateResponse(ctx context.Context, messages []models.Message, opts *models.GenerationOptions) (*models.NormalizedResponse, error) {
	opts = s.applyDefaults(opts)

	requestID := uuid.NewString()
	start := time.Now()

	ctx, span := observability.GetTracer().StartGeneration(ctx, "llm.generate", &observability.GenerationParams{
		Provider:    opts.Provider,
		Model:       opts.Model,
		RequestID:   requestID,
		Temperature: opts.Temperature,
		MaxTokens:   opts.MaxTokens,
	})

	var resp *models.NormalizedResponse
	var err error
	if opts.Provider != "" {
		resp, err = s.generateDirect(ctx, messages, opts)
	} else {
		resp, err = s.coordinator.Generate(ctx, messages, opts)
	}

	s.finish(ctx, span, "generate", requestID, resp, err, start)
	if err != nil {
		return nil, err
	}
	if resp.RequestID == "" {
		resp.RequestID = requestID
	}
	return resp, nil
}

// RouteRequest runs one generation through scored routing. The request
// keeps its caller-assigned ID; one is minted when absent.
func (s *GenerationService) RouteRequest(ctx context.Context, req *models.RoutingRequest) (*models.NormalizedResponse, error) {
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	if req.MaxTokens == 0 {
		req.MaxTokens = s.defaults.MaxTokens
	}
	if req.Temperature == 0 {
		req.Temperature = s.defaults.Temperature
	}

	start := time.Now()
	ctx, span := observability.GetTracer().StartGeneration(ctx, "llm.route", &observability.GenerationParams{
		Model:       req.Model,
		RequestID:   req.ID,
		Priority:    string(req.Priority),
		RequestType: string(req.RequestType),
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	})

	resp, err := s.router.Route(ctx, req)
	s.finish(ctx, span, "route", req.ID, resp, err, start)
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// generateDirect targets one backend by name, skipping failover. The
// adapter comes out of the registry, so the circuit breaker still
// applies.
func (s *GenerationService) generateDirect(ctx context.Context, messages []models.Message, opts *models.GenerationOptions) (*models.NormalizedResponse, error) {
	adapter, err := s.registry.Create(opts.Provider)
	if err != nil {
		return nil, err
	}
	if !adapter.IsAvailable() {
		return nil, llm.NewUnavailableError(opts.Provider, "provider not available", nil)
	}
	return adapter.Generate(ctx, messages, opts)
}

// applyDefaults copies opts with the configured defaults filled in, so
// the caller's struct is never mutated.
func (s *GenerationService) applyDefaults(opts *models.GenerationOptions) *models.GenerationOptions {
	merged := models.GenerationOptions{}
	if opts != nil {
		merged = *opts
	}
	if merged.MaxTokens == 0 {
		merged.MaxTokens = s.defaults.MaxTokens
	}
	if merged.Temperature == 0 {
		merged.Temperature = s.defaults.Temperature
	}
	return &merged
}

// finish closes the span and records metrics and logs for one request.
func (s *GenerationService) finish(ctx context.Context, span trace.Span, surface, requestID string, resp *models.NormalizedResponse, err error, start time.Time) {
	result := &observability.GenerationResult{Err: err}
	if resp != nil {
		result.Provider = resp.Provider
		result.TotalTokens = resp.UsageTokens
		result.FinishReason = resp.FinishReason
		result.ResponseID = resp.ID
	}
	observability.GetTracer().EndGeneration(ctx, span, result, start)

	if err != nil {
		s.collector.RecordGeneration(surface, "error")
		if pe, ok := llm.AsProviderError(err); ok && pe.Provider != "" {
			s.collector.RecordProviderError(pe.Provider, pe.Kind.String())
		}
		s.logger.WithFields(logrus.Fields{
			"request_id": requestID,
			"surface":    surface,
			"error":      err.Error(),
		}).Error("Generation failed")
		return
	}

	s.collector.RecordGeneration(surface, "success")
	s.collector.RecordProviderCall(resp.Provider, resp.Model, resp.UsageTokens, time.Since(start))
	s.logger.WithFields(logrus.Fields{
		"request_id": requestID,
		"surface":    surface,
		"provider":   resp.Provider,
		"tokens":     resp.UsageTokens,
	}).Info("Generation completed")
}
