package observability

import (
	"context"
	"time"

	"dev.helix.router/internal/llm"
	"dev.helix.router/internal/models"
)

// TracedAdapter wraps a provider adapter so every backend call emits an
// "llm.completion" client span with GenAI attributes. All other adapter
// methods delegate untouched.
type TracedAdapter struct {
	inner  llm.ProviderAdapter
	tracer *Tracer
}

// NewTracedAdapter wraps an adapter with the process-wide tracer.
func NewTracedAdapter(inner llm.ProviderAdapter) *TracedAdapter {
	return &TracedAdapter{
		inner:  inner,
		tracer: GetTracer(),
	}
}

func (a *TracedAdapter) Name() string { return a.inner.Name() }

func (a *TracedAdapter) Initialize(ctx context.Context) error { return a.inner.Initialize(ctx) }

func (a *TracedAdapter) IsAvailable() bool { return a.inner.IsAvailable() }

func (a *TracedAdapter) SupportedModels() []string { return a.inner.SupportedModels() }

func (a *TracedAdapter) GetHealthStatus() map[string]any { return a.inner.GetHealthStatus() }

func (a *TracedAdapter) Cleanup() error { return a.inner.Cleanup() }

// Generate runs the wrapped adapter inside a client span and records
// latency, token usage and errors against the provider name.
func (a *TracedAdapter) Generate(ctx context.Context, messages []models.Message, opts *models.GenerationOptions) (*models.NormalizedResponse, error) {
	params := &GenerationParams{Provider: a.inner.Name()}
	if opts != nil {
		params.Model = opts.Model
		params.Temperature = opts.Temperature
		params.MaxTokens = opts.MaxTokens
	}

	start := time.Now()
	ctx, span := a.tracer.StartGeneration(ctx, "llm.completion", params)

	resp, err := a.inner.Generate(ctx, messages, opts)

	result := &GenerationResult{
		Provider: a.inner.Name(),
		Err:      err,
	}
	if resp != nil {
		result.TotalTokens = resp.UsageTokens
		result.FinishReason = resp.FinishReason
		result.ResponseID = resp.ID
	}
	a.tracer.EndGeneration(ctx, span, result, start)

	return resp, err
}
