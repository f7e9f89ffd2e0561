// Package llm provides the provider abstraction, failover, and routing
// core for the Helix routing layer.
//
// Heterogeneous LLM backends are wrapped behind a single adapter
// contract and exercised through two execution strategies: an ordered
// failover chain and a score-based intelligent router.
//
// # Core Components
//
//   - ProviderAdapter: interface every backend adapter implements
//   - Coordinator: ordered failover across a fixed provider chain
//   - Router: weighted scoring and one-shot provider selection
//   - HistoryStore: per-provider success tracking that feeds scoring
//   - CircuitBreaker: fault isolation for repeatedly failing providers
//
// # Provider Interface
//
// All adapters implement the ProviderAdapter interface:
//
//	type ProviderAdapter interface {
//	    Name() string
//	    Initialize(ctx context.Context) error
//	    IsAvailable() bool
//	    SupportedModels() []string
//	    Generate(ctx context.Context, messages []models.Message, opts *models.GenerationOptions) (*models.NormalizedResponse, error)
//	    GetHealthStatus() map[string]any
//	    Cleanup() error
//	}
//
// The providers/ subdirectory contains adapters for Anthropic, OpenAI,
// Gemini, DeepSeek, OpenRouter, and Ollama.
//
// # Failover
//
// The Coordinator walks its providers in declaration order and returns
// the first success. Unavailable providers are skipped without an
// attempt; an exhausted chain yields an error wrapping the last
// provider failure.
//
// # Intelligent Routing
//
// The Router scores every available, eligible provider against the
// request's priority profile (quality, speed, cost), blends in
// philosophical accuracy for philosophical requests, applies a
// performance modifier from recorded history, and executes the single
// best candidate. Selection happens once per Route call; a failed
// execution is reported to the caller rather than silently retried.
//
// # Error Taxonomy
//
// Provider failures carry a kind (authentication, rate limit,
// unavailable, generation) so callers can distinguish a bad credential
// from an overloaded backend. Predicates such as IsRateLimitError work
// through wrapped errors.
package llm
