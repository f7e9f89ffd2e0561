package services

import (
	"context"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"dev.helix.router/internal/config"
	"dev.helix.router/internal/llm"
	"dev.helix.router/internal/llm/providers/anthropic"
	"dev.helix.router/internal/llm/providers/deepseek"
	"dev.helix.router/internal/llm/providers/gemini"
	"dev.helix.router/internal/llm/providers/ollama"
	"dev.helix.router/internal/llm/providers/openai"
	"dev.helix.router/internal/llm/providers/openrouter"
	"dev.helix.router/internal/models"
	"dev.helix.router/internal/observability"
)

// ProviderRegistry owns the single adapter instance per provider name.
// Registration order is the declaration order exposed through List,
// which the router uses as its deterministic tie-break and the
// coordinator as its fallback priority. Every registered adapter is
// wrapped in a per-provider circuit breaker.
type ProviderRegistry struct {
	mu       sync.RWMutex
	order    []string
	adapters map[string]llm.ProviderAdapter
	breakers *llm.CircuitBreakerManager
	logger   *logrus.Logger
}

// NewProviderRegistry builds an empty registry applying breakerCfg to
// every provider registered later.
func NewProviderRegistry(breakerCfg llm.CircuitBreakerConfig, logger *logrus.Logger) *ProviderRegistry {
	if logger == nil {
		logger = logrus.New()
	}
	return &ProviderRegistry{
		order:    make([]string, 0),
		adapters: make(map[string]llm.ProviderAdapter),
		breakers: llm.NewCircuitBreakerManager(breakerCfg),
		logger:   logger,
	}
}

// NewRegistryFromConfig registers one adapter per enabled provider in
// the configured failover order. An enabled hosted provider without an
// API key fails construction immediately so a misconfigured deployment
// dies at boot instead of at first request.
func NewRegistryFromConfig(cfg *config.Config, logger *logrus.Logger) (*ProviderRegistry, error) {
	registry := NewProviderRegistry(llm.DefaultCircuitBreakerConfig(), logger)

	for _, name := range cfg.LLM.FailoverOrder {
		pc, ok := cfg.LLM.Providers[name]
		if !ok || !pc.Enabled {
			continue
		}
		adapter, err := buildAdapter(name, pc, logger)
		if err != nil {
			return nil, err
		}
		// breaker wraps tracing wraps vendor, so fast breaker rejections
		// never open a client span.
		if err := registry.Register(name, observability.NewTracedAdapter(adapter)); err != nil {
			return nil, err
		}
	}

	if len(registry.List()) == 0 {
		logger.Warn("No providers enabled; every generation call will fail")
	}
	return registry, nil
}

func buildAdapter(name string, pc config.ProviderConfig, logger *logrus.Logger) (llm.ProviderAdapter, error) {
	if name != ollama.ProviderName && pc.APIKey == "" {
		return nil, fmt.Errorf("provider %s is enabled but has no API key", name)
	}

	switch name {
	case anthropic.ProviderName:
		return anthropic.New(anthropic.Config{
			APIKey:  pc.APIKey,
			BaseURL: pc.BaseURL,
			Model:   pc.Model,
			Timeout: pc.Timeout,
		}, logger), nil
	case openai.ProviderName:
		return openai.New(openai.Config{
			APIKey:  pc.APIKey,
			BaseURL: pc.BaseURL,
			Model:   pc.Model,
			Timeout: pc.Timeout,
		}, logger), nil
	case gemini.ProviderName:
		return gemini.New(gemini.Config{
			APIKey:  pc.APIKey,
			BaseURL: pc.BaseURL,
			Model:   pc.Model,
			Timeout: pc.Timeout,
		}, logger), nil
	case deepseek.ProviderName:
		return deepseek.New(deepseek.Config{
			APIKey:  pc.APIKey,
			BaseURL: pc.BaseURL,
			Model:   pc.Model,
			Timeout: pc.Timeout,
		}, logger), nil
	case openrouter.ProviderName:
		return openrouter.New(openrouter.Config{
			APIKey:  pc.APIKey,
			BaseURL: pc.BaseURL,
			Model:   pc.Model,
			Timeout: pc.Timeout,
		}, logger), nil
	case ollama.ProviderName:
		return ollama.New(ollama.Config{
			BaseURL: pc.BaseURL,
			Model:   pc.Model,
			Timeout: pc.Timeout,
		}, logger), nil
	default:
		return nil, fmt.Errorf("unknown provider %q in failover order", name)
	}
}

// Register wires the adapter under its name, wrapped in a circuit
// breaker. Exactly one adapter may exist per name.
func (r *ProviderRegistry) Register(name string, adapter llm.ProviderAdapter) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.adapters[name]; exists {
		return fmt.Errorf("provider %s already registered", name)
	}

	r.adapters[name] = &breakerAdapter{
		inner:   adapter,
		breaker: r.breakers.Get(name),
	}
	r.order = append(r.order, name)

	r.logger.WithField("provider", name).Info("Provider registered")
	return nil
}

// Create returns the named adapter. The name "create" is kept for the
// factory surface; adapters are process-lifetime singletons, never
// re-built per call.
func (r *ProviderRegistry) Create(name string) (llm.ProviderAdapter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	adapter, exists := r.adapters[name]
	if !exists {
		return nil, &llm.ProviderError{Message: fmt.Sprintf("Provider '%s' not found", name)}
	}
	return adapter, nil
}

// List returns the registered names in declaration order.
func (r *ProviderRegistry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, len(r.order))
	copy(names, r.order)
	return names
}

// Adapters returns the registered adapters in declaration order, the
// coordinator's fallback sequence.
func (r *ProviderRegistry) Adapters() []llm.ProviderAdapter {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]llm.ProviderAdapter, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.adapters[name])
	}
	return out
}

// InitializeAll probes every adapter concurrently. Probe failures mark
// the adapter unavailable without erroring; a returned error means a
// credential-level misconfiguration.
func (r *ProviderRegistry) InitializeAll(ctx context.Context) error {
	g, initCtx := errgroup.WithContext(ctx)

	for _, adapter := range r.Adapters() {
		adapter := adapter
		g.Go(func() error {
			if err := adapter.Initialize(initCtx); err != nil {
				return fmt.Errorf("initializing %s: %w", adapter.Name(), err)
			}
			r.logger.WithFields(logrus.Fields{
				"provider":  adapter.Name(),
				"available": adapter.IsAvailable(),
				"models":    len(adapter.SupportedModels()),
			}).Info("Provider initialized")
			return nil
		})
	}
	return g.Wait()
}

// HealthSnapshot returns every adapter's health map in declaration
// order.
func (r *ProviderRegistry) HealthSnapshot() []map[string]any {
	adapters := r.Adapters()
	out := make([]map[string]any, 0, len(adapters))
	for _, adapter := range adapters {
		out = append(out, adapter.GetHealthStatus())
	}
	return out
}

// BreakerStats returns every provider's circuit breaker counters.
func (r *ProviderRegistry) BreakerStats() map[string]llm.CircuitBreakerStats {
	return r.breakers.Stats()
}

// Cleanup releases every adapter. The first error is returned, the rest
// are logged.
func (r *ProviderRegistry) Cleanup() error {
	var firstErr error
	for _, adapter := range r.Adapters() {
		if err := adapter.Cleanup(); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			r.logger.WithFields(logrus.Fields{
				"provider": adapter.Name(),
				"error":    err.Error(),
			}).Warn("Provider cleanup failed")
		}
	}
	return firstErr
}

// breakerAdapter guards one adapter with its circuit breaker. An open
// breaker rejects the call before any HTTP traffic happens; the
// rejection surfaces as an unavailable error so failover treats it like
// a down backend.
type breakerAdapter struct {
	inner   llm.ProviderAdapter
	breaker *llm.CircuitBreaker
}

func (b *breakerAdapter) Name() string { return b.inner.Name() }

func (b *breakerAdapter) Initialize(ctx context.Context) error { return b.inner.Initialize(ctx) }

func (b *breakerAdapter) IsAvailable() bool { return b.inner.IsAvailable() }

func (b *breakerAdapter) SupportedModels() []string { return b.inner.SupportedModels() }

func (b *breakerAdapter) Generate(ctx context.Context, messages []models.Message, opts *models.GenerationOptions) (*models.NormalizedResponse, error) {
	if err := b.breaker.Allow(); err != nil {
		return nil, llm.NewUnavailableError(b.inner.Name(), "circuit breaker open", err)
	}

	resp, err := b.inner.Generate(ctx, messages, opts)
	if err != nil {
		// Safety blocks are caller problems, not backend health; they
		// do not move the breaker.
		if !llm.IsGenerationError(err) {
			b.breaker.RecordFailure()
		}
		return nil, err
	}

	b.breaker.RecordSuccess()
	return resp, nil
}

func (b *breakerAdapter) GetHealthStatus() map[string]any {
	status := b.inner.GetHealthStatus()
	status["circuit_state"] = string(b.breaker.State())
	return status
}

func (b *breakerAdapter) Cleanup() error { return b.inner.Cleanup() }
