package llm

import (
	"context"

	"github.com/sirupsen/logrus"

	"dev.helix.router/internal/models"
)

// Coordinator executes generation against an ordered list of adapters,
// advancing to the next on any provider failure. List order is the
// fallback priority for this simple path; the router's scored selection
// is a separate component.
//
// Within one call no adapter is attempted twice. Per-attempt backoff
// lives in each adapter's own HTTP client, not here.
type Coordinator struct {
	adapters []ProviderAdapter
	logger   *logrus.Logger
}

// NewCoordinator builds a coordinator over the given adapters in fallback
// order.
func NewCoordinator(logger *logrus.Logger, adapters ...ProviderAdapter) *Coordinator {
	if logger == nil {
		logger = logrus.New()
	}
	return &Coordinator{
		adapters: adapters,
		logger:   logger,
	}
}

// Providers returns the adapter names in fallback order.
func (c *Coordinator) Providers() []string {
	names := make([]string, len(c.adapters))
	for i, adapter := range c.adapters {
		names[i] = adapter.Name()
	}
	return names
}

// Generate tries each adapter in order and returns the first success.
// Unavailable adapters are skipped. When every adapter fails or is
// unavailable the terminal all-failed error wraps the last failure seen.
func (c *Coordinator) Generate(ctx context.Context, messages []models.Message, opts *models.GenerationOptions) (*models.NormalizedResponse, error) {
	if len(c.adapters) == 0 {
		return nil, ErrNoProvidersConfigured
	}

	var lastErr error
	for _, adapter := range c.adapters {
		name := adapter.Name()
		if !adapter.IsAvailable() {
			c.logger.WithField("provider", name).Debug("Skipping unavailable provider")
			if lastErr == nil {
				lastErr = NewUnavailableError(name, "provider not available", nil)
			}
			continue
		}

		resp, err := adapter.Generate(ctx, messages, opts)
		if err == nil {
			return resp, nil
		}

		lastErr = err
		c.logger.WithFields(logrus.Fields{
			"provider": name,
			"error":    err.Error(),
		}).Warn("Provider failed, trying next")
	}

	return nil, NewAllFailedError(lastErr)
}

// GetHealthStatus aggregates every adapter's health map under a
// providers key.
func (c *Coordinator) GetHealthStatus() map[string]any {
	statuses := make([]map[string]any, 0, len(c.adapters))
	for _, adapter := range c.adapters {
		statuses = append(statuses, adapter.GetHealthStatus())
	}
	return map[string]any{
		"providers": statuses,
		"count":     len(c.adapters),
	}
}

// Cleanup releases every adapter. The first error is reported, the rest
// are logged.
func (c *Coordinator) Cleanup() error {
	var firstErr error
	for _, adapter := range c.adapters {
		if err := adapter.Cleanup(); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			c.logger.WithFields(logrus.Fields{
				"provider": adapter.Name(),
				"error":    err.Error(),
			}).Warn("Adapter cleanup failed")
		}
	}
	return firstErr
}
