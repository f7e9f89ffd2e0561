package llm

import (
	"context"

	"dev.helix.router/internal/models"
)

// ProviderAdapter is the contract every backend implements. One instance
// exists per provider name, owned by the registry; router and coordinator
// hold references into that shared set and never clone adapters.
type ProviderAdapter interface {
	// Name returns the stable provider identifier used for registration,
	// scoring profiles and performance history.
	Name() string

	// Initialize validates the credential and, for hosted vendors, probes
	// the backend's model listing (local backends probe a health
	// endpoint). A missing or empty credential fails synchronously with
	// an authentication error. A failed probe does not block
	// initialization; availability reflects it instead.
	Initialize(ctx context.Context) error

	// IsAvailable reports whether Initialize ran and the last known
	// health state is positive. Callers check it before Generate.
	IsAvailable() bool

	// SupportedModels returns the cached remote model identifiers. Empty
	// before initialization.
	SupportedModels() []string

	// Generate executes one completion. Streaming transports are consumed
	// inside the adapter; the caller always receives one complete
	// normalized response.
	Generate(ctx context.Context, messages []models.Message, opts *models.GenerationOptions) (*models.NormalizedResponse, error)

	// GetHealthStatus reports operational state for visibility. Routing
	// decisions never read it; they use performance history.
	GetHealthStatus() map[string]any

	// Cleanup releases held connections and caches. Idempotent.
	Cleanup() error
}
