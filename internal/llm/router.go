package llm

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"dev.helix.router/internal/models"
)

// Routing metadata keys attached to every routed response. Part of the
// contract: callers assert routing decisions from these instead of
// re-deriving scores.
const (
	MetadataSelectedProvider = "router_selected_provider"
	MetadataRouterScore      = "router_score"
	MetadataRequestPriority  = "request_priority"
	MetadataRequestType      = "request_type"
)

// performanceBonusFactor scales the historical success rate into the
// multiplicative performance modifier: rate + rate*factor.
const performanceBonusFactor = 0.4

// philosophicalWeight blends the type-specific accuracy dimension into
// the score for philosophy-typed requests.
const philosophicalWeight = 0.4

// defaultPreferenceBoost is added to a provider's final score when the
// caller listed it as preferred.
const defaultPreferenceBoost = 0.15

// AdapterSource is the registry view the router depends on. List returns
// names in declaration order, which is also the deterministic tie-break
// order for selection.
type AdapterSource interface {
	List() []string
	Create(name string) (ProviderAdapter, error)
}

// scoringWeights is one priority's blend over the static capability
// dimensions.
type scoringWeights struct {
	quality float64
	speed   float64
	cost    float64
}

func weightsForPriority(priority models.Priority) scoringWeights {
	switch priority {
	case models.PriorityLow:
		// Cost-optimized: cheapest eligible backend should win.
		return scoringWeights{quality: 0.2, speed: 0.3, cost: 0.5}
	case models.PriorityHigh:
		return scoringWeights{quality: 0.6, speed: 0.3, cost: 0.1}
	case models.PriorityCritical:
		return scoringWeights{quality: 0.7, speed: 0.3, cost: 0.0}
	default:
		return scoringWeights{quality: 0.4, speed: 0.3, cost: 0.3}
	}
}

// RouterConfig configures router construction.
type RouterConfig struct {
	// Capabilities are the static scoring profiles, one per provider the
	// source can construct.
	Capabilities []models.ProviderCapabilities
	// PreferenceBoost overrides the additive boost for preferred
	// providers. Zero keeps the default.
	PreferenceBoost float64
}

// Router selects the best provider for a request by blending static
// capability profiles with live performance history, executes the call
// through the chosen adapter and records the outcome.
//
// Selection is one-shot: a failed call is recorded and re-raised, and the
// caller decides whether to re-route with the failed provider excluded.
// Ordered in-call failover is the coordinator's job, not the router's.
type Router struct {
	source          AdapterSource
	history         *HistoryStore
	logger          *logrus.Logger
	preferenceBoost float64

	mu   sync.RWMutex
	caps map[string]models.ProviderCapabilities

	totalRequests      atomic.Int64
	successfulRequests atomic.Int64
	costOptimized      atomic.Int64
	providerFailovers  atomic.Int64
}

// NewRouter builds a router over the adapter source. Capability profiles
// missing from cfg default to a neutral mid-range profile so an adapter
// registered without a profile is still routable.
func NewRouter(source AdapterSource, cfg RouterConfig, logger *logrus.Logger) *Router {
	if logger == nil {
		logger = logrus.New()
	}
	boost := cfg.PreferenceBoost
	if boost == 0 {
		boost = defaultPreferenceBoost
	}

	caps := make(map[string]models.ProviderCapabilities, len(cfg.Capabilities))
	for _, c := range cfg.Capabilities {
		caps[c.Name] = c
	}

	return &Router{
		source:          source,
		history:         NewHistoryStore(),
		logger:          logger,
		preferenceBoost: boost,
		caps:            caps,
	}
}

// Route scores every eligible provider, executes the single best pick and
// records the outcome in performance history.
func (r *Router) Route(ctx context.Context, req *models.RoutingRequest) (*models.NormalizedResponse, error) {
	r.totalRequests.Add(1)
	if req.Priority == models.PriorityLow {
		r.costOptimized.Add(1)
	}

	available := r.availableProviders()
	if len(available) == 0 {
		return nil, ErrNoProvidersAvailable
	}

	eligible := r.filterEligible(available, req)
	if len(eligible) == 0 {
		return nil, ErrNoEligibleProviders
	}

	selected, score := r.selectBest(eligible, req)

	r.logger.WithFields(logrus.Fields{
		"provider":     selected.name,
		"score":        score,
		"priority":     string(req.Priority),
		"request_type": string(req.RequestType),
		"candidates":   len(eligible),
	}).Info("Routing request")

	start := time.Now()
	resp, err := selected.adapter.Generate(ctx, req.Messages, req.GenerationOptions())
	r.history.Record(selected.name, err == nil)

	if err != nil {
		r.providerFailovers.Add(1)
		r.logger.WithFields(logrus.Fields{
			"provider": selected.name,
			"error":    err.Error(),
		}).Warn("Selected provider failed")
		return nil, err
	}

	r.successfulRequests.Add(1)

	if resp.Metadata == nil {
		resp.Metadata = make(map[string]any)
	}
	resp.Metadata[MetadataSelectedProvider] = selected.name
	resp.Metadata[MetadataRouterScore] = score
	resp.Metadata[MetadataRequestPriority] = string(req.Priority)
	resp.Metadata[MetadataRequestType] = string(req.RequestType)
	if resp.ResponseTime == 0 {
		resp.ResponseTime = time.Since(start).Milliseconds()
	}
	if resp.RequestID == "" {
		resp.RequestID = req.ID
	}
	return resp, nil
}

// GetRecommendedProvider runs the scoring pass without executing a call.
// The second return is false when nothing is available.
func (r *Router) GetRecommendedProvider(priority models.Priority, requestType models.RequestType) (string, bool) {
	req := &models.RoutingRequest{Priority: priority, RequestType: requestType}
	available := r.availableProviders()
	if len(available) == 0 {
		return "", false
	}
	selected, _ := r.selectBest(available, req)
	return selected.name, true
}

// GetRoutingStatistics reports routing counters, per-provider performance
// and the currently available provider names. Observability only.
func (r *Router) GetRoutingStatistics() map[string]any {
	total := r.totalRequests.Load()
	successRate := 0.0
	if total > 0 {
		successRate = float64(r.successfulRequests.Load()) / float64(total)
	}

	active := make([]string, 0)
	for _, c := range r.availableProviders() {
		active = append(active, c.name)
	}

	return map[string]any{
		"total_requests":          total,
		"success_rate":            successRate,
		"cost_optimized_requests": r.costOptimized.Load(),
		"provider_failovers":      r.providerFailovers.Load(),
		"provider_performance":    r.history.Snapshot(),
		"active_providers":        active,
	}
}

// UpdateCapabilities replaces a provider's static profile at runtime.
// This is the only mutation path for profiles; request traffic never
// touches them.
func (r *Router) UpdateCapabilities(name string, caps models.ProviderCapabilities) error {
	if _, err := r.source.Create(name); err != nil {
		return err
	}
	caps.Name = name
	r.mu.Lock()
	r.caps[name] = caps
	r.mu.Unlock()

	r.logger.WithField("provider", name).Info("Provider capabilities updated")
	return nil
}

// Capabilities returns the current profile for a provider.
func (r *Router) Capabilities(name string) (models.ProviderCapabilities, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	caps, ok := r.caps[name]
	return caps, ok
}

// History exposes the performance history snapshot.
func (r *Router) History() map[string]models.ProviderPerformance {
	return r.history.Snapshot()
}

type candidate struct {
	name    string
	adapter ProviderAdapter
}

// availableProviders returns the constructible, currently available
// adapters in declaration order.
func (r *Router) availableProviders() []candidate {
	names := r.source.List()
	out := make([]candidate, 0, len(names))
	for _, name := range names {
		adapter, err := r.source.Create(name)
		if err != nil {
			r.logger.WithField("provider", name).Debug("Provider not constructible")
			continue
		}
		if !adapter.IsAvailable() {
			continue
		}
		out = append(out, candidate{name: name, adapter: adapter})
	}
	return out
}

// filterEligible applies the hard constraints: exclusion always wins,
// then the min-quality bar (unless the profile overrides it), then the
// streaming requirement.
func (r *Router) filterEligible(available []candidate, req *models.RoutingRequest) []candidate {
	excluded := make(map[string]struct{}, len(req.ExcludeProviders))
	for _, name := range req.ExcludeProviders {
		excluded[name] = struct{}{}
	}

	eligible := make([]candidate, 0, len(available))
	for _, c := range available {
		if _, skip := excluded[c.name]; skip {
			continue
		}
		caps := r.capabilitiesFor(c.name)
		if req.MinQuality != nil && caps.QualityScore < *req.MinQuality && !caps.OverrideMinQuality {
			continue
		}
		if req.RequireStreaming && !caps.SupportsStreaming {
			continue
		}
		eligible = append(eligible, c)
	}
	return eligible
}

// selectBest returns the highest-scoring candidate. Ties keep the
// earliest declaration-order candidate, so selection is deterministic.
func (r *Router) selectBest(eligible []candidate, req *models.RoutingRequest) (candidate, float64) {
	best := eligible[0]
	bestScore := r.scoreProvider(best.name, req)
	for _, c := range eligible[1:] {
		if score := r.scoreProvider(c.name, req); score > bestScore {
			best = c
			bestScore = score
		}
	}
	return best, bestScore
}

// scoreProvider computes the weighted blend for one provider: the
// priority weight set over quality/speed/cost, the type-specific accuracy
// blend, the multiplicative performance modifier, then the additive
// preference boost.
func (r *Router) scoreProvider(name string, req *models.RoutingRequest) float64 {
	caps := r.capabilitiesFor(name)
	w := weightsForPriority(req.Priority)

	score := caps.QualityScore*w.quality + caps.SpeedScore*w.speed + caps.CostScore*w.cost
	if req.RequestType == models.RequestTypePhilosophical {
		score += caps.PhilosophicalAccuracy * philosophicalWeight
	}

	score *= r.performanceModifier(name)

	for _, preferred := range req.PreferredProviders {
		if preferred == name {
			score += r.preferenceBoost
			break
		}
	}
	return score
}

// performanceModifier derives the multiplicative history adjustment.
// Providers without history stay neutral at 1.0.
func (r *Router) performanceModifier(name string) float64 {
	perf, ok := r.history.Get(name)
	if !ok || perf.TotalRequests == 0 {
		return 1.0
	}
	return perf.SuccessRate + perf.SuccessRate*performanceBonusFactor
}

func (r *Router) capabilitiesFor(name string) models.ProviderCapabilities {
	r.mu.RLock()
	caps, ok := r.caps[name]
	r.mu.RUnlock()
	if ok {
		return caps
	}
	// Unprofiled providers score mid-range rather than zero so a missing
	// profile never blackholes an otherwise healthy backend.
	return models.ProviderCapabilities{
		Name:              name,
		QualityScore:      0.5,
		SpeedScore:        0.5,
		CostScore:         0.5,
		ReliabilityScore:  0.5,
		SupportsStreaming: false,
	}
}
