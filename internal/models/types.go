package models

import "time"

// Message roles understood by every provider adapter.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Priority controls which scoring weight set the router applies.
type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityNormal   Priority = "normal"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

// RequestType tags a request with the kind of work it carries so the
// router can blend in type-specific accuracy dimensions.
type RequestType string

const (
	RequestTypeGeneral       RequestType = "general"
	RequestTypePhilosophical RequestType = "philosophical"
	RequestTypeAnalytical    RequestType = "analytical"
	RequestTypeCreative      RequestType = "creative"
	RequestTypeCode          RequestType = "code"
)

// Message is a single conversational turn. Constructed by the caller and
// never mutated by the routing layer.
type Message struct {
	Role     string            `json:"role"`
	Content  string            `json:"content"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// GenerationOptions carries the per-call knobs accepted by every adapter.
// Provider is only honored by the generation service, where a non-empty
// value short-circuits routing and targets that backend directly.
type GenerationOptions struct {
	Provider      string   `json:"provider,omitempty"`
	Model         string   `json:"model,omitempty"`
	MaxTokens     int      `json:"max_tokens,omitempty"`
	Temperature   float64  `json:"temperature,omitempty"`
	TopP          float64  `json:"top_p,omitempty"`
	StopSequences []string `json:"stop_sequences,omitempty"`
	Stream        bool     `json:"stream,omitempty"`
}

// NormalizedResponse is the vendor-agnostic result produced once per call
// attempt. Provider and Model always name the adapter and model that
// actually served the request, so callers can observe failover.
type NormalizedResponse struct {
	ID           string         `json:"id"`
	RequestID    string         `json:"request_id,omitempty"`
	Content      string         `json:"content"`
	UsageTokens  int            `json:"usage_tokens,omitempty"`
	Provider     string         `json:"provider"`
	Model        string         `json:"model,omitempty"`
	FinishReason string         `json:"finish_reason,omitempty"`
	ResponseTime int64          `json:"response_time_ms,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
}

// ProviderCapabilities is the static scoring profile for one provider.
// All score dimensions are in [0,1]; CostScore is inverted (higher means
// cheaper). Profiles are set at router construction and change only
// through the explicit capabilities-update operation, never by traffic.
// OverrideMinQuality exempts a provider from the min-quality filter when
// its nominal QualityScore underrates real output quality.
type ProviderCapabilities struct {
	Name                  string  `json:"name"`
	QualityScore          float64 `json:"quality_score"`
	SpeedScore            float64 `json:"speed_score"`
	CostScore             float64 `json:"cost_score"`
	PhilosophicalAccuracy float64 `json:"philosophical_accuracy"`
	ReliabilityScore      float64 `json:"reliability_score"`
	MaxTokens             int     `json:"max_tokens"`
	SupportsStreaming     bool    `json:"supports_streaming"`
	OverrideMinQuality    bool    `json:"override_min_quality,omitempty"`
}

// RoutingRequest is one routed call. Immutable after construction.
// ExcludeProviders always wins over PreferredProviders when a name
// appears in both.
type RoutingRequest struct {
	ID                 string      `json:"id,omitempty"`
	Messages           []Message   `json:"messages"`
	Priority           Priority    `json:"priority"`
	RequestType        RequestType `json:"request_type"`
	MaxCost            *float64    `json:"max_cost,omitempty"`
	MinQuality         *float64    `json:"min_quality,omitempty"`
	PreferredProviders []string    `json:"preferred_providers,omitempty"`
	ExcludeProviders   []string    `json:"exclude_providers,omitempty"`
	RequireStreaming   bool        `json:"require_streaming,omitempty"`
	Model              string      `json:"model,omitempty"`
	MaxTokens          int         `json:"max_tokens,omitempty"`
	Temperature        float64     `json:"temperature,omitempty"`
}

// ProviderPerformance is one performance-history entry. SuccessRate is
// always recomputed as successful/total, never drifted independently.
type ProviderPerformance struct {
	TotalRequests      int64   `json:"total_requests"`
	SuccessfulRequests int64   `json:"successful_requests"`
	SuccessRate        float64 `json:"success_rate"`
}

// GenerationOptions maps the routing request onto the adapter option set.
func (r *RoutingRequest) GenerationOptions() *GenerationOptions {
	return &GenerationOptions{
		Model:       r.Model,
		MaxTokens:   r.MaxTokens,
		Temperature: r.Temperature,
		Stream:      r.RequireStreaming,
	}
}
