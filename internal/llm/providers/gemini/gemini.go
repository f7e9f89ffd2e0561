package gemini

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"dev.helix.router/internal/llm"
	"dev.helix.router/internal/models"
)

const (
	// ProviderName is the stable registry identifier for this adapter.
	ProviderName = "gemini"
	// DefaultBaseURL is the Generative Language API root.
	DefaultBaseURL = "https://generativelanguage.googleapis.com/v1beta"
)

var modelPreference = []string{
	"gemini-2.0-flash",
	"gemini-1.5-pro",
	"gemini-1.5-flash",
}

var staticModels = []string{
	"gemini-2.0-flash",
	"gemini-1.5-pro",
	"gemini-1.5-flash",
	"gemini-1.5-flash-8b",
}

// Config holds the adapter's construction settings.
type Config struct {
	APIKey  string
	BaseURL string
	Model   string
	Timeout time.Duration
	Retry   llm.RetryConfig
}

// Provider speaks the Gemini generateContent API. Generation is always a
// single request; callers asking for streaming still get one collapsed
// response.
type Provider struct {
	apiKey     string
	baseURL    string
	model      string
	httpClient *http.Client
	retry      llm.RetryConfig
	logger     *logrus.Entry

	mu          sync.RWMutex
	initialized bool
	available   bool
	models      []string
}

// New builds the adapter. Credential validation happens in Initialize.
func New(cfg Config, logger *logrus.Logger) *Provider {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 120 * time.Second
	}
	if cfg.Retry.MaxRetries == 0 && cfg.Retry.InitialDelay == 0 {
		cfg.Retry = llm.DefaultRetryConfig()
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &Provider{
		apiKey:  cfg.APIKey,
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		model:   cfg.Model,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		retry:  cfg.Retry,
		logger: logger.WithField("provider", ProviderName),
	}
}

// Name implements llm.ProviderAdapter.
func (p *Provider) Name() string { return ProviderName }

// Initialize validates the credential and probes the model listing.
func (p *Provider) Initialize(ctx context.Context) error {
	if strings.TrimSpace(p.apiKey) == "" {
		return llm.NewAuthenticationError(ProviderName, "API key is required")
	}

	discovered, err := p.fetchModels(ctx)

	p.mu.Lock()
	defer p.mu.Unlock()
	p.initialized = true
	if err != nil {
		p.available = false
		p.logger.WithField("error", err.Error()).Warn("Model discovery failed, provider unavailable")
		return nil
	}
	p.models = discovered
	p.available = true
	p.logger.WithField("models", len(discovered)).Info("Provider initialized")
	return nil
}

// IsAvailable implements llm.ProviderAdapter.
func (p *Provider) IsAvailable() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.initialized && p.available
}

// SupportedModels returns the discovered model identifiers.
func (p *Provider) SupportedModels() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]string, len(p.models))
	copy(out, p.models)
	return out
}

// GetHealthStatus implements llm.ProviderAdapter.
func (p *Provider) GetHealthStatus() map[string]any {
	p.mu.RLock()
	defer p.mu.RUnlock()
	status := "unhealthy"
	if !p.initialized {
		status = "uninitialized"
	} else if p.available {
		status = "healthy"
	}
	return map[string]any{
		"provider":               ProviderName,
		"status":                 status,
		"initialized":            p.initialized,
		"available_models_count": len(p.models),
	}
}

// Cleanup implements llm.ProviderAdapter. Idempotent.
func (p *Provider) Cleanup() error {
	p.httpClient.CloseIdleConnections()
	p.mu.Lock()
	p.models = nil
	p.initialized = false
	p.available = false
	p.mu.Unlock()
	return nil
}

// Generate executes one content generation call.
func (p *Provider) Generate(ctx context.Context, messages []models.Message, opts *models.GenerationOptions) (*models.NormalizedResponse, error) {
	if opts == nil {
		opts = &models.GenerationOptions{}
	}
	start := time.Now()
	model := p.resolveModel(opts.Model)
	apiReq := convertRequest(messages, opts)

	resp, err := p.doRequest(ctx, model, apiReq)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, llm.NewUnavailableError(ProviderName, "failed to read response", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, llm.NewHTTPStatusError(ProviderName, resp.StatusCode, string(body),
			llm.ParseRetryAfter(resp.Header.Get("Retry-After")))
	}

	var apiResp response
	if err := json.Unmarshal(body, &apiResp); err != nil {
		return nil, llm.NewGenerationError(ProviderName, "malformed response body")
	}
	return convertResponse(&apiResp, model, start)
}

type request struct {
	Contents          []content         `json:"contents"`
	SystemInstruction *content          `json:"systemInstruction,omitempty"`
	GenerationConfig  *generationConfig `json:"generationConfig,omitempty"`
}

type content struct {
	Role  string `json:"role,omitempty"`
	Parts []part `json:"parts"`
}

type part struct {
	Text string `json:"text"`
}

type generationConfig struct {
	Temperature     float64  `json:"temperature,omitempty"`
	TopP            float64  `json:"topP,omitempty"`
	MaxOutputTokens int      `json:"maxOutputTokens,omitempty"`
	StopSequences   []string `json:"stopSequences,omitempty"`
}

type response struct {
	Candidates     []candidate     `json:"candidates"`
	PromptFeedback *promptFeedback `json:"promptFeedback,omitempty"`
	UsageMetadata  *usageMetadata  `json:"usageMetadata,omitempty"`
}

type candidate struct {
	Content      content `json:"content"`
	FinishReason string  `json:"finishReason"`
}

type promptFeedback struct {
	BlockReason string `json:"blockReason"`
}

type usageMetadata struct {
	PromptTokenCount     int `json:"promptTokenCount"`
	CandidatesTokenCount int `json:"candidatesTokenCount"`
	TotalTokenCount      int `json:"totalTokenCount"`
}

type modelsListResponse struct {
	Models []struct {
		Name string `json:"name"`
	} `json:"models"`
}

// convertRequest maps the shared message shape onto Gemini contents.
// Assistant turns become "model" and system turns move to the dedicated
// instruction field.
func convertRequest(msgs []models.Message, opts *models.GenerationOptions) request {
	var systemParts []part
	contents := make([]content, 0, len(msgs))
	for _, msg := range msgs {
		switch msg.Role {
		case models.RoleSystem:
			systemParts = append(systemParts, part{Text: msg.Content})
		case models.RoleAssistant:
			contents = append(contents, content{Role: "model", Parts: []part{{Text: msg.Content}}})
		default:
			contents = append(contents, content{Role: "user", Parts: []part{{Text: msg.Content}}})
		}
	}

	apiReq := request{Contents: contents}
	if len(systemParts) > 0 {
		apiReq.SystemInstruction = &content{Parts: systemParts}
	}
	if opts.Temperature != 0 || opts.TopP != 0 || opts.MaxTokens != 0 || len(opts.StopSequences) > 0 {
		apiReq.GenerationConfig = &generationConfig{
			Temperature:     opts.Temperature,
			TopP:            opts.TopP,
			MaxOutputTokens: opts.MaxTokens,
			StopSequences:   opts.StopSequences,
		}
	}
	return apiReq
}

func convertResponse(resp *response, model string, start time.Time) (*models.NormalizedResponse, error) {
	if resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != "" {
		return nil, llm.NewGenerationError(ProviderName,
			fmt.Sprintf("prompt blocked: %s", resp.PromptFeedback.BlockReason))
	}
	if len(resp.Candidates) == 0 {
		return nil, llm.NewGenerationError(ProviderName, "response contained no candidates")
	}
	first := resp.Candidates[0]
	if first.FinishReason == "SAFETY" {
		return nil, llm.NewGenerationError(ProviderName, "response blocked by safety filter")
	}

	var text strings.Builder
	for _, p := range first.Content.Parts {
		text.WriteString(p.Text)
	}

	var usageTokens int
	if resp.UsageMetadata != nil {
		usageTokens = resp.UsageMetadata.TotalTokenCount
	}

	return &models.NormalizedResponse{
		ID:           fmt.Sprintf("gemini-%d", start.UnixNano()),
		Content:      text.String(),
		UsageTokens:  usageTokens,
		Provider:     ProviderName,
		Model:        model,
		FinishReason: normalizeFinishReason(first.FinishReason),
		ResponseTime: time.Since(start).Milliseconds(),
		CreatedAt:    time.Now(),
	}, nil
}

func (p *Provider) doRequest(ctx context.Context, model string, apiReq request) (*http.Response, error) {
	body, err := json.Marshal(apiReq)
	if err != nil {
		return nil, llm.NewGenerationError(ProviderName, "failed to encode request")
	}
	url := fmt.Sprintf("%s/models/%s:generateContent?key=%s", p.baseURL, model, p.apiKey)

	var lastErr error
	for attempt := 0; attempt <= p.retry.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, llm.NewUnavailableError(ProviderName, "request cancelled", ctx.Err())
			case <-time.After(llm.CalculateBackoff(attempt, p.retry)):
			}
		}

		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return nil, llm.NewProviderError(ProviderName, "failed to create request")
		}
		httpReq.Header.Set("Content-Type", "application/json")

		resp, err := p.httpClient.Do(httpReq)
		if err != nil {
			if !llm.IsRetryableError(err) {
				return nil, llm.NewUnavailableError(ProviderName, "request cancelled", err)
			}
			lastErr = err
			continue
		}

		if llm.IsRetryableStatusCode(resp.StatusCode) && attempt < p.retry.MaxRetries {
			_ = resp.Body.Close()
			lastErr = fmt.Errorf("status %d", resp.StatusCode)
			continue
		}
		return resp, nil
	}

	return nil, llm.NewUnavailableError(ProviderName, "request failed after retries", lastErr)
}

func (p *Provider) fetchModels(ctx context.Context) ([]string, error) {
	probeCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	url := fmt.Sprintf("%s/models?key=%s", p.baseURL, p.apiKey)
	httpReq, err := http.NewRequestWithContext(probeCtx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("model listing returned status %d", resp.StatusCode)
	}

	var listing modelsListResponse
	if err := json.NewDecoder(resp.Body).Decode(&listing); err != nil {
		return nil, err
	}
	names := make([]string, 0, len(listing.Models))
	for _, m := range listing.Models {
		// Listing names carry a "models/" prefix.
		names = append(names, strings.TrimPrefix(m.Name, "models/"))
	}
	return names, nil
}

func (p *Provider) resolveModel(requested string) string {
	if requested != "" {
		return requested
	}
	if p.model != "" {
		return p.model
	}

	known := p.SupportedModels()
	if len(known) == 0 {
		known = staticModels
	}
	for _, candidate := range modelPreference {
		for _, have := range known {
			if candidate == have {
				return candidate
			}
		}
	}
	return modelPreference[0]
}

func normalizeFinishReason(reason string) string {
	switch reason {
	case "STOP", "":
		return "stop"
	case "MAX_TOKENS":
		return "length"
	case "SAFETY":
		return "content_filter"
	default:
		return strings.ToLower(reason)
	}
}
