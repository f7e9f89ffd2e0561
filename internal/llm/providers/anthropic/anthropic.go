package anthropic

import (
	"bufio"
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
	ProviderName = "anthropic"
	// DefaultBaseURL is the Anthropic API root.
	DefaultBaseURL = "https://api.anthropic.com"
	// APIVersion is the anthropic-version header value.
	APIVersion = "2023-06-01"

	messagesPath = "/v1/messages"
	modelsPath   = "/v1/models"
)

// modelPreference is the ordered "best balanced" list consulted when the
// caller does not pick a model.
var modelPreference = []string{
	"claude-sonnet-4-20250514",
	"claude-3-5-sonnet-20241022",
	"claude-3-5-haiku-20241022",
	"claude-3-opus-20240229",
}

// staticModels backs default-model selection when discovery has not run.
var staticModels = []string{
	"claude-sonnet-4-20250514",
	"claude-3-5-sonnet-20241022",
	"claude-3-5-haiku-20241022",
	"claude-3-opus-20240229",
	"claude-3-haiku-20240307",
}

// Config holds the adapter's construction settings.
type Config struct {
	APIKey  string
	BaseURL string
	Model   string
	Timeout time.Duration
	Retry   llm.RetryConfig
}

// Provider speaks the Anthropic messages API. Streaming responses arrive
// as SSE events and are collapsed into one normalized response.
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

// New builds the adapter. Credentials are validated in Initialize, not
// here, so a registry can construct adapters before probing them.
func New(cfg Config, logger *logrus.Logger) *Provider {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout == 0 {
		// Long-form answers can stream for minutes.
		cfg.Timeout = 300 * time.Second
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

// Initialize validates the credential and probes the model listing. A
// failed probe leaves the adapter initialized but unavailable.
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

// SupportedModels returns the discovered model identifiers. Empty before
// initialization.
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

// Generate executes one completion. The SSE stream, when requested, is
// consumed here; the caller always gets one complete response.
func (p *Provider) Generate(ctx context.Context, messages []models.Message, opts *models.GenerationOptions) (*models.NormalizedResponse, error) {
	if opts == nil {
		opts = &models.GenerationOptions{}
	}
	start := time.Now()
	apiReq := p.convertRequest(messages, opts)

	if opts.Stream {
		return p.generateStream(ctx, apiReq, start)
	}

	resp, err := p.doRequest(ctx, apiReq)
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
	return p.convertResponse(&apiResp, start)
}

// request is the Anthropic messages payload. System turns are carried in
// the dedicated field, not the message list.
type request struct {
	Model         string    `json:"model"`
	Messages      []message `json:"messages"`
	MaxTokens     int       `json:"max_tokens"`
	System        string    `json:"system,omitempty"`
	Temperature   float64   `json:"temperature,omitempty"`
	TopP          float64   `json:"top_p,omitempty"`
	Stream        bool      `json:"stream,omitempty"`
	StopSequences []string  `json:"stop_sequences,omitempty"`
}

type message struct {
	Role    string         `json:"role"`
	Content []contentBlock `json:"content"`
}

type contentBlock struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

type response struct {
	ID         string         `json:"id"`
	Type       string         `json:"type"`
	Role       string         `json:"role"`
	Content    []contentBlock `json:"content"`
	Model      string         `json:"model"`
	StopReason string         `json:"stop_reason"`
	Usage      usage          `json:"usage"`
}

type usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

type streamEvent struct {
	Type  string       `json:"type"`
	Delta *streamDelta `json:"delta,omitempty"`
	Usage *usage       `json:"usage,omitempty"`
	Error *streamError `json:"error,omitempty"`
}

type streamDelta struct {
	Type       string `json:"type,omitempty"`
	Text       string `json:"text,omitempty"`
	StopReason string `json:"stop_reason,omitempty"`
}

type streamError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type modelsListResponse struct {
	Data []struct {
		ID string `json:"id"`
	} `json:"data"`
}

func (p *Provider) convertRequest(msgs []models.Message, opts *models.GenerationOptions) request {
	var system strings.Builder
	converted := make([]message, 0, len(msgs))
	for _, msg := range msgs {
		if msg.Role == models.RoleSystem {
			if system.Len() > 0 {
				system.WriteString("\n")
			}
			system.WriteString(msg.Content)
			continue
		}
		converted = append(converted, message{
			Role:    msg.Role,
			Content: []contentBlock{{Type: "text", Text: msg.Content}},
		})
	}

	maxTokens := opts.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 4096
	}

	return request{
		Model:         p.resolveModel(opts.Model),
		Messages:      converted,
		MaxTokens:     maxTokens,
		System:        system.String(),
		Temperature:   opts.Temperature,
		TopP:          opts.TopP,
		StopSequences: opts.StopSequences,
	}
}

func (p *Provider) convertResponse(resp *response, start time.Time) (*models.NormalizedResponse, error) {
	if resp.StopReason == "refusal" {
		return nil, llm.NewGenerationError(ProviderName, "response blocked by content safety")
	}

	var content strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			content.WriteString(block.Text)
		}
	}

	return &models.NormalizedResponse{
		ID:           resp.ID,
		Content:      content.String(),
		UsageTokens:  resp.Usage.InputTokens + resp.Usage.OutputTokens,
		Provider:     ProviderName,
		Model:        resp.Model,
		FinishReason: normalizeStopReason(resp.StopReason),
		ResponseTime: time.Since(start).Milliseconds(),
		Metadata: map[string]any{
			"input_tokens":  resp.Usage.InputTokens,
			"output_tokens": resp.Usage.OutputTokens,
		},
		CreatedAt: time.Now(),
	}, nil
}

// generateStream consumes the SSE stream and assembles one response.
// Terminal marker is the message_stop event.
func (p *Provider) generateStream(ctx context.Context, apiReq request, start time.Time) (*models.NormalizedResponse, error) {
	apiReq.Stream = true

	resp, err := p.doRequest(ctx, apiReq)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, llm.NewHTTPStatusError(ProviderName, resp.StatusCode, string(body),
			llm.ParseRetryAfter(resp.Header.Get("Retry-After")))
	}

	reader := bufio.NewReader(resp.Body)
	var content strings.Builder
	var stopReason string
	var outputTokens int

	for {
		line, err := reader.ReadBytes('\n')
		if err != nil {
			if err == io.EOF {
				break
			}
			return nil, llm.NewUnavailableError(ProviderName, "stream read failed", err)
		}

		line = bytes.TrimSpace(line)
		if !bytes.HasPrefix(line, []byte("data: ")) {
			continue
		}
		line = bytes.TrimPrefix(line, []byte("data: "))

		var event streamEvent
		if err := json.Unmarshal(line, &event); err != nil {
			continue
		}

		switch event.Type {
		case "content_block_delta":
			if event.Delta != nil {
				content.WriteString(event.Delta.Text)
			}
		case "message_delta":
			if event.Delta != nil && event.Delta.StopReason != "" {
				stopReason = event.Delta.StopReason
			}
			if event.Usage != nil {
				outputTokens = event.Usage.OutputTokens
			}
		case "error":
			msg := "stream error"
			if event.Error != nil {
				msg = event.Error.Message
			}
			return nil, llm.NewGenerationError(ProviderName, msg)
		case "message_stop":
			if stopReason == "refusal" {
				return nil, llm.NewGenerationError(ProviderName, "response blocked by content safety")
			}
			return &models.NormalizedResponse{
				ID:           fmt.Sprintf("stream-%d", start.UnixNano()),
				Content:      content.String(),
				UsageTokens:  outputTokens,
				Provider:     ProviderName,
				Model:        apiReq.Model,
				FinishReason: normalizeStopReason(stopReason),
				ResponseTime: time.Since(start).Milliseconds(),
				CreatedAt:    time.Now(),
			}, nil
		}
	}

	// Stream ended without a terminal marker.
	if content.Len() == 0 {
		return nil, llm.NewGenerationError(ProviderName, "stream ended without content")
	}
	return &models.NormalizedResponse{
		Content:      content.String(),
		Provider:     ProviderName,
		Model:        apiReq.Model,
		FinishReason: normalizeStopReason(stopReason),
		ResponseTime: time.Since(start).Milliseconds(),
		CreatedAt:    time.Now(),
	}, nil
}

// doRequest posts the payload with retries on transport errors and
// retryable statuses. 401/403/429 surface immediately for classification.
func (p *Provider) doRequest(ctx context.Context, apiReq request) (*http.Response, error) {
	body, err := json.Marshal(apiReq)
	if err != nil {
		return nil, llm.NewGenerationError(ProviderName, "failed to encode request")
	}

	var lastErr error
	for attempt := 0; attempt <= p.retry.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, llm.NewUnavailableError(ProviderName, "request cancelled", ctx.Err())
			case <-time.After(llm.CalculateBackoff(attempt, p.retry)):
			}
		}

		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+messagesPath, bytes.NewReader(body))
		if err != nil {
			return nil, llm.NewProviderError(ProviderName, "failed to create request")
		}
		httpReq.Header.Set("Content-Type", "application/json")
		httpReq.Header.Set("x-api-key", p.apiKey)
		httpReq.Header.Set("anthropic-version", APIVersion)

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

// fetchModels probes the models endpoint.
func (p *Provider) fetchModels(ctx context.Context) ([]string, error) {
	probeCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(probeCtx, http.MethodGet, p.baseURL+modelsPath, nil)
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("x-api-key", p.apiKey)
	httpReq.Header.Set("anthropic-version", APIVersion)

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
	names := make([]string, 0, len(listing.Data))
	for _, m := range listing.Data {
		names = append(names, m.ID)
	}
	return names, nil
}

// resolveModel picks the explicit model, the configured one, or the first
// preferred model present in the discovered/static list.
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

// normalizeStopReason maps vendor stop reasons onto the shared finish
// vocabulary.
func normalizeStopReason(reason string) string {
	switch reason {
	case "end_turn", "stop_sequence", "":
		return "stop"
	case "max_tokens":
		return "length"
	default:
		return reason
	}
}
