package openai

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
	ProviderName = "openai"
	// DefaultBaseURL is the OpenAI API root including the version prefix.
	DefaultBaseURL = "https://api.openai.com/v1"

	chatCompletionsPath = "/chat/completions"
	modelsPath          = "/models"
)

var modelPreference = []string{
	"gpt-4o",
	"gpt-4o-mini",
	"gpt-4-turbo",
	"gpt-3.5-turbo",
}

var staticModels = []string{
	"gpt-4o",
	"gpt-4o-mini",
	"gpt-4-turbo",
	"gpt-4",
	"gpt-3.5-turbo",
}

// Config holds the adapter's construction settings.
type Config struct {
	APIKey  string
	BaseURL string
	Model   string
	Timeout time.Duration
	Retry   llm.RetryConfig
}

// Provider speaks the OpenAI chat completions API.
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

// Initialize validates the credential and probes the models endpoint.
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

// Generate executes one chat completion. Streaming deltas are collapsed
// into a single normalized response.
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

type request struct {
	Model       string    `json:"model"`
	Messages    []message `json:"messages"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
	Temperature float64   `json:"temperature,omitempty"`
	TopP        float64   `json:"top_p,omitempty"`
	Stream      bool      `json:"stream,omitempty"`
	Stop        []string  `json:"stop,omitempty"`
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type response struct {
	ID      string   `json:"id"`
	Object  string   `json:"object"`
	Created int64    `json:"created"`
	Model   string   `json:"model"`
	Choices []choice `json:"choices"`
	Usage   usage    `json:"usage"`
}

type choice struct {
	Index        int     `json:"index"`
	Message      message `json:"message"`
	FinishReason string  `json:"finish_reason"`
}

type usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type streamResponse struct {
	ID      string         `json:"id"`
	Model   string         `json:"model"`
	Choices []streamChoice `json:"choices"`
}

type streamChoice struct {
	Delta        streamDelta `json:"delta"`
	FinishReason string      `json:"finish_reason"`
}

type streamDelta struct {
	Content string `json:"content"`
}

type modelsListResponse struct {
	Data []struct {
		ID string `json:"id"`
	} `json:"data"`
}

func (p *Provider) convertRequest(msgs []models.Message, opts *models.GenerationOptions) request {
	converted := make([]message, 0, len(msgs))
	for _, msg := range msgs {
		converted = append(converted, message{Role: msg.Role, Content: msg.Content})
	}
	return request{
		Model:       p.resolveModel(opts.Model),
		Messages:    converted,
		MaxTokens:   opts.MaxTokens,
		Temperature: opts.Temperature,
		TopP:        opts.TopP,
		Stop:        opts.StopSequences,
	}
}

func (p *Provider) convertResponse(resp *response, start time.Time) (*models.NormalizedResponse, error) {
	if len(resp.Choices) == 0 {
		return nil, llm.NewGenerationError(ProviderName, "response contained no choices")
	}
	first := resp.Choices[0]
	if first.FinishReason == "content_filter" && first.Message.Content == "" {
		return nil, llm.NewGenerationError(ProviderName, "response blocked by content filter")
	}

	return &models.NormalizedResponse{
		ID:           resp.ID,
		Content:      first.Message.Content,
		UsageTokens:  resp.Usage.TotalTokens,
		Provider:     ProviderName,
		Model:        resp.Model,
		FinishReason: normalizeFinishReason(first.FinishReason),
		ResponseTime: time.Since(start).Milliseconds(),
		Metadata: map[string]any{
			"prompt_tokens":     resp.Usage.PromptTokens,
			"completion_tokens": resp.Usage.CompletionTokens,
		},
		CreatedAt: time.Now(),
	}, nil
}

// generateStream consumes "data: " SSE lines until the [DONE] marker.
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
	var finishReason string
	var responseID string

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
		if bytes.Equal(line, []byte("[DONE]")) {
			break
		}

		var chunk streamResponse
		if err := json.Unmarshal(line, &chunk); err != nil {
			continue
		}
		if chunk.ID != "" {
			responseID = chunk.ID
		}
		if len(chunk.Choices) > 0 {
			content.WriteString(chunk.Choices[0].Delta.Content)
			if chunk.Choices[0].FinishReason != "" {
				finishReason = chunk.Choices[0].FinishReason
			}
		}
	}

	if finishReason == "content_filter" && content.Len() == 0 {
		return nil, llm.NewGenerationError(ProviderName, "response blocked by content filter")
	}
	return &models.NormalizedResponse{
		ID:           responseID,
		Content:      content.String(),
		Provider:     ProviderName,
		Model:        apiReq.Model,
		FinishReason: normalizeFinishReason(finishReason),
		ResponseTime: time.Since(start).Milliseconds(),
		CreatedAt:    time.Now(),
	}, nil
}

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

		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+chatCompletionsPath, bytes.NewReader(body))
		if err != nil {
			return nil, llm.NewProviderError(ProviderName, "failed to create request")
		}
		httpReq.Header.Set("Content-Type", "application/json")
		httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)

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

	httpReq, err := http.NewRequestWithContext(probeCtx, http.MethodGet, p.baseURL+modelsPath, nil)
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)

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
	case "stop", "":
		return "stop"
	case "length":
		return "length"
	default:
		return reason
	}
}
