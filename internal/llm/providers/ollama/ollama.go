package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
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
	ProviderName = "ollama"
	// DefaultBaseURL points at a local Ollama daemon.
	DefaultBaseURL = "http://localhost:11434"

	chatPath = "/api/chat"
	tagsPath = "/api/tags"
)

// modelPreference orders locally popular models. Only models the daemon
// actually serves are eligible.
var modelPreference = []string{
	"llama3.3",
	"llama3.2",
	"llama3.1",
	"qwen2.5",
	"mistral",
}

// Config holds the adapter's construction settings. Ollama needs no
// credential; the daemon is trusted on its socket.
type Config struct {
	BaseURL string
	Model   string
	Timeout time.Duration
	Retry   llm.RetryConfig
}

// Provider speaks the Ollama chat API. Responses stream as NDJSON and
// are collapsed into one normalized response.
type Provider struct {
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

// New builds the adapter.
func New(cfg Config, logger *logrus.Logger) *Provider {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout == 0 {
		// Local inference on CPU can be slow for large models.
		cfg.Timeout = 600 * time.Second
	}
	if cfg.Retry.MaxRetries == 0 && cfg.Retry.InitialDelay == 0 {
		cfg.Retry = llm.DefaultRetryConfig()
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &Provider{
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

// Initialize probes the daemon's tag listing. An unreachable daemon
// leaves the adapter initialized but unavailable so a later health
// refresh can bring it back.
func (p *Provider) Initialize(ctx context.Context) error {
	discovered, err := p.fetchTags(ctx)

	p.mu.Lock()
	defer p.mu.Unlock()
	p.initialized = true
	if err != nil {
		p.available = false
		p.logger.WithField("error", err.Error()).Warn("Ollama daemon unreachable, provider unavailable")
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

// SupportedModels returns the daemon's installed model tags.
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
		"base_url":               p.baseURL,
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

// Generate executes one chat completion against the daemon.
func (p *Provider) Generate(ctx context.Context, messages []models.Message, opts *models.GenerationOptions) (*models.NormalizedResponse, error) {
	if opts == nil {
		opts = &models.GenerationOptions{}
	}
	start := time.Now()
	apiReq := p.convertRequest(messages, opts)

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

	if apiReq.Stream {
		return p.collectStream(resp.Body, apiReq.Model, start)
	}

	var apiResp response
	if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		return nil, llm.NewGenerationError(ProviderName, "malformed response body")
	}
	return p.convertResponse(&apiResp, start), nil
}

type request struct {
	Model    string    `json:"model"`
	Messages []message `json:"messages"`
	Stream   bool      `json:"stream"`
	Options  *options  `json:"options,omitempty"`
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type options struct {
	Temperature float64  `json:"temperature,omitempty"`
	TopP        float64  `json:"top_p,omitempty"`
	NumPredict  int      `json:"num_predict,omitempty"`
	Stop        []string `json:"stop,omitempty"`
}

type response struct {
	Model           string  `json:"model"`
	Message         message `json:"message"`
	Done            bool    `json:"done"`
	DoneReason      string  `json:"done_reason"`
	EvalCount       int     `json:"eval_count"`
	PromptEvalCount int     `json:"prompt_eval_count"`
}

type tagsResponse struct {
	Models []struct {
		Name string `json:"name"`
	} `json:"models"`
}

func (p *Provider) convertRequest(msgs []models.Message, opts *models.GenerationOptions) request {
	converted := make([]message, 0, len(msgs))
	for _, msg := range msgs {
		converted = append(converted, message{Role: msg.Role, Content: msg.Content})
	}

	var reqOpts *options
	if opts.Temperature != 0 || opts.TopP != 0 || opts.MaxTokens != 0 || len(opts.StopSequences) > 0 {
		reqOpts = &options{
			Temperature: opts.Temperature,
			TopP:        opts.TopP,
			NumPredict:  opts.MaxTokens,
			Stop:        opts.StopSequences,
		}
	}

	return request{
		Model:    p.resolveModel(opts.Model),
		Messages: converted,
		Stream:   opts.Stream,
		Options:  reqOpts,
	}
}

func (p *Provider) convertResponse(resp *response, start time.Time) *models.NormalizedResponse {
	return &models.NormalizedResponse{
		ID:           fmt.Sprintf("ollama-%d", start.UnixNano()),
		Content:      resp.Message.Content,
		UsageTokens:  resp.PromptEvalCount + resp.EvalCount,
		Provider:     ProviderName,
		Model:        resp.Model,
		FinishReason: normalizeDoneReason(resp.DoneReason),
		ResponseTime: time.Since(start).Milliseconds(),
		CreatedAt:    time.Now(),
	}
}

// collectStream consumes the NDJSON stream until a chunk reports done.
func (p *Provider) collectStream(body io.Reader, model string, start time.Time) (*models.NormalizedResponse, error) {
	decoder := json.NewDecoder(body)
	var content strings.Builder
	var doneReason string
	var evalCount, promptEvalCount int

	for {
		var chunk response
		if err := decoder.Decode(&chunk); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, llm.NewUnavailableError(ProviderName, "stream read failed", err)
		}
		content.WriteString(chunk.Message.Content)
		if chunk.Done {
			doneReason = chunk.DoneReason
			evalCount = chunk.EvalCount
			promptEvalCount = chunk.PromptEvalCount
			break
		}
	}

	return &models.NormalizedResponse{
		ID:           fmt.Sprintf("ollama-%d", start.UnixNano()),
		Content:      content.String(),
		UsageTokens:  promptEvalCount + evalCount,
		Provider:     ProviderName,
		Model:        model,
		FinishReason: normalizeDoneReason(doneReason),
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

		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+chatPath, bytes.NewReader(body))
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

// fetchTags lists the daemon's installed models.
func (p *Provider) fetchTags(ctx context.Context) ([]string, error) {
	probeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(probeCtx, http.MethodGet, p.baseURL+tagsPath, nil)
	if err != nil {
		return nil, err
	}

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("tag listing returned status %d", resp.StatusCode)
	}

	var listing tagsResponse
	if err := json.NewDecoder(resp.Body).Decode(&listing); err != nil {
		return nil, err
	}
	names := make([]string, 0, len(listing.Models))
	for _, m := range listing.Models {
		names = append(names, m.Name)
	}
	return names, nil
}

// resolveModel picks the explicit model, the configured one, the first
// preferred tag the daemon serves, or the daemon's first tag.
func (p *Provider) resolveModel(requested string) string {
	if requested != "" {
		return requested
	}
	if p.model != "" {
		return p.model
	}

	known := p.SupportedModels()
	for _, candidate := range modelPreference {
		for _, have := range known {
			// Tags carry a variant suffix, e.g. "llama3.2:latest".
			if have == candidate || strings.HasPrefix(have, candidate+":") {
				return have
			}
		}
	}
	if len(known) > 0 {
		return known[0]
	}
	return modelPreference[0]
}

func normalizeDoneReason(reason string) string {
	switch reason {
	case "stop", "":
		return "stop"
	case "length", "limit":
		return "length"
	default:
		return reason
	}
}
