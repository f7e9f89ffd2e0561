package openai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dev.helix.router/internal/llm"
	"dev.helix.router/internal/models"
)

func noRetry() llm.RetryConfig {
	return llm.RetryConfig{MaxRetries: 0, InitialDelay: time.Millisecond}
}

func TestNew_Defaults(t *testing.T) {
	provider := New(Config{APIKey: "sk-test"}, nil)
	require.NotNil(t, provider)
	assert.Equal(t, DefaultBaseURL, provider.baseURL)
	assert.Equal(t, "openai", provider.Name())
	assert.False(t, provider.IsAvailable())
}

func TestInitialize_MissingKey(t *testing.T) {
	provider := New(Config{}, nil)
	err := provider.Initialize(context.Background())
	require.Error(t, err)
	assert.True(t, llm.IsAuthenticationError(err))
}

func TestInitialize_DiscoversModels(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/models", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"data": [{"id": "gpt-4o"}, {"id": "gpt-4o-mini"}]}`))
	}))
	defer server.Close()

	provider := New(Config{APIKey: "sk-test", BaseURL: server.URL}, nil)
	require.NoError(t, provider.Initialize(context.Background()))
	assert.True(t, provider.IsAvailable())
	assert.Equal(t, []string{"gpt-4o", "gpt-4o-mini"}, provider.SupportedModels())
}

func TestGenerate_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "POST", r.Method)
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))

		var captured request
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))
		assert.Equal(t, "gpt-4o", captured.Model)
		require.Len(t, captured.Messages, 2)
		assert.Equal(t, "system", captured.Messages[0].Role)

		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{
			"id": "chatcmpl-1",
			"object": "chat.completion",
			"model": "gpt-4o",
			"choices": [{"index": 0, "message": {"role": "assistant", "content": "Hi!"}, "finish_reason": "stop"}],
			"usage": {"prompt_tokens": 9, "completion_tokens": 3, "total_tokens": 12}
		}`))
	}))
	defer server.Close()

	provider := New(Config{APIKey: "sk-test", BaseURL: server.URL, Retry: noRetry()}, nil)
	resp, err := provider.Generate(context.Background(), []models.Message{
		{Role: models.RoleSystem, Content: "Be brief."},
		{Role: models.RoleUser, Content: "Hello"},
	}, &models.GenerationOptions{Model: "gpt-4o"})

	require.NoError(t, err)
	assert.Equal(t, "chatcmpl-1", resp.ID)
	assert.Equal(t, "Hi!", resp.Content)
	assert.Equal(t, "stop", resp.FinishReason)
	assert.Equal(t, 12, resp.UsageTokens)
	assert.Equal(t, "openai", resp.Provider)
}

func TestGenerate_Stream(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var captured request
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))
		assert.True(t, captured.Stream)

		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("data: {\"id\": \"chatcmpl-2\", \"choices\": [{\"delta\": {\"content\": \"Hel\"}}]}\n\n"))
		_, _ = w.Write([]byte("data: {\"id\": \"chatcmpl-2\", \"choices\": [{\"delta\": {\"content\": \"lo\"}, \"finish_reason\": \"stop\"}]}\n\n"))
		_, _ = w.Write([]byte("data: [DONE]\n\n"))
	}))
	defer server.Close()

	provider := New(Config{APIKey: "sk-test", BaseURL: server.URL, Retry: noRetry()}, nil)
	resp, err := provider.Generate(context.Background(), []models.Message{
		{Role: models.RoleUser, Content: "Hello"},
	}, &models.GenerationOptions{Stream: true})

	require.NoError(t, err)
	assert.Equal(t, "chatcmpl-2", resp.ID)
	assert.Equal(t, "Hello", resp.Content)
	assert.Equal(t, "stop", resp.FinishReason)
}

func TestGenerate_LengthFinishReason(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{
			"id": "chatcmpl-3",
			"model": "gpt-4o",
			"choices": [{"index": 0, "message": {"role": "assistant", "content": "truncated"}, "finish_reason": "length"}],
			"usage": {"total_tokens": 100}
		}`))
	}))
	defer server.Close()

	provider := New(Config{APIKey: "sk-test", BaseURL: server.URL, Retry: noRetry()}, nil)
	resp, err := provider.Generate(context.Background(), []models.Message{
		{Role: models.RoleUser, Content: "Hello"},
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, "length", resp.FinishReason)
}

func TestGenerate_ContentFilterWithoutContent(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{
			"id": "chatcmpl-4",
			"model": "gpt-4o",
			"choices": [{"index": 0, "message": {"role": "assistant", "content": ""}, "finish_reason": "content_filter"}],
			"usage": {}
		}`))
	}))
	defer server.Close()

	provider := New(Config{APIKey: "sk-test", BaseURL: server.URL, Retry: noRetry()}, nil)
	resp, err := provider.Generate(context.Background(), []models.Message{
		{Role: models.RoleUser, Content: "Hello"},
	}, nil)
	assert.Nil(t, resp)
	require.Error(t, err)
	assert.True(t, llm.IsGenerationError(err))
}

func TestGenerate_RateLimit(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "30")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error": {"message": "rate limit exceeded"}}`))
	}))
	defer server.Close()

	provider := New(Config{APIKey: "sk-test", BaseURL: server.URL, Retry: noRetry()}, nil)
	resp, err := provider.Generate(context.Background(), []models.Message{
		{Role: models.RoleUser, Content: "Hello"},
	}, nil)
	assert.Nil(t, resp)
	require.Error(t, err)
	assert.True(t, llm.IsRateLimitError(err))

	provErr, ok := llm.AsProviderError(err)
	require.True(t, ok)
	assert.Equal(t, 30*time.Second, provErr.RetryAfter)
}

func TestGenerate_EmptyChoices(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"id": "chatcmpl-5", "model": "gpt-4o", "choices": [], "usage": {}}`))
	}))
	defer server.Close()

	provider := New(Config{APIKey: "sk-test", BaseURL: server.URL, Retry: noRetry()}, nil)
	_, err := provider.Generate(context.Background(), []models.Message{
		{Role: models.RoleUser, Content: "Hello"},
	}, nil)
	require.Error(t, err)
	assert.True(t, llm.IsGenerationError(err))
}

func TestResolveModel_PrefersDiscovered(t *testing.T) {
	provider := New(Config{APIKey: "sk-test"}, nil)
	provider.models = []string{"gpt-3.5-turbo", "gpt-4o-mini"}
	assert.Equal(t, "gpt-4o-mini", provider.resolveModel(""))
	assert.Equal(t, "gpt-4o", provider.resolveModel("gpt-4o"))
}
