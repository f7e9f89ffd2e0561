package gemini

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

func TestInitialize_MissingKey(t *testing.T) {
	provider := New(Config{}, nil)
	err := provider.Initialize(context.Background())
	require.Error(t, err)
	assert.True(t, llm.IsAuthenticationError(err))
}

func TestInitialize_StripsModelPrefix(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/models", r.URL.Path)
		assert.Equal(t, "test-key", r.URL.Query().Get("key"))
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"models": [{"name": "models/gemini-2.0-flash"}, {"name": "models/gemini-1.5-pro"}]}`))
	}))
	defer server.Close()

	provider := New(Config{APIKey: "test-key", BaseURL: server.URL}, nil)
	require.NoError(t, provider.Initialize(context.Background()))
	assert.True(t, provider.IsAvailable())
	assert.Equal(t, []string{"gemini-2.0-flash", "gemini-1.5-pro"}, provider.SupportedModels())
}

func TestGenerate_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "POST", r.Method)
		assert.Equal(t, "/models/gemini-2.0-flash:generateContent", r.URL.Path)
		assert.Equal(t, "test-key", r.URL.Query().Get("key"))

		var captured request
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))
		require.NotNil(t, captured.SystemInstruction)
		assert.Equal(t, "Be brief.", captured.SystemInstruction.Parts[0].Text)
		require.Len(t, captured.Contents, 2)
		assert.Equal(t, "user", captured.Contents[0].Role)
		assert.Equal(t, "model", captured.Contents[1].Role)

		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{
			"candidates": [{
				"content": {"role": "model", "parts": [{"text": "Answer "}, {"text": "parts."}]},
				"finishReason": "STOP"
			}],
			"usageMetadata": {"promptTokenCount": 8, "candidatesTokenCount": 4, "totalTokenCount": 12}
		}`))
	}))
	defer server.Close()

	provider := New(Config{APIKey: "test-key", BaseURL: server.URL, Retry: noRetry()}, nil)
	resp, err := provider.Generate(context.Background(), []models.Message{
		{Role: models.RoleSystem, Content: "Be brief."},
		{Role: models.RoleUser, Content: "Hello"},
		{Role: models.RoleAssistant, Content: "Hi."},
	}, &models.GenerationOptions{Model: "gemini-2.0-flash"})

	require.NoError(t, err)
	assert.Equal(t, "Answer parts.", resp.Content)
	assert.Equal(t, "gemini", resp.Provider)
	assert.Equal(t, "stop", resp.FinishReason)
	assert.Equal(t, 12, resp.UsageTokens)
}

func TestGenerate_PromptBlocked(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"candidates": [], "promptFeedback": {"blockReason": "SAFETY"}}`))
	}))
	defer server.Close()

	provider := New(Config{APIKey: "test-key", BaseURL: server.URL, Retry: noRetry()}, nil)
	resp, err := provider.Generate(context.Background(), []models.Message{
		{Role: models.RoleUser, Content: "Hello"},
	}, nil)
	assert.Nil(t, resp)
	require.Error(t, err)
	assert.True(t, llm.IsGenerationError(err))
	assert.Contains(t, err.Error(), "SAFETY")
}

func TestGenerate_CandidateSafetyStop(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"candidates": [{"content": {"parts": []}, "finishReason": "SAFETY"}]}`))
	}))
	defer server.Close()

	provider := New(Config{APIKey: "test-key", BaseURL: server.URL, Retry: noRetry()}, nil)
	_, err := provider.Generate(context.Background(), []models.Message{
		{Role: models.RoleUser, Content: "Hello"},
	}, nil)
	require.Error(t, err)
	assert.True(t, llm.IsGenerationError(err))
}

func TestGenerate_MaxTokens(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var captured request
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))
		require.NotNil(t, captured.GenerationConfig)
		assert.Equal(t, 64, captured.GenerationConfig.MaxOutputTokens)

		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"candidates": [{"content": {"parts": [{"text": "truncated"}]}, "finishReason": "MAX_TOKENS"}]}`))
	}))
	defer server.Close()

	provider := New(Config{APIKey: "test-key", BaseURL: server.URL, Retry: noRetry()}, nil)
	resp, err := provider.Generate(context.Background(), []models.Message{
		{Role: models.RoleUser, Content: "Hello"},
	}, &models.GenerationOptions{MaxTokens: 64})
	require.NoError(t, err)
	assert.Equal(t, "length", resp.FinishReason)
}

func TestGenerate_Unauthorized(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"error": {"message": "API key not valid"}}`))
	}))
	defer server.Close()

	provider := New(Config{APIKey: "bad-key", BaseURL: server.URL, Retry: noRetry()}, nil)
	_, err := provider.Generate(context.Background(), []models.Message{
		{Role: models.RoleUser, Content: "Hello"},
	}, nil)
	require.Error(t, err)
	assert.True(t, llm.IsAuthenticationError(err))
}

func TestNormalizeFinishReason(t *testing.T) {
	assert.Equal(t, "stop", normalizeFinishReason("STOP"))
	assert.Equal(t, "stop", normalizeFinishReason(""))
	assert.Equal(t, "length", normalizeFinishReason("MAX_TOKENS"))
	assert.Equal(t, "content_filter", normalizeFinishReason("SAFETY"))
	assert.Equal(t, "recitation", normalizeFinishReason("RECITATION"))
}
