package handlers

import (
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"dev.helix.router/internal/llm"
)

func TestStatusForError(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"no providers configured", llm.ErrNoProvidersConfigured, http.StatusServiceUnavailable},
		{"no providers available", llm.ErrNoProvidersAvailable, http.StatusServiceUnavailable},
		{"no eligible providers", llm.ErrNoEligibleProviders, http.StatusUnprocessableEntity},
		{"authentication", llm.NewAuthenticationError("openai", "invalid api key"), http.StatusBadGateway},
		{"rate limit", llm.NewRateLimitError("openai", 30 * time.Second), http.StatusTooManyRequests},
		{"unavailable", llm.NewUnavailableError("openai", "connection refused", nil), http.StatusServiceUnavailable},
		{"generation", llm.NewGenerationError("openai", "safety block"), http.StatusBadGateway},
		{"unknown provider", llm.NewProviderError("", "Provider 'groq' not found"), http.StatusNotFound},
		{"all failed", llm.NewAllFailedError(llm.NewUnavailableError("openai", "down", nil)), http.StatusBadGateway},
		{"plain error", errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, statusForError(tc.err))
		})
	}
}
