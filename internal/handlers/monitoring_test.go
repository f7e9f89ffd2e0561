package handlers

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatsEndpoint(t *testing.T) {
	ts := newTestStack(t, nil, newStubAdapter("anthropic"), newStubAdapter("ollama"))

	// Drive one routed request so the counters move.
	w := ts.postJSON(t, "/api/v1/route", chatBody("hello"))
	require.Equal(t, http.StatusOK, w.Code)

	w = ts.get(t, "/api/v1/stats")
	require.Equal(t, http.StatusOK, w.Code)

	resp := decodeJSON[StatsResponse](t, w)
	assert.EqualValues(t, 1, resp.Routing["total_requests"])
	assert.EqualValues(t, 1, resp.Routing["success_rate"])
	assert.ElementsMatch(t, []any{"anthropic", "ollama"}, resp.Routing["active_providers"])
	require.Contains(t, resp.CircuitBreakers, "anthropic")
	assert.Contains(t, resp.CircuitBreakers, "ollama")
}

func TestHealthEndpointHealthy(t *testing.T) {
	ts := newTestStack(t, nil, newStubAdapter("anthropic"), newStubAdapter("ollama"))
	ts.monitor.ForceCheck(context.Background())

	w := ts.get(t, "/health")
	require.Equal(t, http.StatusOK, w.Code)

	resp := decodeJSON[HealthResponse](t, w)
	assert.Equal(t, "healthy", resp.Status)
	assert.Equal(t, 2, resp.Providers.Total)
	assert.Equal(t, 2, resp.Providers.Healthy)
	assert.Zero(t, resp.Providers.Unhealthy)
	assert.NotEmpty(t, resp.Uptime)
}

func TestHealthEndpointDegraded(t *testing.T) {
	anthropic := newStubAdapter("anthropic")
	anthropic.setAvailable(false)
	ollama := newStubAdapter("ollama")
	ts := newTestStack(t, nil, anthropic, ollama)
	ts.monitor.ForceCheck(context.Background())

	w := ts.get(t, "/health")
	require.Equal(t, http.StatusOK, w.Code)

	resp := decodeJSON[HealthResponse](t, w)
	assert.Equal(t, "degraded", resp.Status)
	assert.Equal(t, 1, resp.Providers.Healthy)
	assert.Equal(t, 1, resp.Providers.Unhealthy)
}

func TestHealthEndpointUnhealthy(t *testing.T) {
	anthropic := newStubAdapter("anthropic")
	anthropic.setAvailable(false)
	ts := newTestStack(t, nil, anthropic)
	ts.monitor.ForceCheck(context.Background())

	w := ts.get(t, "/health")
	require.Equal(t, http.StatusServiceUnavailable, w.Code)

	resp := decodeJSON[HealthResponse](t, w)
	assert.Equal(t, "unhealthy", resp.Status)
}

func TestHealthEndpointBeforeFirstCheck(t *testing.T) {
	ts := newTestStack(t, nil, newStubAdapter("anthropic"))

	// Nothing probed yet: report healthy rather than flapping a load
	// balancer on startup.
	w := ts.get(t, "/health")
	require.Equal(t, http.StatusOK, w.Code)

	resp := decodeJSON[HealthResponse](t, w)
	assert.Equal(t, "healthy", resp.Status)
	assert.Equal(t, 1, resp.Providers.Total)
	assert.Zero(t, resp.Providers.Healthy)
}
