package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func scrape(t *testing.T, c *Collector) string {
	t.Helper()
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	c.Handler().ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	return w.Body.String()
}

func TestNewCollectorSharedInstruments(t *testing.T) {
	// Registration is once-guarded, so a second collector must not panic
	// with a duplicate-registration error.
	first := NewCollector()
	second := NewCollector()

	first.RecordGeneration("generate", "success")
	second.RecordGeneration("route", "error")
}

func TestRecordHTTPRequestAppearsInScrape(t *testing.T) {
	c := NewCollector()
	c.RecordHTTPRequest("GET", "/api/v1/providers", "200", 25*time.Millisecond)

	body := scrape(t, c)
	assert.Contains(t, body,
		`helixrouter_http_requests_total{endpoint="/api/v1/providers",method="GET",status="200"}`)
	assert.Contains(t, body, "helixrouter_http_request_duration_seconds_bucket")
}

func TestRecordGenerationAppearsInScrape(t *testing.T) {
	c := NewCollector()
	c.RecordGeneration("generate", "success")

	body := scrape(t, c)
	assert.Contains(t, body,
		`helixrouter_generation_requests_total{outcome="success",surface="generate"}`)
}

func TestRecordProviderCallAppearsInScrape(t *testing.T) {
	c := NewCollector()
	c.RecordProviderCall("anthropic", "claude-sonnet", 120, 800*time.Millisecond)

	body := scrape(t, c)
	assert.Contains(t, body,
		`helixrouter_provider_latency_seconds_count{model="claude-sonnet",provider="anthropic"}`)
	assert.Contains(t, body, `helixrouter_provider_tokens_total{provider="anthropic"}`)
}

func TestRecordProviderCallZeroTokens(t *testing.T) {
	c := NewCollector()
	// A zero usage report must not create a token series for the provider.
	c.RecordProviderCall("openrouter", "auto", 0, 100*time.Millisecond)

	body := scrape(t, c)
	assert.NotContains(t, body, `helixrouter_provider_tokens_total{provider="openrouter"}`)
}

func TestRecordProviderErrorAppearsInScrape(t *testing.T) {
	c := NewCollector()
	c.RecordProviderError("deepseek", "rate_limit")

	body := scrape(t, c)
	assert.Contains(t, body,
		`helixrouter_provider_errors_total{kind="rate_limit",provider="deepseek"}`)
}
