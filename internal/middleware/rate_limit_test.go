package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func limitedRouter(t *testing.T, cfg *RateLimitConfig) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	rl := NewRateLimiter(cfg)
	t.Cleanup(rl.Close)

	r := gin.New()
	r.Use(rl.Middleware())
	r.GET("/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"pong": true})
	})
	return r
}

func pingFrom(r *gin.Engine, ip string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.RemoteAddr = ip + ":52000"
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestRateLimiterAllowsWithinBudget(t *testing.T) {
	r := limitedRouter(t, &RateLimitConfig{Requests: 3, Window: time.Minute})

	for i := 0; i < 3; i++ {
		w := pingFrom(r, "10.0.0.1")
		require.Equal(t, http.StatusOK, w.Code)
	}
}

func TestRateLimiterRejectsBeyondBudget(t *testing.T) {
	r := limitedRouter(t, &RateLimitConfig{Requests: 2, Window: time.Minute})

	pingFrom(r, "10.0.0.2")
	pingFrom(r, "10.0.0.2")
	w := pingFrom(r, "10.0.0.2")

	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.NotEmpty(t, w.Header().Get("Retry-After"))
	assert.Contains(t, w.Body.String(), "rate limit exceeded")
}

func TestRateLimiterSetsHeaders(t *testing.T) {
	r := limitedRouter(t, &RateLimitConfig{Requests: 5, Window: time.Minute})

	w := pingFrom(r, "10.0.0.3")
	assert.Equal(t, "5", w.Header().Get("X-RateLimit-Limit"))
	assert.Equal(t, "4", w.Header().Get("X-RateLimit-Remaining"))
	assert.NotEmpty(t, w.Header().Get("X-RateLimit-Reset"))
}

func TestRateLimiterKeysByClientIP(t *testing.T) {
	r := limitedRouter(t, &RateLimitConfig{Requests: 1, Window: time.Minute})

	require.Equal(t, http.StatusOK, pingFrom(r, "10.0.0.4").Code)
	assert.Equal(t, http.StatusTooManyRequests, pingFrom(r, "10.0.0.4").Code)
	// A different client has its own bucket.
	assert.Equal(t, http.StatusOK, pingFrom(r, "10.0.0.5").Code)
}

func TestRateLimiterRefillsAfterWindow(t *testing.T) {
	r := limitedRouter(t, &RateLimitConfig{Requests: 1, Window: 50 * time.Millisecond})

	require.Equal(t, http.StatusOK, pingFrom(r, "10.0.0.6").Code)
	require.Equal(t, http.StatusTooManyRequests, pingFrom(r, "10.0.0.6").Code)

	time.Sleep(80 * time.Millisecond)
	assert.Equal(t, http.StatusOK, pingFrom(r, "10.0.0.6").Code)
}

func TestRateLimiterPerPathOverride(t *testing.T) {
	gin.SetMode(gin.TestMode)
	rl := NewRateLimiter(&RateLimitConfig{Requests: 100, Window: time.Minute})
	t.Cleanup(rl.Close)
	rl.AddLimit("/expensive", &RateLimitConfig{Requests: 1, Window: time.Minute})

	r := gin.New()
	r.Use(rl.Middleware())
	handler := func(c *gin.Context) { c.Status(http.StatusOK) }
	r.GET("/ping", handler)
	r.GET("/expensive", handler)

	get := func(path string) int {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		req.RemoteAddr = "10.0.0.7:52000"
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w.Code
	}

	require.Equal(t, http.StatusOK, get("/expensive"))
	assert.Equal(t, http.StatusTooManyRequests, get("/expensive"))
	// The default budget still applies elsewhere.
	assert.Equal(t, http.StatusOK, get("/ping"))
}

func TestByAPIKeyGroupsAcrossHosts(t *testing.T) {
	gin.SetMode(gin.TestMode)
	rl := NewRateLimiter(&RateLimitConfig{Requests: 1, Window: time.Minute, KeyFunc: ByAPIKey})
	t.Cleanup(rl.Close)

	r := gin.New()
	r.Use(rl.Middleware())
	r.GET("/ping", func(c *gin.Context) { c.Status(http.StatusOK) })

	get := func(ip, key string) int {
		req := httptest.NewRequest(http.MethodGet, "/ping", nil)
		req.RemoteAddr = ip + ":52000"
		if key != "" {
			req.Header.Set("X-API-Key", key)
		}
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w.Code
	}

	// Same key from two hosts shares one bucket.
	require.Equal(t, http.StatusOK, get("10.0.1.1", "team-key"))
	assert.Equal(t, http.StatusTooManyRequests, get("10.0.1.2", "team-key"))
	// No key falls back to per-IP buckets.
	assert.Equal(t, http.StatusOK, get("10.0.1.3", ""))
}
