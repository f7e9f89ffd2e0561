package middleware

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
)

// RateLimiter enforces per-client request budgets with in-memory token
// buckets. State is process-local, so each instance limits only the
// traffic it serves itself.
type RateLimiter struct {
	mu         sync.RWMutex
	limits     map[string]*RateLimitConfig
	defaultCfg *RateLimitConfig
	buckets    map[string]*tokenBucket

	stopCh   chan struct{}
	stopOnce sync.Once
}

// tokenBucket implements a simple token bucket for rate limiting
type tokenBucket struct {
	mu         sync.Mutex
	tokens     int
	maxTokens  int
	refillRate time.Duration
	lastRefill time.Time
}

// RateLimitConfig defines rate limiting configuration
type RateLimitConfig struct {
	Requests int                       `json:"requests"` // Number of requests allowed
	Window   time.Duration             `json:"window"`   // Time window
	KeyFunc  func(*gin.Context) string `json:"-"`        // Function to generate rate limit key
}

// RateLimitResult contains the result of a rate limit check
type RateLimitResult struct {
	Allowed    bool      `json:"allowed"`
	Remaining  int       `json:"remaining"`
	ResetTime  time.Time `json:"reset_time"`
	RetryAfter int       `json:"retry_after,omitempty"`
}

// NewRateLimiter creates a rate limiter with the given default config.
// Nil falls back to 100 requests per minute keyed by client IP.
func NewRateLimiter(defaultConfig *RateLimitConfig) *RateLimiter {
	if defaultConfig == nil {
		defaultConfig = &RateLimitConfig{
			Requests: 100,
			Window:   time.Minute,
		}
	}
	if defaultConfig.KeyFunc == nil {
		defaultConfig.KeyFunc = defaultKeyFunc
	}

	rl := &RateLimiter{
		limits:     make(map[string]*RateLimitConfig),
		buckets:    make(map[string]*tokenBucket),
		defaultCfg: defaultConfig,
		stopCh:     make(chan struct{}),
	}

	go rl.cleanupExpiredBuckets()

	return rl
}

// Close stops the background bucket cleanup.
func (rl *RateLimiter) Close() {
	rl.stopOnce.Do(func() {
		close(rl.stopCh)
	})
}

// cleanupExpiredBuckets periodically removes stale token buckets
func (rl *RateLimiter) cleanupExpiredBuckets() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-rl.stopCh:
			return
		case <-ticker.C:
			rl.mu.Lock()
			now := time.Now()
			for key, bucket := range rl.buckets {
				bucket.mu.Lock()
				// Remove buckets that haven't been used in 10 minutes
				if now.Sub(bucket.lastRefill) > 10*time.Minute {
					delete(rl.buckets, key)
				}
				bucket.mu.Unlock()
			}
			rl.mu.Unlock()
		}
	}
}

// AddLimit adds a rate limit for a specific path
func (rl *RateLimiter) AddLimit(path string, config *RateLimitConfig) {
	if config.KeyFunc == nil {
		config.KeyFunc = rl.defaultCfg.KeyFunc
	}
	rl.mu.Lock()
	defer rl.mu.Unlock()
	rl.limits[path] = config
}

// Middleware returns a Gin middleware function for rate limiting
func (rl *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		config, scope := rl.getConfig(c.Request.URL.Path)
		key := scope + config.KeyFunc(c)

		result := rl.checkLimit(key, config)

		c.Header("X-RateLimit-Limit", strconv.Itoa(config.Requests))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
		c.Header("X-RateLimit-Reset", strconv.FormatInt(result.ResetTime.Unix(), 10))

		if !result.Allowed {
			c.Header("Retry-After", strconv.Itoa(result.RetryAfter))
			c.JSON(http.StatusTooManyRequests, gin.H{
				"error":       "rate limit exceeded",
				"retry_after": result.RetryAfter,
			})
			c.Abort()
			return
		}

		c.Next()
	}
}

// checkLimit checks if the request is within rate limits using token bucket algorithm
func (rl *RateLimiter) checkLimit(key string, config *RateLimitConfig) *RateLimitResult {
	bucket := rl.getOrCreateBucket(key, config)

	bucket.mu.Lock()
	defer bucket.mu.Unlock()

	now := time.Now()

	// Refill tokens based on time passed
	elapsed := now.Sub(bucket.lastRefill)
	tokensToAdd := int(elapsed / config.Window * time.Duration(config.Requests))
	if tokensToAdd > 0 {
		bucket.tokens = min(bucket.maxTokens, bucket.tokens+tokensToAdd)
		bucket.lastRefill = now
	}

	allowed := bucket.tokens > 0
	if allowed {
		bucket.tokens--
	}

	remaining := bucket.tokens
	resetTime := now.Add(config.Window)

	var retryAfter int
	if !allowed {
		// Seconds until the next token refill
		retryAfter = int(config.Window.Seconds() / float64(config.Requests))
		if retryAfter < 1 {
			retryAfter = 1
		}
	}

	return &RateLimitResult{
		Allowed:    allowed,
		Remaining:  remaining,
		ResetTime:  resetTime,
		RetryAfter: retryAfter,
	}
}

// getOrCreateBucket gets or creates a token bucket for the given key
func (rl *RateLimiter) getOrCreateBucket(key string, config *RateLimitConfig) *tokenBucket {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	if bucket, exists := rl.buckets[key]; exists {
		return bucket
	}

	bucket := &tokenBucket{
		tokens:     config.Requests,
		maxTokens:  config.Requests,
		refillRate: config.Window,
		lastRefill: time.Now(),
	}
	rl.buckets[key] = bucket
	return bucket
}

// getConfig returns the rate limit config for a path plus a bucket key
// scope. Per-path overrides keep their own buckets, separate from the
// client's default budget.
func (rl *RateLimiter) getConfig(path string) (*RateLimitConfig, string) {
	rl.mu.RLock()
	defer rl.mu.RUnlock()

	if config, exists := rl.limits[path]; exists {
		return config, "path:" + path + "|"
	}

	return rl.defaultCfg, ""
}

// defaultKeyFunc generates a default rate limit key based on IP address
func defaultKeyFunc(c *gin.Context) string {
	ip := c.ClientIP()
	if ip == "" {
		ip = c.Request.RemoteAddr
	}

	return "ip:" + ip
}

// ByAPIKey generates rate limit key based on API key
func ByAPIKey(c *gin.Context) string {
	apiKey := c.GetHeader("X-API-Key")
	if apiKey != "" {
		return "apikey:" + apiKey
	}

	return defaultKeyFunc(c)
}
