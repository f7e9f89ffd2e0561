// Package middleware provides the HTTP middleware for the router's
// Gin-based API.
//
// # Available Middleware
//
//   - AuthMiddleware: X-API-Key validation against the configured key
//   - RateLimiter: token-bucket rate limiting with per-path overrides
//   - CORS: cross-origin headers with an origin allow-list
//   - RequestLogger: structured per-request logging via logrus
//   - Metrics: Prometheus request counters and latency histograms
//   - Validator: pre-bind bounds checking for generation bodies
//
// # Typical Chain
//
//	router := gin.New()
//	router.Use(gin.Recovery())
//	router.Use(middleware.CORS(cfg.Server.CORSOrigins))
//	router.Use(middleware.RequestLogger(logger, "/health", "/metrics"))
//	router.Use(middleware.Metrics(collector))
//
//	api := router.Group("/api/v1")
//	api.Use(middleware.AuthMiddleware(cfg.Server.APIKey))
//	api.Use(limiter.Middleware())
//
// # Rate Limit Keys
//
// Buckets are keyed by client IP by default; ByAPIKey keys them by the
// X-API-Key header instead so one credential shares a budget across
// hosts:
//
//	limiter := middleware.NewRateLimiter(&middleware.RateLimitConfig{
//	    Requests: 100,
//	    Window:   time.Minute,
//	    KeyFunc:  middleware.ByAPIKey,
//	})
package middleware
