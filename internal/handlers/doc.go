// Package handlers implements the HTTP layer of the routing service.
//
// # Endpoints
//
// The authenticated API surface lives under /api/v1:
//
//	POST /api/v1/generate                     - Generate with failover
//	POST /api/v1/route                        - Generate via scored routing
//	GET  /api/v1/route/recommend              - Preview the routing choice
//	GET  /api/v1/providers                    - List registered providers
//	GET  /api/v1/providers/health             - Provider health and breaker state
//	PUT  /api/v1/providers/:name/capabilities - Replace a scoring profile
//	GET  /api/v1/stats                        - Routing statistics
//
// Two endpoints stay outside authentication:
//
//	GET /health  - Service liveness and provider summary
//	GET /metrics - Prometheus metrics
//
// # Handler Structure
//
// Each handler is a struct over its service dependencies with a
// RegisterRoutes method:
//
//	h := handlers.NewGenerationHandler(service, router, logger)
//	h.RegisterRoutes(api)
//
// # Error Format
//
// Errors are flat JSON objects. Routing-layer failures add the error
// kind and the provider that produced them:
//
//	{
//	    "error": "anthropic: rate limit exceeded (status 429)",
//	    "kind": "rate_limit",
//	    "provider": "anthropic"
//	}
//
// Upstream vendor failures map to 5xx statuses; only errors the caller
// can fix by changing the request map to 4xx.
package handlers
