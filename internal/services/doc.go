// Package services wires the provider registry, health monitoring, and
// generation flow into the units the HTTP layer depends on.
//
// # Core Services
//
//   - ProviderRegistry: owns one adapter instance per configured provider
//   - ProviderHealthMonitor: periodic availability probes with alerting
//   - GenerationService: request defaults plus routed and failover generation
//
// # Provider Registry
//
// The registry builds adapters from configuration and wraps each one in a
// per-provider circuit breaker:
//
//	registry, err := services.NewRegistryFromConfig(cfg, logger)
//	if err != nil {
//	    return err
//	}
//	adapter, err := registry.Create("anthropic")
//
// Registration order doubles as the failover priority, so the order of
// LLM_FAILOVER_ORDER decides which provider is tried first when scores tie.
//
// # Health Monitoring
//
// The monitor probes every registered adapter on a fixed interval and keeps
// the last known state per provider:
//
//	monitor := services.NewProviderHealthMonitor(registry, time.Minute, 10*time.Second, logger)
//	monitor.Start(ctx)
//	defer monitor.Stop()
//
//	status := monitor.GetStatus()
//
// Listeners registered with AddListener fire when a provider crosses the
// consecutive-failure threshold, and again when it recovers.
//
// # Generation
//
// GenerationService fills in configured defaults and dispatches either to a
// pinned provider, the scored router, or the failover coordinator:
//
//	service := services.NewGenerationService(registry, coordinator, router, defaults, logger)
//	resp, err := service.GenerateResponse(ctx, messages, opts)
//
// # Key Files
//
//   - provider_registry.go: adapter construction and lifecycle
//   - provider_health_monitor.go: periodic probes and alert listeners
//   - generation_service.go: defaults, pinning, and dispatch
package services
