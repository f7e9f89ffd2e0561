package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"dev.helix.router/internal/config"
	"dev.helix.router/internal/handlers"
	"dev.helix.router/internal/llm"
	"dev.helix.router/internal/middleware"
	"dev.helix.router/internal/models"
	"dev.helix.router/internal/observability"
	"dev.helix.router/internal/observability/metrics"
	"dev.helix.router/internal/services"
	"dev.helix.router/internal/version"
)

const serviceName = "helix-router"

var (
	showVersion     = flag.Bool("version", false, "Show version information")
	profilesPath    = flag.String("profiles", "", "Path to capability profiles YAML (overrides ROUTING_PROFILES_PATH)")
	strictProviders = flag.Bool("strict-providers", false, "Fail startup when any enabled provider cannot initialize")
)

func main() {
	// API keys and overrides may come from a local .env file; a missing
	// file is not an error.
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		logrus.WithError(err).Debug("Could not load .env file")
	}

	flag.Parse()

	if *showVersion {
		fmt.Println(version.Get().String())
		return
	}

	if err := run(); err != nil {
		logrus.WithError(err).Fatal("Application failed")
	}
}

func run() error {
	cfg := config.Load()
	if *profilesPath != "" {
		cfg.Routing.ProfilesPath = *profilesPath
	}

	logger := newLogger(cfg)
	gin.SetMode(cfg.Server.Mode)

	ctx := context.Background()

	var traceProvider *sdktrace.TracerProvider
	if cfg.Monitoring.TracingEnabled {
		tp, err := observability.SetupTraceExporter(ctx, &observability.ExporterConfig{
			Type:        observability.ExporterType(cfg.Monitoring.TracingExporter),
			Endpoint:    cfg.Monitoring.OTLPEndpoint,
			ServiceName: serviceName,
			Environment: environment(cfg),
			Version:     version.Version,
		})
		if err != nil {
			return fmt.Errorf("setting up trace exporter: %w", err)
		}
		traceProvider = tp

		if err := observability.InitGlobalTracer(&observability.TracerConfig{
			ServiceName:    serviceName,
			ServiceVersion: version.Version,
			Environment:    environment(cfg),
			ExporterType:   observability.ExporterType(cfg.Monitoring.TracingExporter),
			Endpoint:       cfg.Monitoring.OTLPEndpoint,
		}); err != nil {
			return fmt.Errorf("initializing tracer: %w", err)
		}
	}

	registry, err := services.NewRegistryFromConfig(cfg, logger)
	if err != nil {
		return fmt.Errorf("building provider registry: %w", err)
	}

	initCtx, initCancel := context.WithTimeout(ctx, 30*time.Second)
	err = registry.InitializeAll(initCtx)
	initCancel()
	if err != nil {
		if *strictProviders {
			return fmt.Errorf("initializing providers: %w", err)
		}
		logger.WithError(err).Warn("Provider initialization failed, failover will route around it")
	}

	coordinator := llm.NewCoordinator(logger, registry.Adapters()...)

	profiles, err := config.LoadCapabilityProfiles(cfg.Routing.ProfilesPath)
	if err != nil {
		return fmt.Errorf("loading capability profiles: %w", err)
	}
	router := llm.NewRouter(registry, llm.RouterConfig{
		Capabilities:    profiles,
		PreferenceBoost: cfg.Routing.PreferenceBoost,
	}, logger)

	var watcher *config.ProfileWatcher
	if cfg.Routing.ProfilesPath != "" && cfg.Routing.WatchProfiles {
		watcher, err = config.NewProfileWatcher(cfg.Routing.ProfilesPath, logger, func(reloaded []models.ProviderCapabilities) {
			for _, caps := range reloaded {
				if err := router.UpdateCapabilities(caps.Name, caps); err != nil {
					logger.WithError(err).WithField("provider", caps.Name).
						Debug("Skipping profile for unregistered provider")
				}
			}
		})
		if err != nil {
			return fmt.Errorf("starting profile watcher: %w", err)
		}
		watcher.Start()
	}

	monitor := services.NewProviderHealthMonitor(registry,
		cfg.Monitoring.HealthCheckInterval, cfg.Monitoring.HealthCheckTimeout, logger)
	monitor.Start(ctx)

	service := services.NewGenerationService(registry, coordinator, router, services.GenerationDefaults{
		MaxTokens:   cfg.LLM.DefaultMaxTokens,
		Temperature: cfg.LLM.DefaultTemperature,
	}, logger)

	collector := metrics.NewCollector()

	engine := gin.New()
	engine.Use(gin.Recovery())
	if cfg.Server.EnableCORS {
		engine.Use(middleware.CORS(cfg.Server.CORSOrigins))
	}
	if cfg.Server.RequestLogging {
		engine.Use(middleware.RequestLogger(logger, "/health", cfg.Monitoring.MetricsPath))
	}
	engine.Use(middleware.Metrics(collector))

	var limiter *middleware.RateLimiter
	if cfg.Monitoring.RateLimit.Enabled {
		limiter = middleware.NewRateLimiter(&middleware.RateLimitConfig{
			Requests: cfg.Monitoring.RateLimit.Requests,
			Window:   cfg.Monitoring.RateLimit.Window,
			KeyFunc:  middleware.ByAPIKey,
		})
	}

	validator := middleware.NewDefaultValidator()

	api := engine.Group("/api/v1")
	api.Use(middleware.AuthMiddleware(cfg.Server.APIKey))
	if limiter != nil {
		api.Use(limiter.Middleware())
	}
	api.Use(validator.BodySizeMiddleware(), middleware.RequireContentType("application/json"))

	handlers.NewGenerationHandler(service, router, logger).
		RegisterRoutes(api, validator.ValidateGenerationMiddleware())
	handlers.NewProviderHandler(registry, monitor, router, logger).RegisterRoutes(api)
	monitoringHandler := handlers.NewMonitoringHandler(router, registry, monitor)
	monitoringHandler.RegisterRoutes(api)

	engine.GET("/health", monitoringHandler.Health)
	engine.GET(cfg.Monitoring.MetricsPath, gin.WrapH(collector.Handler()))

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port),
		Handler:      engine,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.WithFields(logrus.Fields{
			"host":      cfg.Server.Host,
			"port":      cfg.Server.Port,
			"providers": registry.List(),
			"version":   version.Version,
		}).Info("Starting helix-router server")

		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErr:
		return fmt.Errorf("server failed to start: %w", err)
	case sig := <-quit:
		logger.WithField("signal", sig.String()).Info("Shutting down server...")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	monitor.Stop()
	if watcher != nil {
		watcher.Stop()
	}
	if limiter != nil {
		limiter.Close()
	}

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("Server forced to shutdown")
		return fmt.Errorf("server shutdown error: %w", err)
	}

	if err := registry.Cleanup(); err != nil {
		logger.WithError(err).Warn("Provider cleanup failed")
	}
	if err := observability.ShutdownTraceExporter(shutdownCtx, traceProvider); err != nil {
		logger.WithError(err).Warn("Trace exporter shutdown failed")
	}

	logger.Info("Server shutdown complete")
	return nil
}

// newLogger builds the process logger from the monitoring config.
func newLogger(cfg *config.Config) *logrus.Logger {
	logger := logrus.New()

	level, err := logrus.ParseLevel(cfg.Monitoring.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	if cfg.Monitoring.LogFormat == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return logger
}

// environment names the deployment environment on trace resources.
func environment(cfg *config.Config) string {
	if cfg.Server.Mode == gin.ReleaseMode {
		return "production"
	}
	return "development"
}
