package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config is the process configuration, loaded once at startup from the
// environment. Runtime state never lives here; capability profiles are
// the only part that can change after boot, through the profile watcher.
type Config struct {
	Server     ServerConfig
	LLM        LLMConfig
	Routing    RoutingConfig
	Monitoring MonitoringConfig
}

type ServerConfig struct {
	Host           string
	Port           string
	APIKey         string
	Mode           string // "debug" or "release"
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	IdleTimeout    time.Duration
	EnableCORS     bool
	CORSOrigins    []string
	RequestLogging bool
}

type LLMConfig struct {
	DefaultTimeout     time.Duration
	MaxRetries         int
	DefaultMaxTokens   int
	DefaultTemperature float64
	// FailoverOrder is both the registration order and the coordinator's
	// fallback priority. Names missing from Providers are skipped.
	FailoverOrder []string
	Providers     map[string]ProviderConfig
}

// ProviderConfig holds one backend's credential and overrides. A hosted
// provider is enabled by default exactly when its API key is set; local
// backends (ollama) default to enabled since they need no credential.
type ProviderConfig struct {
	Enabled bool
	APIKey  string
	BaseURL string
	Model   string
	Timeout time.Duration
}

type RoutingConfig struct {
	// ProfilesPath points at the YAML capability-profiles file. Empty
	// means built-in defaults only.
	ProfilesPath string
	// WatchProfiles enables the fsnotify hot-reload watcher on
	// ProfilesPath.
	WatchProfiles   bool
	PreferenceBoost float64
}

type MonitoringConfig struct {
	LogLevel            string
	LogFormat           string // "text" or "json"
	MetricsPath         string
	TracingEnabled      bool
	TracingExporter     string // "otlp", "console" or "none"
	OTLPEndpoint        string
	HealthCheckInterval time.Duration
	HealthCheckTimeout  time.Duration
	RateLimit           RateLimitConfig
}

type RateLimitConfig struct {
	Enabled  bool
	Requests int
	Window   time.Duration
}

// DefaultFailoverOrder is the fallback priority when LLM_FAILOVER_ORDER
// is not set: premium hosted vendors first, the local daemon last.
var DefaultFailoverOrder = []string{
	"anthropic", "openai", "gemini", "deepseek", "openrouter", "ollama",
}

// Load reads the full configuration from environment variables. Missing
// variables fall back to defaults; nothing here touches the network.
func Load() *Config {
	return &Config{
		Server: ServerConfig{
			Host:           getEnv("SERVER_HOST", "0.0.0.0"),
			Port:           getEnv("PORT", "7080"),
			APIKey:         getEnv("HELIX_ROUTER_API_KEY", ""),
			Mode:           getEnv("GIN_MODE", "release"),
			ReadTimeout:    getDurationEnv("READ_TIMEOUT", 30*time.Second),
			WriteTimeout:   getDurationEnv("WRITE_TIMEOUT", 300*time.Second),
			IdleTimeout:    getDurationEnv("IDLE_TIMEOUT", 120*time.Second),
			EnableCORS:     getBoolEnv("CORS_ENABLED", true),
			CORSOrigins:    getEnvSlice("CORS_ORIGINS", []string{"*"}),
			RequestLogging: getBoolEnv("REQUEST_LOGGING", true),
		},
		LLM: LLMConfig{
			DefaultTimeout:     getDurationEnv("LLM_TIMEOUT", 120*time.Second),
			MaxRetries:         getIntEnv("LLM_MAX_RETRIES", 3),
			DefaultMaxTokens:   getIntEnv("LLM_DEFAULT_MAX_TOKENS", 4096),
			DefaultTemperature: getFloatEnv("LLM_DEFAULT_TEMPERATURE", 0.7),
			FailoverOrder:      getEnvSlice("LLM_FAILOVER_ORDER", DefaultFailoverOrder),
			Providers:          loadProviders(),
		},
		Routing: RoutingConfig{
			ProfilesPath:    getEnv("ROUTING_PROFILES_PATH", ""),
			WatchProfiles:   getBoolEnv("ROUTING_PROFILES_WATCH", true),
			PreferenceBoost: getFloatEnv("ROUTING_PREFERENCE_BOOST", 0),
		},
		Monitoring: MonitoringConfig{
			LogLevel:            getEnv("LOG_LEVEL", "info"),
			LogFormat:           getEnv("LOG_FORMAT", "text"),
			MetricsPath:         getEnv("METRICS_PATH", "/metrics"),
			TracingEnabled:      getBoolEnv("TRACING_ENABLED", false),
			TracingExporter:     getEnv("TRACING_EXPORTER", "none"),
			OTLPEndpoint:        getEnv("OTLP_ENDPOINT", "localhost:4318"),
			HealthCheckInterval: getDurationEnv("HEALTH_CHECK_INTERVAL", 60*time.Second),
			HealthCheckTimeout:  getDurationEnv("HEALTH_CHECK_TIMEOUT", 10*time.Second),
			RateLimit: RateLimitConfig{
				Enabled:  getBoolEnv("RATE_LIMIT_ENABLED", true),
				Requests: getIntEnv("RATE_LIMIT_REQUESTS", 100),
				Window:   getDurationEnv("RATE_LIMIT_WINDOW", time.Minute),
			},
		},
	}
}

func loadProviders() map[string]ProviderConfig {
	return map[string]ProviderConfig{
		"anthropic":  hostedProvider("ANTHROPIC"),
		"openai":     hostedProvider("OPENAI"),
		"gemini":     hostedProvider("GEMINI"),
		"deepseek":   hostedProvider("DEEPSEEK"),
		"openrouter": hostedProvider("OPENROUTER"),
		"ollama": {
			Enabled: getBoolEnv("OLLAMA_ENABLED", true),
			BaseURL: getEnv("OLLAMA_BASE_URL", ""),
			Model:   getEnv("OLLAMA_MODEL", ""),
			Timeout: getDurationEnv("OLLAMA_TIMEOUT", 0),
		},
	}
}

// hostedProvider reads one hosted vendor's settings. The enable flag
// defaults to key presence so setting an API key is all a deployment
// needs; an explicit <PREFIX>_ENABLED always wins.
func hostedProvider(prefix string) ProviderConfig {
	key := getEnv(prefix+"_API_KEY", "")
	return ProviderConfig{
		Enabled: getBoolEnv(prefix+"_ENABLED", key != ""),
		APIKey:  key,
		BaseURL: getEnv(prefix+"_BASE_URL", ""),
		Model:   getEnv(prefix+"_MODEL", ""),
		Timeout: getDurationEnv(prefix+"_TIMEOUT", 0),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func getFloatEnv(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

func getEnvSlice(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		parts := strings.Split(value, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if trimmed := strings.TrimSpace(p); trimmed != "" {
				out = append(out, trimmed)
			}
		}
		if len(out) > 0 {
			return out
		}
	}
	return defaultValue
}
