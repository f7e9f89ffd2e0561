package services

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"dev.helix.router/internal/llm"
)

// unhealthyAlertThreshold is the consecutive-failure count at which a
// critical alert fires. Exactly one alert per outage; recovery fires an
// informational one.
const unhealthyAlertThreshold = 3

var (
	phmMetricsOnce sync.Once

	providerHealthGauge *prometheus.GaugeVec
	healthCheckDuration *prometheus.HistogramVec
	unhealthyGauge      prometheus.Gauge
	healthAlertsCounter *prometheus.CounterVec
	healthChecksCounter *prometheus.CounterVec
)

func initPHMMetrics() {
	phmMetricsOnce.Do(func() {
		providerHealthGauge = promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "helixrouter_provider_health",
			Help: "Provider health status (1 healthy, 0 unhealthy)",
		}, []string{"provider"})

		healthCheckDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "helixrouter_health_check_duration_seconds",
			Help:    "Duration of provider health probes",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10},
		}, []string{"provider"})

		unhealthyGauge = promauto.NewGauge(prometheus.GaugeOpts{
			Name: "helixrouter_unhealthy_providers",
			Help: "Number of providers currently unhealthy",
		})

		healthAlertsCounter = promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "helixrouter_health_alerts_total",
			Help: "Health alerts emitted, by provider and severity",
		}, []string{"provider", "severity"})

		healthChecksCounter = promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "helixrouter_health_checks_total",
			Help: "Health probes executed, by provider and result",
		}, []string{"provider", "result"})
	})
}

// ProviderHealth is the monitor's view of one provider. Routing never
// reads it; selection runs on performance history. The monitor feeds
// the health endpoint and metrics, and its periodic re-probe refreshes
// each adapter's availability flag.
type ProviderHealth struct {
	Provider         string        `json:"provider"`
	Healthy          bool          `json:"healthy"`
	LastCheck        time.Time     `json:"last_check"`
	LastError        string        `json:"last_error,omitempty"`
	ConsecutiveFails int           `json:"consecutive_fails"`
	ResponseTime     time.Duration `json:"response_time"`
	TotalChecks      int64         `json:"total_checks"`
	TotalFailures    int64         `json:"total_failures"`
}

// HealthAlert is delivered to listeners on unhealthy and recovered
// transitions.
type HealthAlert struct {
	Provider  string    `json:"provider"`
	Severity  string    `json:"severity"` // "critical" or "info"
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// AlertListener receives health alerts. Listeners run on their own
// goroutines and must not block forever.
type AlertListener func(alert HealthAlert)

// ProviderHealthMonitor re-probes every registered adapter on an
// interval. A probe is the adapter's own Initialize, so the model cache
// and availability flag refresh as a side effect and a backend that
// came back is picked up without a restart.
type ProviderHealthMonitor struct {
	registry      *ProviderRegistry
	logger        *logrus.Logger
	checkInterval time.Duration
	checkTimeout  time.Duration

	mu        sync.RWMutex
	status    map[string]*ProviderHealth
	listeners []AlertListener
	stopCh    chan struct{}
	running   bool
}

// NewProviderHealthMonitor builds a monitor over the registry. Zero
// interval and timeout fall back to 60s and 10s.
func NewProviderHealthMonitor(registry *ProviderRegistry, checkInterval, checkTimeout time.Duration, logger *logrus.Logger) *ProviderHealthMonitor {
	initPHMMetrics()

	if checkInterval <= 0 {
		checkInterval = 60 * time.Second
	}
	if checkTimeout <= 0 {
		checkTimeout = 10 * time.Second
	}
	if logger == nil {
		logger = logrus.New()
	}

	return &ProviderHealthMonitor{
		registry:      registry,
		logger:        logger,
		checkInterval: checkInterval,
		checkTimeout:  checkTimeout,
		status:        make(map[string]*ProviderHealth),
		stopCh:        make(chan struct{}),
	}
}

// AddListener registers an alert listener. Safe before and after Start.
func (m *ProviderHealthMonitor) AddListener(listener AlertListener) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, listener)
}

// Start runs an immediate check pass and then the periodic loop until
// Stop is called or ctx is cancelled. Calling Start twice is a no-op.
func (m *ProviderHealthMonitor) Start(ctx context.Context) {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return
	}
	m.running = true
	m.stopCh = make(chan struct{})
	stopCh := m.stopCh
	m.mu.Unlock()

	m.logger.WithField("interval", m.checkInterval).Info("Provider health monitor started")

	go func() {
		m.checkAllProviders(ctx)

		ticker := time.NewTicker(m.checkInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-stopCh:
				return
			case <-ticker.C:
				m.checkAllProviders(ctx)
			}
		}
	}()
}

// Stop ends the periodic loop. Idempotent.
func (m *ProviderHealthMonitor) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.running {
		return
	}
	m.running = false
	close(m.stopCh)
	m.logger.Info("Provider health monitor stopped")
}

// ForceCheck runs one synchronous check pass over every provider.
func (m *ProviderHealthMonitor) ForceCheck(ctx context.Context) {
	m.checkAllProviders(ctx)
}

// ForceCheckProvider probes a single provider synchronously.
func (m *ProviderHealthMonitor) ForceCheckProvider(ctx context.Context, name string) error {
	adapter, err := m.registry.Create(name)
	if err != nil {
		return err
	}
	m.checkProvider(ctx, adapter)
	return nil
}

// GetStatus returns a copy of every provider's health entry.
func (m *ProviderHealthMonitor) GetStatus() map[string]ProviderHealth {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[string]ProviderHealth, len(m.status))
	for name, h := range m.status {
		out[name] = *h
	}
	return out
}

// GetProviderStatus returns one provider's health entry.
func (m *ProviderHealthMonitor) GetProviderStatus(name string) (ProviderHealth, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	h, ok := m.status[name]
	if !ok {
		return ProviderHealth{}, false
	}
	return *h, true
}

func (m *ProviderHealthMonitor) checkAllProviders(ctx context.Context) {
	g, checkCtx := errgroup.WithContext(ctx)

	for _, name := range m.registry.List() {
		adapter, err := m.registry.Create(name)
		if err != nil {
			continue
		}
		g.Go(func() error {
			m.checkProvider(checkCtx, adapter)
			return nil
		})
	}
	_ = g.Wait()

	unhealthy := 0
	m.mu.RLock()
	for _, h := range m.status {
		if !h.Healthy {
			unhealthy++
		}
	}
	m.mu.RUnlock()
	unhealthyGauge.Set(float64(unhealthy))
}

func (m *ProviderHealthMonitor) checkProvider(ctx context.Context, adapter llm.ProviderAdapter) {
	name := adapter.Name()

	probeCtx, cancel := context.WithTimeout(ctx, m.checkTimeout)
	defer cancel()

	start := time.Now()
	err := adapter.Initialize(probeCtx)
	elapsed := time.Since(start)

	healthy := err == nil && adapter.IsAvailable()
	errMsg := ""
	switch {
	case err != nil:
		errMsg = err.Error()
	case !healthy:
		errMsg = "backend probe failed"
	}

	healthCheckDuration.WithLabelValues(name).Observe(elapsed.Seconds())
	result := "success"
	if !healthy {
		result = "failure"
	}
	healthChecksCounter.WithLabelValues(name, result).Inc()
	if healthy {
		providerHealthGauge.WithLabelValues(name).Set(1)
	} else {
		providerHealthGauge.WithLabelValues(name).Set(0)
	}

	m.updateStatus(name, healthy, errMsg, elapsed)
}

// updateStatus mutates the entry under lock and prepares at most one
// alert, which is sent after the lock is released.
func (m *ProviderHealthMonitor) updateStatus(name string, healthy bool, errMsg string, elapsed time.Duration) {
	var alert *HealthAlert

	m.mu.Lock()
	h, ok := m.status[name]
	if !ok {
		h = &ProviderHealth{Provider: name, Healthy: true}
		m.status[name] = h
	}

	wasUnhealthy := h.ConsecutiveFails >= unhealthyAlertThreshold

	h.LastCheck = time.Now()
	h.ResponseTime = elapsed
	h.TotalChecks++
	h.Healthy = healthy
	h.LastError = errMsg

	if healthy {
		if wasUnhealthy {
			alert = &HealthAlert{
				Provider:  name,
				Severity:  "info",
				Message:   "provider recovered",
				Timestamp: h.LastCheck,
			}
		}
		h.ConsecutiveFails = 0
	} else {
		h.ConsecutiveFails++
		h.TotalFailures++
		if h.ConsecutiveFails == unhealthyAlertThreshold {
			alert = &HealthAlert{
				Provider:  name,
				Severity:  "critical",
				Message:   errMsg,
				Timestamp: h.LastCheck,
			}
		}
	}
	m.mu.Unlock()

	if alert != nil {
		m.sendAlert(*alert)
	}
}

func (m *ProviderHealthMonitor) sendAlert(alert HealthAlert) {
	healthAlertsCounter.WithLabelValues(alert.Provider, alert.Severity).Inc()

	entry := m.logger.WithFields(logrus.Fields{
		"provider": alert.Provider,
		"severity": alert.Severity,
	})
	if alert.Severity == "critical" {
		entry.Errorf("Provider unhealthy: %s", alert.Message)
	} else {
		entry.Info("Provider recovered")
	}

	m.mu.RLock()
	listeners := make([]AlertListener, len(m.listeners))
	copy(listeners, m.listeners)
	m.mu.RUnlock()

	for _, listener := range listeners {
		go listener(alert)
	}
}
