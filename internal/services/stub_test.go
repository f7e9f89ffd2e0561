package services

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"dev.helix.router/internal/llm"
	"dev.helix.router/internal/models"
)

// stubAdapter is the in-package fake used by registry, monitor and
// generation service tests. Knobs are mutex-guarded so health checks
// can flip them mid-test.
type stubAdapter struct {
	name string

	mu            sync.Mutex
	available     bool
	initErr       error
	generateErr   error
	response      *models.NormalizedResponse
	cleanupErr    error
	lastOpts      *models.GenerationOptions
	initCalls     int
	generateCalls int
	cleanupCalls  int
}

func newStubAdapter(name string) *stubAdapter {
	return &stubAdapter{name: name, available: true}
}

func (s *stubAdapter) Name() string { return s.name }

func (s *stubAdapter) Initialize(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.initCalls++
	return s.initErr
}

func (s *stubAdapter) IsAvailable() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.available
}

func (s *stubAdapter) SupportedModels() []string { return []string{s.name + "-model"} }

func (s *stubAdapter) Generate(ctx context.Context, messages []models.Message, opts *models.GenerationOptions) (*models.NormalizedResponse, error) {
	s.mu.Lock()
	s.generateCalls++
	s.lastOpts = opts
	err := s.generateErr
	resp := s.response
	s.mu.Unlock()

	if err != nil {
		return nil, err
	}
	if resp != nil {
		return resp, nil
	}
	return &models.NormalizedResponse{
		ID:           s.name + "-resp",
		Content:      "response from " + s.name,
		Provider:     s.name,
		Model:        s.name + "-model",
		FinishReason: "stop",
		CreatedAt:    time.Now(),
	}, nil
}

func (s *stubAdapter) GetHealthStatus() map[string]any {
	status := "unhealthy"
	if s.IsAvailable() {
		status = "healthy"
	}
	return map[string]any{"provider": s.name, "status": status}
}

func (s *stubAdapter) Cleanup() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cleanupCalls++
	return s.cleanupErr
}

func (s *stubAdapter) setAvailable(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.available = v
}

func (s *stubAdapter) setInitErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.initErr = err
}

func (s *stubAdapter) setGenerateErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.generateErr = err
}

func (s *stubAdapter) calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.generateCalls
}

func (s *stubAdapter) inits() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.initCalls
}

func (s *stubAdapter) cleanups() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cleanupCalls
}

func (s *stubAdapter) capturedOpts() *models.GenerationOptions {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastOpts
}

// testBreakerConfig trips after two failures and probes again after
// 50ms, keeping breaker tests fast.
func testBreakerConfig() llm.CircuitBreakerConfig {
	return llm.CircuitBreakerConfig{
		FailureThreshold:    2,
		SuccessThreshold:    1,
		OpenTimeout:         50 * time.Millisecond,
		HalfOpenMaxRequests: 1,
	}
}

// quietLogger drops test log noise.
func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}
