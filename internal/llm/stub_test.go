package llm

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"dev.helix.router/internal/models"
)

// stubAdapter is the in-package fake used by coordinator and router
// tests. All knobs are plain fields set before use.
type stubAdapter struct {
	name        string
	available   bool
	initErr     error
	generateErr error
	response    *models.NormalizedResponse
	cleanupErr  error

	mu            sync.Mutex
	generateCalls int
	cleanupCalls  int
}

func newStubAdapter(name string) *stubAdapter {
	return &stubAdapter{name: name, available: true}
}

func (s *stubAdapter) Name() string { return s.name }

func (s *stubAdapter) Initialize(ctx context.Context) error { return s.initErr }

func (s *stubAdapter) IsAvailable() bool { return s.available }

func (s *stubAdapter) SupportedModels() []string { return []string{s.name + "-model"} }

func (s *stubAdapter) Generate(ctx context.Context, messages []models.Message, opts *models.GenerationOptions) (*models.NormalizedResponse, error) {
	s.mu.Lock()
	s.generateCalls++
	s.mu.Unlock()

	if s.generateErr != nil {
		return nil, s.generateErr
	}
	if s.response != nil {
		return s.response, nil
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
	if s.available {
		status = "healthy"
	}
	return map[string]any{"provider": s.name, "status": status}
}

func (s *stubAdapter) Cleanup() error {
	s.mu.Lock()
	s.cleanupCalls++
	s.mu.Unlock()
	return s.cleanupErr
}

func (s *stubAdapter) calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.generateCalls
}

// stubSource exposes stub adapters through the AdapterSource contract in
// a fixed declaration order.
type stubSource struct {
	order    []string
	adapters map[string]*stubAdapter
}

func newStubSource(adapters ...*stubAdapter) *stubSource {
	s := &stubSource{adapters: make(map[string]*stubAdapter, len(adapters))}
	for _, a := range adapters {
		s.order = append(s.order, a.name)
		s.adapters[a.name] = a
	}
	return s
}

func (s *stubSource) List() []string {
	return append([]string(nil), s.order...)
}

func (s *stubSource) Create(name string) (ProviderAdapter, error) {
	a, ok := s.adapters[name]
	if !ok {
		return nil, fmt.Errorf("Provider '%s' not found", name)
	}
	return a, nil
}

// quietLogger drops test log noise.
func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}
