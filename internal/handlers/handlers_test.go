package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"dev.helix.router/internal/llm"
	"dev.helix.router/internal/models"
	"dev.helix.router/internal/services"
)

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	goleak.VerifyTestMain(m)
}

// stubAdapter is the in-package fake backend for handler tests.
type stubAdapter struct {
	name string

	mu          sync.Mutex
	available   bool
	initErr     error
	generateErr error
	calls       int
}

func newStubAdapter(name string) *stubAdapter {
	return &stubAdapter{name: name, available: true}
}

func (s *stubAdapter) Name() string { return s.name }

func (s *stubAdapter) Initialize(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
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
	s.calls++
	err := s.generateErr
	s.mu.Unlock()

	if err != nil {
		return nil, err
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
	return map[string]any{"provider": s.name, "available": s.IsAvailable()}
}

func (s *stubAdapter) Cleanup() error { return nil }

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

func (s *stubAdapter) generateCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// testStack wires stub backends through the real registry, router and
// generation service behind a gin engine, the same shape main assembles.
type testStack struct {
	engine   *gin.Engine
	registry *services.ProviderRegistry
	router   *llm.Router
	monitor  *services.ProviderHealthMonitor
}

func newTestStack(t *testing.T, caps []models.ProviderCapabilities, stubs ...*stubAdapter) *testStack {
	t.Helper()

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	registry := services.NewProviderRegistry(llm.DefaultCircuitBreakerConfig(), logger)
	for _, stub := range stubs {
		require.NoError(t, registry.Register(stub.name, stub))
	}

	router := llm.NewRouter(registry, llm.RouterConfig{Capabilities: caps}, logger)
	coordinator := llm.NewCoordinator(logger, registry.Adapters()...)
	monitor := services.NewProviderHealthMonitor(registry, time.Minute, time.Second, logger)
	service := services.NewGenerationService(registry, coordinator, router,
		services.GenerationDefaults{MaxTokens: 4096, Temperature: 0.7}, logger)

	engine := gin.New()
	api := engine.Group("/api/v1")
	NewGenerationHandler(service, router, logger).RegisterRoutes(api)
	NewProviderHandler(registry, monitor, router, logger).RegisterRoutes(api)
	mh := NewMonitoringHandler(router, registry, monitor)
	mh.RegisterRoutes(api)
	engine.GET("/health", mh.Health)

	return &testStack{engine: engine, registry: registry, router: router, monitor: monitor}
}

func (ts *testStack) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}

	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	w := httptest.NewRecorder()
	ts.engine.ServeHTTP(w, req)
	return w
}

func (ts *testStack) postJSON(t *testing.T, path string, body any) *httptest.ResponseRecorder {
	return ts.do(t, http.MethodPost, path, body)
}

func (ts *testStack) get(t *testing.T, path string) *httptest.ResponseRecorder {
	return ts.do(t, http.MethodGet, path, nil)
}

func decodeJSON[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func chatBody(content string) map[string]any {
	return map[string]any{
		"messages": []map[string]string{{"role": "user", "content": content}},
	}
}
