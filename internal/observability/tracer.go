// Package observability provides OpenTelemetry-based tracing and
// Prometheus metrics for routing operations. Span attributes follow the
// OpenTelemetry GenAI semantic conventions.
package observability

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// GenAI semantic convention attributes plus router-specific ones.
const (
	AttrSystem       = "gen_ai.system"
	AttrRequestModel = "gen_ai.request.model"
	AttrTemperature  = "gen_ai.request.temperature"
	AttrMaxTokens    = "gen_ai.request.max_tokens" // #nosec G101 -- attribute name, not credentials
	AttrTotalTokens  = "gen_ai.usage.total_tokens" // #nosec G101
	AttrFinishReason = "gen_ai.response.finish_reason"
	AttrResponseID   = "gen_ai.response.id"

	AttrRequestID     = "helix.request.id"
	AttrPriority      = "helix.request.priority"
	AttrRequestType   = "helix.request.type"
	AttrProvider      = "helix.provider"
	AttrProviderScore = "helix.provider.score"
)

// ExporterType selects where spans go.
type ExporterType string

const (
	ExporterOTLP    ExporterType = "otlp"
	ExporterConsole ExporterType = "console"
	ExporterNone    ExporterType = "none"
)

// TracerConfig configures the router tracer.
type TracerConfig struct {
	ServiceName    string
	ServiceVersion string
	Environment    string
	ExporterType   ExporterType
	Endpoint       string
}

// DefaultTracerConfig returns defaults suitable for development: spans
// are created but never exported.
func DefaultTracerConfig() *TracerConfig {
	return &TracerConfig{
		ServiceName:    "helix-router",
		ServiceVersion: "1.0.0",
		Environment:    "development",
		ExporterType:   ExporterNone,
	}
}

// Tracer wraps the otel tracer and meter for generation operations.
type Tracer struct {
	tracer trace.Tracer
	meter  metric.Meter
	config *TracerConfig

	requestCounter   metric.Int64Counter
	tokenCounter     metric.Int64Counter
	errorCounter     metric.Int64Counter
	latencyHistogram metric.Float64Histogram
}

// NewTracer builds a tracer against the globally registered providers.
func NewTracer(config *TracerConfig) (*Tracer, error) {
	if config == nil {
		config = DefaultTracerConfig()
	}

	t := &Tracer{
		tracer: otel.Tracer(config.ServiceName, trace.WithInstrumentationVersion(config.ServiceVersion)),
		meter:  otel.Meter(config.ServiceName, metric.WithInstrumentationVersion(config.ServiceVersion)),
		config: config,
	}

	if err := t.initInstruments(); err != nil {
		return nil, fmt.Errorf("failed to initialize instruments: %w", err)
	}
	return t, nil
}

func (t *Tracer) initInstruments() error {
	var err error

	t.requestCounter, err = t.meter.Int64Counter(
		"llm.requests.total",
		metric.WithDescription("Total generation requests"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return err
	}

	t.tokenCounter, err = t.meter.Int64Counter(
		"llm.tokens.total",
		metric.WithDescription("Total tokens reported by providers"),
		metric.WithUnit("{token}"),
	)
	if err != nil {
		return err
	}

	t.errorCounter, err = t.meter.Int64Counter(
		"llm.errors.total",
		metric.WithDescription("Total generation errors"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		return err
	}

	t.latencyHistogram, err = t.meter.Float64Histogram(
		"llm.request.duration",
		metric.WithDescription("Generation request duration"),
		metric.WithUnit("s"),
	)
	return err
}

// GenerationParams describes the request side of a generation span.
type GenerationParams struct {
	Provider    string
	Model       string
	RequestID   string
	Priority    string
	RequestType string
	Temperature float64
	MaxTokens   int
}

// GenerationResult describes the response side of a generation span.
type GenerationResult struct {
	Provider     string
	TotalTokens  int
	FinishReason string
	ResponseID   string
	Score        float64
	Err          error
}

// StartGeneration opens a span for one generation operation. The
// operation is the span name ("llm.generate", "llm.route" or
// "llm.completion" at the adapter level).
func (t *Tracer) StartGeneration(ctx context.Context, operation string, params *GenerationParams) (context.Context, trace.Span) {
	attrs := []attribute.KeyValue{
		attribute.String(AttrSystem, params.Provider),
	}
	if params.Provider != "" {
		attrs = append(attrs, attribute.String(AttrProvider, params.Provider))
	}
	if params.Model != "" {
		attrs = append(attrs, attribute.String(AttrRequestModel, params.Model))
	}
	if params.RequestID != "" {
		attrs = append(attrs, attribute.String(AttrRequestID, params.RequestID))
	}
	if params.Priority != "" {
		attrs = append(attrs, attribute.String(AttrPriority, params.Priority))
	}
	if params.RequestType != "" {
		attrs = append(attrs, attribute.String(AttrRequestType, params.RequestType))
	}
	if params.Temperature > 0 {
		attrs = append(attrs, attribute.Float64(AttrTemperature, params.Temperature))
	}
	if params.MaxTokens > 0 {
		attrs = append(attrs, attribute.Int(AttrMaxTokens, params.MaxTokens))
	}

	ctx, span := t.tracer.Start(ctx, operation,
		trace.WithAttributes(attrs...),
		trace.WithSpanKind(trace.SpanKindClient),
	)

	t.requestCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("operation", operation),
		attribute.String("provider", params.Provider),
	))

	return ctx, span
}

// EndGeneration closes a generation span with the outcome and records
// the latency, token and error metrics.
func (t *Tracer) EndGeneration(ctx context.Context, span trace.Span, result *GenerationResult, start time.Time) {
	duration := time.Since(start).Seconds()

	attrs := []attribute.KeyValue{
		attribute.Int(AttrTotalTokens, result.TotalTokens),
	}
	if result.Provider != "" {
		attrs = append(attrs, attribute.String(AttrProvider, result.Provider))
	}
	if result.FinishReason != "" {
		attrs = append(attrs, attribute.String(AttrFinishReason, result.FinishReason))
	}
	if result.ResponseID != "" {
		attrs = append(attrs, attribute.String(AttrResponseID, result.ResponseID))
	}
	if result.Score > 0 {
		attrs = append(attrs, attribute.Float64(AttrProviderScore, result.Score))
	}
	span.SetAttributes(attrs...)

	providerAttr := metric.WithAttributes(attribute.String("provider", result.Provider))
	t.latencyHistogram.Record(ctx, duration, providerAttr)
	if result.TotalTokens > 0 {
		t.tokenCounter.Add(ctx, int64(result.TotalTokens), providerAttr)
	}

	if result.Err != nil {
		span.RecordError(result.Err)
		span.SetStatus(codes.Error, result.Err.Error())
		t.errorCounter.Add(ctx, 1, providerAttr)
	} else {
		span.SetStatus(codes.Ok, "")
	}

	span.End()
}

var (
	globalTracer *Tracer
	tracerOnce   sync.Once
)

// InitGlobalTracer sets up the process-wide tracer. First call wins.
func InitGlobalTracer(config *TracerConfig) error {
	var initErr error
	tracerOnce.Do(func() {
		globalTracer, initErr = NewTracer(config)
	})
	return initErr
}

// GetTracer returns the process-wide tracer, building a default one if
// InitGlobalTracer was never called.
func GetTracer() *Tracer {
	tracerOnce.Do(func() {
		globalTracer, _ = NewTracer(nil)
	})
	return globalTracer
}
