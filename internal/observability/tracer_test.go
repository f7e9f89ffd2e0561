package observability

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"
)

// newRecordedTracer installs an in-memory span recorder as the global
// provider for the duration of the test and builds a tracer against it.
func newRecordedTracer(t *testing.T) (*Tracer, *tracetest.SpanRecorder) {
	t.Helper()

	prev := otel.GetTracerProvider()
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		require.NoError(t, tp.Shutdown(context.Background()))
		otel.SetTracerProvider(prev)
	})

	tracer, err := NewTracer(&TracerConfig{
		ServiceName:    "helix-router-test",
		ServiceVersion: "0.0.0",
		Environment:    "test",
		ExporterType:   ExporterNone,
	})
	require.NoError(t, err)
	return tracer, recorder
}

func attributeMap(attrs []attribute.KeyValue) map[attribute.Key]attribute.Value {
	out := make(map[attribute.Key]attribute.Value, len(attrs))
	for _, kv := range attrs {
		out[kv.Key] = kv.Value
	}
	return out
}

func TestStartGenerationRecordsRequestAttributes(t *testing.T) {
	tracer, recorder := newRecordedTracer(t)

	ctx, span := tracer.StartGeneration(context.Background(), "llm.generate", &GenerationParams{
		Provider:    "anthropic",
		Model:       "claude-sonnet",
		RequestID:   "req-1",
		Priority:    "high",
		RequestType: "analytical",
		Temperature: 0.7,
		MaxTokens:   1024,
	})
	tracer.EndGeneration(ctx, span, &GenerationResult{Provider: "anthropic"}, time.Now())

	ended := recorder.Ended()
	require.Len(t, ended, 1)

	got := ended[0]
	assert.Equal(t, "llm.generate", got.Name())
	assert.Equal(t, trace.SpanKindClient, got.SpanKind())

	attrs := attributeMap(got.Attributes())
	assert.Equal(t, "anthropic", attrs[AttrSystem].AsString())
	assert.Equal(t, "anthropic", attrs[AttrProvider].AsString())
	assert.Equal(t, "claude-sonnet", attrs[AttrRequestModel].AsString())
	assert.Equal(t, "req-1", attrs[AttrRequestID].AsString())
	assert.Equal(t, "high", attrs[AttrPriority].AsString())
	assert.Equal(t, "analytical", attrs[AttrRequestType].AsString())
	assert.InDelta(t, 0.7, attrs[AttrTemperature].AsFloat64(), 1e-9)
	assert.Equal(t, int64(1024), attrs[AttrMaxTokens].AsInt64())
}

func TestStartGenerationOmitsUnsetAttributes(t *testing.T) {
	tracer, recorder := newRecordedTracer(t)

	ctx, span := tracer.StartGeneration(context.Background(), "llm.completion", &GenerationParams{
		Provider: "ollama",
	})
	tracer.EndGeneration(ctx, span, &GenerationResult{Provider: "ollama"}, time.Now())

	ended := recorder.Ended()
	require.Len(t, ended, 1)

	attrs := attributeMap(ended[0].Attributes())
	assert.NotContains(t, attrs, attribute.Key(AttrRequestModel))
	assert.NotContains(t, attrs, attribute.Key(AttrRequestID))
	assert.NotContains(t, attrs, attribute.Key(AttrPriority))
	assert.NotContains(t, attrs, attribute.Key(AttrTemperature))
	assert.NotContains(t, attrs, attribute.Key(AttrMaxTokens))
}

func TestEndGenerationRecordsResponseAttributes(t *testing.T) {
	tracer, recorder := newRecordedTracer(t)

	ctx, span := tracer.StartGeneration(context.Background(), "llm.route", &GenerationParams{
		Provider: "openai",
	})
	tracer.EndGeneration(ctx, span, &GenerationResult{
		Provider:     "openai",
		TotalTokens:  42,
		FinishReason: "stop",
		ResponseID:   "resp-9",
		Score:        0.87,
	}, time.Now())

	ended := recorder.Ended()
	require.Len(t, ended, 1)

	got := ended[0]
	assert.Equal(t, codes.Ok, got.Status().Code)

	attrs := attributeMap(got.Attributes())
	assert.Equal(t, int64(42), attrs[AttrTotalTokens].AsInt64())
	assert.Equal(t, "stop", attrs[AttrFinishReason].AsString())
	assert.Equal(t, "resp-9", attrs[AttrResponseID].AsString())
	assert.InDelta(t, 0.87, attrs[AttrProviderScore].AsFloat64(), 1e-9)
}

func TestEndGenerationRecordsError(t *testing.T) {
	tracer, recorder := newRecordedTracer(t)

	genErr := errors.New("rate limit exceeded")
	ctx, span := tracer.StartGeneration(context.Background(), "llm.completion", &GenerationParams{
		Provider: "anthropic",
	})
	tracer.EndGeneration(ctx, span, &GenerationResult{Provider: "anthropic", Err: genErr}, time.Now())

	ended := recorder.Ended()
	require.Len(t, ended, 1)

	got := ended[0]
	assert.Equal(t, codes.Error, got.Status().Code)
	assert.Equal(t, "rate limit exceeded", got.Status().Description)

	var recorded bool
	for _, ev := range got.Events() {
		if ev.Name == "exception" {
			recorded = true
		}
	}
	assert.True(t, recorded, "span should carry the recorded error event")
}

func TestNewTracerNilConfigUsesDefaults(t *testing.T) {
	tracer, err := NewTracer(nil)
	require.NoError(t, err)
	assert.Equal(t, "helix-router", tracer.config.ServiceName)
	assert.Equal(t, ExporterNone, tracer.config.ExporterType)
}

func TestGetTracerReturnsSameInstance(t *testing.T) {
	first := GetTracer()
	second := GetTracer()

	require.NotNil(t, first)
	assert.Same(t, first, second)
}
