package observability

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap/zapcore"
)

func TestNewTracer_Disabled(t *testing.T) {
	t.Parallel()

	tracer, err := NewTracer(context.Background(), TracerConfig{ServiceName: "test"})
	require.NoError(t, err)

	assert.False(t, tracer.Enabled())
	ctx, span := tracer.StartSpan(context.Background(), "noop")
	assert.NotNil(t, ctx)
	span.End()
	assert.NoError(t, tracer.Shutdown(context.Background()))
}

func TestCreateSampler(t *testing.T) {
	t.Parallel()

	assert.Equal(t, sdktrace.AlwaysSample().Description(), createSampler(1).Description())
	assert.Equal(t, sdktrace.NeverSample().Description(), createSampler(0).Description())
	assert.Contains(t, createSampler(0.5).Description(), "TraceIDRatioBased")
}

func newRecordingTracer(t *testing.T) (*Tracer, *tracetest.SpanRecorder) {
	t.Helper()

	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	t.Cleanup(func() { _ = provider.Shutdown(context.Background()) })

	return &Tracer{provider: provider, tracer: provider.Tracer("test")}, recorder
}

func TestTracingMiddleware(t *testing.T) {
	t.Parallel()

	tracer, recorder := newRecordingTracer(t)

	var traceID string
	handler := TracingMiddleware(tracer)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		traceID = trace.SpanContextFromContext(r.Context()).TraceID().String()
		w.WriteHeader(http.StatusBadGateway)
	}))

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/page.html", nil))

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "proxy GET", spans[0].Name())
	assert.Equal(t, spans[0].SpanContext().TraceID().String(), traceID)
	assert.Equal(t, "Error", spans[0].Status().Code.String())
}

func TestRecordError(t *testing.T) {
	t.Parallel()

	tracer, recorder := newRecordingTracer(t)

	_, span := tracer.StartSpan(context.Background(), "op")
	RecordError(span, nil)
	RecordError(span, errors.New("boom"))
	span.End()

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "boom", spans[0].Status().Description)
	assert.Len(t, spans[0].Events(), 1)
}

func TestOTelLogger(t *testing.T) {
	t.Parallel()

	logger, logs := newObservedLogger(zapcore.DebugLevel)
	otelLogger := newOTelLogger(logger)

	otelLogger.Info("exporter started", "endpoint", "collector:4317")
	otelLogger.V(5).Info("too verbose")

	require.Equal(t, 1, logs.Len())
	entry := logs.All()[0]
	assert.Equal(t, zapcore.DebugLevel, entry.Level)
	assert.Equal(t, "opentelemetry", entry.Message)
	assert.Contains(t, entry.ContextMap()["details"], "exporter started")
	assert.Contains(t, entry.ContextMap()["details"], "collector:4317")
}
