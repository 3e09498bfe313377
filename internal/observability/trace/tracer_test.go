package trace

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestNewTracer(t *testing.T) {
	t.Run("None provider is a no-op", func(t *testing.T) {
		tracer, err := NewTracer(TracerConfig{Provider: "none"})
		require.NoError(t, err)
		assert.IsType(t, &NoopTracer{}, tracer)
	})

	t.Run("Unsupported provider", func(t *testing.T) {
		_, err := NewTracer(TracerConfig{ServiceName: "haloalign", Provider: "carrier-pigeon"})
		assert.Error(t, err)
	})
}

func TestSpanHelpers(t *testing.T) {
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	ctx, span := tp.Tracer("test").Start(context.Background(), "Trainer.Train")

	AddSpanEvent(ctx, "logging skipped", ExamplesAttr(8))
	RecordSpanError(ctx, errors.New("step failed"))
	span.End()

	ended := rec.Ended()
	require.Len(t, ended, 1)
	assert.Equal(t, codes.Error, ended[0].Status().Code)
	assert.Equal(t, "step failed", ended[0].Status().Description)

	names := make([]string, 0, len(ended[0].Events()))
	for _, ev := range ended[0].Events() {
		names = append(names, ev.Name)
	}
	assert.Contains(t, names, "logging skipped")
}

func TestHeadersCarrier(t *testing.T) {
	carrier := HeadersCarrier{}
	carrier.Set("traceparent", "00-abc-def-01")
	assert.Equal(t, "00-abc-def-01", carrier.Get("traceparent"))
	assert.Equal(t, []string{"traceparent"}, carrier.Keys())
}
