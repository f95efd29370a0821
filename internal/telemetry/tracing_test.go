package telemetry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestSpanHelpers(t *testing.T) {
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))

	_, span := tp.Tracer("test").Start(context.Background(), "select")
	AddSpanAttributes(span, map[string]any{
		"program":  "m31",
		"tier":     2,
		"airmass":  1.4,
		"slew":     90 * time.Second,
		"start":    time.Date(2026, 3, 1, 2, 0, 0, 0, time.UTC),
		"ignored":  struct{}{},
		"feasible": true,
	})
	RecordError(span, nil)
	RecordError(span, errors.New("site unreachable"))
	span.End()

	ended := rec.Ended()
	if len(ended) != 1 {
		t.Fatalf("ended spans = %d", len(ended))
	}
	got := map[attribute.Key]attribute.Value{}
	for _, kv := range ended[0].Attributes() {
		got[kv.Key] = kv.Value
	}
	if len(got) != 6 {
		t.Fatalf("attributes = %v", got)
	}
	if got["slew"].AsFloat64() != 90 || got["start"].AsString() != "2026-03-01T02:00:00Z" || got["tier"].AsInt64() != 2 {
		t.Fatalf("attributes = %v", got)
	}
	if ended[0].Status().Code != codes.Error || len(ended[0].Events()) != 1 {
		t.Fatalf("status = %+v events = %d", ended[0].Status(), len(ended[0].Events()))
	}
}

func TestSamplerFor(t *testing.T) {
	tests := []struct {
		rate float64
		want string
	}{
		{1, "AlwaysOnSampler"},
		{2, "AlwaysOnSampler"},
		{0, "AlwaysOffSampler"},
		{0.25, "TraceIDRatioBased{0.25}"},
	}
	for _, tt := range tests {
		if got := samplerFor(tt.rate).Description(); got != tt.want {
			t.Errorf("samplerFor(%v) = %q, want %q", tt.rate, got, tt.want)
		}
	}
}

func TestDisabledTracer(t *testing.T) {
	tp, err := InitTracer(context.Background(), TracerConfig{ServiceName: "robobs"}, zerolog.Nop())
	if err != nil {
		t.Fatalf("init: %v", err)
	}
	if err := tp.Shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	_, span := StartSpan(context.Background(), "scheduler", "choose")
	if span.SpanContext().IsValid() {
		t.Fatal("disabled tracer produced a recording span")
	}
}
