package telemetry

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"

	"github.com/mjasion/balena-home/victron/pkg/config"
)

func TestParseHeaders(t *testing.T) {
	headers := parseHeaders("Authorization=Basic abc==, X-Scope-OrgID=home,broken,=empty")

	if len(headers) != 2 {
		t.Fatalf("Expected 2 headers, got %v", headers)
	}
	if headers["Authorization"] != "Basic abc==" {
		t.Errorf("Expected value with '=' preserved, got %q", headers["Authorization"])
	}
	if headers["X-Scope-OrgID"] != "home" {
		t.Errorf("Expected trimmed key, got %v", headers)
	}
}

func TestSignalHeaders(t *testing.T) {
	t.Setenv("OTEL_EXPORTER_OTLP_HEADERS", "shared=env")
	t.Setenv("OTEL_EXPORTER_OTLP_TRACES_HEADERS", "")

	if got := signalHeaders(map[string]string{"a": "1"}, map[string]string{"b": "2"}, "OTEL_EXPORTER_OTLP_TRACES_HEADERS"); got["a"] != "1" {
		t.Errorf("Expected signal config to win, got %v", got)
	}
	if got := signalHeaders(nil, map[string]string{"b": "2"}, "OTEL_EXPORTER_OTLP_TRACES_HEADERS"); got["b"] != "2" {
		t.Errorf("Expected shared config, got %v", got)
	}
	if got := signalHeaders(nil, nil, "OTEL_EXPORTER_OTLP_TRACES_HEADERS"); got["shared"] != "env" {
		t.Errorf("Expected shared env var, got %v", got)
	}
}

func TestIsLocal(t *testing.T) {
	tests := map[string]bool{
		"localhost:4318":       true,
		"127.0.0.1:4318":       true,
		"otlp.example.com:443": false,
		"":                     false,
	}
	for endpoint, want := range tests {
		if got := isLocal(endpoint); got != want {
			t.Errorf("isLocal(%q): expected %v, got %v", endpoint, want, got)
		}
	}
}

func TestInitProviders_Disabled(t *testing.T) {
	providers, err := InitProviders(context.Background(), &config.OpenTelemetryConfig{}, zap.NewNop())
	if err != nil || providers != nil {
		t.Errorf("Expected nil providers, got %v, %v", providers, err)
	}
	if err := providers.Shutdown(context.Background()); err != nil {
		t.Errorf("Expected nil shutdown to succeed, got %v", err)
	}
}

func TestTraceFields(t *testing.T) {
	logger := zap.NewNop()
	if fields := TraceFields(context.Background()); fields != nil {
		t.Errorf("Expected no fields without a span, got %v", fields)
	}
	if WithTraceContext(context.Background(), logger) != logger {
		t.Error("Expected the same logger without a span")
	}

	tp := trace.NewTracerProvider()
	defer tp.Shutdown(context.Background())
	ctx, span := tp.Tracer("test").Start(context.Background(), "ingest")
	defer span.End()

	fields := TraceFields(ctx)
	if len(fields) != 2 || fields[0].Key != "trace_id" || fields[1].Key != "span_id" {
		t.Errorf("Expected trace and span ids, got %v", fields)
	}
	if fields[0].String != span.SpanContext().TraceID().String() {
		t.Error("Expected trace id of the active span")
	}
}
