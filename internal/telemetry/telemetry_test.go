package telemetry

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestInit_DisabledIsNoop(t *testing.T) {
	t.Parallel()

	tel, err := Init(context.Background(), Config{ServiceName: "gearguard"})
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	if tel.Enabled() {
		t.Fatalf("no collector must disable export")
	}
	ctx, span := tel.Tracer().Start(context.Background(), "noop")
	span.End()
	if TraceID(ctx) != "" {
		t.Fatalf("noop tracer must not produce trace ids")
	}
	if err := tel.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
}

func TestNewWithExporter_RecordsSpans(t *testing.T) {
	exp := tracetest.NewInMemoryExporter()
	tel, err := newWithExporter(Config{ServiceName: "gearguard", ServiceVersion: "test", Environment: "test"}, exp)
	if err != nil {
		t.Fatalf("newWithExporter: %v", err)
	}
	if !tel.Enabled() {
		t.Fatalf("want enabled")
	}

	ctx, span := tel.Tracer().Start(context.Background(), "store.execute")
	if TraceID(ctx) == "" {
		t.Fatalf("want trace id in ctx")
	}
	span.End()

	// the in-memory exporter drops its spans on shutdown, so flush first
	if err := tel.provider.ForceFlush(context.Background()); err != nil {
		t.Fatalf("ForceFlush: %v", err)
	}
	t.Cleanup(func() { _ = tel.Shutdown(context.Background()) })
	spans := exp.GetSpans()
	if len(spans) != 1 || spans[0].Name != "store.execute" {
		t.Fatalf("spans: %+v", spans)
	}
	var svc string
	for _, kv := range spans[0].Resource.Attributes() {
		if kv.Key == "service.name" {
			svc = kv.Value.AsString()
		}
	}
	if svc != "gearguard" {
		t.Fatalf("service.name = %q", svc)
	}
}
