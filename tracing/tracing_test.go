package tracing

import (
	"context"
	"testing"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

func TestNewWithoutExporterStillProducesSpans(t *testing.T) {
	p, err := New("avalon-test", nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer p.Shutdown(context.Background())

	_, span := p.PipelineTracer().Start(context.Background(), "test-span")
	if !span.SpanContext().IsValid() {
		t.Fatalf("expected a valid span context even with no exporter configured")
	}
	span.End()
}

func TestPipelineAndACMETracersAreDistinctScopes(t *testing.T) {
	p, err := New("avalon-test", nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer p.Shutdown(context.Background())

	_, pipelineSpan := p.PipelineTracer().Start(context.Background(), "pipeline-span")
	defer pipelineSpan.End()
	_, acmeSpan := p.ACMETracer().Start(context.Background(), "acme-span")
	defer acmeSpan.End()

	if pipelineSpan.SpanContext().TraceID() == acmeSpan.SpanContext().TraceID() {
		t.Fatalf("spans started independently should not share a trace id")
	}
}

func TestShutdownWithoutExporterSucceeds(t *testing.T) {
	p, err := New("avalon-test", nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := p.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
}

var _ sdktrace.SpanExporter = (*noopExporter)(nil)

type noopExporter struct{}

func (noopExporter) ExportSpans(ctx context.Context, spans []sdktrace.ReadOnlySpan) error {
	return nil
}

func (noopExporter) Shutdown(ctx context.Context) error { return nil }

func TestNewWithExporterBatches(t *testing.T) {
	p, err := New("avalon-test", noopExporter{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer p.Shutdown(context.Background())

	_, span := p.PipelineTracer().Start(context.Background(), "span")
	span.End()
}
