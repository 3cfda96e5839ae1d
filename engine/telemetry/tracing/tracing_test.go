package tracing

import (
	"context"
	"testing"
)

func TestNoopTracerStartsInertSpan(t *testing.T) {
	tr := New("test", false)
	ctx, span := tr.Start(context.Background(), "op")
	if ctx == nil || span == nil {
		t.Fatalf("expected span and ctx")
	}
	if span.SpanContext().IsValid() {
		t.Fatalf("expected an invalid (no-op) span context")
	}
	span.End()
}

func TestEnabledTracerProducesValidSpanContext(t *testing.T) {
	tr := New("test", true)
	_, span := tr.Start(context.Background(), "root")
	if !span.SpanContext().IsValid() {
		t.Fatalf("expected a valid span context")
	}
	span.End()
}
