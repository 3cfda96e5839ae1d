// Package tracing builds the OpenTelemetry tracer shared by the
// scheduler and script host's per-job/per-invoke spans (§5's "Shared
// resources": tracing is an ambient concern the spec's Non-goals never
// exclude, carried the way the teacher carries one regardless).
//
// Grounded on engine/_teacher_telemetry's own enabled/noop tracer split
// (NewTracer(enabled bool)), reimplemented against the real
// go.opentelemetry.io/otel SDK instead of the teacher's hand-rolled
// Span/Tracer interfaces, since C8/C7 already depend on
// go.opentelemetry.io/otel/trace directly for their spans.
package tracing

import (
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// New returns a Tracer for serviceName. When enabled is false it returns
// the no-op tracer, matching the teacher's NewTracer(false) behavior.
func New(serviceName string, enabled bool) trace.Tracer {
	if !enabled {
		return noop.NewTracerProvider().Tracer(serviceName)
	}
	tp := sdktrace.NewTracerProvider()
	return tp.Tracer(serviceName)
}
