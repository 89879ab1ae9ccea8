// Package telemetry provides OpenTelemetry tracing for batch delivery
// on the agent and batch ingest on the collector.
package telemetry

import (
	"context"
	"net/http"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// Tracer wraps an OpenTelemetry tracer with activity span helpers.
type Tracer struct {
	tracer trace.Tracer
	debug  bool
}

var (
	globalTracer *Tracer
	tracerMu     sync.RWMutex
)

// SetGlobalTracer sets the global tracer instance.
func SetGlobalTracer(t *Tracer) {
	tracerMu.Lock()
	defer tracerMu.Unlock()
	globalTracer = t
}

// GetTracer returns the global tracer, or a no-op tracer if not set.
func GetTracer() *Tracer {
	tracerMu.RLock()
	defer tracerMu.RUnlock()
	if globalTracer == nil {
		return NewNoopTracer()
	}
	return globalTracer
}

// NewTracer creates a tracer from the global provider.
func NewTracer(name string, debug bool) *Tracer {
	return &Tracer{
		tracer: otel.Tracer(name),
		debug:  debug,
	}
}

// NewNoopTracer returns a tracer whose spans are never recorded.
func NewNoopTracer() *Tracer {
	return &Tracer{tracer: noop.NewTracerProvider().Tracer("")}
}

// NewTracerFromProvider creates a tracer from an explicit provider.
func NewTracerFromProvider(tp trace.TracerProvider, name string, debug bool) *Tracer {
	return &Tracer{tracer: tp.Tracer(name), debug: debug}
}

// Debug returns whether per-type breakdowns are attached to spans.
func (t *Tracer) Debug() bool {
	return t.debug
}

// StartSpan starts a new span with the given name.
func (t *Tracer) StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, name, opts...)
}

// --- Flush spans (agent) ---

// FlushSpanOptions describes one delivery attempt.
type FlushSpanOptions struct {
	BatchID  string
	Events   int
	Bytes    int
	Trimmed  bool
	Reliable bool
	Requeued bool
	Types    map[string]int // debug only
}

// StartFlushSpan starts a client span around one batch delivery.
func (t *Tracer) StartFlushSpan(ctx context.Context, sessionID string) (context.Context, trace.Span) {
	ctx, span := t.tracer.Start(ctx, "activity.flush", trace.WithSpanKind(trace.SpanKindClient))
	if sessionID != "" {
		span.SetAttributes(attribute.String("activity.session_id", sessionID))
	}
	return ctx, span
}

// EndFlushSpan records the outcome of a delivery attempt and ends the span.
func (t *Tracer) EndFlushSpan(span trace.Span, opts FlushSpanOptions, err error) {
	attrs := []attribute.KeyValue{
		attribute.String("activity.batch_id", opts.BatchID),
		attribute.Int("activity.batch.events", opts.Events),
		attribute.Int("activity.batch.bytes", opts.Bytes),
		attribute.Bool("activity.batch.trimmed", opts.Trimmed),
		attribute.Bool("activity.batch.reliable", opts.Reliable),
		attribute.Bool("activity.batch.requeued", opts.Requeued),
	}
	if t.debug {
		for typ, n := range opts.Types {
			attrs = append(attrs, attribute.Int("activity.type."+typ, n))
		}
	}
	span.SetAttributes(attrs...)
	endSpan(span, err)
}

// --- Ingest spans (collector) ---

// IngestSpanOptions describes one stored batch.
type IngestSpanOptions struct {
	BatchID   string
	Source    string // "http" or "bus"
	Events    int
	Duplicate bool
}

// StartIngestSpan starts a server span around storing one batch.
func (t *Tracer) StartIngestSpan(ctx context.Context, source string) (context.Context, trace.Span) {
	ctx, span := t.tracer.Start(ctx, "activity.ingest", trace.WithSpanKind(trace.SpanKindServer))
	span.SetAttributes(attribute.String("activity.ingest.source", source))
	return ctx, span
}

// EndIngestSpan records the ingest outcome and ends the span.
func (t *Tracer) EndIngestSpan(span trace.Span, opts IngestSpanOptions, err error) {
	span.SetAttributes(
		attribute.String("activity.batch_id", opts.BatchID),
		attribute.Int("activity.batch.events", opts.Events),
		attribute.Bool("activity.batch.duplicate", opts.Duplicate),
	)
	endSpan(span, err)
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

// --- Context Propagation ---

// InjectHTTP writes the trace context of ctx into outgoing request headers.
func InjectHTTP(ctx context.Context, h http.Header) {
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(h))
}

// ExtractHTTP returns ctx carrying the trace context found in request headers.
func ExtractHTTP(ctx context.Context, h http.Header) context.Context {
	return otel.GetTextMapPropagator().Extract(ctx, propagation.HeaderCarrier(h))
}

// InjectContext injects trace context into a carrier such as bus headers.
func InjectContext(ctx context.Context, carrier propagation.TextMapCarrier) {
	otel.GetTextMapPropagator().Inject(ctx, carrier)
}

// ExtractContext extracts trace context from a carrier.
func ExtractContext(ctx context.Context, carrier propagation.TextMapCarrier) context.Context {
	return otel.GetTextMapPropagator().Extract(ctx, carrier)
}

// MapCarrier is a map-based TextMapCarrier, used with bus message headers.
type MapCarrier map[string]string

func (c MapCarrier) Get(key string) string {
	return c[key]
}

func (c MapCarrier) Set(key, value string) {
	c[key] = value
}

func (c MapCarrier) Keys() []string {
	keys := make([]string, 0, len(c))
	for k := range c {
		keys = append(keys, k)
	}
	return keys
}
