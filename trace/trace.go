// Package trace provides tracing instrumentation for frame navigations and waits.
package trace

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

const tracerName = "k6frames"

// liveSpan is the span of the document currently committed in a frame.
// API call spans for the frame are parented on it.
type liveSpan struct {
	ctx  context.Context
	span trace.Span
}

// Tracer generates spans for frame navigations and the calls made against a frame.
type Tracer struct {
	trace.Tracer

	metadata []attribute.KeyValue

	liveSpansMu sync.Mutex
	liveSpans   map[string]*liveSpan
}

// NewTracer creates a new Tracer from the given TracerProvider.
func NewTracer(tp trace.TracerProvider, metadata map[string]string, options ...trace.TracerOption) *Tracer {
	return &Tracer{
		Tracer:    tp.Tracer(tracerName, options...),
		metadata:  buildMetadataAttributes(metadata),
		liveSpans: make(map[string]*liveSpan),
	}
}

// NewNoopTracer returns a Tracer that records nothing.
func NewNoopTracer() *Tracer {
	return NewTracer(noop.NewTracerProvider(), nil)
}

// Start overrides the underlying OTEL tracer method to include the tracer metadata.
func (t *Tracer) Start(
	ctx context.Context, spanName string, opts ...trace.SpanStartOption,
) (context.Context, trace.Span) {
	opts = append(opts, trace.WithAttributes(t.metadata...))
	return t.Tracer.Start(ctx, spanName, opts...)
}

// TraceAPICall starts a span for a call made against the frame identified by frameID.
// The span is a child of the frame's navigation span when there is one. It is the
// caller's responsibility to end it.
func (t *Tracer) TraceAPICall(
	ctx context.Context, frameID string, spanName string, opts ...trace.SpanStartOption,
) (context.Context, trace.Span) {
	t.liveSpansMu.Lock()
	ls := t.liveSpans[frameID]
	t.liveSpansMu.Unlock()

	opts = append(opts, trace.WithAttributes(attribute.String("frame.id", frameID)))
	if ls == nil {
		return t.Start(ctx, spanName, opts...)
	}
	return t.Start(ls.ctx, spanName, opts...)
}

// TraceNavigation records a new navigation span for frameID, ending the previous one.
func (t *Tracer) TraceNavigation(frameID, url string) {
	t.liveSpansMu.Lock()
	defer t.liveSpansMu.Unlock()

	if ls := t.liveSpans[frameID]; ls != nil {
		ls.span.End()
	}
	ls := &liveSpan{}
	ls.ctx, ls.span = t.Start(context.Background(), "navigation", trace.WithAttributes(
		attribute.String("frame.id", frameID),
		attribute.String("navigation.url", url),
	))
	t.liveSpans[frameID] = ls
}

// EndFrame ends the navigation span of a frame that went away.
func (t *Tracer) EndFrame(frameID string) {
	t.liveSpansMu.Lock()
	defer t.liveSpansMu.Unlock()

	if ls := t.liveSpans[frameID]; ls != nil {
		ls.span.End()
		delete(t.liveSpans, frameID)
	}
}

// End ends span, marking it as failed when err is not nil.
func End(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

func buildMetadataAttributes(metadata map[string]string) []attribute.KeyValue {
	meta := make([]attribute.KeyValue, 0, len(metadata))
	for mk, mv := range metadata {
		meta = append(meta, attribute.String(mk, mv))
	}

	return meta
}
