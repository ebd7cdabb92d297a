package tandem

import "context"

// Tracer creates spans for channel turns, branches, workers, and compaction.
// The observer package provides an OTEL-backed implementation via NewTracer().
// When no Tracer is configured, span creation is skipped (nil check).
type Tracer interface {
	// Start creates a new span with the given name and optional attributes.
	// Callers must call Span.End() when the operation completes.
	Start(ctx context.Context, name string, attrs ...SpanAttr) (context.Context, Span)
}

// Span represents a traced operation.
type Span interface {
	SetAttr(attrs ...SpanAttr)
	// Event records a named event on the span timeline.
	Event(name string, attrs ...SpanAttr)
	// Error records an error on the span and marks it as failed.
	Error(err error)
	// End completes the span. Must be called exactly once.
	End()
}

// SpanAttr is a key-value attribute attached to a span or event.
type SpanAttr struct {
	Key   string
	Value any
}

func StringAttr(k, v string) SpanAttr { return SpanAttr{Key: k, Value: v} }

func IntAttr(k string, v int) SpanAttr { return SpanAttr{Key: k, Value: v} }

func BoolAttr(k string, v bool) SpanAttr { return SpanAttr{Key: k, Value: v} }

func Float64Attr(k string, v float64) SpanAttr { return SpanAttr{Key: k, Value: v} }

// startSpan starts a span when t is non-nil. The returned span is never nil.
func startSpan(ctx context.Context, t Tracer, name string, attrs ...SpanAttr) (context.Context, Span) {
	if t == nil {
		return ctx, noopSpan{}
	}
	return t.Start(ctx, name, attrs...)
}

type noopSpan struct{}

func (noopSpan) SetAttr(...SpanAttr)       {}
func (noopSpan) Event(string, ...SpanAttr) {}
func (noopSpan) Error(error)               {}
func (noopSpan) End()                      {}
