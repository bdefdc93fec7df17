package observability

import "context"

// Tracer is hubstep's tracer abstraction over the supported tracing backends.
type Tracer interface {
	// StartSpanFromContext creates and starts a span as a child of the span
	// found in ctx, or as a root span if there is none. Tags and kind provided
	// through opts are attached before the span is visible to anything else.
	// The returned Span's Context must be used for nested operations.
	StartSpanFromContext(ctx context.Context, name string, opts ...SpanOption) (Span, error)
	// WithEnabled returns a copy of ctx in which tracing is switched on or off
	// for every span started from it or its descendants.
	WithEnabled(ctx context.Context, enabled bool) context.Context
}
