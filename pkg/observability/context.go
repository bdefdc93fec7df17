package observability

import "context"

// Contexter is a extension interface to retrieve current span from Go's context.
type Contexter interface {
	// SpanFromContext retrieves a Span from Go's context propagation
	// mechanism if found. If not found, returns a span that records nothing.
	SpanFromContext(ctx context.Context) Span
}

type enabledKey struct{}

// WithEnabled returns a copy of ctx carrying the tracing enablement decision.
// The parent context is left untouched so the previous state is back in effect
// as soon as the caller stops using the returned context.
func WithEnabled(ctx context.Context, enabled bool) context.Context {
	return context.WithValue(ctx, enabledKey{}, enabled)
}

// IsEnabled reports whether tracing is enabled in ctx. Tracing is enabled
// unless a decision to the contrary was stored with WithEnabled.
func IsEnabled(ctx context.Context) bool {
	if enabled, ok := ctx.Value(enabledKey{}).(bool); ok {
		return enabled
	}
	return true
}
