package observability

import "context"

// Span interface as returned by Tracer.StartSpanFromContext
type Span interface {
	// Context returns a context carrying this Span as the active span.
	Context() context.Context
	// TraceID returns the Span's trace identifier.
	TraceID() string
	// SetName updates the Span's name.
	SetName(string)
	// Tag sets Tag with given key and value to the Span. If key already exists in
	// the Span the value will be overridden.
	Tag(string, string)
	// Finish the Span and send to Reporter.
	Finish()
}

// SpanKind describes the role of a span in a trace.
type SpanKind int

const (
	SpanKindInternal SpanKind = iota
	SpanKindServer
	SpanKindClient
)

// String returns the conventional tag value for the kind.
func (k SpanKind) String() string {
	switch k {
	case SpanKindServer:
		return "server"
	case SpanKindClient:
		return "client"
	default:
		return "internal"
	}
}

// StartConfig holds the resolved SpanOptions. Backends use it to translate the
// options into their native start options.
type StartConfig struct {
	Kind SpanKind
	Tags Tags
}

// SpanOption configures span creation.
type SpanOption func(*StartConfig)

// WithKind sets the span kind.
func WithKind(kind SpanKind) SpanOption {
	return func(c *StartConfig) {
		c.Kind = kind
	}
}

// WithTags attaches tags to the span at creation time.
func WithTags(tags Tags) SpanOption {
	return func(c *StartConfig) {
		c.Tags = c.Tags.Merge(tags)
	}
}

// NewStartConfig resolves opts.
func NewStartConfig(opts ...SpanOption) StartConfig {
	var c StartConfig
	for _, opt := range opts {
		opt(&c)
	}
	return c
}

// NoopSpan returns a Span that records nothing. Its Context is ctx itself so
// anything started from it inherits the enablement state found in ctx.
func NoopSpan(ctx context.Context) Span {
	return noopSpan{ctx: ctx}
}

type noopSpan struct {
	ctx context.Context
}

func (s noopSpan) Context() context.Context { return s.ctx }
func (noopSpan) TraceID() string            { return "" }
func (noopSpan) SetName(string)             {}
func (noopSpan) Tag(string, string)         {}
func (noopSpan) Finish()                    {}
