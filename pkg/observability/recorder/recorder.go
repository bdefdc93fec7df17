// Package recorder provides an in-memory observability.Tracer which captures
// every span operation so it can be inspected in tests.
package recorder

import (
	"context"
	"strconv"
	"sync"

	"github.com/basvanbeek/hubstep/pkg/observability"
)

var (
	_ observability.Tracer    = (*Tracer)(nil)
	_ observability.Contexter = (*Tracer)(nil)
)

// TagEvent is a single Tag call observed on a span.
type TagEvent struct {
	Key   string
	Value string

	// AfterFinish is set when the tag was set on an already finished span.
	AfterFinish bool
}

// Span is a recorded span.
type Span struct {
	mtx      sync.Mutex
	ctx      context.Context
	name     string
	kind     observability.SpanKind
	parent   *Span
	traceID  string
	start    observability.Tags
	events   []TagEvent
	finishes int
}

// Context implements observability.Span.
func (s *Span) Context() context.Context { return s.ctx }

// TraceID implements observability.Span.
func (s *Span) TraceID() string { return s.traceID }

// SetName implements observability.Span.
func (s *Span) SetName(name string) {
	s.mtx.Lock()
	s.name = name
	s.mtx.Unlock()
}

// Tag implements observability.Span.
func (s *Span) Tag(key, value string) {
	s.mtx.Lock()
	s.events = append(s.events, TagEvent{Key: key, Value: value, AfterFinish: s.finishes > 0})
	s.mtx.Unlock()
}

// Finish implements observability.Span.
func (s *Span) Finish() {
	s.mtx.Lock()
	s.finishes++
	s.mtx.Unlock()
}

// Name returns the span name.
func (s *Span) Name() string {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	return s.name
}

// Kind returns the kind the span was started with.
func (s *Span) Kind() observability.SpanKind { return s.kind }

// Parent returns the parent span or nil for root spans.
func (s *Span) Parent() *Span { return s.parent }

// StartTags returns the tags provided when the span was started.
func (s *Span) StartTags() observability.Tags { return s.start }

// TagEvents returns the Tag calls made after the span was started.
func (s *Span) TagEvents() []TagEvent {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	out := make([]TagEvent, len(s.events))
	copy(out, s.events)
	return out
}

// Tags returns the start tags overlaid with later Tag calls.
func (s *Span) Tags() map[string]string {
	tags := s.start.Map()
	for _, e := range s.TagEvents() {
		tags[e.Key] = e.Value
	}
	return tags
}

// Finished returns how many times Finish was called.
func (s *Span) Finished() int {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	return s.finishes
}

type spanKey struct{}

// Tracer is an in-memory observability.Tracer. Spans started while tracing is
// disabled in the context are not recorded.
type Tracer struct {
	// StartErr, if set, is returned by every StartSpanFromContext call.
	StartErr error

	mtx       sync.Mutex
	spans     []*Span
	decisions []bool
	nextID    int
}

// New returns an empty Tracer.
func New() *Tracer {
	return &Tracer{}
}

// StartSpanFromContext implements observability.Tracer.
func (t *Tracer) StartSpanFromContext(ctx context.Context, name string, opts ...observability.SpanOption) (observability.Span, error) {
	if t.StartErr != nil {
		return nil, t.StartErr
	}
	if !observability.IsEnabled(ctx) {
		return observability.NoopSpan(ctx), nil
	}
	cfg := observability.NewStartConfig(opts...)

	parent, _ := ctx.Value(spanKey{}).(*Span)

	t.mtx.Lock()
	t.nextID++
	span := &Span{
		name:    name,
		kind:    cfg.Kind,
		parent:  parent,
		start:   cfg.Tags,
		traceID: traceID(parent, t.nextID),
	}
	t.spans = append(t.spans, span)
	t.mtx.Unlock()

	span.ctx = context.WithValue(ctx, spanKey{}, span)
	return span, nil
}

// WithEnabled implements observability.Tracer and records the decision.
func (t *Tracer) WithEnabled(ctx context.Context, enabled bool) context.Context {
	t.mtx.Lock()
	t.decisions = append(t.decisions, enabled)
	t.mtx.Unlock()
	return observability.WithEnabled(ctx, enabled)
}

// SpanFromContext implements observability.Contexter.
func (t *Tracer) SpanFromContext(ctx context.Context) observability.Span {
	if span, ok := ctx.Value(spanKey{}).(*Span); ok {
		return span
	}
	return observability.NoopSpan(ctx)
}

// Spans returns the recorded spans in start order.
func (t *Tracer) Spans() []*Span {
	t.mtx.Lock()
	defer t.mtx.Unlock()
	out := make([]*Span, len(t.spans))
	copy(out, t.spans)
	return out
}

// Decisions returns the enablement values passed to WithEnabled in call order.
func (t *Tracer) Decisions() []bool {
	t.mtx.Lock()
	defer t.mtx.Unlock()
	out := make([]bool, len(t.decisions))
	copy(out, t.decisions)
	return out
}

// Reset clears all recorded state.
func (t *Tracer) Reset() {
	t.mtx.Lock()
	t.spans = nil
	t.decisions = nil
	t.mtx.Unlock()
}

func traceID(parent *Span, id int) string {
	if parent != nil {
		return parent.traceID
	}
	return "trace-" + strconv.Itoa(id)
}
