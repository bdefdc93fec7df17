package observability_test

import (
	"context"
	"testing"

	"github.com/basvanbeek/hubstep/pkg/observability"
)

func TestEnabledContext(t *testing.T) {
	root := context.Background()
	if !observability.IsEnabled(root) {
		t.Error("expected tracing to be enabled by default")
	}

	off := observability.WithEnabled(root, false)
	on := observability.WithEnabled(off, true)

	tests := []struct {
		name     string
		ctx      context.Context
		expected bool
	}{
		{"root", root, true},
		{"disabled", off, false},
		{"re-enabled", on, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := observability.IsEnabled(tt.ctx); got != tt.expected {
				t.Errorf("expected %t, got %t", tt.expected, got)
			}
		})
	}
}

func TestNoopSpan(t *testing.T) {
	ctx := observability.WithEnabled(context.Background(), false)
	span := observability.NoopSpan(ctx)
	span.SetName("x")
	span.Tag("k", "v")
	span.Finish()

	if span.Context() != ctx {
		t.Error("expected noop span to carry the provided context")
	}
	if span.TraceID() != "" {
		t.Errorf("expected empty trace id, got %q", span.TraceID())
	}
}

func TestStartConfig(t *testing.T) {
	cfg := observability.NewStartConfig(
		observability.WithKind(observability.SpanKindClient),
		observability.WithTags(observability.NewTags(observability.Tag{Key: "a", Value: "1"})),
		observability.WithTags(observability.NewTags(observability.Tag{Key: "b", Value: "2"})),
	)
	if cfg.Kind != observability.SpanKindClient {
		t.Errorf("expected %s, got %s", observability.SpanKindClient, cfg.Kind)
	}
	if cfg.Tags.Len() != 2 {
		t.Errorf("expected 2 tags, got %d", cfg.Tags.Len())
	}
}
