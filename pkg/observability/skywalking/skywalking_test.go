package skywalking_test

import (
	"context"
	"testing"

	"github.com/SkyAPM/go2sky/reporter"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/basvanbeek/hubstep/pkg"
	"github.com/basvanbeek/hubstep/pkg/observability"
	"github.com/basvanbeek/hubstep/pkg/observability/skywalking"
)

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		service skywalking.Service
		target  error
		valid   bool
	}{
		{"ok", skywalking.Service{Servicename: "svc", ServiceInstanceName: "svc-1", Address: "oap:11800", SampleRate: 1}, nil, true},
		{"bad address", skywalking.Service{Servicename: "svc", ServiceInstanceName: "svc-1", Address: "oap", SampleRate: 1}, nil, false},
		{"no instance", skywalking.Service{Servicename: "svc", Address: "oap:11800", SampleRate: 1}, pkg.ErrRequired, false},
		{"bad sample rate", skywalking.Service{Servicename: "svc", ServiceInstanceName: "svc-1", Address: "oap:11800", SampleRate: 1.5}, nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.service.Validate()
			if tt.valid {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			if tt.target != nil {
				assert.True(t, pkg.HasError(err, tt.target))
			}
		})
	}
}

func TestFlagSetDefaults(t *testing.T) {
	s := &skywalking.Service{Servicename: "svc"}
	_ = s.FlagSet()
	assert.Equal(t, "svc", s.ServiceInstanceName)
	assert.Equal(t, 1.0, s.SampleRate)
	assert.NoError(t, s.Validate())
}

func TestNotStarted(t *testing.T) {
	s := &skywalking.Service{}
	_, err := s.Tracer().StartSpanFromContext(context.Background(), "op")
	assert.ErrorIs(t, err, observability.ErrNotStarted)
	_, err = s.Transport(nil)
	assert.ErrorIs(t, err, observability.ErrNotStarted)
}

func TestSpans(t *testing.T) {
	rep, err := reporter.NewLogReporter()
	require.NoError(t, err)

	s := &skywalking.Service{
		Servicename:         "hubstep-test",
		ServiceInstanceName: "hubstep-test-1",
		SampleRate:          1,
		Reporter:            rep,
	}
	require.NoError(t, s.Validate())
	require.NoError(t, s.PreRun())
	defer s.GracefulStop()

	tracer := s.Tracer()

	span, err := tracer.StartSpanFromContext(context.Background(), "net/http GET",
		observability.WithKind(observability.SpanKindServer),
		observability.WithTags(observability.NewTags(observability.Tag{Key: "component", Value: "net/http"})),
	)
	require.NoError(t, err)
	assert.NotEmpty(t, span.TraceID())

	child, err := tracer.StartSpanFromContext(span.Context(), "child")
	require.NoError(t, err)
	assert.Equal(t, span.TraceID(), child.TraceID())
	child.Finish()
	span.Finish()

	disabled, err := tracer.StartSpanFromContext(tracer.WithEnabled(context.Background(), false), "ignored")
	require.NoError(t, err)
	assert.Empty(t, disabled.TraceID())
	disabled.Finish()
}
