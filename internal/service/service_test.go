package service

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/basvanbeek/hubstep/pkg"
	"github.com/basvanbeek/hubstep/pkg/observability"
	"github.com/basvanbeek/hubstep/pkg/observability/middleware"
	"github.com/basvanbeek/hubstep/pkg/observability/recorder"
)

type parentKey struct{}

// instrumenter serves spans from an in-memory recorder and marks requests that
// passed through Extract.
type instrumenter struct {
	rec          *recorder.Tracer
	transportErr error
}

func (i *instrumenter) Tracer() observability.Tracer { return i.rec }

func (i *instrumenter) SpanFromContext(ctx context.Context) observability.Span {
	return i.rec.SpanFromContext(ctx)
}

func (i *instrumenter) Extract(r *http.Request) context.Context {
	return context.WithValue(r.Context(), parentKey{}, true)
}

func (i *instrumenter) Transport(t http.RoundTripper) (http.RoundTripper, error) {
	return t, i.transportErr
}

func newEndpoints(t *testing.T) (*Endpoints, *recorder.Tracer) {
	t.Helper()
	rec := recorder.New()
	reg := prometheus.NewRegistry()
	policy := NewPolicy(reg)
	policy.ForceHeader = "X-Force-Trace"
	require.NoError(t, policy.PreRun())

	ep := &Endpoints{
		Instrumenter:    &instrumenter{rec: rec},
		Policy:          policy,
		Gatherer:        reg,
		ServiceName:     "svc-a",
		AssignRequestID: true,
	}
	require.NoError(t, ep.Validate())
	require.NoError(t, ep.PreRun())
	return ep, rec
}

func serve(ep *Endpoints, r *http.Request) (*httptest.ResponseRecorder, response) {
	w := httptest.NewRecorder()
	ep.Handler().ServeHTTP(w, r)
	var res response
	_ = json.Unmarshal(w.Body.Bytes(), &res)
	return w, res
}

func TestEndpointsPreRun(t *testing.T) {
	rec := recorder.New()
	tests := []struct {
		name     string
		ep       *Endpoints
		expected error
	}{
		{"no instrumenter", &Endpoints{Policy: NewPolicy(nil)}, errNoTracer},
		{"no policy", &Endpoints{Instrumenter: &instrumenter{rec: rec}}, errNoPolicy},
		{
			"transport failure",
			&Endpoints{Instrumenter: &instrumenter{rec: rec, transportErr: observability.ErrNotStarted}, Policy: NewPolicy(nil)},
			observability.ErrNotStarted,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, tt.ep.PreRun(), tt.expected)
		})
	}
}

func TestEndpointsValidate(t *testing.T) {
	ep := &Endpoints{Duration: -1}
	assert.True(t, pkg.HasError(ep.Validate(), errDuration))
}

func TestStatusIsTagged(t *testing.T) {
	ep, rec := newEndpoints(t)

	r := httptest.NewRequest(http.MethodGet, "https://svc-a/status/503", nil)
	w, res := serve(ep, r)

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	require.Len(t, rec.Spans(), 1)
	span := rec.Spans()[0]

	assert.Equal(t, "net/http GET", span.Name())
	assert.Equal(t, 1, span.Finished())
	assert.Equal(t, span.TraceID(), res.TraceID)
	assert.Equal(t, "503", span.Tags()[middleware.TagStatusCode])
	assert.Equal(t, "https://svc-a/status/503", span.Tags()[middleware.TagHTTPURL])

	// the assigned request id reaches both the span and the response
	id := w.Header().Get(middleware.RequestIDHeader)
	require.NotEmpty(t, id)
	assert.Equal(t, id, span.Tags()[middleware.TagRequestID])
	assert.Equal(t, id, res.RequestID)
}

func TestStatusOutOfRange(t *testing.T) {
	ep, rec := newEndpoints(t)

	for _, code := range []string{"99", "600", "abc"} {
		w, res := serve(ep, httptest.NewRequest(http.MethodGet, "/status/"+code, nil))
		assert.Equal(t, http.StatusBadRequest, w.Code, code)
		assert.Equal(t, errStatusCode, res.Error, code)
	}
	for _, span := range rec.Spans() {
		assert.Equal(t, "400", span.Tags()[middleware.TagStatusCode])
	}
}

func TestSkippedPathsAreNotTraced(t *testing.T) {
	ep, rec := newEndpoints(t)

	w, res := serve(ep, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", res.Message)
	assert.Empty(t, res.TraceID)
	assert.Empty(t, rec.Spans())
	assert.Equal(t, []bool{false}, rec.Decisions())

	r := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	r.Header.Set("X-Force-Trace", "true")
	_, res = serve(ep, r)
	assert.NotEmpty(t, res.TraceID)
	assert.Len(t, rec.Spans(), 1)
}

func TestWorkNestsSpans(t *testing.T) {
	ep, rec := newEndpoints(t)

	w, _ := serve(ep, httptest.NewRequest(http.MethodGet, "/work/3", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	spans := rec.Spans()
	require.Len(t, spans, 4)
	for i, span := range spans {
		assert.Equal(t, 1, span.Finished(), span.Name())
		assert.Equal(t, spans[0].TraceID(), span.TraceID())
		if i > 0 {
			assert.Same(t, spans[i-1], span.Parent())
			assert.Equal(t, observability.SpanKindInternal, span.Kind())
		}
	}
	assert.Equal(t, "work-2", spans[3].Name())

	w, _ = serve(ep, httptest.NewRequest(http.MethodGet, "/work/33", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestPanicFinishesSpan(t *testing.T) {
	ep, rec := newEndpoints(t)

	assert.PanicsWithValue(t, "panic requested: boom", func() {
		serve(ep, httptest.NewRequest(http.MethodGet, "/panic/boom", nil))
	})
	require.Len(t, rec.Spans(), 1)
	span := rec.Spans()[0]
	assert.Equal(t, 1, span.Finished())
	_, tagged := span.Tags()[middleware.TagStatusCode]
	assert.False(t, tagged)
}

func TestEcho(t *testing.T) {
	ep, _ := newEndpoints(t)

	r := httptest.NewRequest(http.MethodGet, "/hello?x=1", nil)
	r.Header.Set("X-Custom", "value")
	w, res := serve(ep, r)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "svc-a", res.Service)
	assert.Equal(t, "GET http://example.com/hello?x=1", res.Message)
	assert.Equal(t, "value", res.Headers.Get("X-Custom"))
}

func TestMetrics(t *testing.T) {
	ep, _ := newEndpoints(t)

	serve(ep, httptest.NewRequest(http.MethodGet, "/", nil))
	serve(ep, httptest.NewRequest(http.MethodGet, "/status/200", nil))

	w := httptest.NewRecorder()
	ep.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `hubstep_trace_decisions_total{enabled="true"} 2`)
}

func TestProxy(t *testing.T) {
	var (
		path      string
		proxiedBy string
	)
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		proxiedBy = r.Header.Get("Proxied-By")
		w.WriteHeader(http.StatusCreated)
		_, _ = io.WriteString(w, "created")
	}))
	defer upstream.Close()

	ep, rec := newEndpoints(t)

	host := strings.TrimPrefix(upstream.URL, "http://")
	r := httptest.NewRequest(http.MethodGet, "/proxy/"+host+"/status/201", nil)
	w := httptest.NewRecorder()
	ep.Handler().ServeHTTP(w, r)

	assert.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "created", w.Body.String())
	assert.Equal(t, "/status/201", path)
	assert.Equal(t, "svc-a", proxiedBy)
	require.Len(t, rec.Spans(), 1)
	assert.Equal(t, "201", rec.Spans()[0].Tags()[middleware.TagStatusCode])
}

func TestProxyUpstreamDown(t *testing.T) {
	upstream := httptest.NewServer(http.NotFoundHandler())
	host := strings.TrimPrefix(upstream.URL, "http://")
	upstream.Close()

	ep, _ := newEndpoints(t)
	w, res := serve(ep, httptest.NewRequest(http.MethodGet, "/proxy/"+host+"/", nil))

	assert.Equal(t, http.StatusBadGateway, w.Code)
	assert.Equal(t, errUpstream, res.Error)
}

func TestExtractRunsBeforeInterceptor(t *testing.T) {
	rec := recorder.New()
	policy := NewPolicy(prometheus.NewRegistry())
	require.NoError(t, policy.PreRun())

	var extracted bool
	tracer := &spyTracer{Tracer: rec, onStart: func(ctx context.Context) {
		extracted, _ = ctx.Value(parentKey{}).(bool)
	}}
	ep := &Endpoints{
		Instrumenter: &spyInstrumenter{instrumenter{rec: rec}, tracer},
		Policy:       policy,
		Gatherer:     prometheus.NewRegistry(),
	}
	require.NoError(t, ep.PreRun())

	serve(ep, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.True(t, extracted)
}

type spyTracer struct {
	*recorder.Tracer
	onStart func(ctx context.Context)
}

func (s *spyTracer) StartSpanFromContext(ctx context.Context, name string, opts ...observability.SpanOption) (observability.Span, error) {
	if s.onStart != nil {
		s.onStart(ctx)
		s.onStart = nil
	}
	return s.Tracer.StartSpanFromContext(ctx, name, opts...)
}

type spyInstrumenter struct {
	instrumenter
	tracer observability.Tracer
}

func (s *spyInstrumenter) Tracer() observability.Tracer { return s.tracer }
