// Copyright (c) Bas van Beek 2022.
// Copyright (c) Tetrate, Inc 2021.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package otel provides an observability.Instrumenter backed by the
// OpenTelemetry SDK exporting over OTLP/HTTP.
package otel

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"path"
	"time"

	"github.com/tetratelabs/multierror"
	"github.com/tetratelabs/run"
	"github.com/tetratelabs/run/pkg/version"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"

	"github.com/basvanbeek/hubstep/pkg"
	"github.com/basvanbeek/hubstep/pkg/observability"
)

// flags
const (
	ExporterEndpoint = "otel-exporter-endpoint"
	LocalServicename = "otel-local-servicename"
	SampleRate       = "otel-sample-rate"
)

const (
	// default configuration values
	defaultExporterAddr = "http://otel-collector:4318/v1/traces"
	defaultSampleRate   = 1.0

	instrumentationName = "github.com/basvanbeek/hubstep"

	errAbsoluteURL pkg.Error = "expected an absolute URL"
	errSampleRate  pkg.Error = "expected a sample rate between 0.0 and 1.0"
)

// Service implements run.GroupService
type Service struct {
	Servicename string
	Address     string
	SampleRate  float64

	// Exporter, if set, replaces the OTLP exporter and receives spans
	// synchronously as they end.
	Exporter sdktrace.SpanExporter

	provider   *sdktrace.TracerProvider
	tracer     trace.Tracer
	propagator propagation.TextMapPropagator
	closer     chan error
}

// static compile time run interfaces validation
var (
	_ run.Config                 = (*Service)(nil)
	_ run.PreRunner              = (*Service)(nil)
	_ run.Service                = (*Service)(nil)
	_ observability.Instrumenter = (*Service)(nil)
)

// Name implements run.Unit.
func (s *Service) Name() string {
	return observability.OtelInstrumenter
}

// GroupName implements run.Namer so the reported service name defaults to the
// name of the run.Group.
func (s *Service) GroupName(name string) {
	if s.Servicename == "" {
		s.Servicename = name
	}
}

// FlagSet implements run.Config
func (s *Service) FlagSet() *run.FlagSet {
	if s.Address == "" {
		s.Address = defaultExporterAddr
	}
	if s.Servicename == "" {
		s.Servicename = path.Base(os.Args[0])
	}
	if s.SampleRate < 0 {
		s.SampleRate = 0.0
	} else if s.SampleRate == 0.0 {
		s.SampleRate = defaultSampleRate
	}

	flags := run.NewFlagSet("OpenTelemetry Tracer Config")

	flags.StringVar(&s.Address, ExporterEndpoint, s.Address,
		`Full URL of the OTLP/HTTP traces endpoint`)
	flags.StringVar(&s.Servicename, LocalServicename, s.Servicename,
		`Local ServiceName to report`)
	flags.Float64Var(&s.SampleRate, SampleRate, s.SampleRate,
		`Trace id ratio sample rate for root spans, between never (0.0) and always (1.0)`)

	return flags
}

// Validate implements run.Config
func (s *Service) Validate() error {
	var mErr error

	if s.Exporter == nil {
		if u, err := url.Parse(s.Address); err != nil {
			mErr = multierror.Append(mErr,
				fmt.Errorf(pkg.FlagErr, ExporterEndpoint, err))
		} else if u.Scheme == "" || u.Host == "" {
			mErr = multierror.Append(mErr,
				fmt.Errorf(pkg.FlagErr, ExporterEndpoint, errAbsoluteURL))
		}
	}
	if s.Servicename == "" {
		mErr = multierror.Append(mErr,
			fmt.Errorf(pkg.FlagErr, LocalServicename, pkg.ErrRequired))
	}
	if s.SampleRate < 0 || s.SampleRate > 1 {
		mErr = multierror.Append(mErr,
			fmt.Errorf(pkg.FlagErr, SampleRate, errSampleRate))
	}

	return mErr
}

// PreRun implements run.PreRunner
func (s *Service) PreRun() error {
	res := resource.NewSchemaless(
		attribute.String("service.name", s.Servicename),
		attribute.String(observability.VersionTag, version.Parse()),
	)
	opts := []sdktrace.TracerProviderOption{
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(s.SampleRate))),
	}

	if s.Exporter != nil {
		opts = append(opts, sdktrace.WithSyncer(s.Exporter))
	} else {
		exp, err := otlptracehttp.New(context.Background(), otlptracehttp.WithEndpointURL(s.Address))
		if err != nil {
			return err
		}
		opts = append(opts, sdktrace.WithBatcher(exp))
	}

	s.provider = sdktrace.NewTracerProvider(opts...)
	s.tracer = s.provider.Tracer(instrumentationName, trace.WithInstrumentationVersion(version.Parse()))
	s.propagator = propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	)
	s.closer = make(chan error)

	return nil
}

// Serve implements run.GroupService
func (s *Service) Serve() error {
	return <-s.closer
}

// GracefulStop implements run.GroupService. Pending spans are flushed to the
// exporter before it is shut down.
func (s *Service) GracefulStop() {
	close(s.closer)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = s.provider.Shutdown(ctx)
}

type traceAdapter struct {
	delegate trace.Tracer
}

type spanAdapter struct {
	delegate trace.Span
	ctx      context.Context
}

// Context implements observability.Span
func (s *spanAdapter) Context() context.Context {
	return s.ctx
}

// TraceID implements observability.Span
func (s *spanAdapter) TraceID() string {
	return s.delegate.SpanContext().TraceID().String()
}

// SetName implements observability.Span
func (s *spanAdapter) SetName(name string) {
	s.delegate.SetName(name)
}

// Tag implements observability.Span
func (s *spanAdapter) Tag(key string, value string) {
	s.delegate.SetAttributes(attribute.String(key, value))
}

// Finish implements observability.Span
func (s *spanAdapter) Finish() {
	s.delegate.End()
}

// StartSpanFromContext implements observability.Tracer
func (t *traceAdapter) StartSpanFromContext(ctx context.Context, name string, opts ...observability.SpanOption) (observability.Span, error) {
	if t.delegate == nil {
		return nil, observability.ErrNotStarted
	}
	if !observability.IsEnabled(ctx) {
		return observability.NoopSpan(ctx), nil
	}
	cfg := observability.NewStartConfig(opts...)

	attrs := make([]attribute.KeyValue, 0, cfg.Tags.Len())
	cfg.Tags.Each(func(key, value string) {
		attrs = append(attrs, attribute.String(key, value))
	})

	ctx, span := t.delegate.Start(ctx, name,
		trace.WithSpanKind(kind(cfg.Kind)),
		trace.WithAttributes(attrs...),
	)
	return &spanAdapter{span, ctx}, nil
}

// WithEnabled implements observability.Tracer
func (t *traceAdapter) WithEnabled(ctx context.Context, enabled bool) context.Context {
	return observability.WithEnabled(ctx, enabled)
}

func kind(k observability.SpanKind) trace.SpanKind {
	switch k {
	case observability.SpanKindServer:
		return trace.SpanKindServer
	case observability.SpanKindClient:
		return trace.SpanKindClient
	default:
		return trace.SpanKindInternal
	}
}

// SpanFromContext implements observability.Contexter
func (s *Service) SpanFromContext(ctx context.Context) observability.Span {
	span := trace.SpanFromContext(ctx)
	if !span.SpanContext().IsValid() {
		return observability.NoopSpan(ctx)
	}
	return &spanAdapter{span, ctx}
}

// Tracer implements observability.Tracerer
func (s *Service) Tracer() observability.Tracer {
	return &traceAdapter{delegate: s.tracer}
}

// Extract implements observability.Extractor using W3C trace context and
// baggage headers.
func (s *Service) Extract(r *http.Request) context.Context {
	if s.propagator == nil {
		return r.Context()
	}
	return s.propagator.Extract(r.Context(), propagation.HeaderCarrier(r.Header))
}

// Transport implements observability.Transporter
func (s *Service) Transport(transport http.RoundTripper) (http.RoundTripper, error) {
	if s.provider == nil {
		return nil, observability.ErrNotStarted
	}
	if transport == nil {
		transport = http.DefaultTransport
	}
	traced := otelhttp.NewTransport(transport,
		otelhttp.WithTracerProvider(s.provider),
		otelhttp.WithPropagators(s.propagator),
	)
	return observability.EnabledTransport(traced, transport), nil
}
