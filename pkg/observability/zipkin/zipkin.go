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

// Package zipkin provides an observability.Instrumenter backed by a Zipkin
// tracer.
package zipkin

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"os"
	"path"
	"time"

	"github.com/openzipkin/zipkin-go"
	zmw "github.com/openzipkin/zipkin-go/middleware/http"
	"github.com/openzipkin/zipkin-go/model"
	"github.com/openzipkin/zipkin-go/propagation/b3"
	"github.com/openzipkin/zipkin-go/reporter"
	zrpr "github.com/openzipkin/zipkin-go/reporter/http"
	"github.com/tetratelabs/multierror"
	"github.com/tetratelabs/run"
	"github.com/tetratelabs/run/pkg/version"

	"github.com/basvanbeek/hubstep/pkg"
	"github.com/basvanbeek/hubstep/pkg/observability"
)

// flags
const (
	ReporterEndpoint = "zipkin-reporter-endpoint"
	LocalServicename = "zipkin-local-servicename"
	LocalHostport    = "zipkin-local-hostport"
	SinglehostSpans  = "zipkin-singlehost-spans"
	SampleRate       = "zipkin-sample-rate"
)

const (
	// default configuration values
	defaultReporterAddr = "http://zipkin:9411/api/v2/spans"
	defaultSampleRate   = 1.0
)

// Service implements run.GroupService
type Service struct {
	Servicename     string
	LocalHostport   string
	Address         string
	SampleRate      float64
	Reporter        reporter.Reporter
	SingleHostSpans bool

	tracer       *zipkin.Tracer
	ownsReporter bool
	closer       chan error
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
	return observability.ZipkinInstrumenter
}

// GroupName implements run.Namer so the Zipkin local endpoint service name
// defaults to the name of the run.Group if not set before calling Group's Run
// or RunConfig.
func (s *Service) GroupName(name string) {
	if s.Servicename == "" {
		s.Servicename = name
	}
}

// FlagSet implements run.Config
func (s *Service) FlagSet() *run.FlagSet {
	if s.Address == "" {
		s.Address = defaultReporterAddr
	}
	if s.Servicename == "" {
		s.Servicename = path.Base(os.Args[0])
	}
	if s.SampleRate < 0 {
		s.SampleRate = 0.0
	} else if s.SampleRate == 0.0 {
		s.SampleRate = defaultSampleRate
	}

	flags := run.NewFlagSet("Zipkin Tracer Config")

	flags.StringVar(&s.Address, ReporterEndpoint, s.Address,
		`Full address, including URI, of the Zipkin HTTP collector`)
	flags.StringVar(&s.Servicename, LocalServicename, s.Servicename,
		`Local ServiceName to report`)
	flags.StringVar(&s.LocalHostport, LocalHostport, s.LocalHostport,
		`Local ip:port to report`)
	flags.BoolVar(&s.SingleHostSpans, SinglehostSpans, s.SingleHostSpans,
		`Do not use Zipkin RPC shared spans`)
	flags.Float64Var(&s.SampleRate, SampleRate, s.SampleRate,
		`Zipkin sample rate for root spans, between never (0.0) and always (1.0)`)

	return flags
}

// Validate implements run.Config
func (s *Service) Validate() error {
	var mErr error

	if s.Reporter == nil {
		if u, err := url.Parse(s.Address); err != nil {
			mErr = multierror.Append(mErr,
				fmt.Errorf(pkg.FlagErr, ReporterEndpoint, err))
		} else if u.Scheme == "" || u.Host == "" {
			mErr = multierror.Append(mErr,
				fmt.Errorf(pkg.FlagErr, ReporterEndpoint, errAbsoluteURL))
		}
	}
	if s.Servicename == "" {
		mErr = multierror.Append(mErr,
			fmt.Errorf(pkg.FlagErr, LocalServicename, pkg.ErrRequired))
	}
	if s.LocalHostport != "" {
		if _, _, err := net.SplitHostPort(s.LocalHostport); err != nil {
			mErr = multierror.Append(mErr,
				fmt.Errorf(pkg.FlagErr, LocalHostport, err))
		}
	}
	if _, err := zipkin.NewBoundarySampler(s.SampleRate, 0); err != nil {
		mErr = multierror.Append(mErr,
			fmt.Errorf(pkg.FlagErr, SampleRate, err))
	}

	return mErr
}

const errAbsoluteURL pkg.Error = "expected an absolute URL"

// PreRun implements run.PreRunner
func (s *Service) PreRun() error {
	ep, err := zipkin.NewEndpoint(s.Servicename, s.LocalHostport)
	if err != nil {
		return err
	}

	salt := time.Now().UnixNano()
	sampler, err := zipkin.NewBoundarySampler(s.SampleRate, salt)
	if err != nil {
		return err
	}

	rep := s.Reporter
	if rep == nil {
		// we create our own reporter
		s.ownsReporter = true
		rep = zrpr.NewReporter(s.Address)
	}

	s.tracer, err = zipkin.NewTracer(
		rep,
		zipkin.WithLocalEndpoint(ep),
		zipkin.WithSharedSpans(!s.SingleHostSpans),
		zipkin.WithSampler(sampler),
		zipkin.WithTags(map[string]string{observability.VersionTag: version.Parse()}),
	)
	if err != nil {
		if s.ownsReporter {
			_ = rep.Close()
		}
		return err
	}

	s.Reporter = rep
	s.closer = make(chan error)

	return nil
}

// Serve implements run.GroupService
func (s *Service) Serve() error {
	return <-s.closer
}

// GracefulStop implements run.GroupService
func (s *Service) GracefulStop() {
	close(s.closer)
	if s.ownsReporter {
		_ = s.Reporter.Close()
	}
}

type remoteParentKey struct{}

type traceAdapter struct {
	delegate *zipkin.Tracer
}

type spanAdapter struct {
	delegate zipkin.Span
	ctx      context.Context
}

// Context implements observability.Span
func (s *spanAdapter) Context() context.Context {
	return s.ctx
}

// TraceID implements observability.Span
func (s *spanAdapter) TraceID() string {
	return s.delegate.Context().TraceID.String()
}

// SetName implements observability.Span
func (s *spanAdapter) SetName(name string) {
	s.delegate.SetName(name)
}

// Tag implements observability.Span
func (s *spanAdapter) Tag(key string, value string) {
	s.delegate.Tag(key, value)
}

// Finish implements observability.Span
func (s *spanAdapter) Finish() {
	s.delegate.Finish()
}

// StartSpanFromContext implements observability.Tracer. A span found in ctx
// takes precedence over a remote parent placed there by Extract.
func (t *traceAdapter) StartSpanFromContext(ctx context.Context, name string, opts ...observability.SpanOption) (observability.Span, error) {
	if t.delegate == nil {
		return nil, observability.ErrNotStarted
	}
	if !observability.IsEnabled(ctx) {
		return observability.NoopSpan(ctx), nil
	}

	cfg := observability.NewStartConfig(opts...)
	zOpts := []zipkin.SpanOption{zipkin.Kind(kind(cfg.Kind))}
	if cfg.Tags.Len() > 0 {
		zOpts = append(zOpts, zipkin.Tags(cfg.Tags.Map()))
	}

	if zipkin.SpanFromContext(ctx) == nil {
		if sc, ok := ctx.Value(remoteParentKey{}).(model.SpanContext); ok {
			span := t.delegate.StartSpan(name, append(zOpts, zipkin.Parent(sc))...)
			return &spanAdapter{span, zipkin.NewContext(ctx, span)}, nil
		}
	}

	span, ctx := t.delegate.StartSpanFromContext(ctx, name, zOpts...)
	return &spanAdapter{span, ctx}, nil
}

// WithEnabled implements observability.Tracer
func (t *traceAdapter) WithEnabled(ctx context.Context, enabled bool) context.Context {
	return observability.WithEnabled(ctx, enabled)
}

func kind(k observability.SpanKind) model.Kind {
	switch k {
	case observability.SpanKindServer:
		return model.Server
	case observability.SpanKindClient:
		return model.Client
	default:
		return model.Undetermined
	}
}

// SpanFromContext implements observability.Contexter
func (s *Service) SpanFromContext(ctx context.Context) observability.Span {
	span := zipkin.SpanFromContext(ctx)
	if span == nil {
		return observability.NoopSpan(ctx)
	}
	return &spanAdapter{span, ctx}
}

// Tracer implements observability.Tracerer
func (s *Service) Tracer() observability.Tracer {
	return &traceAdapter{delegate: s.tracer}
}

// Extract implements observability.Extractor using B3 propagation headers.
// A sampling decision without trace identifiers is still propagated.
func (s *Service) Extract(r *http.Request) context.Context {
	sc, err := b3.ExtractHTTP(r)()
	if err != nil || sc == nil || (sc.TraceID.Empty() && sc.Sampled == nil && !sc.Debug) {
		return r.Context()
	}
	return context.WithValue(r.Context(), remoteParentKey{}, *sc)
}

// Transport implements observability.Transporter
func (s *Service) Transport(transport http.RoundTripper) (http.RoundTripper, error) {
	if s.tracer == nil {
		return nil, observability.ErrNotStarted
	}
	if transport == nil {
		transport = http.DefaultTransport
	}
	traced, err := zmw.NewTransport(s.tracer, zmw.RoundTripper(transport))
	if err != nil {
		return nil, err
	}
	return observability.EnabledTransport(traced, transport), nil
}
