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

// Package skywalking provides an observability.Instrumenter backed by a
// SkyWalking go2sky tracer.
package skywalking

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"path"

	"github.com/SkyAPM/go2sky"
	go2SkyHttp "github.com/SkyAPM/go2sky/plugins/http"
	"github.com/SkyAPM/go2sky/reporter"
	"github.com/tetratelabs/multierror"
	"github.com/tetratelabs/run"

	"github.com/basvanbeek/hubstep/pkg"
	"github.com/basvanbeek/hubstep/pkg/observability"
)

// flags
const (
	ReporterEndpoint         = "skywalking-reporter-endpoint"
	LocalServicename         = "skywalking-local-servicename"
	LocalServiceInstanceName = "skywalking-local-serviceinstancename"
	SampleRate               = "skywalking-sample-rate"
)

const (
	// default configuration values
	defaultReporterAddr = "oap-skywalking:11800"
	defaultSampleRate   = 1.0

	errSampleRate pkg.Error = "expected a sample rate between 0.0 and 1.0"
)

// Service implements run.GroupService
type Service struct {
	Servicename         string
	ServiceInstanceName string
	Address             string
	SampleRate          float64
	Reporter            go2sky.Reporter

	tracer       *go2sky.Tracer
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
	return observability.SkywalkingInstrumenter
}

// GroupName implements run.Namer so the Skywalking local endpoint service name
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
	if s.ServiceInstanceName == "" {
		s.ServiceInstanceName = s.Servicename
	}
	if s.SampleRate < 0 {
		s.SampleRate = 0.0
	} else if s.SampleRate == 0.0 {
		s.SampleRate = defaultSampleRate
	}

	flags := run.NewFlagSet("Skywalking Tracer Config")

	flags.StringVar(&s.Address, ReporterEndpoint, s.Address,
		`host:port of the Skywalking OAP gRPC collector`)
	flags.StringVar(&s.Servicename, LocalServicename, s.Servicename,
		`Local ServiceName to report`)
	flags.StringVar(&s.ServiceInstanceName, LocalServiceInstanceName, s.ServiceInstanceName,
		`Local ServiceInstanceName to report`)
	flags.Float64Var(&s.SampleRate, SampleRate, s.SampleRate,
		`Skywalking sample rate, between never (0.0) and always (1.0)`)

	return flags
}

// Validate implements run.Config
func (s *Service) Validate() error {
	var mErr error

	if s.Reporter == nil {
		if _, _, err := net.SplitHostPort(s.Address); err != nil {
			mErr = multierror.Append(mErr,
				fmt.Errorf(pkg.FlagErr, ReporterEndpoint, err))
		}
	}
	if s.Servicename == "" {
		mErr = multierror.Append(mErr,
			fmt.Errorf(pkg.FlagErr, LocalServicename, pkg.ErrRequired))
	}
	if s.ServiceInstanceName == "" {
		mErr = multierror.Append(mErr,
			fmt.Errorf(pkg.FlagErr, LocalServiceInstanceName, pkg.ErrRequired))
	}
	if s.SampleRate < 0 || s.SampleRate > 1 {
		mErr = multierror.Append(mErr,
			fmt.Errorf(pkg.FlagErr, SampleRate, errSampleRate))
	}

	return mErr
}

// PreRun implements run.PreRunner
func (s *Service) PreRun() error {
	var err error

	sampler := go2sky.NewRandomSampler(s.SampleRate)

	rep := s.Reporter
	if rep == nil {
		s.ownsReporter = true
		if rep, err = reporter.NewGRPCReporter(s.Address, reporter.WithCheckInterval(0)); err != nil {
			return err
		}
	}

	s.tracer, err = go2sky.NewTracer(s.Servicename,
		go2sky.WithInstance(s.ServiceInstanceName),
		go2sky.WithReporter(rep),
		go2sky.WithCustomSampler(sampler))
	if err != nil {
		if s.ownsReporter {
			rep.Close()
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
		s.Reporter.Close()
	}
}

type headerKey struct{}

type traceAdapter struct {
	delegate *go2sky.Tracer
}

type spanAdapter struct {
	delegate go2sky.Span
	ctx      context.Context
}

// Context implements observability.Span
func (s *spanAdapter) Context() context.Context {
	return s.ctx
}

// TraceID implements observability.Span
func (s *spanAdapter) TraceID() string {
	return go2sky.TraceID(s.ctx)
}

// SetName implements observability.Span
func (s *spanAdapter) SetName(name string) {
	s.delegate.SetOperationName(name)
}

// Tag implements observability.Span
func (s *spanAdapter) Tag(key string, value string) {
	s.delegate.Tag(go2sky.Tag(key), value)
}

// Finish implements observability.Span
func (s *spanAdapter) Finish() {
	s.delegate.End()
}

// StartSpanFromContext implements observability.Tracer. Server spans without
// an active local parent become entry spans continuing the trace found in the
// headers stored by Extract.
func (t *traceAdapter) StartSpanFromContext(ctx context.Context, name string, opts ...observability.SpanOption) (observability.Span, error) {
	if t.delegate == nil {
		return nil, observability.ErrNotStarted
	}
	if !observability.IsEnabled(ctx) {
		return observability.NoopSpan(ctx), nil
	}
	cfg := observability.NewStartConfig(opts...)

	var (
		span go2sky.Span
		err  error
	)
	if cfg.Kind == observability.SpanKindServer && go2sky.ActiveSpan(ctx) == nil {
		header, _ := ctx.Value(headerKey{}).(http.Header)
		span, ctx, err = t.delegate.CreateEntrySpan(ctx, name, func(key string) (string, error) {
			return header.Get(key), nil
		})
	} else {
		span, ctx, err = t.delegate.CreateLocalSpan(ctx, go2sky.WithOperationName(name))
	}
	if err != nil {
		return nil, err
	}

	cfg.Tags.Each(func(key, value string) {
		span.Tag(go2sky.Tag(key), value)
	})
	return &spanAdapter{span, ctx}, nil
}

// WithEnabled implements observability.Tracer
func (t *traceAdapter) WithEnabled(ctx context.Context, enabled bool) context.Context {
	return observability.WithEnabled(ctx, enabled)
}

// SpanFromContext implements observability.Contexter
func (s *Service) SpanFromContext(ctx context.Context) observability.Span {
	span := go2sky.ActiveSpan(ctx)
	if span == nil {
		return observability.NoopSpan(ctx)
	}
	return &spanAdapter{span, ctx}
}

// Tracer implements observability.Tracerer
func (s *Service) Tracer() observability.Tracer {
	return &traceAdapter{s.tracer}
}

// Extract implements observability.Extractor. go2sky reads the propagation
// headers when the entry span is created, so the headers are kept in the
// context until then.
func (s *Service) Extract(r *http.Request) context.Context {
	return context.WithValue(r.Context(), headerKey{}, r.Header)
}

// Transport implements observability.Transporter
func (s *Service) Transport(transport http.RoundTripper) (http.RoundTripper, error) {
	if s.tracer == nil {
		return nil, observability.ErrNotStarted
	}
	if transport == nil {
		transport = http.DefaultTransport
	}
	client, err := go2SkyHttp.NewClient(s.tracer,
		go2SkyHttp.WithClient(&http.Client{Transport: transport}))
	if err != nil {
		return nil, err
	}
	return observability.EnabledTransport(client.Transport, transport), nil
}
