package observability

import (
	"context"
	"fmt"
	"net/http"

	"github.com/tetratelabs/multierror"
	"github.com/tetratelabs/run"

	"github.com/basvanbeek/hubstep/pkg"
)

const (
	ObservabilityInstrumenter = "observability-instrumenter"
	ZipkinInstrumenter        = "zipkin"
	SkywalkingInstrumenter    = "skywalking"
	OtelInstrumenter          = "otel"

	VersionTag = "version"
)

// ErrNotStarted is returned by tracers whose backend has not been initialized
// yet by the run.Group.
const ErrNotStarted pkg.Error = "tracer backend not started"

// Tracerer is an extension interface that observability Services can implement
// to provide tracing functionalities.
type Tracerer interface {
	Tracer() Tracer
}

// Extractor is an extension interface that observability Services can
// implement to pick up a remote parent span from inbound request headers.
type Extractor interface {
	// Extract returns the request's context enriched with the remote parent
	// found in r's headers. If none is found the request context is returned.
	Extract(r *http.Request) context.Context
}

// Transporter is an extension interface that observability Services can implement
// to provide an instrumented http.RoundTripper.
type Transporter interface {
	Transport(transport http.RoundTripper) (http.RoundTripper, error)
}

// Instrumenter is an interface a concrete tracing provider needs to implement.
type Instrumenter interface {
	Tracerer
	Contexter
	Extractor
	Transporter
}

// InstrumenterService is an interface a concrete service tracing provider needs to implement.
type InstrumenterService interface {
	Instrumenter
	run.Config
	run.PreRunner
	run.Service
}

// Service implements run.GroupService
type Service struct {
	ObservabilityInstrumenter string
	Instrumenters             []InstrumenterService

	delegate InstrumenterService
}

// static compile time run interfaces validation
var (
	_ run.Config    = (*Service)(nil)
	_ run.PreRunner = (*Service)(nil)
	_ run.Service   = (*Service)(nil)
	_ Instrumenter  = (*Service)(nil)
)

func supportedInstrumenters() []string {
	return []string{ZipkinInstrumenter, SkywalkingInstrumenter, OtelInstrumenter}
}

// Name implements run.Unit.
func (s *Service) Name() string {
	if s.delegate == nil {
		return ObservabilityInstrumenter
	}
	return fmt.Sprintf("%s[%s]", ObservabilityInstrumenter, s.delegate.Name())
}

// GroupName implements run.Namer and hands the group name to the
// instrumenters that want it.
func (s *Service) GroupName(name string) {
	for _, instrumenter := range s.Instrumenters {
		if n, ok := instrumenter.(run.Namer); ok {
			n.GroupName(name)
		}
	}
}

// FlagSet implements run.Config
func (s *Service) FlagSet() *run.FlagSet {
	flags := run.NewFlagSet("Observability instrumenter config")

	flags.StringVar(
		&s.ObservabilityInstrumenter,
		ObservabilityInstrumenter,
		s.ObservabilityInstrumenter,
		fmt.Sprintf(`Name of the instrumenter to use, one of %v`, supportedInstrumenters()))

	for _, instrumenter := range s.Instrumenters {
		flags.AddFlagSet(instrumenter.FlagSet().FlagSet)
	}
	return flags
}

// Validate implements run.Config. Only the selected instrumenter is validated.
func (s *Service) Validate() error {
	var mErr error

	supported := false
	for _, name := range supportedInstrumenters() {
		if name == s.ObservabilityInstrumenter {
			supported = true
			break
		}
	}
	if !supported {
		mErr = multierror.Append(mErr,
			fmt.Errorf(pkg.FlagErr, ObservabilityInstrumenter,
				fmt.Errorf("instrumenter must be one of %v", supportedInstrumenters())))
	}

	selected := s.selected()
	if selected == nil {
		return multierror.Append(mErr,
			fmt.Errorf("instrumenter %q not provided", s.ObservabilityInstrumenter))
	}
	if err := selected.Validate(); err != nil {
		mErr = multierror.Append(mErr, err)
	}
	return mErr
}

func (s *Service) selected() InstrumenterService {
	for _, instrumenter := range s.Instrumenters {
		if instrumenter.Name() == s.ObservabilityInstrumenter {
			return instrumenter
		}
	}
	return nil
}

// PreRun implements run.PreRunner
func (s *Service) PreRun() error {
	s.delegate = s.selected()
	if s.delegate == nil {
		return fmt.Errorf("instrumenter %q not provided", s.ObservabilityInstrumenter)
	}
	return s.delegate.PreRun()
}

// Serve implements run.GroupService
func (s *Service) Serve() error {
	return s.delegate.Serve()
}

// GracefulStop implements run.GroupService
func (s *Service) GracefulStop() {
	s.delegate.GracefulStop()
}

// Tracer implements observability.Tracerer. Before PreRun the returned Tracer
// fails every span start with ErrNotStarted.
func (s *Service) Tracer() Tracer {
	if s.delegate == nil {
		return notStarted{}
	}
	return s.delegate.Tracer()
}

// SpanFromContext implements observability.Contexter
func (s *Service) SpanFromContext(ctx context.Context) Span {
	if s.delegate == nil {
		return NoopSpan(ctx)
	}
	return s.delegate.SpanFromContext(ctx)
}

// Extract implements observability.Extractor
func (s *Service) Extract(r *http.Request) context.Context {
	if s.delegate == nil {
		return r.Context()
	}
	return s.delegate.Extract(r)
}

// Transport implements observability.Transporter
func (s *Service) Transport(transport http.RoundTripper) (http.RoundTripper, error) {
	if s.delegate == nil {
		return nil, ErrNotStarted
	}
	return s.delegate.Transport(transport)
}

type notStarted struct{}

func (notStarted) StartSpanFromContext(context.Context, string, ...SpanOption) (Span, error) {
	return nil, ErrNotStarted
}

func (notStarted) WithEnabled(ctx context.Context, enabled bool) context.Context {
	return WithEnabled(ctx, enabled)
}
